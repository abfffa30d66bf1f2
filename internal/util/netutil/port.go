// Package netutil provides network reachability checks.
package netutil

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// CheckPort makes a single attempt to open a TCP connection to host:port.
// The attempt is bounded by timeout and by ctx.
func CheckPort(ctx context.Context, host string, port int, timeout time.Duration) error {
	if host == "" {
		return fmt.Errorf("no address to probe")
	}
	address := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("port %s not reachable: %w", address, err)
	}
	_ = conn.Close()
	return nil
}
