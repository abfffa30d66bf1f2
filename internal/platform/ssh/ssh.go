package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
)

// Config holds SSH client configuration.
type Config struct {
	Host       string
	Port       int
	User       string
	PrivateKey []byte

	// DialTimeout bounds the TCP connect and the SSH handshake.
	DialTimeout time.Duration

	// HostKeyCallback defaults to accepting any key: a bastion generates
	// its host key on first boot.
	HostKeyCallback ssh.HostKeyCallback
}

func (c *Config) validate() error {
	if c == nil {
		return errors.New("ssh: nil config")
	}
	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.User == "" {
		missing = append(missing, "user")
	}
	if len(c.PrivateKey) == 0 {
		missing = append(missing, "private key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("ssh: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) withDefaults() *Config {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.HostKeyCallback == nil {
		c.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // host key unknown before first boot
	}
	return &c
}

// Client runs one-shot commands on a bastion. Every call opens its own
// connection, so a Client stays usable across reboots of the host.
type Client struct {
	config *Config
	signer ssh.Signer
}

// NewClient parses the private key and returns a client. cfg is copied.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("ssh: parse private key: %w", err)
	}
	return &Client{config: cfg.withDefaults(), signer: signer}, nil
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

// Execute runs command and returns its combined output. A non-zero exit
// status is reported as *ssh.ExitError. Cancelling ctx closes the
// connection.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	client, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = client.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh: open session on %s: %w", c.addr(), err)
	}
	defer func() { _ = session.Close() }()

	out, err := session.CombinedOutput(command)
	if err != nil {
		return string(out), fmt.Errorf("ssh: %q on %s: %w", command, c.addr(), err)
	}
	return string(out), nil
}

// FileExists reports whether path is a regular file on the remote host.
func (c *Client) FileExists(ctx context.Context, path string) (bool, error) {
	_, err := c.Execute(ctx, "test -f "+shellQuote(path))
	if err == nil {
		return true, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitStatus() == 1 {
		return false, nil
	}
	return false, err
}

func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	addr := c.addr()
	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh: connect %s: %w", addr, err)
	}

	_ = conn.SetDeadline(time.Now().Add(c.config.DialTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: c.config.HostKeyCallback,
		Timeout:         c.config.DialTimeout,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh: handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
