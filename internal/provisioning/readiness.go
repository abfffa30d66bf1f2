package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloudinit"
	"github.com/imamik/osbastion/internal/config"
	"github.com/imamik/osbastion/internal/platform/ssh"
	"github.com/imamik/osbastion/internal/util/netutil"
)

// Prober checks one aspect of bastion readiness. A single call makes a
// single attempt; the controller owns polling.
type Prober interface {
	Name() string
	Probe(ctx context.Context, address string) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc struct {
	ProbeName string
	Fn        func(ctx context.Context, address string) error
}

// Name implements Prober.
func (p ProberFunc) Name() string { return p.ProbeName }

// Probe implements Prober.
func (p ProberFunc) Probe(ctx context.Context, address string) error { return p.Fn(ctx, address) }

// TCPProber succeeds once the port accepts connections.
type TCPProber struct {
	Port        int
	DialTimeout time.Duration
}

// Name implements Prober.
func (p TCPProber) Name() string { return fmt.Sprintf("tcp/%d", p.Port) }

// Probe implements Prober.
func (p TCPProber) Probe(ctx context.Context, address string) error {
	return netutil.CheckPort(ctx, address, p.Port, p.DialTimeout)
}

// CloudInitProber logs in over SSH and succeeds once cloud-init has
// written its completion marker.
type CloudInitProber struct {
	User        string
	PrivateKey  []byte
	Port        int
	DialTimeout time.Duration
}

// Name implements Prober.
func (p CloudInitProber) Name() string { return "cloud-init" }

// Probe implements Prober.
func (p CloudInitProber) Probe(ctx context.Context, address string) error {
	client, err := ssh.NewClient(&ssh.Config{
		Host:        address,
		Port:        p.Port,
		User:        p.User,
		PrivateKey:  p.PrivateKey,
		DialTimeout: p.DialTimeout,
	})
	if err != nil {
		return err
	}
	done, err := client.FileExists(ctx, cloudinit.MarkerPath)
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("cloud-init has not finished (%s missing)", cloudinit.MarkerPath)
	}
	return nil
}

// DefaultProbers returns the TCP probe, followed by the cloud-init probe
// when a private key is available.
func DefaultProbers(t *config.Timeouts, user string, privateKey []byte) []Prober {
	probers := []Prober{TCPProber{Port: config.SSHPort, DialTimeout: t.DialTimeout}}
	if len(privateKey) > 0 && user != "" {
		probers = append(probers, CloudInitProber{
			User:        user,
			PrivateKey:  privateKey,
			Port:        config.SSHPort,
			DialTimeout: t.DialTimeout,
		})
	}
	return probers
}

// waitReady polls every prober at a fixed interval until one full round
// succeeds. Probe failures are swallowed until the budget is spent; then
// the last failure is returned inside a *bastion.ProvisionTimeoutError.
// Cancellation of ctx is returned as is.
func (c *Controller) waitReady(ctx context.Context, address string) error {
	start := c.now()
	deadline, cancel := context.WithTimeout(ctx, c.timeouts.Ready)
	defer cancel()

	var lastErr error
	for round := 1; ; round++ {
		err := c.probeOnce(deadline, address)
		c.metrics.recordProbe(err)
		if err == nil {
			c.observer.Printf("bastion %s ready after %d probe round(s)", address, round)
			return nil
		}
		// A round cut short by the deadline says less than the one before it.
		if deadline.Err() == nil || lastErr == nil {
			lastErr = err
		}
		c.observer.Event(Event{
			Type:     EventProbeFailed,
			Phase:    phaseReadiness,
			Resource: address,
			Message:  "probe failed, retrying",
			Err:      err,
			Fields:   map[string]string{"round": fmt.Sprint(round)},
		})

		select {
		case <-deadline.Done():
		case <-time.After(c.timeouts.ProbeInterval):
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		return &bastion.ProvisionTimeoutError{Elapsed: c.now().Sub(start), LastErr: lastErr}
	}
}

func (c *Controller) probeOnce(ctx context.Context, address string) error {
	for _, p := range c.probers {
		if err := p.Probe(ctx, address); err != nil {
			return fmt.Errorf("%s probe: %w", p.Name(), err)
		}
	}
	return nil
}
