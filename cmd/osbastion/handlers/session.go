package handlers

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
	"github.com/imamik/osbastion/internal/config"
	"github.com/imamik/osbastion/internal/ledger"
	"github.com/imamik/osbastion/internal/platform/hcloud"
	"github.com/imamik/osbastion/internal/platform/openstack"
	"github.com/imamik/osbastion/internal/platform/s3"
	"github.com/imamik/osbastion/internal/provisioning"
)

// Factory function variables - can be replaced in tests.
var (
	// newCloudClient builds the provider backend for spec, rate limited
	// and retried per the timeouts.
	newCloudClient = func(ctx context.Context, spec *bastion.Spec, t *config.Timeouts) (cloud.Client, error) {
		var inner cloud.Client
		switch spec.Provider {
		case bastion.ProviderOpenStack:
			c, err := openstack.New(ctx, spec, openstack.WithTimeouts(t))
			if err != nil {
				return nil, err
			}
			inner = c
		case bastion.ProviderHetzner:
			inner = hcloud.New(spec, hcloud.WithTimeouts(t))
		default:
			return nil, fmt.Errorf("%w: unsupported provider %q", bastion.ErrInvalidConfig, spec.Provider)
		}

		return cloud.NewThrottle(inner, cloud.ThrottleConfig{
			Rate:         t.APIRate,
			Burst:        t.APIBurst,
			MaxRetries:   t.DeleteMaxAttempts - 1,
			InitialDelay: t.RetryInitialDelay,
			MaxDelay:     t.RetryMaxDelay,
			OnRetry: func(op string, attempt int, err error, delay time.Duration) {
				logger.V(1).Info("cloud API call failed, backing off",
					"op", op, "attempt", attempt, "delay", delay.String(), "error", err.Error())
			},
		}), nil
	}

	// newMirror builds the remote ledger copy.
	newMirror = func(ctx context.Context, m config.MirrorSettings) (ledger.Mirror, error) {
		return s3.NewClient(ctx, s3.Options{
			Endpoint:  m.Endpoint,
			Region:    m.Region,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			Key:       m.Key,
		})
	}

	// loadTimeouts reads the tunable timeouts.
	loadTimeouts = config.LoadTimeouts

	// isTerminal reports whether the CLI talks to a person.
	isTerminal = func() bool {
		return isatty.IsTerminal(os.Stdin.Fd()) && (isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))
	}
)

// session holds everything one lifecycle command works with.
type session struct {
	spec     *bastion.Spec
	settings *config.Settings
	timeouts *config.Timeouts
	ledger   *ledger.Ledger
	ctrl     *provisioning.Controller
}

// openSession locks the ledger (restoring it from the mirror when
// configured) and builds the controller around the provider backend.
func openSession(ctx context.Context, spec *bastion.Spec, settings *config.Settings, timeouts *config.Timeouts, probers []provisioning.Prober) (*session, error) {
	var opts []ledger.Option
	if settings.Mirror.Enabled() {
		mirror, err := newMirror(ctx, settings.Mirror)
		if err != nil {
			return nil, fmt.Errorf("failed to set up ledger mirror: %w", err)
		}
		opts = append(opts, ledger.WithMirror(mirror))
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeouts.LedgerLock)
	defer cancel()
	l, err := ledger.Open(lockCtx, settings.LedgerPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if loc := l.MirrorLocation(); loc != "" {
		logger.V(1).Info("ledger mirrored", "location", loc)
	}

	client, err := newCloudClient(ctx, spec, timeouts)
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to create %s client: %w", spec.Provider, err)
	}

	ctrlOpts := []provisioning.Option{
		provisioning.WithObserver(newObserver(spec.Name)),
		provisioning.WithMetrics(provisioning.NewMetrics()),
	}
	if probers != nil {
		ctrlOpts = append(ctrlOpts, provisioning.WithProbers(probers...))
	}

	return &session{
		spec:     spec,
		settings: settings,
		timeouts: timeouts,
		ledger:   l,
		ctrl:     provisioning.New(client, l, timeouts, ctrlOpts...),
	}, nil
}

// Close exports metrics and releases the ledger lock.
func (s *session) Close() {
	if path := s.settings.MetricsFile; path != "" {
		if err := s.ctrl.Metrics().WriteTextfile(path); err != nil {
			logger.Error(err, "failed to write metrics", "path", path)
		}
	}
	if err := s.ledger.Close(); err != nil {
		logger.Error(err, "failed to release ledger")
	}
}
