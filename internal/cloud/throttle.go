package cloud

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/util/retry"
)

// ThrottleConfig bounds the request rate and transient-error retries of a client.
type ThrottleConfig struct {
	Rate         float64 // requests per second; <= 0 disables limiting
	Burst        int
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// OnRetry observes each backoff, e.g. for logging.
	OnRetry func(op string, attempt int, err error, delay time.Duration)
}

// Throttle wraps a Client with a token bucket and bounded exponential retry.
//
// Reads are retried on any transient provider error. Creates and deletes
// are only retried when the provider rejected the request outright (HTTP
// 429): a failed create may still have created the resource, and both
// mutations already run under the controller's own bounded retry, which
// owns their attempt budget.
type Throttle struct {
	inner   Client
	limiter *rate.Limiter
	cfg     ThrottleConfig
}

var _ Client = (*Throttle)(nil)

// NewThrottle wraps inner.
func NewThrottle(inner Client, cfg ThrottleConfig) *Throttle {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
		cfg:     cfg,
	}
}

// Unwrap returns the wrapped client.
func (t *Throttle) Unwrap() Client { return t.inner }

func (t *Throttle) Provider() string { return t.inner.Provider() }

func (t *Throttle) do(ctx context.Context, op string, retryIf func(error) bool, fn func() error) error {
	return retry.WithExponentialBackoff(ctx, func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return retry.Fatal(err)
		}
		return fn()
	},
		retry.WithMaxRetries(t.cfg.MaxRetries),
		retry.WithInitialDelay(t.cfg.InitialDelay),
		retry.WithMaxDelay(t.cfg.MaxDelay),
		retry.WithRetryIf(retryIf),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			if t.cfg.OnRetry != nil {
				t.cfg.OnRetry(op, attempt, err, delay)
			}
		}),
	)
}

func rejected(err error) bool {
	return errors.Is(err, bastion.ErrRateLimited)
}

func find(t *Throttle, ctx context.Context, op string, fn func() (*bastion.Record, error)) (*bastion.Record, error) {
	var rec *bastion.Record
	err := t.do(ctx, op, bastion.IsRetryable, func() error {
		var err error
		rec, err = fn()
		return err
	})
	return rec, unwrapRetry(err)
}

func create(t *Throttle, ctx context.Context, op string, fn func() (bastion.Record, error)) (bastion.Record, error) {
	var rec bastion.Record
	err := t.do(ctx, op, rejected, func() error {
		var err error
		rec, err = fn()
		return err
	})
	return rec, unwrapRetry(err)
}

func (t *Throttle) del(ctx context.Context, op string, fn func() error) error {
	return unwrapRetry(t.do(ctx, op, rejected, fn))
}

// unwrapRetry strips the retry package's fatal marker so callers see the
// provider error chain unchanged.
func unwrapRetry(err error) error {
	var fatal *retry.FatalError
	if errors.As(err, &fatal) && err == error(fatal) {
		return fatal.Err
	}
	return err
}

func (t *Throttle) FindSecurityGroup(ctx context.Context, name string) (*bastion.Record, error) {
	return find(t, ctx, "find security group", func() (*bastion.Record, error) {
		return t.inner.FindSecurityGroup(ctx, name)
	})
}

func (t *Throttle) CreateSecurityGroup(ctx context.Context, opts SecurityGroupOpts) (bastion.Record, error) {
	return create(t, ctx, "create security group", func() (bastion.Record, error) {
		return t.inner.CreateSecurityGroup(ctx, opts)
	})
}

func (t *Throttle) DeleteSecurityGroup(ctx context.Context, id string) error {
	return t.del(ctx, "delete security group", func() error {
		return t.inner.DeleteSecurityGroup(ctx, id)
	})
}

// EnsureIngressRules only adds what is missing, so any transient failure
// is retried.
func (t *Throttle) EnsureIngressRules(ctx context.Context, id string, opts SecurityGroupOpts) error {
	return unwrapRetry(t.do(ctx, "ensure security group rules", bastion.IsRetryable, func() error {
		return t.inner.EnsureIngressRules(ctx, id, opts)
	}))
}

func (t *Throttle) FindKeypair(ctx context.Context, name string) (*bastion.Record, error) {
	return find(t, ctx, "find keypair", func() (*bastion.Record, error) {
		return t.inner.FindKeypair(ctx, name)
	})
}

func (t *Throttle) CreateKeypair(ctx context.Context, opts KeypairOpts) (bastion.Record, error) {
	return create(t, ctx, "create keypair", func() (bastion.Record, error) {
		return t.inner.CreateKeypair(ctx, opts)
	})
}

func (t *Throttle) DeleteKeypair(ctx context.Context, id string) error {
	return t.del(ctx, "delete keypair", func() error {
		return t.inner.DeleteKeypair(ctx, id)
	})
}

func (t *Throttle) FindServer(ctx context.Context, name string) (*bastion.Record, error) {
	return find(t, ctx, "find server", func() (*bastion.Record, error) {
		return t.inner.FindServer(ctx, name)
	})
}

func (t *Throttle) CreateServer(ctx context.Context, opts ServerOpts) (bastion.Record, error) {
	return create(t, ctx, "create server", func() (bastion.Record, error) {
		return t.inner.CreateServer(ctx, opts)
	})
}

func (t *Throttle) DeleteServer(ctx context.Context, id string) error {
	return t.del(ctx, "delete server", func() error {
		return t.inner.DeleteServer(ctx, id)
	})
}

func (t *Throttle) FindFloatingIP(ctx context.Context, name string) (*bastion.Record, error) {
	return find(t, ctx, "find floating ip", func() (*bastion.Record, error) {
		return t.inner.FindFloatingIP(ctx, name)
	})
}

func (t *Throttle) CreateFloatingIP(ctx context.Context, opts FloatingIPOpts) (bastion.Record, error) {
	return create(t, ctx, "create floating ip", func() (bastion.Record, error) {
		return t.inner.CreateFloatingIP(ctx, opts)
	})
}

func (t *Throttle) DeleteFloatingIP(ctx context.Context, id string) error {
	return t.del(ctx, "delete floating ip", func() error {
		return t.inner.DeleteFloatingIP(ctx, id)
	})
}

// WaitUntilActive polls on its own schedule; only the first call is rate limited.
func (t *Throttle) WaitUntilActive(ctx context.Context, serverID string, timeout time.Duration) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.inner.WaitUntilActive(ctx, serverID, timeout)
}

// ServerAddress is polled by the controller until a floating address shows
// up, so only rate-limit rejections are retried here.
func (t *Throttle) ServerAddress(ctx context.Context, serverID string) (string, error) {
	var addr string
	err := t.do(ctx, "get server address", rejected, func() error {
		var err error
		addr, err = t.inner.ServerAddress(ctx, serverID)
		return err
	})
	return addr, unwrapRetry(err)
}
