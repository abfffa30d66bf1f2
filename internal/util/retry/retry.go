package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// RetryIf decides whether a non-fatal error is retried. Nil retries everything.
	RetryIf func(error) bool

	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Option is a functional option for retry configuration.
type Option func(*Config)

func defaults() *Config {
	return &Config{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// WithExponentialBackoff runs operation until it succeeds, returns a fatal
// error, or MaxRetries retries have been spent. The delay starts at
// InitialDelay and grows by Multiplier up to MaxDelay. Cancelling ctx
// aborts the wait between attempts.
//
// Errors wrapped with Fatal() or rejected by RetryIf are not retried.
func WithExponentialBackoff(ctx context.Context, operation func() error, opts ...Option) error {
	cfg := defaults()
	for _, opt := range opts {
		opt(cfg)
	}
	total := max(cfg.MaxRetries, 0) + 1

	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		err := operation()
		switch {
		case err == nil:
			return nil
		case IsFatal(err):
			return fmt.Errorf("not retrying: %w", err)
		case cfg.RetryIf != nil && !cfg.RetryIf(err):
			return Fatal(err)
		case attempt == total:
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		if werr := wait(ctx, delay); werr != nil {
			return fmt.Errorf("cancelled after %d attempts: %w", attempt, errors.Join(werr, err))
		}
		delay = cfg.next(delay)
	}
}

func (c *Config) next(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * c.Multiplier)
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WithMaxRetries sets how many retries follow the first attempt.
func WithMaxRetries(n int) Option {
	return func(c *Config) { c.MaxRetries = n }
}

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) { c.InitialDelay = d }
}

// WithMaxDelay caps the delay between retries.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) { c.MaxDelay = d }
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(c *Config) { c.Multiplier = m }
}

// WithRetryIf only retries errors accepted by pred; others are returned as fatal.
func WithRetryIf(pred func(error) bool) Option {
	return func(c *Config) { c.RetryIf = pred }
}

// WithOnRetry registers a hook invoked before each backoff sleep.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// FatalError marks an error that must not be retried.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks err as non-retryable. Fatal(nil) is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fatalErr *FatalError
	return errors.As(err, &fatalErr)
}

// Attempts returns how many attempts an exhausted retry loop made, or 1
// when err did not come from an exhausted loop.
func Attempts(err error) int {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	return 1
}
