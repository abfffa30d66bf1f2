package bastion

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for cross-provider error classification.
// Providers wrap these so the lifecycle controller can handle error
// categories uniformly without importing provider SDKs.
var (
	// ErrNotFound indicates the requested resource does not exist.
	// Deletes treat it as success; reads surface it.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidConfig indicates malformed input. It is never retried.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrProvisionTimeout indicates the readiness budget was exhausted.
	ErrProvisionTimeout = errors.New("provision timeout")

	// ErrTeardownLeak indicates at least one resource could not be deleted.
	ErrTeardownLeak = errors.New("teardown leaked resources")
)

// ProviderError is a failed cloud API call.
type ProviderError struct {
	Op         string // e.g. "create", "delete", "get"
	Kind       Kind
	StatusCode int // HTTP status, 0 when unknown (network failure)
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Kind != "" {
		b.WriteString(" ")
		b.WriteString(string(e.Kind))
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is maps HTTP status codes onto the sentinel errors.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// Retryable reports whether the call may succeed if repeated: throttling,
// server-side failures and transport errors without a status code.
func (e *ProviderError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return !errors.Is(e.Err, ErrInvalidConfig)
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode == http.StatusConflict:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidConfig) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

// IsNotFound reports whether err means the resource is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ProvisionTimeoutError is returned when the readiness probe never
// succeeded within its budget. LastErr is the final probe failure.
type ProvisionTimeoutError struct {
	Elapsed time.Duration
	LastErr error
}

func (e *ProvisionTimeoutError) Error() string {
	msg := fmt.Sprintf("bastion not ready after %s", e.Elapsed.Round(time.Second))
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *ProvisionTimeoutError) Unwrap() []error {
	return []error{ErrProvisionTimeout, e.LastErr}
}

// Leak is a resource teardown gave up on. It needs manual cleanup.
type Leak struct {
	Record   Record
	Attempts int
	Err      error
}

// TeardownError aggregates every leak of a teardown.
type TeardownError struct {
	Leaks []Leak
}

func (e *TeardownError) Error() string {
	if len(e.Leaks) == 1 {
		l := e.Leaks[0]
		return fmt.Sprintf("teardown leaked %s after %d attempts: %v", l.Record, l.Attempts, l.Err)
	}
	parts := make([]string, 0, len(e.Leaks))
	for _, l := range e.Leaks {
		parts = append(parts, l.Record.String())
	}
	return fmt.Sprintf("teardown leaked %d resources: %s", len(e.Leaks), strings.Join(parts, ", "))
}

func (e *TeardownError) Unwrap() []error {
	errs := []error{ErrTeardownLeak}
	for _, l := range e.Leaks {
		errs = append(errs, l.Err)
	}
	return errs
}

// Add records a leak.
func (e *TeardownError) Add(l Leak) {
	e.Leaks = append(e.Leaks, l)
}

// HasLeaks reports whether any resource leaked.
func (e *TeardownError) HasLeaks() bool {
	return len(e.Leaks) > 0
}
