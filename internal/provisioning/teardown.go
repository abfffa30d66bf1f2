package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
	"github.com/imamik/osbastion/internal/util/naming"
	"github.com/imamik/osbastion/internal/util/retry"
)

// TeardownOptions configures Teardown.
type TeardownOptions struct {
	// Sweep also deletes resources found under the bastion's deterministic
	// names that the ledger does not list.
	Sweep bool
	// Name is the bastion to sweep when the ledger does not name one.
	Name string
}

// TeardownReport describes what a teardown did.
type TeardownReport struct {
	State   bastion.State
	Deleted []bastion.Record
	Swept   []bastion.Record
	Leaks   []bastion.Leak
}

// Teardown releases every resource recorded in the ledger, newest first.
// Deletions are retried with backoff; a resource that still cannot be
// deleted is reported as a leak and teardown moves on. The state becomes
// Destroyed only when nothing leaked; otherwise it stays TearingDown and
// the returned error is a *bastion.TeardownError.
//
// An interrupted provisioning run (state Provisioning) is failed first.
func (c *Controller) Teardown(ctx context.Context, opts TeardownOptions) (*TeardownReport, error) {
	name := c.ledger.Document().Bastion
	if name == "" {
		name = opts.Name
	}

	switch c.state {
	case bastion.StateNone, bastion.StateDestroyed:
		// No recorded lifecycle to move; at most a sweep by name.
		report := &TeardownReport{State: c.state}
		if !opts.Sweep || name == "" {
			c.observer.Printf("Nothing to tear down")
			return report, nil
		}
		teardownErr := &bastion.TeardownError{}
		c.sweep(ctx, name, nil, report, teardownErr)
		c.metrics.recordLeaks(len(teardownErr.Leaks))
		report.Leaks = teardownErr.Leaks
		if teardownErr.HasLeaks() {
			return report, teardownErr
		}
		return report, nil
	case bastion.StateProvisioning:
		c.observer.Printf("Ledger shows an interrupted provisioning run, failing it first")
		if err := c.transition(bastion.StateFailed); err != nil {
			return nil, err
		}
	}

	report, err := c.teardown(ctx, name, opts.Sweep)
	c.sync(ctx)
	return report, err
}

// teardown moves to TearingDown and consumes the ledger.
func (c *Controller) teardown(ctx context.Context, name string, sweep bool) (*TeardownReport, error) {
	if err := c.transition(bastion.StateTearingDown); err != nil {
		var te *bastion.TransitionError
		if errors.As(err, &te) {
			return nil, err
		}
		c.observer.Printf("Warning: %v", err)
	}

	start := c.now()
	LogPhaseStart(c.observer, phaseTeardown)

	report := &TeardownReport{}
	teardownErr := &bastion.TeardownError{}
	var ledgerErrs []error

	records := c.ledger.All()
	if sweep && name != "" {
		c.sweep(ctx, name, records, report, teardownErr)
	}

	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if err := c.deleteRecord(ctx, phaseTeardown, rec); err != nil {
			teardownErr.Add(c.leak(phaseTeardown, rec, err))
			continue
		}
		report.Deleted = append(report.Deleted, rec)
		if err := c.ledger.Remove(rec); err != nil {
			ledgerErrs = append(ledgerErrs, fmt.Errorf("failed to remove %s from ledger: %w", rec, err))
		}
	}

	report.Leaks = teardownErr.Leaks
	c.metrics.recordLeaks(len(teardownErr.Leaks))
	elapsed := c.now().Sub(start)

	if teardownErr.HasLeaks() {
		c.metrics.recordPhase(phaseTeardown, elapsed.Seconds(), teardownErr)
		LogPhaseFailed(c.observer, phaseTeardown, teardownErr)
		report.State = c.state
		if len(ledgerErrs) == 0 {
			return report, teardownErr
		}
		return report, errors.Join(append([]error{teardownErr}, ledgerErrs...)...)
	}

	c.metrics.recordPhase(phaseTeardown, elapsed.Seconds(), nil)
	LogPhaseComplete(c.observer, phaseTeardown, elapsed)
	if err := c.transition(bastion.StateDestroyed); err != nil {
		ledgerErrs = append(ledgerErrs, err)
	}
	report.State = c.state
	return report, errors.Join(ledgerErrs...)
}

// sweep deletes resources that carry the bastion's deterministic names
// but are missing from the ledger, e.g. after a crash between create and
// append. Such orphans are always newer than every recorded resource, so
// sweeping them first keeps teardown in reverse creation order.
func (c *Controller) sweep(ctx context.Context, name string, recorded []bastion.Record, report *TeardownReport, teardownErr *bastion.TeardownError) {
	for i := len(bastion.Kinds) - 1; i >= 0; i-- {
		kind := bastion.Kinds[i]
		resourceName := naming.ForKind(name, kind)

		found, err := c.findWithRetry(ctx, kind, resourceName)
		if err != nil {
			teardownErr.Add(c.leak(phaseSweep, bastion.Record{Kind: kind, Name: resourceName}, fmt.Errorf("lookup failed: %w", err)))
			continue
		}
		if found == nil || contains(recorded, *found) {
			continue
		}

		c.observer.Printf("Sweeping orphaned %s", found)
		if err := c.deleteRecord(ctx, phaseSweep, *found); err != nil {
			teardownErr.Add(c.leak(phaseSweep, *found, err))
			continue
		}
		report.Swept = append(report.Swept, *found)
	}
}

func contains(records []bastion.Record, rec bastion.Record) bool {
	for _, r := range records {
		if r.Same(rec) {
			return true
		}
	}
	return false
}

func (c *Controller) findWithRetry(ctx context.Context, kind bastion.Kind, name string) (*bastion.Record, error) {
	var found *bastion.Record
	err := retry.WithExponentialBackoff(ctx, func() error {
		var err error
		found, err = cloud.Find(ctx, c.cloud, kind, name)
		c.metrics.recordResourceOp(kind, "find", err)
		return err
	},
		retry.WithMaxRetries(c.timeouts.DeleteMaxAttempts-1),
		retry.WithInitialDelay(c.timeouts.RetryInitialDelay),
		retry.WithMaxDelay(c.timeouts.RetryMaxDelay),
		retry.WithRetryIf(retryable),
	)
	return found, err
}

// deleteRecord deletes one resource with bounded retries. An absent
// resource counts as deleted.
func (c *Controller) deleteRecord(ctx context.Context, phase string, rec bastion.Record) error {
	LogResourceDeleting(c.observer, phase, rec)

	err := retry.WithExponentialBackoff(ctx, func() error {
		deleteCtx, cancel := context.WithTimeout(ctx, c.timeouts.Delete)
		defer cancel()

		err := cloud.Delete(deleteCtx, c.cloud, rec)
		if bastion.IsNotFound(err) {
			err = nil
		}
		c.metrics.recordResourceOp(rec.Kind, "delete", err)
		return err
	},
		retry.WithMaxRetries(c.timeouts.DeleteMaxAttempts-1),
		retry.WithInitialDelay(c.timeouts.RetryInitialDelay),
		retry.WithMaxDelay(c.timeouts.RetryMaxDelay),
		retry.WithRetryIf(func(err error) bool {
			return !errors.Is(err, bastion.ErrInvalidConfig) && !exhausted(err)
		}),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			c.observer.Printf("Deleting %s failed (attempt %d/%d), retrying in %v: %v",
				rec, attempt, c.timeouts.DeleteMaxAttempts, delay, err)
		}),
	)
	if err != nil {
		return err
	}

	LogResourceDeleted(c.observer, phase, rec)
	return nil
}

// exhausted reports whether err already spent a retry budget in a lower
// layer, such as a throttled client. Retrying it again multiplies attempts.
func exhausted(err error) bool {
	var e *retry.ExhaustedError
	return errors.As(err, &e)
}

func retryable(err error) bool {
	return bastion.IsRetryable(err) && !exhausted(err)
}

func (c *Controller) leak(phase string, rec bastion.Record, err error) bastion.Leak {
	l := bastion.Leak{Record: rec, Attempts: retry.Attempts(err), Err: err}
	var spent *retry.ExhaustedError
	if errors.As(err, &spent) {
		l.Err = spent.Err
	}
	LogResourceLeaked(c.observer, phase, l)
	return l
}
