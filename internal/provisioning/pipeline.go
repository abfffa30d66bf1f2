package provisioning

import (
	"context"
	"fmt"
	"time"
)

// Phase names, used in events and metrics.
const (
	phaseResources  = "resources"
	phaseActivation = "activation"
	phaseReadiness  = "readiness"
	phaseTeardown   = "teardown"
	phaseSweep      = "sweep"
)

// phase is one step of provisioning.
type phase struct {
	name string
	run  func(ctx context.Context) error
}

// runPhases executes phases sequentially and stops at the first failure.
func (c *Controller) runPhases(ctx context.Context, phases []phase) error {
	start := c.now()
	for _, p := range phases {
		if err := c.runPhase(ctx, p); err != nil {
			return err
		}
	}
	c.observer.Printf("Provisioning completed in %v", c.now().Sub(start).Round(time.Millisecond))
	return nil
}

func (c *Controller) runPhase(ctx context.Context, p phase) error {
	phaseStart := c.now()
	LogPhaseStart(c.observer, p.name)

	err := p.run(ctx)
	elapsed := c.now().Sub(phaseStart)
	c.metrics.recordPhase(p.name, elapsed.Seconds(), err)
	if err != nil {
		LogPhaseFailed(c.observer, p.name, err)
		return fmt.Errorf("%s phase failed: %w", p.name, err)
	}

	LogPhaseComplete(c.observer, p.name, elapsed)
	return nil
}
