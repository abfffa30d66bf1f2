package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
	"github.com/imamik/osbastion/internal/config"
	"github.com/imamik/osbastion/internal/ledger"
	"github.com/imamik/osbastion/internal/util/labels"
	"github.com/imamik/osbastion/internal/util/naming"
	"github.com/imamik/osbastion/internal/util/retry"
)

// Ledger is the durable record the controller drives. *ledger.Ledger
// implements it; every mutation must be flushed before it returns.
type Ledger interface {
	Document() ledger.Document
	State() bastion.State
	All() []bastion.Record
	Append(rec bastion.Record) error
	Remove(rec bastion.Record) error
	SetState(s bastion.State) error
	Update(fn func(*ledger.Document)) error
	Sync(ctx context.Context) error
}

// Controller is the lifecycle state machine of one bastion.
type Controller struct {
	cloud    cloud.Client
	ledger   Ledger
	timeouts *config.Timeouts
	observer Observer
	metrics  *Metrics
	probers  []Prober
	now      func() time.Time

	state bastion.State
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver sets the event sink. The default discards events.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

// WithMetrics records lifecycle metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithProbers replaces the readiness probes.
func WithProbers(p ...Prober) Option {
	return func(c *Controller) {
		c.probers = p
	}
}

// WithClock overrides the time source (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates a controller resuming from the state persisted in l.
func New(client cloud.Client, l Ledger, timeouts *config.Timeouts, opts ...Option) *Controller {
	c := &Controller{
		cloud:    client,
		ledger:   l,
		timeouts: timeouts,
		observer: DiscardObserver(),
		metrics:  NewMetrics(),
		now:      time.Now,
		state:    l.State(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.probers == nil {
		c.probers = DefaultProbers(timeouts, "", nil)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() bastion.State {
	return c.state
}

// Metrics returns the metrics the controller records into.
func (c *Controller) Metrics() *Metrics {
	return c.metrics
}

// Request is the input of Provision.
type Request struct {
	Spec     *bastion.Spec
	UserData string
	// PrivateKeyPath is recorded in the ledger when the key pair was
	// generated for this run.
	PrivateKeyPath string
}

// Result describes a ready bastion.
type Result struct {
	State     bastion.State
	Address   string
	ServerID  string
	Resources []bastion.Record
	// AlreadyReady is set when the ledger was Ready before the call.
	AlreadyReady bool
}

// transition moves the state machine and persists the new state. Illegal
// moves fail with *bastion.TransitionError and change nothing. A
// persistence failure is returned after the in-memory state has moved, so
// cleanup can proceed even when the ledger becomes unwritable.
func (c *Controller) transition(to bastion.State) error {
	from := c.state
	if !from.CanTransition(to) {
		return &bastion.TransitionError{From: from, To: to}
	}
	c.state = to
	c.metrics.recordState(to)
	if from != to {
		LogStateChanged(c.observer, from, to)
	}
	if err := c.ledger.SetState(to); err != nil {
		return fmt.Errorf("failed to persist state %s: %w", to, err)
	}
	return nil
}

// Provision drives the bastion to Ready. Resources already recorded in a
// Provisioning ledger, or found under their deterministic names, are
// adopted rather than created again. On any failure the controller moves
// to Failed and tears down everything it recorded; the returned
// *ProvisionError carries both outcomes.
func (c *Controller) Provision(ctx context.Context, req Request) (*Result, error) {
	spec := req.Spec
	if spec == nil {
		return nil, fmt.Errorf("%w: no bastion spec", bastion.ErrInvalidConfig)
	}
	if strings.TrimSpace(spec.SSHPublicKey) == "" {
		return nil, fmt.Errorf("%w: an SSH public key is required", bastion.ErrInvalidConfig)
	}

	doc := c.ledger.Document()
	if doc.Bastion != "" && doc.Bastion != spec.Name && c.state != bastion.StateDestroyed {
		return nil, fmt.Errorf("%w: ledger belongs to bastion %q, not %q", bastion.ErrInvalidConfig, doc.Bastion, spec.Name)
	}
	if c.state == bastion.StateReady {
		c.observer.Printf("Bastion %s is already ready at %s", spec.Name, doc.Address)
		return c.result(true), nil
	}

	rerun := c.state == bastion.StateDestroyed
	if err := c.transition(bastion.StateProvisioning); err != nil {
		return nil, err
	}
	if err := c.ledger.Update(func(d *ledger.Document) {
		if rerun {
			d.RunID = uuid.NewString()
			d.CreatedAt = c.now().UTC()
		}
		d.Bastion = spec.Name
		d.Provider = c.cloud.Provider()
		d.Region = spec.Region
		d.Address = ""
		if req.PrivateKeyPath != "" {
			d.PrivateKeyPath = req.PrivateKeyPath
		}
	}); err != nil {
		return nil, c.fail(ctx, spec.Name, fmt.Errorf("failed to write ledger: %w", err))
	}

	var server bastion.Record
	var address string
	err := c.runPhases(ctx, []phase{
		{name: phaseResources, run: func(ctx context.Context) error {
			var err error
			server, err = c.createResources(ctx, req)
			return err
		}},
		{name: phaseActivation, run: func(ctx context.Context) error {
			if err := c.cloud.WaitUntilActive(ctx, server.ProviderID, c.timeouts.ServerActive); err != nil {
				return err
			}
			_, err := c.ensure(ctx, bastion.KindFloatingIP, naming.FloatingIP(spec.Name), func(ctx context.Context, name string) (bastion.Record, error) {
				return c.cloud.CreateFloatingIP(ctx, cloud.FloatingIPOpts{
					Name:            name,
					ExternalNetwork: spec.ExternalNetwork,
					ServerID:        server.ProviderID,
					Labels:          c.labels(spec, bastion.KindFloatingIP),
				})
			})
			if err != nil {
				return err
			}
			address, err = c.serverAddress(ctx, server.ProviderID)
			if err != nil {
				return err
			}
			return c.ledger.Update(func(d *ledger.Document) { d.Address = address })
		}},
		{name: phaseReadiness, run: func(ctx context.Context) error {
			return c.waitReady(ctx, address)
		}},
	})
	if err != nil {
		return nil, c.fail(ctx, spec.Name, err)
	}
	if err := c.transition(bastion.StateReady); err != nil {
		return nil, c.fail(ctx, spec.Name, err)
	}
	c.sync(ctx)
	return c.result(false), nil
}

func (c *Controller) createResources(ctx context.Context, req Request) (bastion.Record, error) {
	spec := req.Spec

	sgOpts := cloud.SecurityGroupOpts{
		Name:         naming.SecurityGroup(spec.Name),
		Description:  fmt.Sprintf("SSH ingress for bastion %s", spec.Name),
		IngressCIDRs: spec.IngressCIDRs(),
		Port:         config.SSHPort,
		Labels:       c.labels(spec, bastion.KindSecurityGroup),
	}
	sg, err := c.ensure(ctx, bastion.KindSecurityGroup, sgOpts.Name, func(ctx context.Context, _ string) (bastion.Record, error) {
		return c.cloud.CreateSecurityGroup(ctx, sgOpts)
	})
	if err != nil {
		return bastion.Record{}, err
	}
	// The group may have been adopted from an earlier run or another tool.
	if err := c.cloud.EnsureIngressRules(ctx, sg.ProviderID, sgOpts); err != nil {
		return bastion.Record{}, fmt.Errorf("failed to ensure ingress rules of %s: %w", sg, err)
	}

	kp, err := c.ensure(ctx, bastion.KindKeypair, naming.Keypair(spec.Name), func(ctx context.Context, name string) (bastion.Record, error) {
		return c.cloud.CreateKeypair(ctx, cloud.KeypairOpts{
			Name:      name,
			PublicKey: strings.TrimSpace(spec.SSHPublicKey),
			Labels:    c.labels(spec, bastion.KindKeypair),
		})
	})
	if err != nil {
		return bastion.Record{}, err
	}

	return c.ensure(ctx, bastion.KindServer, naming.Server(spec.Name), func(ctx context.Context, name string) (bastion.Record, error) {
		return c.cloud.CreateServer(ctx, cloud.ServerOpts{
			Name:            name,
			Image:           spec.Image,
			Flavor:          spec.Flavor,
			Network:         spec.Network,
			KeyName:         kp.ProviderID,
			SecurityGroupID: sg.ProviderID,
			UserData:        req.UserData,
			Labels:          c.labels(spec, bastion.KindServer),
		})
	})
}

func (c *Controller) labels(spec *bastion.Spec, kind bastion.Kind) map[string]string {
	return labels.NewLabelBuilder(spec.Name).
		WithRunID(c.ledger.Document().RunID).
		WithKind(string(kind)).
		Merge(spec.Tags).
		Build()
}

// ensure returns the resource carrying the deterministic name, creating it
// when absent, and records it in the ledger. A retryable failure is
// followed by a fresh lookup before the next attempt: a create whose
// response was lost may still have succeeded, and the lookup adopts it.
func (c *Controller) ensure(
	ctx context.Context,
	kind bastion.Kind,
	name string,
	create func(ctx context.Context, name string) (bastion.Record, error),
) (bastion.Record, error) {
	var rec bastion.Record
	err := retry.WithExponentialBackoff(ctx, func() error {
		found, err := cloud.Find(ctx, c.cloud, kind, name)
		c.metrics.recordResourceOp(kind, "find", err)
		if err != nil {
			return err
		}
		if err := c.dropStale(kind, name, found); err != nil {
			return retry.Fatal(err)
		}
		if found != nil {
			rec = *found
			LogResourceExists(c.observer, phaseResources, rec)
			return nil
		}

		LogResourceCreating(c.observer, phaseResources, kind, name)
		created, err := create(ctx, name)
		c.metrics.recordResourceOp(kind, "create", err)
		if err != nil {
			return err
		}
		rec = created
		LogResourceCreated(c.observer, phaseResources, rec)
		return nil
	},
		retry.WithMaxRetries(c.timeouts.CreateMaxAttempts-1),
		retry.WithInitialDelay(c.timeouts.RetryInitialDelay),
		retry.WithMaxDelay(c.timeouts.RetryMaxDelay),
		retry.WithRetryIf(retryable),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			c.observer.Printf("Creating %s %s failed (attempt %d/%d), retrying in %v: %v",
				kind, name, attempt, c.timeouts.CreateMaxAttempts, delay, err)
		}),
	)
	if err != nil {
		LogResourceFailed(c.observer, phaseResources, kind, name, err)
		return bastion.Record{}, fmt.Errorf("failed to ensure %s %s: %w", kind, name, err)
	}

	if err := c.ledger.Append(rec); err != nil {
		return bastion.Record{}, fmt.Errorf("failed to record %s in ledger: %w", rec, err)
	}
	return rec, nil
}

// serverAddress looks up the floating address of a server. The provider
// may report the binding a moment after the floating IP exists, so a
// retryable miss is polled within the create budget.
func (c *Controller) serverAddress(ctx context.Context, serverID string) (string, error) {
	var address string
	err := retry.WithExponentialBackoff(ctx, func() error {
		var err error
		address, err = c.cloud.ServerAddress(ctx, serverID)
		return err
	},
		retry.WithMaxRetries(c.timeouts.CreateMaxAttempts-1),
		retry.WithInitialDelay(c.timeouts.RetryInitialDelay),
		retry.WithMaxDelay(c.timeouts.RetryMaxDelay),
		retry.WithRetryIf(retryable),
	)
	if err != nil {
		return "", fmt.Errorf("failed to get address of server %s: %w", serverID, err)
	}
	return address, nil
}

// dropStale removes ledger entries for name that no longer match what the
// provider reports, e.g. a resource deleted out of band after a crash.
func (c *Controller) dropStale(kind bastion.Kind, name string, found *bastion.Record) error {
	for _, r := range c.ledger.All() {
		if r.Kind != kind || r.Name != name {
			continue
		}
		if found != nil && r.Same(*found) {
			continue
		}
		c.observer.Printf("Dropping stale ledger entry %s", r)
		if err := c.ledger.Remove(r); err != nil {
			return err
		}
	}
	return nil
}

// fail moves to Failed, tears down what the ledger holds and reports both.
func (c *Controller) fail(ctx context.Context, name string, cause error) error {
	if errors.Is(cause, context.Canceled) {
		c.observer.Printf("Provisioning of %s cancelled, cleaning up", name)
	}
	if err := c.transition(bastion.StateFailed); err != nil {
		cause = errors.Join(cause, err)
	}

	// Cleanup must run even when the caller's context is already done.
	budget := c.timeouts.Delete * time.Duration(len(bastion.Kinds)+1)
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
	defer cancel()

	_, tdErr := c.teardown(cleanupCtx, name, true)
	c.sync(cleanupCtx)
	return &ProvisionError{Err: cause, Teardown: tdErr}
}

func (c *Controller) result(alreadyReady bool) *Result {
	doc := c.ledger.Document()
	res := &Result{
		State:        c.state,
		Address:      doc.Address,
		Resources:    doc.Resources,
		AlreadyReady: alreadyReady,
	}
	for _, r := range doc.Resources {
		if r.Kind == bastion.KindServer {
			res.ServerID = r.ProviderID
		}
	}
	return res
}

// sync mirrors the ledger. A mirror failure does not change the outcome of
// the run: the local ledger is authoritative.
func (c *Controller) sync(ctx context.Context) {
	if err := c.ledger.Sync(ctx); err != nil {
		c.observer.Printf("Warning: %v", err)
	}
}
