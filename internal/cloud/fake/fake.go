// Package fake provides an in-memory cloud.Client with fault injection.
package fake

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
)

// Op names a client call for fault injection.
type Op string

// Client calls that can be made to fail.
const (
	OpFind    Op = "find"
	OpCreate  Op = "create"
	OpDelete  Op = "delete"
	OpWait    Op = "wait"
	OpAddress Op = "address"
	OpRules   Op = "rules"
)

type fault struct {
	op    Op
	kind  bastion.Kind
	err   error
	times int // < 0 means forever
	// commit applies the call before returning err, simulating a request
	// whose response was lost.
	commit bool
}

type resource struct {
	rec      bastion.Record
	serverID string // floating IP binding
	ingress  []string
	seq      int
}

// Cloud is an in-memory provider. The zero value is not usable; call New.
type Cloud struct {
	mu        sync.Mutex
	seq       int
	resources map[string]*resource
	faults    []*fault
	calls     []string

	// Address is returned by ServerAddress once a floating IP is bound.
	Address string

	// EnforceDependencies rejects deletes that a real cloud would refuse
	// with 409: a server still holding a floating IP, and a security group
	// or keypair still used by a server.
	EnforceDependencies bool
}

var _ cloud.Client = (*Cloud)(nil)

// New returns an empty cloud.
func New() *Cloud {
	return &Cloud{
		resources: make(map[string]*resource),
		Address:   "203.0.113.10",
	}
}

// Fail makes the next times calls of op on kind return err.
// times < 0 fails every call.
func (c *Cloud) Fail(op Op, kind bastion.Kind, err error, times int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, &fault{op: op, kind: kind, err: err, times: times})
}

// FailAfterCreate makes the next create of kind succeed on the provider
// but return err to the caller.
func (c *Cloud) FailAfterCreate(kind bastion.Kind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, &fault{op: OpCreate, kind: kind, err: err, times: 1, commit: true})
}

// Seed creates a resource directly, bypassing faults and the call log.
func (c *Cloud) Seed(kind bastion.Kind, name string) bastion.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.add(kind, name, "")
}

// IngressCIDRs returns the ingress sources of a security group.
func (c *Cloud) IngressCIDRs(id string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.resources[id]; ok {
		return append([]string(nil), r.ingress...)
	}
	return nil
}

// Calls returns the log of calls, e.g. "create server".
func (c *Cloud) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Resources returns every live resource in creation order.
func (c *Cloud) Resources() []bastion.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := make([]*resource, 0, len(c.resources))
	for _, r := range c.resources {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	out := make([]bastion.Record, 0, len(all))
	for _, r := range all {
		out = append(out, r.rec)
	}
	return out
}

// Count returns the number of live resources of kind.
func (c *Cloud) Count(kind bastion.Kind) int {
	n := 0
	for _, r := range c.Resources() {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

func (c *Cloud) Provider() string { return "fake" }

// injected returns the fault for a call, consuming one use of it.
func (c *Cloud) injected(op Op, kind bastion.Kind) *fault {
	for i, f := range c.faults {
		if f.op != op || f.kind != kind {
			continue
		}
		if f.times > 0 {
			f.times--
			if f.times == 0 {
				c.faults = append(c.faults[:i], c.faults[i+1:]...)
			}
		}
		return f
	}
	return nil
}

func (c *Cloud) add(kind bastion.Kind, name, serverID string) bastion.Record {
	c.seq++
	id := fmt.Sprintf("%s-%04d", kind, c.seq)
	rec := cloud.NewRecord(kind, id, name)
	c.resources[id] = &resource{rec: rec, serverID: serverID, seq: c.seq}
	return rec
}

func (c *Cloud) find(kind bastion.Kind, name string) (*bastion.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf("find %s", kind))
	if f := c.injected(OpFind, kind); f != nil {
		return nil, f.err
	}
	for _, r := range c.resources {
		if r.rec.Kind == kind && r.rec.Name == name {
			rec := r.rec
			return &rec, nil
		}
	}
	return nil, nil
}

func (c *Cloud) create(kind bastion.Kind, name, serverID string) (bastion.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf("create %s", kind))
	if f := c.injected(OpCreate, kind); f != nil {
		if f.commit {
			c.add(kind, name, serverID)
		}
		return bastion.Record{}, f.err
	}
	if serverID != "" {
		if _, ok := c.resources[serverID]; !ok {
			return bastion.Record{}, &bastion.ProviderError{Op: "create", Kind: kind, StatusCode: http.StatusNotFound, Err: fmt.Errorf("server %s not found", serverID)}
		}
	}
	return c.add(kind, name, serverID), nil
}

func (c *Cloud) delete(kind bastion.Kind, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf("delete %s", kind))
	if f := c.injected(OpDelete, kind); f != nil {
		return f.err
	}
	r, ok := c.resources[id]
	if !ok || r.rec.Kind != kind {
		return nil
	}
	if c.EnforceDependencies {
		if err := c.inUse(r); err != nil {
			return err
		}
	}
	delete(c.resources, id)
	return nil
}

func (c *Cloud) inUse(r *resource) error {
	for _, other := range c.resources {
		var blocked bool
		switch r.rec.Kind {
		case bastion.KindServer:
			blocked = other.rec.Kind == bastion.KindFloatingIP && other.serverID == r.rec.ProviderID
		case bastion.KindSecurityGroup, bastion.KindKeypair:
			blocked = other.rec.Kind == bastion.KindServer
		}
		if blocked {
			return &bastion.ProviderError{
				Op:         "delete",
				Kind:       r.rec.Kind,
				StatusCode: http.StatusConflict,
				Err:        fmt.Errorf("%s is in use by %s", r.rec.ProviderID, other.rec.ProviderID),
			}
		}
	}
	return nil
}

func (c *Cloud) FindSecurityGroup(_ context.Context, name string) (*bastion.Record, error) {
	return c.find(bastion.KindSecurityGroup, name)
}

func (c *Cloud) CreateSecurityGroup(_ context.Context, opts cloud.SecurityGroupOpts) (bastion.Record, error) {
	rec, err := c.create(bastion.KindSecurityGroup, opts.Name, "")
	if err == nil {
		c.mu.Lock()
		c.resources[rec.ProviderID].ingress = append([]string(nil), opts.IngressCIDRs...)
		c.mu.Unlock()
	}
	return rec, err
}

func (c *Cloud) EnsureIngressRules(_ context.Context, id string, opts cloud.SecurityGroupOpts) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "rules security_group")
	if f := c.injected(OpRules, bastion.KindSecurityGroup); f != nil {
		return f.err
	}
	r, ok := c.resources[id]
	if !ok || r.rec.Kind != bastion.KindSecurityGroup {
		return &bastion.ProviderError{Op: "ensure rules", Kind: bastion.KindSecurityGroup, StatusCode: http.StatusNotFound, Err: fmt.Errorf("security group %s not found", id)}
	}
	for _, cidr := range opts.IngressCIDRs {
		if !slices.Contains(r.ingress, cidr) {
			r.ingress = append(r.ingress, cidr)
		}
	}
	return nil
}

func (c *Cloud) DeleteSecurityGroup(_ context.Context, id string) error {
	return c.delete(bastion.KindSecurityGroup, id)
}

func (c *Cloud) FindKeypair(_ context.Context, name string) (*bastion.Record, error) {
	return c.find(bastion.KindKeypair, name)
}

func (c *Cloud) CreateKeypair(_ context.Context, opts cloud.KeypairOpts) (bastion.Record, error) {
	return c.create(bastion.KindKeypair, opts.Name, "")
}

func (c *Cloud) DeleteKeypair(_ context.Context, id string) error {
	return c.delete(bastion.KindKeypair, id)
}

func (c *Cloud) FindServer(_ context.Context, name string) (*bastion.Record, error) {
	return c.find(bastion.KindServer, name)
}

func (c *Cloud) CreateServer(_ context.Context, opts cloud.ServerOpts) (bastion.Record, error) {
	return c.create(bastion.KindServer, opts.Name, "")
}

func (c *Cloud) DeleteServer(_ context.Context, id string) error {
	return c.delete(bastion.KindServer, id)
}

func (c *Cloud) FindFloatingIP(_ context.Context, name string) (*bastion.Record, error) {
	return c.find(bastion.KindFloatingIP, name)
}

func (c *Cloud) CreateFloatingIP(_ context.Context, opts cloud.FloatingIPOpts) (bastion.Record, error) {
	return c.create(bastion.KindFloatingIP, opts.Name, opts.ServerID)
}

func (c *Cloud) DeleteFloatingIP(_ context.Context, id string) error {
	return c.delete(bastion.KindFloatingIP, id)
}

func (c *Cloud) WaitUntilActive(ctx context.Context, serverID string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "wait server")
	if f := c.injected(OpWait, bastion.KindServer); f != nil {
		return f.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := c.resources[serverID]; !ok {
		return &bastion.ProviderError{Op: "wait", Kind: bastion.KindServer, StatusCode: http.StatusNotFound, Err: fmt.Errorf("server %s not found", serverID)}
	}
	return nil
}

func (c *Cloud) ServerAddress(_ context.Context, serverID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "address server")
	if f := c.injected(OpAddress, bastion.KindServer); f != nil {
		return "", f.err
	}
	for _, r := range c.resources {
		if r.rec.Kind == bastion.KindFloatingIP && r.serverID == serverID {
			return c.Address, nil
		}
	}
	return "", &bastion.ProviderError{Op: "get address", Kind: bastion.KindServer, StatusCode: http.StatusNotFound, Err: fmt.Errorf("server %s has no floating ip", serverID)}
}
