package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/imamik/osbastion/internal/bastion"
)

// SecurityGroupOpts describes the ingress policy of a bastion.
type SecurityGroupOpts struct {
	Name         string
	Description  string
	IngressCIDRs []string
	Port         int
	Labels       map[string]string
}

// KeypairOpts registers an SSH public key.
type KeypairOpts struct {
	Name      string
	PublicKey string
	Labels    map[string]string
}

// ServerOpts describes the bastion instance.
type ServerOpts struct {
	Name            string
	Image           string
	Flavor          string
	Network         string
	KeyName         string
	SecurityGroupID string
	UserData        string
	Labels          map[string]string
}

// FloatingIPOpts allocates a public address and binds it to the server.
type FloatingIPOpts struct {
	Name            string
	ExternalNetwork string
	ServerID        string
	Labels          map[string]string
}

// Client is the provider API surface used by the lifecycle controller.
//
// Find methods return (nil, nil) when no resource carries the name.
// Delete methods return nil when the resource is already gone.
type Client interface {
	// Provider returns the backend name, e.g. "openstack".
	Provider() string

	FindSecurityGroup(ctx context.Context, name string) (*bastion.Record, error)
	CreateSecurityGroup(ctx context.Context, opts SecurityGroupOpts) (bastion.Record, error)
	DeleteSecurityGroup(ctx context.Context, id string) error
	// EnsureIngressRules adds whichever ingress rules of opts the group
	// lacks. A group adopted by name may predate them.
	EnsureIngressRules(ctx context.Context, id string, opts SecurityGroupOpts) error

	FindKeypair(ctx context.Context, name string) (*bastion.Record, error)
	CreateKeypair(ctx context.Context, opts KeypairOpts) (bastion.Record, error)
	DeleteKeypair(ctx context.Context, id string) error

	FindServer(ctx context.Context, name string) (*bastion.Record, error)
	CreateServer(ctx context.Context, opts ServerOpts) (bastion.Record, error)
	DeleteServer(ctx context.Context, id string) error

	FindFloatingIP(ctx context.Context, name string) (*bastion.Record, error)
	CreateFloatingIP(ctx context.Context, opts FloatingIPOpts) (bastion.Record, error)
	DeleteFloatingIP(ctx context.Context, id string) error

	// WaitUntilActive blocks until the server reports an active status.
	// It fails with a *bastion.ProvisionTimeoutError once timeout elapses
	// and with a *bastion.ProviderError if the server enters an error state.
	WaitUntilActive(ctx context.Context, serverID string, timeout time.Duration) error

	// ServerAddress returns the externally reachable address of a server,
	// preferring its floating IP. It never falls back to a private address;
	// while none is visible yet it fails with a retryable error.
	ServerAddress(ctx context.Context, serverID string) (string, error)
}

// Find looks up a resource of the given kind by its deterministic name.
func Find(ctx context.Context, c Client, kind bastion.Kind, name string) (*bastion.Record, error) {
	switch kind {
	case bastion.KindSecurityGroup:
		return c.FindSecurityGroup(ctx, name)
	case bastion.KindKeypair:
		return c.FindKeypair(ctx, name)
	case bastion.KindServer:
		return c.FindServer(ctx, name)
	case bastion.KindFloatingIP:
		return c.FindFloatingIP(ctx, name)
	}
	return nil, fmt.Errorf("%w: unknown resource kind %q", bastion.ErrInvalidConfig, kind)
}

// Delete removes the resource a ledger record points at.
func Delete(ctx context.Context, c Client, rec bastion.Record) error {
	switch rec.Kind {
	case bastion.KindSecurityGroup:
		return c.DeleteSecurityGroup(ctx, rec.ProviderID)
	case bastion.KindKeypair:
		return c.DeleteKeypair(ctx, rec.ProviderID)
	case bastion.KindServer:
		return c.DeleteServer(ctx, rec.ProviderID)
	case bastion.KindFloatingIP:
		return c.DeleteFloatingIP(ctx, rec.ProviderID)
	}
	return fmt.Errorf("%w: unknown resource kind %q", bastion.ErrInvalidConfig, rec.Kind)
}

// NewRecord stamps a freshly created resource.
func NewRecord(kind bastion.Kind, id, name string) bastion.Record {
	return bastion.Record{
		Kind:       kind,
		ProviderID: id,
		Name:       name,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}
