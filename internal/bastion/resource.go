package bastion

import (
	"fmt"
	"time"
)

// Kind identifies the type of a cloud resource owned by a bastion.
type Kind string

// Resource kinds in creation order.
const (
	KindSecurityGroup Kind = "security_group"
	KindKeypair       Kind = "keypair"
	KindServer        Kind = "server"
	KindFloatingIP    Kind = "floating_ip"
)

// Kinds lists every resource kind in the order a bastion creates them.
var Kinds = []Kind{KindSecurityGroup, KindKeypair, KindServer, KindFloatingIP}

// Valid reports whether k is a known resource kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Record describes one cloud resource created by a run.
// It carries everything teardown needs, so no external lookup is required.
type Record struct {
	Kind       Kind      `json:"kind"`
	ProviderID string    `json:"provider_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Same reports whether two records refer to the same provider resource.
func (r Record) Same(other Record) bool {
	return r.Kind == other.Kind && r.ProviderID == other.ProviderID
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s (%s)", r.Kind, r.Name, r.ProviderID)
}
