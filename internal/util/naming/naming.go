package naming

import (
	"fmt"

	"github.com/imamik/osbastion/internal/bastion"
)

func SecurityGroup(name string) string {
	return fmt.Sprintf("%s-sg", name)
}

func Keypair(name string) string {
	return fmt.Sprintf("%s-key", name)
}

func Server(name string) string {
	return name
}

func FloatingIP(name string) string {
	return fmt.Sprintf("%s-fip", name)
}

// ForKind returns the deterministic resource name of the given kind.
func ForKind(name string, kind bastion.Kind) string {
	switch kind {
	case bastion.KindSecurityGroup:
		return SecurityGroup(name)
	case bastion.KindKeypair:
		return Keypair(name)
	case bastion.KindServer:
		return Server(name)
	case bastion.KindFloatingIP:
		return FloatingIP(name)
	default:
		return fmt.Sprintf("%s-%s", name, kind)
	}
}

// LedgerFile is the default ledger file name of a bastion.
func LedgerFile(name string) string {
	return fmt.Sprintf("%s.ledger.json", name)
}

// PrivateKeyFile is the file an ephemeral private key is written to.
func PrivateKeyFile(name string) string {
	return fmt.Sprintf("%s_id", name)
}
