package naming

import (
	"testing"

	"github.com/imamik/osbastion/internal/bastion"
)

func TestNamingFunctions(t *testing.T) {
	t.Parallel()
	name := "ci-bastion"

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"SecurityGroup", SecurityGroup(name), "ci-bastion-sg"},
		{"Keypair", Keypair(name), "ci-bastion-key"},
		{"Server", Server(name), "ci-bastion"},
		{"FloatingIP", FloatingIP(name), "ci-bastion-fip"},
		{"LedgerFile", LedgerFile(name), "ci-bastion.ledger.json"},
		{"PrivateKeyFile", PrivateKeyFile(name), "ci-bastion_id"},
	}

	for _, tt := range tests {
		if tt.got != tt.expected {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.got)
		}
	}
}

func TestForKind(t *testing.T) {
	t.Parallel()
	want := map[bastion.Kind]string{
		bastion.KindSecurityGroup: "b-sg",
		bastion.KindKeypair:       "b-key",
		bastion.KindServer:        "b",
		bastion.KindFloatingIP:    "b-fip",
	}
	for kind, expected := range want {
		if got := ForKind("b", kind); got != expected {
			t.Errorf("ForKind(%s): expected %q, got %q", kind, expected, got)
		}
	}
	if got := ForKind("b", bastion.Kind("volume")); got != "b-volume" {
		t.Errorf("ForKind(volume): got %q", got)
	}
}
