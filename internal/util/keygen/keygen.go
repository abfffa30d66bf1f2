package keygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// Algorithm selects the key type.
type Algorithm string

// Supported algorithms.
const (
	Ed25519 Algorithm = "ed25519"
	RSA     Algorithm = "rsa"
)

// rsaBits is used for RSA keys; some older Nova releases reject ed25519.
const rsaBits = 4096

// KeyPair holds a key pair in ready-to-use formats.
type KeyPair struct {
	// PrivateKey is the private key in PEM format.
	PrivateKey []byte
	// PublicKey is the public key in OpenSSH authorized_keys format.
	PublicKey []byte
}

// Generate creates a key pair of the given algorithm. comment is embedded
// in the OpenSSH private key.
func Generate(alg Algorithm, comment string) (*KeyPair, error) {
	switch alg {
	case Ed25519, "":
		return GenerateEd25519KeyPair(comment)
	case RSA:
		return GenerateRSAKeyPair(rsaBits)
	}
	return nil, fmt.Errorf("unsupported key algorithm %q", alg)
}

// GenerateEd25519KeyPair generates an ed25519 key pair. The private key
// is encoded in the OpenSSH format.
func GenerateEd25519KeyPair(comment string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ed25519 private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: pem.EncodeToMemory(block),
		PublicKey:  ssh.MarshalAuthorizedKey(sshPub),
	}, nil
}

// GenerateRSAKeyPair generates a new RSA key pair with the specified bit size.
// The private key is encoded as PEM PKCS#1.
func GenerateRSAKeyPair(bits int) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA private key: %w", err)
	}

	if err := privateKey.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate RSA private key: %w", err)
	}

	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	publicRsaKey, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: privateKeyPEM,
		PublicKey:  ssh.MarshalAuthorizedKey(publicRsaKey),
	}, nil
}

// WritePrivateKey stores the private key at path with mode 0600,
// creating the parent directory if needed.
func (kp *KeyPair) WritePrivateKey(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, kp.PrivateKey, 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("failed to restrict private key permissions: %w", err)
	}
	return nil
}

// AuthorizedKey returns the public key as a single line without the
// trailing newline.
func (kp *KeyPair) AuthorizedKey() string {
	s := string(kp.PublicKey)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// LoadPrivateKey reads a private key written by WritePrivateKey and derives
// its public half.
func LoadPrivateKey(path string) (*KeyPair, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}
	return &KeyPair{
		PrivateKey: data,
		PublicKey:  ssh.MarshalAuthorizedKey(signer.PublicKey()),
	}, nil
}
