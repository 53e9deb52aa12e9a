package keys

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

var (
	// ErrKeyNotFound indicates the requested custodied key does not exist.
	ErrKeyNotFound = errors.New("custodied key not found")
)

// CustodiedKey is a private signing key held by the daemon on a user's
// behalf. The private key exists only in encrypted form; Decrypt yields
// the raw hex scalar transiently for a listener session or single
// operation.
type CustodiedKey struct {
	// ID identifies the key (the key-file name without extension).
	ID string `yaml:"-" json:"id"`

	// PublicKey is the derived nostr public key (64 lowercase hex chars).
	PublicKey string `yaml:"public_key" json:"public_key"`

	// EncryptedNsec is the AES-GCM envelope holding the private key hex.
	EncryptedNsec string `yaml:"encrypted_nsec" json:"-"`

	// Label is the operator-facing display name.
	Label string `yaml:"label" json:"label"`

	// Account is the owning account identifier.
	Account string `yaml:"account,omitempty" json:"account,omitempty"`
}

// Validate checks the key record structure without decrypting anything.
func (k *CustodiedKey) Validate() error {
	var problems []string

	if k.PublicKey == "" {
		problems = append(problems, "missing required field 'public_key'")
	} else if len(k.PublicKey) != 64 || strings.ToLower(k.PublicKey) != k.PublicKey {
		problems = append(problems, fmt.Sprintf("invalid public_key: expected 64 lowercase hex characters, got %q", k.PublicKey))
	}

	if k.EncryptedNsec == "" {
		problems = append(problems, "missing required field 'encrypted_nsec'")
	}

	if len(problems) > 0 {
		return fmt.Errorf("key validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// Provider supplies custodied keys to the bunker engine.
type Provider interface {
	// Get returns the key with the given id.
	Get(ctx context.Context, id string) (*CustodiedKey, error)

	// List returns all custodied keys.
	List(ctx context.Context) ([]*CustodiedKey, error)

	// Decrypt returns the raw private key hex for a custodied key.
	// Callers own the returned buffer and must zero it when done.
	Decrypt(key *CustodiedKey) ([]byte, error)

	// Changes returns a channel that receives a signal whenever the
	// underlying key set changes. May return nil if the provider does not
	// support change notification.
	Changes() <-chan struct{}

	// Close releases provider resources.
	Close() error
}

// DerivePublicKey returns the nostr public key for a private key hex scalar.
func DerivePublicKey(privateKeyHex string) (string, error) {
	pub, err := nostr.GetPublicKey(privateKeyHex)
	if err != nil {
		return "", fmt.Errorf("deriving public key: %w", err)
	}
	return pub, nil
}

// Zero overwrites key material in place. Call it as soon as a decrypted
// private key is no longer needed.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
