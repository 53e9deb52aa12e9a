package bunker

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// Signer performs the cryptographic operations the RPC methods expose.
// Every call takes the signer secret key so a single instance serves all
// custodied keys without holding key material itself.
type Signer interface {
	PublicKey(secretKey string) (string, error)
	SignEvent(secretKey, eventJSON string) (string, error)
	NIP04Encrypt(secretKey, peerPubKey, plaintext string) (string, error)
	NIP04Decrypt(secretKey, peerPubKey, ciphertext string) (string, error)
	NIP44Encrypt(secretKey, peerPubKey, plaintext string) (string, error)
	NIP44Decrypt(secretKey, peerPubKey, ciphertext string) (string, error)
}

// NewSigner returns the production Signer backed by go-nostr.
func NewSigner() Signer {
	return nostrSigner{}
}

type nostrSigner struct{}

func (nostrSigner) PublicKey(secretKey string) (string, error) {
	return nostr.GetPublicKey(secretKey)
}

// SignEvent fills in the template's pubkey, id and signature. A missing
// created_at is stamped with the current time; everything else is taken
// from the client's template verbatim.
func (nostrSigner) SignEvent(secretKey, eventJSON string) (string, error) {
	var ev nostr.Event
	if err := json.Unmarshal([]byte(eventJSON), &ev); err != nil {
		return "", fmt.Errorf("invalid event template: %w", err)
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = nostr.Now()
	}
	if err := ev.Sign(secretKey); err != nil {
		return "", fmt.Errorf("signing event: %w", err)
	}
	signed, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func (nostrSigner) NIP04Encrypt(secretKey, peerPubKey, plaintext string) (string, error) {
	return nip04EncryptContent(secretKey, peerPubKey, plaintext)
}

func (nostrSigner) NIP04Decrypt(secretKey, peerPubKey, ciphertext string) (string, error) {
	return nip04DecryptContent(secretKey, peerPubKey, ciphertext)
}

func (nostrSigner) NIP44Encrypt(secretKey, peerPubKey, plaintext string) (string, error) {
	return nip44EncryptContent(secretKey, peerPubKey, plaintext)
}

func (nostrSigner) NIP44Decrypt(secretKey, peerPubKey, ciphertext string) (string, error) {
	return nip44DecryptContent(secretKey, peerPubKey, ciphertext)
}

func nip04EncryptContent(secretKey, peerPubKey, plaintext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peerPubKey, secretKey)
	if err != nil {
		return "", fmt.Errorf("computing nip04 shared secret: %w", err)
	}
	return nip04.Encrypt(plaintext, shared)
}

func nip04DecryptContent(secretKey, peerPubKey, ciphertext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peerPubKey, secretKey)
	if err != nil {
		return "", fmt.Errorf("computing nip04 shared secret: %w", err)
	}
	return nip04.Decrypt(ciphertext, shared)
}

func nip44EncryptContent(secretKey, peerPubKey, plaintext string) (string, error) {
	convKey, err := nip44.GenerateConversationKey(peerPubKey, secretKey)
	if err != nil {
		return "", fmt.Errorf("computing nip44 conversation key: %w", err)
	}
	return nip44.Encrypt(plaintext, convKey)
}

func nip44DecryptContent(secretKey, peerPubKey, ciphertext string) (string, error) {
	convKey, err := nip44.GenerateConversationKey(peerPubKey, secretKey)
	if err != nil {
		return "", fmt.Errorf("computing nip44 conversation key: %w", err)
	}
	return nip44.Decrypt(ciphertext, convKey)
}
