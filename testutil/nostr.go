//go:build test

package testutil

import (
	"encoding/json"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"
	"github.com/stretchr/testify/require"

	"github.com/dsbaars/bunker46/nip46"
)

// TestIdentity is a generated nostr keypair for tests.
type TestIdentity struct {
	SecretKey string
	PublicKey string
}

// NewIdentity generates a fresh keypair.
func NewIdentity(t *testing.T) TestIdentity {
	t.Helper()

	sk := nostr.GeneratePrivateKey()
	pub, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	return TestIdentity{SecretKey: sk, PublicKey: pub}
}

// RequestEvent builds a signed kind-24133 event carrying the request,
// NIP-44 encrypted from the client to the signer.
func RequestEvent(t *testing.T, client TestIdentity, signerPubkey string, req nip46.Request) *nostr.Event {
	t.Helper()

	payload, err := json.Marshal(req)
	require.NoError(t, err)

	ck, err := nip44.GenerateConversationKey(signerPubkey, client.SecretKey)
	require.NoError(t, err)
	content, err := nip44.Encrypt(string(payload), ck)
	require.NoError(t, err)

	return signedEvent(t, client, signerPubkey, content)
}

// LegacyRequestEvent is RequestEvent but with NIP-04 (legacy stream
// cipher) encryption, for testing the decrypt fallback path.
func LegacyRequestEvent(t *testing.T, client TestIdentity, signerPubkey string, req nip46.Request) *nostr.Event {
	t.Helper()

	payload, err := json.Marshal(req)
	require.NoError(t, err)

	shared, err := nip04.ComputeSharedSecret(signerPubkey, client.SecretKey)
	require.NoError(t, err)
	content, err := nip04.Encrypt(string(payload), shared)
	require.NoError(t, err)

	return signedEvent(t, client, signerPubkey, content)
}

// OpaqueEvent builds a signed kind-24133 event with arbitrary content,
// for testing decode failures.
func OpaqueEvent(t *testing.T, client TestIdentity, signerPubkey, content string) *nostr.Event {
	t.Helper()
	return signedEvent(t, client, signerPubkey, content)
}

func signedEvent(t *testing.T, client TestIdentity, signerPubkey, content string) *nostr.Event {
	t.Helper()

	ev := &nostr.Event{
		Kind:      nip46.KindNIP46,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", signerPubkey}},
		Content:   content,
	}
	require.NoError(t, ev.Sign(client.SecretKey))
	return ev
}

// DecryptResponse decrypts a NIP-44 encrypted response event addressed to
// the client and unmarshals it.
func DecryptResponse(t *testing.T, client TestIdentity, signerPubkey string, ev *nostr.Event) nip46.Response {
	t.Helper()

	ck, err := nip44.GenerateConversationKey(signerPubkey, client.SecretKey)
	require.NoError(t, err)
	plaintext, err := nip44.Decrypt(ev.Content, ck)
	require.NoError(t, err)

	var resp nip46.Response
	require.NoError(t, json.Unmarshal([]byte(plaintext), &resp))
	return resp
}
