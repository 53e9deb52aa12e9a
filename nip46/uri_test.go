//go:build test

package nip46

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var testPubkey = strings.Repeat("ab", 32)

func TestParseBunkerURI(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		uri := BuildBunkerURI(testPubkey, []string{"wss://relay.one", "wss://relay.two"}, "tok123")
		p, err := ParseBunkerURI(uri)
		require.NoError(t, err)
		require.Equal(t, testPubkey, p.PubKey)
		require.Equal(t, []string{"wss://relay.one", "wss://relay.two"}, p.Relays)
		require.Equal(t, "tok123", p.Secret)
	})

	t.Run("no secret", func(t *testing.T) {
		p, err := ParseBunkerURI("bunker://" + testPubkey + "?relay=wss%3A%2F%2Fr.example")
		require.NoError(t, err)
		require.Empty(t, p.Secret)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		_, err := ParseBunkerURI("nostrconnect://" + testPubkey)
		require.ErrorIs(t, err, ErrInvalidURI)
	})

	t.Run("bad pubkey", func(t *testing.T) {
		_, err := ParseBunkerURI("bunker://nothex?relay=wss%3A%2F%2Fr.example")
		require.ErrorIs(t, err, ErrInvalidURI)
	})
}

func TestParseNostrConnectURI(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		in := NostrConnectParams{
			ClientPubKey: testPubkey,
			Relays:       []string{"wss://relay.one"},
			Secret:       "s3cret",
			Perms:        "sign_event:1,nip44_encrypt",
			Name:         "Example App",
		}
		p, err := ParseNostrConnectURI(BuildNostrConnectURI(in))
		require.NoError(t, err)
		require.Equal(t, in, *p)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		_, err := ParseNostrConnectURI("bunker://" + testPubkey)
		require.ErrorIs(t, err, ErrInvalidURI)
	})

	t.Run("bad pubkey", func(t *testing.T) {
		_, err := ParseNostrConnectURI("nostrconnect://" + strings.Repeat("A", 64) + "?secret=x")
		require.ErrorIs(t, err, ErrInvalidURI)
	})
}
