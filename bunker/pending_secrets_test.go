//go:build test

package bunker

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSignerPubkey = strings.Repeat("ab", 32)

func newTestPendingSecrets(now *time.Time) *PendingSecrets {
	return newPendingSecrets(zerolog.Nop(), pendingSecretTTL, func() time.Time { return *now })
}

func TestPendingSecretsRegisterAndConsume(t *testing.T) {
	now := time.Now()
	ps := newTestPendingSecrets(&now)
	defer ps.Close()

	ps.Register(testSignerPubkey, "secret-1", PendingInfo{KeyID: "key-1", Name: "app"})
	require.Equal(t, 1, ps.Count())

	info, ok := ps.Consume(testSignerPubkey, "secret-1")
	require.True(t, ok)
	assert.Equal(t, "key-1", info.KeyID)
	assert.Equal(t, "app", info.Name)
	assert.Equal(t, 0, ps.Count())
}

func TestPendingSecretsConsumeIsSingleUse(t *testing.T) {
	now := time.Now()
	ps := newTestPendingSecrets(&now)
	defer ps.Close()

	ps.Register(testSignerPubkey, "secret-1", PendingInfo{KeyID: "key-1"})

	_, ok := ps.Consume(testSignerPubkey, "secret-1")
	require.True(t, ok)
	_, ok = ps.Consume(testSignerPubkey, "secret-1")
	assert.False(t, ok, "a consumed secret must not redeem twice")
}

func TestPendingSecretsConcurrentConsume(t *testing.T) {
	now := time.Now()
	ps := newTestPendingSecrets(&now)
	defer ps.Close()

	ps.Register(testSignerPubkey, "secret-1", PendingInfo{KeyID: "key-1"})

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := ps.Consume(testSignerPubkey, "secret-1"); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one concurrent consumer may win")
}

func TestPendingSecretsExpiry(t *testing.T) {
	now := time.Now()
	ps := newTestPendingSecrets(&now)
	defer ps.Close()

	ps.Register(testSignerPubkey, "secret-1", PendingInfo{KeyID: "key-1"})
	now = now.Add(pendingSecretTTL + time.Second)

	_, ok := ps.Consume(testSignerPubkey, "secret-1")
	assert.False(t, ok, "expired secrets must not redeem")
}

func TestPendingSecretsCountExcludesExpired(t *testing.T) {
	now := time.Now()
	ps := newTestPendingSecrets(&now)
	defer ps.Close()

	ps.Register(testSignerPubkey, "secret-1", PendingInfo{})
	ps.Register(testSignerPubkey, "secret-2", PendingInfo{})
	require.Equal(t, 2, ps.Count())

	// Expired entries stop counting before the sweep collects them.
	now = now.Add(pendingSecretTTL + time.Second)
	assert.Equal(t, 0, ps.Count())

	ps.Register(testSignerPubkey, "secret-3", PendingInfo{})
	assert.Equal(t, 1, ps.Count())
}

func TestPendingSecretsSweepRemovesExpired(t *testing.T) {
	now := time.Now()
	ps := newTestPendingSecrets(&now)
	defer ps.Close()

	ps.Register(testSignerPubkey, "secret-1", PendingInfo{})
	ps.Register(testSignerPubkey, "secret-2", PendingInfo{})
	require.Equal(t, 2, ps.Count())

	now = now.Add(pendingSecretTTL + time.Second)
	ps.sweep()
	assert.Equal(t, 0, ps.Count())
}

func TestPendingSecretsScopedBySigner(t *testing.T) {
	now := time.Now()
	ps := newTestPendingSecrets(&now)
	defer ps.Close()

	ps.Register(testSignerPubkey, "secret-1", PendingInfo{KeyID: "key-1"})

	otherSigner := strings.Repeat("cd", 32)
	_, ok := ps.Consume(otherSigner, "secret-1")
	assert.False(t, ok, "a secret issued for one signer must not redeem on another")

	_, ok = ps.Consume(testSignerPubkey, "secret-1")
	assert.True(t, ok)
}
