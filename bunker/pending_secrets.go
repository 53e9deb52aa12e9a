package bunker

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/dsbaars/bunker46/logging"
)

const (
	// pendingSecretTTL bounds how long an issued bunker:// secret stays
	// redeemable before the client must request a new URI.
	pendingSecretTTL = 10 * time.Minute

	pendingSweepInterval = time.Minute
)

// PendingInfo carries the provisioning context attached to an issued
// pairing secret, applied to the connection created when it is redeemed.
type PendingInfo struct {
	KeyID   string
	Name    string
	Account string
}

type pendingEntry struct {
	info      PendingInfo
	expiresAt time.Time
}

// PendingSecrets tracks issued bunker:// secrets until a client redeems
// them with a connect request. Consume is atomic: a secret redeems at
// most once even under concurrent delivery of the same connect event.
type PendingSecrets struct {
	logger  logging.Logger
	entries *xsync.Map[string, pendingEntry]
	ttl     time.Duration
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPendingSecrets starts the registry and its background expiry sweep.
func NewPendingSecrets(logger logging.Logger) *PendingSecrets {
	ps := newPendingSecrets(logger, pendingSecretTTL, time.Now)
	go logging.RecoverGoRoutine(ps.logger, "pending_secrets_sweep", func(context.Context) {
		ps.sweepLoop()
	})(context.Background())
	return ps
}

func newPendingSecrets(logger logging.Logger, ttl time.Duration, now func() time.Time) *PendingSecrets {
	return &PendingSecrets{
		logger:  logging.ForComponent(logger, logging.ComponentPendingSecrets),
		entries: xsync.NewMap[string, pendingEntry](),
		ttl:     ttl,
		now:     now,
		stopCh:  make(chan struct{}),
	}
}

// Register makes secret redeemable for signerPubKey until the TTL lapses.
// Re-registering the same secret resets its expiry.
func (ps *PendingSecrets) Register(signerPubKey, secret string, info PendingInfo) {
	ps.entries.Store(pendingKey(signerPubKey, secret), pendingEntry{
		info:      info,
		expiresAt: ps.now().Add(ps.ttl),
	})
	pendingSecretsGauge.Set(float64(ps.entries.Size()))
	ps.logger.Debug().
		Str(logging.FieldSigner, logging.ShortKey(signerPubKey)).
		Msg("registered pairing secret")
}

// Consume atomically removes and returns the entry for the given secret.
// Expired entries are treated as absent.
func (ps *PendingSecrets) Consume(signerPubKey, secret string) (PendingInfo, bool) {
	entry, ok := ps.entries.LoadAndDelete(pendingKey(signerPubKey, secret))
	if !ok {
		return PendingInfo{}, false
	}
	pendingSecretsGauge.Set(float64(ps.entries.Size()))
	if ps.now().After(entry.expiresAt) {
		ps.logger.Debug().
			Str(logging.FieldSigner, logging.ShortKey(signerPubKey)).
			Msg("rejected expired pairing secret")
		return PendingInfo{}, false
	}
	return entry.info, true
}

// Count reports the number of registered, unconsumed secrets. Entries
// past their expiry are excluded even before the sweep collects them.
func (ps *PendingSecrets) Count() int {
	now := ps.now()
	count := 0
	ps.entries.Range(func(_ string, entry pendingEntry) bool {
		if now.Before(entry.expiresAt) {
			count++
		}
		return true
	})
	return count
}

// Close stops the background sweep.
func (ps *PendingSecrets) Close() {
	ps.stopOnce.Do(func() { close(ps.stopCh) })
}

func (ps *PendingSecrets) sweepLoop() {
	ticker := time.NewTicker(pendingSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ps.stopCh:
			return
		case <-ticker.C:
			ps.sweep()
		}
	}
}

func (ps *PendingSecrets) sweep() {
	now := ps.now()
	ps.entries.Range(func(key string, entry pendingEntry) bool {
		if now.After(entry.expiresAt) {
			ps.entries.Delete(key)
		}
		return true
	})
	pendingSecretsGauge.Set(float64(ps.entries.Size()))
}

func pendingKey(signerPubKey, secret string) string {
	return signerPubKey + ":" + secret
}
