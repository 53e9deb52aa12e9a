package bunker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/nbd-wtf/go-nostr"

	"github.com/dsbaars/bunker46/keys"
	"github.com/dsbaars/bunker46/logging"
	"github.com/dsbaars/bunker46/nip46"
)

// EventHandler processes one inbound kind-24133 event for a signer key.
// relays is the listener's current relay set, used for publishing the
// response back.
type EventHandler func(ctx context.Context, signerPubKey, secretKey string, relays []string, ev *nostr.Event)

// Dialer maintains a subscription to a single relay for a signer's
// events, blocking until the context is canceled. Implementations own
// reconnect behavior.
type Dialer interface {
	Listen(ctx context.Context, relayURL, signerPubKey string, onEvent func(*nostr.Event))
}

type listenerState struct {
	relays    []string // sorted
	secretKey []byte
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// ListenerManager runs one listener per signer key, each subscribed to a
// set of relays. Relay sets only ever grow for a running listener: a new
// EnsureListening merges into the existing set so an established client
// never loses the relay it is talking on.
type ListenerManager struct {
	logger        logging.Logger
	dialer        Dialer
	pool          pond.Pool
	handler       EventHandler
	defaultRelays []string

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu        sync.Mutex
	listeners map[string]*listenerState
	closed    bool
}

// NewListenerManager creates a manager. handler runs on the shared worker
// pool; defaultRelays is the fallback when a requested relay set filters
// down to nothing.
func NewListenerManager(logger logging.Logger, dialer Dialer, pool pond.Pool, defaultRelays []string, handler EventHandler) *ListenerManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ListenerManager{
		logger:        logging.ForComponent(logger, logging.ComponentListener),
		dialer:        dialer,
		pool:          pool,
		handler:       handler,
		defaultRelays: append([]string(nil), defaultRelays...),
		rootCtx:       ctx,
		rootCancel:    cancel,
		listeners:     make(map[string]*listenerState),
	}
}

// EnsureListening makes sure a listener covers signerPubKey on at least
// the given relays. Unsafe relay URLs are filtered; if nothing survives
// the filter the default set is used. The manager takes ownership of
// secretKey and zeroes it when the listener stops (or immediately, when
// an existing listener already covers the requested relays).
func (m *ListenerManager) EnsureListening(signerPubKey string, secretKey []byte, relays []string) error {
	wanted := nip46.FilterSafeRelays(relays)
	if len(wanted) == 0 {
		wanted = append([]string(nil), m.defaultRelays...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		keys.Zero(secretKey)
		return ErrShuttingDown
	}

	existing := m.listeners[signerPubKey]
	if existing != nil {
		merged := mergeRelaySets(existing.relays, wanted)
		if len(merged) == len(existing.relays) {
			// Already covered; keep the running listener and its key.
			keys.Zero(secretKey)
			return nil
		}
		m.stopLocked(signerPubKey, existing)
		wanted = merged
	}

	state := &listenerState{relays: wanted, secretKey: secretKey}
	ctx, cancel := context.WithCancel(m.rootCtx)
	state.cancel = cancel
	for _, url := range wanted {
		url := url
		state.wg.Add(1)
		go logging.RecoverGoRoutine(m.logger, logging.ComponentListener, func(ctx context.Context) {
			defer state.wg.Done()
			m.dialer.Listen(ctx, url, signerPubKey, func(ev *nostr.Event) {
				m.submit(signerPubKey, state, ev)
			})
		})(ctx)
	}
	m.listeners[signerPubKey] = state
	activeListenersGauge.Set(float64(len(m.listeners)))
	m.logger.Info().
		Str(logging.FieldSigner, logging.ShortKey(signerPubKey)).
		Strs(logging.FieldRelay, wanted).
		Msg("listener started")
	return nil
}

// submit hands the event to the worker pool. The key material is copied
// here, while the listener is still live, so a request already received
// keeps working even if the listener is stopped before the pool runs it.
// The handler runs under a background context for the same reason:
// shutdown drains in-flight requests instead of canceling them.
func (m *ListenerManager) submit(signerPubKey string, state *listenerState, ev *nostr.Event) {
	secretKey := string(state.secretKey)
	relays := state.relays
	m.pool.Submit(func() {
		m.handler(context.Background(), signerPubKey, secretKey, relays, ev)
	})
}

// StopListening cancels the signer's listener, waits for its relay loops
// to exit and zeroes the key material.
func (m *ListenerManager) StopListening(signerPubKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.listeners[signerPubKey]
	if !ok {
		return
	}
	m.stopLocked(signerPubKey, state)
	activeListenersGauge.Set(float64(len(m.listeners)))
	m.logger.Info().
		Str(logging.FieldSigner, logging.ShortKey(signerPubKey)).
		Msg("listener stopped")
}

func (m *ListenerManager) stopLocked(signerPubKey string, state *listenerState) {
	state.cancel()
	state.wg.Wait()
	keys.Zero(state.secretKey)
	delete(m.listeners, signerPubKey)
}

// IsListening reports whether a listener covers the signer key.
func (m *ListenerManager) IsListening(signerPubKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.listeners[signerPubKey]
	return ok
}

// Relays returns the relay set the signer's listener currently covers.
func (m *ListenerManager) Relays(signerPubKey string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.listeners[signerPubKey]
	if !ok {
		return nil
	}
	return append([]string(nil), state.relays...)
}

// ActiveSigners returns the signer pubkeys with a running listener.
func (m *ListenerManager) ActiveSigners() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	signers := make([]string, 0, len(m.listeners))
	for pub := range m.listeners {
		signers = append(signers, pub)
	}
	sort.Strings(signers)
	return signers
}

// ActiveCount reports the number of running listeners.
func (m *ListenerManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// Shutdown stops every listener and zeroes all key material. In-flight
// pool tasks are the caller's concern (the pool is shared).
func (m *ListenerManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.rootCancel()
	for signer, state := range m.listeners {
		state.wg.Wait()
		keys.Zero(state.secretKey)
		delete(m.listeners, signer)
	}
	activeListenersGauge.Set(0)
}

func mergeRelaySets(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, set := range [][]string{a, b} {
		for _, url := range set {
			if _, ok := seen[url]; ok {
				continue
			}
			seen[url] = struct{}{}
			merged = append(merged, url)
		}
	}
	sort.Strings(merged)
	return merged
}

// nostrDialer is the production Dialer: connect, subscribe to kind-24133
// events addressed to the signer, and reconnect with capped exponential
// backoff on any failure.
type nostrDialer struct {
	logger logging.Logger
}

// NewNostrDialer returns the production relay dialer.
func NewNostrDialer(logger logging.Logger) Dialer {
	return &nostrDialer{logger: logging.ForComponent(logger, logging.ComponentListener)}
}

const (
	dialBackoffMin = time.Second
	dialBackoffMax = 2 * time.Minute
)

func (d *nostrDialer) Listen(ctx context.Context, relayURL, signerPubKey string, onEvent func(*nostr.Event)) {
	logger := d.logger.With().
		Str(logging.FieldRelay, relayURL).
		Str(logging.FieldSigner, logging.ShortKey(signerPubKey)).
		Logger()

	backoff := dialBackoffMin
	for ctx.Err() == nil {
		if d.listenOnce(ctx, logger, relayURL, signerPubKey, onEvent) {
			backoff = dialBackoffMin
		} else {
			relayConnectsTotal.WithLabelValues(statusError).Inc()
		}
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff *= 2
		if backoff > dialBackoffMax {
			backoff = dialBackoffMax
		}
	}
}

// listenOnce runs one connect-subscribe-consume cycle. It reports whether
// a subscription was established, for backoff accounting.
func (d *nostrDialer) listenOnce(ctx context.Context, logger logging.Logger, relayURL, signerPubKey string, onEvent func(*nostr.Event)) bool {
	relay, err := nostr.RelayConnect(ctx, relayURL)
	if err != nil {
		logger.Debug().Err(err).Msg("relay connect failed")
		return false
	}
	defer relay.Close()

	since := nostr.Now()
	sub, err := relay.Subscribe(ctx, nostr.Filters{{
		Kinds: []int{nip46.KindNIP46},
		Tags:  nostr.TagMap{"p": []string{signerPubKey}},
		Since: &since,
	}})
	if err != nil {
		logger.Debug().Err(err).Msg("relay subscribe failed")
		return false
	}
	defer sub.Unsub()
	relayConnectsTotal.WithLabelValues(statusOK).Inc()
	logger.Debug().Msg("subscribed")

	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-sub.Events:
			if !ok {
				logger.Debug().Msg("subscription closed by relay")
				return true
			}
			if ev == nil {
				continue
			}
			onEvent(ev)
		}
	}
}

// sleepCtx sleeps for d unless the context ends first; it reports whether
// the full sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
