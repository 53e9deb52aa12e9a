package bunker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/nbd-wtf/go-nostr"
	"github.com/oklog/ulid/v2"

	"github.com/dsbaars/bunker46/config"
	"github.com/dsbaars/bunker46/keys"
	"github.com/dsbaars/bunker46/logging"
	"github.com/dsbaars/bunker46/nip46"
	"github.com/dsbaars/bunker46/store"
)

// Options override production defaults, mainly for tests.
type Options struct {
	// Dialer replaces the relay dialer used by listeners.
	Dialer Dialer

	// RelayPublisher replaces the outbound relay pool.
	RelayPublisher RelayPublisher
}

// Service is the assembled remote-signing engine: listeners per custodied
// key feeding the decode-resolve-dispatch-publish pipeline, plus the
// pairing-URI operations the operator surface exposes.
type Service struct {
	logger logging.Logger
	cfg    config.Config

	keys        keys.Provider
	connections *store.ConnectionStore
	relayConfig *store.RelayConfigStore
	audit       *store.AuditSink

	pending    *PendingSecrets
	decoder    *Decoder
	resolver   *Resolver
	dispatcher *Dispatcher
	publisher  *Publisher
	listeners  *ListenerManager
	relayPool  *RelayPool
	pool       pond.Pool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewService wires the engine from its stores and key provider.
func NewService(logger logging.Logger, cfg config.Config, provider keys.Provider, client *store.Client, activity *store.ActivityBus, opts Options) *Service {
	logger = logging.ForComponent(logger, logging.ComponentService)

	connections := store.NewConnectionStore(logger, client)
	relayConfig := store.NewRelayConfigStore(logger, client)
	audit := store.NewAuditSink(logger, client, activity)

	poolSize := cfg.Bunker.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 64
	}
	pool := pond.NewPool(poolSize)

	var relayPool *RelayPool
	relayPublisher := opts.RelayPublisher
	if relayPublisher == nil {
		relayPool = NewRelayPool(logger)
		relayPublisher = relayPool
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = NewNostrDialer(logger)
	}

	pending := NewPendingSecrets(logger)
	signer := NewSigner()

	s := &Service{
		logger:      logger,
		cfg:         cfg,
		keys:        provider,
		connections: connections,
		relayConfig: relayConfig,
		audit:       audit,
		pending:     pending,
		decoder:     NewDecoder(logger),
		resolver:    NewResolver(logger, connections, pending),
		dispatcher:  NewDispatcher(logger, connections, audit, signer),
		publisher:   NewPublisher(logger, relayPublisher, time.Duration(cfg.Bunker.PublishTimeoutSeconds)*time.Second),
		relayPool:   relayPool,
		pool:        pool,
	}
	s.rootCtx, s.rootCancel = context.WithCancel(context.Background())
	s.listeners = NewListenerManager(logger, dialer, pool, cfg.EffectiveDefaultRelays(), s.handleEvent)
	return s
}

// Start resumes listeners for every custodied key and begins watching the
// key provider for changes.
func (s *Service) Start(ctx context.Context) error {
	if err := s.resumeAll(ctx); err != nil {
		return err
	}
	if ch := s.keys.Changes(); ch != nil {
		s.wg.Add(1)
		go logging.RecoverGoRoutine(s.logger, logging.ComponentService, func(ctx context.Context) {
			defer s.wg.Done()
			s.watchKeyChanges(ctx, ch)
		})(s.rootCtx)
	}
	s.logger.Info().Int("active_listeners", s.listeners.ActiveCount()).Msg("engine started")
	return nil
}

// resumeAll starts a listener per custodied key on the configured relay
// set plus every live connection's relay override, so clients paired
// before a restart keep working.
func (s *Service) resumeAll(ctx context.Context) error {
	all, err := s.keys.List(ctx)
	if err != nil {
		return fmt.Errorf("listing custodied keys: %w", err)
	}
	base, err := s.relayConfig.GetOrDefault(ctx, s.cfg.EffectiveDefaultRelays())
	if err != nil {
		return fmt.Errorf("loading relay configuration: %w", err)
	}

	for _, key := range all {
		relays := append([]string(nil), base...)
		conns, err := s.connections.ListBySigner(ctx, key.PublicKey)
		if err != nil {
			s.logger.Warn().Err(err).
				Str(logging.FieldSigner, logging.ShortKey(key.PublicKey)).
				Msg("failed to list connections for key, resuming on base relays")
		}
		for _, conn := range conns {
			if conn.IsLive() {
				relays = append(relays, conn.Relays...)
			}
		}
		if err := s.ensureListeningKey(key, relays); err != nil {
			s.logger.Error().Err(err).
				Str(logging.FieldSigner, logging.ShortKey(key.PublicKey)).
				Msg("failed to start listener for key")
		}
	}
	return nil
}

func (s *Service) watchKeyChanges(ctx context.Context, ch <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			s.logger.Info().Msg("key set changed, reconciling listeners")
			if err := s.reconcileListeners(ctx); err != nil {
				s.logger.Error().Err(err).Msg("listener reconciliation failed")
			}
		}
	}
}

// reconcileListeners starts listeners for new keys and stops listeners
// whose keys were removed. Existing listeners are left running.
func (s *Service) reconcileListeners(ctx context.Context) error {
	all, err := s.keys.List(ctx)
	if err != nil {
		return err
	}
	current := make(map[string]*keys.CustodiedKey, len(all))
	for _, key := range all {
		current[key.PublicKey] = key
	}

	base, err := s.relayConfig.GetOrDefault(ctx, s.cfg.EffectiveDefaultRelays())
	if err != nil {
		return err
	}
	for pub, key := range current {
		if s.listeners.IsListening(pub) {
			continue
		}
		if err := s.ensureListeningKey(key, base); err != nil {
			s.logger.Error().Err(err).
				Str(logging.FieldSigner, logging.ShortKey(pub)).
				Msg("failed to start listener for new key")
		}
	}
	for _, pub := range s.listeners.ActiveSigners() {
		if _, ok := current[pub]; !ok {
			s.listeners.StopListening(pub)
		}
	}
	return nil
}

func (s *Service) ensureListeningKey(key *keys.CustodiedKey, relays []string) error {
	secretKey, err := s.keys.Decrypt(key)
	if err != nil {
		return fmt.Errorf("decrypting key %s: %w", key.ID, err)
	}
	return s.listeners.EnsureListening(key.PublicKey, secretKey, relays)
}

// EnsureListeningForKey guarantees a listener for the key identified by
// keyID, on the stored relay configuration plus extraRelays.
func (s *Service) EnsureListeningForKey(ctx context.Context, keyID string, extraRelays []string) (*keys.CustodiedKey, []string, error) {
	key, err := s.keys.Get(ctx, keyID)
	if err != nil {
		return nil, nil, err
	}
	base, err := s.relayConfig.GetOrDefault(ctx, s.cfg.EffectiveDefaultRelays())
	if err != nil {
		return nil, nil, err
	}
	relays := append(append([]string(nil), base...), extraRelays...)
	if err := s.ensureListeningKey(key, relays); err != nil {
		return nil, nil, err
	}
	return key, s.listeners.Relays(key.PublicKey), nil
}

// handleEvent is the per-event pipeline: decode, resolve, dispatch,
// publish. Undecryptable or malformed events are dropped without a
// response; everything after a successful decode answers on the wire.
func (s *Service) handleEvent(ctx context.Context, signerPubKey, secretKey string, relays []string, ev *nostr.Event) {
	if ev.PubKey == signerPubKey {
		// Our own published responses echo back through the subscription.
		eventsDroppedTotal.WithLabelValues(reasonSelf).Inc()
		return
	}

	req, _, err := s.decoder.Decode(ev, secretKey)
	if err != nil {
		if errors.Is(err, ErrUndecryptable) {
			eventsDroppedTotal.WithLabelValues(reasonDecrypt).Inc()
		} else {
			eventsDroppedTotal.WithLabelValues(reasonParse).Inc()
		}
		return
	}

	conn, err := s.resolver.Resolve(ctx, ev.PubKey, signerPubKey, req)
	if err != nil {
		if errors.Is(err, ErrUnknownClient) {
			resp := &nip46.Response{ID: req.ID, Error: ErrUnknownClient.Error()}
			if perr := s.publisher.PublishResponse(ctx, resp, ev.PubKey, secretKey, relays); perr != nil {
				s.logger.Warn().Err(perr).
					Str(logging.FieldClient, logging.ShortKey(ev.PubKey)).
					Msg("failed to publish unknown-client response")
			}
			return
		}
		eventsDroppedTotal.WithLabelValues(reasonStorage).Inc()
		s.logger.Error().Err(err).
			Str(logging.FieldClient, logging.ShortKey(ev.PubKey)).
			Msg("connection resolution failed")
		return
	}

	resp := s.dispatcher.Dispatch(ctx, conn, req, secretKey)
	if err := s.publisher.PublishResponse(ctx, resp, ev.PubKey, secretKey, relays); err != nil {
		s.logger.Error().Err(err).
			Str(logging.FieldConnectionID, conn.ID).
			Str(logging.FieldRequestID, req.ID).
			Msg("failed to publish response")
	}
}

// IssueBunkerURI registers a fresh pairing secret for the key and returns
// the bunker:// URI a client pastes to connect.
func (s *Service) IssueBunkerURI(ctx context.Context, keyID, name string) (uri, secret string, err error) {
	key, relays, err := s.EnsureListeningForKey(ctx, keyID, nil)
	if err != nil {
		return "", "", err
	}
	secret, err = newSecret()
	if err != nil {
		return "", "", err
	}
	s.pending.Register(key.PublicKey, secret, PendingInfo{
		KeyID:   key.ID,
		Name:    name,
		Account: key.Account,
	})
	return nip46.BuildBunkerURI(key.PublicKey, relays, secret), secret, nil
}

// ConnectFromURI provisions a connection from a client-generated
// nostrconnect:// URI and immediately publishes the connect response
// carrying the client's secret.
func (s *Service) ConnectFromURI(ctx context.Context, keyID, rawURI string) (*store.Connection, error) {
	params, err := nip46.ParseNostrConnectURI(rawURI)
	if err != nil {
		return nil, err
	}
	key, relays, err := s.EnsureListeningForKey(ctx, keyID, params.Relays)
	if err != nil {
		return nil, err
	}

	name := params.Name
	if name == "" {
		name = "Unnamed"
	}
	conn := &store.Connection{
		Name:           name,
		ClientPubKey:   params.ClientPubKey,
		SignerPubKey:   key.PublicKey,
		KeyID:          key.ID,
		Status:         store.StatusActive,
		Relays:         nip46.FilterSafeRelays(params.Relays),
		Secret:         params.Secret,
		Permissions:    nip46.ParsePermissionList(params.Perms),
		LoggingEnabled: true,
	}
	if err := s.connections.Create(ctx, conn); err != nil {
		return nil, err
	}

	secretKey, err := s.keys.Decrypt(key)
	if err != nil {
		return conn, fmt.Errorf("decrypting key %s: %w", key.ID, err)
	}
	defer keys.Zero(secretKey)
	resp := &nip46.Response{ID: ulid.Make().String(), Result: params.Secret}
	if err := s.publisher.PublishResponse(ctx, resp, params.ClientPubKey, string(secretKey), relays); err != nil {
		s.logger.Warn().Err(err).
			Str(logging.FieldConnectionID, conn.ID).
			Msg("failed to publish connect response")
	}
	return conn, nil
}

// Connections exposes the connection store for the operator surface.
func (s *Service) Connections() *store.ConnectionStore {
	return s.connections
}

// Audit exposes the audit sink for the operator surface.
func (s *Service) Audit() *store.AuditSink {
	return s.audit
}

// RelayConfig exposes the relay configuration store.
func (s *Service) RelayConfig() *store.RelayConfigStore {
	return s.relayConfig
}

// StatusSnapshot is the operator-facing health summary.
type StatusSnapshot struct {
	ActiveListeners int `json:"active_listeners"`
	PendingSecrets  int `json:"pending_secrets"`
}

// Status reports the engine's current listener and pending-secret counts.
func (s *Service) Status() StatusSnapshot {
	return StatusSnapshot{
		ActiveListeners: s.listeners.ActiveCount(),
		PendingSecrets:  s.pending.Count(),
	}
}

// Close drains the engine: listeners stop first so no new events arrive,
// then in-flight dispatches run to completion before the pool stops.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.listeners.Shutdown()
		s.pool.StopAndWait()
		s.rootCancel()
		s.pending.Close()
		if s.relayPool != nil {
			s.relayPool.Close()
		}
		s.wg.Wait()
		s.logger.Info().Msg("engine stopped")
	})
}

// newSecret returns a 32-hex-char random pairing secret.
func newSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating pairing secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
