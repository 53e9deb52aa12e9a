//go:build test

package bunker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/dsbaars/bunker46/config"
	"github.com/dsbaars/bunker46/keys"
	"github.com/dsbaars/bunker46/nip46"
	"github.com/dsbaars/bunker46/store"
	"github.com/dsbaars/bunker46/testutil"
)

const testRelayURL = "wss://test-relay.example.com"

// staticProvider serves a single custodied key from memory.
type staticProvider struct {
	key       *keys.CustodiedKey
	secretKey string
}

func (p *staticProvider) Get(_ context.Context, id string) (*keys.CustodiedKey, error) {
	if id != p.key.ID {
		return nil, keys.ErrKeyNotFound
	}
	return p.key, nil
}

func (p *staticProvider) List(context.Context) ([]*keys.CustodiedKey, error) {
	return []*keys.CustodiedKey{p.key}, nil
}

func (p *staticProvider) Decrypt(*keys.CustodiedKey) ([]byte, error) {
	return []byte(p.secretKey), nil
}

func (p *staticProvider) Changes() <-chan struct{} { return nil }

func (p *staticProvider) Close() error { return nil }

// capturePublisher records published events instead of dialing relays.
type capturePublisher struct {
	mu     sync.Mutex
	events []nostr.Event
	relays [][]string
}

func (p *capturePublisher) Publish(_ context.Context, relays []string, ev nostr.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	p.relays = append(p.relays, relays)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *capturePublisher) last() (nostr.Event, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1], p.relays[len(p.relays)-1]
}

type ServiceTestSuite struct {
	testutil.RedisTestSuite

	signer    testutil.TestIdentity
	provider  *staticProvider
	dialer    *fakeDialer
	published *capturePublisher
	service   *Service
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func (s *ServiceTestSuite) SetupTest() {
	s.RedisTestSuite.SetupTest()

	s.signer = testutil.NewIdentity(s.T())
	s.provider = &staticProvider{
		key: &keys.CustodiedKey{
			ID:        "key-1",
			PublicKey: s.signer.PublicKey,
			Label:     "primary",
		},
		secretKey: s.signer.SecretKey,
	}
	s.dialer = newFakeDialer()
	s.published = &capturePublisher{}

	cfg := config.Default()
	cfg.Bunker.DefaultRelays = []string{testRelayURL}

	s.service = NewService(zerolog.Nop(), cfg, s.provider, s.StoreClient, nil, Options{
		Dialer:         s.dialer,
		RelayPublisher: s.published,
	})
	s.Require().NoError(s.service.Start(s.Ctx))
}

func (s *ServiceTestSuite) TearDownTest() {
	s.service.Close()
}

func (s *ServiceTestSuite) TestStartResumesListener() {
	s.Equal(1, s.service.Status().ActiveListeners)
	s.True(s.dialer.emit(testRelayURL, &nostr.Event{Kind: nip46.KindNIP46, PubKey: s.signer.PublicKey}))
}

func (s *ServiceTestSuite) TestPairAndPing() {
	client := testutil.NewIdentity(s.T())

	uri, secret, err := s.service.IssueBunkerURI(s.Ctx, "key-1", "Noteapp")
	s.Require().NoError(err)
	pointer, err := nip46.ParseBunkerURI(uri)
	s.Require().NoError(err)
	s.Equal(s.signer.PublicKey, pointer.PubKey)
	s.Equal(secret, pointer.Secret)
	s.Contains(pointer.Relays, testRelayURL)

	// Connect redeems the secret and activates the connection.
	connectEv := testutil.RequestEvent(s.T(), client, s.signer.PublicKey, nip46.Request{
		ID:     "c-1",
		Method: nip46.MethodConnect,
		Params: []string{s.signer.PublicKey, secret},
	})
	resp := s.roundTrip(client, connectEv)
	s.Empty(resp.Error)
	s.Equal(secret, resp.Result)

	conn, err := s.service.Connections().FindByClient(s.Ctx, client.PublicKey, s.signer.PublicKey)
	s.Require().NoError(err)
	s.Equal(store.StatusActive, conn.Status)
	s.Equal("Noteapp", conn.Name)

	// Ping flows through the activated connection.
	pingEv := testutil.RequestEvent(s.T(), client, s.signer.PublicKey, nip46.Request{
		ID:     "p-1",
		Method: nip46.MethodPing,
	})
	resp = s.roundTrip(client, pingEv)
	s.Empty(resp.Error)
	s.Equal("pong", resp.Result)

	entries, err := s.service.Audit().Recent(s.Ctx, conn.ID, 10)
	s.Require().NoError(err)
	s.Require().NotEmpty(entries)
	s.Equal(store.ResultApproved, entries[0].Result)
	s.Equal("ping", entries[0].Method)
}

func (s *ServiceTestSuite) TestRevokedClientGetsRevokedError() {
	client := testutil.NewIdentity(s.T())

	_, secret, err := s.service.IssueBunkerURI(s.Ctx, "key-1", "Noteapp")
	s.Require().NoError(err)

	connectEv := testutil.RequestEvent(s.T(), client, s.signer.PublicKey, nip46.Request{
		ID:     "c-1",
		Method: nip46.MethodConnect,
		Params: []string{s.signer.PublicKey, secret},
	})
	resp := s.roundTrip(client, connectEv)
	s.Empty(resp.Error)

	conn, err := s.service.Connections().FindByClient(s.Ctx, client.PublicKey, s.signer.PublicKey)
	s.Require().NoError(err)
	s.Require().NoError(s.service.Connections().UpdateStatus(s.Ctx, conn.ID, store.StatusRevoked))

	// The revoked pairing still resolves, so the client gets the revoked
	// error instead of being treated as unknown.
	pingEv := testutil.RequestEvent(s.T(), client, s.signer.PublicKey, nip46.Request{
		ID:     "p-1",
		Method: nip46.MethodPing,
	})
	resp = s.roundTrip(client, pingEv)
	s.Equal("Connection revoked", resp.Error)
	s.Empty(resp.Result)

	entries, err := s.service.Audit().Recent(s.Ctx, conn.ID, 10)
	s.Require().NoError(err)
	s.Require().NotEmpty(entries)
	s.Equal(store.ResultDenied, entries[0].Result)
	s.Equal("ping", entries[0].Method)
}

func (s *ServiceTestSuite) TestLegacyEncryptedRequest() {
	client := testutil.NewIdentity(s.T())

	_, secret, err := s.service.IssueBunkerURI(s.Ctx, "key-1", "Legacy app")
	s.Require().NoError(err)

	connectEv := testutil.LegacyRequestEvent(s.T(), client, s.signer.PublicKey, nip46.Request{
		ID:     "c-1",
		Method: nip46.MethodConnect,
		Params: []string{s.signer.PublicKey, secret},
	})
	resp := s.roundTrip(client, connectEv)
	s.Empty(resp.Error)
	s.Equal(secret, resp.Result, "legacy-encrypted requests still get NIP-44 responses")
}

func (s *ServiceTestSuite) TestUnknownClientGetsErrorResponse() {
	client := testutil.NewIdentity(s.T())

	pingEv := testutil.RequestEvent(s.T(), client, s.signer.PublicKey, nip46.Request{
		ID:     "p-1",
		Method: nip46.MethodPing,
	})
	resp := s.roundTrip(client, pingEv)
	s.Equal("Unknown client", resp.Error)
	s.Empty(resp.Result)
}

func (s *ServiceTestSuite) TestUndecryptableEventIsDroppedSilently() {
	client := testutil.NewIdentity(s.T())

	ev := testutil.OpaqueEvent(s.T(), client, s.signer.PublicKey, "garbage content")
	s.Require().Eventually(func() bool {
		return s.dialer.emit(testRelayURL, ev)
	}, time.Second, 10*time.Millisecond)

	// Give the pipeline a moment; nothing may be published.
	time.Sleep(100 * time.Millisecond)
	s.Equal(0, s.published.count())
}

func (s *ServiceTestSuite) TestOwnEventsAreIgnored() {
	ev := testutil.OpaqueEvent(s.T(), s.signer, s.signer.PublicKey, "echoed response")
	s.Require().Eventually(func() bool {
		return s.dialer.emit(testRelayURL, ev)
	}, time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	s.Equal(0, s.published.count())
}

func (s *ServiceTestSuite) TestConnectFromURI() {
	client := testutil.NewIdentity(s.T())

	uri := nip46.BuildNostrConnectURI(nip46.NostrConnectParams{
		ClientPubKey: client.PublicKey,
		Relays:       []string{"wss://client-relay.example.com"},
		Secret:       "client-chosen-secret",
		Perms:        "sign_event:1,ping",
		Name:         "Clientapp",
	})

	conn, err := s.service.ConnectFromURI(s.Ctx, "key-1", uri)
	s.Require().NoError(err)
	s.Equal(store.StatusActive, conn.Status)
	s.Equal("Clientapp", conn.Name)
	s.Len(conn.Permissions, 2)
	s.Equal([]string{"wss://client-relay.example.com"}, conn.Relays)

	// The connect response carries the client's secret back.
	s.Require().Eventually(func() bool { return s.published.count() == 1 }, time.Second, 10*time.Millisecond)
	respEv, relays := s.published.last()
	s.Contains(relays, "wss://client-relay.example.com")
	resp := testutil.DecryptResponse(s.T(), client, s.signer.PublicKey, &respEv)
	s.Equal("client-chosen-secret", resp.Result)

	// The listener now also covers the client's relay.
	s.True(s.dialer.emit("wss://client-relay.example.com", &nostr.Event{Kind: nip46.KindNIP46, PubKey: s.signer.PublicKey}))
}

func (s *ServiceTestSuite) TestConnectFromURIRejectsMalformed() {
	_, err := s.service.ConnectFromURI(s.Ctx, "key-1", "bunker://wrong-scheme")
	s.ErrorIs(err, nip46.ErrInvalidURI)
}

func (s *ServiceTestSuite) TestStatusCountsPendingSecrets() {
	_, _, err := s.service.IssueBunkerURI(s.Ctx, "key-1", "app")
	s.Require().NoError(err)

	status := s.service.Status()
	s.Equal(1, status.ActiveListeners)
	s.Equal(1, status.PendingSecrets)
}

// roundTrip delivers a request event and decodes the published response.
func (s *ServiceTestSuite) roundTrip(client testutil.TestIdentity, ev *nostr.Event) nip46.Response {
	before := s.published.count()
	s.Require().Eventually(func() bool {
		return s.dialer.emit(testRelayURL, ev)
	}, time.Second, 10*time.Millisecond, "listener should subscribe to the test relay")

	s.Require().Eventually(func() bool {
		return s.published.count() > before
	}, 2*time.Second, 10*time.Millisecond, "a response should be published")

	respEv, _ := s.published.last()
	s.Equal(nip46.KindNIP46, respEv.Kind)
	s.Equal(s.signer.PublicKey, respEv.PubKey)
	return testutil.DecryptResponse(s.T(), client, s.signer.PublicKey, &respEv)
}
