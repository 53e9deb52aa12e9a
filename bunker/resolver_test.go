//go:build test

package bunker

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/dsbaars/bunker46/nip46"
	"github.com/dsbaars/bunker46/store"
	"github.com/dsbaars/bunker46/testutil"
)

type ResolverTestSuite struct {
	testutil.RedisTestSuite

	connections *store.ConnectionStore
	pending     *PendingSecrets
	resolver    *Resolver
	clock       time.Time
}

func TestResolverTestSuite(t *testing.T) {
	suite.Run(t, new(ResolverTestSuite))
}

func (s *ResolverTestSuite) SetupTest() {
	s.RedisTestSuite.SetupTest()

	logger := zerolog.Nop()
	s.clock = time.Now()
	s.connections = store.NewConnectionStore(logger, s.StoreClient)
	s.pending = newPendingSecrets(logger, pendingSecretTTL, func() time.Time { return s.clock })
	s.resolver = NewResolver(logger, s.connections, s.pending)
}

func (s *ResolverTestSuite) TearDownTest() {
	s.pending.Close()
}

const (
	resolverClient = "aa" + "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	resolverSigner = "bb" + "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func connectRequest(secret string) *nip46.Request {
	return &nip46.Request{
		ID:     "req-1",
		Method: nip46.MethodConnect,
		Params: []string{resolverSigner, secret},
	}
}

func (s *ResolverTestSuite) TestResolvesExistingConnection() {
	existing := &store.Connection{
		ClientPubKey: resolverClient,
		SignerPubKey: resolverSigner,
	}
	s.Require().NoError(s.connections.Create(s.Ctx, existing))

	conn, err := s.resolver.Resolve(s.Ctx, resolverClient, resolverSigner, &nip46.Request{
		ID:     "req-1",
		Method: nip46.MethodPing,
	})
	s.Require().NoError(err)
	s.Equal(existing.ID, conn.ID)
}

func (s *ResolverTestSuite) TestResolvesRevokedConnection() {
	// Revoked connections still resolve; the dispatcher rejects them with
	// an explicit error instead of the generic unknown-client one.
	existing := &store.Connection{
		ClientPubKey: resolverClient,
		SignerPubKey: resolverSigner,
	}
	s.Require().NoError(s.connections.Create(s.Ctx, existing))
	s.Require().NoError(s.connections.UpdateStatus(s.Ctx, existing.ID, store.StatusRevoked))

	conn, err := s.resolver.Resolve(s.Ctx, resolverClient, resolverSigner, &nip46.Request{
		ID:     "req-1",
		Method: nip46.MethodPing,
	})
	s.Require().NoError(err)
	s.Equal(store.StatusRevoked, conn.Status)
}

func (s *ResolverTestSuite) TestUnknownClientNonConnect() {
	_, err := s.resolver.Resolve(s.Ctx, resolverClient, resolverSigner, &nip46.Request{
		ID:     "req-1",
		Method: nip46.MethodSignEvent,
		Params: []string{`{"kind":1}`},
	})
	s.ErrorIs(err, ErrUnknownClient)
}

func (s *ResolverTestSuite) TestConnectWithoutSecret() {
	_, err := s.resolver.Resolve(s.Ctx, resolverClient, resolverSigner, &nip46.Request{
		ID:     "req-1",
		Method: nip46.MethodConnect,
		Params: []string{resolverSigner},
	})
	s.ErrorIs(err, ErrUnknownClient)
}

func (s *ResolverTestSuite) TestConnectWithUnregisteredSecret() {
	_, err := s.resolver.Resolve(s.Ctx, resolverClient, resolverSigner, connectRequest("never-issued"))
	s.ErrorIs(err, ErrUnknownClient)
}

func (s *ResolverTestSuite) TestConnectProvisionsFromPendingSecret() {
	s.pending.Register(resolverSigner, "fresh-secret", PendingInfo{
		KeyID:   "key-1",
		Name:    "Noteapp",
		Account: "acct-1",
	})

	conn, err := s.resolver.Resolve(s.Ctx, resolverClient, resolverSigner, connectRequest("fresh-secret"))
	s.Require().NoError(err)
	s.Equal(store.StatusPending, conn.Status)
	s.Equal("Noteapp", conn.Name)
	s.Equal("key-1", conn.KeyID)
	s.Equal("fresh-secret", conn.Secret)
	s.True(conn.LoggingEnabled)

	// The secret is gone; the connection it minted persists.
	s.Equal(0, s.pending.Count())
	stored, err := s.connections.FindByClient(s.Ctx, resolverClient, resolverSigner)
	s.Require().NoError(err)
	s.Equal(conn.ID, stored.ID)
}

func (s *ResolverTestSuite) TestConnectWithExpiredSecret() {
	s.pending.Register(resolverSigner, "old-secret", PendingInfo{KeyID: "key-1"})
	s.clock = s.clock.Add(pendingSecretTTL + time.Minute)

	_, err := s.resolver.Resolve(s.Ctx, resolverClient, resolverSigner, connectRequest("old-secret"))
	s.ErrorIs(err, ErrUnknownClient)
}

func (s *ResolverTestSuite) TestUnnamedDefault() {
	s.pending.Register(resolverSigner, "fresh-secret", PendingInfo{KeyID: "key-1"})

	conn, err := s.resolver.Resolve(s.Ctx, resolverClient, resolverSigner, connectRequest("fresh-secret"))
	s.Require().NoError(err)
	s.Equal("Unnamed", conn.Name)
}

func (s *ResolverTestSuite) TestSecretScopedToSigner() {
	otherSigner := strings.Repeat("cc", 32)
	s.pending.Register(otherSigner, "fresh-secret", PendingInfo{KeyID: "key-2"})

	_, err := s.resolver.Resolve(s.Ctx, resolverClient, resolverSigner, connectRequest("fresh-secret"))
	s.ErrorIs(err, ErrUnknownClient)
}
