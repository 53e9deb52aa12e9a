package bunker

import (
	"context"
	"errors"

	"github.com/dsbaars/bunker46/logging"
	"github.com/dsbaars/bunker46/nip46"
	"github.com/dsbaars/bunker46/store"
)

// Resolver maps an inbound request to its connection, auto-provisioning a
// PENDING connection when a connect request redeems a pending secret.
type Resolver struct {
	logger      logging.Logger
	connections *store.ConnectionStore
	pending     *PendingSecrets
}

func NewResolver(logger logging.Logger, connections *store.ConnectionStore, pending *PendingSecrets) *Resolver {
	return &Resolver{
		logger:      logging.ForComponent(logger, logging.ComponentDispatcher),
		connections: connections,
		pending:     pending,
	}
}

// Resolve returns the live or revoked connection for (client, signer).
// When none exists, only a connect request carrying a registered pending
// secret can provision one; everything else gets ErrUnknownClient.
func (r *Resolver) Resolve(ctx context.Context, clientPubKey, signerPubKey string, req *nip46.Request) (*store.Connection, error) {
	conn, err := r.connections.FindByClient(ctx, clientPubKey, signerPubKey)
	if err == nil {
		return conn, nil
	}
	if !errors.Is(err, store.ErrConnectionNotFound) {
		return nil, err
	}

	if req.Method != nip46.MethodConnect {
		return nil, ErrUnknownClient
	}
	secret := req.Param(1)
	if secret == "" {
		return nil, ErrUnknownClient
	}
	info, ok := r.pending.Consume(signerPubKey, secret)
	if !ok {
		return nil, ErrUnknownClient
	}

	name := info.Name
	if name == "" {
		name = "Unnamed"
	}
	conn = &store.Connection{
		Name:           name,
		ClientPubKey:   clientPubKey,
		SignerPubKey:   signerPubKey,
		KeyID:          info.KeyID,
		Secret:         secret,
		LoggingEnabled: true,
	}
	if err := r.connections.Create(ctx, conn); err != nil {
		// Duplicate delivery of the same connect event across relays can
		// race here; whoever lost the race uses the winner's record.
		if errors.Is(err, store.ErrConnectionExists) {
			return r.connections.FindByClient(ctx, clientPubKey, signerPubKey)
		}
		return nil, err
	}
	r.logger.Info().
		Str(logging.FieldConnectionID, conn.ID).
		Str(logging.FieldClient, logging.ShortKey(clientPubKey)).
		Str(logging.FieldSigner, logging.ShortKey(signerPubKey)).
		Msg("provisioned connection from pairing secret")
	return conn, nil
}
