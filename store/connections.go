package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dsbaars/bunker46/logging"
	"github.com/dsbaars/bunker46/nip46"
)

// Status is a connection lifecycle state.
type Status string

const (
	// StatusPending is a freshly provisioned connection awaiting its first
	// successful connect call.
	StatusPending Status = "PENDING"

	// StatusActive is an activated connection.
	StatusActive Status = "ACTIVE"

	// StatusRevoked is a connection the owner has revoked. Revoked
	// connections reject every request but are kept for audit history.
	StatusRevoked Status = "REVOKED"
)

var (
	// ErrConnectionNotFound indicates the requested connection does not exist.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrConnectionExists indicates a live (PENDING or ACTIVE) connection
	// already exists for the (client, signer) pair.
	ErrConnectionExists = errors.New("live connection already exists for client/signer pair")
)

// Connection is one authorized pairing between a remote client key and a
// custodied signing key.
type Connection struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ClientPubKey string `json:"client_pubkey"`
	SignerPubKey string `json:"signer_pubkey"`

	// KeyID references the custodied key record.
	KeyID string `json:"key_id"`

	Status Status `json:"status"`

	// Relays is the connection's relay set. Empty means no restriction.
	Relays []string `json:"relays,omitempty"`

	// Secret is the one-time pairing token, kept so connect can echo it
	// back as proof of legitimacy.
	Secret string `json:"secret,omitempty"`

	// Permissions is the granted permission set. Empty means no
	// restriction (see nip46.Allowed).
	Permissions []nip46.Permission `json:"permissions,omitempty"`

	// LoggingEnabled controls whether per-connection audit detail is kept.
	LoggingEnabled bool `json:"logging_enabled"`

	// LastActivity is the unix-millisecond timestamp of the last handled
	// request.
	LastActivity int64 `json:"last_activity,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// IsLive reports whether the connection is PENDING or ACTIVE.
func (c *Connection) IsLive() bool {
	return c.Status == StatusPending || c.Status == StatusActive
}

// ConnectionStore persists connections in Redis as JSON records with a
// unique live-connection index per (client, signer) pair.
type ConnectionStore struct {
	logger logging.Logger
	client *Client
}

// NewConnectionStore creates a connection store.
func NewConnectionStore(logger logging.Logger, client *Client) *ConnectionStore {
	return &ConnectionStore{
		logger: logging.ForComponent(logger, logging.ComponentConnStore),
		client: client,
	}
}

// Create persists a new connection. The id and timestamps are assigned
// here; the status defaults to PENDING. Creation fails with
// ErrConnectionExists if a live connection already holds the
// (client, signer) index. Status transitions, not delete-and-recreate,
// are the only way a live pairing changes meaning.
func (s *ConnectionStore) Create(ctx context.Context, conn *Connection) error {
	if conn.ID == "" {
		conn.ID = ulid.Make().String()
	}
	if conn.Status == "" {
		conn.Status = StatusPending
	}
	now := time.Now().UnixMilli()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	kb := s.client.KB()
	indexKey := kb.ConnLiveIndexKey(conn.ClientPubKey, conn.SignerPubKey)

	// The SETNX on the live index is the exclusivity boundary: a duplicate
	// redelivered connect racing this call loses here, not deeper in.
	ok, err := s.client.SetNX(ctx, indexKey, conn.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("claiming live index: %w", err)
	}
	if !ok {
		return ErrConnectionExists
	}

	if err := s.write(ctx, conn); err != nil {
		_ = s.client.Del(ctx, indexKey).Err()
		return err
	}

	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, kb.ConnSetKey(), conn.ID)
	pipe.SAdd(ctx, kb.ConnSignerSetKey(conn.SignerPubKey), conn.ID)
	pipe.Set(ctx, kb.ConnLatestKey(conn.ClientPubKey, conn.SignerPubKey), conn.ID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("indexing connection: %w", err)
	}

	connectionsCreated.Inc()
	s.logger.Info().
		Str(logging.FieldConnectionID, conn.ID).
		Str(logging.FieldClient, logging.ShortKey(conn.ClientPubKey)).
		Str(logging.FieldSigner, logging.ShortKey(conn.SignerPubKey)).
		Msg("connection created")
	return nil
}

// Get returns a connection by id.
func (s *ConnectionStore) Get(ctx context.Context, id string) (*Connection, error) {
	raw, err := s.client.Get(ctx, s.client.KB().ConnKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading connection %s: %w", id, err)
	}

	var conn Connection
	if err := json.Unmarshal([]byte(raw), &conn); err != nil {
		return nil, fmt.Errorf("decoding connection %s: %w", id, err)
	}
	return &conn, nil
}

// FindByClient returns the connection for a (client, signer) pair, or
// ErrConnectionNotFound. The live index is consulted first; when a pair
// has no live connection the latest record is returned instead, so a
// revoked pairing still resolves and can be answered as revoked.
func (s *ConnectionStore) FindByClient(ctx context.Context, clientPubkey, signerPubkey string) (*Connection, error) {
	kb := s.client.KB()

	id, err := s.client.Get(ctx, kb.ConnLiveIndexKey(clientPubkey, signerPubkey)).Result()
	if errors.Is(err, redis.Nil) {
		id, err = s.client.Get(ctx, kb.ConnLatestKey(clientPubkey, signerPubkey)).Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up connection by client: %w", err)
	}
	return s.Get(ctx, id)
}

// UpdateStatus transitions a connection's lifecycle state. Transitioning
// away from a live state releases the (client, signer) live index.
func (s *ConnectionStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	return s.update(ctx, id, func(conn *Connection) error {
		old := conn.Status
		conn.Status = status

		if old != status {
			s.logger.Info().
				Str(logging.FieldConnectionID, id).
				Str(logging.FieldOldStatus, string(old)).
				Str(logging.FieldNewStatus, string(status)).
				Msg("connection status changed")
		}

		if !conn.IsLive() {
			indexKey := s.client.KB().ConnLiveIndexKey(conn.ClientPubKey, conn.SignerPubKey)
			if err := s.client.Del(ctx, indexKey).Err(); err != nil {
				return fmt.Errorf("releasing live index: %w", err)
			}
		}
		return nil
	})
}

// SetPermissions replaces a connection's granted permission set.
func (s *ConnectionStore) SetPermissions(ctx context.Context, id string, perms []nip46.Permission) error {
	return s.update(ctx, id, func(conn *Connection) error {
		conn.Permissions = perms
		return nil
	})
}

// SetRelays replaces a connection's relay set.
func (s *ConnectionStore) SetRelays(ctx context.Context, id string, relays []string) error {
	return s.update(ctx, id, func(conn *Connection) error {
		conn.Relays = relays
		return nil
	})
}

// ToggleLogging enables or disables per-connection audit detail.
func (s *ConnectionStore) ToggleLogging(ctx context.Context, id string, enabled bool) error {
	return s.update(ctx, id, func(conn *Connection) error {
		conn.LoggingEnabled = enabled
		return nil
	})
}

// TouchActivity records the time of the last handled request.
func (s *ConnectionStore) TouchActivity(ctx context.Context, id string) error {
	return s.update(ctx, id, func(conn *Connection) error {
		conn.LastActivity = time.Now().UnixMilli()
		return nil
	})
}

// Delete removes a connection and its index entries.
func (s *ConnectionStore) Delete(ctx context.Context, id string) error {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	kb := s.client.KB()

	latestKey := kb.ConnLatestKey(conn.ClientPubKey, conn.SignerPubKey)
	latest, err := s.client.Get(ctx, latestKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("looking up latest connection: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, kb.ConnKey(id))
	pipe.SRem(ctx, kb.ConnSetKey(), id)
	pipe.SRem(ctx, kb.ConnSignerSetKey(conn.SignerPubKey), id)
	if conn.IsLive() {
		pipe.Del(ctx, kb.ConnLiveIndexKey(conn.ClientPubKey, conn.SignerPubKey))
	}
	if latest == id {
		pipe.Del(ctx, latestKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting connection %s: %w", id, err)
	}
	return nil
}

// ListBySigner returns all connections for a signer key.
func (s *ConnectionStore) ListBySigner(ctx context.Context, signerPubkey string) ([]*Connection, error) {
	ids, err := s.client.SMembers(ctx, s.client.KB().ConnSignerSetKey(signerPubkey)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing signer connections: %w", err)
	}
	return s.loadMany(ctx, ids)
}

// ListAll returns every stored connection.
func (s *ConnectionStore) ListAll(ctx context.Context) ([]*Connection, error) {
	ids, err := s.client.SMembers(ctx, s.client.KB().ConnSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	return s.loadMany(ctx, ids)
}

func (s *ConnectionStore) loadMany(ctx context.Context, ids []string) ([]*Connection, error) {
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		conn, err := s.Get(ctx, id)
		if errors.Is(err, ErrConnectionNotFound) {
			// Index entry outlived its record; skip rather than fail the
			// whole listing.
			continue
		}
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func (s *ConnectionStore) update(ctx context.Context, id string, mutate func(*Connection) error) error {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := mutate(conn); err != nil {
		return err
	}
	conn.UpdatedAt = time.Now().UnixMilli()
	return s.write(ctx, conn)
}

func (s *ConnectionStore) write(ctx context.Context, conn *Connection) error {
	raw, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("encoding connection: %w", err)
	}
	if err := s.client.Set(ctx, s.client.KB().ConnKey(conn.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("storing connection: %w", err)
	}
	return nil
}
