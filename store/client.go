// Package store persists bunker state in Redis: connection records, the
// configured relay set, signing audit streams and the activity pub/sub bus.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dsbaars/bunker46/config"
)

// Client wraps a Redis client with a KeyBuilder for namespace-aware key
// construction. This keeps key prefixes out of the rest of the codebase.
type Client struct {
	redis.UniversalClient
	keyBuilder *KeyBuilder
}

// KB returns the KeyBuilder for constructing Redis keys with configured
// namespaces.
func (c *Client) KB() *KeyBuilder {
	return c.keyBuilder
}

// NewClient creates a Redis client from configuration and verifies
// connectivity with a ping.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	ns := cfg.Namespace
	if ns.BasePrefix == "" {
		ns = defaultNamespace()
	}

	return &Client{
		UniversalClient: rdb,
		keyBuilder:      NewKeyBuilder(ns),
	}, nil
}

// NewClientFromRedis wraps an existing Redis client. Used by tests to
// point the store at miniredis.
func NewClientFromRedis(rdb redis.UniversalClient, ns config.RedisNamespaceConfig) *Client {
	if ns.BasePrefix == "" {
		ns = defaultNamespace()
	}
	return &Client{
		UniversalClient: rdb,
		keyBuilder:      NewKeyBuilder(ns),
	}
}

func defaultNamespace() config.RedisNamespaceConfig {
	return config.RedisNamespaceConfig{
		BasePrefix:   "bunker46",
		ConnPrefix:   "conn",
		AuditPrefix:  "audit",
		EventsPrefix: "events",
		RelaysKey:    "relays",
	}
}
