package config

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL.
	// Supports: redis://, rediss://
	URL string `yaml:"url"`

	// PoolSize is the maximum number of socket connections.
	// Set to 0 to use the go-redis default (10 × GOMAXPROCS).
	PoolSize int `yaml:"pool_size,omitempty"`

	// MinIdleConns is the minimum number of idle connections to maintain.
	MinIdleConns int `yaml:"min_idle_conns,omitempty"`

	// Namespace configures Redis key prefixes for all data families.
	Namespace RedisNamespaceConfig `yaml:"namespace,omitempty"`
}

// RedisNamespaceConfig centralizes every Redis key prefix used by the
// daemon. Components build keys through store.KeyBuilder rather than
// hardcoding prefixes.
type RedisNamespaceConfig struct {
	// BasePrefix is the root prefix for all Redis keys (default: "bunker46").
	BasePrefix string `yaml:"base_prefix,omitempty"`

	// ConnPrefix is the prefix for connection records (default: "conn").
	// Full key: {BasePrefix}:{ConnPrefix}:{connectionID}
	ConnPrefix string `yaml:"conn_prefix,omitempty"`

	// AuditPrefix is the prefix for audit streams (default: "audit").
	// Full key: {BasePrefix}:{AuditPrefix}[:{connectionID}]
	AuditPrefix string `yaml:"audit_prefix,omitempty"`

	// EventsPrefix is the prefix for pub/sub channels (default: "events").
	// Full channel: {BasePrefix}:{EventsPrefix}:{channel}
	EventsPrefix string `yaml:"events_prefix,omitempty"`

	// RelaysKey is the key suffix for the configured relay set
	// (default: "relays"). Full key: {BasePrefix}:{RelaysKey}
	RelaysKey string `yaml:"relays_key,omitempty"`
}

func (c *RedisConfig) applyDefaults() {
	if c.Namespace.BasePrefix == "" {
		c.Namespace.BasePrefix = "bunker46"
	}
	if c.Namespace.ConnPrefix == "" {
		c.Namespace.ConnPrefix = "conn"
	}
	if c.Namespace.AuditPrefix == "" {
		c.Namespace.AuditPrefix = "audit"
	}
	if c.Namespace.EventsPrefix == "" {
		c.Namespace.EventsPrefix = "events"
	}
	if c.Namespace.RelaysKey == "" {
		c.Namespace.RelaysKey = "relays"
	}
}
