// Package config defines the bunker daemon's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/dsbaars/bunker46/logging"
)

// EncryptionKeyEnv is the environment variable holding the at-rest
// encryption secret for custodied keys. Kept out of the YAML file so the
// config can be committed without leaking the secret.
const EncryptionKeyEnv = "BUNKER46_ENCRYPTION_KEY"

// DefaultRelays is the fallback relay set used when neither the global
// relay configuration nor a connection specifies any relays, and when
// SSRF filtering removes every candidate.
var DefaultRelays = []string{
	"wss://relay.nsec.app",
	"wss://relay.damus.io",
	"wss://nos.lol",
}

// Config is the root daemon configuration.
type Config struct {
	Logging       logging.Config      `yaml:"logging"`
	Redis         RedisConfig         `yaml:"redis"`
	Observability ObservabilityConfig `yaml:"observability"`
	Bunker        BunkerConfig        `yaml:"bunker"`
	Keys          KeysConfig          `yaml:"keys"`
}

// BunkerConfig configures the NIP-46 engine.
type BunkerConfig struct {
	// DefaultRelays overrides the built-in default relay set.
	DefaultRelays []string `yaml:"default_relays,omitempty"`

	// WorkerPoolSize bounds concurrent inbound event processing.
	// Default: 64
	WorkerPoolSize int `yaml:"worker_pool_size,omitempty"`

	// PublishTimeoutSeconds bounds a single response publish attempt
	// across the relay set. Default: 10
	PublishTimeoutSeconds int `yaml:"publish_timeout_seconds,omitempty"`
}

// KeysConfig configures custodied key storage.
type KeysConfig struct {
	// Dir is the directory holding encrypted key files.
	// Default: "./keys"
	Dir string `yaml:"dir,omitempty"`
}

// ObservabilityConfig configures the metrics/ops HTTP server.
type ObservabilityConfig struct {
	// MetricsEnabled enables the metrics/ops server. Default: true
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// MetricsAddr is the listen address (e.g. ":9090").
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// PprofEnabled enables the pprof server.
	PprofEnabled bool `yaml:"pprof_enabled,omitempty"`

	// PprofAddr is the pprof listen address (e.g. ":6060").
	PprofAddr string `yaml:"pprof_addr,omitempty"`
}

// Default returns a Config with production defaults.
func Default() Config {
	return Config{
		Logging: logging.DefaultConfig(),
		Redis: RedisConfig{
			URL: "redis://localhost:6379",
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			MetricsAddr:    ":9090",
			PprofAddr:      ":6060",
		},
		Bunker: BunkerConfig{
			WorkerPoolSize:        64,
			PublishTimeoutSeconds: 10,
		},
		Keys: KeysConfig{
			Dir: "./keys",
		},
	}
}

// Load reads and validates a YAML config file, applying defaults for
// anything left unset.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Bunker.WorkerPoolSize <= 0 {
		c.Bunker.WorkerPoolSize = 64
	}
	if c.Bunker.PublishTimeoutSeconds <= 0 {
		c.Bunker.PublishTimeoutSeconds = 10
	}
	if c.Keys.Dir == "" {
		c.Keys.Dir = "./keys"
	}
	if c.Observability.MetricsAddr == "" {
		c.Observability.MetricsAddr = ":9090"
	}
	if c.Observability.PprofAddr == "" {
		c.Observability.PprofAddr = ":6060"
	}
	c.Redis.applyDefaults()
}

// Validate checks the configuration for fatal problems.
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	return nil
}

// EffectiveDefaultRelays returns the configured default relay set, or the
// built-in defaults when none is configured.
func (c *Config) EffectiveDefaultRelays() []string {
	if len(c.Bunker.DefaultRelays) > 0 {
		return c.Bunker.DefaultRelays
	}
	out := make([]string, len(DefaultRelays))
	copy(out, DefaultRelays)
	return out
}
