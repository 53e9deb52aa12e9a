// Package cmd implements the bunker46 CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dsbaars/bunker46/bunker"
	"github.com/dsbaars/bunker46/config"
	"github.com/dsbaars/bunker46/keys"
	"github.com/dsbaars/bunker46/logging"
	"github.com/dsbaars/bunker46/observability"
	"github.com/dsbaars/bunker46/store"
)

const (
	flagConfig      = "config"
	flagRedisURL    = "redis-url"
	flagKeysDir     = "keys-dir"
	flagMetricsAddr = "metrics-addr"
	flagLogLevel    = "log-level"
)

// ServeCmd returns the command that runs the signing daemon.
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the remote-signing daemon",
		Long: `Start the NIP-46 remote-signing daemon.

The daemon loads encrypted keys from the keys directory, opens a relay
listener per key and answers signing requests from paired clients.
Connection and audit state lives in Redis.

The key-encryption secret is read from the ` + config.EncryptionKeyEnv + `
environment variable (min 32 characters).

Example:
  bunker46 serve --config /etc/bunker46/config.yaml
  bunker46 serve --redis-url redis://localhost:6379 --keys-dir ./keys
`,
		RunE: runServe,
	}

	cmd.Flags().String(flagConfig, "", "Path to config YAML file")
	cmd.Flags().String(flagRedisURL, "", "Redis connection URL (overrides config)")
	cmd.Flags().String(flagKeysDir, "", "Directory containing encrypted key files (overrides config)")
	cmd.Flags().String(flagMetricsAddr, "", "Ops/metrics listen address (overrides config)")
	cmd.Flags().String(flagLogLevel, "", "Log level: trace, debug, info, warn, error (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("daemon panic: %v", r)
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.NewLoggerFromConfig(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("configuration validation failed")
		return fmt.Errorf("invalid configuration: %w", err)
	}

	secret := os.Getenv(config.EncryptionKeyEnv)
	if secret == "" {
		return fmt.Errorf("%s is not set", config.EncryptionKeyEnv)
	}
	cipher, err := keys.NewCipher(secret)
	if err != nil {
		return fmt.Errorf("invalid encryption key: %w", err)
	}

	provider, err := keys.NewFileProvider(logger, cipher, cfg.Keys.Dir)
	if err != nil {
		return fmt.Errorf("loading keys from %s: %w", cfg.Keys.Dir, err)
	}
	defer func() { _ = provider.Close() }()

	client, err := store.NewClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() { _ = client.Close() }()

	activity := store.NewActivityBus(logger, client)
	service := bunker.NewService(logger, cfg, provider, client, activity, bunker.Options{})
	defer service.Close()

	obs := observability.NewServer(logger, cfg.Observability)
	bunker.NewAdminAPI(logger, service).Register(obs.Mux())
	obs.Handle("/ws/activity", observability.ActivityFeedHandler(logger, activity))
	obs.SetReadinessCheck(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err := obs.Start(ctx); err != nil {
		return fmt.Errorf("starting ops server: %w", err)
	}
	defer func() { _ = obs.Stop() }()

	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	logger.Info().
		Str("keys_dir", cfg.Keys.Dir).
		Str("metrics_addr", cfg.Observability.MetricsAddr).
		Msg("bunker46 daemon running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}
	return nil
}

// loadConfig loads the YAML config (or defaults) and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString(flagConfig)

	var cfg config.Config
	var err error
	if path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("loading config %s: %w", path, err)
		}
	} else {
		cfg = config.Default()
	}

	if v, _ := cmd.Flags().GetString(flagRedisURL); v != "" {
		cfg.Redis.URL = v
	}
	if v, _ := cmd.Flags().GetString(flagKeysDir); v != "" {
		cfg.Keys.Dir = v
	}
	if v, _ := cmd.Flags().GetString(flagMetricsAddr); v != "" {
		cfg.Observability.MetricsAddr = v
	}
	if v, _ := cmd.Flags().GetString(flagLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return cfg, nil
}
