package store

import (
	"context"
	"fmt"

	"github.com/dsbaars/bunker46/logging"
)

// RelayConfigStore persists the operator-configured global relay set.
// When empty, callers fall back to the built-in defaults.
type RelayConfigStore struct {
	logger logging.Logger
	client *Client
}

// NewRelayConfigStore creates a relay config store.
func NewRelayConfigStore(logger logging.Logger, client *Client) *RelayConfigStore {
	return &RelayConfigStore{
		logger: logging.ForComponent(logger, logging.ComponentConnStore),
		client: client,
	}
}

// Get returns the configured relay URLs in insertion order. An empty
// result means nothing is configured.
func (s *RelayConfigStore) Get(ctx context.Context) ([]string, error) {
	urls, err := s.client.LRange(ctx, s.client.KB().RelaysKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loading relay config: %w", err)
	}
	return urls, nil
}

// GetOrDefault returns the configured relay set or the given defaults
// when nothing is configured.
func (s *RelayConfigStore) GetOrDefault(ctx context.Context, defaults []string) ([]string, error) {
	urls, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return defaults, nil
	}
	return urls, nil
}

// Set replaces the configured relay set.
func (s *RelayConfigStore) Set(ctx context.Context, urls []string) error {
	key := s.client.KB().RelaysKey()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(urls) > 0 {
		args := make([]interface{}, len(urls))
		for i, u := range urls {
			args[i] = u
		}
		pipe.RPush(ctx, key, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing relay config: %w", err)
	}

	s.logger.Info().Int(logging.FieldRelayCount, len(urls)).Msg("relay configuration updated")
	return nil
}
