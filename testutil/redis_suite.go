//go:build test

// Package testutil provides shared test fixtures: an embedded miniredis
// suite and nostr protocol builders.
package testutil

import (
	"context"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/dsbaars/bunker46/config"
	"github.com/dsbaars/bunker46/store"
)

// RedisTestSuite provides a shared miniredis instance for tests.
// Embed this in a test suite to get automatic Redis setup/teardown.
//
// Usage:
//
//	type MyTestSuite struct {
//	    testutil.RedisTestSuite
//	}
//
//	func TestMyTestSuite(t *testing.T) {
//	    suite.Run(t, new(MyTestSuite))
//	}
type RedisTestSuite struct {
	suite.Suite

	// MiniRedis is the embedded miniredis instance, for direct
	// manipulation (e.g. FastForward to test expiry).
	MiniRedis *miniredis.Miniredis

	// StoreClient is the namespace-aware store client connected to miniredis.
	StoreClient *store.Client

	// Ctx is a background context for Redis operations.
	Ctx context.Context
}

// SetupSuite runs once before all tests in the suite and creates a single
// shared miniredis instance.
func (s *RedisTestSuite) SetupSuite() {
	mr, err := miniredis.Run()
	s.Require().NoError(err, "failed to start miniredis")
	s.MiniRedis = mr

	s.Ctx = context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s.StoreClient = store.NewClientFromRedis(rdb, config.RedisNamespaceConfig{})
}

// SetupTest flushes all data before each test for isolation.
func (s *RedisTestSuite) SetupTest() {
	s.MiniRedis.FlushAll()
}

// TearDownSuite closes the shared miniredis instance.
func (s *RedisTestSuite) TearDownSuite() {
	if s.StoreClient != nil {
		_ = s.StoreClient.Close()
	}
	if s.MiniRedis != nil {
		s.MiniRedis.Close()
	}
}
