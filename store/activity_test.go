//go:build test

package store_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/dsbaars/bunker46/logging"
	"github.com/dsbaars/bunker46/store"
	"github.com/dsbaars/bunker46/testutil"
)

type ActivityBusTestSuite struct {
	testutil.RedisTestSuite

	bus *store.ActivityBus
}

func TestActivityBusTestSuite(t *testing.T) {
	suite.Run(t, new(ActivityBusTestSuite))
}

func (s *ActivityBusTestSuite) SetupTest() {
	s.RedisTestSuite.SetupTest()

	logger := logging.NewLoggerFromConfig(logging.Config{Level: "error", Format: "json"})
	s.bus = store.NewActivityBus(logger, s.StoreClient)
}

func (s *ActivityBusTestSuite) TestPublishReachesSubscriber() {
	msgs, cancel := s.bus.Subscribe(s.Ctx)
	defer cancel()

	sent := store.ActivityMessage{
		Type:         "request",
		ConnectionID: "conn1",
		Method:       "ping",
		Result:       "APPROVED",
		Timestamp:    time.Now().Unix(),
	}

	// Republish until the subscription is registered and delivers.
	var payload string
	s.Require().Eventually(func() bool {
		s.bus.Publish(s.Ctx, sent)
		select {
		case payload = <-msgs:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	var got store.ActivityMessage
	s.Require().NoError(json.Unmarshal([]byte(payload), &got))
	s.Equal(sent.Type, got.Type)
	s.Equal(sent.ConnectionID, got.ConnectionID)
	s.Equal(sent.Method, got.Method)
	s.Equal(sent.Result, got.Result)
}

func (s *ActivityBusTestSuite) TestCancelClosesChannel() {
	msgs, cancel := s.bus.Subscribe(s.Ctx)
	cancel()

	s.Require().Eventually(func() bool {
		select {
		case _, ok := <-msgs:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
