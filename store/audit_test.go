//go:build test

package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/dsbaars/bunker46/logging"
	"github.com/dsbaars/bunker46/store"
	"github.com/dsbaars/bunker46/testutil"
)

type AuditSinkTestSuite struct {
	testutil.RedisTestSuite

	sink     *store.AuditSink
	activity *store.ActivityBus
}

func TestAuditSinkTestSuite(t *testing.T) {
	suite.Run(t, new(AuditSinkTestSuite))
}

func (s *AuditSinkTestSuite) SetupTest() {
	s.RedisTestSuite.SetupTest()

	logger := logging.NewLoggerFromConfig(logging.Config{Level: "error", Format: "json"})
	s.activity = store.NewActivityBus(logger, s.StoreClient)
	s.sink = store.NewAuditSink(logger, s.StoreClient, s.activity)
}

func (s *AuditSinkTestSuite) TestRecordAndRecent() {
	kind := 1
	s.sink.Record(s.Ctx, store.AuditEntry{
		ConnectionID: "conn1",
		Method:       "sign_event",
		EventKind:    &kind,
		Result:       store.ResultApproved,
		DurationMs:   12,
		LogDetail:    true,
	})
	s.sink.Record(s.Ctx, store.AuditEntry{
		ConnectionID: "conn1",
		Method:       "nip44_decrypt",
		Result:       store.ResultError,
		DurationMs:   3,
		ErrorMessage: "missing parameters",
		LogDetail:    true,
	})

	entries, err := s.sink.Recent(s.Ctx, "conn1", 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)

	// Newest first.
	s.Require().Equal("nip44_decrypt", entries[0].Method)
	s.Require().Equal(store.ResultError, entries[0].Result)
	s.Require().Equal("missing parameters", entries[0].ErrorMessage)

	s.Require().Equal("sign_event", entries[1].Method)
	s.Require().NotNil(entries[1].EventKind)
	s.Require().Equal(1, *entries[1].EventKind)
	s.Require().EqualValues(12, entries[1].DurationMs)
}

func (s *AuditSinkTestSuite) TestLogDetailDisabledSkipsConnectionStream() {
	s.sink.Record(s.Ctx, store.AuditEntry{
		ConnectionID: "conn2",
		Method:       "ping",
		Result:       store.ResultApproved,
		LogDetail:    false,
	})

	entries, err := s.sink.Recent(s.Ctx, "conn2", 10)
	s.Require().NoError(err)
	s.Require().Empty(entries)

	// The global stream still has the record.
	msgs, err := s.StoreClient.XRange(s.Ctx, s.StoreClient.KB().AuditStreamKey(), "-", "+").Result()
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
}

func (s *AuditSinkTestSuite) TestActivityFanout() {
	sub, cancel := s.activity.Subscribe(s.Ctx)
	defer cancel()

	// Give the pub/sub subscription a moment to establish.
	time.Sleep(50 * time.Millisecond)

	s.sink.Record(s.Ctx, store.AuditEntry{
		ConnectionID: "conn3",
		Method:       "ping",
		Result:       store.ResultApproved,
		LogDetail:    true,
	})

	select {
	case payload := <-sub:
		s.Require().Contains(payload, `"method":"ping"`)
		s.Require().Contains(payload, `"result":"APPROVED"`)
	case <-time.After(2 * time.Second):
		s.FailNow("expected an activity message")
	}
}
