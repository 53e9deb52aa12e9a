package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dsbaars/bunker46/logging"
)

// AuditResult is the outcome recorded for a handled request.
type AuditResult string

const (
	ResultApproved AuditResult = "APPROVED"
	ResultDenied   AuditResult = "DENIED"
	ResultError    AuditResult = "ERROR"
)

const (
	// globalStreamMaxLen caps the global audit stream.
	globalStreamMaxLen = 100000

	// connStreamMaxLen caps each per-connection audit stream.
	connStreamMaxLen = 1000
)

// AuditEntry is one signing-audit record.
type AuditEntry struct {
	ConnectionID string
	Method       string

	// EventKind is set for sign_event requests only.
	EventKind *int

	Result       AuditResult
	DurationMs   int64
	ErrorMessage string

	// LogDetail mirrors the connection's logging-enabled flag: when false
	// the per-connection stream is skipped and only the global stream
	// (without the error message) is written.
	LogDetail bool
}

// AuditSink appends signing-audit records to capped Redis streams and
// notifies the activity bus. Recording is fire-and-forget: failures are
// logged and counted, never propagated, because an audit problem must not
// fail the RPC it describes.
type AuditSink struct {
	logger   logging.Logger
	client   *Client
	activity *ActivityBus
}

// NewAuditSink creates an audit sink. activity may be nil.
func NewAuditSink(logger logging.Logger, client *Client, activity *ActivityBus) *AuditSink {
	return &AuditSink{
		logger:   logging.ForComponent(logger, logging.ComponentAuditSink),
		client:   client,
		activity: activity,
	}
}

// Record appends the entry to the audit streams.
func (s *AuditSink) Record(ctx context.Context, entry AuditEntry) {
	values := map[string]interface{}{
		"connection_id": entry.ConnectionID,
		"method":        entry.Method,
		"result":        string(entry.Result),
		"duration_ms":   strconv.FormatInt(entry.DurationMs, 10),
		"ts":            strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	if entry.EventKind != nil {
		values["event_kind"] = strconv.Itoa(*entry.EventKind)
	}

	kb := s.client.KB()

	if err := s.xadd(ctx, kb.AuditStreamKey(), globalStreamMaxLen, values); err != nil {
		auditFailuresTotal.Inc()
		s.logger.Error().Err(err).Msg("failed to append global audit record")
	}

	if entry.LogDetail {
		if entry.ErrorMessage != "" {
			values["error"] = entry.ErrorMessage
		}
		if err := s.xadd(ctx, kb.AuditConnStreamKey(entry.ConnectionID), connStreamMaxLen, values); err != nil {
			auditFailuresTotal.Inc()
			s.logger.Error().Err(err).
				Str(logging.FieldConnectionID, entry.ConnectionID).
				Msg("failed to append connection audit record")
		}
	}

	auditRecordsTotal.WithLabelValues(entry.Method, string(entry.Result)).Inc()

	if s.activity != nil {
		s.activity.Publish(ctx, ActivityMessage{
			Type:         "signing",
			ConnectionID: entry.ConnectionID,
			Method:       entry.Method,
			Result:       string(entry.Result),
			Timestamp:    time.Now().UnixMilli(),
		})
	}
}

// Recent returns up to limit audit records for a connection, newest first.
func (s *AuditSink) Recent(ctx context.Context, connectionID string, limit int64) ([]AuditEntry, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.client.KB().AuditConnStreamKey(connectionID), "+", "-", limit).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]AuditEntry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, entryFromStream(msg))
	}
	return entries, nil
}

func entryFromStream(msg redis.XMessage) AuditEntry {
	entry := AuditEntry{
		ConnectionID: stringField(msg, "connection_id"),
		Method:       stringField(msg, "method"),
		Result:       AuditResult(stringField(msg, "result")),
		ErrorMessage: stringField(msg, "error"),
	}
	if v := stringField(msg, "duration_ms"); v != "" {
		entry.DurationMs, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := stringField(msg, "event_kind"); v != "" {
		if kind, err := strconv.Atoi(v); err == nil {
			entry.EventKind = &kind
		}
	}
	return entry
}

func stringField(msg redis.XMessage, field string) string {
	v, ok := msg.Values[field]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (s *AuditSink) xadd(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) error {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Err()
}
