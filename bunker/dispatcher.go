package bunker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dsbaars/bunker46/logging"
	"github.com/dsbaars/bunker46/nip46"
	"github.com/dsbaars/bunker46/store"
)

// methodHandler executes one RPC method. It returns the result string and,
// for sign_event, the kind of the signed event (for audit records).
type methodHandler func(ctx context.Context, conn *store.Connection, req *nip46.Request, secretKey string) (string, *int, error)

// Dispatcher routes validated requests through the permission gate to
// their method handlers and records an audit entry for every dispatch.
type Dispatcher struct {
	logger      logging.Logger
	connections *store.ConnectionStore
	audit       *store.AuditSink
	signer      Signer
	table       map[nip46.Method]methodHandler
}

func NewDispatcher(logger logging.Logger, connections *store.ConnectionStore, audit *store.AuditSink, signer Signer) *Dispatcher {
	d := &Dispatcher{
		logger:      logging.ForComponent(logger, logging.ComponentDispatcher),
		connections: connections,
		audit:       audit,
		signer:      signer,
	}
	d.table = map[nip46.Method]methodHandler{
		nip46.MethodConnect:      d.handleConnect,
		nip46.MethodSignEvent:    d.handleSignEvent,
		nip46.MethodPing:         d.handlePing,
		nip46.MethodGetPublicKey: d.handleGetPublicKey,
		nip46.MethodNIP04Encrypt: d.cryptHandler(nip46.MethodNIP04Encrypt),
		nip46.MethodNIP04Decrypt: d.cryptHandler(nip46.MethodNIP04Decrypt),
		nip46.MethodNIP44Encrypt: d.cryptHandler(nip46.MethodNIP44Encrypt),
		nip46.MethodNIP44Decrypt: d.cryptHandler(nip46.MethodNIP44Decrypt),
		nip46.MethodSwitchRelays: d.handleSwitchRelays,
	}
	return d
}

// Dispatch executes one request against its connection and always returns
// a response carrying the request id: a result on success, the error
// string otherwise. Panics inside a handler are contained and surface as
// an internal error response.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *store.Connection, req *nip46.Request, secretKey string) *nip46.Response {
	start := time.Now()

	var (
		result    string
		eventKind *int
		err       error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.PanicRecoveriesTotal.WithLabelValues(logging.ComponentDispatcher).Inc()
				d.logger.Error().
					Str(logging.FieldConnectionID, conn.ID).
					Str(logging.FieldMethod, string(req.Method)).
					Interface("panic_value", r).
					Msg("panic during method dispatch")
				err = fmt.Errorf("internal error: %v", r)
			}
		}()

		// The revoked gate runs before any method logic, connect included.
		if conn.Status == store.StatusRevoked {
			err = ErrConnectionRevoked
			return
		}
		handler, ok := d.table[req.Method]
		if !ok {
			err = fmt.Errorf("Unknown method: %s", req.Method)
			return
		}
		result, eventKind, err = handler(ctx, conn, req, secretKey)
	}()

	elapsed := time.Since(start)
	d.record(ctx, conn, req, eventKind, elapsed, err)

	if err != nil {
		d.logger.Warn().
			Err(err).
			Str(logging.FieldConnectionID, conn.ID).
			Str(logging.FieldMethod, string(req.Method)).
			Str(logging.FieldRequestID, req.ID).
			Msg("request rejected")
		return &nip46.Response{ID: req.ID, Error: err.Error()}
	}
	d.logger.Info().
		Str(logging.FieldConnectionID, conn.ID).
		Str(logging.FieldMethod, string(req.Method)).
		Str(logging.FieldRequestID, req.ID).
		Dur("duration", elapsed).
		Msg("request handled")
	return &nip46.Response{ID: req.ID, Result: result}
}

func (d *Dispatcher) record(ctx context.Context, conn *store.Connection, req *nip46.Request, eventKind *int, elapsed time.Duration, dispatchErr error) {
	auditResult := store.ResultApproved
	metricResult := resultOK
	errMsg := ""
	switch {
	case dispatchErr == nil:
	case errors.Is(dispatchErr, ErrConnectionRevoked), errors.Is(dispatchErr, ErrPermissionDenied):
		auditResult = store.ResultDenied
		metricResult = resultDenied
		errMsg = dispatchErr.Error()
	default:
		auditResult = store.ResultError
		metricResult = resultError
		errMsg = dispatchErr.Error()
	}

	rpcRequestsTotal.WithLabelValues(string(req.Method), metricResult).Inc()
	rpcDurationSeconds.WithLabelValues(string(req.Method)).Observe(elapsed.Seconds())

	if conn.Status != store.StatusRevoked {
		if err := d.connections.TouchActivity(ctx, conn.ID); err != nil {
			d.logger.Warn().Err(err).Str(logging.FieldConnectionID, conn.ID).Msg("failed to touch connection activity")
		}
	}
	d.audit.Record(ctx, store.AuditEntry{
		ConnectionID: conn.ID,
		Method:       string(req.Method),
		EventKind:    eventKind,
		Result:       auditResult,
		DurationMs:   elapsed.Milliseconds(),
		ErrorMessage: errMsg,
		LogDetail:    conn.LoggingEnabled,
	})
}

// handleConnect activates a pending connection, applies any permissions
// from the third parameter and acknowledges with the pairing secret when
// one is on record, "ack" otherwise.
func (d *Dispatcher) handleConnect(ctx context.Context, conn *store.Connection, req *nip46.Request, _ string) (string, *int, error) {
	if conn.Status == store.StatusPending {
		if err := d.connections.UpdateStatus(ctx, conn.ID, store.StatusActive); err != nil {
			return "", nil, fmt.Errorf("activating connection: %w", err)
		}
		conn.Status = store.StatusActive
	}
	if raw := req.Param(2); raw != "" {
		perms := nip46.ParsePermissionList(raw)
		if len(perms) > 0 {
			if err := d.connections.SetPermissions(ctx, conn.ID, perms); err != nil {
				return "", nil, fmt.Errorf("storing permissions: %w", err)
			}
			conn.Permissions = perms
		}
	}
	if conn.Secret != "" {
		return conn.Secret, nil, nil
	}
	return "ack", nil, nil
}

func (d *Dispatcher) handleSignEvent(_ context.Context, conn *store.Connection, req *nip46.Request, secretKey string) (string, *int, error) {
	eventJSON := req.Param(0)
	if eventJSON == "" {
		return "", nil, ErrMissingEvent
	}
	var tmpl struct {
		Kind int `json:"kind"`
	}
	if err := json.Unmarshal([]byte(eventJSON), &tmpl); err != nil {
		return "", nil, fmt.Errorf("invalid event template: %w", err)
	}
	kind := tmpl.Kind
	if !nip46.Allowed(conn.Permissions, nip46.MethodSignEvent, &kind) {
		return "", &kind, fmt.Errorf("%w for sign_event kind:%d", ErrPermissionDenied, kind)
	}
	signed, err := d.signer.SignEvent(secretKey, eventJSON)
	if err != nil {
		return "", &kind, err
	}
	return signed, &kind, nil
}

func (d *Dispatcher) handlePing(context.Context, *store.Connection, *nip46.Request, string) (string, *int, error) {
	return "pong", nil, nil
}

func (d *Dispatcher) handleGetPublicKey(_ context.Context, _ *store.Connection, _ *nip46.Request, secretKey string) (string, *int, error) {
	pub, err := d.signer.PublicKey(secretKey)
	if err != nil {
		return "", nil, err
	}
	return pub, nil, nil
}

// cryptHandler builds the handler for the four encryption methods, which
// share a shape: permission gate, then (peer pubkey, payload) parameters.
func (d *Dispatcher) cryptHandler(method nip46.Method) methodHandler {
	var op func(secretKey, peerPubKey, payload string) (string, error)
	switch method {
	case nip46.MethodNIP04Encrypt:
		op = d.signer.NIP04Encrypt
	case nip46.MethodNIP04Decrypt:
		op = d.signer.NIP04Decrypt
	case nip46.MethodNIP44Encrypt:
		op = d.signer.NIP44Encrypt
	case nip46.MethodNIP44Decrypt:
		op = d.signer.NIP44Decrypt
	}
	return func(_ context.Context, conn *store.Connection, req *nip46.Request, secretKey string) (string, *int, error) {
		if !nip46.Allowed(conn.Permissions, method, nil) {
			return "", nil, fmt.Errorf("%w for %s", ErrPermissionDenied, method)
		}
		peer, payload := req.Param(0), req.Param(1)
		if peer == "" || payload == "" {
			return "", nil, ErrMissingParams
		}
		out, err := op(secretKey, peer, payload)
		if err != nil {
			return "", nil, err
		}
		return out, nil, nil
	}
}

// handleSwitchRelays reports the connection's relay override as a JSON
// array, or the literal "null" when the connection has none and the
// client should stay on its current relays.
func (d *Dispatcher) handleSwitchRelays(_ context.Context, conn *store.Connection, _ *nip46.Request, _ string) (string, *int, error) {
	if len(conn.Relays) == 0 {
		return "null", nil, nil
	}
	encoded, err := json.Marshal(conn.Relays)
	if err != nil {
		return "", nil, err
	}
	return string(encoded), nil, nil
}
