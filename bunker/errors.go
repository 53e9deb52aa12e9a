// Package bunker implements the NIP-46 remote-signing engine: relay
// listeners per custodied key, request decoding with decrypt fallback,
// connection resolution with pending-secret auto-provisioning, permission
// enforcement, method dispatch and response publishing.
package bunker

import "errors"

// Error strings below are part of the wire protocol: remote clients match
// on them, so they keep the original capitalized forms.
var (
	// ErrUnknownClient is returned for requests from clients with no live
	// connection that cannot auto-provision one.
	ErrUnknownClient = errors.New("Unknown client")

	// ErrConnectionRevoked is returned for any request on a revoked
	// connection, before any method logic runs.
	ErrConnectionRevoked = errors.New("Connection revoked")

	// ErrPermissionDenied is the base error for permission failures; the
	// dispatcher wraps it with the method (and kind) that was denied.
	ErrPermissionDenied = errors.New("Permission denied")

	// ErrMissingParams is returned when a method is called with too few
	// parameters.
	ErrMissingParams = errors.New("Missing parameters")

	// ErrMissingEvent is returned when sign_event is called without an
	// event template.
	ErrMissingEvent = errors.New("Missing event parameter")
)

var (
	// ErrUndecryptable indicates event content that neither supported
	// encryption scheme could open. Such events are dropped silently.
	ErrUndecryptable = errors.New("undecryptable event content")

	// ErrNoRelays indicates a publish was attempted with an empty relay set.
	ErrNoRelays = errors.New("no relays to publish to")

	// ErrShuttingDown indicates the engine is closing and accepts no new work.
	ErrShuttingDown = errors.New("bunker engine is shutting down")
)
