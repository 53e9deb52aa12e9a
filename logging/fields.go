// Package logging provides centralized logging utilities for the bunker
// daemon. It defines standardized field names and helper functions to ensure
// consistent structured logging across all components.
package logging

// Standard field name constants for structured logging.
// Using constants ensures consistency and prevents typos across the codebase.
const (
	// Component identification
	FieldComponent = "component"

	// Key/identity fields
	FieldSigner       = "signer"
	FieldClient       = "client"
	FieldKeyID        = "key_id"
	FieldConnectionID = "connection_id"

	// RPC fields
	FieldMethod    = "method"
	FieldRequestID = "request_id"
	FieldEventKind = "event_kind"
	FieldResult    = "result"
	FieldReason    = "reason"

	// Relay fields
	FieldRelay      = "relay"
	FieldRelayCount = "relay_count"

	// Network fields
	FieldAddr       = "addr"
	FieldListenAddr = "listen_addr"
	FieldRemoteAddr = "remote_addr"

	// Timing fields
	FieldDuration = "duration"
	FieldAttempt  = "attempt"

	// Count/size fields
	FieldCount = "count"
	FieldSize  = "size"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"
	FieldStatus    = "status"

	// Crypto fields
	FieldScheme = "scheme"

	// Storage fields
	FieldKey    = "key"
	FieldStream = "stream"
)

// Component name constants used with FieldComponent.
const (
	ComponentService        = "bunker_service"
	ComponentListener       = "relay_listener"
	ComponentDecoder        = "event_decoder"
	ComponentDispatcher     = "rpc_dispatcher"
	ComponentPublisher      = "response_publisher"
	ComponentPendingSecrets = "pending_secrets"
	ComponentRelayPool      = "relay_pool"
	ComponentKeyProvider    = "key_provider"
	ComponentConnStore      = "connection_store"
	ComponentAuditSink      = "audit_sink"
	ComponentActivityBus    = "activity_bus"
	ComponentObservability  = "observability"
	ComponentAdminAPI       = "admin_api"
)

// ShortKey returns a truncated form of a hex pubkey for log output.
// Full pubkeys are 64 chars and make log lines unreadable.
func ShortKey(pubkey string) string {
	if len(pubkey) <= 12 {
		return pubkey
	}
	return pubkey[:12] + "..."
}
