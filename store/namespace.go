package store

import (
	"fmt"

	"github.com/dsbaars/bunker46/config"
)

// KeyBuilder builds Redis keys with configured prefixes.
type KeyBuilder struct {
	ns config.RedisNamespaceConfig
}

// NewKeyBuilder creates a KeyBuilder with the given namespace configuration.
func NewKeyBuilder(ns config.RedisNamespaceConfig) *KeyBuilder {
	return &KeyBuilder{ns: ns}
}

// ConnKey builds the key holding a connection record.
// Format: {base}:{conn}:{connectionID}
func (kb *KeyBuilder) ConnKey(connectionID string) string {
	return fmt.Sprintf("%s:%s:%s", kb.ns.BasePrefix, kb.ns.ConnPrefix, connectionID)
}

// ConnSetKey builds the key of the set holding every connection id.
// Format: {base}:{conn}:all
func (kb *KeyBuilder) ConnSetKey() string {
	return fmt.Sprintf("%s:%s:all", kb.ns.BasePrefix, kb.ns.ConnPrefix)
}

// ConnSignerSetKey builds the key of the set holding connection ids for a
// signer key. Format: {base}:{conn}:signer:{signerPubkey}
func (kb *KeyBuilder) ConnSignerSetKey(signerPubkey string) string {
	return fmt.Sprintf("%s:%s:signer:%s", kb.ns.BasePrefix, kb.ns.ConnPrefix, signerPubkey)
}

// ConnLiveIndexKey builds the unique-live-connection index key for a
// (client, signer) pair. At most one PENDING or ACTIVE connection may hold
// this key. Format: {base}:{conn}:live:{clientPubkey}:{signerPubkey}
func (kb *KeyBuilder) ConnLiveIndexKey(clientPubkey, signerPubkey string) string {
	return fmt.Sprintf("%s:%s:live:%s:%s", kb.ns.BasePrefix, kb.ns.ConnPrefix, clientPubkey, signerPubkey)
}

// ConnLatestKey builds the latest-connection lookup key for a
// (client, signer) pair. Unlike the live index it survives revocation,
// so revoked pairings still resolve to their record.
// Format: {base}:{conn}:latest:{clientPubkey}:{signerPubkey}
func (kb *KeyBuilder) ConnLatestKey(clientPubkey, signerPubkey string) string {
	return fmt.Sprintf("%s:%s:latest:%s:%s", kb.ns.BasePrefix, kb.ns.ConnPrefix, clientPubkey, signerPubkey)
}

// AuditStreamKey builds the global audit stream key.
// Format: {base}:{audit}
func (kb *KeyBuilder) AuditStreamKey() string {
	return fmt.Sprintf("%s:%s", kb.ns.BasePrefix, kb.ns.AuditPrefix)
}

// AuditConnStreamKey builds the per-connection audit stream key.
// Format: {base}:{audit}:{connectionID}
func (kb *KeyBuilder) AuditConnStreamKey(connectionID string) string {
	return fmt.Sprintf("%s:%s:%s", kb.ns.BasePrefix, kb.ns.AuditPrefix, connectionID)
}

// EventChannel builds a pub/sub channel name.
// Format: {base}:{events}:{channel}
func (kb *KeyBuilder) EventChannel(channel string) string {
	return fmt.Sprintf("%s:%s:%s", kb.ns.BasePrefix, kb.ns.EventsPrefix, channel)
}

// RelaysKey builds the key of the configured relay list.
// Format: {base}:{relays}
func (kb *KeyBuilder) RelaysKey() string {
	return fmt.Sprintf("%s:%s", kb.ns.BasePrefix, kb.ns.RelaysKey)
}
