package redis

import (
	"fmt"

	"github.com/solrelay/transfer-relay/config"
)

// KeyBuilder builds Redis keys with configured prefixes.
type KeyBuilder struct {
	ns config.RedisNamespaceConfig
}

// NewKeyBuilder creates a KeyBuilder. Empty namespace fields use defaults.
func NewKeyBuilder(ns config.RedisNamespaceConfig) *KeyBuilder {
	return &KeyBuilder{ns: ns.WithDefaults()}
}

// JournalStreamKey is the append-only outcome journal stream.
// Format: {base}:{journal}
// Example: "txrelay:journal"
func (kb *KeyBuilder) JournalStreamKey() string {
	return fmt.Sprintf("%s:%s", kb.ns.BasePrefix, kb.ns.JournalPrefix)
}

// AmbiguousKey is the hash of transaction ids awaiting reconciliation,
// keyed by transaction id.
// Format: {base}:{ambiguous}
// Example: "txrelay:ambiguous"
func (kb *KeyBuilder) AmbiguousKey() string {
	return fmt.Sprintf("%s:%s", kb.ns.BasePrefix, kb.ns.AmbiguousPrefix)
}

// BatchKey stores a finished batch result.
// Format: {base}:{batches}:{batchID}
// Example: "txrelay:batches:2b1f..."
func (kb *KeyBuilder) BatchKey(batchID string) string {
	return fmt.Sprintf("%s:%s:%s", kb.ns.BasePrefix, kb.ns.BatchesPrefix, batchID)
}

// ConsumerGroup returns the reconciler consumer group name.
// Format: {base}-{consumer_group_prefix}
// Example: "txrelay-reconcilers"
func (kb *KeyBuilder) ConsumerGroup() string {
	return fmt.Sprintf("%s-%s", kb.ns.BasePrefix, kb.ns.ConsumerGroupPrefix)
}

// Namespace returns the effective namespace configuration.
func (kb *KeyBuilder) Namespace() config.RedisNamespaceConfig {
	return kb.ns
}
