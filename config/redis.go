package config

import (
	"fmt"
	"net/url"
)

// RedisConfig contains Redis connection configuration for the journal and
// the reconciler.
type RedisConfig struct {
	// URL is the Redis connection URL.
	// Supports: redis://, rediss://, redis-sentinel://, redis-cluster://
	URL string `yaml:"url"`

	// PoolSize is the maximum number of socket connections.
	// Default: 20
	PoolSize int `yaml:"pool_size,omitempty"`

	// MinIdleConns is the minimum number of idle connections to maintain.
	// Default: 0 (connections created on demand)
	MinIdleConns int `yaml:"min_idle_conns,omitempty"`

	// PoolTimeoutSeconds is how long to wait for a connection from the pool.
	// Default: 0 (go-redis default)
	PoolTimeoutSeconds int `yaml:"pool_timeout_seconds,omitempty"`

	// ConnMaxIdleTimeSeconds closes connections idle for longer than this.
	// Default: 0 (never)
	ConnMaxIdleTimeSeconds int `yaml:"conn_max_idle_time_seconds,omitempty"`

	// Namespace configures Redis key prefixes.
	Namespace RedisNamespaceConfig `yaml:"namespace,omitempty"`
}

// RedisNamespaceConfig contains Redis key namespace/prefix configuration.
// Components use transport/redis.KeyBuilder to construct keys from this config.
type RedisNamespaceConfig struct {
	// BasePrefix is the root prefix for all keys (default: "txrelay")
	BasePrefix string `yaml:"base_prefix,omitempty"`

	// JournalPrefix names the outcome journal stream (default: "journal")
	// Full key: {BasePrefix}:{JournalPrefix}
	JournalPrefix string `yaml:"journal_prefix,omitempty"`

	// AmbiguousPrefix names the hash of unresolved transaction ids
	// (default: "ambiguous")
	// Full key: {BasePrefix}:{AmbiguousPrefix}
	AmbiguousPrefix string `yaml:"ambiguous_prefix,omitempty"`

	// BatchesPrefix is the prefix for finished batch results (default: "batches")
	// Full key: {BasePrefix}:{BatchesPrefix}:{batchID}
	BatchesPrefix string `yaml:"batches_prefix,omitempty"`

	// ConsumerGroupPrefix is the reconciler consumer group suffix
	// (default: "reconcilers")
	// Full group name: {BasePrefix}-{ConsumerGroupPrefix}
	ConsumerGroupPrefix string `yaml:"consumer_group_prefix,omitempty"`
}

// DefaultRedisNamespaceConfig returns the default namespace configuration.
func DefaultRedisNamespaceConfig() RedisNamespaceConfig {
	return RedisNamespaceConfig{
		BasePrefix:          "txrelay",
		JournalPrefix:       "journal",
		AmbiguousPrefix:     "ambiguous",
		BatchesPrefix:       "batches",
		ConsumerGroupPrefix: "reconcilers",
	}
}

// WithDefaults fills empty namespace fields.
func (n RedisNamespaceConfig) WithDefaults() RedisNamespaceConfig {
	d := DefaultRedisNamespaceConfig()
	if n.BasePrefix == "" {
		n.BasePrefix = d.BasePrefix
	}
	if n.JournalPrefix == "" {
		n.JournalPrefix = d.JournalPrefix
	}
	if n.AmbiguousPrefix == "" {
		n.AmbiguousPrefix = d.AmbiguousPrefix
	}
	if n.BatchesPrefix == "" {
		n.BatchesPrefix = d.BatchesPrefix
	}
	if n.ConsumerGroupPrefix == "" {
		n.ConsumerGroupPrefix = d.ConsumerGroupPrefix
	}
	return n
}

// Validate checks the URL and pool settings. An empty URL is valid and
// disables Redis.
func (c RedisConfig) Validate(field string) error {
	if c.URL == "" {
		return nil
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid %s.url: %w", field, err)
	}
	switch u.Scheme {
	case "redis", "rediss", "redis-sentinel", "redis-cluster":
	default:
		return fmt.Errorf("invalid %s.url: unsupported scheme %q", field, u.Scheme)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("%s.pool_size must be >= 0 (0 = use default)", field)
	}
	if c.MinIdleConns < 0 {
		return fmt.Errorf("%s.min_idle_conns must be >= 0 (0 = use default)", field)
	}
	if c.PoolTimeoutSeconds < 0 {
		return fmt.Errorf("%s.pool_timeout_seconds must be >= 0 (0 = use default)", field)
	}
	if c.ConnMaxIdleTimeSeconds < 0 {
		return fmt.Errorf("%s.conn_max_idle_time_seconds must be >= 0 (0 = use default)", field)
	}
	return nil
}
