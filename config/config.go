// Package config holds the YAML configuration shared by every command.
//
// Loading starts from DefaultConfig, overlays the YAML file, then applies
// command-line overrides before Validate runs.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/solrelay/transfer-relay/logging"
)

// Config is the configuration for the transfer relay.
type Config struct {
	// Chain is the Solana RPC endpoint and retry policy.
	Chain ChainConfig `yaml:"chain"`

	// Relay controls batch execution.
	Relay RelayConfig `yaml:"relay"`

	// Journal selects where Confirmed and Ambiguous outcomes are recorded.
	Journal JournalConfig `yaml:"journal"`

	// HTTP configures the `serve` front end.
	HTTP HTTPConfig `yaml:"http"`

	// Inbox configures the `watch` front end.
	Inbox InboxConfig `yaml:"inbox"`

	// Metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// PProf configuration.
	PProf PprofConfig `yaml:"pprof"`

	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
}

// RelayConfig controls batch execution.
type RelayConfig struct {
	// Parallelism is the number of jobs processed concurrently.
	// Default: 4
	Parallelism int `yaml:"parallelism"`

	// AmountCeiling is the largest amount, in base units, a single transfer
	// may move.
	// Default: 1000000000
	AmountCeiling int64 `yaml:"amount_ceiling"`

	// DefaultAmount is used for credential entries that carry no amount.
	// Default: 0 (entries must carry an amount)
	DefaultAmount int64 `yaml:"default_amount,omitempty"`

	// SenderKeyFile is a YAML file holding the sender key used when a job
	// does not carry one. The file is watched and reloaded on change.
	SenderKeyFile string `yaml:"sender_key_file,omitempty"`

	// WaitForConfirmation polls each submitted transaction until it reaches
	// the chain commitment.
	// Default: true
	WaitForConfirmation bool `yaml:"wait_for_confirmation"`

	// ConfirmTimeout bounds the confirmation wait per job.
	// Default: 60s
	ConfirmTimeout time.Duration `yaml:"confirm_timeout,omitempty"`

	// PollInterval is the delay between signature status polls.
	// Default: 500ms
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`

	// TrackedBatches is how many recent batches the progress tracker keeps.
	// Default: 256
	TrackedBatches int `yaml:"tracked_batches,omitempty"`
}

// JournalConfig selects the outcome journal sinks. Both may be enabled.
type JournalConfig struct {
	// FilePath is an append-only JSON-lines file.
	FilePath string `yaml:"file_path,omitempty"`

	// Redis records outcomes to a stream and tracks ambiguous ids in a hash.
	Redis JournalRedisConfig `yaml:"redis,omitempty"`
}

// JournalRedisConfig embeds the shared RedisConfig and adds journal fields.
type JournalRedisConfig struct {
	RedisConfig `yaml:",inline"`

	// MaxLen approximately caps the journal stream length.
	// Default: 1000000
	MaxLen int64 `yaml:"max_len,omitempty"`

	// ConsumerName identifies this reconciler in the consumer group.
	// If not set, derived from the hostname and pid.
	ConsumerName string `yaml:"consumer_name,omitempty"`

	// ClaimIdleTimeoutMs is how long a journal entry may stay pending with a
	// dead reconciler before another one claims it.
	// Default: 60000
	ClaimIdleTimeoutMs int64 `yaml:"claim_idle_timeout_ms,omitempty"`

	// BatchTTL is how long finished batch results stay queryable.
	// Default: 24h
	BatchTTL time.Duration `yaml:"batch_ttl,omitempty"`

	// BatchCompression is the zstd level for stored batch results:
	// none, fastest, default, better or best.
	// Default: default
	BatchCompression string `yaml:"batch_compression,omitempty"`
}

// HTTPConfig configures the HTTP front end.
type HTTPConfig struct {
	// Addr is the listen address.
	// Default: ":8080"
	Addr string `yaml:"addr"`

	// MaxBatchSize caps the number of transfers accepted in one request.
	// Default: 100
	MaxBatchSize int `yaml:"max_batch_size"`

	// MaxBodyBytes caps the request body size.
	// Default: 1MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes,omitempty"`

	// ReadTimeout for the HTTP server.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty"`

	// WriteTimeout for the HTTP server. Must cover a whole batch.
	// Default: 5m
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

// InboxConfig configures the spool-directory front end.
type InboxConfig struct {
	// Dir is watched for new job files.
	Dir string `yaml:"dir,omitempty"`

	// Pattern filters file names, e.g. "*.txt".
	// Default: "*"
	Pattern string `yaml:"pattern,omitempty"`

	// ResultsDir receives one JSON result per processed file.
	// Default: {Dir}/results
	ResultsDir string `yaml:"results_dir,omitempty"`

	// ProcessedDir receives processed input files.
	// Default: {Dir}/processed
	ProcessedDir string `yaml:"processed_dir,omitempty"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			Commitment:       "confirmed",
			CallTimeout:      10 * time.Second,
			RetryBudget:      3,
			RetryBaseBackoff: time.Second,
			RetryMaxBackoff:  30 * time.Second,
			SubmitBurst:      1,
		},
		Relay: RelayConfig{
			Parallelism:         4,
			AmountCeiling:       1_000_000_000,
			WaitForConfirmation: true,
			ConfirmTimeout:      60 * time.Second,
			PollInterval:        500 * time.Millisecond,
			TrackedBatches:      256,
		},
		Journal: JournalConfig{
			Redis: JournalRedisConfig{
				MaxLen:             1_000_000,
				ClaimIdleTimeoutMs: 60000,
				BatchTTL:           24 * time.Hour,
				BatchCompression:   "default",
			},
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			MaxBatchSize: 100,
			MaxBodyBytes: 1 << 20,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Inbox: InboxConfig{
			Pattern: "*",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9095",
		},
		PProf: PprofConfig{
			Addr: "localhost:6060",
		},
		Logging: logging.DefaultConfig(),
	}
}

// LoadConfig loads a configuration from a YAML file on top of the defaults.
// The result is not validated; call Validate after applying overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	u, err := url.Parse(c.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("invalid chain.rpc_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid chain.rpc_url: scheme must be http or https")
	}
	switch strings.ToLower(c.Chain.Commitment) {
	case "", "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("invalid chain.commitment %q: must be processed, confirmed or finalized", c.Chain.Commitment)
	}
	if c.Chain.CallTimeout < 0 {
		return fmt.Errorf("chain.call_timeout must be >= 0")
	}
	if c.Chain.RetryBudget < 0 {
		return fmt.Errorf("chain.retry_budget must be >= 0")
	}
	if c.Chain.RetryMaxBackoff > 0 && c.Chain.RetryBaseBackoff > c.Chain.RetryMaxBackoff {
		return fmt.Errorf("chain.retry_base_backoff (%s) must not exceed chain.retry_max_backoff (%s)",
			c.Chain.RetryBaseBackoff, c.Chain.RetryMaxBackoff)
	}
	if c.Chain.SubmitRatePerSecond < 0 {
		return fmt.Errorf("chain.submit_rate_per_second must be >= 0 (0 = unlimited)")
	}
	if c.Chain.FreshnessReuseWindow < 0 {
		return fmt.Errorf("chain.freshness_reuse_window must be >= 0")
	}

	if c.Relay.Parallelism < 1 {
		return fmt.Errorf("relay.parallelism must be >= 1")
	}
	if c.Relay.AmountCeiling < 1 {
		return fmt.Errorf("relay.amount_ceiling must be >= 1")
	}
	if c.Relay.DefaultAmount < 0 || c.Relay.DefaultAmount > c.Relay.AmountCeiling {
		return fmt.Errorf("relay.default_amount must be between 0 and relay.amount_ceiling")
	}
	if c.Relay.ConfirmTimeout < 0 || c.Relay.PollInterval < 0 {
		return fmt.Errorf("relay.confirm_timeout and relay.poll_interval must be >= 0")
	}

	if err = c.Journal.Redis.Validate("journal.redis"); err != nil {
		return err
	}
	if c.Journal.Redis.MaxLen < 0 {
		return fmt.Errorf("journal.redis.max_len must be >= 0")
	}
	switch c.Journal.Redis.BatchCompression {
	case "", "none", "fastest", "default", "better", "best":
	default:
		return fmt.Errorf("invalid journal.redis.batch_compression %q: must be none, fastest, default, better or best",
			c.Journal.Redis.BatchCompression)
	}

	if c.HTTP.MaxBatchSize < 1 {
		return fmt.Errorf("http.max_batch_size must be >= 1")
	}

	if err = c.Metrics.validate(); err != nil {
		return err
	}
	if err = c.PProf.validate(); err != nil {
		return err
	}
	if err = c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	return nil
}

// GetCallTimeout returns the per-attempt RPC timeout.
func (c *Config) GetCallTimeout() time.Duration {
	if c.Chain.CallTimeout > 0 {
		return c.Chain.CallTimeout
	}
	return 10 * time.Second // Default
}

// GetConfirmTimeout returns the per-job confirmation timeout.
func (c *Config) GetConfirmTimeout() time.Duration {
	if c.Relay.ConfirmTimeout > 0 {
		return c.Relay.ConfirmTimeout
	}
	return 60 * time.Second // Default
}

// GetClaimIdleTimeout returns the reconciler claim idle timeout.
func (c *Config) GetClaimIdleTimeout() time.Duration {
	if c.Journal.Redis.ClaimIdleTimeoutMs > 0 {
		return time.Duration(c.Journal.Redis.ClaimIdleTimeoutMs) * time.Millisecond
	}
	return time.Minute // Default
}

// GetConsumerName returns the reconciler consumer name, deriving one from the
// host when unset.
func (c *Config) GetConsumerName() string {
	if c.Journal.Redis.ConsumerName != "" {
		return c.Journal.Redis.ConsumerName
	}
	hostname, _ := os.Hostname()
	return fmt.Sprintf("reconciler-%s-%d", hostname, os.Getpid())
}

// GetInboxResultsDir returns the directory for inbox result files.
func (c *Config) GetInboxResultsDir() string {
	if c.Inbox.ResultsDir != "" {
		return c.Inbox.ResultsDir
	}
	return c.Inbox.Dir + string(os.PathSeparator) + "results"
}

// GetInboxProcessedDir returns the directory for processed inbox files.
func (c *Config) GetInboxProcessedDir() string {
	if c.Inbox.ProcessedDir != "" {
		return c.Inbox.ProcessedDir
	}
	return c.Inbox.Dir + string(os.PathSeparator) + "processed"
}
