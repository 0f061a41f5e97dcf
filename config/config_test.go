package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Chain.RPCURL = "https://api.devnet.solana.com"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, "confirmed", cfg.Chain.Commitment)
	require.Equal(t, 3, cfg.Chain.RetryBudget)
	require.Equal(t, 10*time.Second, cfg.Chain.CallTimeout)
	require.Equal(t, 4, cfg.Relay.Parallelism)
	require.Equal(t, int64(1_000_000_000), cfg.Relay.AmountCeiling)
	require.True(t, cfg.Relay.WaitForConfirmation)
	require.Equal(t, 100, cfg.HTTP.MaxBatchSize)
	require.False(t, cfg.Metrics.Enabled)

	// The endpoint has no default.
	require.Error(t, cfg.Validate())
	require.NoError(t, validConfig().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "missing rpc url", mutate: func(c *Config) { c.Chain.RPCURL = "" }, wantErr: "chain.rpc_url is required"},
		{name: "bad rpc scheme", mutate: func(c *Config) { c.Chain.RPCURL = "ftp://node" }, wantErr: "scheme must be http or https"},
		{name: "bad commitment", mutate: func(c *Config) { c.Chain.Commitment = "rooted" }, wantErr: "invalid chain.commitment"},
		{name: "negative budget", mutate: func(c *Config) { c.Chain.RetryBudget = -1 }, wantErr: "chain.retry_budget"},
		{name: "backoff order", mutate: func(c *Config) { c.Chain.RetryBaseBackoff = time.Minute }, wantErr: "retry_base_backoff"},
		{name: "zero parallelism", mutate: func(c *Config) { c.Relay.Parallelism = 0 }, wantErr: "relay.parallelism"},
		{name: "zero ceiling", mutate: func(c *Config) { c.Relay.AmountCeiling = 0 }, wantErr: "relay.amount_ceiling"},
		{name: "default amount over ceiling", mutate: func(c *Config) { c.Relay.DefaultAmount = c.Relay.AmountCeiling + 1 }, wantErr: "relay.default_amount"},
		{name: "bad redis scheme", mutate: func(c *Config) { c.Journal.Redis.URL = "memcached://x" }, wantErr: "journal.redis.url"},
		{name: "negative pool", mutate: func(c *Config) {
			c.Journal.Redis.URL = "redis://localhost:6379"
			c.Journal.Redis.PoolSize = -1
		}, wantErr: "journal.redis.pool_size"},
		{name: "bad batch compression", mutate: func(c *Config) { c.Journal.Redis.BatchCompression = "max" }, wantErr: "journal.redis.batch_compression"},
		{name: "zero batch size", mutate: func(c *Config) { c.HTTP.MaxBatchSize = 0 }, wantErr: "http.max_batch_size"},
		{name: "metrics without addr", mutate: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = ""
		}, wantErr: "metrics.addr"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "invalid logging config"},
		{name: "zero retry budget is valid", mutate: func(c *Config) { c.Chain.RetryBudget = 0 }},
		{name: "sentinel url is valid", mutate: func(c *Config) { c.Journal.Redis.URL = "redis-sentinel://h1:26379,h2:26379/mymaster" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	data := []byte(`
chain:
  rpc_url: http://127.0.0.1:8899
  retry_budget: 0
  call_timeout: 3s
relay:
  parallelism: 8
journal:
  file_path: /var/lib/txrelay/journal.jsonl
  redis:
    url: redis://localhost:6379
    max_len: 5000
logging:
  level: debug
  format: text
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "http://127.0.0.1:8899", cfg.Chain.RPCURL)
	require.Equal(t, 0, cfg.Chain.RetryBudget)
	require.Equal(t, 3*time.Second, cfg.GetCallTimeout())
	require.Equal(t, 8, cfg.Relay.Parallelism)
	require.Equal(t, int64(5000), cfg.Journal.Redis.MaxLen)
	require.Equal(t, "redis://localhost:6379", cfg.Journal.Redis.URL)
	require.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	require.Equal(t, "confirmed", cfg.Chain.Commitment)
	require.Equal(t, int64(60000), cfg.Journal.Redis.ClaimIdleTimeoutMs)
	require.Equal(t, 100, cfg.HTTP.MaxBatchSize)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chain: [unterminated"), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse config file")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_Getters(t *testing.T) {
	cfg := &Config{}
	require.Equal(t, 10*time.Second, cfg.GetCallTimeout())
	require.Equal(t, 60*time.Second, cfg.GetConfirmTimeout())
	require.Equal(t, time.Minute, cfg.GetClaimIdleTimeout())
	require.NotEmpty(t, cfg.GetConsumerName())

	cfg.Inbox.Dir = "/spool"
	require.Equal(t, filepath.Join("/spool", "results"), cfg.GetInboxResultsDir())
	require.Equal(t, filepath.Join("/spool", "processed"), cfg.GetInboxProcessedDir())

	cfg.Journal.Redis.ConsumerName = "reconciler-a"
	require.Equal(t, "reconciler-a", cfg.GetConsumerName())
}

func TestRedisNamespace_WithDefaults(t *testing.T) {
	ns := RedisNamespaceConfig{BasePrefix: "custom"}.WithDefaults()
	require.Equal(t, "custom", ns.BasePrefix)
	require.Equal(t, "journal", ns.JournalPrefix)
	require.Equal(t, "reconcilers", ns.ConsumerGroupPrefix)
}
