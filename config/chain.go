package config

import "time"

// ChainConfig contains Solana JSON-RPC connection and retry configuration.
type ChainConfig struct {
	// RPCURL is the JSON-RPC endpoint used for blockhash queries, submission
	// and signature status polling.
	RPCURL string `yaml:"rpc_url"`

	// Commitment is the commitment level for queries and preflight.
	// One of processed, confirmed, finalized. Default: confirmed
	Commitment string `yaml:"commitment,omitempty"`

	// SkipPreflight disables node-side simulation before broadcast.
	// Default: false
	SkipPreflight bool `yaml:"skip_preflight,omitempty"`

	// Headers are sent with every RPC request, e.g. an API key header for
	// hosted endpoints.
	Headers map[string]string `yaml:"headers,omitempty"`

	// CallTimeout bounds each individual RPC attempt.
	// Default: 10s
	CallTimeout time.Duration `yaml:"call_timeout,omitempty"`

	// RetryBudget is the number of extra attempts after the first for
	// retryable failures. 0 disables retries.
	// Default: 3
	RetryBudget int `yaml:"retry_budget"`

	// RetryBaseBackoff is the delay before the first retry; it doubles on
	// each further retry up to RetryMaxBackoff.
	// Default: 1s
	RetryBaseBackoff time.Duration `yaml:"retry_base_backoff,omitempty"`

	// RetryMaxBackoff caps the retry delay.
	// Default: 30s
	RetryMaxBackoff time.Duration `yaml:"retry_max_backoff,omitempty"`

	// SubmitRatePerSecond limits transaction submissions per process.
	// Default: 0 (unlimited)
	SubmitRatePerSecond float64 `yaml:"submit_rate_per_second,omitempty"`

	// SubmitBurst is the submit limiter burst.
	// Default: 1
	SubmitBurst int `yaml:"submit_burst,omitempty"`

	// FreshnessReuseWindow lets jobs share one blockhash for this long.
	// Default: 0 (fetch per job)
	FreshnessReuseWindow time.Duration `yaml:"freshness_reuse_window,omitempty"`
}
