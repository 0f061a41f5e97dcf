// Package cmd implements the transfer-relay command line.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solrelay/transfer-relay/config"
)

const (
	flagConfig        = "config"
	flagEndpoint      = "endpoint"
	flagTimeout       = "timeout"
	flagRetryBudget   = "retry-budget"
	flagAmountCeiling = "amount-ceiling"
	flagParallelism   = "parallelism"
	flagJournalFile   = "journal-file"
	flagRedisURL      = "redis-url"
	flagLogLevel      = "log-level"
	flagLogFormat     = "log-format"
)

// Global flags, bound on the root command.
var (
	globalConfigPath    string
	globalEndpoint      string
	globalTimeout       time.Duration
	globalRetryBudget   int
	globalAmountCeiling int64
	globalParallelism   int
	globalJournalFile   string
	globalRedisURL      string
	globalLogLevel      string
	globalLogFormat     string
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	// Version is the short version, e.g. v1.2.3-abcdef0.
	Version string
	// Details is the multi-line output of `version`.
	Details string
}

var buildInfo = BuildInfo{Version: "dev", Details: "dev"}

// NewRootCmd returns the root command with every subcommand attached.
func NewRootCmd(info BuildInfo) *cobra.Command {
	buildInfo = info

	root := &cobra.Command{
		Use:   "relay",
		Short: "Relay batches of token transfers to a Solana cluster",
		Long: `Relay batches of token transfers to a Solana cluster.

Each transfer is built, signed and submitted independently; one bad credential
never stops the rest of the batch. Every job ends Confirmed, Rejected or
Ambiguous. Ambiguous transactions are journaled with their transaction id and
can be resolved later with 'relay reconcile'.

Secret keys are never logged or echoed. Logs and journals identify senders by
a short one-way fingerprint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	flags := root.PersistentFlags()
	flags.StringVar(&globalConfigPath, flagConfig, "", "Path to YAML config file")
	flags.StringVar(&globalEndpoint, flagEndpoint, "", "Solana JSON-RPC endpoint (overrides chain.rpc_url)")
	flags.DurationVar(&globalTimeout, flagTimeout, 0, "Per-call RPC timeout (overrides chain.call_timeout)")
	flags.IntVar(&globalRetryBudget, flagRetryBudget, 0, "Extra attempts for retryable RPC failures (overrides chain.retry_budget)")
	flags.Int64Var(&globalAmountCeiling, flagAmountCeiling, 0, "Largest amount per transfer in base units (overrides relay.amount_ceiling)")
	flags.IntVar(&globalParallelism, flagParallelism, 0, "Jobs processed concurrently (overrides relay.parallelism)")
	flags.StringVar(&globalJournalFile, flagJournalFile, "", "Append-only outcome journal file (overrides journal.file_path)")
	flags.StringVar(&globalRedisURL, flagRedisURL, "", "Redis URL for the outcome journal (overrides journal.redis.url)")
	flags.StringVar(&globalLogLevel, flagLogLevel, "", "Log level: debug, info, warn, error")
	flags.StringVar(&globalLogFormat, flagLogFormat, "", "Log format: json or text")

	root.AddCommand(
		SendCmd(),
		BatchCmd(),
		ServeCmd(),
		WatchCmd(),
		ReconcileCmd(),
		VersionCmd(),
	)
	return root
}

// loadConfig reads --config, applies flag overrides and validates the result.
// Only flags the user actually set override the file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(globalConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	changed := cmd.Flags().Changed
	if changed(flagEndpoint) {
		cfg.Chain.RPCURL = globalEndpoint
	}
	if changed(flagTimeout) {
		cfg.Chain.CallTimeout = globalTimeout
	}
	if changed(flagRetryBudget) {
		cfg.Chain.RetryBudget = globalRetryBudget
	}
	if changed(flagAmountCeiling) {
		cfg.Relay.AmountCeiling = globalAmountCeiling
	}
	if changed(flagParallelism) {
		cfg.Relay.Parallelism = globalParallelism
	}
	if changed(flagJournalFile) {
		cfg.Journal.FilePath = globalJournalFile
	}
	if changed(flagRedisURL) {
		cfg.Journal.Redis.URL = globalRedisURL
	}
	if changed(flagLogLevel) {
		cfg.Logging.Level = globalLogLevel
	}
	if changed(flagLogFormat) {
		cfg.Logging.Format = globalLogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, usageError(fmt.Errorf("invalid configuration: %w", err))
	}
	return cfg, nil
}
