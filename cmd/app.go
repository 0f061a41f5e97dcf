package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/solrelay/transfer-relay/chain"
	"github.com/solrelay/transfer-relay/config"
	"github.com/solrelay/transfer-relay/journal"
	"github.com/solrelay/transfer-relay/keys"
	"github.com/solrelay/transfer-relay/logging"
	"github.com/solrelay/transfer-relay/observability"
	"github.com/solrelay/transfer-relay/relay"
	redisutil "github.com/solrelay/transfer-relay/transport/redis"
)

// app holds the components shared by every command. Fields are nil when the
// configuration does not enable them.
type app struct {
	config *config.Config
	logger logging.Logger
	cli    logging.Logger

	rpc    *chain.RPCClient
	client chain.Client

	fileJournal  *journal.FileJournal
	redisClient  *redisutil.Client
	redisJournal *journal.RedisJournal
	redisHealth  *redisutil.HealthMonitor
	journal      *journal.MultiJournal

	sender *keys.FileProvider
	obs    *observability.Server

	relay *relay.Relay
}

type appOptions struct {
	// relay builds the batch relay.
	relay bool
	// tracker keeps live batch progress for GET /batches/:id.
	tracker bool
	// observability starts the metrics/pprof server when configured.
	observability bool
	// component labels the process_info metric.
	component string
}

// newApp wires the chain client, journals, sender key and relay from cfg.
// The caller must Close the app.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	logger := logging.NewLoggerFromConfig(cfg.Logging)
	a := &app{config: cfg, logger: logger, cli: logging.ForComponent(logger, logging.ComponentCLI)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	commitment, err := chain.ParseCommitment(cfg.Chain.Commitment)
	if err != nil {
		return nil, usageError(err)
	}

	a.rpc, err = chain.NewRPCClient(logger, chain.RPCConfig{
		Endpoint:      cfg.Chain.RPCURL,
		Commitment:    commitment,
		SkipPreflight: cfg.Chain.SkipPreflight,
		Headers:       cfg.Chain.Headers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chain client: %w", err)
	}

	a.client = chain.NewRetryingClient(logger, a.rpc, chain.RetryConfig{
		CallTimeout:         cfg.GetCallTimeout(),
		RetryBudget:         cfg.Chain.RetryBudget,
		BaseBackoff:         cfg.Chain.RetryBaseBackoff,
		MaxBackoff:          cfg.Chain.RetryMaxBackoff,
		SubmitRatePerSecond: cfg.Chain.SubmitRatePerSecond,
		SubmitBurst:         cfg.Chain.SubmitBurst,
	})
	if cfg.Chain.FreshnessReuseWindow > 0 {
		a.client = chain.NewFreshnessCache(logger, a.client, cfg.Chain.FreshnessReuseWindow)
	}

	a.cli.Info().
		Str(logging.FieldEndpoint, a.rpc.Endpoint()).
		Str(logging.FieldCommitment, string(commitment)).
		Int("retry_budget", cfg.Chain.RetryBudget).
		Msg("chain client configured")

	if err = a.openJournals(ctx); err != nil {
		return nil, err
	}

	if cfg.Relay.SenderKeyFile != "" {
		a.sender, err = keys.NewFileProvider(logger, cfg.Relay.SenderKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load sender key: %w", err)
		}
		a.sender.Watch(ctx)
	}

	if opts.observability && a.redisClient != nil {
		a.redisHealth = redisutil.NewHealthMonitor(logger, a.redisClient, 0)
		a.redisHealth.Start(ctx)
	}

	if opts.observability && (cfg.Metrics.Enabled || cfg.PProf.Enabled) {
		a.obs = observability.NewServer(logger, observability.ServerConfig{
			MetricsEnabled: cfg.Metrics.Enabled,
			MetricsAddr:    cfg.Metrics.Addr,
			PprofEnabled:   cfg.PProf.Enabled,
			PprofAddr:      cfg.PProf.Addr,
		})
		a.obs.SetReadinessCheck(a.Health)
		if err = a.obs.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start observability server: %w", err)
		}
	}
	if opts.component != "" {
		observability.ProcessInfo.WithLabelValues(buildInfo.Version, opts.component).Set(1)
	}

	if opts.relay {
		if err = a.newRelay(commitment, opts.tracker); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openJournals(ctx context.Context) error {
	cfg := a.config.Journal
	var sinks []journal.Journal

	if cfg.FilePath != "" {
		fj, err := journal.OpenFileJournal(a.logger, cfg.FilePath)
		if err != nil {
			return err
		}
		a.fileJournal = fj
		sinks = append(sinks, fj)
	}

	if cfg.Redis.URL != "" {
		client, err := redisutil.NewClient(ctx, redisutil.ClientConfigFrom(cfg.Redis.RedisConfig))
		if err != nil {
			return fmt.Errorf("failed to connect to journal redis: %w", err)
		}
		a.redisClient = client
		a.redisJournal = journal.NewRedisJournal(a.logger, client, journal.RedisJournalConfig{
			MaxLen:           cfg.Redis.MaxLen,
			BatchTTL:         cfg.Redis.BatchTTL,
			BatchCompression: redisutil.CompressionLevel(cfg.Redis.BatchCompression),
		})
		sinks = append(sinks, a.redisJournal)
		a.cli.Info().Str(logging.FieldStreamKey, client.KB().JournalStreamKey()).Msg("journaling to redis")
	}

	a.journal = journal.NewMultiJournal(sinks...)
	if a.journal.Len() == 0 {
		a.cli.Warn().Msg("no outcome journal configured; ambiguous transactions are only reported in results")
	}
	return nil
}

func (a *app) newRelay(commitment chain.Commitment, tracked bool) error {
	cfg := a.config.Relay

	var opts []relay.Option
	if a.journal.Len() > 0 {
		opts = append(opts, relay.WithJournal(a.journal))
	}
	if a.sender != nil {
		opts = append(opts, relay.WithSenderSource(a.sender))
	}
	if a.redisJournal != nil {
		opts = append(opts, relay.WithResultStore(a.redisJournal))
	}
	if tracked {
		opts = append(opts, relay.WithTracker(relay.NewTracker(cfg.TrackedBatches)))
	}

	r, err := relay.New(a.logger, a.client, relay.Config{
		Parallelism:         cfg.Parallelism,
		AmountCeiling:       cfg.AmountCeiling,
		WaitForConfirmation: cfg.WaitForConfirmation,
		Confirm: chain.ConfirmConfig{
			Commitment:   commitment,
			PollInterval: cfg.PollInterval,
		},
		ConfirmTimeout: a.config.GetConfirmTimeout(),
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to create relay: %w", err)
	}
	a.relay = r
	return nil
}

// Health reports whether the chain endpoint and, when configured, the
// journal Redis are usable.
func (a *app) Health(ctx context.Context) error {
	if err := a.client.Health(ctx); err != nil {
		return err
	}
	if a.redisHealth != nil {
		return a.redisHealth.Check(ctx)
	}
	return nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() {
	if a.relay != nil {
		a.relay.Close()
	}
	if a.obs != nil {
		_ = a.obs.Stop()
	}
	if a.redisHealth != nil {
		_ = a.redisHealth.Close()
	}
	if a.sender != nil {
		_ = a.sender.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.cli.Warn().Err(err).Msg("failed to close journal")
		}
	} else if a.fileJournal != nil {
		_ = a.fileJournal.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil && !errors.Is(err, context.Canceled) {
			a.cli.Warn().Err(err).Msg("failed to close redis client")
		}
	}
}
