package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/solrelay/transfer-relay/chain"
	"github.com/solrelay/transfer-relay/journal"
)

var (
	reconcileFromFile      bool
	reconcileFollow        bool
	reconcileSweepInterval time.Duration
)

// ReconcileCmd returns the command that resolves ambiguous transactions.
func ReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile [txid...]",
		Short: "Resolve ambiguous transactions against the chain",
		Long: `Ask the chain what happened to ambiguous transactions.

The ids to check come from the arguments, or with --from-file from the
unresolved Ambiguous records of the journal file, or otherwise from the
Redis ambiguous set. Every id whose fate is known gets a resolution record
(Resolved:Confirmed, Resolved:Rejected or Resolved:Expired) appended to the
configured journals. Earlier records are never modified.

With --follow the command keeps running: it reads the Redis journal stream
through a consumer group, resolves Ambiguous records as they arrive and
sweeps the ambiguous set periodically. Several followers may share the group.

The exit code is 4 while any id is still pending, otherwise 0.
`,
		RunE: runReconcile,
	}
	cmd.Flags().BoolVar(&reconcileFromFile, "from-file", false, "Read unresolved records from the journal file (journal.file_path)")
	cmd.Flags().BoolVar(&reconcileFollow, "follow", false, "Keep resolving from the Redis journal stream until interrupted")
	cmd.Flags().DurationVar(&reconcileSweepInterval, "sweep-interval", 30*time.Second, "How often --follow re-checks every open ambiguous id")
	return cmd
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if reconcileFollow && len(args) > 0 {
		return usageError(fmt.Errorf("--follow does not take transaction ids"))
	}
	if reconcileFromFile && len(args) > 0 {
		return usageError(fmt.Errorf("--from-file does not take transaction ids"))
	}
	if reconcileFromFile && cfg.Journal.FilePath == "" {
		return usageError(fmt.Errorf("--from-file needs a journal file (--journal-file or journal.file_path)"))
	}
	if (reconcileFollow || (len(args) == 0 && !reconcileFromFile)) && cfg.Journal.Redis.URL == "" {
		return usageError(fmt.Errorf("reading ambiguous ids from redis needs --redis-url or journal.redis.url"))
	}

	// Read the file before the journal is opened for appending.
	var fromFile []journal.Record
	if reconcileFromFile {
		records, err := journal.ReadFile(cfg.Journal.FilePath)
		if err != nil {
			return err
		}
		fromFile = journal.Unresolved(records)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{observability: reconcileFollow, component: "reconcile"})
	if err != nil {
		return err
	}
	defer a.Close()

	commitment, err := chain.ParseCommitment(cfg.Chain.Commitment)
	if err != nil {
		return usageError(err)
	}
	var sink journal.Journal
	if a.journal.Len() > 0 {
		sink = a.journal
	}
	reconciler := journal.NewReconciler(a.logger, a.client, sink, journal.ReconcilerConfig{
		Commitment:    commitment,
		SweepInterval: reconcileSweepInterval,
	})

	if reconcileFollow {
		consumer, err := a.redisJournal.NewConsumer(cfg.GetConsumerName(), cfg.GetClaimIdleTimeout(), 2*time.Second)
		if err != nil {
			return fmt.Errorf("failed to create journal consumer: %w", err)
		}
		defer func() { _ = consumer.Close() }()
		if err := consumer.EnsureGroup(ctx); err != nil {
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
		a.cli.Info().Str("consumer", cfg.GetConsumerName()).Msg("following journal stream")
		return reconciler.Follow(ctx, consumer, a.redisJournal)
	}

	var records []journal.Record
	switch {
	case len(args) > 0:
		for _, txID := range args {
			records = append(records, journal.Record{TransactionID: txID})
		}
	case reconcileFromFile:
		records = fromFile
	default:
		records, err = a.redisJournal.Ambiguous(ctx)
		if err != nil {
			return fmt.Errorf("failed to list ambiguous transactions: %w", err)
		}
	}

	resolutions := reconciler.ResolveAll(ctx, records)
	pending, err := printResolutions(cmd.OutOrStdout(), resolutions)
	if err != nil {
		return err
	}
	if pending > 0 {
		return &ExitError{Code: ExitAmbiguous}
	}
	return nil
}

func printResolutions(w io.Writer, resolutions []journal.Resolution) (pending int, err error) {
	for _, res := range resolutions {
		if res.Outcome == journal.Pending {
			pending++
		}
		line := fmt.Sprintf("%s %s", res.Record.TransactionID, res.Outcome)
		if res.Err != nil {
			line += ": " + res.Err.Error()
		}
		if _, err = fmt.Fprintln(w, line); err != nil {
			return pending, err
		}
	}
	return pending, nil
}
