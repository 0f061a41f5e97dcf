package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solrelay/transfer-relay/chain"
	"github.com/solrelay/transfer-relay/errkind"
	"github.com/solrelay/transfer-relay/logging"
	redisutil "github.com/solrelay/transfer-relay/transport/redis"
)

// Pending is the resolution of an id whose fate is still unknown.
const Pending = "Pending"

// AmbiguousSource lists open ambiguous records.
type AmbiguousSource interface {
	Ambiguous(ctx context.Context) ([]Record, error)
}

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	// Commitment an ambiguous transaction must reach to count as Confirmed.
	// Default: confirmed
	Commitment chain.Commitment
	// SweepInterval is how often Follow re-checks every open ambiguous id.
	// Default: 30s
	SweepInterval time.Duration
}

// Resolution is the result of checking one ambiguous transaction.
type Resolution struct {
	Record Record
	// Outcome is one of the Resolved* kinds or Pending.
	Outcome string
	Status  chain.Status
	Err     error
}

// Reconciler asks the chain what happened to ambiguous transactions and
// appends a resolution record for every id whose fate is now known.
type Reconciler struct {
	logger  logging.Logger
	client  chain.Client
	journal Journal
	config  ReconcilerConfig
	now     func() time.Time
}

// NewReconciler creates a Reconciler. journal may be nil, in which case
// resolutions are only returned.
func NewReconciler(logger logging.Logger, client chain.Client, journal Journal, cfg ReconcilerConfig) *Reconciler {
	if cfg.Commitment == "" {
		cfg.Commitment = chain.CommitmentConfirmed
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	return &Reconciler{
		logger:  logging.ForComponent(logger, logging.ComponentReconciler),
		client:  client,
		journal: journal,
		config:  cfg,
		now:     time.Now,
	}
}

// ResolveAll checks every record and journals the resolved ones.
// The current block height is fetched at most once.
func (r *Reconciler) ResolveAll(ctx context.Context, records []Record) []Resolution {
	var height *uint64
	resolutions := make([]Resolution, 0, len(records))

	for _, rec := range records {
		if ctx.Err() != nil {
			resolutions = append(resolutions, Resolution{
				Record:  rec,
				Outcome: Pending,
				Err:     errkind.Wrap(errkind.Cancelled, "reconcile", ctx.Err()),
			})
			continue
		}
		res := r.resolve(ctx, rec, &height)
		r.finish(ctx, &res)
		resolutions = append(resolutions, res)
	}
	return resolutions
}

// Resolve checks a single record and journals it when resolved.
func (r *Reconciler) Resolve(ctx context.Context, rec Record) Resolution {
	var height *uint64
	res := r.resolve(ctx, rec, &height)
	r.finish(ctx, &res)
	return res
}

func (r *Reconciler) resolve(ctx context.Context, rec Record, height **uint64) Resolution {
	res := Resolution{Record: rec, Outcome: Pending}

	if rec.TransactionID == "" {
		res.Err = errkind.New(errkind.Internal, "reconcile", "record has no transaction id")
		return res
	}

	status, err := r.client.SignatureStatus(ctx, rec.TransactionID)
	if err != nil {
		res.Err = err
		return res
	}
	res.Status = status

	switch {
	case status.Failed():
		res.Outcome = ResolvedRejected
	case status.Reached(r.config.Commitment):
		res.Outcome = ResolvedConfirmed
	case status.Found:
		// Landed but not yet at the wanted commitment.
	case rec.LastValidBlockHeight > 0:
		if *height == nil {
			h, hErr := r.client.BlockHeight(ctx)
			if hErr != nil {
				res.Err = hErr
				return res
			}
			*height = &h
		}
		if **height > rec.LastValidBlockHeight {
			res.Outcome = ResolvedExpired
		}
	}
	return res
}

func (r *Reconciler) finish(ctx context.Context, res *Resolution) {
	reconcileTotal.WithLabelValues(res.Outcome).Inc()

	logger := r.logger.With().
		Str(logging.FieldTxID, res.Record.TransactionID).
		Str(logging.FieldBatchID, res.Record.BatchID).
		Str(logging.FieldResult, res.Outcome).
		Logger()

	if res.Err != nil {
		logger.Warn().
			Err(res.Err).
			Str(logging.FieldErrorKind, errkind.Of(res.Err).String()).
			Msg("could not resolve ambiguous transaction")
		return
	}
	if res.Outcome == Pending {
		logger.Debug().Msg("ambiguous transaction still unresolved")
		return
	}

	logger.Info().Msg("ambiguous transaction resolved")

	if r.journal == nil {
		return
	}
	rec := res.Record
	rec.Timestamp = r.now()
	rec.OutcomeKind = res.Outcome
	rec.ErrorKind = ""
	if res.Outcome == ResolvedRejected {
		rec.ErrorKind = errkind.RejectedByChain.String()
	}
	if err := r.journal.Record(ctx, rec); err != nil {
		res.Err = fmt.Errorf("failed to journal resolution: %w", err)
		logger.Error().Err(err).Msg("failed to journal resolution")
	}
}

// Follow resolves ambiguous records as they appear on the journal stream and
// sweeps every open id from source each SweepInterval. It returns when ctx
// ends or the consumer channel closes.
func (r *Reconciler) Follow(ctx context.Context, consumer *redisutil.StreamConsumer, source AmbiguousSource) error {
	messages := consumer.Consume(ctx)

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	r.sweep(ctx, source)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweep(ctx, source)
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.handleMessage(ctx, msg)
			if err := consumer.Ack(ctx, msg.ID); err != nil && ctx.Err() == nil {
				r.logger.Warn().Err(err).Str(logging.FieldMessageID, msg.ID).Msg("failed to ack journal entry")
			}
		}
	}
}

func (r *Reconciler) handleMessage(ctx context.Context, msg redisutil.StreamMessage) {
	var rec Record
	if err := json.Unmarshal(msg.Data, &rec); err != nil {
		r.logger.Warn().Err(err).Str(logging.FieldMessageID, msg.ID).Msg("skipping unreadable journal entry")
		return
	}
	if rec.OutcomeKind != OutcomeAmbiguous {
		return
	}
	// Unresolved ids stay in the ambiguous hash and are retried by the sweep.
	r.Resolve(ctx, rec)
}

func (r *Reconciler) sweep(ctx context.Context, source AmbiguousSource) {
	if source == nil {
		return
	}
	records, err := source.Ambiguous(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn().Err(err).Msg("failed to list ambiguous transactions")
		}
		return
	}
	if len(records) == 0 {
		return
	}
	resolutions := r.ResolveAll(ctx, records)

	resolved := 0
	for _, res := range resolutions {
		if res.Outcome != Pending {
			resolved++
		}
	}
	r.logger.Info().
		Int(logging.FieldCount, len(records)).
		Int("resolved", resolved).
		Msg("ambiguous sweep finished")
}
