package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/solrelay/transfer-relay/chain"
	"github.com/solrelay/transfer-relay/errkind"
	"github.com/solrelay/transfer-relay/journal"
	"github.com/solrelay/transfer-relay/keys"
	"github.com/solrelay/transfer-relay/logging"
	"github.com/solrelay/transfer-relay/transfer"
)

const (
	// DefaultParallelism is the number of jobs run at once.
	DefaultParallelism = 4

	// DefaultConfirmTimeout bounds the confirmation wait of one job.
	DefaultConfirmTimeout = 60 * time.Second

	// DefaultDuplicateRetries is how often a job whose transaction id equals
	// an earlier job's rebuilds against a new blockhash.
	DefaultDuplicateRetries = 3

	// DefaultDuplicateBackoff is the wait before such a rebuild, roughly one
	// slot so the next blockhash differs.
	DefaultDuplicateBackoff = 400 * time.Millisecond
)

// Config configures a Relay. It is fixed at construction.
type Config struct {
	// Parallelism is the maximum number of jobs in flight.
	// Default: DefaultParallelism
	Parallelism int

	// AmountCeiling is the largest accepted amount in base units.
	// Default: transfer.DefaultAmountCeiling
	AmountCeiling int64

	// WaitForConfirmation makes each job poll until its transaction reaches
	// Confirm.Commitment. Otherwise a successful submit is Confirmed.
	WaitForConfirmation bool
	Confirm             chain.ConfirmConfig

	// ConfirmTimeout bounds the confirmation wait. Default: DefaultConfirmTimeout
	ConfirmTimeout time.Duration

	DuplicateRetries int
	DuplicateBackoff time.Duration
}

// SenderSource supplies the sender for jobs that carry no sender key.
type SenderSource interface {
	SenderKey() keys.SigningKey
}

// StaticSender returns a SenderSource that always yields key.
func StaticSender(key keys.SigningKey) SenderSource {
	return staticSender{key: key}
}

type staticSender struct {
	key keys.SigningKey
}

func (s staticSender) SenderKey() keys.SigningKey {
	return s.key
}

// ResultStore keeps finished batch results after the tracker forgot them.
type ResultStore interface {
	SaveBatch(ctx context.Context, batchID string, data []byte) error
}

// FreshnessInvalidator drops a cached freshness token.
type FreshnessInvalidator interface {
	Invalidate()
}

// Option configures optional collaborators of a Relay.
type Option func(*Relay)

// WithJournal records Confirmed and Ambiguous outcomes to j.
func WithJournal(j journal.Journal) Option {
	return func(r *Relay) {
		r.journal = j
	}
}

// WithTracker publishes live job states to t.
func WithTracker(t *Tracker) Option {
	return func(r *Relay) {
		r.tracker = t
	}
}

// WithSenderSource sets the default sender.
func WithSenderSource(s SenderSource) Option {
	return func(r *Relay) {
		r.sender = s
	}
}

// WithResultStore saves every finished batch result to s.
func WithResultStore(s ResultStore) Option {
	return func(r *Relay) {
		r.results = s
	}
}

// WithFreshnessInvalidator sets what to invalidate before a duplicate
// rebuild. By default the client is used when it implements
// FreshnessInvalidator.
func WithFreshnessInvalidator(inv FreshnessInvalidator) Option {
	return func(r *Relay) {
		r.invalidator = inv
	}
}

// Relay runs batches of transfers against a chain client.
// A Relay is safe for concurrent use; batches share its worker pool.
type Relay struct {
	logger      logging.Logger
	client      chain.Client
	builder     *transfer.Builder
	signer      *transfer.Signer
	journal     journal.Journal
	tracker     *Tracker
	sender      SenderSource
	results     ResultStore
	invalidator FreshnessInvalidator
	config      Config

	pool      pond.Pool
	closeOnce sync.Once
	closed    atomic.Bool

	now func() time.Time
}

// New creates a Relay.
func New(logger logging.Logger, client chain.Client, config Config, opts ...Option) (*Relay, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is required")
	}
	if config.Parallelism <= 0 {
		config.Parallelism = DefaultParallelism
	}
	if config.ConfirmTimeout <= 0 {
		config.ConfirmTimeout = DefaultConfirmTimeout
	}
	if config.Confirm.Commitment == "" {
		config.Confirm.Commitment = chain.CommitmentConfirmed
	}
	if config.DuplicateRetries <= 0 {
		config.DuplicateRetries = DefaultDuplicateRetries
	}
	if config.DuplicateBackoff <= 0 {
		config.DuplicateBackoff = DefaultDuplicateBackoff
	}

	logger = logging.ForComponent(logger, logging.ComponentBatchRelay)
	r := &Relay{
		logger:  logger,
		client:  client,
		builder: transfer.NewBuilder(logger, transfer.BuilderConfig{AmountCeiling: config.AmountCeiling}),
		signer:  transfer.NewSigner(logger),
		config:  config,
		pool:    pond.NewPool(config.Parallelism),
		now:     time.Now,
	}
	if inv, ok := client.(FreshnessInvalidator); ok {
		r.invalidator = inv
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the effective configuration.
func (r *Relay) Config() Config {
	return r.config
}

// Tracker returns the progress tracker, or nil.
func (r *Relay) Tracker() *Tracker {
	return r.tracker
}

// Close stops the worker pool after running jobs finish. Batches started
// after Close end with every job Rejected as Cancelled.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.pool.StopAndWait()
	})
}

// Run relays jobs as a new batch. See RunBatch.
func (r *Relay) Run(ctx context.Context, jobs []TransferJob) *Result {
	return r.RunBatch(ctx, uuid.NewString(), jobs)
}

// RunBatch relays jobs and returns exactly one outcome per job, in input
// order. It never fails as a whole: every problem is captured in the job's
// outcome.
//
// Once ctx ends, jobs that have not started are Rejected as Cancelled. Jobs
// already running finish on a context detached from ctx, so no submission is
// abandoned mid-flight.
func (r *Relay) RunBatch(ctx context.Context, batchID string, jobs []TransferJob) *Result {
	batch := &batchRun{
		id:       batchID,
		logger:   logging.WithBatch(r.logger, batchID),
		txIDs:    xsync.NewMap[string, int](),
		progress: r.trackerStart(batchID, len(jobs)),
	}
	result := &Result{
		BatchID:   batchID,
		Outcomes:  make([]Outcome, len(jobs)),
		StartedAt: r.now(),
	}

	batchesTotal.Inc()
	batchSize.Observe(float64(len(jobs)))
	batch.logger.Info().Int(logging.FieldBatchSize, len(jobs)).Msg("batch started")

	if r.closed.Load() {
		for i, job := range jobs {
			result.Outcomes[i] = r.cancelled(batch, i, job, errors.New("relay is closed"))
		}
		result.Cancelled = len(jobs) > 0
	} else {
		var cancelled atomic.Bool
		tasks := make([]pond.Task, len(jobs))
		for i, job := range jobs {
			tasks[i] = r.pool.Submit(func() {
				if err := ctx.Err(); err != nil {
					cancelled.Store(true)
					result.Outcomes[i] = r.cancelled(batch, i, job, err)
					return
				}
				result.Outcomes[i] = r.runJob(context.WithoutCancel(ctx), batch, i, job)
			})
		}
		// Each task is awaited on its own so an outcome is only filled in
		// once its task can no longer write it. Tasks rejected because Close
		// stopped the pool, or that died outside runJob, never produced one.
		for i, task := range tasks {
			err := task.Wait()
			if result.Outcomes[i].State != "" {
				continue
			}
			if errors.Is(err, pond.ErrPoolStopped) {
				cancelled.Store(true)
				result.Outcomes[i] = r.cancelled(batch, i, jobs[i], errors.New("relay is closed"))
				continue
			}
			if err == nil {
				err = errors.New("job produced no outcome")
			}
			batch.logger.Error().Err(err).Int(logging.FieldJobIndex, i).Msg("job task failed")
			result.Outcomes[i] = r.rejectUnrun(batch, i, jobs[i], errkind.Wrap(errkind.Internal, "run_job", err))
		}
		result.Cancelled = cancelled.Load()
	}

	result.FinishedAt = r.now()
	result.Summary = Summarize(result.Outcomes)
	result.JournalErrors = int(batch.journalErrors.Load())
	batch.progress.complete(result.FinishedAt)
	batchDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())

	r.saveResult(batch, result)

	batch.logger.Info().
		Int(logging.FieldCount, result.Summary.Total).
		Int("confirmed", result.Summary.Confirmed).
		Int("rejected", result.Summary.Rejected).
		Int("ambiguous", result.Summary.Ambiguous).
		Bool("cancelled", result.Cancelled).
		Int("journal_errors", result.JournalErrors).
		Dur(logging.FieldDuration, result.FinishedAt.Sub(result.StartedAt)).
		Msg("batch finished")

	return result
}

func (r *Relay) trackerStart(batchID string, total int) *BatchProgress {
	if r.tracker == nil {
		return nil
	}
	return r.tracker.Start(batchID, total)
}

func (r *Relay) saveResult(batch *batchRun, result *Result) {
	if r.results == nil {
		return
	}
	data, err := json.Marshal(result)
	if err == nil {
		err = r.results.SaveBatch(context.Background(), result.BatchID, data)
	}
	if err != nil {
		batch.logger.Warn().Err(err).Msg("failed to store batch result")
	}
}

// batchRun is the state shared by the jobs of one batch.
type batchRun struct {
	id       string
	logger   logging.Logger
	sequence atomic.Uint64
	progress *BatchProgress

	// txIDs maps each transaction id signed in this batch to its job index.
	txIDs *xsync.Map[string, int]

	journalErrors atomic.Int64
}

// jobRun is the mutable state of one job while it moves through the pipeline.
type jobRun struct {
	batch   *batchRun
	index   int
	job     TransferJob
	logger  logging.Logger
	started time.Time

	// The sender and recipient are decoded once per job; a decode error is
	// reported when the job reaches that step.
	sender        keys.SigningKey
	senderErr     error
	recipientAddr keys.Address
	recipientErr  error

	state             State
	senderFingerprint string
	recipient         string
	txID              string
	lastValidHeight   uint64

	// handedOff is set once the transaction may have reached the chain.
	handedOff bool
}

// advance moves the job forward. An illegal transition is a programming
// error and panics; runJob turns the panic into an Internal outcome.
func (j *jobRun) advance(next State) {
	if !j.state.CanTransition(next) {
		panic(fmt.Sprintf("illegal job state transition %s -> %s", j.state, next))
	}
	j.state = next
	j.batch.progress.setState(j.index, next)
}

func (r *Relay) runJob(ctx context.Context, batch *batchRun, index int, job TransferJob) Outcome {
	run := r.newJobRun(batch, index, job)

	jobsInFlight.Inc()
	defer jobsInFlight.Dec()

	var out Outcome
	err := logging.RecoverWithLogger(run.logger, logging.ComponentBatchRelay, "run_job", func() error {
		out = r.execute(ctx, run)
		return nil
	})
	if err != nil {
		err = errkind.Wrap(errkind.Internal, "run_job", err)
		// A transaction that may have been handed off stays open for
		// reconciliation.
		if run.handedOff {
			run.state = StateSubmitting
			return r.finish(ctx, run, StateAmbiguous, err)
		}
		run.state = StatePending
		return r.finish(ctx, run, StateRejected, err)
	}
	return out
}

func (r *Relay) execute(ctx context.Context, run *jobRun) Outcome {
	run.advance(StateBuilding)

	if run.senderErr != nil {
		return r.finish(ctx, run, StateRejected, run.senderErr)
	}
	if run.recipientErr != nil {
		return r.finish(ctx, run, StateRejected, run.recipientErr)
	}
	if err := r.builder.ValidateAmount(run.job.AmountUnits); err != nil {
		return r.finish(ctx, run, StateRejected, err)
	}

	signed, err := r.buildAndSign(ctx, run, run.sender, run.recipientAddr)
	if err != nil {
		return r.finish(ctx, run, StateRejected, err)
	}

	run.advance(StateSubmitting)
	run.txID = signed.ID
	run.lastValidHeight = signed.LastValidBlockHeight
	run.handedOff = true

	txID, err := r.client.Submit(ctx, signed)
	if err != nil {
		if errors.Is(err, chain.ErrNotSent) || !errkind.Of(err).IsNetworkClass() {
			return r.finish(ctx, run, StateRejected, err)
		}
		return r.finish(ctx, run, StateAmbiguous, err)
	}
	if txID != "" {
		run.txID = txID
	}

	if r.config.WaitForConfirmation {
		confirmCtx, cancel := context.WithTimeout(ctx, r.config.ConfirmTimeout)
		err = chain.WaitForConfirmation(confirmCtx, r.client, run.txID, r.config.Confirm)
		cancel()
		switch {
		case err == nil:
		case errkind.Is(err, errkind.RejectedByChain):
			return r.finish(ctx, run, StateRejected, err)
		default:
			// The transaction was accepted; not observing it leaves its fate open.
			return r.finish(ctx, run, StateAmbiguous, err)
		}
	}

	return r.finish(ctx, run, StateConfirmed, nil)
}

// buildAndSign fetches freshness, builds and signs. A transaction id already
// used by an earlier job of the batch would be dropped by the chain as a
// duplicate, so the job rebuilds against a new blockhash a bounded number of
// times.
func (r *Relay) buildAndSign(
	ctx context.Context,
	run *jobRun,
	sender keys.SigningKey,
	recipient keys.Address,
) (*transfer.SignedTransaction, error) {
	for attempt := 0; ; attempt++ {
		freshness, err := r.client.FetchFreshness(ctx)
		if err != nil {
			return nil, err
		}

		unsigned, err := r.builder.Build(sender, recipient, run.job.AmountUnits, freshness)
		if err != nil {
			return nil, err
		}

		if run.state == StateBuilding {
			run.advance(StateSigning)
		}
		signed, err := r.signer.Sign(unsigned, sender)
		if err != nil {
			return nil, err
		}

		owner, loaded := run.batch.txIDs.LoadOrStore(signed.ID, run.index)
		if !loaded || owner == run.index {
			return signed, nil
		}

		duplicateRebuildsTotal.Inc()
		run.logger.Debug().
			Int("duplicate_of", owner).
			Int(logging.FieldAttempt, attempt+1).
			Msg("transaction id already used in batch, rebuilding")

		if attempt >= r.config.DuplicateRetries {
			return nil, errkind.New(errkind.Internal, "build",
				fmt.Sprintf("transaction duplicates job %d of this batch and no new blockhash was available", owner))
		}
		if r.invalidator != nil {
			r.invalidator.Invalidate()
		}
		timer := time.NewTimer(r.config.DuplicateBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errkind.Wrap(errkind.Cancelled, "build", ctx.Err())
		case <-timer.C:
		}
	}
}

func (r *Relay) senderKey(job TransferJob) (keys.SigningKey, error) {
	if job.SenderKeyEncoded != "" {
		return keys.Decode(job.SenderKeyEncoded)
	}
	if r.sender == nil {
		return keys.SigningKey{}, errkind.New(errkind.InvalidKeyFormat, "decode", "no sender key given and no default sender configured")
	}
	key := r.sender.SenderKey()
	if key.IsZero() {
		return keys.SigningKey{}, errkind.New(errkind.InvalidKeyFormat, "decode", "default sender key is not loaded")
	}
	return key, nil
}

func (r *Relay) newJobRun(batch *batchRun, index int, job TransferJob) *jobRun {
	run := &jobRun{
		batch:   batch,
		index:   index,
		job:     job,
		logger:  logging.ForJob(r.logger, batch.id, index),
		started: r.now(),
		state:   StatePending,
	}
	r.resolveParties(run)
	return run
}

// resolveParties decodes the sender and recipient and derives their log-safe
// forms. Inputs that do not decode are represented by a fingerprint of the
// raw text.
func (r *Relay) resolveParties(run *jobRun) {
	job := run.job

	run.sender, run.senderErr = r.senderKey(job)
	switch {
	case run.senderErr == nil:
		run.senderFingerprint = run.sender.Fingerprint()
	case job.SenderKeyEncoded != "":
		run.senderFingerprint = keys.FingerprintEncoded(job.SenderKeyEncoded)
	}

	run.recipientAddr, run.recipientErr = keys.ResolveRecipient(job.Recipient)
	switch {
	case run.recipientErr == nil:
		run.recipient = run.recipientAddr.String()
	case job.Recipient != "":
		run.recipient = keys.FingerprintEncoded(job.Recipient)
	}
}

func (r *Relay) cancelled(batch *batchRun, index int, job TransferJob, cause error) Outcome {
	return r.rejectUnrun(batch, index, job, errkind.Wrap(errkind.Cancelled, "run_job", cause))
}

// rejectUnrun builds the Rejected outcome of a job that never left Pending.
func (r *Relay) rejectUnrun(batch *batchRun, index int, job TransferJob, err error) Outcome {
	run := r.newJobRun(batch, index, job)
	return r.finish(context.Background(), run, StateRejected, err)
}

// finish moves the job to its terminal state and builds its outcome.
func (r *Relay) finish(ctx context.Context, run *jobRun, state State, err error) Outcome {
	run.advance(state)

	out := Outcome{
		Index:             run.index,
		Sequence:          run.batch.sequence.Add(1),
		SenderFingerprint: run.senderFingerprint,
		Recipient:         run.recipient,
		AmountUnits:       run.job.AmountUnits,
		State:             state,
		Success:           state == StateConfirmed,
		Timestamp:         r.now(),
	}
	if run.handedOff {
		out.TransactionID = run.txID
	}
	if err != nil {
		out.ErrorKind = errkind.Of(err)
		out.Error = err.Error()
	}

	if state == StateConfirmed || state == StateAmbiguous {
		r.record(ctx, run, out)
	}

	jobsTotal.WithLabelValues(string(state), out.ErrorKind.String()).Inc()
	jobDuration.WithLabelValues(string(state)).Observe(time.Since(run.started).Seconds())
	run.batch.progress.finish(out)

	event := run.logger.Info()
	switch state {
	case StateRejected:
		event = run.logger.Warn()
	case StateAmbiguous:
		event = run.logger.Error()
	}
	logging.WithJobContext(event, &logging.JobContext{
		SenderFingerprint: out.SenderFingerprint,
		Recipient:         out.Recipient,
		AmountUnits:       uint64(max(out.AmountUnits, 0)),
	}).
		Uint64(logging.FieldSequence, out.Sequence).
		Str(logging.FieldJobState, string(state)).
		Str(logging.FieldTxID, out.TransactionID).
		Str(logging.FieldErrorKind, out.ErrorKind.String()).
		Str("error", out.Error).
		Msg("job finished")

	return out
}

func (r *Relay) record(ctx context.Context, run *jobRun, out Outcome) {
	if r.journal == nil {
		return
	}
	rec := journal.Record{
		Timestamp:         out.Timestamp,
		Sequence:          out.Sequence,
		BatchID:           run.batch.id,
		JobIndex:          out.Index,
		SenderFingerprint: out.SenderFingerprint,
		Recipient:         out.Recipient,
		AmountUnits:       out.AmountUnits,
		TransactionID:     out.TransactionID,
		OutcomeKind:       string(out.State),
	}
	if out.ErrorKind != errkind.KindNone {
		rec.ErrorKind = out.ErrorKind.String()
	}
	if out.State == StateAmbiguous {
		rec.LastValidBlockHeight = run.lastValidHeight
	}

	if err := r.journal.Record(ctx, rec); err != nil {
		run.batch.journalErrors.Add(1)
		journalErrorsTotal.Inc()
		run.logger.Error().
			Err(err).
			Str(logging.FieldTxID, out.TransactionID).
			Str(logging.FieldJobState, string(out.State)).
			Msg("failed to journal outcome")
	}
}
