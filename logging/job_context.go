package logging

import (
	"github.com/rs/zerolog"
)

// JobContext carries the per-transfer fields attached to pipeline log events.
// Sender is always a key fingerprint; raw key material never reaches a logger.
type JobContext struct {
	BatchID           string
	Index             int
	SenderFingerprint string
	Recipient         string
	AmountUnits       uint64
}

// WithJobContext adds all job context fields to a log event.
func WithJobContext(event *zerolog.Event, ctx *JobContext) *zerolog.Event {
	if ctx == nil {
		return event
	}

	if ctx.BatchID != "" {
		event = event.Str(FieldBatchID, ctx.BatchID)
	}
	event = event.Int(FieldJobIndex, ctx.Index)
	if ctx.SenderFingerprint != "" {
		event = event.Str(FieldSenderFingerprint, ctx.SenderFingerprint)
	}
	if ctx.Recipient != "" {
		event = event.Str(FieldRecipient, ctx.Recipient)
	}
	if ctx.AmountUnits > 0 {
		event = event.Uint64(FieldAmountUnits, ctx.AmountUnits)
	}

	return event
}

// ForJob returns a child logger carrying the job's batch and index.
func ForJob(logger Logger, batchID string, index int) Logger {
	return logger.With().
		Str(FieldBatchID, batchID).
		Int(FieldJobIndex, index).
		Logger()
}
