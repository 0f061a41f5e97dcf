package redis

import (
	"context"
	"time"

	"github.com/solrelay/transfer-relay/logging"
)

const (
	reconnectBaseDelay     = 1 * time.Second
	reconnectMaxDelay      = 30 * time.Second
	reconnectBackoffFactor = 2
)

// ReconnectionLoop runs a long-lived Redis operation and re-establishes it
// with exponential backoff (1s, 2s, 4s ... 30s) whenever it fails.
//
// Usage:
//
//	loop := NewReconnectionLoop(logger, "journal_consumer",
//	    func(ctx context.Context) error { return ensureGroup(ctx) },
//	    func(ctx context.Context) error { return readUntilError(ctx) },
//	)
//	loop.Run(ctx)
type ReconnectionLoop struct {
	logger        logging.Logger
	componentName string
	connectFn     func(context.Context) error
	runFn         func(context.Context) error

	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewReconnectionLoop creates a reconnection loop. connectFn prepares the
// connection (ping, group creation); runFn blocks until error or ctx ends.
func NewReconnectionLoop(
	logger logging.Logger,
	component string,
	connectFn func(context.Context) error,
	runFn func(context.Context) error,
) *ReconnectionLoop {
	return &ReconnectionLoop{
		logger:        logger,
		componentName: component,
		connectFn:     connectFn,
		runFn:         runFn,
		baseDelay:     reconnectBaseDelay,
		maxDelay:      reconnectMaxDelay,
	}
}

// Run blocks until ctx is cancelled. Connection failures back off
// exponentially; a successful connect resets the delay, and a runFn failure
// reconnects immediately.
func (r *ReconnectionLoop) Run(ctx context.Context) {
	delay := r.baseDelay

	for {
		if ctx.Err() != nil {
			r.logger.Debug().
				Str(logging.FieldComponent, r.componentName).
				Msg("reconnection loop shutting down")
			return
		}

		redisReconnectionAttempts.WithLabelValues(r.componentName).Inc()

		if err := r.connectFn(ctx); err != nil {
			r.logger.Warn().
				Err(err).
				Str(logging.FieldComponent, r.componentName).
				Dur(logging.FieldBackoff, delay).
				Msgf("%s: connection failed, will retry", r.componentName)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				delay = r.increaseBackoff(delay)
				continue
			}
		}

		delay = r.baseDelay
		redisReconnectionSuccess.WithLabelValues(r.componentName).Inc()

		r.logger.Info().
			Str(logging.FieldComponent, r.componentName).
			Msgf("%s: connection established", r.componentName)

		err := r.runFn(ctx)

		if ctx.Err() != nil {
			r.logger.Debug().
				Str(logging.FieldComponent, r.componentName).
				Msg("shutting down gracefully")
			return
		}
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str(logging.FieldComponent, r.componentName).
				Msgf("%s: disconnected, reconnecting", r.componentName)
		} else {
			r.logger.Warn().
				Str(logging.FieldComponent, r.componentName).
				Msgf("%s: connection closed, reconnecting", r.componentName)
		}
	}
}

// increaseBackoff doubles the delay until it reaches the maximum.
func (r *ReconnectionLoop) increaseBackoff(current time.Duration) time.Duration {
	next := current * reconnectBackoffFactor
	if next > r.maxDelay {
		return r.maxDelay
	}
	return next
}
