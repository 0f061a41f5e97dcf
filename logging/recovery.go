package logging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrPanicRecovered is wrapped by errors returned from RecoverWithLogger after a panic.
var ErrPanicRecovered = errors.New("panic recovered")

var (
	// PanicRecoveriesTotal counts recovered panics. The HTTP recovery
	// middleware increments it too.
	PanicRecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transfer_relay",
			Name:      "panic_recoveries_total",
			Help:      "Total number of panic recoveries by component",
		},
		[]string{"component"},
	)
)

// RecoverGoRoutine wraps a goroutine body so a panic is logged and counted
// instead of crashing the process. Call it as
// go RecoverGoRoutine(logger, comp, fn)(ctx).
func RecoverGoRoutine(logger Logger, component string, fn func(context.Context)) func(context.Context) {
	return func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				PanicRecoveriesTotal.WithLabelValues(component).Inc()

				logger.Error().
					Str(FieldComponent, component).
					Str("panic_value", fmt.Sprintf("%v", r)).
					Str("stack_trace", string(debug.Stack())).
					Msg("recovered panic in goroutine")
			}
		}()

		fn(ctx)
	}
}

// RecoverWithLogger runs fn and converts a panic into an error wrapping
// ErrPanicRecovered. The relay uses it so one broken job cannot take down
// the rest of its batch.
func RecoverWithLogger(logger Logger, component string, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			PanicRecoveriesTotal.WithLabelValues(component).Inc()

			logger.Error().
				Str(FieldComponent, component).
				Str(FieldOperation, operation).
				Str("panic_value", fmt.Sprintf("%v", r)).
				Str("stack_trace", string(debug.Stack())).
				Msg("recovered panic")

			err = fmt.Errorf("%w: %v", ErrPanicRecovered, r)
		}
	}()

	return fn()
}
