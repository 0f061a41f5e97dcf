package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RelayRegistry holds every pipeline metric (keys, transfer, chain, relay,
	// journal, server). Kept apart from the default registry so tests can
	// gather it without the Go runtime collectors.
	RelayRegistry = prometheus.NewRegistry()

	// RelayFactory registers metrics on RelayRegistry.
	RelayFactory = promauto.With(RelayRegistry)
)

// Gatherer returns the gatherer served on /metrics: pipeline metrics plus the
// default registry (process, Go runtime, panic recoveries).
func Gatherer() prometheus.Gatherer {
	return prometheus.Gatherers{RelayRegistry, prometheus.DefaultGatherer}
}
