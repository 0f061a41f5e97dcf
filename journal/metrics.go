package journal

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/solrelay/transfer-relay/observability"
)

const metricsSubsystem = "journal"

var (
	journalWritesTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "writes_total",
			Help:      "Total journal writes by sink, outcome kind and result",
		},
		[]string{"sink", "outcome_kind", "result"},
	)

	ambiguousPending = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "ambiguous_pending",
			Help:      "Ambiguous transaction ids awaiting reconciliation, as of the last sweep",
		},
	)

	reconcileTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reconcile_total",
			Help:      "Reconciliation attempts by resolution",
		},
		[]string{"resolution"},
	)
)

func observeWrite(sink, kind string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	journalWritesTotal.WithLabelValues(sink, kind, result).Inc()
}
