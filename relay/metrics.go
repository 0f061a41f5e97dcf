package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/solrelay/transfer-relay/observability"
)

const metricsSubsystem = "relay"

var (
	batchesTotal = observability.RelayFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "batches_total",
			Help:      "Total batches run",
		},
	)

	batchSize = observability.RelayFactory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "batch_size",
			Help:      "Number of jobs per batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	batchDuration = observability.RelayFactory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a batch",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	jobsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "jobs_total",
			Help:      "Total jobs by terminal state and error kind",
		},
		[]string{"state", "error_kind"},
	)

	jobDuration = observability.RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "job_duration_seconds",
			Help:      "Time from job start to terminal state",
			Buckets:   observability.RPCLatencyBuckets,
		},
		[]string{"state"},
	)

	jobsInFlight = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently running",
		},
	)

	journalErrorsTotal = observability.RelayFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "journal_errors_total",
			Help:      "Outcome journal writes that failed",
		},
	)

	duplicateRebuildsTotal = observability.RelayFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "duplicate_rebuilds_total",
			Help:      "Rebuilds forced by an identical transaction id earlier in the batch",
		},
	)
)
