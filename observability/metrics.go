package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsNamespace prefixes every metric exported by this module.
	MetricsNamespace = "transfer_relay"
	metricsSubsystem = "observability"
)

var (
	// FineGrainedLatencyBuckets covers sub-millisecond to multi-second operations.
	// Buckets: 1ms, 2ms, 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s, 30s
	FineGrainedLatencyBuckets = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// MicroLatencyBuckets is used for in-memory work such as signing and decoding.
	// Buckets: 10µs, 50µs, 100µs, 500µs, 1ms, 5ms, 10ms, 50ms, 100ms
	MicroLatencyBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}

	// RPCLatencyBuckets is used for chain RPC calls.
	RPCLatencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
)

var (
	// OperationDurationSeconds tracks the duration of high-level operations.
	OperationDurationSeconds = RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "operation_duration_seconds",
			Help:      "Duration of high-level operations (batch, send, reconcile)",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"component", "operation", "status"},
	)

	// ErrorsTotal counts errors by component and kind.
	ErrorsTotal = RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// ProcessInfo provides static information about the running process.
	ProcessInfo = RelayFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "process_info",
			Help:      "Information about the running process",
		},
		[]string{"version", "component"},
	)

	// StartupDurationSeconds tracks startup time of components.
	StartupDurationSeconds = RelayFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "startup_duration_seconds",
			Help:      "Time taken to start components",
		},
		[]string{"component"},
	)
)
