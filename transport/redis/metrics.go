package redis

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/solrelay/transfer-relay/observability"
)

const metricsSubsystem = "transport_redis"

var (
	// Publisher metrics

	publishedTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "published_total",
			Help:      "Total entries appended to Redis Streams",
		},
		[]string{"stream"},
	)

	publishErrorsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "publish_errors_total",
			Help:      "Total stream append errors by error type",
		},
		[]string{"stream", "error_type"},
	)

	publishLatency = observability.RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "publish_latency_seconds",
			Help:      "Latency of stream appends including queued side commands",
			Buckets:   observability.FineGrainedLatencyBuckets,
		},
		[]string{"stream"},
	)

	// Consumer metrics

	consumedTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "consumed_total",
			Help:      "Total entries read from Redis Streams by a consumer group",
		},
		[]string{"stream"},
	)

	consumeErrorsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "consume_errors_total",
			Help:      "Total consume errors by error type",
		},
		[]string{"stream", "error_type"},
	)

	ackedTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "acked_total",
			Help:      "Total entries acknowledged",
		},
		[]string{"stream"},
	)

	pendingMessages = observability.RelayFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pending_messages",
			Help:      "Entries delivered to the group but not yet acknowledged",
		},
		[]string{"stream"},
	)

	claimedMessages = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "claimed_total",
			Help:      "Total entries claimed from idle consumers",
		},
		[]string{"stream"},
	)

	malformedMessages = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "malformed_messages_total",
			Help:      "Total stream entries without a data field",
		},
		[]string{"stream"},
	)

	// Reconnection metrics

	redisReconnectionAttempts = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reconnection_attempts_total",
			Help:      "Total Redis reconnection attempts by component",
		},
		[]string{"component"},
	)

	redisReconnectionSuccess = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reconnection_success_total",
			Help:      "Successful Redis reconnections by component",
		},
		[]string{"component"},
	)
)

var (
	// Memory metrics, updated by HealthMonitor

	usedMemoryBytes = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "used_memory_bytes",
			Help:      "Redis memory usage in bytes (INFO MEMORY used_memory)",
		},
	)

	maxMemoryBytes = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "max_memory_bytes",
			Help:      "Configured Redis maxmemory in bytes (0 means no limit)",
		},
	)

	memoryUsageRatio = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "memory_usage_ratio",
			Help:      "used_memory / maxmemory (-1 if maxmemory is not set)",
		},
	)
)
