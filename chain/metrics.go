package chain

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/solrelay/transfer-relay/errkind"
	"github.com/solrelay/transfer-relay/observability"
)

const metricsSubsystem = "chain"

var (
	rpcRequestsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rpc_requests_total",
			Help:      "Total JSON-RPC requests by method and result kind",
		},
		[]string{"method", "kind"},
	)

	rpcDuration = observability.RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rpc_duration_seconds",
			Help:      "Duration of JSON-RPC requests",
			Buckets:   observability.RPCLatencyBuckets,
		},
		[]string{"method"},
	)

	retryAttemptsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "retry_attempts_total",
			Help:      "Total retried chain calls by operation",
		},
		[]string{"operation"},
	)

	retriesExhaustedTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "retries_exhausted_total",
			Help:      "Total chain calls that failed after spending the whole retry budget",
		},
		[]string{"operation"},
	)

	submitRateLimitWait = observability.RelayFactory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "submit_rate_limit_wait_seconds",
			Help:      "Time spent waiting for the submit rate limiter",
			Buckets:   observability.FineGrainedLatencyBuckets,
		},
	)

	freshnessCacheTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "freshness_cache_total",
			Help:      "Freshness token lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	confirmationPollsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "confirmation_polls_total",
			Help:      "Signature status polls by result (confirmed, failed, pending, error)",
		},
		[]string{"result"},
	)
)

func observeRPC(method string, start time.Time, err error) {
	rpcRequestsTotal.WithLabelValues(method, errkind.Of(err).String()).Inc()
	rpcDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
