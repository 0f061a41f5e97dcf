package transfer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/solrelay/transfer-relay/errkind"
	"github.com/solrelay/transfer-relay/observability"
)

const metricsSubsystem = "transfer"

var (
	buildsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "builds_total",
			Help:      "Total transfer builds by result kind",
		},
		[]string{"kind"},
	)

	signaturesTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "signings_total",
			Help:      "Total transfer signings by result kind",
		},
		[]string{"kind"},
	)

	signingDuration = observability.RelayFactory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "signing_duration_seconds",
			Help:      "Duration of transfer signing",
			Buckets:   observability.MicroLatencyBuckets,
		},
	)
)

func observeBuild(err error) {
	buildsTotal.WithLabelValues(errkind.Of(err).String()).Inc()
}

func observeSign(start time.Time, err error) {
	signaturesTotal.WithLabelValues(errkind.Of(err).String()).Inc()
	signingDuration.Observe(time.Since(start).Seconds())
}
