package inbox

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/solrelay/transfer-relay/observability"
)

const metricsSubsystem = "inbox"

var (
	inboxFilesTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "files_total",
			Help:      "Inbox files handled by result (processed, invalid)",
		},
		[]string{"result"},
	)

	inboxQueueDepth = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "queue_depth",
			Help:      "Inbox files waiting to be processed",
		},
	)
)
