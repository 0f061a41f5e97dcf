package keys

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/solrelay/transfer-relay/observability"
)

const metricsSubsystem = "keys"

// Decode failure reasons, used as the "reason" label.
const (
	reasonEmpty    = "empty"
	reasonEncoding = "encoding"
	reasonLength   = "length"
	reasonMismatch = "public_key_mismatch"
)

var (
	keysDecodedTotal = observability.RelayFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "decoded_total",
			Help:      "Total number of secret keys decoded successfully",
		},
	)

	decodeFailuresTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "decode_failures_total",
			Help:      "Total number of rejected secret keys",
		},
		[]string{"reason"},
	)

	keyReloadsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reloads_total",
			Help:      "Total number of sender key file reloads",
		},
		[]string{"result"},
	)

	senderKeyLoaded = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: observability.MetricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "sender_key_loaded",
			Help:      "1 when a sender key file is loaded and valid",
		},
	)
)
