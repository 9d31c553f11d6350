package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livequiz"

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Number of live client connections.",
	})

	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_received_total",
		Help:      "Inbound client events by name.",
	}, []string{"event"})

	DeliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_dropped_total",
		Help:      "Outbound frames that could not be queued for a connection.",
	})
)

// RegisterSessionGauge exposes the number of live sessions as reported by count.
func RegisterSessionGauge(reg prometheus.Registerer, count func() int) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of live quiz sessions.",
	}, func() float64 { return float64(count()) }))
}
