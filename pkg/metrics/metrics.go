package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections tracks open WebSocket connections on this instance.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_active_connections",
		Help: "Number of open WebSocket connections.",
	})

	// EventsTotal counts inbound client events by name.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_events_total",
		Help: "Inbound client events handled, by event name.",
	}, []string{"event"})

	// BroadcastsTotal counts outbound fan-out operations by emitted event.
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_broadcasts_total",
		Help: "Outbound broadcast operations, by emitted event name.",
	}, []string{"event"})
)

// Handler exposes Prometheus metrics at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
