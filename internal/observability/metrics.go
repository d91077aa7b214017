package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the gateway's Prometheus metrics.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.ConnectionsOpen.Inc()
//	defer metrics.ConnectionsOpen.Dec()
type Metrics struct {
	// ConnectionsOpen is a gauge of currently open websocket connections.
	ConnectionsOpen prometheus.Gauge

	// ActionsTotal counts inbound actions by name.
	// Labels: action (auth|set_thread|add_file|chat|cancel|watch_ingestion|unknown)
	ActionsTotal *prometheus.CounterVec

	// TurnsTotal counts completed chat turns by outcome.
	// Labels: outcome (end|cancelled|error)
	TurnsTotal *prometheus.CounterVec

	// TurnDuration measures chat turn duration in seconds.
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s
	TurnDuration prometheus.Histogram

	// CancelRequestsTotal counts cancellation requests.
	CancelRequestsTotal prometheus.Counter

	// IngestionWatchesTotal counts watch_ingestion loops by final state.
	// Labels: state (completed|failed|not_found|error)
	IngestionWatchesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all gateway metrics with the default
// Prometheus registry. Call once at startup; the values are served by the
// prometheus HTTP handler on /metrics.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with a specific registerer. Tests
// use this with a fresh registry to avoid duplicate registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "synapse_ws_connections_open",
			Help: "Currently open websocket connections.",
		}),
		ActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "synapse_ws_actions_total",
			Help: "Inbound websocket actions by name.",
		}, []string{"action"}),
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "synapse_chat_turns_total",
			Help: "Completed chat turns by terminal outcome.",
		}, []string{"outcome"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "synapse_chat_turn_duration_seconds",
			Help:    "Chat turn duration from dispatch to terminal message.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		CancelRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "synapse_cancel_requests_total",
			Help: "Cancellation flags requested.",
		}),
		IngestionWatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "synapse_ingestion_watches_total",
			Help: "Finished ingestion watch loops by final state.",
		}, []string{"state"}),
	}
}
