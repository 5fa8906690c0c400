package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "p2pquake"

// Metrics holds the Prometheus counters, histograms, and gauges for ingestion and the REST client.
type Metrics struct {
	MessagesReceived prometheus.Counter
	MessagesParsed   *prometheus.CounterVec // labels: code={jma_quake,jma_tsunami,...}
	MessagesDropped  *prometheus.CounterVec // labels: reason={malformed,unknown_code,schema_mismatch}
	DispatchErrors   *prometheus.CounterVec // labels: code
	Reconnects       prometheus.Counter

	WebSocketConnected prometheus.Gauge
	MonitorRunning     prometheus.Gauge
	HistorySize        prometheus.Gauge

	// REST client metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: endpoint, outcome={success,error,not_found}
	UpstreamDuration *prometheus.HistogramVec // labels: endpoint

	BroadcastClients prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.MessagesReceived,
		m.MessagesParsed,
		m.MessagesDropped,
		m.DispatchErrors,
		m.Reconnects,
		m.WebSocketConnected,
		m.MonitorRunning,
		m.HistorySize,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.BroadcastClients,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build
// as many as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total JSON objects read from the realtime feed.",
		}),
		MessagesParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_parsed_total",
			Help:      "Messages successfully parsed, by information code.",
		}, []string{"code"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages discarded before dispatch, by reason.",
		}, []string{"reason"}),
		DispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_errors_total",
			Help:      "Handler failures (errors or panics), by information code.",
		}, []string{"code"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Times the monitor scheduled a reconnect after losing the stream.",
		}),
		WebSocketConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connected",
			Help:      "1 while the realtime stream is open, 0 otherwise.",
		}),
		MonitorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_running",
			Help:      "1 when the monitor loop is active, 0 when stopped.",
		}),
		HistorySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_size",
			Help:      "Messages currently retained in the in-memory history.",
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "REST API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "REST API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		BroadcastClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_clients",
			Help:      "WebSocket clients subscribed to the event fan-out.",
		}),
	}
}
