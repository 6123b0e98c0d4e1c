package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RealtimeMetrics contains Prometheus metrics for the dashboard fan-out hub.
type RealtimeMetrics struct {
	ConnectedClients prometheus.Gauge
	EventsPublished  *prometheus.CounterVec
	DroppedMessages  prometheus.Counter
}

// NewRealtimeMetrics creates and registers fan-out hub metrics.
func NewRealtimeMetrics(namespace string) *RealtimeMetrics {
	m := &RealtimeMetrics{
		ConnectedClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "connected_clients",
				Help:      "Number of connected websocket clients",
			},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "events_published_total",
				Help:      "Total number of events published to the hub",
			},
			[]string{"topic", "type"},
		),
		DroppedMessages: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "dropped_messages_total",
				Help:      "Total number of messages dropped because a client or the hub was saturated",
			},
		),
	}

	MustRegister(
		m.ConnectedClients,
		m.EventsPublished,
		m.DroppedMessages,
	)

	return m
}
