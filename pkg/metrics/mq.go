package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MQMetrics contains Prometheus metrics for the MQ client.
// Every series is labelled by queue because one process runs several clients.
type MQMetrics struct {
	MessagesPushed    *prometheus.CounterVec
	PushFailures      *prometheus.CounterVec
	ReconnectAttempts *prometheus.CounterVec
	PushDuration      *prometheus.HistogramVec
	ConnectionStatus  *prometheus.GaugeVec
	ConsumersStarted  *prometheus.CounterVec
}

// NewMQMetrics creates and registers MQ client metrics.
func NewMQMetrics(namespace string) *MQMetrics {
	m := &MQMetrics{
		MessagesPushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mq",
				Name:      "messages_pushed_total",
				Help:      "Total number of messages pushed to RabbitMQ",
			},
			[]string{"queue"},
		),
		PushFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mq",
				Name:      "push_failures_total",
				Help:      "Total number of failed message pushes",
			},
			[]string{"queue", "reason"},
		),
		ReconnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mq",
				Name:      "reconnect_attempts_total",
				Help:      "Total number of reconnection attempts",
			},
			[]string{"queue"},
		),
		PushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "mq",
				Name:      "push_duration_seconds",
				Help:      "Duration of message push operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		ConnectionStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "mq",
				Name:      "connection_status",
				Help:      "Current connection status (1=connected, 0=disconnected)",
			},
			[]string{"queue"},
		),
		ConsumersStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mq",
				Name:      "consumers_started_total",
				Help:      "Total number of consume subscriptions opened",
			},
			[]string{"queue"},
		),
	}

	MustRegister(
		m.MessagesPushed,
		m.PushFailures,
		m.ReconnectAttempts,
		m.PushDuration,
		m.ConnectionStatus,
		m.ConsumersStarted,
	)

	return m
}
