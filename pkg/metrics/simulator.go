package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains Prometheus metrics for the sensor simulator service.
type SimulatorMetrics struct {
	MessagesGenerated  *prometheus.CounterVec
	GenerationFailures *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	ActiveProducers    prometheus.Gauge
	SensorsProvisioned prometheus.Counter
	ReadingsByLevel    *prometheus.CounterVec
}

// NewSimulatorMetrics creates and registers simulator metrics.
func NewSimulatorMetrics(namespace string) *SimulatorMetrics {
	m := &SimulatorMetrics{
		MessagesGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "messages_generated_total",
				Help:      "Total number of messages generated",
			},
			[]string{"type"}, // type: provisioning, reading
		),
		GenerationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "generation_failures_total",
				Help:      "Total number of message generation failures",
			},
			[]string{"type", "reason"},
		),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "generation_duration_seconds",
				Help:      "Duration of message generation operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		ActiveProducers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "active_producers",
				Help:      "Number of active simulated sensor groups",
			},
		),
		SensorsProvisioned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "sensors_provisioned_total",
				Help:      "Total number of simulated sensors announced",
			},
		),
		ReadingsByLevel: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "readings_total",
				Help:      "Total number of readings generated, by scenario",
			},
			[]string{"scenario"}, // scenario: baseline, surge, gas_leak
		),
	}

	MustRegister(
		m.MessagesGenerated,
		m.GenerationFailures,
		m.GenerationDuration,
		m.ActiveProducers,
		m.SensorsProvisioned,
		m.ReadingsByLevel,
	)

	return m
}
