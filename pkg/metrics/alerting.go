package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AlertingMetrics contains Prometheus metrics for the alert evaluation and lifecycle engine.
// All methods are safe to call on a nil receiver.
type AlertingMetrics struct {
	ReadingsEvaluated   *prometheus.CounterVec
	EvaluationFailures  prometheus.Counter
	AlertsCreated       *prometheus.CounterVec
	AlertsSuppressed    *prometheus.CounterVec
	OfflineSensors      prometheus.Gauge
	NotificationsSent   *prometheus.CounterVec
	PendingSkipped      *prometheus.CounterVec
	SweepDuration       *prometheus.HistogramVec
	LifecycleTransition *prometheus.CounterVec
}

// NewAlertingMetrics creates and registers alerting metrics.
func NewAlertingMetrics(namespace string) *AlertingMetrics {
	m := &AlertingMetrics{
		ReadingsEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerting",
				Name:      "readings_evaluated_total",
				Help:      "Total number of readings classified, by resulting alert level",
			},
			[]string{"level"},
		),
		EvaluationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerting",
				Name:      "evaluation_failures_total",
				Help:      "Total number of evaluations degraded to normal because thresholds could not be loaded",
			},
		),
		AlertsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerting",
				Name:      "alerts_created_total",
				Help:      "Total number of alerts created",
			},
			[]string{"category", "severity"},
		),
		AlertsSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerting",
				Name:      "alerts_suppressed_total",
				Help:      "Total number of triggered events folded into an existing active alert",
			},
			[]string{"category"},
		),
		OfflineSensors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "alerting",
				Name:      "offline_sensors",
				Help:      "Number of active sensors found stale by the last offline sweep",
			},
		),
		NotificationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerting",
				Name:      "notifications_total",
				Help:      "Total number of per-recipient notification attempts",
			},
			[]string{"status"}, // status: success, failed
		),
		PendingSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerting",
				Name:      "notifications_skipped_total",
				Help:      "Total number of pending alerts left undelivered in a sweep",
			},
			[]string{"reason"}, // reason: no_recipients, all_failed, error
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "alerting",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of periodic sweeps",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sweep"}, // sweep: dispatch, offline
		),
		LifecycleTransition: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerting",
				Name:      "lifecycle_transitions_total",
				Help:      "Total number of alert lifecycle transitions",
			},
			[]string{"to", "result"}, // result: ok, rejected
		),
	}

	MustRegister(
		m.ReadingsEvaluated,
		m.EvaluationFailures,
		m.AlertsCreated,
		m.AlertsSuppressed,
		m.OfflineSensors,
		m.NotificationsSent,
		m.PendingSkipped,
		m.SweepDuration,
		m.LifecycleTransition,
	)

	return m
}

// ObserveEvaluation counts a classified reading.
func (m *AlertingMetrics) ObserveEvaluation(level string, failed bool) {
	if m == nil {
		return
	}
	m.ReadingsEvaluated.WithLabelValues(level).Inc()
	if failed {
		m.EvaluationFailures.Inc()
	}
}

// ObserveAlertCreated counts a created alert.
func (m *AlertingMetrics) ObserveAlertCreated(category, severity string) {
	if m == nil {
		return
	}
	m.AlertsCreated.WithLabelValues(category, severity).Inc()
}

// ObserveSuppressed counts a suppressed triggered event.
func (m *AlertingMetrics) ObserveSuppressed(category string) {
	if m == nil {
		return
	}
	m.AlertsSuppressed.WithLabelValues(category).Inc()
}

// SetOfflineSensors records the size of the last offline sweep.
func (m *AlertingMetrics) SetOfflineSensors(n int) {
	if m == nil {
		return
	}
	m.OfflineSensors.Set(float64(n))
}

// ObserveDelivery counts one per-recipient send.
func (m *AlertingMetrics) ObserveDelivery(status string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(status).Inc()
}

// ObserveSkipped counts an alert left pending by a sweep.
func (m *AlertingMetrics) ObserveSkipped(reason string) {
	if m == nil {
		return
	}
	m.PendingSkipped.WithLabelValues(reason).Inc()
}

// ObserveSweep records the duration of a sweep started at start.
func (m *AlertingMetrics) ObserveSweep(sweep string, start time.Time) {
	if m == nil {
		return
	}
	m.SweepDuration.WithLabelValues(sweep).Observe(time.Since(start).Seconds())
}

// ObserveTransition counts a lifecycle transition attempt.
func (m *AlertingMetrics) ObserveTransition(to string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	m.LifecycleTransition.WithLabelValues(to, result).Inc()
}
