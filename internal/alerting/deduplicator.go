package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"procodus.dev/sewer-monitor/internal/model"
	"procodus.dev/sewer-monitor/pkg/clock"
	"procodus.dev/sewer-monitor/pkg/metrics"
)

var parameterCategories = map[string]model.Category{
	model.ParamWaterLevel: model.CategoryFloodRisk,
	model.ParamGasCO:      model.CategoryToxicGas,
	model.ParamGasH2S:     model.CategoryToxicGas,
	model.ParamGasCH4:     model.CategoryToxicGas,
}

var parameterLabels = map[string]string{
	model.ParamWaterLevel: "water level",
	model.ParamGasCO:      "CO concentration",
	model.ParamGasH2S:     "H2S concentration",
	model.ParamGasCH4:     "CH4 concentration",
}

// CategoryFor maps a reading parameter to its alert category.
func CategoryFor(parameter string) model.Category {
	if c, ok := parameterCategories[parameter]; ok {
		return c
	}
	return model.CategoryMaintenanceRequired
}

// SeverityFor maps a triggered level to an alert severity.
func SeverityFor(level model.AlertLevel) model.Severity {
	if level == model.LevelCritical {
		return model.SeverityCritical
	}
	return model.SeverityMedium
}

// ParameterLabel returns the display name of a parameter.
func ParameterLabel(parameter string) string {
	if label, ok := parameterLabels[parameter]; ok {
		return label
	}
	return parameter
}

// AlertMessage renders the human-readable message of a threshold alert, e.g.
// "Critical water level detected at sensor S1: 95 (threshold: 90)".
func AlertMessage(sensorID string, ev TriggeredEvent) string {
	word := "Elevated"
	if ev.Level == model.LevelCritical {
		word = "Critical"
	}
	return fmt.Sprintf("%s %s detected at sensor %s: %s (threshold: %s)",
		word, ParameterLabel(ev.Parameter), sensorID, formatNumber(ev.Value), formatNumber(ev.Threshold))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DeduplicatorConfig holds the configuration for the Deduplicator.
type DeduplicatorConfig struct {
	Logger    *slog.Logger
	Store     AlertStore
	Lifecycle *Lifecycle
	Clock     clock.Clock              // Optional, defaults to clock.Real
	Metrics   *metrics.AlertingMetrics // Optional
	// Window is the suppression window (defaults to one hour).
	Window time.Duration
}

// Deduplicator turns triggered events into alerts, folding an event into an
// existing active alert of the same sensor and category created inside the window.
type Deduplicator struct {
	logger    *slog.Logger
	store     AlertStore
	lifecycle *Lifecycle
	clock     clock.Clock
	metrics   *metrics.AlertingMetrics
	locks     *keyedMutex
	window    time.Duration
}

// NewDeduplicator creates a new Deduplicator.
func NewDeduplicator(cfg *DeduplicatorConfig) (*Deduplicator, error) {
	if cfg == nil {
		return nil, errors.New("deduplicator config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("alert store cannot be nil")
	}
	if cfg.Lifecycle == nil {
		return nil, errors.New("lifecycle cannot be nil")
	}

	d := &Deduplicator{
		logger:    cfg.Logger.With("component", "deduplicator"),
		store:     cfg.Store,
		lifecycle: cfg.Lifecycle,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		locks:     newKeyedMutex(),
		window:    cfg.Window,
	}
	if d.clock == nil {
		d.clock = clock.Real{}
	}
	if d.window <= 0 {
		d.window = DefaultSuppressionWindow
	}
	return d, nil
}

// CreateAlertsFromEvents processes each event independently and returns the
// alerts it created. A failing event does not stop the others; all failures
// are joined into the returned error.
func (d *Deduplicator) CreateAlertsFromEvents(ctx context.Context, sensorID string, events []TriggeredEvent, reading model.ReadingData) ([]*model.Alert, error) {
	var (
		created []*model.Alert
		errs    []error
	)

	for _, ev := range events {
		alert, err := d.createOne(ctx, sensorID, ev, reading)
		if err != nil {
			d.logger.Error("failed to create alert",
				"sensor_id", sensorID,
				"parameter", ev.Parameter,
				"error", err)
			errs = append(errs, fmt.Errorf("%s: %w", ev.Parameter, err))
			continue
		}
		if alert != nil {
			created = append(created, alert)
		}
	}

	return created, errors.Join(errs...)
}

// createOne returns a nil alert when the event was suppressed.
func (d *Deduplicator) createOne(ctx context.Context, sensorID string, ev TriggeredEvent, reading model.ReadingData) (*model.Alert, error) {
	category := CategoryFor(ev.Parameter)

	// Check-and-create is serialized per sensor inside this process only.
	unlock := d.locks.Lock(sensorID)
	defer unlock()

	since := d.clock.Now().Add(-d.window)
	exists, err := d.store.HasActiveAlert(ctx, sensorID, category, since)
	if err != nil {
		return nil, fmt.Errorf("check existing alert: %w", err)
	}
	if exists {
		d.metrics.ObserveSuppressed(string(category))
		d.logger.Debug("alert suppressed",
			"sensor_id", sensorID,
			"alert_type", category,
			"parameter", ev.Parameter)
		return nil, nil
	}

	alert := &model.Alert{
		SensorID: sensorID,
		Category: category,
		Severity: SeverityFor(ev.Level),
		Message:  AlertMessage(sensorID, ev),
		Evidence: map[string]any{
			"parameter":    ev.Parameter,
			"value":        ev.Value,
			"threshold":    ev.Threshold,
			"reading_data": readingEvidence(reading),
		},
	}
	if err := d.lifecycle.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

func readingEvidence(reading model.ReadingData) map[string]any {
	out := make(map[string]any, len(reading))
	for k, v := range reading {
		out[k] = v
	}
	return out
}
