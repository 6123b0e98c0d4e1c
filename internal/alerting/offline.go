package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"procodus.dev/sewer-monitor/internal/model"
	"procodus.dev/sewer-monitor/pkg/clock"
	"procodus.dev/sewer-monitor/pkg/metrics"
)

// OfflineDetectorConfig holds the configuration for the OfflineDetector.
type OfflineDetectorConfig struct {
	Logger    *slog.Logger
	Sensors   SensorSource
	Alerts    AlertStore
	Lifecycle *Lifecycle
	Clock     clock.Clock              // Optional, defaults to clock.Real
	Metrics   *metrics.AlertingMetrics // Optional
	// Window is the staleness window (defaults to two hours).
	Window time.Duration
}

// OfflineDetector raises a sensor_offline alert for every active sensor that
// has not reported inside the staleness window. It never resolves them.
type OfflineDetector struct {
	logger    *slog.Logger
	sensors   SensorSource
	alerts    AlertStore
	lifecycle *Lifecycle
	clock     clock.Clock
	metrics   *metrics.AlertingMetrics
	window    time.Duration
}

// NewOfflineDetector creates a new OfflineDetector.
func NewOfflineDetector(cfg *OfflineDetectorConfig) (*OfflineDetector, error) {
	if cfg == nil {
		return nil, errors.New("offline detector config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Sensors == nil {
		return nil, errors.New("sensor source cannot be nil")
	}
	if cfg.Alerts == nil {
		return nil, errors.New("alert store cannot be nil")
	}
	if cfg.Lifecycle == nil {
		return nil, errors.New("lifecycle cannot be nil")
	}

	d := &OfflineDetector{
		logger:    cfg.Logger.With("component", "offline_detector"),
		sensors:   cfg.Sensors,
		alerts:    cfg.Alerts,
		lifecycle: cfg.Lifecycle,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		window:    cfg.Window,
	}
	if d.clock == nil {
		d.clock = clock.Real{}
	}
	if d.window <= 0 {
		d.window = DefaultStalenessWindow
	}
	return d, nil
}

// OfflineMessage renders the message of a sensor_offline alert.
func OfflineMessage(sensorID, location string) string {
	return fmt.Sprintf("Sensor %s (%s) is offline", sensorID, location)
}

// Sweep checks every active sensor once and returns how many alerts it raised.
// Per-sensor failures are logged and skipped.
func (d *OfflineDetector) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer d.metrics.ObserveSweep("offline", start)

	now := d.clock.Now()
	stale, err := d.sensors.StaleSensors(ctx, now.Add(-d.window))
	if err != nil {
		return 0, fmt.Errorf("list stale sensors: %w", err)
	}
	d.metrics.SetOfflineSensors(len(stale))

	raised := 0
	for _, sensor := range stale {
		exists, err := d.alerts.HasActiveAlert(ctx, sensor.SensorID, model.CategorySensorOffline, time.Time{})
		if err != nil {
			d.logger.Error("failed to check offline alert",
				"sensor_id", sensor.SensorID,
				"error", err)
			continue
		}
		if exists {
			continue
		}

		evidence := map[string]any{
			"last_reading":  nil,
			"offline_since": now,
		}
		if sensor.LastReading != nil {
			evidence["last_reading"] = sensor.LastReading.UTC()
		}

		alert := &model.Alert{
			SensorID: sensor.SensorID,
			Category: model.CategorySensorOffline,
			Severity: model.SeverityHigh,
			Message:  OfflineMessage(sensor.SensorID, sensor.LocationName),
			Evidence: evidence,
		}
		if err := d.lifecycle.CreateAlert(ctx, alert); err != nil {
			d.logger.Error("failed to create offline alert",
				"sensor_id", sensor.SensorID,
				"error", err)
			continue
		}

		raised++
		d.logger.Warn("sensor offline detected",
			"sensor_id", sensor.SensorID,
			"last_reading", sensor.LastReading)
	}

	return raised, nil
}
