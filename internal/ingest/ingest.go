// Package ingest runs the reading ingestion workflow: classify a reading,
// persist it with its level, publish it and raise the alerts it triggers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"procodus.dev/sewer-monitor/internal/alerting"
	"procodus.dev/sewer-monitor/internal/model"
	"procodus.dev/sewer-monitor/pkg/clock"
)

var (
	// ErrSensorNotFound is returned when the reading targets an unknown sensor.
	ErrSensorNotFound = errors.New("sensor not found")
	// ErrEmptyReading is returned when the reading carries no parameter.
	ErrEmptyReading = errors.New("reading has no parameters")
)

// OfflineResolveReason is attached to offline alerts resolved by a new reading.
const OfflineResolveReason = "sensor back online"

// Store is the persistence needed by the ingestion workflow.
type Store interface {
	GetSensor(ctx context.Context, sensorID string) (*model.Sensor, error)
	CreateReading(ctx context.Context, reading *model.Reading) error
	ActiveAlerts(ctx context.Context, sensorID string, category model.Category) ([]model.Alert, error)
}

// Config holds the configuration for the Service.
type Config struct {
	Logger       *slog.Logger
	Store        Store
	Evaluator    *alerting.Evaluator
	Deduplicator *alerting.Deduplicator
	Lifecycle    *alerting.Lifecycle
	Publisher    alerting.Publisher // Optional, defaults to alerting.NopPublisher
	Clock        clock.Clock        // Optional, defaults to clock.Real
	// AutoResolveOffline resolves active sensor_offline alerts when the sensor reports again.
	AutoResolveOffline bool
}

// Input is one reading as received from a sensor.
type Input struct {
	Timestamp time.Time // Zero means now
	Data      model.ReadingData
	SensorID  string
}

// Result describes what ingesting a reading produced.
type Result struct {
	Reading *model.Reading
	Events  []alerting.TriggeredEvent
	Alerts  []*model.Alert
}

// Service ingests sensor readings.
type Service struct {
	logger       *slog.Logger
	store        Store
	evaluator    *alerting.Evaluator
	deduplicator *alerting.Deduplicator
	lifecycle    *alerting.Lifecycle
	publisher    alerting.Publisher
	clock        clock.Clock
	autoResolve  bool
}

// New creates a new ingestion Service.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("ingest config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Evaluator == nil {
		return nil, errors.New("evaluator cannot be nil")
	}
	if cfg.Deduplicator == nil {
		return nil, errors.New("deduplicator cannot be nil")
	}
	if cfg.AutoResolveOffline && cfg.Lifecycle == nil {
		return nil, errors.New("lifecycle cannot be nil when offline auto-resolve is enabled")
	}

	s := &Service{
		logger:       cfg.Logger.With("component", "ingest"),
		store:        cfg.Store,
		evaluator:    cfg.Evaluator,
		deduplicator: cfg.Deduplicator,
		lifecycle:    cfg.Lifecycle,
		publisher:    cfg.Publisher,
		clock:        cfg.Clock,
		autoResolve:  cfg.AutoResolveOffline,
	}
	if s.publisher == nil {
		s.publisher = alerting.NopPublisher{}
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	return s, nil
}

// Ingest classifies and stores a reading. Once the reading is stored the call
// succeeds: alert creation failures are logged and do not fail the ingestion.
func (s *Service) Ingest(ctx context.Context, in Input) (*Result, error) {
	if len(in.Data) == 0 {
		return nil, ErrEmptyReading
	}

	if _, err := s.store.GetSensor(ctx, in.SensorID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSensorNotFound, in.SensorID)
		}
		return nil, fmt.Errorf("lookup sensor %s: %w", in.SensorID, err)
	}

	level, events := s.evaluator.Evaluate(ctx, in.SensorID, in.Data)

	ts := in.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	reading := &model.Reading{
		Timestamp:  ts.UTC(),
		Data:       in.Data,
		SensorID:   in.SensorID,
		AlertLevel: level,
	}
	if err := s.store.CreateReading(ctx, reading); err != nil {
		return nil, fmt.Errorf("store reading: %w", err)
	}

	s.publisher.Publish(alerting.DashboardTopic, alerting.EventSensorReading, alerting.ReadingEvent{
		Timestamp:  reading.Timestamp,
		Data:       reading.Data,
		SensorID:   reading.SensorID,
		AlertLevel: reading.AlertLevel,
	})

	res := &Result{Reading: reading, Events: events}

	if len(events) > 0 {
		alerts, err := s.deduplicator.CreateAlertsFromEvents(ctx, in.SensorID, events, in.Data)
		if err != nil {
			s.logger.Error("failed to create alerts from reading",
				"sensor_id", in.SensorID,
				"reading_id", reading.ID,
				"error", err)
		}
		res.Alerts = alerts
	}

	if s.autoResolve {
		s.resolveOffline(ctx, in.SensorID)
	}

	return res, nil
}

func (s *Service) resolveOffline(ctx context.Context, sensorID string) {
	active, err := s.store.ActiveAlerts(ctx, sensorID, model.CategorySensorOffline)
	if err != nil {
		s.logger.Error("failed to load offline alerts", "sensor_id", sensorID, "error", err)
		return
	}

	for _, a := range active {
		if _, err := s.lifecycle.Resolve(ctx, a.ID, OfflineResolveReason); err != nil {
			if errors.Is(err, alerting.ErrAlreadyProcessed) {
				continue
			}
			s.logger.Error("failed to resolve offline alert", "alert_id", a.ID, "sensor_id", sensorID, "error", err)
			continue
		}
		s.logger.Info("offline alert resolved", "alert_id", a.ID, "sensor_id", sensorID)
	}
}
