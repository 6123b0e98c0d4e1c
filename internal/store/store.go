// Package store persists the sewer monitoring records. GormStore targets
// PostgreSQL; MemoryStore keeps everything in process for tests and demos.
package store

import (
	"context"
	"time"

	"procodus.dev/sewer-monitor/internal/alerting"
	"procodus.dev/sewer-monitor/internal/model"
)

// Default page sizes.
const (
	DefaultAlertLimit   = 50
	DefaultReadingLimit = 100
)

// Store is the full persistence surface used by the server.
type Store interface {
	alerting.Store

	Ping(ctx context.Context) error
	Close() error

	GetSensor(ctx context.Context, sensorID string) (*model.Sensor, error)
	ListSensors(ctx context.Context) ([]model.Sensor, error)
	CreateSensor(ctx context.Context, sensor *model.Sensor) error
	UpdateSensor(ctx context.Context, sensorID string, update model.SensorUpdate) (*model.Sensor, error)
	ListSensorSummaries(ctx context.Context) ([]model.SensorSummary, error)
	GetSensorSummary(ctx context.Context, sensorID string) (*model.SensorSummary, error)

	CreateReading(ctx context.Context, reading *model.Reading) error
	ListReadings(ctx context.Context, filter model.ReadingFilter) ([]model.Reading, error)
	ReadingLevelCounts(ctx context.Context, since time.Time) ([]model.LevelCount, error)
	ReadingSpans(ctx context.Context, since time.Time) ([]model.ReadingSpan, error)

	ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error)
	AlertCounts(ctx context.Context, since time.Time) ([]model.AlertCount, error)
	ActiveAlertsBySensor(ctx context.Context) ([]model.SensorAlertCount, error)
	ListDeliveries(ctx context.Context, alertID uint) ([]model.NotificationLogEntry, error)

	UpsertThreshold(ctx context.Context, cfg *model.ThresholdConfig) error
	ListThresholds(ctx context.Context, sensorID string) ([]model.ThresholdConfig, error)

	UpsertUser(ctx context.Context, user *model.User) error
	UserByPhone(ctx context.Context, phone string) (*model.User, error)
}

func limitOr(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
