// Package alerting is the alert evaluation and lifecycle engine: it classifies
// readings against thresholds, raises deduplicated alerts, detects offline
// sensors, dispatches notifications and owns the alert state machine.
package alerting

import (
	"context"
	"errors"
	"time"

	"procodus.dev/sewer-monitor/internal/model"
)

var (
	// ErrAlertNotFound is returned when a lifecycle operation targets an unknown alert.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrAlreadyProcessed is returned when the state machine rejects a transition.
	ErrAlreadyProcessed = errors.New("alert already processed")
	// ErrEngineRunning is returned by Engine.Start when the engine is already running.
	ErrEngineRunning = errors.New("alert engine already running")
)

// Default windows and limits.
const (
	DefaultSuppressionWindow = time.Hour
	DefaultStalenessWindow   = 2 * time.Hour
	DefaultCheckInterval     = 30 * time.Second
	DefaultBatchSize         = 10
	DefaultSendTimeout       = 5 * time.Second
)

// ThresholdSource returns the enabled thresholds of a sensor.
type ThresholdSource interface {
	EnabledThresholds(ctx context.Context, sensorID string) ([]model.ThresholdConfig, error)
}

// AlertStore persists alerts and applies conditional state transitions.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *model.Alert) error
	GetAlert(ctx context.Context, id uint) (*model.Alert, error)
	// HasActiveAlert reports whether an active alert of category exists for the
	// sensor created at or after since. A zero since disables the window.
	HasActiveAlert(ctx context.Context, sensorID string, category model.Category, since time.Time) (bool, error)
	// TransitionAlert moves the alert to `to` only if its status is one of from,
	// stamping the matching timestamp with at. It reports whether a row changed.
	TransitionAlert(ctx context.Context, id uint, from []model.AlertStatus, to model.AlertStatus, at time.Time) (bool, error)
	ActiveAlerts(ctx context.Context, sensorID string, category model.Category) ([]model.Alert, error)
}

// SensorSource lists sensors whose latest reading is older than cutoff.
type SensorSource interface {
	StaleSensors(ctx context.Context, cutoff time.Time) ([]model.StaleSensor, error)
}

// NotificationStore backs the dispatcher.
type NotificationStore interface {
	// PendingNotifications returns active, unsent alerts of the given
	// severities, oldest first, joined with their sensor location.
	PendingNotifications(ctx context.Context, severities []model.Severity, limit int) ([]model.Alert, error)
	MarkNotified(ctx context.Context, alertID uint) error
	// Recipients returns opted-in users with a phone number and one of roles.
	Recipients(ctx context.Context, roles []model.Role) ([]model.User, error)
	RecordDelivery(ctx context.Context, entry *model.NotificationLogEntry) error
}

// Store is everything the engine needs from persistence.
type Store interface {
	ThresholdSource
	AlertStore
	SensorSource
	NotificationStore
}

// Sender delivers one text message to one phone number.
type Sender interface {
	Send(ctx context.Context, phoneNumber, message string) error
}
