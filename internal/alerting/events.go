package alerting

import (
	"time"

	"procodus.dev/sewer-monitor/internal/model"
)

// DashboardTopic is the fan-out topic all alerting events are published to.
const DashboardTopic = "dashboard"

// Event types.
const (
	EventNewAlert          = "new_alert"
	EventAlertAcknowledged = "alert_acknowledged"
	EventAlertResolved     = "alert_resolved"
	EventSensorReading     = "sensor_reading"
)

// Publisher fans events out to live clients. Implementations must not block.
type Publisher interface {
	Publish(topic, eventType string, payload any)
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(string, string, any) {}

// NewAlertEvent is the payload of new_alert.
type NewAlertEvent struct {
	CreatedAt time.Time      `json:"created_at"`
	SensorID  string         `json:"sensor_id"`
	Category  model.Category `json:"alert_type"`
	Severity  model.Severity `json:"severity"`
	Message   string         `json:"message"`
	ID        uint           `json:"id"`
}

// AcknowledgedEvent is the payload of alert_acknowledged.
type AcknowledgedEvent struct {
	AcknowledgedAt time.Time `json:"acknowledged_at"`
	ID             uint      `json:"id"`
}

// ResolvedEvent is the payload of alert_resolved.
type ResolvedEvent struct {
	ResolvedAt time.Time `json:"resolved_at"`
	Reason     string    `json:"reason,omitempty"`
	ID         uint      `json:"id"`
}

// ReadingEvent is the payload of sensor_reading.
type ReadingEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	Data       model.ReadingData `json:"reading_data"`
	SensorID   string            `json:"sensor_id"`
	AlertLevel model.AlertLevel  `json:"alert_level"`
}
