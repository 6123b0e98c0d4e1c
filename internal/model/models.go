// Package model defines the persistent records of the sewer monitoring system
// and the enumerations shared by the store, the alerting core and the API.
package model

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned by stores when a unique key is already taken.
	ErrAlreadyExists = errors.New("record already exists")
)

// AlertLevel is the per-reading classification.
type AlertLevel string

const (
	LevelNormal   AlertLevel = "normal"
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// Rank orders levels so that critical > warning > normal.
func (l AlertLevel) Rank() int {
	switch l {
	case LevelCritical:
		return 2
	case LevelWarning:
		return 1
	default:
		return 0
	}
}

// Severity is the per-alert classification. It is a different scale from AlertLevel.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities so that critical > high > medium > low.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Category is the alert_type of an alert.
type Category string

const (
	CategoryFloodRisk           Category = "flood_risk"
	CategoryToxicGas            Category = "toxic_gas"
	CategoryMaintenanceRequired Category = "maintenance_required"
	CategorySensorOffline       Category = "sensor_offline"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryFloodRisk, CategoryToxicGas, CategoryMaintenanceRequired, CategorySensorOffline:
		return true
	}
	return false
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusActive       AlertStatus = "active"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
)

// SensorType is the hardware category of a sensor.
type SensorType string

const (
	SensorTypeWaterLevel  SensorType = "water_level"
	SensorTypeGasDetector SensorType = "gas_detector"
	SensorTypeCombined    SensorType = "combined"
)

// Valid reports whether t is a known sensor type.
func (t SensorType) Valid() bool {
	switch t {
	case SensorTypeWaterLevel, SensorTypeGasDetector, SensorTypeCombined:
		return true
	}
	return false
}

// SensorStatus is the operational status of a sensor.
type SensorStatus string

const (
	SensorActive      SensorStatus = "active"
	SensorInactive    SensorStatus = "inactive"
	SensorMaintenance SensorStatus = "maintenance"
)

// Valid reports whether s is a known sensor status.
func (s SensorStatus) Valid() bool {
	switch s {
	case SensorActive, SensorInactive, SensorMaintenance:
		return true
	}
	return false
}

// Role is the operator role of a user.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// DeliveryStatus is the outcome of one gateway send.
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Well-known reading parameters.
const (
	ParamWaterLevel = "water_level"
	ParamGasCO      = "gas_co"
	ParamGasH2S     = "gas_h2s"
	ParamGasCH4     = "gas_ch4"
)

// ReadingData maps a parameter name to its observed value.
type ReadingData map[string]float64

// Sensor represents a provisioned sensor. Sensors are never hard-deleted.
type Sensor struct {
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	Configuration map[string]any `gorm:"serializer:json" json:"configuration,omitempty"`
	SensorID      string         `gorm:"uniqueIndex;not null" json:"sensor_id"`
	LocationName  string         `gorm:"not null" json:"location_name"`
	SensorType    SensorType     `gorm:"not null" json:"sensor_type"`
	Status        SensorStatus   `gorm:"index;not null;default:active" json:"status"`
	Latitude      float64        `gorm:"not null" json:"latitude"`
	Longitude     float64        `gorm:"not null" json:"longitude"`
	ID            uint           `gorm:"primaryKey" json:"id"`
}

// TableName specifies the table name for Sensor model.
func (Sensor) TableName() string {
	return "sensors"
}

// Reading is an immutable timestamped snapshot of a sensor's parameters.
type Reading struct {
	Timestamp  time.Time   `gorm:"index:idx_reading_sensor_timestamp;not null" json:"timestamp"`
	Data       ReadingData `gorm:"serializer:json;column:reading_data" json:"reading_data"`
	SensorID   string      `gorm:"index:idx_reading_sensor_timestamp;not null" json:"sensor_id"`
	AlertLevel AlertLevel  `gorm:"not null;default:normal" json:"alert_level"`
	ID         uint        `gorm:"primaryKey" json:"id"`
}

// TableName specifies the table name for Reading model.
func (Reading) TableName() string {
	return "sensor_readings"
}

// ThresholdConfig holds the warning/critical boundaries of one parameter of one sensor.
// A nil boundary is not configured and never fires.
type ThresholdConfig struct {
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Warning       *float64  `gorm:"column:threshold_warning" json:"threshold_warning"`
	Critical      *float64  `gorm:"column:threshold_critical" json:"threshold_critical"`
	SensorID      string    `gorm:"uniqueIndex:idx_threshold_sensor_param;not null" json:"sensor_id"`
	ParameterName string    `gorm:"uniqueIndex:idx_threshold_sensor_param;not null" json:"parameter_name"`
	Enabled       bool      `gorm:"not null" json:"enabled"`
	ID            uint      `gorm:"primaryKey" json:"id"`
}

// TableName specifies the table name for ThresholdConfig model.
func (ThresholdConfig) TableName() string {
	return "alert_configurations"
}

// Alert is the operator-facing record raised by the alerting core.
// AcknowledgedAt and ResolvedAt are set at most once each.
type Alert struct {
	CreatedAt      time.Time      `gorm:"index:idx_alert_created;not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at"`
	ResolvedAt     *time.Time     `json:"resolved_at"`
	Evidence       map[string]any `gorm:"serializer:json;column:alert_data" json:"alert_data,omitempty"`
	SensorID       string         `gorm:"index:idx_alert_sensor_type_status;not null" json:"sensor_id"`
	Category       Category       `gorm:"column:alert_type;index:idx_alert_sensor_type_status;not null" json:"alert_type"`
	Status         AlertStatus    `gorm:"index:idx_alert_sensor_type_status;not null;default:active" json:"status"`
	Severity       Severity       `gorm:"not null" json:"severity"`
	Message        string         `gorm:"not null" json:"message"`
	LocationName   string         `gorm:"->;-:migration" json:"location_name,omitempty"`
	ID             uint           `gorm:"primaryKey" json:"id"`
	WhatsAppSent   bool           `gorm:"column:whatsapp_sent;not null;default:false" json:"whatsapp_sent"`
}

// TableName specifies the table name for Alert model.
func (Alert) TableName() string {
	return "alerts"
}

// NotificationLogEntry records one gateway delivery attempt for one recipient.
type NotificationLogEntry struct {
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	Recipient string         `gorm:"not null" json:"recipient"`
	Status    DeliveryStatus `gorm:"not null" json:"status"`
	Error     string         `json:"error,omitempty"`
	AlertID   uint           `gorm:"index;not null" json:"alert_id"`
	UserID    uint           `gorm:"not null" json:"user_id"`
	ID        uint           `gorm:"primaryKey" json:"id"`
}

// TableName specifies the table name for NotificationLogEntry model.
func (NotificationLogEntry) TableName() string {
	return "notification_log"
}

// User is an operator that may receive notifications.
type User struct {
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	Username              string    `gorm:"uniqueIndex;not null" json:"username"`
	PhoneNumber           string    `gorm:"index" json:"phone_number"`
	Role                  Role      `gorm:"not null" json:"role"`
	ID                    uint      `gorm:"primaryKey" json:"id"`
	WhatsAppNotifications bool      `gorm:"column:whatsapp_notifications;not null;default:false" json:"whatsapp_notifications"`
}

// TableName specifies the table name for User model.
func (User) TableName() string {
	return "users"
}

// StaleSensor is an active sensor without a recent reading.
type StaleSensor struct {
	LastReading  *time.Time `json:"last_reading"`
	SensorID     string     `json:"sensor_id"`
	LocationName string     `json:"location_name"`
}

// AlertFilter narrows alert listings. Zero values disable a filter.
type AlertFilter struct {
	Status   AlertStatus
	Severity Severity
	SensorID string
	Limit    int
	Offset   int
}

// ReadingFilter narrows reading listings. Zero values disable a filter.
type ReadingFilter struct {
	Start    time.Time
	End      time.Time
	SensorID string
	Limit    int
	Offset   int
}

// SensorUpdate carries the mutable fields of a sensor; nil fields are left untouched.
type SensorUpdate struct {
	LocationName  *string
	Latitude      *float64
	Longitude     *float64
	SensorType    *SensorType
	Status        *SensorStatus
	Configuration map[string]any
}

// Empty reports whether the update carries no field.
func (u SensorUpdate) Empty() bool {
	return u.LocationName == nil && u.Latitude == nil && u.Longitude == nil &&
		u.SensorType == nil && u.Status == nil && u.Configuration == nil
}

// AlertCount is one grouped row used to build AlertStats.
type AlertCount struct {
	Status   AlertStatus
	Severity Severity
	Category Category
	Count    int64
}

// AlertStats summarizes alerts created inside a window.
type AlertStats struct {
	Summary AlertSummary   `json:"summary"`
	ByType  []CategoryStat `json:"by_type"`
}

// AlertSummary holds totals by status and active counts by severity.
type AlertSummary struct {
	Total          int64 `json:"total"`
	Active         int64 `json:"active"`
	Acknowledged   int64 `json:"acknowledged"`
	Resolved       int64 `json:"resolved"`
	CriticalActive int64 `json:"critical_active"`
	HighActive     int64 `json:"high_active"`
	MediumActive   int64 `json:"medium_active"`
	LowActive      int64 `json:"low_active"`
}

// CategoryStat counts alerts of one category.
type CategoryStat struct {
	Category    Category `json:"alert_type"`
	Count       int64    `json:"count"`
	ActiveCount int64    `json:"active_count"`
}
