package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procodus.dev/sewer-monitor/internal/model"
)

const alertWithLocation = "alerts.*, sensors.location_name"

// GormStore implements Store on a gorm connection.
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewGormStore wraps an open, migrated connection.
func NewGormStore(db *gorm.DB, logger *slog.Logger) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &GormStore{db: db, logger: logger.With("component", "store")}, nil
}

// DB exposes the underlying connection.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Ping checks the connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (s *GormStore) Close() error {
	return CloseDB(s.db, s.logger)
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return model.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return model.ErrAlreadyExists
	default:
		return err
	}
}

func (s *GormStore) alertQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&model.Alert{}).
		Select(alertWithLocation).
		Joins("LEFT JOIN sensors ON sensors.sensor_id = alerts.sensor_id")
}

// EnabledThresholds returns the enabled thresholds of a sensor.
func (s *GormStore) EnabledThresholds(ctx context.Context, sensorID string) ([]model.ThresholdConfig, error) {
	var out []model.ThresholdConfig
	err := s.db.WithContext(ctx).
		Where("sensor_id = ? AND enabled = ?", sensorID, true).
		Order("parameter_name").
		Find(&out).Error
	return out, err
}

// CreateAlert inserts alert and fills its ID.
func (s *GormStore) CreateAlert(ctx context.Context, alert *model.Alert) error {
	return translate(s.db.WithContext(ctx).Create(alert).Error)
}

// GetAlert loads one alert with its sensor location.
func (s *GormStore) GetAlert(ctx context.Context, id uint) (*model.Alert, error) {
	var alert model.Alert
	if err := s.alertQuery(ctx).Where("alerts.id = ?", id).Take(&alert).Error; err != nil {
		return nil, translate(err)
	}
	return &alert, nil
}

// HasActiveAlert implements alerting.AlertStore.
func (s *GormStore) HasActiveAlert(ctx context.Context, sensorID string, category model.Category, since time.Time) (bool, error) {
	q := s.db.WithContext(ctx).
		Model(&model.Alert{}).
		Where("sensor_id = ? AND alert_type = ? AND status = ?", sensorID, category, model.StatusActive)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// TransitionAlert implements alerting.AlertStore with a single conditional UPDATE.
func (s *GormStore) TransitionAlert(ctx context.Context, id uint, from []model.AlertStatus, to model.AlertStatus, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	switch to {
	case model.StatusAcknowledged:
		updates["acknowledged_at"] = at
	case model.StatusResolved:
		updates["resolved_at"] = at
	}

	res := s.db.WithContext(ctx).
		Model(&model.Alert{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ActiveAlerts lists active alerts of a sensor and category, oldest first.
func (s *GormStore) ActiveAlerts(ctx context.Context, sensorID string, category model.Category) ([]model.Alert, error) {
	var out []model.Alert
	err := s.alertQuery(ctx).
		Where("alerts.sensor_id = ? AND alerts.alert_type = ? AND alerts.status = ?", sensorID, category, model.StatusActive).
		Order("alerts.created_at ASC, alerts.id ASC").
		Find(&out).Error
	return out, err
}

// StaleSensors lists active sensors with no reading at or after cutoff.
func (s *GormStore) StaleSensors(ctx context.Context, cutoff time.Time) ([]model.StaleSensor, error) {
	var out []model.StaleSensor
	err := s.db.WithContext(ctx).Raw(`
		SELECT s.sensor_id, s.location_name, MAX(r.timestamp) AS last_reading
		FROM sensors s
		LEFT JOIN sensor_readings r ON r.sensor_id = s.sensor_id
		WHERE s.status = ?
		GROUP BY s.sensor_id, s.location_name
		HAVING MAX(r.timestamp) IS NULL OR MAX(r.timestamp) < ?
		ORDER BY s.sensor_id`, model.SensorActive, cutoff).
		Scan(&out).Error
	return out, err
}

// PendingNotifications implements alerting.NotificationStore.
func (s *GormStore) PendingNotifications(ctx context.Context, severities []model.Severity, limit int) ([]model.Alert, error) {
	var out []model.Alert
	err := s.alertQuery(ctx).
		Where("alerts.status = ? AND alerts.whatsapp_sent = ? AND alerts.severity IN ?", model.StatusActive, false, severities).
		Order("alerts.created_at ASC, alerts.id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkNotified sets the delivery flag of an alert.
func (s *GormStore) MarkNotified(ctx context.Context, alertID uint) error {
	res := s.db.WithContext(ctx).
		Model(&model.Alert{}).
		Where("id = ?", alertID).
		Update("whatsapp_sent", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

// Recipients implements alerting.NotificationStore.
func (s *GormStore) Recipients(ctx context.Context, roles []model.Role) ([]model.User, error) {
	var out []model.User
	err := s.db.WithContext(ctx).
		Where("whatsapp_notifications = ? AND phone_number IS NOT NULL AND phone_number <> '' AND role IN ?", true, roles).
		Order("id").
		Find(&out).Error
	return out, err
}

// RecordDelivery appends a notification log entry.
func (s *GormStore) RecordDelivery(ctx context.Context, entry *model.NotificationLogEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// ListDeliveries returns the delivery log of an alert in attempt order.
func (s *GormStore) ListDeliveries(ctx context.Context, alertID uint) ([]model.NotificationLogEntry, error) {
	var out []model.NotificationLogEntry
	err := s.db.WithContext(ctx).
		Where("alert_id = ?", alertID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// GetSensor loads a sensor by its public identifier.
func (s *GormStore) GetSensor(ctx context.Context, sensorID string) (*model.Sensor, error) {
	var sensor model.Sensor
	if err := s.db.WithContext(ctx).Where("sensor_id = ?", sensorID).Take(&sensor).Error; err != nil {
		return nil, translate(err)
	}
	return &sensor, nil
}

// ListSensors returns every sensor ordered by identifier.
func (s *GormStore) ListSensors(ctx context.Context) ([]model.Sensor, error) {
	var out []model.Sensor
	err := s.db.WithContext(ctx).Order("sensor_id").Find(&out).Error
	return out, err
}

type sensorReadingAggregate struct {
	LastReading   *time.Time
	SensorID      string
	TotalReadings int64
}

type sensorAlertAggregate struct {
	SensorID     string
	ActiveAlerts int64
}

// summarize joins sensors with their reading and active alert aggregates.
func (s *GormStore) summarize(ctx context.Context, sensors []model.Sensor) ([]model.SensorSummary, error) {
	out := make([]model.SensorSummary, len(sensors))
	if len(sensors) == 0 {
		return out, nil
	}
	ids := make([]string, len(sensors))
	for i, sensor := range sensors {
		ids[i] = sensor.SensorID
	}

	var readings []sensorReadingAggregate
	if err := s.db.WithContext(ctx).
		Model(&model.Reading{}).
		Select("sensor_id, COUNT(*) AS total_readings, MAX(timestamp) AS last_reading").
		Where("sensor_id IN ?", ids).
		Group("sensor_id").
		Scan(&readings).Error; err != nil {
		return nil, fmt.Errorf("aggregate readings: %w", err)
	}
	var alerts []sensorAlertAggregate
	if err := s.db.WithContext(ctx).
		Model(&model.Alert{}).
		Select("sensor_id, COUNT(*) AS active_alerts").
		Where("status = ? AND sensor_id IN ?", model.StatusActive, ids).
		Group("sensor_id").
		Scan(&alerts).Error; err != nil {
		return nil, fmt.Errorf("aggregate alerts: %w", err)
	}

	byReading := make(map[string]sensorReadingAggregate, len(readings))
	for _, r := range readings {
		byReading[r.SensorID] = r
	}
	byAlert := make(map[string]int64, len(alerts))
	for _, a := range alerts {
		byAlert[a.SensorID] = a.ActiveAlerts
	}
	for i, sensor := range sensors {
		r := byReading[sensor.SensorID]
		out[i] = model.SensorSummary{
			Sensor:        sensor,
			LastReading:   r.LastReading,
			TotalReadings: r.TotalReadings,
			ActiveAlerts:  byAlert[sensor.SensorID],
		}
	}
	return out, nil
}

// ListSensorSummaries returns every sensor with its aggregates, ordered by identifier.
func (s *GormStore) ListSensorSummaries(ctx context.Context) ([]model.SensorSummary, error) {
	sensors, err := s.ListSensors(ctx)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, sensors)
}

// GetSensorSummary loads one sensor with its aggregates.
func (s *GormStore) GetSensorSummary(ctx context.Context, sensorID string) (*model.SensorSummary, error) {
	sensor, err := s.GetSensor(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	out, err := s.summarize(ctx, []model.Sensor{*sensor})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// CreateSensor inserts a sensor. A duplicate identifier yields model.ErrAlreadyExists.
func (s *GormStore) CreateSensor(ctx context.Context, sensor *model.Sensor) error {
	if sensor.Status == "" {
		sensor.Status = model.SensorActive
	}
	return translate(s.db.WithContext(ctx).Create(sensor).Error)
}

// UpdateSensor applies the non-nil fields of update.
func (s *GormStore) UpdateSensor(ctx context.Context, sensorID string, update model.SensorUpdate) (*model.Sensor, error) {
	var sensor model.Sensor
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("sensor_id = ?", sensorID).
			Take(&sensor).Error; err != nil {
			return translate(err)
		}
		applySensorUpdate(&sensor, update)
		return tx.Save(&sensor).Error
	})
	if err != nil {
		return nil, err
	}
	return &sensor, nil
}

func applySensorUpdate(sensor *model.Sensor, u model.SensorUpdate) {
	if u.LocationName != nil {
		sensor.LocationName = *u.LocationName
	}
	if u.Latitude != nil {
		sensor.Latitude = *u.Latitude
	}
	if u.Longitude != nil {
		sensor.Longitude = *u.Longitude
	}
	if u.SensorType != nil {
		sensor.SensorType = *u.SensorType
	}
	if u.Status != nil {
		sensor.Status = *u.Status
	}
	if u.Configuration != nil {
		sensor.Configuration = maps.Clone(u.Configuration)
	}
}

// CreateReading appends a reading.
func (s *GormStore) CreateReading(ctx context.Context, reading *model.Reading) error {
	return s.db.WithContext(ctx).Create(reading).Error
}

// ListReadings returns readings newest first.
func (s *GormStore) ListReadings(ctx context.Context, filter model.ReadingFilter) ([]model.Reading, error) {
	q := s.db.WithContext(ctx).Model(&model.Reading{})
	if filter.SensorID != "" {
		q = q.Where("sensor_id = ?", filter.SensorID)
	}
	if !filter.Start.IsZero() {
		q = q.Where("timestamp >= ?", filter.Start)
	}
	if !filter.End.IsZero() {
		q = q.Where("timestamp <= ?", filter.End)
	}

	var out []model.Reading
	err := q.Order("timestamp DESC, id DESC").
		Limit(limitOr(filter.Limit, DefaultReadingLimit)).
		Offset(filter.Offset).
		Find(&out).Error
	return out, err
}

// ReadingLevelCounts groups readings taken at or after since by alert level.
func (s *GormStore) ReadingLevelCounts(ctx context.Context, since time.Time) ([]model.LevelCount, error) {
	var out []model.LevelCount
	err := s.db.WithContext(ctx).
		Model(&model.Reading{}).
		Select("alert_level, COUNT(*) AS count").
		Where("timestamp >= ?", since).
		Group("alert_level").
		Scan(&out).Error
	return out, err
}

// ReadingSpans describes, per sensor, the readings taken at or after since.
func (s *GormStore) ReadingSpans(ctx context.Context, since time.Time) ([]model.ReadingSpan, error) {
	var out []model.ReadingSpan
	err := s.db.WithContext(ctx).
		Model(&model.Reading{}).
		Select("sensor_id, COUNT(*) AS count, MIN(timestamp) AS first_reading, MAX(timestamp) AS last_reading").
		Where("timestamp >= ?", since).
		Group("sensor_id").
		Order("sensor_id").
		Scan(&out).Error
	return out, err
}

// ListAlerts returns alerts newest first with their sensor location.
func (s *GormStore) ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	q := s.alertQuery(ctx)
	if filter.Status != "" {
		q = q.Where("alerts.status = ?", filter.Status)
	}
	if filter.Severity != "" {
		q = q.Where("alerts.severity = ?", filter.Severity)
	}
	if filter.SensorID != "" {
		q = q.Where("alerts.sensor_id = ?", filter.SensorID)
	}

	var out []model.Alert
	err := q.Order("alerts.created_at DESC, alerts.id DESC").
		Limit(limitOr(filter.Limit, DefaultAlertLimit)).
		Offset(filter.Offset).
		Find(&out).Error
	return out, err
}

// AlertCounts groups alerts created at or after since by status, severity and category.
func (s *GormStore) AlertCounts(ctx context.Context, since time.Time) ([]model.AlertCount, error) {
	var out []model.AlertCount
	err := s.db.WithContext(ctx).
		Model(&model.Alert{}).
		Select("status, severity, alert_type AS category, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("status, severity, alert_type").
		Scan(&out).Error
	return out, err
}

// ActiveAlertsBySensor counts active alerts by sensor and severity.
func (s *GormStore) ActiveAlertsBySensor(ctx context.Context) ([]model.SensorAlertCount, error) {
	var out []model.SensorAlertCount
	err := s.db.WithContext(ctx).
		Model(&model.Alert{}).
		Select("sensor_id, severity, COUNT(*) AS count").
		Where("status = ?", model.StatusActive).
		Group("sensor_id, severity").
		Order("sensor_id, severity").
		Scan(&out).Error
	return out, err
}

// UpsertThreshold inserts or replaces the threshold of (sensor, parameter).
func (s *GormStore) UpsertThreshold(ctx context.Context, cfg *model.ThresholdConfig) error {
	if cfg.SensorID == "" || cfg.ParameterName == "" {
		return fmt.Errorf("threshold needs sensor id and parameter name")
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sensor_id"}, {Name: "parameter_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"threshold_warning", "threshold_critical", "enabled", "updated_at"}),
	}).Create(cfg).Error
}

// ListThresholds returns every threshold of a sensor, enabled or not.
func (s *GormStore) ListThresholds(ctx context.Context, sensorID string) ([]model.ThresholdConfig, error) {
	var out []model.ThresholdConfig
	err := s.db.WithContext(ctx).
		Where("sensor_id = ?", sensorID).
		Order("parameter_name").
		Find(&out).Error
	return out, err
}

// UpsertUser inserts or updates a user by username.
func (s *GormStore) UpsertUser(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"phone_number", "role", "whatsapp_notifications"}),
	}).Create(user).Error
}

// UserByPhone finds the user owning a phone number.
func (s *GormStore) UserByPhone(ctx context.Context, phone string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("phone_number = ?", phone).Order("id").Take(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

var _ Store = (*GormStore)(nil)
