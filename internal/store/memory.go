package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"procodus.dev/sewer-monitor/internal/model"
	"procodus.dev/sewer-monitor/pkg/clock"
)

// MemoryStore is a process-local Store. Records are copied on the way in and out.
type MemoryStore struct {
	mu          sync.RWMutex
	clock       clock.Clock
	sensors     map[string]*model.Sensor
	readings    []model.Reading
	lastReading map[string]time.Time
	thresholds  map[thresholdKey]*model.ThresholdConfig
	alerts      []*model.Alert
	deliveries  []model.NotificationLogEntry
	users       map[string]*model.User
	nextID      map[string]uint
}

type thresholdKey struct {
	sensorID  string
	parameter string
}

// NewMemoryStore creates an empty store. A nil clock uses the system clock.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real{}
	}
	return &MemoryStore{
		clock:       c,
		sensors:     make(map[string]*model.Sensor),
		lastReading: make(map[string]time.Time),
		thresholds:  make(map[thresholdKey]*model.ThresholdConfig),
		users:       make(map[string]*model.User),
		nextID:      make(map[string]uint),
	}
}

func (m *MemoryStore) id(table string) uint {
	m.nextID[table]++
	return m.nextID[table]
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// EnabledThresholds implements alerting.ThresholdSource.
func (m *MemoryStore) EnabledThresholds(_ context.Context, sensorID string) ([]model.ThresholdConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ThresholdConfig
	for _, t := range m.thresholdsOf(sensorID) {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStore) thresholdsOf(sensorID string) []model.ThresholdConfig {
	var out []model.ThresholdConfig
	for k, t := range m.thresholds {
		if k.sensorID == sensorID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParameterName < out[j].ParameterName })
	return out
}

// CreateAlert implements alerting.AlertStore.
func (m *MemoryStore) CreateAlert(_ context.Context, alert *model.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	alert.ID = m.id("alerts")
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now
	}
	alert.UpdatedAt = now
	stored := *alert
	stored.Evidence = maps.Clone(alert.Evidence)
	stored.LocationName = ""
	m.alerts = append(m.alerts, &stored)
	return nil
}

func (m *MemoryStore) findAlert(id uint) *model.Alert {
	for _, a := range m.alerts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// withLocation returns a copy of a joined with its sensor location.
func (m *MemoryStore) withLocation(a *model.Alert) model.Alert {
	out := *a
	out.Evidence = maps.Clone(a.Evidence)
	if s, ok := m.sensors[a.SensorID]; ok {
		out.LocationName = s.LocationName
	}
	return out
}

// GetAlert implements alerting.AlertStore.
func (m *MemoryStore) GetAlert(_ context.Context, id uint) (*model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a := m.findAlert(id)
	if a == nil {
		return nil, model.ErrNotFound
	}
	out := m.withLocation(a)
	return &out, nil
}

// HasActiveAlert implements alerting.AlertStore.
func (m *MemoryStore) HasActiveAlert(_ context.Context, sensorID string, category model.Category, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.alerts {
		if a.SensorID != sensorID || a.Category != category || a.Status != model.StatusActive {
			continue
		}
		if since.IsZero() || !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// TransitionAlert implements alerting.AlertStore.
func (m *MemoryStore) TransitionAlert(_ context.Context, id uint, from []model.AlertStatus, to model.AlertStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.findAlert(id)
	if a == nil || !slices.Contains(from, a.Status) {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = at
	stamp := at
	switch to {
	case model.StatusAcknowledged:
		a.AcknowledgedAt = &stamp
	case model.StatusResolved:
		a.ResolvedAt = &stamp
	}
	return true, nil
}

// ActiveAlerts implements alerting.AlertStore.
func (m *MemoryStore) ActiveAlerts(_ context.Context, sensorID string, category model.Category) ([]model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Alert
	for _, a := range m.alerts {
		if a.SensorID == sensorID && a.Category == category && a.Status == model.StatusActive {
			out = append(out, m.withLocation(a))
		}
	}
	return out, nil
}

// StaleSensors implements alerting.SensorSource.
func (m *MemoryStore) StaleSensors(_ context.Context, cutoff time.Time) ([]model.StaleSensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.StaleSensor
	for _, s := range m.sensors {
		if s.Status != model.SensorActive {
			continue
		}
		last, ok := m.lastReading[s.SensorID]
		if ok && !last.Before(cutoff) {
			continue
		}
		stale := model.StaleSensor{SensorID: s.SensorID, LocationName: s.LocationName}
		if ok {
			t := last
			stale.LastReading = &t
		}
		out = append(out, stale)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

// PendingNotifications implements alerting.NotificationStore.
func (m *MemoryStore) PendingNotifications(_ context.Context, severities []model.Severity, limit int) ([]model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Alert
	for _, a := range m.alerts {
		if a.Status == model.StatusActive && !a.WhatsAppSent && slices.Contains(severities, a.Severity) {
			out = append(out, m.withLocation(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkNotified implements alerting.NotificationStore.
func (m *MemoryStore) MarkNotified(_ context.Context, alertID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.findAlert(alertID)
	if a == nil {
		return model.ErrNotFound
	}
	a.WhatsAppSent = true
	return nil
}

// Recipients implements alerting.NotificationStore.
func (m *MemoryStore) Recipients(_ context.Context, roles []model.Role) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.User
	for _, u := range m.users {
		if u.WhatsAppNotifications && strings.TrimSpace(u.PhoneNumber) != "" && slices.Contains(roles, u.Role) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordDelivery implements alerting.NotificationStore.
func (m *MemoryStore) RecordDelivery(_ context.Context, entry *model.NotificationLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.id("notification_log")
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.clock.Now()
	}
	m.deliveries = append(m.deliveries, *entry)
	return nil
}

// ListDeliveries implements Store.
func (m *MemoryStore) ListDeliveries(_ context.Context, alertID uint) ([]model.NotificationLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.NotificationLogEntry
	for _, d := range m.deliveries {
		if d.AlertID == alertID {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetSensor implements Store.
func (m *MemoryStore) GetSensor(_ context.Context, sensorID string) (*model.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sensors[sensorID]
	if !ok {
		return nil, model.ErrNotFound
	}
	out := *s
	out.Configuration = maps.Clone(s.Configuration)
	return &out, nil
}

// ListSensors implements Store.
func (m *MemoryStore) ListSensors(context.Context) ([]model.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Sensor, 0, len(m.sensors))
	for _, s := range m.sensors {
		c := *s
		c.Configuration = maps.Clone(s.Configuration)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

// summary copies s with its aggregates. Callers hold the read lock.
func (m *MemoryStore) summary(s *model.Sensor) model.SensorSummary {
	out := model.SensorSummary{Sensor: *s}
	out.Configuration = maps.Clone(s.Configuration)
	if last, ok := m.lastReading[s.SensorID]; ok {
		t := last
		out.LastReading = &t
	}
	for _, r := range m.readings {
		if r.SensorID == s.SensorID {
			out.TotalReadings++
		}
	}
	for _, a := range m.alerts {
		if a.SensorID == s.SensorID && a.Status == model.StatusActive {
			out.ActiveAlerts++
		}
	}
	return out
}

// ListSensorSummaries implements Store.
func (m *MemoryStore) ListSensorSummaries(context.Context) ([]model.SensorSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.SensorSummary, 0, len(m.sensors))
	for _, s := range m.sensors {
		out = append(out, m.summary(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

// GetSensorSummary implements Store.
func (m *MemoryStore) GetSensorSummary(_ context.Context, sensorID string) (*model.SensorSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sensors[sensorID]
	if !ok {
		return nil, model.ErrNotFound
	}
	out := m.summary(s)
	return &out, nil
}

// CreateSensor implements Store.
func (m *MemoryStore) CreateSensor(_ context.Context, sensor *model.Sensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sensor.SensorID == "" {
		return fmt.Errorf("sensor id cannot be empty")
	}
	if _, ok := m.sensors[sensor.SensorID]; ok {
		return model.ErrAlreadyExists
	}
	now := m.clock.Now()
	sensor.ID = m.id("sensors")
	sensor.CreatedAt, sensor.UpdatedAt = now, now
	if sensor.Status == "" {
		sensor.Status = model.SensorActive
	}
	stored := *sensor
	stored.Configuration = maps.Clone(sensor.Configuration)
	m.sensors[sensor.SensorID] = &stored
	return nil
}

// UpdateSensor implements Store.
func (m *MemoryStore) UpdateSensor(_ context.Context, sensorID string, update model.SensorUpdate) (*model.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sensors[sensorID]
	if !ok {
		return nil, model.ErrNotFound
	}
	applySensorUpdate(s, update)
	s.UpdatedAt = m.clock.Now()
	out := *s
	out.Configuration = maps.Clone(s.Configuration)
	return &out, nil
}

// CreateReading implements Store.
func (m *MemoryStore) CreateReading(_ context.Context, reading *model.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reading.ID = m.id("sensor_readings")
	if reading.Timestamp.IsZero() {
		reading.Timestamp = m.clock.Now()
	}
	stored := *reading
	stored.Data = maps.Clone(reading.Data)
	m.readings = append(m.readings, stored)
	if last, ok := m.lastReading[reading.SensorID]; !ok || reading.Timestamp.After(last) {
		m.lastReading[reading.SensorID] = reading.Timestamp
	}
	return nil
}

// ListReadings implements Store.
func (m *MemoryStore) ListReadings(_ context.Context, filter model.ReadingFilter) ([]model.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Reading
	for _, r := range m.readings {
		if filter.SensorID != "" && r.SensorID != filter.SensorID {
			continue
		}
		if !filter.Start.IsZero() && r.Timestamp.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && r.Timestamp.After(filter.End) {
			continue
		}
		c := r
		c.Data = maps.Clone(r.Data)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return page(out, filter.Offset, limitOr(filter.Limit, DefaultReadingLimit)), nil
}

// ReadingLevelCounts implements Store.
func (m *MemoryStore) ReadingLevelCounts(_ context.Context, since time.Time) ([]model.LevelCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[model.AlertLevel]int64)
	for _, r := range m.readings {
		if !r.Timestamp.Before(since) {
			counts[r.AlertLevel]++
		}
	}
	out := make([]model.LevelCount, 0, len(counts))
	for level, n := range counts {
		out = append(out, model.LevelCount{AlertLevel: level, Count: n})
	}
	return out, nil
}

// ReadingSpans implements Store.
func (m *MemoryStore) ReadingSpans(_ context.Context, since time.Time) ([]model.ReadingSpan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	spans := make(map[string]*model.ReadingSpan)
	for _, r := range m.readings {
		if r.Timestamp.Before(since) {
			continue
		}
		span, ok := spans[r.SensorID]
		if !ok {
			span = &model.ReadingSpan{SensorID: r.SensorID, FirstReading: r.Timestamp, LastReading: r.Timestamp}
			spans[r.SensorID] = span
		}
		span.Count++
		if r.Timestamp.Before(span.FirstReading) {
			span.FirstReading = r.Timestamp
		}
		if r.Timestamp.After(span.LastReading) {
			span.LastReading = r.Timestamp
		}
	}
	out := make([]model.ReadingSpan, 0, len(spans))
	for _, span := range spans {
		out = append(out, *span)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

// ListAlerts implements Store.
func (m *MemoryStore) ListAlerts(_ context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Alert
	for _, a := range m.alerts {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if filter.SensorID != "" && a.SensorID != filter.SensorID {
			continue
		}
		out = append(out, m.withLocation(a))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, filter.Offset, limitOr(filter.Limit, DefaultAlertLimit)), nil
}

// AlertCounts implements Store.
func (m *MemoryStore) AlertCounts(_ context.Context, since time.Time) ([]model.AlertCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type key struct {
		status   model.AlertStatus
		severity model.Severity
		category model.Category
	}
	counts := make(map[key]int64)
	for _, a := range m.alerts {
		if a.CreatedAt.Before(since) {
			continue
		}
		counts[key{a.Status, a.Severity, a.Category}]++
	}
	out := make([]model.AlertCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, model.AlertCount{Status: k.status, Severity: k.severity, Category: k.category, Count: n})
	}
	return out, nil
}

// ActiveAlertsBySensor implements Store.
func (m *MemoryStore) ActiveAlertsBySensor(context.Context) ([]model.SensorAlertCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type key struct {
		sensorID string
		severity model.Severity
	}
	counts := make(map[key]int64)
	for _, a := range m.alerts {
		if a.Status == model.StatusActive {
			counts[key{a.SensorID, a.Severity}]++
		}
	}
	out := make([]model.SensorAlertCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, model.SensorAlertCount{SensorID: k.sensorID, Severity: k.severity, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SensorID != out[j].SensorID {
			return out[i].SensorID < out[j].SensorID
		}
		return out[i].Severity < out[j].Severity
	})
	return out, nil
}

// UpsertThreshold implements Store.
func (m *MemoryStore) UpsertThreshold(_ context.Context, cfg *model.ThresholdConfig) error {
	if cfg.SensorID == "" || cfg.ParameterName == "" {
		return fmt.Errorf("threshold needs sensor id and parameter name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := thresholdKey{cfg.SensorID, cfg.ParameterName}
	if existing, ok := m.thresholds[k]; ok {
		cfg.ID = existing.ID
	} else {
		cfg.ID = m.id("alert_configurations")
	}
	cfg.UpdatedAt = m.clock.Now()
	stored := *cfg
	m.thresholds[k] = &stored
	return nil
}

// ListThresholds implements Store.
func (m *MemoryStore) ListThresholds(_ context.Context, sensorID string) ([]model.ThresholdConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholdsOf(sensorID), nil
}

// UpsertUser implements Store.
func (m *MemoryStore) UpsertUser(_ context.Context, user *model.User) error {
	if user.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[user.Username]; ok {
		user.ID = existing.ID
		user.CreatedAt = existing.CreatedAt
	} else {
		user.ID = m.id("users")
		user.CreatedAt = m.clock.Now()
	}
	stored := *user
	m.users[user.Username] = &stored
	return nil
}

// UserByPhone implements Store.
func (m *MemoryStore) UserByPhone(_ context.Context, phone string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *model.User
	for _, u := range m.users {
		if u.PhoneNumber == phone && (found == nil || u.ID < found.ID) {
			found = u
		}
	}
	if found == nil {
		return nil, model.ErrNotFound
	}
	out := *found
	return &out, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

var _ Store = (*MemoryStore)(nil)
