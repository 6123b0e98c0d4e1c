package model

import (
	"sort"
	"time"
)

// SystemStatus is the overall verdict of the system health report.
type SystemStatus string

const (
	SystemHealthy SystemStatus = "healthy"
	SystemWarning SystemStatus = "warning"
)

// SensorSummary is a sensor with its reading and alert aggregates.
type SensorSummary struct {
	Sensor
	LastReading   *time.Time `json:"last_reading"`
	TotalReadings int64      `json:"total_readings"`
	ActiveAlerts  int64      `json:"active_alerts"`
}

// SensorAlertCount counts the active alerts of one sensor at one severity.
type SensorAlertCount struct {
	SensorID string
	Severity Severity
	Count    int64
}

// LevelCount counts readings classified at one alert level.
type LevelCount struct {
	AlertLevel AlertLevel `json:"alert_level"`
	Count      int64      `json:"count"`
}

// ReadingSpan describes the readings of one sensor inside a window.
type ReadingSpan struct {
	FirstReading time.Time
	LastReading  time.Time
	SensorID     string
	Count        int64
}

// SensorStatusCounts counts provisioned sensors by status.
type SensorStatusCounts struct {
	Total       int64 `json:"total_sensors"`
	Active      int64 `json:"active_sensors"`
	Inactive    int64 `json:"inactive_sensors"`
	Maintenance int64 `json:"maintenance_sensors"`
}

// ActiveAlertCounts counts active alerts by severity.
type ActiveAlertCounts struct {
	Total    int64 `json:"total_active_alerts"`
	Critical int64 `json:"critical_alerts"`
	High     int64 `json:"high_alerts"`
	Medium   int64 `json:"medium_alerts"`
	Low      int64 `json:"low_alerts"`
}

// AlertedSensor is an active sensor with at least one active alert.
type AlertedSensor struct {
	LastReading  *time.Time `json:"last_reading"`
	SensorID     string     `json:"sensor_id"`
	LocationName string     `json:"location_name"`
	SensorType   SensorType `json:"sensor_type"`
	MaxSeverity  Severity   `json:"max_severity"`
	Latitude     float64    `json:"latitude"`
	Longitude    float64    `json:"longitude"`
	ActiveAlerts int64      `json:"active_alerts"`
}

// DashboardOverview is the landing view of the operator dashboard.
type DashboardOverview struct {
	Sensors           SensorStatusCounts `json:"sensors"`
	Alerts            ActiveAlertCounts  `json:"alerts"`
	Readings          []LevelCount       `json:"readings"`
	SensorsWithAlerts []AlertedSensor    `json:"sensors_with_alerts"`
}

// ReadingPerformance summarizes reading traffic since the start of the day.
// AvgReadingInterval is in seconds and nil until some sensor reported twice.
type ReadingPerformance struct {
	AvgReadingInterval *float64 `json:"avg_reading_interval"`
	TotalReadings      int64    `json:"total_readings_today"`
	ActiveSensors      int64    `json:"active_sensors_today"`
}

// SystemHealth reports silent sensors and reading traffic.
type SystemHealth struct {
	OfflineSensors []StaleSensor      `json:"offline_sensors"`
	Status         SystemStatus       `json:"system_status"`
	Performance    ReadingPerformance `json:"performance"`
}

// BuildOverview folds sensor summaries, active alert counts and recent
// reading levels into the dashboard overview. Alerted sensors are ordered by
// highest severity, then by number of active alerts.
func BuildOverview(sensors []SensorSummary, active []SensorAlertCount, levels []LevelCount) DashboardOverview {
	out := DashboardOverview{
		Readings:          make([]LevelCount, 0, len(levels)),
		SensorsWithAlerts: []AlertedSensor{},
	}

	for _, s := range sensors {
		out.Sensors.Total++
		switch s.Status {
		case SensorActive:
			out.Sensors.Active++
		case SensorInactive:
			out.Sensors.Inactive++
		case SensorMaintenance:
			out.Sensors.Maintenance++
		}
	}

	type alerted struct {
		max   Severity
		count int64
	}
	bySensor := make(map[string]*alerted)
	for _, row := range active {
		out.Alerts.Total += row.Count
		switch row.Severity {
		case SeverityCritical:
			out.Alerts.Critical += row.Count
		case SeverityHigh:
			out.Alerts.High += row.Count
		case SeverityMedium:
			out.Alerts.Medium += row.Count
		case SeverityLow:
			out.Alerts.Low += row.Count
		}

		entry, ok := bySensor[row.SensorID]
		if !ok {
			entry = &alerted{}
			bySensor[row.SensorID] = entry
		}
		entry.count += row.Count
		if row.Severity.Rank() > entry.max.Rank() {
			entry.max = row.Severity
		}
	}

	for _, s := range sensors {
		entry, ok := bySensor[s.SensorID]
		if !ok || entry.count == 0 || s.Status != SensorActive {
			continue
		}
		out.SensorsWithAlerts = append(out.SensorsWithAlerts, AlertedSensor{
			LastReading:  s.LastReading,
			SensorID:     s.SensorID,
			LocationName: s.LocationName,
			SensorType:   s.SensorType,
			MaxSeverity:  entry.max,
			Latitude:     s.Latitude,
			Longitude:    s.Longitude,
			ActiveAlerts: entry.count,
		})
	}
	sort.SliceStable(out.SensorsWithAlerts, func(i, j int) bool {
		a, b := out.SensorsWithAlerts[i], out.SensorsWithAlerts[j]
		if a.MaxSeverity.Rank() != b.MaxSeverity.Rank() {
			return a.MaxSeverity.Rank() > b.MaxSeverity.Rank()
		}
		if a.ActiveAlerts != b.ActiveAlerts {
			return a.ActiveAlerts > b.ActiveAlerts
		}
		return a.SensorID < b.SensorID
	})

	out.Readings = append(out.Readings, levels...)
	sort.Slice(out.Readings, func(i, j int) bool {
		return out.Readings[i].AlertLevel.Rank() > out.Readings[j].AlertLevel.Rank()
	})

	return out
}

// BuildSystemHealth reports the system as healthy when no active sensor is
// offline. The average reading interval is the mean gap between consecutive
// readings of the same sensor.
func BuildSystemHealth(offline []StaleSensor, spans []ReadingSpan) SystemHealth {
	out := SystemHealth{
		OfflineSensors: offline,
		Status:         SystemHealthy,
	}
	if out.OfflineSensors == nil {
		out.OfflineSensors = []StaleSensor{}
	}
	if len(out.OfflineSensors) > 0 {
		out.Status = SystemWarning
	}

	var gaps int64
	var elapsed time.Duration
	for _, span := range spans {
		if span.Count == 0 {
			continue
		}
		out.Performance.TotalReadings += span.Count
		out.Performance.ActiveSensors++
		if span.Count > 1 {
			gaps += span.Count - 1
			elapsed += span.LastReading.Sub(span.FirstReading)
		}
	}
	if gaps > 0 {
		avg := elapsed.Seconds() / float64(gaps)
		out.Performance.AvgReadingInterval = &avg
	}

	return out
}

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
