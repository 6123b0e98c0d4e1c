package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"procodus.dev/sewer-monitor/internal/ingest"
	"procodus.dev/sewer-monitor/internal/model"
	"procodus.dev/sewer-monitor/pkg/telemetry"
)

// ReadingHandler ingests reading messages.
type ReadingHandler struct {
	logger *slog.Logger
	ingest *ingest.Service
}

// NewReadingHandler creates a ReadingHandler.
func NewReadingHandler(logger *slog.Logger, svc *ingest.Service) (*ReadingHandler, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if svc == nil {
		return nil, errors.New("ingest service cannot be nil")
	}
	return &ReadingHandler{logger: logger, ingest: svc}, nil
}

// Handle implements MessageHandler.
func (h *ReadingHandler) Handle(ctx context.Context, body []byte) error {
	reading, err := telemetry.DecodeReading(body)
	if err != nil {
		return drop("decode reading: %v", err)
	}

	res, err := h.ingest.Ingest(ctx, ingest.Input{
		Timestamp: reading.Timestamp,
		Data:      reading.Data,
		SensorID:  reading.SensorID,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrSensorNotFound) || errors.Is(err, ingest.ErrEmptyReading) {
			return drop("%v", err)
		}
		return err
	}

	h.logger.Debug("reading ingested",
		"sensor_id", reading.SensorID,
		"alert_level", res.Reading.AlertLevel,
		"alerts_created", len(res.Alerts))
	return nil
}

// SensorRegistry is the store surface used to provision sensors.
type SensorRegistry interface {
	CreateSensor(ctx context.Context, sensor *model.Sensor) error
	UpdateSensor(ctx context.Context, sensorID string, update model.SensorUpdate) (*model.Sensor, error)
}

// ProvisioningHandler registers sensors announced over the queue. A sensor
// that already exists has its description refreshed; its status is kept.
type ProvisioningHandler struct {
	logger  *slog.Logger
	sensors SensorRegistry
}

// NewProvisioningHandler creates a ProvisioningHandler.
func NewProvisioningHandler(logger *slog.Logger, sensors SensorRegistry) (*ProvisioningHandler, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if sensors == nil {
		return nil, errors.New("sensor registry cannot be nil")
	}
	return &ProvisioningHandler{logger: logger, sensors: sensors}, nil
}

// Handle implements MessageHandler.
func (h *ProvisioningHandler) Handle(ctx context.Context, body []byte) error {
	p, err := telemetry.DecodeProvisioning(body)
	if err != nil {
		return drop("decode provisioning: %v", err)
	}

	sensorType := model.SensorType(p.SensorType)
	if !sensorType.Valid() {
		return drop("sensor %s has unknown type %q", p.SensorID, p.SensorType)
	}
	if p.LocationName == "" {
		return drop("sensor %s has no location", p.SensorID)
	}

	sensor := &model.Sensor{
		Configuration: p.Configuration,
		SensorID:      p.SensorID,
		LocationName:  p.LocationName,
		SensorType:    sensorType,
		Status:        model.SensorActive,
		Latitude:      p.Latitude,
		Longitude:     p.Longitude,
	}

	err = h.sensors.CreateSensor(ctx, sensor)
	switch {
	case err == nil:
		h.logger.Info("sensor registered", "sensor_id", p.SensorID, "location", p.LocationName)
		return nil
	case !errors.Is(err, model.ErrAlreadyExists):
		return fmt.Errorf("register sensor %s: %w", p.SensorID, err)
	}

	if _, err := h.sensors.UpdateSensor(ctx, p.SensorID, model.SensorUpdate{
		LocationName:  &sensor.LocationName,
		Latitude:      &sensor.Latitude,
		Longitude:     &sensor.Longitude,
		SensorType:    &sensor.SensorType,
		Configuration: sensor.Configuration,
	}); err != nil {
		return fmt.Errorf("refresh sensor %s: %w", p.SensorID, err)
	}
	h.logger.Debug("sensor refreshed", "sensor_id", p.SensorID)
	return nil
}
