package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"procodus.dev/sewer-monitor/internal/ingest"
	"procodus.dev/sewer-monitor/internal/model"
)

func (a *API) handleListSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := a.store.ListSensorSummaries(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.list(w, sensors, len(sensors))
}

func (a *API) handleGetSensor(w http.ResponseWriter, r *http.Request) {
	sensor, err := a.store.GetSensorSummary(r.Context(), chi.URLParam(r, "sensorID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, sensor)
}

type createSensorRequest struct {
	Configuration map[string]any     `json:"configuration"`
	Latitude      *float64           `json:"latitude"`
	Longitude     *float64           `json:"longitude"`
	SensorID      string             `json:"sensor_id"`
	LocationName  string             `json:"location_name"`
	SensorType    model.SensorType   `json:"sensor_type"`
	Status        model.SensorStatus `json:"status"`
}

func (req createSensorRequest) validate() error {
	switch {
	case req.SensorID == "":
		return badRequest("sensor_id is required")
	case req.LocationName == "":
		return badRequest("location_name is required")
	case req.Latitude == nil || req.Longitude == nil:
		return badRequest("latitude and longitude are required")
	case !req.SensorType.Valid():
		return badRequest("invalid sensor_type %q", req.SensorType)
	case req.Status != "" && !req.Status.Valid():
		return badRequest("invalid status %q", req.Status)
	}
	return nil
}

func (a *API) handleCreateSensor(w http.ResponseWriter, r *http.Request) {
	var req createSensorRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		a.fail(w, r, err)
		return
	}

	sensor := &model.Sensor{
		Configuration: req.Configuration,
		SensorID:      req.SensorID,
		LocationName:  req.LocationName,
		SensorType:    req.SensorType,
		Status:        req.Status,
		Latitude:      *req.Latitude,
		Longitude:     *req.Longitude,
	}
	if sensor.Status == "" {
		sensor.Status = model.SensorActive
	}
	if err := a.store.CreateSensor(r.Context(), sensor); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusCreated, sensor)
}

type updateSensorRequest struct {
	LocationName  *string             `json:"location_name"`
	Latitude      *float64            `json:"latitude"`
	Longitude     *float64            `json:"longitude"`
	SensorType    *model.SensorType   `json:"sensor_type"`
	Status        *model.SensorStatus `json:"status"`
	Configuration map[string]any      `json:"configuration"`
}

func (req updateSensorRequest) update() (model.SensorUpdate, error) {
	u := model.SensorUpdate{
		LocationName:  req.LocationName,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		SensorType:    req.SensorType,
		Status:        req.Status,
		Configuration: req.Configuration,
	}
	if u.Empty() {
		return u, badRequest("no fields to update")
	}
	if u.SensorType != nil && !u.SensorType.Valid() {
		return u, badRequest("invalid sensor_type %q", *u.SensorType)
	}
	if u.Status != nil && !u.Status.Valid() {
		return u, badRequest("invalid status %q", *u.Status)
	}
	if u.LocationName != nil && *u.LocationName == "" {
		return u, badRequest("location_name cannot be empty")
	}
	return u, nil
}

func (a *API) handleUpdateSensor(w http.ResponseWriter, r *http.Request) {
	var req updateSensorRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	update, err := req.update()
	if err != nil {
		a.fail(w, r, err)
		return
	}

	sensor, err := a.store.UpdateSensor(r.Context(), chi.URLParam(r, "sensorID"), update)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, sensor)
}

type readingRequest struct {
	Timestamp *time.Time          `json:"timestamp"`
	Data      map[string]*float64 `json:"reading_data"`
}

// readingData drops parameters sent as null; they are not present.
func (req readingRequest) readingData() model.ReadingData {
	data := make(model.ReadingData, len(req.Data))
	for name, v := range req.Data {
		if v != nil {
			data[name] = *v
		}
	}
	return data
}

type readingResponse struct {
	Timestamp     time.Time        `json:"timestamp"`
	SensorID      string           `json:"sensor_id"`
	AlertLevel    model.AlertLevel `json:"alert_level"`
	ID            uint             `json:"id"`
	AlertsCreated int              `json:"alerts_created"`
}

func (a *API) handleIngestReading(w http.ResponseWriter, r *http.Request) {
	var req readingRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	in := ingest.Input{SensorID: chi.URLParam(r, "sensorID"), Data: req.readingData()}
	if req.Timestamp != nil {
		in.Timestamp = *req.Timestamp
	}

	res, err := a.ingest.Ingest(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusCreated, readingResponse{
		Timestamp:     res.Reading.Timestamp,
		SensorID:      res.Reading.SensorID,
		AlertLevel:    res.Reading.AlertLevel,
		ID:            res.Reading.ID,
		AlertsCreated: len(res.Alerts),
	})
}

func (a *API) handleListReadings(w http.ResponseWriter, r *http.Request) {
	sensorID := chi.URLParam(r, "sensorID")
	if _, err := a.store.GetSensor(r.Context(), sensorID); err != nil {
		a.fail(w, r, err)
		return
	}

	filter := model.ReadingFilter{SensorID: sensorID}
	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		a.fail(w, r, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		a.fail(w, r, err)
		return
	}
	if filter.Start, err = queryTime(r, "start_date"); err != nil {
		a.fail(w, r, err)
		return
	}
	if filter.End, err = queryTime(r, "end_date"); err != nil {
		a.fail(w, r, err)
		return
	}

	readings, err := a.store.ListReadings(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.list(w, readings, len(readings))
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, badRequest("%s must be RFC3339 or YYYY-MM-DD", key)
}

func (a *API) handleListThresholds(w http.ResponseWriter, r *http.Request) {
	sensorID := chi.URLParam(r, "sensorID")
	if _, err := a.store.GetSensor(r.Context(), sensorID); err != nil {
		a.fail(w, r, err)
		return
	}
	thresholds, err := a.store.ListThresholds(r.Context(), sensorID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.list(w, thresholds, len(thresholds))
}

type thresholdRequest struct {
	Warning  *float64 `json:"threshold_warning"`
	Critical *float64 `json:"threshold_critical"`
	Enabled  *bool    `json:"enabled"`
}

func (a *API) handleUpsertThreshold(w http.ResponseWriter, r *http.Request) {
	sensorID := chi.URLParam(r, "sensorID")
	var req thresholdRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Warning == nil && req.Critical == nil {
		a.fail(w, r, badRequest("at least one of threshold_warning or threshold_critical is required"))
		return
	}
	if req.Warning != nil && req.Critical != nil && *req.Warning > *req.Critical {
		a.fail(w, r, badRequest("threshold_warning cannot exceed threshold_critical"))
		return
	}
	if _, err := a.store.GetSensor(r.Context(), sensorID); err != nil {
		a.fail(w, r, err)
		return
	}

	cfg := &model.ThresholdConfig{
		SensorID:      sensorID,
		ParameterName: chi.URLParam(r, "parameter"),
		Warning:       req.Warning,
		Critical:      req.Critical,
		Enabled:       req.Enabled == nil || *req.Enabled,
	}
	if err := a.store.UpsertThreshold(r.Context(), cfg); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, cfg)
}
