package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"procodus.dev/sewer-monitor/internal/ingest"
	"procodus.dev/sewer-monitor/internal/model"
)

const statusAll = "all"

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := model.AlertFilter{
		Status:   model.StatusActive,
		Severity: model.Severity(q.Get("severity")),
		SensorID: q.Get("sensor_id"),
	}
	switch s := q.Get("status"); s {
	case "":
	case statusAll:
		filter.Status = ""
	case string(model.StatusActive), string(model.StatusAcknowledged), string(model.StatusResolved):
		filter.Status = model.AlertStatus(s)
	default:
		a.fail(w, r, badRequest("invalid status %q", s))
		return
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		a.fail(w, r, badRequest("invalid severity %q", filter.Severity))
		return
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		a.fail(w, r, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		a.fail(w, r, err)
		return
	}

	alerts, err := a.store.ListAlerts(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.list(w, alerts, len(alerts))
}

func (a *API) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	rows, err := a.store.AlertCounts(r.Context(), a.clock.Now().Add(-StatsWindow))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, model.BuildAlertStats(rows))
}

type createAlertRequest struct {
	Evidence map[string]any `json:"alert_data"`
	SensorID string         `json:"sensor_id"`
	Category model.Category `json:"alert_type"`
	Severity model.Severity `json:"severity"`
	Message  string         `json:"message"`
}

func (req createAlertRequest) validate() error {
	switch {
	case req.SensorID == "":
		return badRequest("sensor_id is required")
	case req.Message == "":
		return badRequest("message is required")
	case !req.Category.Valid():
		return badRequest("invalid alert_type %q", req.Category)
	case !req.Severity.Valid():
		return badRequest("invalid severity %q", req.Severity)
	}
	return nil
}

func (a *API) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		a.fail(w, r, err)
		return
	}

	if _, err := a.store.GetSensor(r.Context(), req.SensorID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ingest.ErrSensorNotFound, req.SensorID)
		}
		a.fail(w, r, err)
		return
	}

	alert := &model.Alert{
		SensorID: req.SensorID,
		Category: req.Category,
		Severity: req.Severity,
		Message:  req.Message,
		Evidence: req.Evidence,
	}
	if err := a.lifecycle.CreateAlert(r.Context(), alert); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusCreated, alert)
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "alertID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	alert, err := a.store.GetAlert(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, alert)
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "alertID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	alert, err := a.lifecycle.Acknowledge(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, alert)
}

type resolveRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "alertID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	var req resolveRequest
	if err := decodeOptional(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	alert, err := a.lifecycle.Resolve(r.Context(), id, req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, alert)
}

func (a *API) handleAlertDeliveries(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "alertID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.store.GetAlert(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	entries, err := a.store.ListDeliveries(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.list(w, entries, len(entries))
}
