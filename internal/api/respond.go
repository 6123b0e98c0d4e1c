package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"procodus.dev/sewer-monitor/internal/alerting"
	"procodus.dev/sewer-monitor/internal/ingest"
	"procodus.dev/sewer-monitor/internal/model"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type envelope struct {
	Data    any    `json:"data,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Warn("failed to write response", "error", err)
	}
}

func (a *API) ok(w http.ResponseWriter, status int, data any) {
	a.writeJSON(w, status, envelope{Success: true, Data: data})
}

func (a *API) list(w http.ResponseWriter, data any, n int) {
	a.writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Count: &n})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, ingest.ErrEmptyReading):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound), errors.Is(err, alerting.ErrAlertNotFound), errors.Is(err, ingest.ErrSensorNotFound):
		return http.StatusNotFound
	case errors.Is(err, alerting.ErrAlreadyProcessed), errors.Is(err, model.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", w.Header().Get(requestIDHeader),
			"error", err)
		msg = http.StatusText(status)
	}
	a.writeJSON(w, status, envelope{Error: msg})
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

// decodeOptional is decode for endpoints whose body may be omitted,
// whether or not the request declares a length.
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", key)
	}
	return n, nil
}

func pathID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest("invalid id %q", raw)
	}
	return uint(id), nil
}
