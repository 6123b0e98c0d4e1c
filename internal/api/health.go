package api

import (
	"net/http"
)

type healthResponse struct {
	Status        string  `json:"status"`
	Database      string  `json:"database"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	EngineRunning bool    `json:"engine_running"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Database:      "ok",
		UptimeSeconds: a.clock.Now().Sub(a.started).Seconds(),
	}
	if a.engine != nil {
		resp.EngineRunning = a.engine.Running()
	}

	status := http.StatusOK
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.Warn("health check: store unreachable", "error", err)
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	a.writeJSON(w, status, envelope{Success: status == http.StatusOK, Data: resp})
}
