package api

import (
	"net/http"
	"time"

	"procodus.dev/sewer-monitor/internal/model"
)

// OverviewWindow is the period covered by the reading counts of the overview.
const OverviewWindow = time.Hour

func (a *API) handleDashboardOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sensors, err := a.store.ListSensorSummaries(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	active, err := a.store.ActiveAlertsBySensor(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	levels, err := a.store.ReadingLevelCounts(ctx, a.clock.Now().Add(-OverviewWindow))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, model.BuildOverview(sensors, active, levels))
}

// handleSystemHealth lists active sensors silent for longer than the
// staleness window and summarizes today's reading traffic.
func (a *API) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := a.clock.Now()
	offline, err := a.store.StaleSensors(ctx, now.Add(-a.staleness))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	spans, err := a.store.ReadingSpans(ctx, model.StartOfDay(now))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, model.BuildSystemHealth(offline, spans))
}
