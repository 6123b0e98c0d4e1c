// Package api exposes the sewer monitor over HTTP: reading ingestion, alert
// queries and lifecycle actions, sensor and recipient provisioning, the
// notification gateway, dashboard summaries, health, metrics and the
// dashboard websocket.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"procodus.dev/sewer-monitor/internal/alerting"
	"procodus.dev/sewer-monitor/internal/gateway"
	"procodus.dev/sewer-monitor/internal/ingest"
	"procodus.dev/sewer-monitor/internal/store"
	"procodus.dev/sewer-monitor/pkg/clock"
	"procodus.dev/sewer-monitor/pkg/metrics"
)

// StatsWindow is the period covered by the alert statistics endpoint.
const StatsWindow = 24 * time.Hour

// EngineStatus reports whether the alert engine is ticking.
type EngineStatus interface {
	Running() bool
}

// Config holds the configuration for the API.
type Config struct {
	Logger    *slog.Logger
	Store     store.Store
	Ingest    *ingest.Service
	Lifecycle *alerting.Lifecycle
	Sender    alerting.Sender
	Replies   *gateway.Replies
	Gateway   gateway.Status
	Engine    EngineStatus        // Optional
	Websocket http.HandlerFunc    // Optional, mounted at /ws
	Metrics   *metrics.APIMetrics // Optional
	Clock     clock.Clock         // Optional, defaults to clock.Real

	// StalenessWindow is how long an active sensor may stay silent before
	// system health lists it offline. Defaults to alerting.DefaultStalenessWindow.
	StalenessWindow time.Duration
}

// API serves the HTTP endpoints.
type API struct {
	logger    *slog.Logger
	store     store.Store
	ingest    *ingest.Service
	lifecycle *alerting.Lifecycle
	sender    alerting.Sender
	replies   *gateway.Replies
	gateway   gateway.Status
	engine    EngineStatus
	websocket http.HandlerFunc
	metrics   *metrics.APIMetrics
	clock     clock.Clock
	started   time.Time
	staleness time.Duration
}

// New creates a new API.
func New(cfg *Config) (*API, error) {
	if cfg == nil {
		return nil, errors.New("api config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Ingest == nil {
		return nil, errors.New("ingest service cannot be nil")
	}
	if cfg.Lifecycle == nil {
		return nil, errors.New("lifecycle cannot be nil")
	}
	if cfg.Sender == nil {
		return nil, errors.New("sender cannot be nil")
	}
	if cfg.Replies == nil {
		return nil, errors.New("replies handler cannot be nil")
	}

	a := &API{
		logger:    cfg.Logger.With("component", "api"),
		store:     cfg.Store,
		ingest:    cfg.Ingest,
		lifecycle: cfg.Lifecycle,
		sender:    cfg.Sender,
		replies:   cfg.Replies,
		gateway:   cfg.Gateway,
		engine:    cfg.Engine,
		websocket: cfg.Websocket,
		metrics:   cfg.Metrics,
		clock:     cfg.Clock,
		staleness: cfg.StalenessWindow,
	}
	if a.clock == nil {
		a.clock = clock.Real{}
	}
	if a.staleness <= 0 {
		a.staleness = alerting.DefaultStalenessWindow
	}
	a.started = a.clock.Now()
	return a, nil
}

// Handler builds the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if a.websocket != nil {
		r.Get("/ws", a.websocket)
	}
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(a.logRequests)
		r.Use(a.instrument)

		r.Get("/health", a.handleHealth)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", a.handleListAlerts)
			r.Post("/", a.handleCreateAlert)
			r.Get("/stats", a.handleAlertStats)
			r.Get("/{alertID}", a.handleGetAlert)
			r.Put("/{alertID}/acknowledge", a.handleAcknowledge)
			r.Put("/{alertID}/resolve", a.handleResolve)
			r.Get("/{alertID}/notifications", a.handleAlertDeliveries)
		})

		r.Route("/sensors", func(r chi.Router) {
			r.Get("/", a.handleListSensors)
			r.Post("/", a.handleCreateSensor)
			r.Get("/{sensorID}", a.handleGetSensor)
			r.Put("/{sensorID}", a.handleUpdateSensor)
			r.Post("/{sensorID}/readings", a.handleIngestReading)
			r.Get("/{sensorID}/readings", a.handleListReadings)
			r.Get("/{sensorID}/thresholds", a.handleListThresholds)
			r.Put("/{sensorID}/thresholds/{parameter}", a.handleUpsertThreshold)
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/overview", a.handleDashboardOverview)
			r.Get("/system-health", a.handleSystemHealth)
		})

		r.Post("/users", a.handleUpsertUser)

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/test", a.handleTestNotification)
			r.Get("/status", a.handleGatewayStatus)
		})

		r.Post("/whatsapp/webhook", a.handleWebhook)
	})

	return r
}
