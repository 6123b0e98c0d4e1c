package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// gRPC health service names.
const (
	HealthStore  = "sewer.Store"
	HealthEngine = "sewer.AlertEngine"
)

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EngineStatus reports whether the alert engine is ticking.
type EngineStatus interface {
	Running() bool
}

// HealthServiceConfig holds the configuration for the HealthService.
type HealthServiceConfig struct {
	Logger *slog.Logger
	Store  Pinger
	Engine EngineStatus
	// Interval between checks (defaults to 10s).
	Interval time.Duration
}

// HealthService publishes store and engine health on the standard
// grpc.health.v1.Health service. The overall ("") status is SERVING only
// when every component is.
type HealthService struct {
	logger   *slog.Logger
	store    Pinger
	engine   EngineStatus
	server   *health.Server
	interval time.Duration

	mu   sync.Mutex
	last map[string]healthpb.HealthCheckResponse_ServingStatus
}

// NewHealthService creates a new HealthService. All services start NOT_SERVING.
func NewHealthService(cfg *HealthServiceConfig) (*HealthService, error) {
	if cfg == nil {
		return nil, errors.New("health service config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Engine == nil {
		return nil, errors.New("engine cannot be nil")
	}

	h := &HealthService{
		logger:   cfg.Logger.With("component", "grpc_health"),
		store:    cfg.Store,
		engine:   cfg.Engine,
		server:   health.NewServer(),
		interval: cfg.Interval,
		last:     make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
	if h.interval <= 0 {
		h.interval = 10 * time.Second
	}
	for _, svc := range []string{"", HealthStore, HealthEngine} {
		h.set(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return h, nil
}

// Server returns the grpc health server to register.
func (h *HealthService) Server() *health.Server {
	return h.server
}

// Check probes every component once and updates the published statuses.
func (h *HealthService) Check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	storeStatus := healthpb.HealthCheckResponse_SERVING
	if err := h.store.Ping(ctx); err != nil {
		storeStatus = healthpb.HealthCheckResponse_NOT_SERVING
		h.logger.Warn("store health check failed", "error", err)
	}

	engineStatus := healthpb.HealthCheckResponse_SERVING
	if !h.engine.Running() {
		engineStatus = healthpb.HealthCheckResponse_NOT_SERVING
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if storeStatus != healthpb.HealthCheckResponse_SERVING || engineStatus != healthpb.HealthCheckResponse_SERVING {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}

	h.set(HealthStore, storeStatus)
	h.set(HealthEngine, engineStatus)
	h.set("", overall)
}

func (h *HealthService) set(service string, status healthpb.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	prev, seen := h.last[service]
	h.last[service] = status
	h.mu.Unlock()

	if seen && prev != status {
		h.logger.Info("health status changed", "service", service, "status", status.String())
	}
	h.server.SetServingStatus(service, status)
}

// Run checks health periodically until ctx is done, then marks everything
// NOT_SERVING and shuts the health server down.
func (h *HealthService) Run(ctx context.Context) {
	h.Check(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}
