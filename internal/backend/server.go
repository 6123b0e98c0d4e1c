// Package backend runs the sewer monitor server process: store, alert engine,
// HTTP API with the dashboard websocket, RabbitMQ consumers and gRPC health.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"procodus.dev/sewer-monitor/internal/alerting"
	"procodus.dev/sewer-monitor/internal/api"
	"procodus.dev/sewer-monitor/internal/gateway"
	"procodus.dev/sewer-monitor/internal/ingest"
	"procodus.dev/sewer-monitor/internal/realtime"
	"procodus.dev/sewer-monitor/internal/store"
	"procodus.dev/sewer-monitor/pkg/clock"
	"procodus.dev/sewer-monitor/pkg/metrics"
	"procodus.dev/sewer-monitor/pkg/mq"
	"procodus.dev/sewer-monitor/pkg/telemetry"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// AlertsConfig tunes the alerting core.
type AlertsConfig struct {
	CheckInterval      time.Duration
	SuppressionWindow  time.Duration
	StalenessWindow    time.Duration
	SendTimeout        time.Duration
	BatchSize          int
	OfflineAutoResolve bool
	// Timezone used to render notification timestamps (defaults to UTC).
	Timezone string
	// MessageTemplate overrides alerting.DefaultMessageTemplate.
	MessageTemplate string
}

// Metrics groups the optional metric sets of the server.
type Metrics struct {
	API      *metrics.APIMetrics
	Alerting *metrics.AlertingMetrics
	Realtime *metrics.RealtimeMetrics
	MQ       *metrics.MQMetrics
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Store selects the persistence backend: StorePostgres or StoreMemory.
	Store string
	DB    *store.DBConfig // Required for StorePostgres

	HTTPPort int
	GRPCPort int

	// RabbitMQ configuration. An empty URL disables the consumers.
	RabbitMQURL       string
	ReadingQueue      string
	ProvisioningQueue string

	Alerts         AlertsConfig
	WhatsApp       gateway.Config
	AllowedOrigins []string

	Metrics Metrics
}

// Server represents the backend server process.
type Server struct {
	logger *slog.Logger
	config *ServerConfig

	store      store.Store
	hub        *realtime.Hub
	engine     *alerting.Engine
	health     *HealthService
	consumers  []*Consumer
	httpServer *http.Server
	grpcServer *grpc.Server
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.DB == nil {
			return nil, errors.New("database config cannot be nil")
		}
		if cfg.DB.Host == "" {
			return nil, errors.New("database host cannot be empty")
		}
		if cfg.DB.Port <= 0 {
			return nil, errors.New("database port must be positive")
		}
		if cfg.DB.User == "" {
			return nil, errors.New("database user cannot be empty")
		}
		if cfg.DB.DBName == "" {
			return nil, errors.New("database name cannot be empty")
		}
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.GRPCPort <= 0 {
		return nil, errors.New("gRPC port must be positive")
	}

	if cfg.RabbitMQURL != "" && (cfg.ReadingQueue == "" || cfg.ProvisioningQueue == "") {
		return nil, errors.New("queue names cannot be empty when rabbitmq is enabled")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts every component and blocks until ctx is canceled or a
// termination signal arrives, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting backend server")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.build(ctx); err != nil {
		return errors.Join(err, s.Shutdown())
	}

	httpLis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.HTTPPort))
	if err != nil {
		return errors.Join(fmt.Errorf("failed to listen on HTTP port: %w", err), s.Shutdown())
	}
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.GRPCPort))
	if err != nil {
		_ = httpLis.Close()
		return errors.Join(fmt.Errorf("failed to listen on gRPC port: %w", err), s.Shutdown())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.logger.Info("starting HTTP server", "address", httpLis.Addr().String())
		if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.logger.Info("starting gRPC server", "address", grpcLis.Addr().String())
		if err := s.grpcServer.Serve(grpcLis); err != nil {
			return fmt.Errorf("gRPC server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.stopListeners()
		return nil
	})

	if err := s.engine.Start(gctx); err != nil {
		stop()
		return errors.Join(err, g.Wait(), s.Shutdown())
	}
	for _, c := range s.consumers {
		if err := c.Start(gctx); err != nil {
			stop()
			return errors.Join(err, g.Wait(), s.Shutdown())
		}
	}

	// Health is first checked once the engine is running.
	g.Go(func() error {
		s.health.Run(gctx)
		return nil
	})

	s.logger.Info("backend server started successfully")

	runErr := g.Wait()
	if runErr != nil {
		s.logger.Error("server component failed", "error", runErr)
	} else {
		s.logger.Info("shutdown requested")
	}
	return errors.Join(runErr, s.Shutdown())
}

func (s *Server) build(ctx context.Context) error {
	cfg := s.config
	m := cfg.Metrics

	st, err := s.openStore()
	if err != nil {
		return err
	}
	s.store = st

	s.hub, err = realtime.NewHub(&realtime.HubConfig{
		Logger:         s.logger,
		Metrics:        m.Realtime,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize realtime hub: %w", err)
	}

	wa := cfg.WhatsApp
	wa.Logger = s.logger
	sender, err := gateway.New(&wa)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}
	s.logger.Info("notification gateway ready", "simulated", wa.Status().Simulated)

	loc := time.UTC
	if cfg.Alerts.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Alerts.Timezone); err != nil {
			return fmt.Errorf("invalid alert timezone: %w", err)
		}
	}
	body := cfg.Alerts.MessageTemplate
	if body == "" {
		body = alerting.DefaultMessageTemplate
	}
	formatter, err := alerting.NewFormatter(body, loc)
	if err != nil {
		return fmt.Errorf("invalid message template: %w", err)
	}

	clk := clock.Real{}

	lifecycle, err := alerting.NewLifecycle(&alerting.LifecycleConfig{
		Logger: s.logger, Store: st, Publisher: s.hub, Clock: clk, Metrics: m.Alerting,
	})
	if err != nil {
		return err
	}
	evaluator, err := alerting.NewEvaluator(&alerting.EvaluatorConfig{
		Logger: s.logger, Thresholds: st, Metrics: m.Alerting,
	})
	if err != nil {
		return err
	}
	dedup, err := alerting.NewDeduplicator(&alerting.DeduplicatorConfig{
		Logger: s.logger, Store: st, Lifecycle: lifecycle, Clock: clk, Metrics: m.Alerting,
		Window: cfg.Alerts.SuppressionWindow,
	})
	if err != nil {
		return err
	}
	offline, err := alerting.NewOfflineDetector(&alerting.OfflineDetectorConfig{
		Logger: s.logger, Sensors: st, Alerts: st, Lifecycle: lifecycle, Clock: clk, Metrics: m.Alerting,
		Window: cfg.Alerts.StalenessWindow,
	})
	if err != nil {
		return err
	}
	dispatcher, err := alerting.NewDispatcher(&alerting.DispatcherConfig{
		Logger: s.logger, Store: st, Sender: sender, Formatter: formatter, Clock: clk, Metrics: m.Alerting,
		BatchSize: cfg.Alerts.BatchSize, SendTimeout: cfg.Alerts.SendTimeout,
	})
	if err != nil {
		return err
	}
	s.engine, err = alerting.NewEngine(&alerting.EngineConfig{
		Logger: s.logger, Dispatcher: dispatcher, Offline: offline, Interval: cfg.Alerts.CheckInterval,
	})
	if err != nil {
		return err
	}

	svc, err := ingest.New(&ingest.Config{
		Logger:             s.logger,
		Store:              st,
		Evaluator:          evaluator,
		Deduplicator:       dedup,
		Lifecycle:          lifecycle,
		Publisher:          s.hub,
		Clock:              clk,
		AutoResolveOffline: cfg.Alerts.OfflineAutoResolve,
	})
	if err != nil {
		return err
	}

	replies, err := gateway.NewReplies(&gateway.RepliesConfig{Logger: s.logger, Users: st, Sender: sender})
	if err != nil {
		return err
	}

	handler, err := api.New(&api.Config{
		Logger:    s.logger,
		Store:     st,
		Ingest:    svc,
		Lifecycle: lifecycle,
		Sender:    sender,
		Replies:   replies,
		Gateway:   wa.Status(),
		Engine:    s.engine,
		Websocket: s.hub.ServeWS,
		Metrics:   m.API,
		Clock:     clk,

		StalenessWindow: cfg.Alerts.StalenessWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize API: %w", err)
	}
	s.httpServer = &http.Server{
		Handler:           handler.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.health, err = NewHealthService(&HealthServiceConfig{Logger: s.logger, Store: st, Engine: s.engine})
	if err != nil {
		return err
	}
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health.Server())
	reflection.Register(s.grpcServer)

	if cfg.RabbitMQURL != "" {
		readings, err := NewReadingHandler(s.logger, svc)
		if err != nil {
			return err
		}
		provisioning, err := NewProvisioningHandler(s.logger, st)
		if err != nil {
			return err
		}
		for queue, h := range map[string]MessageHandler{
			cfg.ReadingQueue:      readings,
			cfg.ProvisioningQueue: provisioning,
		} {
			if err := s.addConsumer(queue, h); err != nil {
				return err
			}
		}
	} else {
		s.logger.Warn("rabbitmq URL not set, queue consumers disabled")
	}

	return nil
}

func (s *Server) openStore() (store.Store, error) {
	if s.config.Store == StoreMemory {
		s.logger.Warn("using in-memory store, data will not survive a restart")
		return store.NewMemoryStore(clock.Real{}), nil
	}

	dbCfg := *s.config.DB
	dbCfg.Logger = s.logger
	db, err := store.NewDB(&dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	st, err := store.NewGormStore(db, s.logger)
	if err != nil {
		_ = store.CloseDB(db, s.logger)
		return nil, err
	}
	s.logger.Info("database initialized successfully")
	return st, nil
}

func (s *Server) addConsumer(queue string, h MessageHandler) error {
	client, err := mq.New(&mq.Config{
		Logger:      s.logger,
		Metrics:     s.config.Metrics.MQ,
		URL:         s.config.RabbitMQURL,
		QueueName:   queue,
		ContentType: telemetry.ContentType,
		Durable:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mq client for %s: %w", queue, err)
	}

	c, err := NewConsumer(&ConsumerConfig{
		Logger:  s.logger,
		Client:  client,
		Handler: h,
		Metrics: s.config.Metrics.API,
		Queue:   queue,
	})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to initialize consumer for %s: %w", queue, err)
	}
	s.consumers = append(s.consumers, c)
	return nil
}

func (s *Server) stopListeners() {
	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
		}
	}
	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		s.grpcServer.GracefulStop()
	}
}

// Shutdown stops the engine and the consumers, then closes the store.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down backend server")

	var errs []error

	if s.engine != nil {
		s.engine.Stop()
	}

	for _, c := range s.consumers {
		if err := c.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
			errs = append(errs, err)
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "error", err)
			errs = append(errs, fmt.Errorf("store close error: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("backend server shutdown completed with errors", "error", err)
		return err
	}

	s.logger.Info("backend server shutdown completed successfully")
	return nil
}
