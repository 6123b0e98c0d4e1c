package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"procodus.dev/sewer-monitor/pkg/generator"
	"procodus.dev/sewer-monitor/pkg/metrics"
	"procodus.dev/sewer-monitor/pkg/mq"
	"procodus.dev/sewer-monitor/pkg/telemetry"
)

var (
	errInvalidProducerCount = errors.New("producer count must be greater than 0")
	errInvalidSensorCount   = errors.New("sensors per producer must be greater than 0")
	errInvalidInterval      = errors.New("interval must be greater than 0")
	errLoggerRequired       = errors.New("logger is required")
)

// ServerConfig holds the configuration for the simulator server.
type ServerConfig struct {
	Logger *slog.Logger
	// RabbitMQURL is the connection string for RabbitMQ
	RabbitMQURL string
	// ReadingQueue receives sensor readings
	ReadingQueue string
	// ProvisioningQueue receives sensor announcements
	ProvisioningQueue string
	// Interval is the time between two readings of the same sensor
	Interval time.Duration
	// ProducerCount is the number of concurrent producers
	ProducerCount int
	// SensorsPerProducer is the number of sensors each producer simulates
	SensorsPerProducer int
	Scenario           generator.Scenario
	// Seed makes the generated fleet reproducible; 0 picks a random seed.
	Seed uint64
	// Unconfirmed skips publisher confirms for readings.
	Unconfirmed bool

	Metrics   *metrics.SimulatorMetrics // Optional
	MQMetrics *metrics.MQMetrics        // Optional

	// NewClient overrides mq.New, mainly for tests.
	NewClient func(queue string) (mq.ClientInterface, error)
}

// Server runs several producers, each on its own pair of MQ clients.
type Server struct {
	logger    *slog.Logger
	config    *ServerConfig
	producers []*Producer
	clients   []mq.ClientInterface
	wg        sync.WaitGroup
	metrics   *metrics.SimulatorMetrics
}

// NewServer creates a new simulator server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}
	if cfg.ProducerCount <= 0 {
		return nil, errInvalidProducerCount
	}
	if cfg.SensorsPerProducer <= 0 {
		return nil, errInvalidSensorCount
	}
	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}
	if cfg.ReadingQueue == "" || cfg.ProvisioningQueue == "" {
		return nil, errors.New("queue names cannot be empty")
	}
	if cfg.NewClient == nil && cfg.RabbitMQURL == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}

	s := &Server{
		logger:  cfg.Logger,
		config:  cfg,
		metrics: cfg.Metrics,
	}

	newClient := cfg.NewClient
	if newClient == nil {
		newClient = s.dial
	}

	taken := make(map[string]struct{})
	for i := range cfg.ProducerCount {
		readingClient, err := newClient(cfg.ReadingQueue)
		if err != nil {
			s.closeClients()
			return nil, fmt.Errorf("producer %d: %w", i, err)
		}
		s.clients = append(s.clients, readingClient)

		provisioningClient, err := newClient(cfg.ProvisioningQueue)
		if err != nil {
			s.closeClients()
			return nil, fmt.Errorf("producer %d: %w", i, err)
		}
		s.clients = append(s.clients, provisioningClient)

		seed := cfg.Seed
		if seed != 0 {
			seed += uint64(i)
		}
		producer, err := NewProducer(&ProducerConfig{
			Logger:             cfg.Logger.With(slog.Int("producer_id", i)),
			Faker:              gofakeit.New(seed),
			ReadingClient:      readingClient,
			ProvisioningClient: provisioningClient,
			Metrics:            cfg.Metrics,
			SensorCount:        cfg.SensorsPerProducer,
			Scenario:           cfg.Scenario,
			Taken:              taken,
			Unconfirmed:        cfg.Unconfirmed,
		})
		if err != nil {
			s.closeClients()
			return nil, err
		}
		s.producers = append(s.producers, producer)

		s.logger.Info("created producer instance",
			"producer_id", i,
			"queue", cfg.ReadingQueue,
			"provisioning_queue", cfg.ProvisioningQueue,
			"sensors", producer.SensorIDs(),
		)
	}

	return s, nil
}

func (s *Server) dial(queue string) (mq.ClientInterface, error) {
	client, err := mq.New(&mq.Config{
		Logger:      s.logger,
		Metrics:     s.config.MQMetrics,
		URL:         s.config.RabbitMQURL,
		QueueName:   queue,
		ContentType: telemetry.ContentType,
		Durable:     true,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Run starts all producers and blocks until ctx is canceled or a shutdown signal is received.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for i, producer := range s.producers {
		s.wg.Add(1)
		go s.runProducer(ctx, i, producer)
	}

	s.logger.Info("simulator started",
		"producer_count", len(s.producers),
		"sensors_per_producer", s.config.SensorsPerProducer,
		"scenario", s.config.Scenario,
		"interval", s.config.Interval,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.logger.Info("waiting for producers to shut down...")
	s.wg.Wait()

	s.logger.Info("closing MQ clients...")
	s.closeClients()

	s.logger.Info("simulator stopped")
	return nil
}

// runProducer announces the producer's sensors, then publishes readings at the configured interval.
func (s *Server) runProducer(ctx context.Context, id int, producer *Producer) {
	defer s.wg.Done()

	if s.metrics != nil {
		s.metrics.ActiveProducers.Inc()
		defer s.metrics.ActiveProducers.Dec()
	}

	log := s.logger.With(slog.Int("producer_id", id))
	log.Info("producer started")

	if err := producer.Provision(ctx); err != nil {
		log.Warn("failed to announce sensors, will retry", "error", err)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("producer shutting down")
			return

		case now := <-ticker.C:
			if err := producer.PublishReadings(ctx, now); err != nil {
				log.Error("failed to publish readings", "error", err)
				continue
			}
			log.Debug("readings published")
		}
	}
}

func (s *Server) closeClients() {
	var wg sync.WaitGroup
	for _, client := range s.clients {
		wg.Add(1)
		go func(c mq.ClientInterface) {
			defer wg.Done()
			if err := c.Close(); err != nil {
				s.logger.Error("failed to close MQ client", "error", err)
			}
		}(client)
	}
	wg.Wait()
	s.clients = nil
}
