// Package simulator publishes synthetic sewer sensor traffic to RabbitMQ:
// one provisioning message per sensor, then periodic readings.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/sewer-monitor/pkg/generator"
	"procodus.dev/sewer-monitor/pkg/metrics"
	"procodus.dev/sewer-monitor/pkg/mq"
	"procodus.dev/sewer-monitor/pkg/telemetry"
)

// provisionTimeout bounds each provisioning publish so a missing broker
// does not stall start-up; the sensor is announced again on the next Provision.
const provisionTimeout = 2 * time.Second

// ProducerConfig holds the configuration for a Producer.
type ProducerConfig struct {
	Logger             *slog.Logger
	Faker              *gofakeit.Faker
	ReadingClient      mq.ClientInterface
	ProvisioningClient mq.ClientInterface
	Metrics            *metrics.SimulatorMetrics // Optional
	// SensorCount is the number of sensors this producer simulates.
	SensorCount int
	// Scenario biases every generated reading (defaults to normal).
	Scenario generator.Scenario
	// Taken holds sensor IDs already in use by other producers. New IDs are added to it.
	Taken map[string]struct{}
	// Unconfirmed publishes readings without waiting for broker confirms.
	// Provisioning messages are always confirmed.
	Unconfirmed bool
}

// maxSensors keeps SEW-#### identifiers from running out.
const maxSensors = 5000

type simulatedSensor struct {
	info      *generator.SewerSensor
	readings  *generator.ReadingGenerator
	announced bool
}

// Producer drives a group of simulated sensors. It is not safe for concurrent use.
type Producer struct {
	logger       *slog.Logger
	readings     mq.ClientInterface
	provisioning mq.ClientInterface
	metrics      *metrics.SimulatorMetrics
	scenario     generator.Scenario
	sensors      []*simulatedSensor
	unconfirmed  bool
}

// NewProducer creates a Producer with SensorCount fake sensors.
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if cfg == nil {
		return nil, errors.New("producer config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Faker == nil {
		return nil, errors.New("faker cannot be nil")
	}
	if cfg.ReadingClient == nil || cfg.ProvisioningClient == nil {
		return nil, errors.New("mq clients cannot be nil")
	}
	if cfg.SensorCount <= 0 {
		return nil, errors.New("sensor count must be positive")
	}
	taken := cfg.Taken
	if taken == nil {
		taken = make(map[string]struct{}, cfg.SensorCount)
	}
	if len(taken)+cfg.SensorCount > maxSensors {
		return nil, fmt.Errorf("cannot simulate more than %d sensors", maxSensors)
	}

	scenario := cfg.Scenario
	if scenario == "" {
		scenario = generator.ScenarioNormal
	}

	p := &Producer{
		logger:       cfg.Logger,
		readings:     cfg.ReadingClient,
		provisioning: cfg.ProvisioningClient,
		metrics:      cfg.Metrics,
		scenario:     scenario,
		sensors:      make([]*simulatedSensor, 0, cfg.SensorCount),
		unconfirmed:  cfg.Unconfirmed,
	}

	for len(p.sensors) < cfg.SensorCount {
		info, err := generator.NewSewerSensor(cfg.Faker)
		if err != nil {
			return nil, err
		}
		if _, dup := taken[info.SensorID]; dup {
			continue
		}
		taken[info.SensorID] = struct{}{}

		gen := generator.NewReadingGenerator(cfg.Faker, info.SensorID, info.SensorType)
		gen.SetScenario(scenario)
		p.sensors = append(p.sensors, &simulatedSensor{info: info, readings: gen})
	}
	return p, nil
}

// SensorIDs returns the identifiers of the simulated sensors.
func (p *Producer) SensorIDs() []string {
	ids := make([]string, len(p.sensors))
	for i, s := range p.sensors {
		ids[i] = s.info.SensorID
	}
	return ids
}

// Provision announces every sensor that has not been announced yet.
func (p *Producer) Provision(ctx context.Context) error {
	var errs []error
	for _, s := range p.sensors {
		if s.announced {
			continue
		}
		if err := p.publishProvisioning(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("provision %s: %w", s.info.SensorID, err))
			continue
		}
		s.announced = true
		if p.metrics != nil {
			p.metrics.SensorsProvisioned.Inc()
		}
	}
	return errors.Join(errs...)
}

func (p *Producer) publishProvisioning(ctx context.Context, s *simulatedSensor) error {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.GenerationDuration.WithLabelValues("provisioning"))
		defer timer.ObserveDuration()
	}

	body, err := telemetry.EncodeProvisioning(s.info.Provisioning())
	if err != nil {
		p.observeFailure("provisioning", "encode_error")
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, provisionTimeout)
	defer cancel()
	if err := p.provisioning.Push(ctx, body); err != nil {
		p.observeFailure("provisioning", "push_error")
		return err
	}

	if p.metrics != nil {
		p.metrics.MessagesGenerated.WithLabelValues("provisioning").Inc()
	}
	return nil
}

// PublishReadings publishes one reading at now for every announced sensor.
// Unannounced sensors are retried first.
func (p *Producer) PublishReadings(ctx context.Context, now time.Time) error {
	if err := p.Provision(ctx); err != nil {
		p.logger.Warn("some sensors are still unannounced", "error", err)
	}

	var errs []error
	for _, s := range p.sensors {
		if !s.announced {
			continue
		}
		if err := p.publishReading(ctx, s, now); err != nil {
			errs = append(errs, fmt.Errorf("reading %s: %w", s.info.SensorID, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Producer) publishReading(ctx context.Context, s *simulatedSensor, now time.Time) error {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.GenerationDuration.WithLabelValues("reading"))
		defer timer.ObserveDuration()
	}

	body, err := telemetry.EncodeReading(s.readings.Next(now))
	if err != nil {
		p.observeFailure("reading", "encode_error")
		return err
	}

	push := p.readings.Push
	if p.unconfirmed {
		push = p.readings.UnsafePush
	}
	if err := push(ctx, body); err != nil {
		p.observeFailure("reading", "push_error")
		return err
	}

	if p.metrics != nil {
		p.metrics.MessagesGenerated.WithLabelValues("reading").Inc()
		p.metrics.ReadingsByLevel.WithLabelValues(string(s.readings.Scenario())).Inc()
	}
	return nil
}

func (p *Producer) observeFailure(kind, reason string) {
	if p.metrics != nil {
		p.metrics.GenerationFailures.WithLabelValues(kind, reason).Inc()
	}
}
