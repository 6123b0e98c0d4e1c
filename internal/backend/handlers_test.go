package backend_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sewer-monitor/internal/alerting"
	"procodus.dev/sewer-monitor/internal/backend"
	"procodus.dev/sewer-monitor/internal/ingest"
	"procodus.dev/sewer-monitor/internal/model"
	"procodus.dev/sewer-monitor/internal/store"
	"procodus.dev/sewer-monitor/pkg/clock"
	"procodus.dev/sewer-monitor/pkg/logger"
	"procodus.dev/sewer-monitor/pkg/telemetry"
)

func ptr[T any](v T) *T { return &v }

// brokenRegistry fails every write.
type brokenRegistry struct{}

func (brokenRegistry) CreateSensor(context.Context, *model.Sensor) error {
	return errors.New("connection reset")
}

func (brokenRegistry) UpdateSensor(context.Context, string, model.SensorUpdate) (*model.Sensor, error) {
	return nil, errors.New("connection reset")
}

var _ = Describe("Handlers", func() {
	var (
		ctx context.Context
		clk *clock.Fake
		mem *store.MemoryStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		clk = clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
		mem = store.NewMemoryStore(clk)
	})

	Describe("ReadingHandler", func() {
		var handler *backend.ReadingHandler

		BeforeEach(func() {
			log := logger.Discard()
			lifecycle, err := alerting.NewLifecycle(&alerting.LifecycleConfig{Logger: log, Store: mem, Clock: clk})
			Expect(err).NotTo(HaveOccurred())
			evaluator, err := alerting.NewEvaluator(&alerting.EvaluatorConfig{Logger: log, Thresholds: mem})
			Expect(err).NotTo(HaveOccurred())
			dedup, err := alerting.NewDeduplicator(&alerting.DeduplicatorConfig{
				Logger: log, Store: mem, Lifecycle: lifecycle, Clock: clk,
			})
			Expect(err).NotTo(HaveOccurred())
			svc, err := ingest.New(&ingest.Config{
				Logger: log, Store: mem, Evaluator: evaluator, Deduplicator: dedup, Lifecycle: lifecycle, Clock: clk,
			})
			Expect(err).NotTo(HaveOccurred())

			handler, err = backend.NewReadingHandler(log, svc)
			Expect(err).NotTo(HaveOccurred())

			Expect(mem.CreateSensor(ctx, &model.Sensor{
				SensorID: "S1", LocationName: "Rua A", SensorType: model.SensorTypeWaterLevel,
			})).To(Succeed())
			Expect(mem.UpsertThreshold(ctx, &model.ThresholdConfig{
				SensorID: "S1", ParameterName: model.ParamWaterLevel,
				Warning: ptr(70.0), Critical: ptr(90.0), Enabled: true,
			})).To(Succeed())
		})

		It("should require its dependencies", func() {
			_, err := backend.NewReadingHandler(nil, nil)
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
			_, err = backend.NewReadingHandler(logger.Discard(), nil)
			Expect(err).To(MatchError(ContainSubstring("ingest service cannot be nil")))
		})

		It("should store the reading and raise alerts", func() {
			at := clk.Now().Add(-time.Minute)
			body, err := telemetry.EncodeReading(telemetry.Reading{
				Timestamp: at,
				SensorID:  "S1",
				Data:      map[string]float64{model.ParamWaterLevel: 95},
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(handler.Handle(ctx, body)).To(Succeed())

			readings, err := mem.ListReadings(ctx, model.ReadingFilter{SensorID: "S1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(readings).To(HaveLen(1))
			Expect(readings[0].AlertLevel).To(Equal(model.LevelCritical))
			Expect(readings[0].Timestamp).To(BeTemporally("==", at))

			alerts, err := mem.ActiveAlerts(ctx, "S1", model.CategoryFloodRisk)
			Expect(err).NotTo(HaveOccurred())
			Expect(alerts).To(HaveLen(1))
			Expect(alerts[0].Severity).To(Equal(model.SeverityCritical))
		})

		It("should drop undecodable payloads", func() {
			err := handler.Handle(ctx, []byte("not protobuf"))
			Expect(err).To(MatchError(backend.ErrDrop))
		})

		It("should drop readings of unknown sensors", func() {
			body, err := telemetry.EncodeReading(telemetry.Reading{
				SensorID: "GHOST",
				Data:     map[string]float64{model.ParamWaterLevel: 10},
			})
			Expect(err).NotTo(HaveOccurred())

			err = handler.Handle(ctx, body)
			Expect(err).To(MatchError(backend.ErrDrop))
			Expect(err).To(MatchError(ContainSubstring("GHOST")))
		})

		It("should drop provisioning messages sent to the reading queue", func() {
			body, err := telemetry.EncodeProvisioning(telemetry.Provisioning{
				SensorID: "S9", LocationName: "Rua Z", SensorType: string(model.SensorTypeCombined),
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(handler.Handle(ctx, body)).To(MatchError(backend.ErrDrop))
		})
	})

	Describe("ProvisioningHandler", func() {
		var handler *backend.ProvisioningHandler

		encode := func(p telemetry.Provisioning) []byte {
			body, err := telemetry.EncodeProvisioning(p)
			Expect(err).NotTo(HaveOccurred())
			return body
		}

		BeforeEach(func() {
			var err error
			handler, err = backend.NewProvisioningHandler(logger.Discard(), mem)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should register new sensors as active", func() {
			Expect(handler.Handle(ctx, encode(telemetry.Provisioning{
				SensorID:      "S1",
				LocationName:  "Av. Central",
				SensorType:    string(model.SensorTypeCombined),
				Latitude:      -23.55,
				Longitude:     -46.63,
				Configuration: map[string]any{"firmware": "1.2.0"},
			}))).To(Succeed())

			s, err := mem.GetSensor(ctx, "S1")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.LocationName).To(Equal("Av. Central"))
			Expect(s.SensorType).To(Equal(model.SensorTypeCombined))
			Expect(s.Status).To(Equal(model.SensorActive))
			Expect(s.Latitude).To(BeNumerically("~", -23.55, 1e-9))
			Expect(s.Configuration).To(HaveKeyWithValue("firmware", "1.2.0"))
		})

		It("should refresh an existing sensor and keep its status", func() {
			Expect(mem.CreateSensor(ctx, &model.Sensor{
				SensorID: "S1", LocationName: "Old", SensorType: model.SensorTypeWaterLevel,
				Status: model.SensorMaintenance,
			})).To(Succeed())

			Expect(handler.Handle(ctx, encode(telemetry.Provisioning{
				SensorID: "S1", LocationName: "New", SensorType: string(model.SensorTypeGasDetector),
			}))).To(Succeed())

			s, err := mem.GetSensor(ctx, "S1")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.LocationName).To(Equal("New"))
			Expect(s.SensorType).To(Equal(model.SensorTypeGasDetector))
			Expect(s.Status).To(Equal(model.SensorMaintenance))
		})

		DescribeTable("should drop invalid announcements",
			func(p telemetry.Provisioning) {
				Expect(handler.Handle(ctx, encode(p))).To(MatchError(backend.ErrDrop))
				_, err := mem.GetSensor(ctx, p.SensorID)
				Expect(err).To(MatchError(model.ErrNotFound))
			},
			Entry("unknown type", telemetry.Provisioning{SensorID: "S2", LocationName: "Rua B", SensorType: "thermometer"}),
			Entry("no location", telemetry.Provisioning{SensorID: "S3", SensorType: string(model.SensorTypeWaterLevel)}),
		)

		It("should requeue when the store fails", func() {
			h, err := backend.NewProvisioningHandler(logger.Discard(), brokenRegistry{})
			Expect(err).NotTo(HaveOccurred())

			err = h.Handle(ctx, encode(telemetry.Provisioning{
				SensorID: "S1", LocationName: "Rua A", SensorType: string(model.SensorTypeWaterLevel),
			}))
			Expect(err).To(MatchError(ContainSubstring("connection reset")))
			Expect(errors.Is(err, backend.ErrDrop)).To(BeFalse())
		})
	})
})
