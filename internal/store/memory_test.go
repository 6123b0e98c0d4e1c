package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sewer-monitor/internal/model"
	"procodus.dev/sewer-monitor/internal/store"
	"procodus.dev/sewer-monitor/pkg/clock"
)

func ptr[T any](v T) *T { return &v }

var _ = Describe("MemoryStore", func() {
	var (
		ctx   context.Context
		clk   *clock.Fake
		mem   *store.MemoryStore
		start time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		clk = clock.NewFake(start)
		mem = store.NewMemoryStore(clk)

		Expect(mem.CreateSensor(ctx, &model.Sensor{
			SensorID:     "S1",
			LocationName: "Av. Paulista, 1000",
			SensorType:   model.SensorTypeCombined,
		})).To(Succeed())
	})

	Describe("sensors", func() {
		It("should default status to active and reject duplicates", func() {
			s, err := mem.GetSensor(ctx, "S1")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Status).To(Equal(model.SensorActive))
			Expect(s.ID).NotTo(BeZero())

			err = mem.CreateSensor(ctx, &model.Sensor{SensorID: "S1"})
			Expect(err).To(MatchError(model.ErrAlreadyExists))
		})

		It("should apply only the provided fields on update", func() {
			updated, err := mem.UpdateSensor(ctx, "S1", model.SensorUpdate{
				Status: ptr(model.SensorMaintenance),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(model.SensorMaintenance))
			Expect(updated.LocationName).To(Equal("Av. Paulista, 1000"))

			_, err = mem.UpdateSensor(ctx, "missing", model.SensorUpdate{})
			Expect(err).To(MatchError(model.ErrNotFound))
		})

		It("should not share the configuration map with the caller", func() {
			cfg := map[string]any{"firmware": "2.1.0"}
			_, err := mem.UpdateSensor(ctx, "S1", model.SensorUpdate{Configuration: cfg})
			Expect(err).NotTo(HaveOccurred())

			cfg["firmware"] = "9.9.9"
			cfg["tampered"] = true

			s, err := mem.GetSensor(ctx, "S1")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Configuration).To(Equal(map[string]any{"firmware": "2.1.0"}))
		})
	})

	Describe("thresholds", func() {
		It("should upsert by sensor and parameter and return only enabled ones", func() {
			Expect(mem.UpsertThreshold(ctx, &model.ThresholdConfig{
				SensorID: "S1", ParameterName: "water_level", Warning: ptr(70.0), Critical: ptr(90.0), Enabled: true,
			})).To(Succeed())
			Expect(mem.UpsertThreshold(ctx, &model.ThresholdConfig{
				SensorID: "S1", ParameterName: "gas_co", Warning: ptr(25.0), Enabled: false,
			})).To(Succeed())
			Expect(mem.UpsertThreshold(ctx, &model.ThresholdConfig{
				SensorID: "S1", ParameterName: "water_level", Warning: ptr(60.0), Critical: ptr(85.0), Enabled: true,
			})).To(Succeed())

			all, err := mem.ListThresholds(ctx, "S1")
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))

			enabled, err := mem.EnabledThresholds(ctx, "S1")
			Expect(err).NotTo(HaveOccurred())
			Expect(enabled).To(HaveLen(1))
			Expect(*enabled[0].Critical).To(Equal(85.0))
		})
	})

	Describe("alerts", func() {
		newAlert := func(category model.Category, severity model.Severity) *model.Alert {
			a := &model.Alert{
				SensorID: "S1",
				Category: category,
				Severity: severity,
				Status:   model.StatusActive,
				Message:  "test",
			}
			Expect(mem.CreateAlert(ctx, a)).To(Succeed())
			return a
		}

		It("should join the sensor location", func() {
			a := newAlert(model.CategoryFloodRisk, model.SeverityCritical)
			got, err := mem.GetAlert(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.LocationName).To(Equal("Av. Paulista, 1000"))

			_, err = mem.GetAlert(ctx, 999)
			Expect(err).To(MatchError(model.ErrNotFound))
		})

		It("should honour the window in HasActiveAlert", func() {
			newAlert(model.CategoryFloodRisk, model.SeverityCritical)
			clk.Advance(61 * time.Minute)

			inWindow, err := mem.HasActiveAlert(ctx, "S1", model.CategoryFloodRisk, clk.Now().Add(-time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(inWindow).To(BeFalse())

			anyTime, err := mem.HasActiveAlert(ctx, "S1", model.CategoryFloodRisk, time.Time{})
			Expect(err).NotTo(HaveOccurred())
			Expect(anyTime).To(BeTrue())
		})

		It("should transition only from the allowed states", func() {
			a := newAlert(model.CategoryToxicGas, model.SeverityMedium)
			at := clk.Now()

			ok, err := mem.TransitionAlert(ctx, a.ID, []model.AlertStatus{model.StatusActive}, model.StatusAcknowledged, at)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = mem.TransitionAlert(ctx, a.ID, []model.AlertStatus{model.StatusActive}, model.StatusAcknowledged, at.Add(time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			got, _ := mem.GetAlert(ctx, a.ID)
			Expect(got.Status).To(Equal(model.StatusAcknowledged))
			Expect(*got.AcknowledgedAt).To(Equal(at))
		})

		It("should select pending notifications oldest first within the limit", func() {
			first := newAlert(model.CategoryFloodRisk, model.SeverityCritical)
			clk.Advance(time.Second)
			newAlert(model.CategoryToxicGas, model.SeverityMedium)
			clk.Advance(time.Second)
			third := newAlert(model.CategorySensorOffline, model.SeverityHigh)

			pending, err := mem.PendingNotifications(ctx, []model.Severity{model.SeverityCritical, model.SeverityHigh}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(HaveLen(2))
			Expect(pending[0].ID).To(Equal(first.ID))
			Expect(pending[1].ID).To(Equal(third.ID))

			Expect(mem.MarkNotified(ctx, first.ID)).To(Succeed())
			pending, _ = mem.PendingNotifications(ctx, []model.Severity{model.SeverityCritical, model.SeverityHigh}, 1)
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].ID).To(Equal(third.ID))
		})

		It("should list newest first with filters and count by group", func() {
			newAlert(model.CategoryFloodRisk, model.SeverityCritical)
			clk.Advance(time.Second)
			b := newAlert(model.CategoryToxicGas, model.SeverityMedium)

			list, err := mem.ListAlerts(ctx, model.AlertFilter{Status: model.StatusActive})
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
			Expect(list[0].ID).To(Equal(b.ID))

			list, _ = mem.ListAlerts(ctx, model.AlertFilter{Severity: model.SeverityCritical})
			Expect(list).To(HaveLen(1))

			counts, err := mem.AlertCounts(ctx, start)
			Expect(err).NotTo(HaveOccurred())
			stats := model.BuildAlertStats(counts)
			Expect(stats.Summary.Total).To(Equal(int64(2)))
			Expect(stats.Summary.CriticalActive).To(Equal(int64(1)))
		})
	})

	Describe("readings and staleness", func() {
		It("should report sensors without a recent reading", func() {
			Expect(mem.CreateSensor(ctx, &model.Sensor{SensorID: "S2", LocationName: "Rua B"})).To(Succeed())
			Expect(mem.CreateSensor(ctx, &model.Sensor{SensorID: "S3", Status: model.SensorInactive})).To(Succeed())

			Expect(mem.CreateReading(ctx, &model.Reading{
				SensorID:   "S1",
				Timestamp:  start,
				Data:       model.ReadingData{"water_level": 40},
				AlertLevel: model.LevelNormal,
			})).To(Succeed())

			stale, err := mem.StaleSensors(ctx, start.Add(-2*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(stale).To(HaveLen(1))
			Expect(stale[0].SensorID).To(Equal("S2"))
			Expect(stale[0].LastReading).To(BeNil())

			stale, _ = mem.StaleSensors(ctx, start.Add(time.Minute))
			Expect(stale).To(HaveLen(2))
			Expect(*stale[0].LastReading).To(Equal(start))
		})

		It("should page readings newest first", func() {
			for i := range 5 {
				Expect(mem.CreateReading(ctx, &model.Reading{
					SensorID:  "S1",
					Timestamp: start.Add(time.Duration(i) * time.Minute),
					Data:      model.ReadingData{"water_level": float64(i)},
				})).To(Succeed())
			}

			page, err := mem.ListReadings(ctx, model.ReadingFilter{SensorID: "S1", Limit: 2, Offset: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(page).To(HaveLen(2))
			Expect(page[0].Data["water_level"]).To(Equal(3.0))
			Expect(page[1].Data["water_level"]).To(Equal(2.0))
		})
	})

	Describe("aggregates", func() {
		BeforeEach(func() {
			Expect(mem.CreateSensor(ctx, &model.Sensor{SensorID: "S2", LocationName: "Rua B"})).To(Succeed())
			for i, level := range []model.AlertLevel{model.LevelNormal, model.LevelWarning, model.LevelCritical} {
				Expect(mem.CreateReading(ctx, &model.Reading{
					SensorID:   "S1",
					Timestamp:  start.Add(time.Duration(i) * 30 * time.Minute),
					Data:       model.ReadingData{"water_level": float64(40 + 20*i)},
					AlertLevel: level,
				})).To(Succeed())
			}
			for _, sev := range []model.Severity{model.SeverityCritical, model.SeverityCritical, model.SeverityMedium} {
				Expect(mem.CreateAlert(ctx, &model.Alert{
					SensorID: "S1", Category: model.CategoryFloodRisk, Severity: sev, Status: model.StatusActive, Message: "x",
				})).To(Succeed())
			}
			Expect(mem.CreateAlert(ctx, &model.Alert{
				SensorID: "S2", Category: model.CategoryToxicGas, Severity: model.SeverityLow, Status: model.StatusResolved, Message: "x",
			})).To(Succeed())
		})

		It("should summarize readings and active alerts per sensor", func() {
			list, err := mem.ListSensorSummaries(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
			Expect(list[0].SensorID).To(Equal("S1"))
			Expect(list[0].TotalReadings).To(Equal(int64(3)))
			Expect(list[0].ActiveAlerts).To(Equal(int64(3)))
			Expect(*list[0].LastReading).To(Equal(start.Add(time.Hour)))
			Expect(list[1].LastReading).To(BeNil())
			Expect(list[1].ActiveAlerts).To(BeZero())

			one, err := mem.GetSensorSummary(ctx, "S1")
			Expect(err).NotTo(HaveOccurred())
			Expect(one.LocationName).To(Equal("Av. Paulista, 1000"))
			Expect(one.TotalReadings).To(Equal(int64(3)))

			_, err = mem.GetSensorSummary(ctx, "missing")
			Expect(err).To(MatchError(model.ErrNotFound))
		})

		It("should count active alerts by sensor and severity", func() {
			rows, err := mem.ActiveAlertsBySensor(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(Equal([]model.SensorAlertCount{
				{SensorID: "S1", Severity: model.SeverityCritical, Count: 2},
				{SensorID: "S1", Severity: model.SeverityMedium, Count: 1},
			}))
		})

		It("should count and span readings inside the window", func() {
			levels, err := mem.ReadingLevelCounts(ctx, start.Add(30*time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(levels).To(ConsistOf(
				model.LevelCount{AlertLevel: model.LevelWarning, Count: 1},
				model.LevelCount{AlertLevel: model.LevelCritical, Count: 1},
			))

			spans, err := mem.ReadingSpans(ctx, start)
			Expect(err).NotTo(HaveOccurred())
			Expect(spans).To(Equal([]model.ReadingSpan{
				{SensorID: "S1", Count: 3, FirstReading: start, LastReading: start.Add(time.Hour)},
			}))
		})
	})

	Describe("users", func() {
		It("should resolve opted-in recipients by role", func() {
			Expect(mem.UpsertUser(ctx, &model.User{Username: "ana", PhoneNumber: "+5511999990001", Role: model.RoleAdmin, WhatsAppNotifications: true})).To(Succeed())
			Expect(mem.UpsertUser(ctx, &model.User{Username: "bruno", PhoneNumber: "+5511999990002", Role: model.RoleOperator, WhatsAppNotifications: true})).To(Succeed())
			Expect(mem.UpsertUser(ctx, &model.User{Username: "caio", PhoneNumber: "", Role: model.RoleAdmin, WhatsAppNotifications: true})).To(Succeed())
			Expect(mem.UpsertUser(ctx, &model.User{Username: "dora", PhoneNumber: "+5511999990004", Role: model.RoleAdmin, WhatsAppNotifications: false})).To(Succeed())

			admins, err := mem.Recipients(ctx, []model.Role{model.RoleAdmin})
			Expect(err).NotTo(HaveOccurred())
			Expect(admins).To(HaveLen(1))
			Expect(admins[0].Username).To(Equal("ana"))

			both, _ := mem.Recipients(ctx, []model.Role{model.RoleAdmin, model.RoleOperator})
			Expect(both).To(HaveLen(2))

			u, err := mem.UserByPhone(ctx, "+5511999990002")
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Username).To(Equal("bruno"))
		})
	})
})
