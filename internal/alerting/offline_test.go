package alerting_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sewer-monitor/internal/alerting"
	"procodus.dev/sewer-monitor/internal/model"
)

var _ = Describe("OfflineDetector", func() {
	var f *fixture

	BeforeEach(func() {
		f = newFixture()
	})

	reading := func(sensorID string, at time.Time) {
		Expect(f.store.CreateReading(f.ctx, &model.Reading{
			SensorID:   sensorID,
			Timestamp:  at,
			Data:       model.ReadingData{"water_level": 30},
			AlertLevel: model.LevelNormal,
		})).To(Succeed())
	}

	offlineAlerts := func() []model.Alert {
		var out []model.Alert
		for _, a := range f.alerts(model.AlertFilter{Status: model.StatusActive}) {
			if a.Category == model.CategorySensorOffline {
				out = append(out, a)
			}
		}
		return out
	}

	It("should raise one alert for a sensor that never reported", func() {
		f.sensor("S1", "Praça da Sé")

		raised, err := f.offline.Sweep(f.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(raised).To(Equal(1))

		alerts := offlineAlerts()
		Expect(alerts).To(HaveLen(1))
		Expect(alerts[0].Severity).To(Equal(model.SeverityHigh))
		Expect(alerts[0].Message).To(Equal("Sensor S1 (Praça da Sé) is offline"))
		Expect(alerts[0].Evidence).To(HaveKeyWithValue("last_reading", BeNil()))
		Expect(alerts[0].Evidence).To(HaveKeyWithValue("offline_since", f.clock.Now()))
	})

	It("should not duplicate the alert on the next sweep", func() {
		f.sensor("S1", "Praça da Sé")
		_, err := f.offline.Sweep(f.ctx)
		Expect(err).NotTo(HaveOccurred())

		f.clock.Advance(3 * time.Hour)
		raised, err := f.offline.Sweep(f.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(raised).To(BeZero())
		Expect(offlineAlerts()).To(HaveLen(1))
	})

	It("should flag a sensor whose last reading is older than two hours", func() {
		f.sensor("S1", "Praça da Sé")
		f.sensor("S2", "Rua Direita")
		last := f.clock.Now().Add(-2*time.Hour - time.Minute)
		reading("S1", last)
		reading("S2", f.clock.Now().Add(-time.Hour))

		raised, err := f.offline.Sweep(f.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(raised).To(Equal(1))

		alerts := offlineAlerts()
		Expect(alerts).To(HaveLen(1))
		Expect(alerts[0].SensorID).To(Equal("S1"))
		Expect(alerts[0].Evidence).To(HaveKeyWithValue("last_reading", last))
	})

	It("should ignore sensors that are not active", func() {
		f.sensor("S1", "Praça da Sé")
		_, err := f.store.UpdateSensor(f.ctx, "S1", model.SensorUpdate{Status: ptr(model.SensorMaintenance)})
		Expect(err).NotTo(HaveOccurred())

		raised, err := f.offline.Sweep(f.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(raised).To(BeZero())
	})

	It("should leave offline alerts active when readings resume", func() {
		f.sensor("S1", "Praça da Sé")
		_, err := f.offline.Sweep(f.ctx)
		Expect(err).NotTo(HaveOccurred())

		reading("S1", f.clock.Now())
		_, err = f.offline.Sweep(f.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(offlineAlerts()).To(HaveLen(1))
	})

	It("should raise a new alert after the previous one was resolved", func() {
		f.sensor("S1", "Praça da Sé")
		_, err := f.offline.Sweep(f.ctx)
		Expect(err).NotTo(HaveOccurred())

		_, err = f.lifecycle.Resolve(f.ctx, offlineAlerts()[0].ID, "")
		Expect(err).NotTo(HaveOccurred())

		raised, err := f.offline.Sweep(f.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(raised).To(Equal(1))
		Expect(f.publisher.ofType(alerting.EventNewAlert)).To(HaveLen(2))
	})
})
