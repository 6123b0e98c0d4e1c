package alerting_test

import (
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sewer-monitor/internal/alerting"
	"procodus.dev/sewer-monitor/internal/model"
	"procodus.dev/sewer-monitor/pkg/logger"
)

var _ = Describe("Lifecycle", func() {
	var (
		f *fixture
		a *model.Alert
	)

	BeforeEach(func() {
		f = newFixture()
		f.sensor("S1", "Av. Brasil")
		a = f.alert("S1", model.CategoryFloodRisk, model.SeverityCritical)
	})

	Describe("NewLifecycle", func() {
		It("should require a store", func() {
			_, err := alerting.NewLifecycle(&alerting.LifecycleConfig{Logger: logger.Discard()})
			Expect(err).To(MatchError(ContainSubstring("alert store cannot be nil")))
		})
	})

	Describe("CreateAlert", func() {
		It("should always start active and unsent", func() {
			b := &model.Alert{
				SensorID:     "S1",
				Category:     model.CategoryMaintenanceRequired,
				Severity:     model.SeverityLow,
				Message:      "manual",
				Status:       model.StatusResolved,
				WhatsAppSent: true,
			}
			Expect(f.lifecycle.CreateAlert(f.ctx, b)).To(Succeed())
			Expect(b.Status).To(Equal(model.StatusActive))
			Expect(b.WhatsAppSent).To(BeFalse())
			Expect(b.CreatedAt).To(Equal(f.clock.Now()))
		})

		It("should reject unknown categories and severities", func() {
			err := f.lifecycle.CreateAlert(f.ctx, &model.Alert{SensorID: "S1", Category: "fire", Severity: model.SeverityLow})
			Expect(err).To(MatchError(ContainSubstring("invalid alert type")))

			err = f.lifecycle.CreateAlert(f.ctx, &model.Alert{SensorID: "S1", Category: model.CategoryToxicGas, Severity: "urgent"})
			Expect(err).To(MatchError(ContainSubstring("invalid severity")))
		})
	})

	Describe("Acknowledge", func() {
		It("should move active to acknowledged once", func() {
			f.clock.Advance(time.Minute)
			ackAt := f.clock.Now()

			got, err := f.lifecycle.Acknowledge(f.ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(model.StatusAcknowledged))
			Expect(got.AcknowledgedAt).NotTo(BeNil())
			Expect(*got.AcknowledgedAt).To(Equal(ackAt))
			Expect(got.LocationName).To(Equal("Av. Brasil"))

			events := f.publisher.ofType(alerting.EventAlertAcknowledged)
			Expect(events).To(HaveLen(1))
			Expect(events[0].Payload).To(Equal(alerting.AcknowledgedEvent{ID: a.ID, AcknowledgedAt: ackAt}))

			f.clock.Advance(time.Minute)
			_, err = f.lifecycle.Acknowledge(f.ctx, a.ID)
			Expect(err).To(MatchError(alerting.ErrAlreadyProcessed))

			again, _ := f.store.GetAlert(f.ctx, a.ID)
			Expect(*again.AcknowledgedAt).To(Equal(ackAt))
			Expect(f.publisher.ofType(alerting.EventAlertAcknowledged)).To(HaveLen(1))
		})

		It("should reject a resolved alert", func() {
			_, err := f.lifecycle.Resolve(f.ctx, a.ID, "")
			Expect(err).NotTo(HaveOccurred())

			_, err = f.lifecycle.Acknowledge(f.ctx, a.ID)
			Expect(err).To(MatchError(alerting.ErrAlreadyProcessed))
		})

		It("should report unknown alerts", func() {
			_, err := f.lifecycle.Acknowledge(f.ctx, 4242)
			Expect(err).To(MatchError(alerting.ErrAlertNotFound))
		})
	})

	Describe("Resolve", func() {
		It("should resolve directly from active", func() {
			got, err := f.lifecycle.Resolve(f.ctx, a.ID, "cleared by crew")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(model.StatusResolved))
			Expect(got.AcknowledgedAt).To(BeNil())
			Expect(got.ResolvedAt).NotTo(BeNil())

			events := f.publisher.ofType(alerting.EventAlertResolved)
			Expect(events).To(HaveLen(1))
			Expect(events[0].Payload).To(Equal(alerting.ResolvedEvent{
				ID: a.ID, ResolvedAt: f.clock.Now(), Reason: "cleared by crew",
			}))
		})

		It("should resolve from acknowledged and keep both timestamps ordered", func() {
			_, err := f.lifecycle.Acknowledge(f.ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			f.clock.Advance(10 * time.Minute)

			got, err := f.lifecycle.Resolve(f.ctx, a.ID, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ResolvedAt.After(*got.AcknowledgedAt)).To(BeTrue())
		})

		It("should not re-stamp a resolved alert", func() {
			first, err := f.lifecycle.Resolve(f.ctx, a.ID, "")
			Expect(err).NotTo(HaveOccurred())
			resolvedAt := *first.ResolvedAt

			f.clock.Advance(time.Hour)
			_, err = f.lifecycle.Resolve(f.ctx, a.ID, "")
			Expect(err).To(MatchError(alerting.ErrAlreadyProcessed))

			again, _ := f.store.GetAlert(f.ctx, a.ID)
			Expect(*again.ResolvedAt).To(Equal(resolvedAt))
			Expect(f.publisher.ofType(alerting.EventAlertResolved)).To(HaveLen(1))
		})

		It("should report unknown alerts", func() {
			_, err := f.lifecycle.Resolve(f.ctx, 4242, "")
			Expect(err).To(MatchError(alerting.ErrAlertNotFound))
		})

		It("should let exactly one concurrent operator win", func() {
			var wins atomic.Int32
			var wg sync.WaitGroup
			for range 10 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := f.lifecycle.Resolve(f.ctx, a.ID, ""); err == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			Expect(wins.Load()).To(Equal(int32(1)))
		})
	})
})
