package api_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sewer-monitor/internal/alerting"
	"procodus.dev/sewer-monitor/internal/api"
	"procodus.dev/sewer-monitor/internal/model"
	"procodus.dev/sewer-monitor/pkg/logger"
)

var _ = Describe("Alerts API", func() {
	var f *fixture

	BeforeEach(func() {
		f = newFixture(nil)
		f.sensor("S1")
	})

	It("should validate its config", func() {
		_, err := api.New(&api.Config{Logger: logger.Discard()})
		Expect(err).To(MatchError(ContainSubstring("store cannot be nil")))
	})

	Describe("GET /api/alerts", func() {
		It("should list active alerts by default", func() {
			f.alert("S1", model.SeverityCritical)
			resolved := f.alert("S1", model.SeverityHigh)
			_, err := f.lifecycle.Resolve(f.ctx, resolved.ID, "")
			Expect(err).NotTo(HaveOccurred())

			rec, resp := f.do(http.MethodGet, "/api/alerts", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(resp.Success).To(BeTrue())
			Expect(*resp.Count).To(Equal(1))

			alerts := decodeData[[]model.Alert](resp)
			Expect(alerts[0].LocationName).To(Equal("Av. Brasil"))
		})

		It("should list every status with status=all", func() {
			f.alert("S1", model.SeverityCritical)
			resolved := f.alert("S1", model.SeverityHigh)
			_, err := f.lifecycle.Resolve(f.ctx, resolved.ID, "")
			Expect(err).NotTo(HaveOccurred())

			_, resp := f.do(http.MethodGet, "/api/alerts?status=all", nil)
			Expect(*resp.Count).To(Equal(2))
		})

		It("should filter by severity and paginate", func() {
			for range 3 {
				f.alert("S1", model.SeverityCritical)
			}
			f.alert("S1", model.SeverityHigh)

			_, resp := f.do(http.MethodGet, "/api/alerts?severity=critical&limit=2&offset=0", nil)
			Expect(*resp.Count).To(Equal(2))
		})

		It("should reject invalid filters", func() {
			rec, resp := f.do(http.MethodGet, "/api/alerts?status=closed", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Error).To(ContainSubstring("invalid status"))

			rec, _ = f.do(http.MethodGet, "/api/alerts?limit=-1", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/alerts", func() {
		It("should create an active alert", func() {
			rec, resp := f.do(http.MethodPost, "/api/alerts", map[string]any{
				"sensor_id":  "S1",
				"alert_type": "maintenance_required",
				"severity":   "low",
				"message":    "manhole cover loose",
				"alert_data": map[string]any{"reported_by": "field team"},
			})
			Expect(rec.Code).To(Equal(http.StatusCreated))
			alert := decodeData[model.Alert](resp)
			Expect(alert.ID).NotTo(BeZero())
			Expect(alert.Status).To(Equal(model.StatusActive))
			Expect(alert.WhatsAppSent).To(BeFalse())
		})

		It("should return 404 for unknown sensors", func() {
			rec, resp := f.do(http.MethodPost, "/api/alerts", map[string]any{
				"sensor_id": "ghost", "alert_type": "maintenance_required", "severity": "low", "message": "x",
			})
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(resp.Error).To(ContainSubstring("sensor not found"))

			alerts, err := f.store.ListAlerts(f.ctx, model.AlertFilter{SensorID: "ghost"})
			Expect(err).NotTo(HaveOccurred())
			Expect(alerts).To(BeEmpty())
		})

		It("should reject unknown enums", func() {
			rec, resp := f.do(http.MethodPost, "/api/alerts", map[string]any{
				"sensor_id": "S1", "alert_type": "earthquake", "severity": "low", "message": "x",
			})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(resp.Error).To(ContainSubstring("invalid alert_type"))
		})

		It("should reject malformed bodies", func() {
			rec, _ := f.do(http.MethodPost, "/api/alerts", map[string]any{"unknown": true})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("lifecycle", func() {
		It("should acknowledge once", func() {
			a := f.alert("S1", model.SeverityCritical)
			path := fmt.Sprintf("/api/alerts/%d/acknowledge", a.ID)

			rec, resp := f.do(http.MethodPut, path, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeData[model.Alert](resp).Status).To(Equal(model.StatusAcknowledged))

			rec, resp = f.do(http.MethodPut, path, nil)
			Expect(rec.Code).To(Equal(http.StatusConflict))
			Expect(resp.Error).To(ContainSubstring("already processed"))
		})

		It("should resolve with a reason", func() {
			a := f.alert("S1", model.SeverityCritical)
			rec, resp := f.do(http.MethodPut, fmt.Sprintf("/api/alerts/%d/resolve", a.ID), map[string]string{"reason": "pump restarted"})
			Expect(rec.Code).To(Equal(http.StatusOK))
			alert := decodeData[model.Alert](resp)
			Expect(alert.Status).To(Equal(model.StatusResolved))
			Expect(alert.ResolvedAt).NotTo(BeNil())
		})

		It("should keep the reason of a chunked request", func() {
			a := f.alert("S1", model.SeverityCritical)
			body := io.MultiReader(strings.NewReader(`{"reason": "debris removed"}`))
			req := httptest.NewRequest(http.MethodPut, fmt.Sprintf("/api/alerts/%d/resolve", a.ID), body)
			Expect(req.ContentLength).To(Equal(int64(-1)))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(f.events.Events()).To(ContainElement(HaveField("Payload", alerting.ResolvedEvent{
				ID: a.ID, ResolvedAt: f.clock.Now(), Reason: "debris removed",
			})))
		})

		It("should resolve without a body", func() {
			a := f.alert("S1", model.SeverityCritical)
			rec, _ := f.do(http.MethodPut, fmt.Sprintf("/api/alerts/%d/resolve", a.ID), nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("should return 404 for unknown alerts", func() {
			rec, _ := f.do(http.MethodPut, "/api/alerts/999/acknowledge", nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))

			rec, _ = f.do(http.MethodGet, "/api/alerts/999", nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("should return 400 for malformed ids", func() {
			rec, _ := f.do(http.MethodPut, "/api/alerts/abc/resolve", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/alerts/stats", func() {
		It("should summarize the last 24 hours", func() {
			f.alert("S1", model.SeverityCritical)
			f.clock.Advance(25 * time.Hour)
			f.alert("S1", model.SeverityCritical)
			acked := f.alert("S1", model.SeverityHigh)
			_, err := f.lifecycle.Acknowledge(f.ctx, acked.ID)
			Expect(err).NotTo(HaveOccurred())

			rec, resp := f.do(http.MethodGet, "/api/alerts/stats", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			stats := decodeData[model.AlertStats](resp)
			Expect(stats.Summary.Total).To(Equal(int64(2)))
			Expect(stats.Summary.Active).To(Equal(int64(1)))
			Expect(stats.Summary.Acknowledged).To(Equal(int64(1)))
			Expect(stats.Summary.CriticalActive).To(Equal(int64(1)))
			Expect(stats.ByType).To(ConsistOf(model.CategoryStat{
				Category: model.CategoryFloodRisk, Count: 2, ActiveCount: 1,
			}))
		})
	})

	Describe("GET /api/alerts/{id}/notifications", func() {
		It("should list delivery attempts", func() {
			a := f.alert("S1", model.SeverityCritical)
			Expect(f.store.RecordDelivery(f.ctx, &model.NotificationLogEntry{
				AlertID: a.ID, UserID: 1, Recipient: "+551", Status: model.DeliveryFailed, Error: "timeout",
			})).To(Succeed())

			rec, resp := f.do(http.MethodGet, fmt.Sprintf("/api/alerts/%d/notifications", a.ID), nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(*resp.Count).To(Equal(1))
		})
	})
})
