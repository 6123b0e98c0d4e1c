package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/sewer-monitor/pkg/metrics"
)

var _ = Describe("Metrics", func() {
	Describe("AlertingMetrics", func() {
		It("should tolerate a nil receiver", func() {
			var m *metrics.AlertingMetrics
			Expect(func() {
				m.ObserveEvaluation("normal", true)
				m.ObserveAlertCreated("flood_risk", "critical")
				m.ObserveSuppressed("flood_risk")
				m.SetOfflineSensors(3)
				m.ObserveDelivery("success")
				m.ObserveSkipped("no_recipients")
				m.ObserveSweep("dispatch", time.Now())
				m.ObserveTransition("resolved", false)
			}).NotTo(Panic())
		})

		It("should count observations", func() {
			m := metrics.NewAlertingMetrics("alerting_test")
			m.ObserveEvaluation("critical", false)
			m.ObserveEvaluation("normal", true)
			m.ObserveAlertCreated("toxic_gas", "medium")
			m.SetOfflineSensors(2)
			m.ObserveTransition("acknowledged", true)

			Expect(testutil.ToFloat64(m.ReadingsEvaluated.WithLabelValues("critical"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.EvaluationFailures)).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.AlertsCreated.WithLabelValues("toxic_gas", "medium"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.OfflineSensors)).To(Equal(2.0))
			Expect(testutil.ToFloat64(m.LifecycleTransition.WithLabelValues("acknowledged", "ok"))).To(Equal(1.0))
		})
	})

	Describe("Handler", func() {
		It("should expose registered metrics", func() {
			m := metrics.NewRealtimeMetrics("handler_test")
			m.ConnectedClients.Set(4)

			rec := httptest.NewRecorder()
			metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(strings.Contains(rec.Body.String(), "handler_test_realtime_connected_clients 4")).To(BeTrue())
		})
	})

	Describe("RegisterBuildInfo", func() {
		It("should publish the first registration only", func() {
			metrics.RegisterBuildInfo("buildinfo_test", "1.2.3", "server")
			metrics.RegisterBuildInfo("buildinfo_test", "9.9.9", "simulate")

			rec := httptest.NewRecorder()
			metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			body := rec.Body.String()
			Expect(body).To(ContainSubstring(`buildinfo_test_build_info{command="server",version="1.2.3"} 1`))
			Expect(body).NotTo(ContainSubstring(`version="9.9.9"`))
		})
	})
})
