package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"procodus.dev/sewer-monitor/internal/model"
	"procodus.dev/sewer-monitor/pkg/telemetry"
)

func provision(ctx context.Context, sensorID string) {
	body, err := telemetry.EncodeProvisioning(telemetry.Provisioning{
		SensorID:     sensorID,
		LocationName: "Avenida Central " + sensorID,
		SensorType:   string(model.SensorTypeCombined),
		Latitude:     -23.55,
		Longitude:    -46.63,
	})
	Expect(err).NotTo(HaveOccurred())
	Expect(provisioningPublisher.Push(ctx, body)).To(Succeed())

	Eventually(func() int {
		status, _ := call(http.MethodGet, "/sensors/"+sensorID, "")
		return status
	}, 20*time.Second, 200*time.Millisecond).Should(Equal(http.StatusOK))
}

func publishReading(ctx context.Context, sensorID string, data map[string]float64) {
	body, err := telemetry.EncodeReading(telemetry.Reading{
		Timestamp: time.Now().UTC(),
		Data:      data,
		SensorID:  sensorID,
	})
	Expect(err).NotTo(HaveOccurred())
	Expect(readingPublisher.Push(ctx, body)).To(Succeed())
}

func readingCount(sensorID string) int {
	status, resp := call(http.MethodGet, "/sensors/"+sensorID+"/readings", "")
	if status != http.StatusOK {
		return -1
	}
	return len(decodeInto[[]model.Reading](resp.Data))
}

func alertsFor(sensorID string) []model.Alert {
	status, resp := call(http.MethodGet, "/alerts?status=all&sensor_id="+sensorID, "")
	Expect(status).To(Equal(http.StatusOK))
	return decodeInto[[]model.Alert](resp.Data)
}

var _ = Describe("Sensor pipeline", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Minute)
	})

	AfterEach(func() {
		cancel()
	})

	It("should register sensors announced on the provisioning queue", func() {
		provision(ctx, "SEW-E2E-0001")

		status, resp := call(http.MethodGet, "/sensors/SEW-E2E-0001", "")
		Expect(status).To(Equal(http.StatusOK))
		sensor := decodeInto[model.Sensor](resp.Data)
		Expect(sensor.SensorType).To(Equal(model.SensorTypeCombined))
		Expect(sensor.Status).To(Equal(model.SensorActive))
		Expect(sensor.LocationName).To(Equal("Avenida Central SEW-E2E-0001"))
	})

	It("should raise one alert per breach, notify recipients and follow the lifecycle", func() {
		const sensorID = "SEW-E2E-0002"
		provision(ctx, sensorID)

		status, _ := call(http.MethodPut, "/sensors/"+sensorID+"/thresholds/water_level",
			`{"threshold_warning": 70, "threshold_critical": 90, "enabled": true}`)
		Expect(status).To(Equal(http.StatusOK))

		status, _ = call(http.MethodPost, "/users",
			`{"username": "e2e-admin", "phone_number": "+5511999990000", "role": "admin", "whatsapp_notifications": true}`)
		Expect(status).To(BeElementOf(http.StatusOK, http.StatusCreated))

		By("publishing two critical readings in a row")
		publishReading(ctx, sensorID, map[string]float64{model.ParamWaterLevel: 95})
		Eventually(func() int { return readingCount(sensorID) }, 20*time.Second, 200*time.Millisecond).Should(Equal(1))
		publishReading(ctx, sensorID, map[string]float64{model.ParamWaterLevel: 96})
		Eventually(func() int { return readingCount(sensorID) }, 20*time.Second, 200*time.Millisecond).Should(Equal(2))

		alerts := alertsFor(sensorID)
		Expect(alerts).To(HaveLen(1))
		alert := alerts[0]
		Expect(alert.Category).To(Equal(model.CategoryFloodRisk))
		Expect(alert.Severity).To(Equal(model.SeverityCritical))
		Expect(alert.Status).To(Equal(model.StatusActive))

		By("waiting for the dispatcher to deliver it")
		Eventually(func() bool {
			status, resp := call(http.MethodGet, fmt.Sprintf("/alerts/%d", alert.ID), "")
			return status == http.StatusOK && decodeInto[model.Alert](resp.Data).WhatsAppSent
		}, 20*time.Second, 250*time.Millisecond).Should(BeTrue())

		status, resp := call(http.MethodGet, fmt.Sprintf("/alerts/%d/notifications", alert.ID), "")
		Expect(status).To(Equal(http.StatusOK))
		entries := decodeInto[[]model.NotificationLogEntry](resp.Data)
		Expect(entries).To(ContainElement(And(
			HaveField("Recipient", "+5511999990000"),
			HaveField("Status", model.DeliverySuccess),
		)))

		By("acknowledging and resolving over the API")
		status, resp = call(http.MethodPut, fmt.Sprintf("/alerts/%d/acknowledge", alert.ID), "")
		Expect(status).To(Equal(http.StatusOK))
		acked := decodeInto[model.Alert](resp.Data)
		Expect(acked.Status).To(Equal(model.StatusAcknowledged))
		Expect(acked.AcknowledgedAt).NotTo(BeNil())

		status, _ = call(http.MethodPut, fmt.Sprintf("/alerts/%d/acknowledge", alert.ID), "")
		Expect(status).To(Equal(http.StatusConflict))

		status, resp = call(http.MethodPut, fmt.Sprintf("/alerts/%d/resolve", alert.ID), `{"reason": "drain cleared"}`)
		Expect(status).To(Equal(http.StatusOK))
		resolved := decodeInto[model.Alert](resp.Data)
		Expect(resolved.Status).To(Equal(model.StatusResolved))
		Expect(resolved.ResolvedAt).NotTo(BeNil())

		status, _ = call(http.MethodPut, fmt.Sprintf("/alerts/%d/resolve", alert.ID), "")
		Expect(status).To(Equal(http.StatusConflict))

		status, resp = call(http.MethodGet, "/alerts?sensor_id="+sensorID, "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(decodeInto[[]model.Alert](resp.Data)).To(BeEmpty())
	})

	It("should drop readings from unknown sensors and keep consuming", func() {
		const sensorID = "SEW-E2E-0003"
		provision(ctx, sensorID)

		publishReading(ctx, "SEW-E2E-UNKNOWN", map[string]float64{model.ParamWaterLevel: 99})
		publishReading(ctx, sensorID, map[string]float64{model.ParamWaterLevel: 12})

		Eventually(func() int { return readingCount(sensorID) }, 20*time.Second, 200*time.Millisecond).Should(Equal(1))

		status, _ := call(http.MethodGet, "/sensors/SEW-E2E-UNKNOWN", "")
		Expect(status).To(Equal(http.StatusNotFound))
		Expect(alertsFor(sensorID)).To(BeEmpty())
	})

	It("should report overall health as serving over gRPC", func() {
		resp, err := healthClient.Check(ctx, &healthpb.HealthCheckRequest{})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.GetStatus()).To(Equal(healthpb.HealthCheckResponse_SERVING))
	})
})
