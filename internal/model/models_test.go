package model_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sewer-monitor/internal/model"
)

var _ = Describe("Models", func() {
	Describe("table names", func() {
		It("should map every record to its table", func() {
			Expect(model.Sensor{}.TableName()).To(Equal("sensors"))
			Expect(model.Reading{}.TableName()).To(Equal("sensor_readings"))
			Expect(model.ThresholdConfig{}.TableName()).To(Equal("alert_configurations"))
			Expect(model.Alert{}.TableName()).To(Equal("alerts"))
			Expect(model.NotificationLogEntry{}.TableName()).To(Equal("notification_log"))
			Expect(model.User{}.TableName()).To(Equal("users"))
		})
	})

	Describe("AlertLevel", func() {
		It("should rank critical above warning above normal", func() {
			Expect(model.LevelCritical.Rank()).To(BeNumerically(">", model.LevelWarning.Rank()))
			Expect(model.LevelWarning.Rank()).To(BeNumerically(">", model.LevelNormal.Rank()))
			Expect(model.AlertLevel("bogus").Rank()).To(Equal(model.LevelNormal.Rank()))
		})
	})

	Describe("enum validation", func() {
		It("should accept known values and reject unknown ones", func() {
			Expect(model.SeverityHigh.Valid()).To(BeTrue())
			Expect(model.Severity("urgent").Valid()).To(BeFalse())
			Expect(model.CategorySensorOffline.Valid()).To(BeTrue())
			Expect(model.Category("fire").Valid()).To(BeFalse())
			Expect(model.SensorTypeCombined.Valid()).To(BeTrue())
			Expect(model.SensorType("radar").Valid()).To(BeFalse())
			Expect(model.SensorMaintenance.Valid()).To(BeTrue())
			Expect(model.SensorStatus("broken").Valid()).To(BeFalse())
			Expect(model.RoleOperator.Valid()).To(BeTrue())
			Expect(model.Role("guest").Valid()).To(BeFalse())
		})
	})

	Describe("SensorUpdate", func() {
		It("should be empty without fields", func() {
			Expect(model.SensorUpdate{}.Empty()).To(BeTrue())
		})

		It("should not be empty with a status", func() {
			status := model.SensorMaintenance
			Expect(model.SensorUpdate{Status: &status}.Empty()).To(BeFalse())
		})
	})

	Describe("BuildAlertStats", func() {
		It("should fold grouped rows into totals", func() {
			stats := model.BuildAlertStats([]model.AlertCount{
				{Status: model.StatusActive, Severity: model.SeverityCritical, Category: model.CategoryFloodRisk, Count: 2},
				{Status: model.StatusActive, Severity: model.SeverityHigh, Category: model.CategorySensorOffline, Count: 1},
				{Status: model.StatusAcknowledged, Severity: model.SeverityMedium, Category: model.CategoryToxicGas, Count: 3},
				{Status: model.StatusResolved, Severity: model.SeverityCritical, Category: model.CategoryFloodRisk, Count: 4},
			})

			Expect(stats.Summary.Total).To(Equal(int64(10)))
			Expect(stats.Summary.Active).To(Equal(int64(3)))
			Expect(stats.Summary.Acknowledged).To(Equal(int64(3)))
			Expect(stats.Summary.Resolved).To(Equal(int64(4)))
			Expect(stats.Summary.CriticalActive).To(Equal(int64(2)))
			Expect(stats.Summary.HighActive).To(Equal(int64(1)))
			Expect(stats.Summary.MediumActive).To(BeZero())

			Expect(stats.ByType).To(HaveLen(3))
			Expect(stats.ByType[0]).To(Equal(model.CategoryStat{Category: model.CategoryFloodRisk, Count: 6, ActiveCount: 2}))
			Expect(stats.ByType[1].Category).To(Equal(model.CategorySensorOffline))
			Expect(stats.ByType[2]).To(Equal(model.CategoryStat{Category: model.CategoryToxicGas, Count: 3, ActiveCount: 0}))
		})

		It("should return an empty breakdown without rows", func() {
			stats := model.BuildAlertStats(nil)
			Expect(stats.Summary.Total).To(BeZero())
			Expect(stats.ByType).To(BeEmpty())
		})
	})
})
