// Package generator produces synthetic sewer sensors and readings for the simulator and tests.
package generator

import (
	"fmt"
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"procodus.dev/sewer-monitor/pkg/telemetry"
)

// Sensor types understood by the server.
const (
	TypeWaterLevel  = "water_level"
	TypeGasDetector = "gas_detector"
	TypeCombined    = "combined"
)

// Scenario biases the generated values.
type Scenario string

const (
	ScenarioNormal  Scenario = "normal"
	ScenarioStorm   Scenario = "storm"
	ScenarioGasLeak Scenario = "gas_leak"
)

// SewerSensor is a fake sensor description.
type SewerSensor struct {
	SensorID   string
	Street     string  `fake:"{street}"`
	District   string  `fake:"{city}"`
	Firmware   string  `fake:"{appversion}"`
	SensorType string  `fake:"{randomstring:[water_level,gas_detector,combined]}"`
	Latitude   float64 `fake:"{latitude}"`
	Longitude  float64 `fake:"{longitude}"`
}

// NewSewerSensor builds a sensor with a SEW-#### identifier.
func NewSewerSensor(f *gofakeit.Faker) (*SewerSensor, error) {
	var s SewerSensor
	if err := f.Struct(&s); err != nil {
		return nil, fmt.Errorf("fake sensor: %w", err)
	}
	s.SensorID = fmt.Sprintf("SEW-%04d", f.IntRange(1, 9999))
	return &s, nil
}

// Provisioning converts the sensor to its provisioning message.
func (s *SewerSensor) Provisioning() telemetry.Provisioning {
	return telemetry.Provisioning{
		SensorID:     s.SensorID,
		LocationName: fmt.Sprintf("%s, %s", s.Street, s.District),
		SensorType:   s.SensorType,
		Latitude:     s.Latitude,
		Longitude:    s.Longitude,
		Configuration: map[string]any{
			"firmware": s.Firmware,
		},
	}
}

// ReadingGenerator produces a plausible series of readings for one sensor.
// Water level is a percentage of pipe capacity. Gases are in ppm except CH4 (% LEL).
type ReadingGenerator struct {
	faker        *gofakeit.Faker
	scenario     Scenario
	sensorID     string
	sensorType   string
	baseWater    float64
	baseCO       float64
	baseH2S      float64
	baseCH4      float64
	surge        float64 // storm water accumulated so far
	spikeChance  float64
	lastWater    float64
	scenarioTick int
}

// NewReadingGenerator creates a generator for the given sensor.
func NewReadingGenerator(f *gofakeit.Faker, sensorID, sensorType string) *ReadingGenerator {
	return &ReadingGenerator{
		faker:       f,
		scenario:    ScenarioNormal,
		sensorID:    sensorID,
		sensorType:  sensorType,
		baseWater:   f.Float64Range(20, 40),
		baseCO:      f.Float64Range(0, 5),
		baseH2S:     f.Float64Range(0, 2),
		baseCH4:     f.Float64Range(0, 4),
		spikeChance: 0.03,
	}
}

// SetScenario switches the generator to s and restarts its progression.
func (g *ReadingGenerator) SetScenario(s Scenario) {
	g.scenario = s
	g.scenarioTick = 0
	if s != ScenarioStorm {
		g.surge = 0
	}
}

// Scenario returns the active scenario.
func (g *ReadingGenerator) Scenario() Scenario {
	return g.scenario
}

// Next returns the reading at t.
func (g *ReadingGenerator) Next(t time.Time) telemetry.Reading {
	g.scenarioTick++
	data := make(map[string]float64, 4)

	if g.sensorType != TypeGasDetector {
		data["water_level"] = round(g.waterLevel(t), 1)
	}
	if g.sensorType != TypeWaterLevel {
		co, h2s, ch4 := g.gases()
		data["gas_co"] = round(co, 2)
		data["gas_h2s"] = round(h2s, 2)
		data["gas_ch4"] = round(ch4, 2)
	}

	return telemetry.Reading{
		SensorID:  g.sensorID,
		Timestamp: t.UTC(),
		Data:      data,
	}
}

// waterLevel follows household usage (morning and evening peaks), and a
// storm adds a surge that ramps up over successive readings.
func (g *ReadingGenerator) waterLevel(t time.Time) float64 {
	hour := float64(t.Hour()) + float64(t.Minute())/60
	usage := 6*math.Exp(-math.Pow(hour-8, 2)/4) + 8*math.Exp(-math.Pow(hour-20, 2)/6)
	noise := (g.faker.Float64() - 0.5) * 2

	if g.scenario == ScenarioStorm {
		g.surge = math.Min(g.surge+g.faker.Float64Range(4, 9), 70)
	}

	spike := 0.0
	if g.faker.Float64() < g.spikeChance {
		spike = g.faker.Float64Range(10, 25)
	}

	level := g.baseWater + usage + noise + g.surge + spike
	// Smooth against the previous value; a pipe does not empty instantly.
	if g.lastWater > 0 {
		level = 0.6*level + 0.4*g.lastWater
	}
	level = clamp(level, 0, 100)
	g.lastWater = level
	return level
}

func (g *ReadingGenerator) gases() (co, h2s, ch4 float64) {
	co = g.baseCO + g.faker.Float64Range(-0.5, 0.5)
	h2s = g.baseH2S + g.faker.Float64Range(-0.2, 0.2)
	ch4 = g.baseCH4 + g.faker.Float64Range(-0.5, 0.5)

	if g.scenario == ScenarioGasLeak {
		ramp := math.Min(float64(g.scenarioTick), 5) / 5
		co += ramp * g.faker.Float64Range(30, 60)
		h2s += ramp * g.faker.Float64Range(10, 30)
		ch4 += ramp * g.faker.Float64Range(10, 25)
	} else if g.faker.Float64() < g.spikeChance {
		h2s += g.faker.Float64Range(3, 8)
	}

	return clamp(co, 0, 1000), clamp(h2s, 0, 500), clamp(ch4, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
