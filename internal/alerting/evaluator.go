package alerting

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"procodus.dev/sewer-monitor/internal/model"
	"procodus.dev/sewer-monitor/pkg/metrics"
)

// TriggeredEvent is one threshold crossing found while classifying a reading.
type TriggeredEvent struct {
	Parameter string           `json:"parameter"`
	Level     model.AlertLevel `json:"level"`
	Value     float64          `json:"value"`
	Threshold float64          `json:"threshold"`
}

// Classify evaluates reading against configs and returns the overall level
// together with every threshold that fired. Comparisons are inclusive and a
// critical candidate is never downgraded by a later warning. Disabled configs
// and parameters missing from the reading are ignored. Configs are visited in
// parameter order so the event list is deterministic.
func Classify(configs []model.ThresholdConfig, reading model.ReadingData) (model.AlertLevel, []TriggeredEvent) {
	ordered := make([]model.ThresholdConfig, 0, len(configs))
	for _, c := range configs {
		if c.Enabled {
			ordered = append(ordered, c)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ParameterName < ordered[j].ParameterName
	})

	level := model.LevelNormal
	var events []TriggeredEvent

	for _, cfg := range ordered {
		value, ok := reading[cfg.ParameterName]
		if !ok {
			continue
		}

		switch {
		case cfg.Critical != nil && value >= *cfg.Critical:
			level = model.LevelCritical
			events = append(events, TriggeredEvent{
				Parameter: cfg.ParameterName,
				Value:     value,
				Threshold: *cfg.Critical,
				Level:     model.LevelCritical,
			})
		case cfg.Warning != nil && value >= *cfg.Warning:
			if level != model.LevelCritical {
				level = model.LevelWarning
			}
			events = append(events, TriggeredEvent{
				Parameter: cfg.ParameterName,
				Value:     value,
				Threshold: *cfg.Warning,
				Level:     model.LevelWarning,
			})
		}
	}

	return level, events
}

// EvaluatorConfig holds the configuration for the Evaluator.
type EvaluatorConfig struct {
	Logger     *slog.Logger
	Thresholds ThresholdSource
	Metrics    *metrics.AlertingMetrics // Optional
}

// Evaluator classifies readings using the thresholds stored for each sensor.
type Evaluator struct {
	logger     *slog.Logger
	thresholds ThresholdSource
	metrics    *metrics.AlertingMetrics
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(cfg *EvaluatorConfig) (*Evaluator, error) {
	if cfg == nil {
		return nil, errors.New("evaluator config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Thresholds == nil {
		return nil, errors.New("threshold source cannot be nil")
	}

	return &Evaluator{
		logger:     cfg.Logger.With("component", "evaluator"),
		thresholds: cfg.Thresholds,
		metrics:    cfg.Metrics,
	}, nil
}

// Evaluate returns the level of reading and the thresholds it crossed.
// It never fails: when thresholds cannot be loaded the reading is classified
// normal so that it can still be stored.
func (e *Evaluator) Evaluate(ctx context.Context, sensorID string, reading model.ReadingData) (model.AlertLevel, []TriggeredEvent) {
	configs, err := e.thresholds.EnabledThresholds(ctx, sensorID)
	if err != nil {
		e.logger.Error("failed to load thresholds, classifying as normal",
			"sensor_id", sensorID,
			"error", err)
		e.metrics.ObserveEvaluation(string(model.LevelNormal), true)
		return model.LevelNormal, nil
	}

	level, events := Classify(configs, reading)
	e.metrics.ObserveEvaluation(string(level), false)

	if len(events) > 0 {
		e.logger.Debug("thresholds crossed",
			"sensor_id", sensorID,
			"level", level,
			"events", len(events))
	}
	return level, events
}
