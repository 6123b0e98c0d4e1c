package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"procodus.dev/sewer-monitor/internal/model"
	"procodus.dev/sewer-monitor/pkg/clock"
	"procodus.dev/sewer-monitor/pkg/metrics"
)

// LifecycleConfig holds the configuration for the Lifecycle manager.
type LifecycleConfig struct {
	Logger    *slog.Logger
	Store     AlertStore
	Publisher Publisher                // Optional, defaults to NopPublisher
	Clock     clock.Clock              // Optional, defaults to clock.Real
	Metrics   *metrics.AlertingMetrics // Optional
}

// Lifecycle owns the alert state machine:
//
//	active -> acknowledged -> resolved
//	active -> resolved
//
// Transitions are conditional writes, so concurrent operators cannot both win.
type Lifecycle struct {
	logger    *slog.Logger
	store     AlertStore
	publisher Publisher
	clock     clock.Clock
	metrics   *metrics.AlertingMetrics
}

// NewLifecycle creates a new Lifecycle manager.
func NewLifecycle(cfg *LifecycleConfig) (*Lifecycle, error) {
	if cfg == nil {
		return nil, errors.New("lifecycle config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("alert store cannot be nil")
	}

	l := &Lifecycle{
		logger:    cfg.Logger.With("component", "lifecycle"),
		store:     cfg.Store,
		publisher: cfg.Publisher,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
	}
	if l.publisher == nil {
		l.publisher = NopPublisher{}
	}
	if l.clock == nil {
		l.clock = clock.Real{}
	}
	return l, nil
}

// CreateAlert persists alert in the active state with delivery pending and
// announces it on the dashboard topic.
func (l *Lifecycle) CreateAlert(ctx context.Context, alert *model.Alert) error {
	if alert == nil {
		return errors.New("alert cannot be nil")
	}
	if !alert.Category.Valid() {
		return fmt.Errorf("invalid alert type %q", alert.Category)
	}
	if !alert.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", alert.Severity)
	}

	alert.Status = model.StatusActive
	alert.WhatsAppSent = false
	alert.AcknowledgedAt = nil
	alert.ResolvedAt = nil
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = l.clock.Now()
	}

	if err := l.store.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("create alert: %w", err)
	}

	l.metrics.ObserveAlertCreated(string(alert.Category), string(alert.Severity))
	l.publisher.Publish(DashboardTopic, EventNewAlert, NewAlertEvent{
		ID:        alert.ID,
		SensorID:  alert.SensorID,
		Category:  alert.Category,
		Severity:  alert.Severity,
		Message:   alert.Message,
		CreatedAt: alert.CreatedAt,
	})

	l.logger.Info("alert created",
		"alert_id", alert.ID,
		"sensor_id", alert.SensorID,
		"alert_type", alert.Category,
		"severity", alert.Severity)
	return nil
}

// Acknowledge moves an active alert to acknowledged.
// It returns ErrAlertNotFound or ErrAlreadyProcessed when the transition is rejected.
func (l *Lifecycle) Acknowledge(ctx context.Context, id uint) (*model.Alert, error) {
	now := l.clock.Now()
	if err := l.transition(ctx, id, []model.AlertStatus{model.StatusActive}, model.StatusAcknowledged, now); err != nil {
		return nil, err
	}

	l.publisher.Publish(DashboardTopic, EventAlertAcknowledged, AcknowledgedEvent{
		ID:             id,
		AcknowledgedAt: now,
	})
	l.logger.Info("alert acknowledged", "alert_id", id)

	return l.reload(ctx, id)
}

// Resolve moves an active or acknowledged alert to resolved. A resolved alert
// is rejected with ErrAlreadyProcessed and its resolved_at is left untouched.
func (l *Lifecycle) Resolve(ctx context.Context, id uint, reason string) (*model.Alert, error) {
	now := l.clock.Now()
	from := []model.AlertStatus{model.StatusActive, model.StatusAcknowledged}
	if err := l.transition(ctx, id, from, model.StatusResolved, now); err != nil {
		return nil, err
	}

	l.publisher.Publish(DashboardTopic, EventAlertResolved, ResolvedEvent{
		ID:         id,
		ResolvedAt: now,
		Reason:     reason,
	})
	l.logger.Info("alert resolved", "alert_id", id, "reason", reason)

	return l.reload(ctx, id)
}

func (l *Lifecycle) transition(ctx context.Context, id uint, from []model.AlertStatus, to model.AlertStatus, at time.Time) error {
	changed, err := l.store.TransitionAlert(ctx, id, from, to, at)
	if err != nil {
		l.metrics.ObserveTransition(string(to), false)
		return fmt.Errorf("transition alert %d to %s: %w", id, to, err)
	}
	if changed {
		l.metrics.ObserveTransition(string(to), true)
		return nil
	}

	l.metrics.ObserveTransition(string(to), false)
	if _, err := l.store.GetAlert(ctx, id); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return ErrAlertNotFound
		}
		return fmt.Errorf("load alert %d: %w", id, err)
	}
	return ErrAlreadyProcessed
}

func (l *Lifecycle) reload(ctx context.Context, id uint) (*model.Alert, error) {
	alert, err := l.store.GetAlert(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("load alert %d: %w", id, err)
	}
	return alert, nil
}
