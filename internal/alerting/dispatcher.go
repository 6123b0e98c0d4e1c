package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"procodus.dev/sewer-monitor/internal/model"
	"procodus.dev/sewer-monitor/pkg/clock"
	"procodus.dev/sewer-monitor/pkg/metrics"
)

// DispatcherConfig holds the configuration for the Dispatcher.
type DispatcherConfig struct {
	Logger    *slog.Logger
	Store     NotificationStore
	Sender    Sender
	Formatter *Formatter               // Optional, defaults to DefaultMessageTemplate in UTC
	Policy    RecipientPolicy          // Optional, defaults to DefaultRecipientPolicy
	Clock     clock.Clock              // Optional, defaults to clock.Real
	Metrics   *metrics.AlertingMetrics // Optional
	// BatchSize caps the alerts handled per sweep (defaults to 10).
	BatchSize int
	// SendTimeout bounds each gateway call (defaults to 5s).
	SendTimeout time.Duration
}

// Dispatcher delivers pending critical and high alerts to operators.
type Dispatcher struct {
	logger      *slog.Logger
	store       NotificationStore
	sender      Sender
	formatter   *Formatter
	policy      RecipientPolicy
	clock       clock.Clock
	metrics     *metrics.AlertingMetrics
	batchSize   int
	sendTimeout time.Duration
}

// SweepResult summarizes one dispatcher sweep.
type SweepResult struct {
	Selected   int // alerts pulled from the store
	Notified   int // alerts marked as sent
	Skipped    int // alerts left pending without any attempt
	Deliveries int // successful sends
	Failures   int // failed sends
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(cfg *DispatcherConfig) (*Dispatcher, error) {
	if cfg == nil {
		return nil, errors.New("dispatcher config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("notification store cannot be nil")
	}
	if cfg.Sender == nil {
		return nil, errors.New("sender cannot be nil")
	}

	d := &Dispatcher{
		logger:      cfg.Logger.With("component", "dispatcher"),
		store:       cfg.Store,
		sender:      cfg.Sender,
		formatter:   cfg.Formatter,
		policy:      cfg.Policy,
		clock:       cfg.Clock,
		metrics:     cfg.Metrics,
		batchSize:   cfg.BatchSize,
		sendTimeout: cfg.SendTimeout,
	}
	if d.formatter == nil {
		f, err := NewFormatter("", time.UTC)
		if err != nil {
			return nil, err
		}
		d.formatter = f
	}
	if d.policy == nil {
		d.policy = DefaultRecipientPolicy
	}
	if d.clock == nil {
		d.clock = clock.Real{}
	}
	if d.batchSize <= 0 {
		d.batchSize = DefaultBatchSize
	}
	if d.sendTimeout <= 0 {
		d.sendTimeout = DefaultSendTimeout
	}
	return d, nil
}

// Sweep selects up to one batch of pending alerts, oldest first, and sends
// each to its recipients. An alert is marked sent once at least one recipient
// got it; otherwise it stays pending for the next sweep. Only the initial
// selection can fail the sweep.
func (d *Dispatcher) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer d.metrics.ObserveSweep("dispatch", start)

	var res SweepResult

	pending, err := d.store.PendingNotifications(ctx, NotifiableSeverities, d.batchSize)
	if err != nil {
		return res, fmt.Errorf("select pending notifications: %w", err)
	}
	res.Selected = len(pending)

	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		d.dispatch(ctx, &pending[i], &res)
	}

	if res.Selected > 0 {
		d.logger.Info("dispatch sweep finished",
			"selected", res.Selected,
			"notified", res.Notified,
			"skipped", res.Skipped,
			"deliveries", res.Deliveries,
			"failures", res.Failures)
	}
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, alert *model.Alert, res *SweepResult) {
	log := d.logger.With("alert_id", alert.ID, "sensor_id", alert.SensorID)

	users, err := d.store.Recipients(ctx, d.policy(alert.Severity))
	if err != nil {
		log.Error("failed to resolve recipients", "error", err)
		d.skip(res, "recipients_error")
		return
	}

	recipients := users[:0:0]
	for _, u := range users {
		if u.WhatsAppNotifications && strings.TrimSpace(u.PhoneNumber) != "" {
			recipients = append(recipients, u)
		}
	}
	if len(recipients) == 0 {
		log.Warn("no recipients for alert, leaving it pending", "severity", alert.Severity)
		d.skip(res, "no_recipients")
		return
	}

	message, err := d.formatter.Format(alert)
	if err != nil {
		log.Error("failed to format alert", "error", err)
		d.skip(res, "format_error")
		return
	}

	delivered := 0
	for _, user := range recipients {
		if d.send(ctx, alert, user, message) {
			delivered++
			res.Deliveries++
		} else {
			res.Failures++
		}
	}

	if delivered == 0 {
		log.Warn("no delivery succeeded, alert stays pending", "recipients", len(recipients))
		return
	}

	if err := d.store.MarkNotified(ctx, alert.ID); err != nil {
		log.Error("failed to mark alert as notified", "error", err)
		return
	}
	res.Notified++
	log.Info("alert notified", "delivered", delivered, "recipients", len(recipients))
}

// send performs one bounded gateway call and records its outcome.
func (d *Dispatcher) send(ctx context.Context, alert *model.Alert, user model.User, message string) bool {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	err := d.sender.Send(sendCtx, user.PhoneNumber, message)
	cancel()

	entry := &model.NotificationLogEntry{
		AlertID:   alert.ID,
		UserID:    user.ID,
		Recipient: user.PhoneNumber,
		Status:    model.DeliverySuccess,
		CreatedAt: d.clock.Now(),
	}
	if err != nil {
		entry.Status = model.DeliveryFailed
		entry.Error = err.Error()
		d.logger.Warn("notification send failed",
			"alert_id", alert.ID,
			"user_id", user.ID,
			"error", err)
	}
	d.metrics.ObserveDelivery(string(entry.Status))

	if recErr := d.store.RecordDelivery(ctx, entry); recErr != nil {
		d.logger.Error("failed to record delivery",
			"alert_id", alert.ID,
			"user_id", user.ID,
			"error", recErr)
	}
	return err == nil
}

func (d *Dispatcher) skip(res *SweepResult, reason string) {
	res.Skipped++
	d.metrics.ObserveSkipped(reason)
}
