package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"procodus.dev/sewer-monitor/internal/alerting"
	"procodus.dev/sewer-monitor/internal/model"
)

// ReceiptMessage answers a confirmed reply.
const ReceiptMessage = "✅ Confirmation received. Thank you!"

var confirmationWords = map[string]struct{}{
	"ok":         {},
	"received":   {},
	"confirmed":  {},
	"noted":      {},
	"recebido":   {},
	"confirmado": {},
	"ciente":     {},
}

// IsConfirmation reports whether an incoming reply acknowledges receipt.
func IsConfirmation(message string) bool {
	_, ok := confirmationWords[strings.ToLower(strings.TrimSpace(message))]
	return ok
}

// TestMessage is the connectivity check sent on demand.
func TestMessage(now time.Time) string {
	return fmt.Sprintf(`🧪 *SEWER MONITORING TEST*

This is a connectivity test of the alert notification channel.

*Date/Time:* %s

If you received this message, notifications are working.

_Sewer Monitoring System_`, now.Format("02/01/2006 15:04:05 MST"))
}

// UserLookup finds the operator owning a phone number.
type UserLookup interface {
	UserByPhone(ctx context.Context, phone string) (*model.User, error)
}

// RepliesConfig holds the configuration for Replies.
type RepliesConfig struct {
	Logger *slog.Logger
	Users  UserLookup
	Sender alerting.Sender
}

// Replies processes messages sent back by operators.
type Replies struct {
	logger *slog.Logger
	users  UserLookup
	sender alerting.Sender
}

// NewReplies creates a new Replies handler.
func NewReplies(cfg *RepliesConfig) (*Replies, error) {
	if cfg == nil {
		return nil, errors.New("replies config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Users == nil {
		return nil, errors.New("user lookup cannot be nil")
	}
	if cfg.Sender == nil {
		return nil, errors.New("sender cannot be nil")
	}
	return &Replies{
		logger: cfg.Logger.With("component", "whatsapp_replies"),
		users:  cfg.Users,
		sender: cfg.Sender,
	}, nil
}

// Handle records a confirmation from a known user and answers it.
// It reports whether the message was accepted as a confirmation.
func (r *Replies) Handle(ctx context.Context, phoneNumber, message string) (bool, error) {
	if !IsConfirmation(message) {
		return false, nil
	}

	user, err := r.users.UserByPhone(ctx, phoneNumber)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			r.logger.Info("confirmation from unknown number ignored", "phone_number", phoneNumber)
			return false, nil
		}
		return false, fmt.Errorf("lookup user: %w", err)
	}

	r.logger.Info("alert confirmation received",
		"user_id", user.ID,
		"username", user.Username,
		"message", strings.ToLower(strings.TrimSpace(message)))

	if err := r.sender.Send(ctx, phoneNumber, ReceiptMessage); err != nil {
		r.logger.Warn("failed to send receipt", "user_id", user.ID, "error", err)
	}
	return true, nil
}
