// Package gateway delivers text notifications to phone numbers through the
// WhatsApp Business Cloud API, or simulates delivery when it is not configured.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"procodus.dev/sewer-monitor/internal/alerting"
)

// DefaultAPIURL is the Cloud API base used when none is configured.
const DefaultAPIURL = "https://graph.facebook.com/v19.0"

// Config holds the gateway configuration.
type Config struct {
	Logger        *slog.Logger
	HTTPClient    *http.Client // Optional
	APIURL        string
	Token         string
	PhoneNumberID string
	Enabled       bool
	Timeout       time.Duration // HTTP client timeout when HTTPClient is nil (defaults to 10s)
}

// Status describes how the gateway is set up, without exposing secrets.
type Status struct {
	APIURL     string `json:"api_url"`
	Enabled    bool   `json:"enabled"`
	Simulated  bool   `json:"simulated"`
	HasToken   bool   `json:"has_token"`
	HasPhoneID bool   `json:"has_phone_id"`
}

// Status reports the effective gateway mode.
func (c *Config) Status() Status {
	return Status{
		APIURL:     c.apiURL(),
		Enabled:    c.Enabled,
		Simulated:  c.simulated(),
		HasToken:   c.Token != "",
		HasPhoneID: c.PhoneNumberID != "",
	}
}

func (c *Config) simulated() bool {
	return !c.Enabled || c.Token == "" || c.PhoneNumberID == ""
}

func (c *Config) apiURL() string {
	if c.APIURL == "" {
		return DefaultAPIURL
	}
	return strings.TrimRight(c.APIURL, "/")
}

// New returns a live sender, or a simulated one when sending is disabled or
// credentials are missing.
func New(cfg *Config) (alerting.Sender, error) {
	if cfg == nil {
		return nil, errors.New("gateway config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.simulated() {
		if cfg.Enabled {
			cfg.Logger.Warn("whatsapp enabled without credentials, falling back to simulated sends",
				"has_token", cfg.Token != "",
				"has_phone_id", cfg.PhoneNumberID != "")
		}
		return NewSimulatedSender(cfg.Logger), nil
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &WhatsAppSender{
		logger:   cfg.Logger.With("component", "whatsapp"),
		client:   client,
		endpoint: fmt.Sprintf("%s/%s/messages", cfg.apiURL(), cfg.PhoneNumberID),
		token:    cfg.Token,
	}, nil
}

// WhatsAppSender posts text messages to the Cloud API.
type WhatsAppSender struct {
	logger   *slog.Logger
	client   *http.Client
	endpoint string
	token    string
}

type textMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// Send implements alerting.Sender. Any non-2xx response is an error.
func (s *WhatsAppSender) Send(ctx context.Context, phoneNumber, message string) error {
	payload, err := json.Marshal(textMessage{
		MessagingProduct: "whatsapp",
		To:               phoneNumber,
		Type:             "text",
		Text:             textBody{Body: message},
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send to %s: %w", phoneNumber, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	s.logger.Debug("message delivered", "to", phoneNumber)
	return nil
}

// SimulatedSender logs messages instead of sending them. It always succeeds.
type SimulatedSender struct {
	logger *slog.Logger
}

// NewSimulatedSender creates a SimulatedSender.
func NewSimulatedSender(logger *slog.Logger) *SimulatedSender {
	return &SimulatedSender{logger: logger.With("component", "whatsapp", "simulated", true)}
}

// Send implements alerting.Sender.
func (s *SimulatedSender) Send(_ context.Context, phoneNumber, message string) error {
	preview := message
	if r := []rune(preview); len(r) > 50 {
		preview = string(r[:50]) + "..."
	}
	s.logger.Info("simulated whatsapp send", "to", phoneNumber, "preview", preview)
	return nil
}

var (
	_ alerting.Sender = (*WhatsAppSender)(nil)
	_ alerting.Sender = (*SimulatedSender)(nil)
)
