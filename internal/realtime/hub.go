// Package realtime fans dashboard events out to websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"procodus.dev/sewer-monitor/internal/alerting"
	"procodus.dev/sewer-monitor/pkg/metrics"
)

const (
	defaultBroadcastBuffer = 256
	defaultClientBuffer    = 64
)

// Message is the frame written to websocket clients.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
	Topic     string    `json:"topic"`
	Type      string    `json:"type"`
}

type envelope struct {
	topic string
	data  []byte
}

// HubConfig holds the configuration for the Hub.
type HubConfig struct {
	Logger          *slog.Logger
	Metrics         *metrics.RealtimeMetrics // Optional
	AllowedOrigins  []string                 // Empty allows every origin
	BroadcastBuffer int
	ClientBuffer    int
}

// Hub keeps the connected clients and broadcasts published events to the
// clients subscribed to the event topic.
type Hub struct {
	logger     *slog.Logger
	metrics    *metrics.RealtimeMetrics
	upgrader   websocket.Upgrader
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	done       chan struct{}
	clientBuf  int
	count      atomic.Int64
}

// NewHub creates a new Hub. Run must be called for events to be delivered.
func NewHub(cfg *HubConfig) (*Hub, error) {
	if cfg == nil {
		return nil, errors.New("hub config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	broadcastBuf := cfg.BroadcastBuffer
	if broadcastBuf <= 0 {
		broadcastBuf = defaultBroadcastBuffer
	}
	clientBuf := cfg.ClientBuffer
	if clientBuf <= 0 {
		clientBuf = defaultClientBuffer
	}

	h := &Hub{
		logger:     cfg.Logger.With("component", "realtime_hub"),
		metrics:    cfg.Metrics,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, broadcastBuf),
		done:       make(chan struct{}),
		clientBuf:  clientBuf,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h, nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Run processes registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.logger.Info("realtime hub started")

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
			if h.metrics != nil {
				h.metrics.ConnectedClients.Inc()
			}
			h.logger.Debug("client connected", "client_id", c.id, "remote_addr", c.remoteAddr)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debug("client disconnected", "client_id", c.id)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.subscribed(msg.topic) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("client send buffer full, disconnecting", "client_id", c.id)
					h.recordDrop()
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
	if h.metrics != nil {
		h.metrics.ConnectedClients.Dec()
	}
}

func (h *Hub) recordDrop() {
	if h.metrics != nil {
		h.metrics.DroppedMessages.Inc()
	}
}

// Publish implements alerting.Publisher. It never blocks: events are dropped
// when the broadcast buffer is full.
func (h *Hub) Publish(topic, eventType string, payload any) {
	data, err := json.Marshal(Message{
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Topic:     topic,
		Type:      eventType,
	})
	if err != nil {
		h.logger.Error("failed to encode event", "type", eventType, "error", err)
		return
	}

	select {
	case h.broadcast <- envelope{topic: topic, data: data}:
		if h.metrics != nil {
			h.metrics.EventsPublished.WithLabelValues(topic, eventType).Inc()
		}
	default:
		h.logger.Warn("broadcast buffer full, dropping event", "type", eventType)
		h.recordDrop()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// ServeWS upgrades the request and attaches a new client subscribed to the
// dashboard topic.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(h, conn, uuid.NewString())

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

var _ alerting.Publisher = (*Hub)(nil)
