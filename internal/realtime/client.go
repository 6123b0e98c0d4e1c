package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"procodus.dev/sewer-monitor/internal/alerting"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client actions sent over the socket.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// EventConnected is the first frame sent to a client. Its payload carries the client id.
const EventConnected = "connected"

// Command is a control frame read from a client.
type Command struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// Client is one websocket connection attached to the hub.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	id         string
	remoteAddr string

	mu     sync.Mutex
	topics map[string]struct{}
}

func newClient(h *Hub, conn *websocket.Conn, id string) *Client {
	c := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.clientBuf),
		id:         id,
		remoteAddr: conn.RemoteAddr().String(),
		topics:     map[string]struct{}{alerting.DashboardTopic: {}},
	}
	if hello, err := json.Marshal(Message{
		Timestamp: time.Now().UTC(),
		Payload:   map[string]string{"client_id": id},
		Topic:     alerting.DashboardTopic,
		Type:      EventConnected,
	}); err == nil {
		c.send <- hello
	}
	return c
}

func (c *Client) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *Client) apply(cmd Command) {
	if cmd.Topic == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd.Action {
	case ActionSubscribe:
		c.topics[cmd.Topic] = struct{}{}
	case ActionUnsubscribe:
		delete(c.topics, cmd.Topic)
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.hub.logger.Debug("ignoring malformed client frame", "client_id", c.id)
			continue
		}
		c.apply(cmd)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debug("websocket write failed", "client_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
