package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sewer-monitor/internal/alerting"
	"procodus.dev/sewer-monitor/internal/realtime"
	"procodus.dev/sewer-monitor/pkg/logger"
)

type frame struct {
	Payload map[string]any `json:"payload"`
	Topic   string         `json:"topic"`
	Type    string         `json:"type"`
}

var _ = Describe("Hub", func() {
	var (
		hub    *realtime.Hub
		server *httptest.Server
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		var err error
		hub, err = realtime.NewHub(&realtime.HubConfig{Logger: logger.Discard()})
		Expect(err).NotTo(HaveOccurred())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		go hub.Run(ctx)

		server = httptest.NewServer(http.HandlerFunc(hub.ServeWS))
		DeferCleanup(func() {
			cancel()
			server.Close()
		})
	})

	dial := func() *websocket.Conn {
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				Fail("close websocket: " + err.Error())
			}
		})
		return conn
	}

	read := func(conn *websocket.Conn) frame {
		Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
		_, data, err := conn.ReadMessage()
		Expect(err).NotTo(HaveOccurred())
		var f frame
		Expect(json.Unmarshal(data, &f)).To(Succeed())
		return f
	}

	It("should validate its config", func() {
		_, err := realtime.NewHub(&realtime.HubConfig{})
		Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
	})

	It("should greet clients with their id", func() {
		conn := dial()
		hello := read(conn)
		Expect(hello.Type).To(Equal(realtime.EventConnected))
		Expect(hello.Payload).To(HaveKey("client_id"))
		Eventually(hub.ClientCount).Should(Equal(1))
	})

	It("should broadcast dashboard events to every client", func() {
		a, b := dial(), dial()
		read(a)
		read(b)
		Eventually(hub.ClientCount).Should(Equal(2))

		hub.Publish(alerting.DashboardTopic, alerting.EventNewAlert, alerting.NewAlertEvent{ID: 7, SensorID: "S1"})

		for _, conn := range []*websocket.Conn{a, b} {
			f := read(conn)
			Expect(f.Topic).To(Equal(alerting.DashboardTopic))
			Expect(f.Type).To(Equal(alerting.EventNewAlert))
			Expect(f.Payload).To(HaveKeyWithValue("sensor_id", "S1"))
		}
	})

	It("should skip topics the client did not subscribe to", func() {
		conn := dial()
		read(conn)
		Eventually(hub.ClientCount).Should(Equal(1))

		hub.Publish("maintenance", "noise", nil)
		hub.Publish(alerting.DashboardTopic, alerting.EventAlertResolved, alerting.ResolvedEvent{ID: 1})

		Expect(read(conn).Type).To(Equal(alerting.EventAlertResolved))
	})

	It("should deliver topics after a subscribe command", func() {
		conn := dial()
		read(conn)
		Expect(conn.WriteJSON(realtime.Command{Action: realtime.ActionSubscribe, Topic: "maintenance"})).To(Succeed())

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			ticker := time.NewTicker(20 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					hub.Publish("maintenance", "inspection", nil)
				}
			}
		}()

		Expect(read(conn).Topic).To(Equal("maintenance"))
	})

	It("should forget clients that disconnect", func() {
		conn := dial()
		read(conn)
		Eventually(hub.ClientCount).Should(Equal(1))

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		Expect(conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))).To(Succeed())
		Expect(conn.Close()).To(Succeed())
		Eventually(hub.ClientCount).Should(Equal(0))
	})

	It("should not block publishers when nobody is running the hub", func() {
		idle, err := realtime.NewHub(&realtime.HubConfig{Logger: logger.Discard(), BroadcastBuffer: 1})
		Expect(err).NotTo(HaveOccurred())

		done := make(chan struct{})
		go func() {
			defer close(done)
			for range 10 {
				idle.Publish(alerting.DashboardTopic, alerting.EventSensorReading, nil)
			}
		}()
		Eventually(done).Should(BeClosed())
	})
})
