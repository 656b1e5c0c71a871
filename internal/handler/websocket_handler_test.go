package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"afterglow/internal/relay"
)

var _ = Describe("WebSocketHandler", func() {
	var (
		bus     *EventBus
		tracker *relay.ActivityTracker
		handler *WebSocketHandler
		server  *httptest.Server
		conn    *websocket.Conn
		cancel  context.CancelFunc
	)

	BeforeEach(func() {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())

		bus = NewEventBus(zap.NewNop())
		go bus.Start(ctx)

		tracker = relay.NewActivityTracker()
		tracker.SetActiveConnections(1)

		handler = NewWebSocketHandler(bus, tracker, zap.NewNop())
		router := gin.New()
		handler.RegisterRoutes(router.Group("/ws"))
		server = httptest.NewServer(router)

		var err error
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events"
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		conn.Close()
		server.Close()
		cancel()
	})

	read := func() WebSocketMessage {
		var message WebSocketMessage
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		Expect(conn.ReadJSON(&message)).To(Succeed())
		return message
	}

	It("should greet clients with the current status", func() {
		message := read()
		Expect(message.Type).To(Equal(EventStatus))
		Expect(message.Data).To(HaveKeyWithValue("active_connections", BeNumerically("==", 1)))
		Eventually(func() int { return handler.GetClientStats().TotalConnections }).Should(Equal(1))
	})

	It("should stream relay events", func() {
		read()

		bus.Connected("10.0.0.7", 6001)

		message := read()
		Expect(message.Type).To(Equal(EventConnected))
		Expect(message.Data).To(HaveKeyWithValue("address", "10.0.0.7"))
		Expect(message.Data).To(HaveKeyWithValue("port", BeNumerically("==", 6001)))
	})

	It("should answer ping and status requests", func() {
		read()

		Expect(conn.WriteJSON(WebSocketMessage{Type: "ping", RequestID: "r1"})).To(Succeed())
		message := read()
		Expect(message.Type).To(Equal("pong"))
		Expect(message.RequestID).To(Equal("r1"))

		Expect(conn.WriteJSON(WebSocketMessage{Type: "status", RequestID: "r2"})).To(Succeed())
		message = read()
		Expect(message.Type).To(Equal(EventStatus))
		Expect(message.RequestID).To(Equal("r2"))
	})

	It("should reject commands", func() {
		read()

		Expect(conn.WriteJSON(WebSocketMessage{Type: "write", Data: map[string]interface{}{"channel": 1}})).To(Succeed())
		message := read()
		Expect(message.Type).To(Equal("error"))
	})

	It("should unregister clients that disconnect", func() {
		read()
		Eventually(func() int { return handler.GetClientStats().TotalConnections }).Should(Equal(1))

		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()

		Eventually(func() int { return handler.GetClientStats().TotalConnections }).Should(BeZero())
	})
})
