package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"afterglow/internal/config"
	"afterglow/internal/relay"
	"afterglow/internal/serial"
	"afterglow/internal/utils"
)

type fakeLink struct {
	open  bool
	stats serial.Stats
}

func (l *fakeLink) IsOpen() bool        { return l.open }
func (l *fakeLink) Stats() serial.Stats { return l.stats }
func (l *fakeLink) GetConfig() *serial.Config {
	return &serial.Config{Path: "/dev/ttyUSB0", BaudRate: 9600}
}

type fakeConnections []string

func (f fakeConnections) Connections() []string { return f }

var _ = Describe("HealthHandler", func() {
	var (
		cfg     *config.Config
		tracker *relay.ActivityTracker
		link    *fakeLink
		router  *gin.Engine
	)

	BeforeEach(func() {
		cfg = &config.Config{
			App:    config.AppConfig{Name: "afterglow", Version: "1.2.3"},
			Status: config.StatusConfig{StaleAfter: 5 * time.Second},
		}
		tracker = relay.NewActivityTracker()
		link = &fakeLink{open: true, stats: serial.Stats{FramesWritten: 3, BytesWritten: 12, IsOpen: true}}

		h := NewHealthHandler(cfg, tracker, link, fakeConnections{"127.0.0.1:5000", "127.0.0.1:5001"}, zap.NewNop())
		router = gin.New()
		h.RegisterRoutes(router.Group(""))
		router.GET("/api/v1/status", h.GetStatus)
		router.GET("/api/v1/connections", h.ListConnections)
	})

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(w, req)
		return w
	}

	Describe("/health", func() {
		It("should report healthy while the serial device is open", func() {
			w := get("/health")
			Expect(w.Code).To(Equal(http.StatusOK))

			var body HealthResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Status).To(Equal("healthy"))
			Expect(body.Service).To(Equal("afterglow"))
			Expect(body.Version).To(Equal("1.2.3"))
			Expect(body.Checks).To(HaveKey("serial"))
			Expect(body.Checks["serial"].Data).To(HaveKeyWithValue("path", "/dev/ttyUSB0"))
			Expect(body.Checks).To(HaveKey("relay"))
		})

		It("should report unhealthy once the serial device is closed", func() {
			link.open = false

			w := get("/health")
			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))

			var body HealthResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Status).To(Equal("unhealthy"))
			Expect(body.Checks["serial"].Status).To(Equal("unhealthy"))
		})
	})

	Describe("/ready and /live", func() {
		It("should be ready only with an open serial device", func() {
			Expect(get("/ready").Code).To(Equal(http.StatusOK))

			link.open = false
			Expect(get("/ready").Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("should always be alive", func() {
			link.open = false
			Expect(get("/live").Code).To(Equal(http.StatusOK))
		})
	})

	Describe("/api/v1/status", func() {
		It("should return the activity snapshot and serial counters", func() {
			tracker.SetActiveConnections(2)
			tracker.AddMessages(4)
			tracker.Touch()

			w := get("/api/v1/status")
			Expect(w.Code).To(Equal(http.StatusOK))

			var body struct {
				utils.APIResponse
				Data StatusResponse `json:"data"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Success).To(BeTrue())
			Expect(body.Data.ActiveConnections).To(Equal(2))
			Expect(body.Data.TotalMessages).To(Equal(uint64(4)))
			Expect(body.Data.Summary).To(Equal("2 Sockets, 4 Packages"))
			Expect(body.Data.Serial.FramesWritten).To(Equal(int64(3)))
			Expect(body.Data.LastMessageAt.IsZero()).To(BeFalse())
		})
	})

	Describe("/api/v1/connections", func() {
		It("should list the live connections", func() {
			w := get("/api/v1/connections")
			Expect(w.Code).To(Equal(http.StatusOK))

			var body struct {
				Data struct {
					Connections []string `json:"connections"`
					Count       int      `json:"count"`
				} `json:"data"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Data.Connections).To(Equal([]string{"127.0.0.1:5000", "127.0.0.1:5001"}))
			Expect(body.Data.Count).To(Equal(2))
		})
	})
})
