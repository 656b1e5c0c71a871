// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"afterglow/internal/config"
	"afterglow/internal/relay"
	"afterglow/internal/serial"
	"afterglow/internal/utils"
)

// SerialState reports on the serial link
type SerialState interface {
	IsOpen() bool
	Stats() serial.Stats
	GetConfig() *serial.Config
}

// ConnectionLister lists the live client connections
type ConnectionLister interface {
	Connections() []string
}

// HealthHandler handles health and status requests
type HealthHandler struct {
	config    *config.Config
	status    StatusSource
	link      SerialState
	relay     ConnectionLister
	startedAt time.Time
	logger    *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(
	config *config.Config,
	status StatusSource,
	link SerialState,
	relay ConnectionLister,
	logger *zap.Logger,
) *HealthHandler {
	return &HealthHandler{
		config:    config,
		status:    status,
		link:      link,
		relay:     relay,
		startedAt: time.Now(),
		logger:    utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck reports serial and relay health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	serialCfg := h.link.GetConfig()
	serialData := map[string]interface{}{
		"path":      serialCfg.Path,
		"baud_rate": serialCfg.BaudRate,
	}
	if h.link.IsOpen() {
		health.Checks["serial"] = CheckResult{
			Status:  "healthy",
			Message: "Serial device open",
			Data:    serialData,
		}
	} else {
		health.Status = "unhealthy"
		health.Checks["serial"] = CheckResult{
			Status:  "unhealthy",
			Message: "Serial device closed",
			Data:    serialData,
		}
	}

	snap := h.status.Snapshot()
	health.Checks["relay"] = CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"active_connections": snap.ActiveConnections,
			"total_messages":     snap.TotalMessages,
		},
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// ReadinessCheck succeeds once the serial device is open
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if !h.link.IsOpen() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "serial device not open",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck succeeds while the process can respond
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// GetStatus returns the relay activity and serial counters
func (h *HealthHandler) GetStatus(c *gin.Context) {
	snap := h.status.Snapshot()
	status := relay.StatusOf(snap, time.Now())

	response := &StatusResponse{
		ActiveConnections: status.ActiveConnections,
		TotalMessages:     status.TotalMessages,
		LastMessageAt:     snap.LastMessageAt,
		Summary:           FormatStatus(status, h.config.Status.StaleAfter),
		Serial:            h.link.Stats(),
	}
	if status.HasMessages {
		response.LastMessageAgeMs = status.LastMessageAge.Milliseconds()
	}

	utils.SuccessResponse(c, http.StatusOK, "Relay status", response)
}

// ListConnections returns the live client connections
func (h *HealthHandler) ListConnections(c *gin.Context) {
	connections := h.relay.Connections()

	utils.SuccessResponse(c, http.StatusOK, "Live connections", gin.H{
		"connections": connections,
		"count":       len(connections),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// StatusResponse is the body of the status endpoint
type StatusResponse struct {
	ActiveConnections int          `json:"active_connections"`
	TotalMessages     uint64       `json:"total_messages"`
	LastMessageAt     time.Time    `json:"last_message_at"`
	LastMessageAgeMs  int64        `json:"last_message_age_ms,omitempty"`
	Summary           string       `json:"summary"`
	Serial            serial.Stats `json:"serial"`
}
