// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ser2tcp/internal/config"
	"ser2tcp/internal/model"
	"ser2tcp/internal/utils"
)

// StatusProvider exposes the last published bridge snapshot
type StatusProvider interface {
	Status() []model.BridgeStatus
	Running() bool
}

// HealthHandler handles health check requests
type HealthHandler struct {
	status    StatusProvider
	config    *config.Config
	startedAt time.Time
	logger    *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(status StatusProvider, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		status:    status,
		config:    config,
		startedAt: time.Now(),
		logger:    utils.NewServiceLogger(logger, "health-handler"),
	}
}

// HealthCheck performs general health check
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	if h.status.Running() {
		health.Checks["dispatcher"] = CheckResult{
			Status:  "healthy",
			Message: "Dispatcher running",
		}
	} else {
		health.Status = "unhealthy"
		health.Checks["dispatcher"] = CheckResult{
			Status:  "unhealthy",
			Message: "Dispatcher not running",
		}
	}

	bridges := h.status.Status()
	connected, clients := 0, 0
	for _, b := range bridges {
		if b.DeviceState == model.DeviceStateConnected {
			connected++
		}
		clients += b.ConnectionCount()
	}
	health.Checks["bridges"] = CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"configured":        len(bridges),
			"devices_connected": connected,
			"clients":           clients,
		},
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// ReadinessCheck reports ready once the dispatcher loop is running
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if !h.status.Running() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "dispatcher not running",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck reports the process is alive
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
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
