// internal/handler/bridge_handler.go
package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ser2tcp/internal/utils"
)

// BridgeHandler serves the bridge status snapshot
type BridgeHandler struct {
	status StatusProvider
	logger *utils.ServiceLogger
}

// NewBridgeHandler creates a new bridge handler
func NewBridgeHandler(status StatusProvider, logger *zap.Logger) *BridgeHandler {
	return &BridgeHandler{
		status: status,
		logger: utils.NewServiceLogger(logger, "bridge-handler"),
	}
}

// ListBridges returns every configured bridge with its servers and clients
func (h *BridgeHandler) ListBridges(c *gin.Context) {
	bridges := h.status.Status()
	utils.SuccessResponse(c, http.StatusOK, "Bridges retrieved successfully", gin.H{
		"bridges": bridges,
		"total":   len(bridges),
	})
}

// GetBridge returns a single bridge by id
func (h *BridgeHandler) GetBridge(c *gin.Context) {
	bridgeID := c.Param("bridge_id")

	for _, b := range h.status.Status() {
		if b.ID == bridgeID {
			utils.SuccessResponse(c, http.StatusOK, "Bridge retrieved successfully", b)
			return
		}
	}

	h.logger.Debug("Bridge not found", zap.String("bridge_id", bridgeID))
	utils.ErrorResponse(c, http.StatusNotFound, "Bridge not found", fmt.Errorf("no bridge with id %q", bridgeID))
}
