// internal/handler/port_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ser2tcp/internal/protocol/serial"
	"ser2tcp/internal/utils"
)

// PortLister enumerates serial ports on the host
type PortLister func() ([]serial.PortInfo, error)

// PortHandler lists serial devices available for bridging
type PortHandler struct {
	list   PortLister
	logger *utils.ServiceLogger
}

// NewPortHandler creates a new port handler. A nil lister uses serial.ListPorts.
func NewPortHandler(list PortLister, logger *zap.Logger) *PortHandler {
	if list == nil {
		list = serial.ListPorts
	}
	return &PortHandler{
		list:   list,
		logger: utils.NewServiceLogger(logger, "port-handler"),
	}
}

// ListPorts scans the host for serial ports
func (h *PortHandler) ListPorts(c *gin.Context) {
	ports, err := h.list()
	if err != nil {
		h.logger.Error("Failed to list serial ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list serial ports", err)
		return
	}
	if ports == nil {
		ports = []serial.PortInfo{}
	}

	utils.SuccessResponse(c, http.StatusOK, "Serial ports retrieved", gin.H{
		"ports_found": len(ports),
		"ports":       ports,
	})
}
