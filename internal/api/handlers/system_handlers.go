package handlers

import (
	"net/http"

	"media-analyzer-go/internal/core/pubsub"
	"media-analyzer-go/internal/utils"

	"github.com/gin-gonic/gin"
)

// SystemHandler serves system-level status information.
type SystemHandler struct {
	connection *pubsub.Value[bool]
}

// NewSystemHandler creates the handler. connection is the realtime channel's
// connection-status signal.
func NewSystemHandler(connection *pubsub.Value[bool]) *SystemHandler {
	return &SystemHandler{connection: connection}
}

// RegisterRoutes registers the system routes.
func (h *SystemHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/status", h.GetStatus)
}

// GetStatus returns host stats and the realtime connection state.
func (h *SystemHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"system":             utils.CollectSystemStats(),
		"realtime_connected": h.connection.Get(),
	})
}
