package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"media-analyzer-go/internal/analysis"
	"media-analyzer-go/internal/integrations/registry"
	"media-analyzer-go/internal/overlay"
	"media-analyzer-go/internal/server/sse"
	"media-analyzer-go/internal/session"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SnapshotSurface is a render surface that can export its current content.
type SnapshotSurface interface {
	EncodePNG() ([]byte, error)
}

// DashboardHandler serves the operator-facing control API.
type DashboardHandler struct {
	manager    *session.Manager
	aggregator *analysis.Aggregator
	renderer   *overlay.Renderer
	surface    SnapshotSurface
	hub        *sse.Hub
}

// NewDashboardHandler creates the handler with its collaborators.
func NewDashboardHandler(manager *session.Manager, aggregator *analysis.Aggregator, renderer *overlay.Renderer, surface SnapshotSurface, hub *sse.Hub) *DashboardHandler {
	return &DashboardHandler{
		manager:    manager,
		aggregator: aggregator,
		renderer:   renderer,
		surface:    surface,
		hub:        hub,
	}
}

// RegisterRoutes registers all dashboard API routes.
func (h *DashboardHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/streams", h.ListStreams)
	router.POST("/streams", h.CreateStream)
	router.DELETE("/streams/:id", h.DeleteStream)
	router.GET("/streams/active", h.DiscoverActive)
	router.POST("/streams/webcam/start", h.StartWebcam)
	router.POST("/streams/:id/start", h.StartRtmp)
	router.POST("/streams/stop", h.StopStream)

	router.GET("/state", h.GetState)
	router.DELETE("/state/error", h.ClearError)
	router.GET("/events", h.Events)

	router.GET("/overlay/snapshot.png", h.OverlaySnapshot)
	router.PUT("/overlay/visibility", h.SetOverlayVisibility)
}

// ListStreams refreshes and returns the known stream sources.
func (h *DashboardHandler) ListStreams(c *gin.Context) {
	h.manager.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"streams": h.manager.State().Get().Streams})
}

type createStreamRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateStream registers a new RTMP source. It is not auto-selected.
func (h *DashboardHandler) CreateStream(c *gin.Context) {
	var req createStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	stream, err := h.manager.CreateRtmpSource(c.Request.Context(), req.Name)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, stream)
}

// DeleteStream removes a source. Deleting the active source is rejected;
// the id-to-key mapping comes from the current stream list.
func (h *DashboardHandler) DeleteStream(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return
	}

	if current := h.manager.CurrentSession(); current != nil {
		for _, s := range h.manager.State().Get().Streams {
			if s.ID == id && s.StreamKey == current.StreamKey {
				c.JSON(http.StatusConflict, gin.H{"error": "cannot delete the active stream source"})
				return
			}
		}
	}

	if err := h.manager.DeleteSource(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "stream deleted"})
}

// DiscoverActive is the legacy fallback: find a backend-side active stream,
// retrying briefly.
func (h *DashboardHandler) DiscoverActive(c *gin.Context) {
	stream, err := h.manager.DiscoverActive(c.Request.Context())
	if err != nil {
		if errors.Is(err, session.ErrNoActiveStream) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active stream"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stream)
}

// StartWebcam starts the webcam source and activates a session for it.
func (h *DashboardHandler) StartWebcam(c *gin.Context) {
	if err := h.manager.StartWebcam(c.Request.Context()); err != nil {
		h.startError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.manager.State().Get())
}

// StartRtmp starts ingestion for a stream key and activates a session.
func (h *DashboardHandler) StartRtmp(c *gin.Context) {
	streamKey := c.Param("id")
	if err := h.manager.StartRtmp(c.Request.Context(), streamKey); err != nil {
		h.startError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.manager.State().Get())
}

// StopStream stops the current session. Stopping without one is a no-op.
func (h *DashboardHandler) StopStream(c *gin.Context) {
	if err := h.manager.StopCurrent(c.Request.Context()); err != nil {
		// The local session is cleared even when the backend stop failed;
		// report the error alongside the now-idle state.
		c.JSON(http.StatusBadGateway, h.manager.State().Get())
		return
	}
	c.JSON(http.StatusOK, h.manager.State().Get())
}

// GetState returns the full dashboard state snapshot.
func (h *DashboardHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session":    h.manager.State().Get(),
		"detections": h.aggregator.Detections().Get(),
		"visual":     h.aggregator.Visual().Get(),
		"recent":     h.aggregator.Recent().Get(),
		"overlay":    gin.H{"visible": h.renderer.Visible()},
	})
}

// ClearError clears the session error side-channel.
func (h *DashboardHandler) ClearError(c *gin.Context) {
	h.manager.ClearError()
	c.JSON(http.StatusOK, gin.H{"message": "error cleared"})
}

// Events streams analysis and session updates to the browser over SSE.
func (h *DashboardHandler) Events(c *gin.Context) {
	client := make(sse.Client, 10)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent("message", string(msg))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// OverlaySnapshot returns the current overlay rendering as a PNG.
func (h *DashboardHandler) OverlaySnapshot(c *gin.Context) {
	data, err := h.surface.EncodePNG()
	if err != nil {
		log.Errorf("Failed to encode overlay snapshot: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode overlay snapshot"})
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

type visibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

// SetOverlayVisibility toggles overlay drawing.
func (h *DashboardHandler) SetOverlayVisibility(c *gin.Context) {
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "visible is required"})
		return
	}

	h.renderer.SetVisible(*req.Visible)
	c.JSON(http.StatusOK, gin.H{"visible": h.renderer.Visible()})
}

// startError maps a failed start to an HTTP response, preserving the
// backend's 409 conflict semantics for the operator.
func (h *DashboardHandler) startError(c *gin.Context, err error) {
	state := h.manager.State().Get()
	status := http.StatusBadGateway
	if registry.IsConflict(err) {
		status = http.StatusConflict
	}
	c.JSON(status, state)
}
