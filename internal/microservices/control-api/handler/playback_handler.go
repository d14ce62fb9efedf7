package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"twinbridge/internal/microservices/control-api/dto"
	"twinbridge/internal/microservices/control-api/service"

	"github.com/gin-gonic/gin"
)

type PlaybackHandler struct {
	playbackService service.PlaybackService
}

func NewPlaybackHandler(playbackService service.PlaybackService) *PlaybackHandler {
	return &PlaybackHandler{
		playbackService: playbackService,
	}
}

// RegisterRoutes registers the read-only routes on public and the mutating
// ones on protected (which may carry auth middleware)
func (h *PlaybackHandler) RegisterRoutes(public, protected *gin.RouterGroup) {
	public.GET("/playback", h.Status)

	protected.POST("/playback/start", h.Start)
	protected.POST("/playback/stop", h.Stop)
	protected.PUT("/playback/speed", h.SetSpeed)
	protected.PUT("/playback/loop", h.SetLoop)
	protected.POST("/channels/:index", h.FeedChannel)
}

// Status returns the scheduler and publisher state
// GET /api/v1/playback
func (h *PlaybackHandler) Status(c *gin.Context) {
	resp, err := h.playbackService.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Start replays the loaded trajectory from the beginning
// POST /api/v1/playback/start
func (h *PlaybackHandler) Start(c *gin.Context) {
	resp, err := h.playbackService.Start(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// POST /api/v1/playback/stop
func (h *PlaybackHandler) Stop(c *gin.Context) {
	resp, err := h.playbackService.Stop(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PUT /api/v1/playback/speed
func (h *PlaybackHandler) SetSpeed(c *gin.Context) {
	var req dto.SetSpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.playbackService.SetSpeed(c.Request.Context(), *req.Speed)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PUT /api/v1/playback/loop
func (h *PlaybackHandler) SetLoop(c *gin.Context) {
	var req dto.SetLoopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.playbackService.SetLoop(c.Request.Context(), *req.Loop)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// FeedChannel pushes one live angle through the publisher
// POST /api/v1/channels/:index
func (h *PlaybackHandler) FeedChannel(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid channel index"})
		return
	}

	var req dto.FeedChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.playbackService.FeedChannel(c.Request.Context(), index, *req.Angle)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidChannel):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNoTrajectory):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
