package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/talefeed/talefeed/internal/backend"
	"github.com/talefeed/talefeed/internal/download"
)

// StartDownloadRequest represents a request to download a track for offline use
type StartDownloadRequest struct {
	TrackID string `json:"track_id" binding:"required"`
	VoiceID string `json:"voice_id,omitempty"`
	AlbumID string `json:"album_id,omitempty"`
}

// DownloadListResponse represents active download jobs
type DownloadListResponse struct {
	Jobs []download.Job `json:"jobs"`
}

// DownloadHandler handles offline download requests
type DownloadHandler struct {
	orchestrator *download.Orchestrator
}

// NewDownloadHandler creates a new download handler instance
func NewDownloadHandler(orchestrator *download.Orchestrator) *DownloadHandler {
	return &DownloadHandler{orchestrator: orchestrator}
}

// Start handles POST /api/downloads
func (h *DownloadHandler) Start(c *gin.Context) {
	var req StartDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	job, err := h.orchestrator.StartDownload(ctx, req.TrackID, req.VoiceID, req.AlbumID)
	if err != nil {
		if errors.Is(err, download.ErrDownloadInProgress) {
			// Not a failure: report the job already running for the pair
			c.JSON(http.StatusOK, job)
			return
		}

		var quotaErr *backend.QuotaError
		if errors.As(err, &quotaErr) {
			c.JSON(http.StatusForbidden, ErrorResponse{
				Error:   "quota_exceeded",
				Message: quotaErr.Error(),
			})
			return
		}

		if errors.Is(err, download.ErrAccessDenied) {
			// The error carries the server's denial text
			c.JSON(http.StatusForbidden, ErrorResponse{
				Error:   "access_denied",
				Message: err.Error(),
			})
			return
		}

		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "download_failed",
			Message: "Failed to start download",
		})
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// Status handles GET /api/downloads/:trackId
func (h *DownloadHandler) Status(c *gin.Context) {
	trackID := c.Param("trackId")
	voiceID := c.Query("voice")

	job, ok := h.orchestrator.Status(trackID, voiceID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "No active download for this track",
		})
		return
	}
	c.JSON(http.StatusOK, job)
}

// List handles GET /api/downloads
func (h *DownloadHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, DownloadListResponse{Jobs: h.orchestrator.Jobs()})
}

// SetupDownloadRoutes registers download routes
func SetupDownloadRoutes(apiGroup *gin.RouterGroup, orchestrator *download.Orchestrator) {
	handler := NewDownloadHandler(orchestrator)

	downloadGroup := apiGroup.Group("/downloads")
	{
		downloadGroup.POST("", handler.Start)
		downloadGroup.GET("", handler.List)
		downloadGroup.GET("/:trackId", handler.Status)
	}
}
