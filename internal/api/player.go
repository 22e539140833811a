package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/talefeed/talefeed/internal/logger"
	"github.com/talefeed/talefeed/internal/models"
	"github.com/talefeed/talefeed/internal/player"
)

// ErrorResponse represents an error returned by the control API
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Request/Response DTOs

// PlayTrackRequest represents a request to load and play a track
type PlayTrackRequest struct {
	TrackID      string `json:"track_id" binding:"required"`
	Title        string `json:"title,omitempty"`
	Album        string `json:"album,omitempty"`
	CoverArtPath string `json:"cover_art_path,omitempty"`
	AutoPlay     *bool  `json:"auto_play,omitempty"`
	Voice        string `json:"voice,omitempty"`
	TrackType    string `json:"track_type,omitempty"`
	AlbumID      string `json:"album_id,omitempty"`
}

// SeekRequest represents a relative or absolute seek
type SeekRequest struct {
	Delta    *float64 `json:"delta,omitempty"`
	Position *float64 `json:"position,omitempty"`
}

// SpeedRequest represents a playback rate change
type SpeedRequest struct {
	Rate float64 `json:"rate" binding:"required"`
}

// VolumeRequest represents a volume or mute change
type VolumeRequest struct {
	Volume float64 `json:"volume" binding:"gte=0,lte=1"`
	Muted  bool    `json:"muted"`
}

// WordSeekRequest represents a word-index precision seek
type WordSeekRequest struct {
	WordIndex int    `json:"word_index" binding:"gte=0"`
	Voice     string `json:"voice,omitempty"`
}

// MetadataRequest represents a display-metadata update
type MetadataRequest struct {
	Title        string `json:"title"`
	Album        string `json:"album"`
	CoverArtPath string `json:"cover_art_path"`
}

// SeekResponse reports the effective position after clamping
type SeekResponse struct {
	Position float64 `json:"position"`
}

// SpeedResponse reports the effective rate after clamping
type SpeedResponse struct {
	Rate float64 `json:"rate"`
}

// WordSeekResponse reports whether the word lookup succeeded
type WordSeekResponse struct {
	Found    bool    `json:"found"`
	Position float64 `json:"position,omitempty"`
}

// PlayerHandler handles playback control requests
type PlayerHandler struct {
	engine *player.Engine
}

// NewPlayerHandler creates a new player handler instance
func NewPlayerHandler(engine *player.Engine) *PlayerHandler {
	return &PlayerHandler{engine: engine}
}

// playbackErrorStatus maps a playback error to an HTTP status code
func playbackErrorStatus(err *player.PlaybackError) int {
	switch err.Type {
	case player.ErrorTypeAccessDenied, player.ErrorTypeAuthorization, player.ErrorTypeQuotaExceeded:
		return http.StatusForbidden
	case player.ErrorTypeContentNotReady:
		return http.StatusAccepted
	case player.ErrorTypeNetwork:
		return http.StatusBadGateway
	case player.ErrorTypeConfiguration:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *PlayerHandler) writeEngineError(c *gin.Context, err error) {
	if errors.Is(err, player.ErrNoTrackLoaded) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "no_track",
			Message: "No track is loaded",
		})
		return
	}

	var playbackErr *player.PlaybackError
	if errors.As(err, &playbackErr) {
		c.JSON(playbackErrorStatus(playbackErr), ErrorResponse{
			Error:   playbackErr.Type.String(),
			Message: playbackErr.Message,
		})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "Playback operation failed",
	})
}

// Status handles GET /api/player/status
func (h *PlayerHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Status())
}

// Play handles POST /api/player/play
func (h *PlayerHandler) Play(c *gin.Context) {
	var req PlayTrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	trackType := models.TrackType(req.TrackType)
	if req.TrackType != "" && !trackType.IsValid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_track_type",
			Message: "track_type must be \"audio\" or \"tts\"",
		})
		return
	}
	if req.TrackType == "" {
		trackType = models.TrackTypeAudio
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	err := h.engine.PlayTrack(ctx, player.PlayRequest{
		TrackID:      req.TrackID,
		Title:        req.Title,
		Album:        req.Album,
		CoverArtPath: req.CoverArtPath,
		AutoPlay:     req.AutoPlay,
		Voice:        req.Voice,
		TrackType:    trackType,
		AlbumID:      req.AlbumID,
	})
	if err != nil {
		logger.Log.Warn().
			Err(err).
			Str("track_id", req.TrackID).
			Msg("Play request failed")
		h.writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.engine.Status())
}

// Toggle handles POST /api/player/toggle
func (h *PlayerHandler) Toggle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := h.engine.TogglePlay(ctx); err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.engine.Status())
}

// Pause handles POST /api/player/pause
func (h *PlayerHandler) Pause(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := h.engine.Pause(ctx); err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.engine.Status())
}

// Resume handles POST /api/player/resume
func (h *PlayerHandler) Resume(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := h.engine.Resume(ctx); err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.engine.Status())
}

// Seek handles POST /api/player/seek. Exactly one of delta or position must
// be supplied.
func (h *PlayerHandler) Seek(c *gin.Context) {
	var req SeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}
	if (req.Delta == nil) == (req.Position == nil) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Provide exactly one of delta or position",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	var (
		position float64
		err      error
	)
	if req.Delta != nil {
		position, err = h.engine.Seek(ctx, *req.Delta)
	} else {
		position, err = h.engine.SeekTo(ctx, *req.Position)
	}
	if err != nil {
		h.writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, SeekResponse{Position: position})
}

// Speed handles POST /api/player/speed
func (h *PlayerHandler) Speed(c *gin.Context) {
	var req SpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	rate, err := h.engine.SetPlaybackSpeed(ctx, req.Rate)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, SpeedResponse{Rate: rate})
}

// Volume handles POST /api/player/volume
func (h *PlayerHandler) Volume(c *gin.Context) {
	var req VolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	h.engine.SetVolume(ctx, req.Volume, req.Muted)
	c.JSON(http.StatusOK, h.engine.Status())
}

// WordSeek handles POST /api/player/word-seek
func (h *PlayerHandler) WordSeek(c *gin.Context) {
	var req WordSeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	found := h.engine.SeekToWord(ctx, req.WordIndex, req.Voice)
	response := WordSeekResponse{Found: found}
	if found {
		response.Position = h.engine.Status().Position
	}
	c.JSON(http.StatusOK, response)
}

// Metadata handles PUT /api/player/metadata
func (h *PlayerHandler) Metadata(c *gin.Context) {
	var req MetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := h.engine.SetTrackMetadata(ctx, req.Title, req.Album, req.CoverArtPath); err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.engine.Status())
}

// Visibility handles POST /api/player/visibility-regained. Called by a
// control surface when it returns to the foreground.
func (h *PlayerHandler) Visibility(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	h.engine.VisibilityRegained(ctx)
	c.JSON(http.StatusOK, h.engine.Status())
}

// Close handles POST /api/player/close
func (h *PlayerHandler) Close(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := h.engine.Close(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "close_failed",
			Message: "Failed to close player",
		})
		return
	}
	c.JSON(http.StatusOK, h.engine.Status())
}

// SetupPlayerRoutes registers playback control routes
func SetupPlayerRoutes(apiGroup *gin.RouterGroup, engine *player.Engine) {
	handler := NewPlayerHandler(engine)

	playerGroup := apiGroup.Group("/player")
	{
		playerGroup.GET("/status", handler.Status)
		playerGroup.POST("/play", handler.Play)
		playerGroup.POST("/toggle", handler.Toggle)
		playerGroup.POST("/pause", handler.Pause)
		playerGroup.POST("/resume", handler.Resume)
		playerGroup.POST("/seek", handler.Seek)
		playerGroup.POST("/speed", handler.Speed)
		playerGroup.POST("/volume", handler.Volume)
		playerGroup.POST("/word-seek", handler.WordSeek)
		playerGroup.PUT("/metadata", handler.Metadata)
		playerGroup.POST("/visibility-regained", handler.Visibility)
		playerGroup.POST("/close", handler.Close)
	}
}
