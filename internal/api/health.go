package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/talefeed/talefeed/internal/netmon"
	"github.com/talefeed/talefeed/internal/store"
)

// HealthResponse represents the response from the health check endpoint
type HealthResponse struct {
	Status  string                 `json:"status"`
	Store   string                 `json:"store"`
	Backend string                 `json:"backend"`
	Time    string                 `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthHandler handles health check requests
type HealthHandler struct {
	store   *store.Store
	monitor *netmon.Monitor
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(st *store.Store, monitor *netmon.Monitor) *HealthHandler {
	return &HealthHandler{store: st, monitor: monitor}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:  "ok",
		Backend: "offline",
		Time:    time.Now().UTC().Format(time.RFC3339),
		Details: make(map[string]interface{}),
	}
	if h.monitor.Online() {
		response.Backend = "online"
	}

	if err := h.store.Health(ctx); err != nil {
		response.Status = "degraded"
		response.Store = "unhealthy"
		response.Details["store_error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response.Store = "healthy"
	c.JSON(http.StatusOK, response)
}

// SetupHealthRoutes registers health check routes
func SetupHealthRoutes(apiGroup *gin.RouterGroup, st *store.Store, monitor *netmon.Monitor) {
	handler := NewHealthHandler(st, monitor)
	apiGroup.GET("/health", handler.Check)
}
