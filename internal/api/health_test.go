package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talefeed/talefeed/internal/netmon"
	"github.com/talefeed/talefeed/internal/store"
)

func TestHealthCheck(t *testing.T) {
	st, err := store.New(":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupHealthRoutes(router.Group("/api"), st, netmon.NewMonitor(nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"store":"healthy"`)
	assert.Contains(t, w.Body.String(), `"backend":"online"`)
}
