package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ios-xr/iosxrv-x64-vbox/internal/config"
	"github.com/ios-xr/iosxrv-x64-vbox/internal/service"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.Load("")
	require.NoError(t, err)

	h := NewBuildHandler(service.NewBuilderService(cfg, nil))
	r := gin.New()
	r.POST("/api/v1/builds", h.StartBuild)
	r.GET("/api/v1/health", h.Health)
	return r
}

func TestStartBuildRejectsMissingISO(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/builds", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_PARAMS")
}

func TestStartBuildRejectsUnreadableISO(t *testing.T) {
	r := newTestRouter(t)

	body := `{"iso_path": "/nonexistent/iosxrv-fullk9-x64.iso"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/builds", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "SUBMIT_FAILED")
}

func TestHealthWithoutDatabase(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
