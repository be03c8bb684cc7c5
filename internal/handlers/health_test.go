package handlers_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/stretchr/testify/assert"
)

func TestHealthCheck(t *testing.T) {
	db := &handlers.MockDatabaseHealth{}
	handler := handlers.NewHealthHandler(db, testLogger)

	w := httptest.NewRecorder()
	handler.Check(w, httptest.NewRequest("GET", "/health", nil))
	var resp handlers.HealthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "up", resp.Database)

	db.Err = errors.New("connection refused")
	w = httptest.NewRecorder()
	handler.Check(w, httptest.NewRequest("GET", "/health", nil))
	resp = handlers.HealthResponse{}
	handlers.AssertJSONResponse(t, w, http.StatusServiceUnavailable, &resp)
	assert.Equal(t, "down", resp.Database)
	assert.NotContains(t, w.Body.String(), "connection refused")
}
