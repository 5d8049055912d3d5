package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/metrics"
)

func TestHealthHandler(t *testing.T) {
	hs := NewHealthServer(metrics.NewHealthChecker("storage"))

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{name: "GET request succeeds", method: http.MethodGet, expectedStatus: http.StatusOK},
		{name: "POST request fails", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{name: "DELETE request fails", method: http.MethodDelete, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()
			hs.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				var response metrics.HealthStatus
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Equal(t, metrics.StatusHealthy, response.Status)
				assert.NotZero(t, response.Timestamp)
			}
		})
	}
}

func TestReadyHandler_RunsChecks(t *testing.T) {
	checker := metrics.NewHealthChecker("storage", "registry")
	hs := NewHealthServer(checker)

	storageErr := errors.New("database is locked")
	hs.AddCheck("storage", func(context.Context) error { return storageErr })
	hs.AddCheck("registry", func(context.Context) error { return nil })

	w := httptest.NewRecorder()
	hs.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, metrics.StatusNotReady, response.Status)
	assert.Contains(t, response.Components["storage"], "database is locked")
	assert.Equal(t, metrics.StatusReady, response.Components["registry"])

	storageErr = nil
	w = httptest.NewRecorder()
	hs.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsAndLiveEndpoints(t *testing.T) {
	hs := NewHealthServer(metrics.NewHealthChecker())

	w := httptest.NewRecorder()
	hs.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	hs.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "relay_")
}
