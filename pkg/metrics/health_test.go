package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Set(t *testing.T) {
	h := NewHealthChecker()
	h.Set("registry", true, "running")

	comp, ok := h.Component("registry")
	require.True(t, ok)
	assert.True(t, comp.Healthy)
	assert.Equal(t, "running", comp.Message)
	assert.False(t, comp.Updated.IsZero())

	_, ok = h.Component("missing")
	assert.False(t, ok)
}

func TestHealthChecker_Health(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		h := NewHealthChecker()
		h.SetVersion("1.0.0")
		h.Set("api", true, "")
		h.Set("storage", true, "")

		st := h.Health()
		assert.Equal(t, StatusHealthy, st.Status)
		assert.Len(t, st.Components, 2)
		assert.Equal(t, "1.0.0", st.Version)
		assert.Empty(t, st.Message)
	})

	t.Run("one unhealthy", func(t *testing.T) {
		h := NewHealthChecker()
		h.Set("api", true, "")
		h.Set("storage", false, "database locked")

		st := h.Health()
		assert.Equal(t, StatusUnhealthy, st.Status)
		assert.Equal(t, "unhealthy: database locked", st.Components["storage"])
		assert.Equal(t, "unhealthy components: storage", st.Message)
	})

	t.Run("empty is healthy", func(t *testing.T) {
		assert.Equal(t, StatusHealthy, NewHealthChecker().Health().Status)
	})
}

func TestHealthChecker_Readiness(t *testing.T) {
	t.Run("all critical ready", func(t *testing.T) {
		h := NewHealthChecker()
		for _, c := range DefaultCriticalComponents {
			h.Set(c, true, "")
		}
		st := h.Readiness()
		assert.Equal(t, StatusReady, st.Status)
		assert.Empty(t, st.Message)
	})

	t.Run("unregistered critical component", func(t *testing.T) {
		h := NewHealthChecker()
		h.Set("api", true, "")
		h.Set("registry", true, "")

		st := h.Readiness()
		assert.Equal(t, StatusNotReady, st.Status)
		assert.Equal(t, "not registered", st.Components["storage"])
		assert.Equal(t, "waiting for storage", st.Message)
	})

	t.Run("unhealthy critical component", func(t *testing.T) {
		h := NewHealthChecker()
		h.Set("api", true, "")
		h.Set("registry", false, "loading")
		h.Set("storage", true, "")

		st := h.Readiness()
		assert.Equal(t, StatusNotReady, st.Status)
		assert.Equal(t, "not ready: loading", st.Components["registry"])
	})

	t.Run("custom critical set", func(t *testing.T) {
		h := NewHealthChecker("broadcast")
		h.Set("broadcast", true, "")
		assert.Equal(t, StatusReady, h.Readiness().Status)
	})

	t.Run("non critical failure does not block readiness", func(t *testing.T) {
		h := NewHealthChecker("api")
		h.Set("api", true, "")
		h.Set("broadcast", false, "kafka unreachable")
		assert.Equal(t, StatusReady, h.Readiness().Status)
		assert.Equal(t, StatusUnhealthy, h.Health().Status)
	})
}

func TestHealthChecker_Handlers(t *testing.T) {
	h := NewHealthChecker("api")

	rec := httptest.NewRecorder()
	h.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	h.Set("api", true, "")
	rec = httptest.NewRecorder()
	h.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, StatusReady, body.Status)

	h.Set("storage", false, "closed")
	rec = httptest.NewRecorder()
	h.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var live map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&live))
	assert.Equal(t, "alive", live["status"])
}
