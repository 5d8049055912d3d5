package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Overall and readiness states reported on /health and /ready
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// DefaultCriticalComponents must be registered and healthy before the
// coordinator reports ready.
var DefaultCriticalComponents = []string{"storage", "registry", "api"}

// HealthStatus is the JSON body served by the health endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker aggregates component health for a coordinator process
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   []string
	startTime  time.Time
	version    string
}

// NewHealthChecker creates a checker whose readiness depends on critical
func NewHealthChecker(critical ...string) *HealthChecker {
	if len(critical) == 0 {
		critical = DefaultCriticalComponents
	}
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		critical:   append([]string(nil), critical...),
		startTime:  time.Now(),
	}
}

var defaultChecker = NewHealthChecker()

// Default returns the process-wide health checker
func Default() *HealthChecker {
	return defaultChecker
}

// SetVersion sets the version string for health responses
func (h *HealthChecker) SetVersion(version string) {
	h.mu.Lock()
	h.version = version
	h.mu.Unlock()
}

// Set records the current health of a component
func (h *HealthChecker) Set(name string, healthy bool, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// Component returns the last recorded health of name
func (h *HealthChecker) Component(name string) (ComponentHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.components[name]
	return c, ok
}

// Health reports unhealthy when any registered component is unhealthy
func (h *HealthChecker) Health() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := StatusHealthy
	components := make(map[string]string, len(h.components))
	var failing []string
	for name, comp := range h.components {
		if comp.Healthy {
			components[name] = StatusHealthy
			continue
		}
		status = StatusUnhealthy
		components[name] = "unhealthy: " + comp.Message
		failing = append(failing, name)
	}

	message := ""
	if len(failing) > 0 {
		sort.Strings(failing)
		message = "unhealthy components: " + joinNames(failing)
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
	}
}

// Readiness reports ready only when every critical component is registered
// and healthy.
func (h *HealthChecker) Readiness() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := StatusReady
	message := ""
	components := make(map[string]string, len(h.critical))
	for _, name := range h.critical {
		comp, ok := h.components[name]
		switch {
		case !ok:
			components[name] = "not registered"
		case !comp.Healthy:
			components[name] = "not ready: " + comp.Message
		default:
			components[name] = StatusReady
			continue
		}
		if status == StatusReady {
			message = "waiting for " + name
		}
		status = StatusNotReady
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
	}
}

// HealthHandler serves /health, answering 503 when unhealthy
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := h.Health()
		code := http.StatusOK
		if st.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, st)
	}
}

// ReadyHandler serves /ready, answering 503 until ready
func (h *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := h.Readiness()
		code := http.StatusOK
		if st.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, st)
	}
}

// LivenessHandler always answers 200 while the process runs
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(h.startTime).Truncate(time.Second).String(),
		})
	}
}

// RegisterComponent records component health on the default checker
func RegisterComponent(name string, healthy bool, message string) {
	defaultChecker.Set(name, healthy, message)
}

// UpdateComponent is an alias of RegisterComponent
func UpdateComponent(name string, healthy bool, message string) {
	defaultChecker.Set(name, healthy, message)
}

// SetVersion sets the version on the default checker
func SetVersion(version string) {
	defaultChecker.SetVersion(version)
}

func writeStatus(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
