package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/relay/pkg/metrics"
)

// ReadinessCheck probes one component; a nil error means ready
type ReadinessCheck func(ctx context.Context) error

// HealthServer serves /health, /ready, /live and /metrics over HTTP
type HealthServer struct {
	checker *metrics.HealthChecker
	mux     *http.ServeMux
	server  *http.Server

	mu     sync.RWMutex
	checks map[string]ReadinessCheck
}

// NewHealthServer creates the HTTP health server. A nil checker uses
// metrics.Default().
func NewHealthServer(checker *metrics.HealthChecker) *HealthServer {
	if checker == nil {
		checker = metrics.Default()
	}
	mux := http.NewServeMux()
	hs := &HealthServer{
		checker: checker,
		mux:     mux,
		checks:  make(map[string]ReadinessCheck),
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/live", checker.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// AddCheck runs check on every /ready request and records the result as
// the health of component name
func (hs *HealthServer) AddCheck(name string, check ReadinessCheck) {
	hs.mu.Lock()
	hs.checks[name] = check
	hs.mu.Unlock()
}

// Start serves on addr until Shutdown
func (hs *HealthServer) Start(addr string) error {
	hs.server = &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	err := hs.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) Handler() http.Handler {
	return hs.mux
}

func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hs.checker.HealthHandler()(w, r)
}

func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hs.runChecks(r.Context())
	hs.checker.ReadyHandler()(w, r)
}

func (hs *HealthServer) runChecks(ctx context.Context) {
	hs.mu.RLock()
	names := make([]string, 0, len(hs.checks))
	for name := range hs.checks {
		names = append(names, name)
	}
	hs.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for _, name := range names {
		hs.mu.RLock()
		check := hs.checks[name]
		hs.mu.RUnlock()
		if err := check(ctx); err != nil {
			hs.checker.Set(name, false, err.Error())
			continue
		}
		hs.checker.Set(name, true, "")
	}
}
