package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/relay/pkg/types"
)

// MetadataHealthURL lets an instance ask to be probed over HTTP instead of TCP
const MetadataHealthURL = "relay.health-url"

// Result is the outcome of one probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one endpoint
type Checker interface {
	Check(ctx context.Context) Result
}

// ProbeConfig controls active probing
type ProbeConfig struct {
	Timeout time.Duration
	// Retries is the number of consecutive failures before an instance is
	// reported unhealthy
	Retries int
	// StartPeriod is the grace period after an instance is first seen
	StartPeriod time.Duration
}

// DefaultProbeConfig returns the default probing policy
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Timeout: 2 * time.Second,
		Retries: 3,
	}
}

// Status accumulates consecutive probe results for one instance
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastResult           Result
	Healthy              bool
	StartedAt            time.Time
}

// NewStatus starts out healthy
func NewStatus() *Status {
	return &Status{Healthy: true, StartedAt: time.Now()}
}

// Update folds a result into the status
func (s *Status) Update(r Result, cfg ProbeConfig) {
	s.LastResult = r
	if r.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}
	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= cfg.Retries {
		s.Healthy = false
	}
}

// InStartPeriod reports whether failures are still being ignored
func (s *Status) InStartPeriod(cfg ProbeConfig) bool {
	return cfg.StartPeriod > 0 && time.Since(s.StartedAt) < cfg.StartPeriod
}

// TCPChecker dials an address
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	d := &net.Dialer{Timeout: t.Timeout}
	conn, err := d.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{Message: fmt.Sprintf("connection failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	conn.Close()
	return Result{Healthy: true, Message: "tcp ok", CheckedAt: start, Duration: time.Since(start)}
}

// HTTPChecker issues a GET and expects a 2xx or 3xx answer
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{Message: fmt.Sprintf("failed to create request: %v", err), CheckedAt: start}
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{Message: fmt.Sprintf("request failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	resp.Body.Close()
	healthy := resp.StatusCode >= 200 && resp.StatusCode < 400
	return Result{
		Healthy:   healthy,
		Message:   fmt.Sprintf("HTTP %d", resp.StatusCode),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Prober actively checks instances and keeps a Status per instance
type Prober struct {
	cfg      ProbeConfig
	client   *http.Client
	statuses sync.Map // instanceID -> *probeState
	// NewChecker builds the checker for an instance; replaceable in tests
	NewChecker func(inst types.ServiceInstance) Checker
}

type probeState struct {
	mu     sync.Mutex
	status *Status
}

// NewProber creates a prober
func NewProber(cfg ProbeConfig) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProbeConfig().Timeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultProbeConfig().Retries
	}
	p := &Prober{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
	p.NewChecker = p.defaultChecker
	return p
}

func (p *Prober) defaultChecker(inst types.ServiceInstance) Checker {
	if url := inst.Metadata[MetadataHealthURL]; url != "" {
		return &HTTPChecker{URL: url, Client: p.client}
	}
	return &TCPChecker{Address: inst.Address(), Timeout: p.cfg.Timeout}
}

// Probe checks inst once and reports whether it is still considered healthy
func (p *Prober) Probe(ctx context.Context, inst types.ServiceInstance) (bool, Result) {
	v, _ := p.statuses.LoadOrStore(inst.InstanceID, &probeState{status: NewStatus()})
	st := v.(*probeState)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	res := p.NewChecker(inst).Check(ctx)

	st.mu.Lock()
	defer st.mu.Unlock()
	if !res.Healthy && st.status.InStartPeriod(p.cfg) {
		return true, res
	}
	st.status.Update(res, p.cfg)
	return st.status.Healthy, res
}

// Forget drops the accumulated status of an instance
func (p *Prober) Forget(instanceID string) {
	p.statuses.Delete(instanceID)
}
