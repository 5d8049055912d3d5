package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/relay/pkg/health"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/types"
)

// Registry is the registry surface the sweeper needs
type Registry interface {
	List() []types.ServiceInstance
	MarkStatus(instanceID string, status types.InstanceStatus) bool
	DeregisterIfStale(instanceID string, cutoff time.Time) bool
}

// Redeliverer replays dead-lettered broadcast forwards
type Redeliverer interface {
	RedeliverDeadLetters(ctx context.Context) (int, error)
}

// Config controls both loops
type Config struct {
	SweepInterval    time.Duration
	HeartbeatTimeout time.Duration
	DeregisterAfter  time.Duration

	DeadLetterInterval time.Duration
}

// DefaultConfig returns the default timings
func DefaultConfig() Config {
	return Config{
		SweepInterval:      5 * time.Second,
		HeartbeatTimeout:   15 * time.Second,
		DeregisterAfter:    60 * time.Second,
		DeadLetterInterval: 30 * time.Second,
	}
}

// Reconciler runs the liveness sweep and the dead letter redelivery loop
type Reconciler struct {
	cfg         Config
	registry    Registry
	prober      *health.Prober
	redeliverer Redeliverer
	now         func() time.Time
	logger      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithProber actively probes UP instances on every sweep
func WithProber(p *health.Prober) Option {
	return func(r *Reconciler) { r.prober = p }
}

// WithRedeliverer enables the dead letter loop
func WithRedeliverer(d Redeliverer) Option {
	return func(r *Reconciler) { r.redeliverer = d }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler creates a reconciler over reg
func NewReconciler(reg Registry, cfg Config, opts ...Option) *Reconciler {
	d := DefaultConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = d.SweepInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if cfg.DeregisterAfter < cfg.HeartbeatTimeout {
		cfg.DeregisterAfter = d.DeregisterAfter
		if cfg.DeregisterAfter < cfg.HeartbeatTimeout {
			cfg.DeregisterAfter = 4 * cfg.HeartbeatTimeout
		}
	}
	if cfg.DeadLetterInterval <= 0 {
		cfg.DeadLetterInterval = d.DeadLetterInterval
	}
	r := &Reconciler{
		cfg:      cfg,
		registry: reg,
		now:      time.Now,
		logger:   log.WithComponent("reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the loops; they stop when ctx ends or Stop is called
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.loop(ctx, r.cfg.SweepInterval, func(ctx context.Context) { r.Sweep(ctx) })

	if r.redeliverer != nil {
		r.wg.Add(1)
		go r.loop(ctx, r.cfg.DeadLetterInterval, r.redeliver)
	}
}

// Stop stops the loops and waits for them to return
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Reconciler) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	defer r.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// SweepResult summarises one sweep
type SweepResult struct {
	Demoted      []string
	Deregistered []string
}

// Sweep demotes instances whose last heartbeat is older than
// HeartbeatTimeout to DOWN and deregisters those older than
// DeregisterAfter. With a prober, UP instances that fail their probes are
// demoted too.
func (r *Reconciler) Sweep(ctx context.Context) SweepResult {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	var res SweepResult
	now := r.now()
	cutoff := now.Add(-r.cfg.DeregisterAfter)
	for _, inst := range r.registry.List() {
		age := now.Sub(inst.LastHeartbeat)
		switch {
		case age > r.cfg.DeregisterAfter:
			if r.registry.DeregisterIfStale(inst.InstanceID, cutoff) {
				res.Deregistered = append(res.Deregistered, inst.InstanceID)
				r.forget(inst.InstanceID)
				r.logger.Info().
					Str("instance_id", inst.InstanceID).
					Dur("since_heartbeat", age).
					Msg("Deregistered silent instance")
			}
		case age > r.cfg.HeartbeatTimeout:
			if r.registry.MarkStatus(inst.InstanceID, types.InstanceStatusDown) {
				res.Demoted = append(res.Demoted, inst.InstanceID)
				r.logger.Warn().
					Str("instance_id", inst.InstanceID).
					Dur("since_heartbeat", age).
					Msg("Instance missed heartbeats, marked down")
			}
		case r.prober != nil && inst.Status == types.InstanceStatusUp:
			if healthy, result := r.prober.Probe(ctx, inst); !healthy {
				if r.registry.MarkStatus(inst.InstanceID, types.InstanceStatusDown) {
					res.Demoted = append(res.Demoted, inst.InstanceID)
					r.logger.Warn().
						Str("instance_id", inst.InstanceID).
						Str("probe", result.Message).
						Msg("Instance failed health probes, marked down")
				}
			}
		}
	}
	return res
}

func (r *Reconciler) forget(instanceID string) {
	if r.prober != nil {
		r.prober.Forget(instanceID)
	}
}

func (r *Reconciler) redeliver(ctx context.Context) {
	n, err := r.redeliverer.RedeliverDeadLetters(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Dead letter redelivery stopped early")
	}
	if n > 0 {
		r.logger.Info().Int("redelivered", n).Msg("Redelivered dead letters")
	}
}
