package resilience

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/types"
)

// Config holds retry and circuit breaker policy shared by every operation name
type Config struct {
	// MaxAttempts is the total number of tries, including the first
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64

	MinimumCalls         uint32
	FailureRateThreshold float64
	Interval             time.Duration
	OpenTimeout          time.Duration
	// HalfOpenMaxCalls is the trial budget of a half-open circuit. It
	// closes after that many consecutive successes; one failure reopens it.
	HalfOpenMaxCalls uint32
}

// DefaultConfig returns the default policy
func DefaultConfig() Config {
	return Config{
		MaxAttempts:          3,
		InitialBackoff:       100 * time.Millisecond,
		MaxBackoff:           2 * time.Second,
		Multiplier:           2,
		Jitter:               0.2,
		MinimumCalls:         5,
		FailureRateThreshold: 0.5,
		Interval:             60 * time.Second,
		OpenTimeout:          30 * time.Second,
		HalfOpenMaxCalls:     3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = d.Jitter
	}
	if c.MinimumCalls == 0 {
		c.MinimumCalls = d.MinimumCalls
	}
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1 {
		c.FailureRateThreshold = d.FailureRateThreshold
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return c
}

// Wrapper guards outbound calls with a per-name circuit breaker and retry
type Wrapper struct {
	cfg      Config
	notifier Notifier
	breakers sync.Map // name -> *gobreaker.CircuitBreaker
	logger   zerolog.Logger
}

// New creates a wrapper. A nil notifier disables notifications.
func New(cfg Config, notifier Notifier) *Wrapper {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Wrapper{
		cfg:      cfg.withDefaults(),
		notifier: notifier,
		logger:   log.WithComponent("resilience"),
	}
}

// Do runs fn under the policy for name. Transient failures are retried up
// to MaxAttempts; anything else is returned after the first failure. While
// the breaker for name is open, Do returns types.ErrCircuitOpen without
// calling fn.
func (w *Wrapper) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	cb := w.breaker(name)
	attempts := 0

	op := func() error {
		attempts++
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(fmt.Errorf("%s: %w", name, types.ErrCircuitOpen))
		case types.IsTransient(err) && ctx.Err() == nil:
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	notify := func(err error, wait time.Duration) {
		w.logger.Debug().
			Str("operation", name).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Err(err).
			Msg("Retrying operation")
		w.notifier.OnRetry(name, attempts, err, wait)
	}

	err := backoff.RetryNotify(op, w.policy(ctx), notify)
	if err != nil {
		w.logger.Warn().
			Str("operation", name).
			Int("attempts", attempts).
			Err(err).
			Msg("Operation failed")
		w.notifier.OnPermanentFailure(name, attempts, err)
		return err
	}

	w.notifier.OnSuccess(name, attempts)
	return nil
}

// Execute runs fn through w and returns its result
func Execute[T any](ctx context.Context, w *Wrapper, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := w.Do(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// State returns the breaker state for name, or false if name was never used
func (w *Wrapper) State(name string) (types.CircuitBreakerState, bool) {
	v, ok := w.breakers.Load(name)
	if !ok {
		return "", false
	}
	return toState(v.(*gobreaker.CircuitBreaker).State()), true
}

// Names returns every operation name that has a breaker, sorted
func (w *Wrapper) Names() []string {
	var names []string
	w.breakers.Range(func(k, _ interface{}) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

func (w *Wrapper) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	b.MaxInterval = w.cfg.MaxBackoff
	b.Multiplier = w.cfg.Multiplier
	b.RandomizationFactor = w.cfg.Jitter
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.cfg.MaxAttempts-1)), ctx)
}

func (w *Wrapper) breaker(name string) *gobreaker.CircuitBreaker {
	if v, ok := w.breakers.Load(name); ok {
		return v.(*gobreaker.CircuitBreaker)
	}
	cfg := w.cfg
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < cfg.MinimumCalls {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureRateThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Info().
				Str("operation", name).
				Str("from", string(toState(from))).
				Str("to", string(toState(to))).
				Msg("Circuit breaker state changed")
			w.notifier.OnStateChange(name, toState(from), toState(to))
		},
		// failures that retrying would not fix say nothing about the downstream
		IsSuccessful: func(err error) bool {
			return err == nil || !types.IsTransient(err)
		},
	})
	actual, _ := w.breakers.LoadOrStore(name, cb)
	return actual.(*gobreaker.CircuitBreaker)
}

func toState(s gobreaker.State) types.CircuitBreakerState {
	switch s {
	case gobreaker.StateOpen:
		return types.CircuitOpen
	case gobreaker.StateHalfOpen:
		return types.CircuitHalfOpen
	default:
		return types.CircuitClosed
	}
}
