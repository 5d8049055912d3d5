package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cuemby/relay/api/relayv1"
	"github.com/cuemby/relay/pkg/dispatch"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/resilience"
	"github.com/cuemby/relay/pkg/types"
)

// QueryRouter spreads queries across capable instances round-robin and
// moves to the next instance when one is unreachable.
type QueryRouter struct {
	registry   Registry
	dispatcher dispatch.Dispatcher
	wrapper    *resilience.Wrapper
	opts       options
	counters   sync.Map // query type -> *atomic.Uint64
	logger     zerolog.Logger
}

// NewQueryRouter creates a query router
func NewQueryRouter(reg Registry, d dispatch.Dispatcher, w *resilience.Wrapper, opts ...Option) *QueryRouter {
	return &QueryRouter{
		registry:   reg,
		dispatcher: d,
		wrapper:    w,
		opts:       buildOptions(opts),
		logger:     log.WithComponent("router"),
	}
}

// Route runs q on the first instance that answers
func (r *QueryRouter) Route(ctx context.Context, q types.QueryEnvelope) types.RoutingOutcome {
	if q.Type == "" {
		return record("query", types.Failure(fmt.Errorf("%w: query type is required", types.ErrValidation)))
	}

	list := candidates(r.registry, q.Type)
	if len(list) == 0 {
		return record("query", types.Failure(fmt.Errorf("%w: no healthy instance for type %s", types.ErrNoHealthyInstance, q.Type)))
	}

	start := int(r.counter(q.Type).Add(1)-1) % len(list)
	req := &relayv1.HandleRequest{
		Kind:      relayv1.KindQuery,
		MessageID: q.ID,
		Type:      q.Type,
		Payload:   q.Payload,
		Metadata:  q.Metadata,
	}

	var lastErr error
	var lastTarget string
	for i := 0; i < len(list); i++ {
		target := list[(start+i)%len(list)]
		resp, err := r.dispatch(ctx, target, req)
		if err == nil {
			return record("query", types.Success(target.InstanceID, resp.Result))
		}
		lastErr, lastTarget = err, target.InstanceID
		if !types.IsTransient(err) && !errors.Is(err, types.ErrCircuitOpen) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		r.logger.Debug().Err(err).
			Str("query_type", q.Type).
			Str("instance_id", target.InstanceID).
			Msg("Query failed, trying next instance")
	}

	out := types.Failure(lastErr)
	out.TargetInstance = lastTarget
	return record("query", out)
}

func (r *QueryRouter) dispatch(ctx context.Context, target types.ServiceInstance, req *relayv1.HandleRequest) (*relayv1.HandleResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DispatchDuration, "query")

	return resilience.Execute(ctx, r.wrapper, operationName(target, req.Type), func(ctx context.Context) (*relayv1.HandleResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, r.opts.timeout)
		defer cancel()
		return r.dispatcher.Dispatch(ctx, target, req)
	})
}

func (r *QueryRouter) counter(queryType string) *atomic.Uint64 {
	if v, ok := r.counters.Load(queryType); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := r.counters.LoadOrStore(queryType, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}
