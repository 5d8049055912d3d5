package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/relay/api/relayv1"
	"github.com/cuemby/relay/pkg/dispatch"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/partition"
	"github.com/cuemby/relay/pkg/resilience"
	"github.com/cuemby/relay/pkg/types"
)

// CommandRouter sends each command to one capable instance chosen by
// aggregate affinity. Commands never fall back to another instance.
type CommandRouter struct {
	registry   Registry
	dispatcher dispatch.Dispatcher
	wrapper    *resilience.Wrapper
	opts       options
	inflight   sync.WaitGroup
	logger     zerolog.Logger
}

// NewCommandRouter creates a command router
func NewCommandRouter(reg Registry, d dispatch.Dispatcher, w *resilience.Wrapper, opts ...Option) *CommandRouter {
	return &CommandRouter{
		registry:   reg,
		dispatcher: d,
		wrapper:    w,
		opts:       buildOptions(opts),
		logger:     log.WithComponent("router"),
	}
}

// Route dispatches cmd and reports the outcome. With relay.async=true in
// the metadata the dispatch continues in the background and the outcome
// is ROUTED.
func (r *CommandRouter) Route(ctx context.Context, cmd types.CommandEnvelope) types.RoutingOutcome {
	if cmd.Type == "" || cmd.AggregateID == "" {
		return record("command", types.Failure(fmt.Errorf("%w: command type and aggregate id are required", types.ErrValidation)))
	}

	list := candidates(r.registry, cmd.Type)
	if len(list) == 0 {
		r.logger.Warn().Str("command_type", cmd.Type).Msg("No healthy instance for command")
		return record("command", types.Failure(fmt.Errorf("%w: no healthy instance for type %s", types.ErrNoHealthyInstance, cmd.Type)))
	}
	target := list[partition.PartitionForIndex(cmd.AggregateID, len(list))]

	if cmd.Metadata[types.MetadataAsync] == "true" {
		bg := context.WithoutCancel(ctx)
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			if _, err := r.dispatch(bg, target, cmd); err != nil {
				r.logger.Error().Err(err).
					Str("command_type", cmd.Type).
					Str("aggregate_id", cmd.AggregateID).
					Str("instance_id", target.InstanceID).
					Msg("Async command dispatch failed")
			}
		}()
		return record("command", types.Routed(target.InstanceID))
	}

	resp, err := r.dispatch(ctx, target, cmd)
	if err != nil {
		out := types.Failure(err)
		out.TargetInstance = target.InstanceID
		return record("command", out)
	}
	out := types.Success(target.InstanceID, resp.Result)
	out.Events = resp.Events
	return record("command", out)
}

func (r *CommandRouter) dispatch(ctx context.Context, target types.ServiceInstance, cmd types.CommandEnvelope) (*relayv1.HandleResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DispatchDuration, "command")

	req := &relayv1.HandleRequest{
		Kind:        relayv1.KindCommand,
		MessageID:   cmd.ID,
		Type:        cmd.Type,
		AggregateID: cmd.AggregateID,
		Payload:     cmd.Payload,
		Metadata:    cmd.Metadata,
	}
	return resilience.Execute(ctx, r.wrapper, operationName(target, cmd.Type), func(ctx context.Context) (*relayv1.HandleResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, r.opts.timeout)
		defer cancel()
		return r.dispatcher.Dispatch(ctx, target, req)
	})
}

// Wait blocks until background dispatches have finished
func (r *CommandRouter) Wait() {
	r.inflight.Wait()
}
