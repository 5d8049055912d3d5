package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/relay/api/relayv1"
	"github.com/cuemby/relay/pkg/types"
)

// MetadataCommandID links events to the command that produced them
const MetadataCommandID = "relay.command-id"

// SubmitCommand routes a command and stores the events its handler
// returned. Routing failures are reported in the response, not as gRPC
// errors.
func (s *Server) SubmitCommand(ctx context.Context, req *relayv1.SubmitCommandRequest) (*relayv1.SubmitCommandResponse, error) {
	cmd := req.Command
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now().UTC()
	}

	out := s.commands.Route(ctx, cmd)
	resp := &relayv1.SubmitCommandResponse{
		Success:        out.OK(),
		Status:         out.Kind,
		Message:        out.Message,
		ErrorCode:      out.ErrorCode,
		TargetInstance: out.TargetInstance,
		Result:         out.Result,
	}
	if !out.OK() {
		return resp, nil
	}
	s.pipeline.RecordCommand(ctx, cmd)

	for _, draft := range out.Events {
		ev, err := s.appendHandlerEvent(ctx, cmd, draft)
		if err != nil {
			s.logger.Error().Err(err).
				Str("command_id", cmd.ID).
				Str("aggregate_id", draft.AggregateID).
				Msg("Failed to store handler event")
			resp.Success = false
			resp.Status = types.OutcomeError
			resp.ErrorCode = types.ErrorCode(err)
			resp.Message = fmt.Sprintf("command handled by %s but its events were not stored: %v", out.TargetInstance, err)
			return resp, nil
		}
		resp.Events = append(resp.Events, ev)
	}
	return resp, nil
}

// appendHandlerEvent assigns the next sequence number to an event returned
// by a handler and appends it, reloading the sequence on conflict.
func (s *Server) appendHandlerEvent(ctx context.Context, cmd types.CommandEnvelope, ev types.Event) (types.Event, error) {
	if ev.AggregateID == "" {
		ev.AggregateID = cmd.AggregateID
	}
	if ev.EventType == "" {
		ev.EventType = ev.Payload.Type
	}
	ev.Metadata = withoutReserved(ev.Metadata)
	ev.Metadata[MetadataCommandID] = cmd.ID

	var err error
	for attempt := 0; attempt < s.appendRetries; attempt++ {
		ev.SequenceNumber, err = s.pipeline.NextSequence(ctx, ev.AggregateID)
		if err != nil {
			return types.Event{}, err
		}
		var stored types.Event
		stored, err = s.pipeline.Append(ctx, ev)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, types.ErrConcurrencyConflict) {
			return types.Event{}, err
		}
	}
	return types.Event{}, err
}

// SubmitQuery routes a query to one capable instance
func (s *Server) SubmitQuery(ctx context.Context, req *relayv1.SubmitQueryRequest) (*relayv1.SubmitQueryResponse, error) {
	q := req.Query
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	out := s.queries.Route(ctx, q)
	return &relayv1.SubmitQueryResponse{
		Status:         out.Kind,
		TargetInstance: out.TargetInstance,
		Result:         out.Result,
		ErrorMessage:   out.Message,
		ErrorCode:      out.ErrorCode,
	}, nil
}

// withoutReserved copies md dropping keys only the coordinator may set
func withoutReserved(md map[string]string) map[string]string {
	out := make(map[string]string, len(md)+1)
	for k, v := range md {
		switch k {
		case types.MetadataOrigin, types.MetadataOriginNode:
			continue
		}
		out[k] = v
	}
	return out
}
