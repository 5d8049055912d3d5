package api

import (
	"context"

	"github.com/cuemby/relay/api/relayv1"
	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/types"
)

// AppendEvent stores a client supplied event. Conflicts and validation
// failures are reported in the response.
func (s *Server) AppendEvent(ctx context.Context, req *relayv1.AppendEventRequest) (*relayv1.AppendEventResponse, error) {
	ev := req.Event
	ev.Metadata = withoutReserved(ev.Metadata)

	stored, err := s.pipeline.Append(ctx, ev)
	if err != nil {
		return &relayv1.AppendEventResponse{
			Success:   false,
			Message:   err.Error(),
			ErrorCode: types.ErrorCode(err),
			Event:     req.Event,
		}, nil
	}
	return &relayv1.AppendEventResponse{Success: true, Event: stored}, nil
}

// NextSequence returns the next free sequence number of an aggregate
func (s *Server) NextSequence(ctx context.Context, req *relayv1.NextSequenceRequest) (*relayv1.NextSequenceResponse, error) {
	seq, err := s.pipeline.NextSequence(ctx, req.AggregateID)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &relayv1.NextSequenceResponse{SequenceNumber: seq}, nil
}

// LoadEvents returns the events of an aggregate from a sequence number on
func (s *Server) LoadEvents(ctx context.Context, req *relayv1.LoadEventsRequest) (*relayv1.LoadEventsResponse, error) {
	evs, err := s.pipeline.LoadSince(ctx, req.AggregateID, req.FromSequence)
	if err != nil {
		return nil, ToStatus(err)
	}
	if evs == nil {
		evs = []types.Event{}
	}
	return &relayv1.LoadEventsResponse{Events: evs}, nil
}

// SaveSnapshot replaces the snapshot of an aggregate
func (s *Server) SaveSnapshot(ctx context.Context, req *relayv1.SaveSnapshotRequest) (*relayv1.SaveSnapshotResponse, error) {
	if err := s.pipeline.SaveSnapshot(ctx, req.Snapshot); err != nil {
		return &relayv1.SaveSnapshotResponse{Success: false, Message: err.Error()}, nil
	}
	return &relayv1.SaveSnapshotResponse{Success: true}, nil
}

// LoadSnapshot returns the latest snapshot of an aggregate, if any
func (s *Server) LoadSnapshot(ctx context.Context, req *relayv1.LoadSnapshotRequest) (*relayv1.LoadSnapshotResponse, error) {
	snap, ok, err := s.pipeline.LoadSnapshot(ctx, req.AggregateID)
	if err != nil {
		return nil, ToStatus(err)
	}
	if !ok {
		return &relayv1.LoadSnapshotResponse{Found: false}, nil
	}
	return &relayv1.LoadSnapshotResponse{Found: true, Snapshot: &snap}, nil
}

// SubscribeEvents streams events appended on this node
func (s *Server) SubscribeEvents(req *relayv1.SubscribeEventsRequest, stream relayv1.Events_SubscribeEventsServer) error {
	ctx := stream.Context()
	sub := s.pipeline.Subscribe(req.AggregateID)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return ToStatus(sub.Err())
			}
			if err := stream.Send(&ev); err != nil {
				return err
			}
		}
	}
}

// StreamNotifications streams operational notices: registry changes,
// retries, breaker transitions and forward failures
func (s *Server) StreamNotifications(req *relayv1.StreamNotificationsRequest, stream relayv1.Events_StreamNotificationsServer) error {
	if s.broker == nil {
		<-stream.Context().Done()
		return nil
	}
	want := make(map[string]bool, len(req.Types))
	for _, t := range req.Types {
		want[t] = true
	}

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			if len(want) > 0 && !want[string(ev.Type)] {
				continue
			}
			if err := stream.Send(toNotification(ev)); err != nil {
				return err
			}
		}
	}
}

func toNotification(ev *events.Event) *relayv1.Notification {
	return &relayv1.Notification{
		ID:        ev.ID,
		Type:      string(ev.Type),
		Timestamp: ev.Timestamp,
		Message:   ev.Message,
		Metadata:  ev.Metadata,
	}
}
