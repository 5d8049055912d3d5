package api

import (
	"context"
	"fmt"

	"github.com/cuemby/relay/api/relayv1"
	relayhealth "github.com/cuemby/relay/pkg/health"
	"github.com/cuemby/relay/pkg/types"
)

// RegisterService adds or replaces an instance registration
func (s *Server) RegisterService(ctx context.Context, req *relayv1.RegisterServiceRequest) (*relayv1.RegisterServiceResponse, error) {
	inst, err := s.registry.Register(ctx, req.Instance)
	if err != nil {
		return &relayv1.RegisterServiceResponse{
			Success:   false,
			Message:   err.Error(),
			ErrorCode: types.ErrorCode(err),
		}, nil
	}
	return &relayv1.RegisterServiceResponse{
		Success:        true,
		Message:        fmt.Sprintf("registered %s as %s", inst.InstanceID, inst.Status),
		RegistrationID: inst.InstanceID,
	}, nil
}

// UnregisterService removes an instance
func (s *Server) UnregisterService(ctx context.Context, req *relayv1.UnregisterServiceRequest) (*relayv1.UnregisterServiceResponse, error) {
	if !s.registry.Deregister(req.InstanceID) {
		return &relayv1.UnregisterServiceResponse{Success: false, Message: "instance not found"}, nil
	}
	return &relayv1.UnregisterServiceResponse{Success: true}, nil
}

// SendHeartbeat applies a stream of heartbeats, acknowledging each
func (s *Server) SendHeartbeat(stream relayv1.Registry_SendHeartbeatServer) error {
	return s.health.Ingest(stream.Context(), heartbeatStream{stream})
}

type heartbeatStream struct {
	relayv1.Registry_SendHeartbeatServer
}

func (h heartbeatStream) Recv() (types.Heartbeat, error) {
	hb, err := h.Registry_SendHeartbeatServer.Recv()
	if err != nil {
		return types.Heartbeat{}, err
	}
	return *hb, nil
}

func (h heartbeatStream) Send(ack types.HeartbeatAck) error {
	return h.Registry_SendHeartbeatServer.Send(&ack)
}

// GetHealthyServices returns usable instances of a service, or of every
// service when the name is empty
func (s *Server) GetHealthyServices(ctx context.Context, req *relayv1.GetHealthyServicesRequest) (*relayv1.GetHealthyServicesResponse, error) {
	return &relayv1.GetHealthyServicesResponse{
		Instances: s.registry.GetHealthy(req.ServiceName, req.Tags),
	}, nil
}

// ListInstances returns every registered instance regardless of status
func (s *Server) ListInstances(ctx context.Context, req *relayv1.ListInstancesRequest) (*relayv1.ListInstancesResponse, error) {
	return &relayv1.ListInstancesResponse{Instances: s.registry.List()}, nil
}

// WatchServices streams the current instances as ADDED, then every change.
// When the registry drops the watcher the stream ends with a terminal
// message carrying the reason.
func (s *Server) WatchServices(req *relayv1.WatchServicesRequest, stream relayv1.Discovery_WatchServicesServer) error {
	ctx := stream.Context()
	w, err := s.registry.Watch(ctx, req.ServiceName)
	if err != nil {
		return ToStatus(err)
	}
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-w.C():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				reason := "watch closed"
				if werr := w.Err(); werr != nil {
					reason = werr.Error()
				}
				return stream.Send(&relayv1.ServiceChange{Terminated: true, Reason: reason})
			}
			note := n
			if err := stream.Send(&relayv1.ServiceChange{Notification: &note}); err != nil {
				return err
			}
		}
	}
}

// WatchHealth streams health changes of the selected instances
func (s *Server) WatchHealth(req *relayv1.WatchHealthRequest, stream relayv1.Discovery_WatchHealthServer) error {
	filter := relayhealth.Filter{ServiceName: req.ServiceName, InstanceIDs: req.InstanceIDs}
	err := s.health.Relay(stream.Context(), filter, func(resp types.HealthStreamResponse) error {
		return stream.Send(&resp)
	})
	return ToStatus(err)
}
