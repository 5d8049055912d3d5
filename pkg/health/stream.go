package health

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/registry"
	"github.com/cuemby/relay/pkg/types"
)

// HeartbeatStream is the server side of an instance's heartbeat stream
type HeartbeatStream interface {
	Recv() (types.Heartbeat, error)
	Send(types.HeartbeatAck) error
}

// Registry is the part of the instance registry the processor drives
type Registry interface {
	ApplyHeartbeat(hb types.Heartbeat) (types.ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) (*registry.Watcher, error)
}

// Filter selects which changes a health watcher receives
type Filter struct {
	ServiceName string
	// InstanceIDs restricts the stream to these instances when not empty
	InstanceIDs []string
}

func (f Filter) match(id string) bool {
	if len(f.InstanceIDs) == 0 {
		return true
	}
	for _, want := range f.InstanceIDs {
		if want == id {
			return true
		}
	}
	return false
}

// Processor applies inbound heartbeats to the registry and relays
// registry changes to health watchers. It never removes instances; the
// sweeper does that.
type Processor struct {
	registry Registry
	logger   zerolog.Logger
}

// NewProcessor creates a processor over reg
func NewProcessor(reg Registry) *Processor {
	return &Processor{
		registry: reg,
		logger:   log.WithComponent("health"),
	}
}

// Ingest reads heartbeats until the stream ends. Every heartbeat is
// acknowledged; one for an unknown instance gets Success=false and the
// stream carries on.
func (p *Processor) Ingest(ctx context.Context, stream HeartbeatStream) error {
	for {
		hb, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		ack := types.HeartbeatAck{InstanceID: hb.InstanceID, Success: true, Timestamp: time.Now()}
		if _, err := p.registry.ApplyHeartbeat(hb); err != nil {
			ack.Success = false
			ack.Message = err.Error()
			metrics.HeartbeatsTotal.WithLabelValues("rejected").Inc()
			p.logger.Debug().Err(err).Str("instance_id", hb.InstanceID).Msg("Heartbeat rejected")
		} else {
			metrics.HeartbeatsTotal.WithLabelValues("accepted").Inc()
		}

		if err := stream.Send(ack); err != nil {
			return err
		}
	}
}

// Relay streams a HealthStreamResponse for every registry change matching
// filter until ctx ends or send fails. Ending the stream releases the
// registry watcher; it does not touch the instances themselves.
func (p *Processor) Relay(ctx context.Context, filter Filter, send func(types.HealthStreamResponse) error) error {
	w, err := p.registry.Watch(ctx, filter.ServiceName)
	if err != nil {
		return err
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
				return w.Err()
			}
			if !filter.match(n.Instance.InstanceID) {
				continue
			}
			if err := send(ToHealthResponse(n)); err != nil {
				return err
			}
		}
	}
}

// ToHealthResponse converts a registry change; removal is reported as DOWN
func ToHealthResponse(n types.ServiceChangeNotification) types.HealthStreamResponse {
	status := n.Instance.Status
	if n.ChangeType == types.ChangeRemoved {
		status = types.InstanceStatusDown
	}
	return types.HealthStreamResponse{
		InstanceID: n.Instance.InstanceID,
		Status:     status,
		Timestamp:  n.Timestamp,
		Metadata:   n.Instance.Metadata,
	}
}
