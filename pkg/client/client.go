package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/relay/api/relayv1"
	"github.com/cuemby/relay/pkg/api"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/types"
)

// ErrWatchTerminated is returned by WatchServices when the coordinator
// closes the watch, for instance because the watcher fell behind.
var ErrWatchTerminated = errors.New("watch terminated by coordinator")

// Client talks to a relay coordinator
type Client struct {
	conn      *grpc.ClientConn
	registry  relayv1.RegistryClient
	discovery relayv1.DiscoveryClient
	commands  relayv1.CommandsClient
	queries   relayv1.QueriesClient
	events    relayv1.EventsClient
	logger    zerolog.Logger
}

type options struct {
	tls      *tls.Config
	dialOpts []grpc.DialOption
}

// Option configures a Client
type Option func(*options)

// WithTLS dials the coordinator over TLS instead of plaintext
func WithTLS(cfg *tls.Config) Option {
	return func(o *options) { o.tls = cfg }
}

// WithDialOptions appends raw gRPC dial options, e.g. a context dialer in tests
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

// NewClient creates a client for the coordinator at addr. The connection is
// established lazily on the first call.
func NewClient(addr string, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	creds := insecure.NewCredentials()
	if o.tls != nil {
		creds = credentials.NewTLS(o.tls)
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(relayv1.CallOptions()...),
	}, o.dialOpts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}

	return &Client{
		conn:      conn,
		registry:  relayv1.NewRegistryClient(conn),
		discovery: relayv1.NewDiscoveryClient(conn),
		commands:  relayv1.NewCommandsClient(conn),
		queries:   relayv1.NewQueriesClient(conn),
		events:    relayv1.NewEventsClient(conn),
		logger:    log.WithComponent("client"),
	}, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Register registers inst and returns the registration id
func (c *Client) Register(ctx context.Context, inst types.ServiceInstance) (string, error) {
	resp, err := c.registry.RegisterService(ctx, &relayv1.RegisterServiceRequest{Instance: inst})
	if err != nil {
		return "", api.FromStatus(err)
	}
	if !resp.Success {
		return "", codeError(resp.ErrorCode, resp.Message)
	}
	return resp.RegistrationID, nil
}

// Unregister removes an instance. An unknown id is reported as types.ErrNotFound.
func (c *Client) Unregister(ctx context.Context, instanceID string) error {
	resp, err := c.registry.UnregisterService(ctx, &relayv1.UnregisterServiceRequest{InstanceID: instanceID})
	if err != nil {
		return api.FromStatus(err)
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", types.ErrNotFound, resp.Message)
	}
	return nil
}

// Heartbeats sends a heartbeat for instanceID every interval until ctx is
// done. status is asked for the current status before each beat. A broken
// stream is reopened with exponential backoff.
func (c *Client) Heartbeats(ctx context.Context, instanceID string, interval time.Duration, status func() types.InstanceStatus) error {
	if interval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive", types.ErrValidation)
	}
	if status == nil {
		status = func() types.InstanceStatus { return types.InstanceStatusUp }
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval / 4
	b.MaxInterval = 4 * interval
	b.MaxElapsedTime = 0

	op := func() error {
		err := c.heartbeatSession(ctx, instanceID, interval, status, b.Reset)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Str("instance_id", instanceID).Dur("retry_in", wait).Msg("Heartbeat stream broken")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (c *Client) heartbeatSession(ctx context.Context, instanceID string, interval time.Duration, status func() types.InstanceStatus, healthy func()) error {
	stream, err := c.registry.SendHeartbeat(ctx)
	if err != nil {
		return api.FromStatus(err)
	}
	defer stream.CloseSend()

	acks := make(chan error, 1)
	go func() {
		for {
			ack, err := stream.Recv()
			if err != nil {
				acks <- err
				return
			}
			if !ack.Success {
				c.logger.Warn().Str("instance_id", instanceID).Str("reason", ack.Message).Msg("Heartbeat rejected")
			}
		}
	}()

	send := func() error {
		return stream.Send(&types.Heartbeat{
			InstanceID: instanceID,
			Status:     status(),
			Timestamp:  time.Now(),
		})
	}
	if err := send(); err != nil {
		return err
	}
	healthy()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-acks:
			if errors.Is(err, io.EOF) {
				return errors.New("heartbeat stream closed by coordinator")
			}
			return api.FromStatus(err)
		case <-ticker.C:
			if err := send(); err != nil {
				return err
			}
		}
	}
}

// SubmitCommand routes cmd through the coordinator. The full response is
// returned alongside any error so callers can inspect the target instance.
func (c *Client) SubmitCommand(ctx context.Context, cmd types.CommandEnvelope) (*relayv1.SubmitCommandResponse, error) {
	resp, err := c.commands.SubmitCommand(ctx, &relayv1.SubmitCommandRequest{Command: cmd})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	if !resp.Success {
		return resp, codeError(resp.ErrorCode, resp.Message)
	}
	return resp, nil
}

// SubmitQuery routes q through the coordinator
func (c *Client) SubmitQuery(ctx context.Context, q types.QueryEnvelope) (*relayv1.SubmitQueryResponse, error) {
	resp, err := c.queries.SubmitQuery(ctx, &relayv1.SubmitQueryRequest{Query: q})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	if resp.Status == types.OutcomeError {
		return resp, codeError(resp.ErrorCode, resp.ErrorMessage)
	}
	return resp, nil
}

// AppendEvent appends ev and returns it as stored
func (c *Client) AppendEvent(ctx context.Context, ev types.Event) (types.Event, error) {
	resp, err := c.events.AppendEvent(ctx, &relayv1.AppendEventRequest{Event: ev})
	if err != nil {
		return types.Event{}, api.FromStatus(err)
	}
	if !resp.Success {
		return types.Event{}, codeError(resp.ErrorCode, resp.Message)
	}
	return resp.Event, nil
}

// NextSequence returns the next sequence number for an aggregate
func (c *Client) NextSequence(ctx context.Context, aggregateID string) (int64, error) {
	resp, err := c.events.NextSequence(ctx, &relayv1.NextSequenceRequest{AggregateID: aggregateID})
	if err != nil {
		return 0, api.FromStatus(err)
	}
	return resp.SequenceNumber, nil
}

// LoadEvents returns the events of an aggregate from fromSequence onwards
func (c *Client) LoadEvents(ctx context.Context, aggregateID string, fromSequence int64) ([]types.Event, error) {
	resp, err := c.events.LoadEvents(ctx, &relayv1.LoadEventsRequest{AggregateID: aggregateID, FromSequence: fromSequence})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return resp.Events, nil
}

// SaveSnapshot stores a snapshot
func (c *Client) SaveSnapshot(ctx context.Context, snap types.Snapshot) error {
	resp, err := c.events.SaveSnapshot(ctx, &relayv1.SaveSnapshotRequest{Snapshot: snap})
	if err != nil {
		return api.FromStatus(err)
	}
	if !resp.Success {
		return errors.New(resp.Message)
	}
	return nil
}

// LoadSnapshot returns the latest snapshot of an aggregate, if any
func (c *Client) LoadSnapshot(ctx context.Context, aggregateID string) (*types.Snapshot, bool, error) {
	resp, err := c.events.LoadSnapshot(ctx, &relayv1.LoadSnapshotRequest{AggregateID: aggregateID})
	if err != nil {
		return nil, false, api.FromStatus(err)
	}
	return resp.Snapshot, resp.Found, nil
}

// Healthy lists usable instances of serviceName carrying every tag.
// An empty serviceName lists all services.
func (c *Client) Healthy(ctx context.Context, serviceName string, tags ...string) ([]types.ServiceInstance, error) {
	resp, err := c.discovery.GetHealthyServices(ctx, &relayv1.GetHealthyServicesRequest{ServiceName: serviceName, Tags: tags})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return resp.Instances, nil
}

// ListInstances lists every registered instance regardless of status
func (c *Client) ListInstances(ctx context.Context) ([]types.ServiceInstance, error) {
	resp, err := c.discovery.ListInstances(ctx, &relayv1.ListInstancesRequest{})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return resp.Instances, nil
}

// WatchServices calls fn for every registry change of serviceName until ctx
// is done or fn returns an error.
func (c *Client) WatchServices(ctx context.Context, serviceName string, fn func(types.ServiceChangeNotification) error) error {
	stream, err := c.discovery.WatchServices(ctx, &relayv1.WatchServicesRequest{ServiceName: serviceName})
	if err != nil {
		return api.FromStatus(err)
	}
	for {
		change, err := stream.Recv()
		if err != nil {
			return streamEnd(ctx, err)
		}
		if change.Terminated {
			return fmt.Errorf("%w: %s", ErrWatchTerminated, change.Reason)
		}
		if change.Notification == nil {
			continue
		}
		if err := fn(*change.Notification); err != nil {
			return err
		}
	}
}

// TailEvents calls fn for each event appended on the coordinator. An empty
// aggregateID follows every aggregate.
func (c *Client) TailEvents(ctx context.Context, aggregateID string, fn func(types.Event) error) error {
	stream, err := c.events.SubscribeEvents(ctx, &relayv1.SubscribeEventsRequest{AggregateID: aggregateID})
	if err != nil {
		return api.FromStatus(err)
	}
	for {
		ev, err := stream.Recv()
		if err != nil {
			return streamEnd(ctx, err)
		}
		if err := fn(*ev); err != nil {
			return err
		}
	}
}

func streamEnd(ctx context.Context, err error) error {
	if errors.Is(err, io.EOF) || ctx.Err() != nil {
		return nil
	}
	return api.FromStatus(err)
}

// codeError rebuilds a domain error from a structured response
func codeError(code types.Code, msg string) error {
	var base error
	switch code {
	case types.CodeValidation:
		base = types.ErrValidation
	case types.CodeNoHealthyInstance:
		base = types.ErrNoHealthyInstance
	case types.CodeTransient:
		base = types.ErrTransient
	case types.CodeConcurrencyConflict:
		base = types.ErrConcurrencyConflict
	case types.CodeCircuitOpen:
		base = types.ErrCircuitOpen
	case types.CodeNotFound:
		base = types.ErrNotFound
	default:
		base = types.ErrDispatch
	}
	return fmt.Errorf("%w: %s", base, msg)
}
