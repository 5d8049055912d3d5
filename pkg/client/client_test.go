package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cuemby/relay/api/relayv1"
	"github.com/cuemby/relay/pkg/api"
	"github.com/cuemby/relay/pkg/dispatch"
	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/health"
	"github.com/cuemby/relay/pkg/pipeline"
	"github.com/cuemby/relay/pkg/registry"
	"github.com/cuemby/relay/pkg/resilience"
	"github.com/cuemby/relay/pkg/router"
	"github.com/cuemby/relay/pkg/storage"
	"github.com/cuemby/relay/pkg/types"
)

type createOrder struct {
	OrderID string `json:"orderId"`
	Amount  int    `json:"amount"`
}

type coordinator struct {
	reg    *registry.Registry
	client *Client
}

func newCoordinator(t *testing.T) *coordinator {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	reg := registry.New(registry.WithBroker(broker))
	pipe := pipeline.New(storage.NewMemoryStore(), nil, pipeline.WithBroker(broker))
	w := resilience.New(resilience.Config{MaxAttempts: 1, MinimumCalls: 100}, nil)
	d := dispatch.NewGRPCDispatcher()
	t.Cleanup(func() { d.Close() })

	srv := api.NewServer(api.Deps{
		Registry: reg,
		Health:   health.NewProcessor(reg),
		Commands: router.NewCommandRouter(reg, d, w),
		Queries:  router.NewQueryRouter(reg, d, w),
		Pipeline: pipe,
		Broker:   broker,
	})
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := NewClient("passthrough:///bufnet", WithDialOptions(
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return &coordinator{reg: reg, client: c}
}

func ordersHandlers() *HandlerServer {
	reg := types.NewTypeRegistry()
	types.RegisterJSON[createOrder](reg, "CreateOrder")

	hs := NewHandlerServer(reg)
	hs.Handle("CreateOrder", func(_ context.Context, req *Request) (*Reply, error) {
		cmd, ok := req.Value.(*createOrder)
		if !ok {
			return nil, fmt.Errorf("%w: payload not decoded", types.ErrValidation)
		}
		if cmd.Amount <= 0 {
			return nil, fmt.Errorf("%w: amount must be positive", types.ErrValidation)
		}
		return &Reply{
			Result: types.Payload{Type: "OrderAccepted", Data: json.RawMessage(`{"accepted":true}`)},
			Events: []types.Event{{EventType: "OrderCreated", Payload: req.Payload}},
		}, nil
	})
	hs.Handle("GetOrder", func(_ context.Context, req *Request) (*Reply, error) {
		return &Reply{
			Result: types.Payload{Type: "Order", Data: json.RawMessage(`{"orderId":"o-1"}`)},
			Events: []types.Event{{EventType: "ShouldBeDropped"}},
		}, nil
	})
	hs.Handle("Flaky", func(context.Context, *Request) (*Reply, error) {
		return nil, fmt.Errorf("%w: database busy", types.ErrTransient)
	})
	hs.Handle("Broken", func(context.Context, *Request) (*Reply, error) {
		return nil, errors.New("boom")
	})
	return hs
}

// serveHandlers starts hs on a loopback port and returns that port
func serveHandlers(t *testing.T, hs *HandlerServer) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hs.Serve(ctx, lis) }()
	return lis.Addr().(*net.TCPAddr).Port
}

func TestHandlerServerCapabilities(t *testing.T) {
	hs := ordersHandlers()
	assert.Equal(t, []string{"Broken", "CreateOrder", "Flaky", "GetOrder"}, hs.Capabilities())

	inst := hs.Describe(types.ServiceInstance{InstanceID: "orders-1", ServiceName: "orders"})
	assert.Equal(t, hs.Capabilities(), inst.CommandTypes)
	assert.Equal(t, "orders-1", inst.InstanceID)
}

func TestHandlerServerInvoke(t *testing.T) {
	hs := ordersHandlers()
	ctx := context.Background()
	payload, err := types.NewPayload("CreateOrder", createOrder{OrderID: "o-1", Amount: 10})
	require.NoError(t, err)

	tests := []struct {
		name     string
		req      *relayv1.HandleRequest
		wantCode types.Code
		events   int
	}{
		{
			name:   "command with decoded payload",
			req:    &relayv1.HandleRequest{Kind: relayv1.KindCommand, Type: "CreateOrder", Payload: payload},
			events: 1,
		},
		{
			name:     "unknown type",
			req:      &relayv1.HandleRequest{Kind: relayv1.KindCommand, Type: "CancelOrder"},
			wantCode: types.CodeValidation,
		},
		{
			name: "undecodable payload",
			req: &relayv1.HandleRequest{Kind: relayv1.KindCommand, Type: "CreateOrder",
				Payload: types.Payload{Type: "CreateOrder", Data: json.RawMessage(`{"amount":"ten"}`)}},
			wantCode: types.CodeValidation,
		},
		{
			name:   "query events are dropped",
			req:    &relayv1.HandleRequest{Kind: relayv1.KindQuery, Type: "GetOrder"},
			events: 0,
		},
		{
			name:     "transient failure",
			req:      &relayv1.HandleRequest{Kind: relayv1.KindCommand, Type: "Flaky"},
			wantCode: types.CodeTransient,
		},
		{
			name:     "plain failure",
			req:      &relayv1.HandleRequest{Kind: relayv1.KindCommand, Type: "Broken"},
			wantCode: types.CodeDispatchFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := hs.Invoke(ctx, tt.req)
			assert.Equal(t, tt.wantCode, resp.ErrorCode)
			assert.Len(t, resp.Events, tt.events)
			if tt.wantCode != types.CodeOK {
				assert.NotEmpty(t, resp.Error)
			}
		})
	}
}

func TestClientEndToEnd(t *testing.T) {
	co := newCoordinator(t)
	hs := ordersHandlers()
	port := serveHandlers(t, hs)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inst := hs.Describe(types.ServiceInstance{
		InstanceID:  "orders-1",
		ServiceName: "orders",
		Host:        "127.0.0.1",
		Port:        port,
		Status:      types.InstanceStatusUp,
	})
	id, err := co.client.Register(ctx, inst)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	healthy, err := co.client.Healthy(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, healthy, 1)
	assert.ElementsMatch(t, hs.Capabilities(), healthy[0].CommandTypes)

	payload, err := types.NewPayload("CreateOrder", createOrder{OrderID: "o-1", Amount: 10})
	require.NoError(t, err)
	resp, err := co.client.SubmitCommand(ctx, types.CommandEnvelope{Type: "CreateOrder", AggregateID: "order-1", Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, "orders-1", resp.TargetInstance)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, int64(1), resp.Events[0].SequenceNumber)

	stored, err := co.client.LoadEvents(ctx, "order-1", 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "OrderCreated", stored[0].EventType)

	_, err = co.client.SubmitCommand(ctx, types.CommandEnvelope{Type: "CreateOrder", AggregateID: "order-2",
		Payload: types.Payload{Type: "CreateOrder", Data: json.RawMessage(`{"amount":0}`)}})
	assert.ErrorIs(t, err, types.ErrValidation)

	q, err := co.client.SubmitQuery(ctx, types.QueryEnvelope{Type: "GetOrder"})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, q.Status)
	assert.JSONEq(t, `{"orderId":"o-1"}`, string(q.Result.Data))

	require.NoError(t, co.client.Unregister(ctx, "orders-1"))
	assert.ErrorIs(t, co.client.Unregister(ctx, "orders-1"), types.ErrNotFound)

	_, err = co.client.SubmitCommand(ctx, types.CommandEnvelope{Type: "CreateOrder", AggregateID: "order-3", Payload: payload})
	assert.ErrorIs(t, err, types.ErrNoHealthyInstance)
}

func TestClientRegisterValidation(t *testing.T) {
	co := newCoordinator(t)
	_, err := co.client.Register(context.Background(), types.ServiceInstance{ServiceName: "orders"})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestClientAppendEvent(t *testing.T) {
	co := newCoordinator(t)
	ctx := context.Background()

	ev := types.Event{AggregateID: "cart-1", AggregateType: "Cart", SequenceNumber: 1, EventType: "CartOpened"}
	stored, err := co.client.AppendEvent(ctx, ev)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.EventID)

	_, err = co.client.AppendEvent(ctx, ev)
	assert.ErrorIs(t, err, types.ErrConcurrencyConflict)

	next, err := co.client.NextSequence(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)

	require.NoError(t, co.client.SaveSnapshot(ctx, types.Snapshot{
		AggregateID: "cart-1", AggregateType: "Cart", SequenceNumber: 1, Data: json.RawMessage(`{"items":0}`),
	}))
	snap, found, err := co.client.LoadSnapshot(ctx, "cart-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), snap.SequenceNumber)
}

func TestHeartbeats(t *testing.T) {
	co := newCoordinator(t)
	ctx := context.Background()
	_, err := co.client.Register(ctx, types.ServiceInstance{
		InstanceID: "orders-1", ServiceName: "orders", Host: "127.0.0.1", Port: 7001, Status: types.InstanceStatusUp,
	})
	require.NoError(t, err)

	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- co.client.Heartbeats(hbCtx, "orders-1", 20*time.Millisecond, func() types.InstanceStatus {
			return types.InstanceStatusDraining
		})
	}()

	require.Eventually(t, func() bool {
		inst, ok := co.reg.GetInstance("orders-1")
		return ok && inst.Status == types.InstanceStatusDraining
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Heartbeats did not return after cancel")
	}
}

func TestHeartbeatsRejectsZeroInterval(t *testing.T) {
	co := newCoordinator(t)
	err := co.client.Heartbeats(context.Background(), "orders-1", 0, nil)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestWatchServices(t *testing.T) {
	co := newCoordinator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errStop := errors.New("stop")
	changes := make(chan types.ServiceChangeNotification, 1)
	done := make(chan error, 1)
	go func() {
		done <- co.client.WatchServices(ctx, "orders", func(n types.ServiceChangeNotification) error {
			changes <- n
			return errStop
		})
	}()

	require.Eventually(t, func() bool { return co.reg.WatcherCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	_, err := co.client.Register(ctx, types.ServiceInstance{InstanceID: "orders-1", ServiceName: "orders", Status: types.InstanceStatusUp})
	require.NoError(t, err)

	select {
	case n := <-changes:
		assert.Equal(t, types.ChangeAdded, n.ChangeType)
		assert.Equal(t, "orders-1", n.Instance.InstanceID)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
	assert.ErrorIs(t, <-done, errStop)
}
