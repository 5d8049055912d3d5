package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/api/relayv1"
	"github.com/cuemby/relay/pkg/dispatch"
	"github.com/cuemby/relay/pkg/partition"
	"github.com/cuemby/relay/pkg/registry"
	"github.com/cuemby/relay/pkg/resilience"
	"github.com/cuemby/relay/pkg/types"
)

func fastPolicy() *resilience.Wrapper {
	return resilience.New(resilience.Config{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MinimumCalls:   100,
	}, nil)
}

func register(t *testing.T, reg *registry.Registry, id string, caps ...string) {
	t.Helper()
	_, err := reg.Register(context.Background(), types.ServiceInstance{
		InstanceID:   id,
		ServiceName:  "orders",
		Host:         "127.0.0.1",
		Port:         9000,
		Status:       types.InstanceStatusUp,
		CommandTypes: caps,
	})
	require.NoError(t, err)
}

// recorder answers every dispatch and remembers the targets
type recorder struct {
	mu      sync.Mutex
	targets []string
	fail    map[string]error
}

func (r *recorder) Dispatch(_ context.Context, inst types.ServiceInstance, req *relayv1.HandleRequest) (*relayv1.HandleResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, inst.InstanceID)
	if err := r.fail[inst.InstanceID]; err != nil {
		return nil, err
	}
	return &relayv1.HandleResponse{
		Result: types.Payload{Type: req.Type + "Result", Data: []byte(`{}`)},
		Events: []types.Event{{AggregateID: req.AggregateID, SequenceNumber: 1, EventType: "OrderCreated"}},
	}, nil
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.targets...)
}

func TestCommandRoute_SingleCapableInstance(t *testing.T) {
	reg := registry.New()
	register(t, reg, "svc-1", "CreateOrder")
	rec := &recorder{}
	r := NewCommandRouter(reg, rec, fastPolicy())

	out := r.Route(context.Background(), types.CommandEnvelope{Type: "CreateOrder", AggregateID: "order-42"})
	require.True(t, out.OK(), out.Message)
	assert.Equal(t, types.OutcomeSuccess, out.Kind)
	assert.Equal(t, "svc-1", out.TargetInstance)
	assert.Equal(t, "CreateOrderResult", out.Result.Type)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "order-42", out.Events[0].AggregateID)
}

func TestCommandRoute_NoHealthyInstance(t *testing.T) {
	reg := registry.New()
	register(t, reg, "svc-1", "CancelOrder")
	rec := &recorder{}
	r := NewCommandRouter(reg, rec, fastPolicy())

	out := r.Route(context.Background(), types.CommandEnvelope{Type: "CreateOrder", AggregateID: "order-42"})
	assert.Equal(t, types.OutcomeError, out.Kind)
	assert.Equal(t, types.CodeNoHealthyInstance, out.ErrorCode)
	assert.Contains(t, out.Message, "no healthy instance for type")
	assert.Empty(t, rec.calls())
}

func TestCommandRoute_Validation(t *testing.T) {
	r := NewCommandRouter(registry.New(), &recorder{}, fastPolicy())

	out := r.Route(context.Background(), types.CommandEnvelope{Type: "CreateOrder"})
	assert.Equal(t, types.CodeValidation, out.ErrorCode)

	out = r.Route(context.Background(), types.CommandEnvelope{AggregateID: "order-1"})
	assert.Equal(t, types.CodeValidation, out.ErrorCode)
}

func TestCommandRoute_AggregateAffinity(t *testing.T) {
	reg := registry.New()
	for _, id := range []string{"svc-c", "svc-a", "svc-b"} {
		register(t, reg, id, "CreateOrder")
	}
	rec := &recorder{}
	r := NewCommandRouter(reg, rec, fastPolicy())
	sorted := []string{"svc-a", "svc-b", "svc-c"}

	for i := 0; i < 20; i++ {
		agg := fmt.Sprintf("order-%d", i)
		want := sorted[partition.Partition(agg, 3)]
		for j := 0; j < 3; j++ {
			out := r.Route(context.Background(), types.CommandEnvelope{Type: "CreateOrder", AggregateID: agg})
			require.True(t, out.OK())
			assert.Equal(t, want, out.TargetInstance, "aggregate %s", agg)
		}
	}
}

func TestCommandRoute_NoFallback(t *testing.T) {
	reg := registry.New()
	register(t, reg, "svc-a", "CreateOrder")
	register(t, reg, "svc-b", "CreateOrder")
	agg := "order-7"
	target := []string{"svc-a", "svc-b"}[partition.Partition(agg, 2)]

	rec := &recorder{fail: map[string]error{target: fmt.Errorf("%w: connection refused", types.ErrTransient)}}
	r := NewCommandRouter(reg, rec, fastPolicy())

	out := r.Route(context.Background(), types.CommandEnvelope{Type: "CreateOrder", AggregateID: agg})
	assert.Equal(t, types.OutcomeError, out.Kind)
	assert.Equal(t, types.CodeTransient, out.ErrorCode)
	assert.Equal(t, target, out.TargetInstance)
	// retried on the same instance only
	assert.Equal(t, []string{target, target}, rec.calls())
}

func TestCommandRoute_Async(t *testing.T) {
	reg := registry.New()
	register(t, reg, "svc-1", "CreateOrder")

	release := make(chan struct{})
	var called atomic.Int32
	d := dispatch.DispatcherFunc(func(ctx context.Context, _ types.ServiceInstance, _ *relayv1.HandleRequest) (*relayv1.HandleResponse, error) {
		<-release
		called.Add(1)
		return &relayv1.HandleResponse{}, nil
	})
	r := NewCommandRouter(reg, d, fastPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	out := r.Route(ctx, types.CommandEnvelope{
		Type:        "CreateOrder",
		AggregateID: "order-42",
		Metadata:    map[string]string{types.MetadataAsync: "true"},
	})
	cancel()
	assert.Equal(t, types.OutcomeRouted, out.Kind)
	assert.Equal(t, "svc-1", out.TargetInstance)

	close(release)
	r.Wait()
	assert.Equal(t, int32(1), called.Load())
}

func TestCommandRoute_DispatchTimeout(t *testing.T) {
	reg := registry.New()
	register(t, reg, "svc-1", "CreateOrder")
	d := dispatch.DispatcherFunc(func(ctx context.Context, _ types.ServiceInstance, _ *relayv1.HandleRequest) (*relayv1.HandleResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r := NewCommandRouter(reg, d, fastPolicy(), WithDispatchTimeout(10*time.Millisecond))

	out := r.Route(context.Background(), types.CommandEnvelope{Type: "CreateOrder", AggregateID: "order-1"})
	assert.Equal(t, types.CodeTransient, out.ErrorCode)
}

func TestCommandRoute_CircuitOpen(t *testing.T) {
	reg := registry.New()
	register(t, reg, "svc-1", "CreateOrder")
	rec := &recorder{fail: map[string]error{"svc-1": types.ErrTransient}}
	w := resilience.New(resilience.Config{
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MinimumCalls:   2,
		OpenTimeout:    time.Minute,
	}, nil)
	r := NewCommandRouter(reg, rec, w)
	cmd := types.CommandEnvelope{Type: "CreateOrder", AggregateID: "order-1"}

	r.Route(context.Background(), cmd)
	r.Route(context.Background(), cmd)
	out := r.Route(context.Background(), cmd)
	assert.Equal(t, types.CodeCircuitOpen, out.ErrorCode)
	assert.Len(t, rec.calls(), 2)

	state, ok := w.State("orders:CreateOrder")
	require.True(t, ok)
	assert.Equal(t, types.CircuitOpen, state)
}

func TestQueryRoute_RoundRobin(t *testing.T) {
	reg := registry.New()
	for _, id := range []string{"svc-a", "svc-b", "svc-c"} {
		register(t, reg, id, "GetOrder")
	}
	rec := &recorder{}
	r := NewQueryRouter(reg, rec, fastPolicy())

	for i := 0; i < 6; i++ {
		out := r.Route(context.Background(), types.QueryEnvelope{Type: "GetOrder"})
		require.True(t, out.OK())
	}
	assert.Equal(t, []string{"svc-a", "svc-b", "svc-c", "svc-a", "svc-b", "svc-c"}, rec.calls())
}

func TestQueryRoute_FallsBackOnTransient(t *testing.T) {
	reg := registry.New()
	register(t, reg, "svc-a", "GetOrder")
	register(t, reg, "svc-b", "GetOrder")
	rec := &recorder{fail: map[string]error{"svc-a": types.ErrTransient}}
	r := NewQueryRouter(reg, rec, fastPolicy())

	out := r.Route(context.Background(), types.QueryEnvelope{Type: "GetOrder"})
	require.True(t, out.OK(), out.Message)
	assert.Equal(t, "svc-b", out.TargetInstance)
	assert.Equal(t, []string{"svc-a", "svc-a", "svc-b"}, rec.calls())
}

func TestQueryRoute_StopsOnNonTransient(t *testing.T) {
	reg := registry.New()
	register(t, reg, "svc-a", "GetOrder")
	register(t, reg, "svc-b", "GetOrder")
	rec := &recorder{fail: map[string]error{"svc-a": fmt.Errorf("%w: bad filter", types.ErrValidation)}}
	r := NewQueryRouter(reg, rec, fastPolicy())

	out := r.Route(context.Background(), types.QueryEnvelope{Type: "GetOrder"})
	assert.Equal(t, types.CodeValidation, out.ErrorCode)
	assert.Equal(t, "svc-a", out.TargetInstance)
	assert.Equal(t, []string{"svc-a"}, rec.calls())
}

func TestQueryRoute_AllFail(t *testing.T) {
	reg := registry.New()
	register(t, reg, "svc-a", "GetOrder")
	register(t, reg, "svc-b", "GetOrder")
	rec := &recorder{fail: map[string]error{"svc-a": types.ErrTransient, "svc-b": types.ErrTransient}}
	r := NewQueryRouter(reg, rec, fastPolicy())

	out := r.Route(context.Background(), types.QueryEnvelope{Type: "GetOrder"})
	assert.Equal(t, types.CodeTransient, out.ErrorCode)

	out = r.Route(context.Background(), types.QueryEnvelope{Type: "ListOrders"})
	assert.Equal(t, types.CodeNoHealthyInstance, out.ErrorCode)
}
