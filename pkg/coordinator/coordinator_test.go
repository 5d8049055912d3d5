package coordinator

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/client"
	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/saga"
	"github.com/cuemby/relay/pkg/types"
)

func testConfig(t *testing.T, overrides map[string]any) config.Config {
	t.Helper()
	v := config.New()
	v.Set("node.id", "node-test")
	v.Set("node.data_dir", t.TempDir())
	v.Set("api.address", "127.0.0.1:0")
	v.Set("health.address", "")
	for k, val := range overrides {
		v.Set(k, val)
	}
	cfg, err := config.LoadFrom(v, "")
	require.NoError(t, err)
	return cfg
}

func orderSaga() saga.Definition {
	return saga.Definition{
		Name: "fulfilment",
		Start: map[string]saga.Transition{
			"OrderCreated": func(saga.State, types.Event) (saga.State, error) { return "AWAITING_PAYMENT", nil },
		},
		Terminal:       []saga.State{"DONE"},
		CorrelationKey: func(e types.Event) string { return e.AggregateID },
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.Store.Driver = "cassandra"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestCoordinatorLifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, nil)

	c, err := New(ctx, cfg, WithSaga(orderSaga()), WithVersion("test"))
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	assert.Error(t, c.Start(ctx))
	assert.Equal(t, metrics.StatusReady, c.Health().Readiness().Status)

	cl, err := client.NewClient(c.Addr())
	require.NoError(t, err)
	defer cl.Close()

	_, err = cl.Register(ctx, types.ServiceInstance{
		InstanceID: "orders-1", ServiceName: "orders", Host: "127.0.0.1", Port: 7001, Status: types.InstanceStatusUp,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Pipeline().SubscriberCount() >= 1 }, 5*time.Second, 10*time.Millisecond)
	_, err = cl.AppendEvent(ctx, types.Event{AggregateID: "order-1", AggregateType: "Order", SequenceNumber: 1, EventType: "OrderCreated"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		inst, ok, err := c.Sagas().Get(ctx, "fulfilment", "order-1")
		return err == nil && ok && inst.State == "AWAITING_PAYMENT"
	}, 5*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(stopCtx))

	// a second node on the same data directory recovers registrations,
	// events and saga state
	again, err := New(ctx, cfg, WithSaga(orderSaga()))
	require.NoError(t, err)
	require.NoError(t, again.Start(ctx))
	defer again.Stop(context.Background())

	inst, ok := again.Registry().GetInstance("orders-1")
	require.True(t, ok)
	assert.Equal(t, types.InstanceStatusUnknown, inst.Status)

	stored, err := again.Pipeline().LoadSince(ctx, "order-1", 1)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	sg, ok, err := again.Sagas().Get(ctx, "fulfilment", "order-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saga.State("AWAITING_PAYMENT"), sg.State)
}

func TestCoordinatorMemoryStore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, map[string]any{"store.driver": config.StoreMemory})

	c, err := New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	defer c.Stop(context.Background())

	cl, err := client.NewClient(c.Addr())
	require.NoError(t, err)
	defer cl.Close()

	_, err = cl.SubmitCommand(ctx, types.CommandEnvelope{Type: "CreateOrder", AggregateID: "order-1"})
	assert.ErrorIs(t, err, types.ErrNoHealthyInstance)
}

func TestStopWithoutStart(t *testing.T) {
	c, err := New(context.Background(), testConfig(t, nil))
	require.NoError(t, err)
	assert.NoError(t, c.Stop(context.Background()))
}

func TestCoordinatorDNS(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, map[string]any{
		"store.driver": config.StoreMemory,
		"dns.enabled":  true,
		"dns.address":  "127.0.0.1:0",
	})

	c, err := New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	defer c.Stop(context.Background())
	require.NotNil(t, c.DNS())

	_, err = c.Registry().Register(ctx, types.ServiceInstance{
		InstanceID: "orders-1", ServiceName: "orders", Host: "127.0.0.1", Port: 7001, Status: types.InstanceStatusUp,
	})
	require.NoError(t, err)

	m := new(mdns.Msg)
	m.SetQuestion("_orders._tcp.relay.", mdns.TypeSRV)
	resp, _, err := (&mdns.Client{Timeout: 2 * time.Second}).Exchange(m, c.DNS().Addr())
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, uint16(7001), resp.Answer[0].(*mdns.SRV).Port)
}

func TestStopDrainsAsyncCommands(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, testConfig(t, map[string]any{"store.driver": config.StoreMemory}))
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	port := serveShipping(t, func(context.Context, *client.Request) (*client.Reply, error) {
		close(entered)
		<-release
		finished.Store(true)
		return &client.Reply{}, nil
	})
	_, err = c.Registry().Register(ctx, types.ServiceInstance{
		InstanceID:   "shipping-1",
		ServiceName:  "shipping",
		Host:         "127.0.0.1",
		Port:         port,
		Status:       types.InstanceStatusUp,
		CommandTypes: []string{"ShipOrder"},
	})
	require.NoError(t, err)

	cl, err := client.NewClient(c.Addr())
	require.NoError(t, err)
	defer cl.Close()

	resp, err := cl.SubmitCommand(ctx, types.CommandEnvelope{
		Type:        "ShipOrder",
		AggregateID: "order-1",
		Metadata:    map[string]string{types.MetadataAsync: "true"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeRouted, resp.Status)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never received the async command")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop(context.Background()) }()

	assert.Never(t, func() bool { return len(stopped) > 0 }, 200*time.Millisecond, 10*time.Millisecond)
	close(release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}
	assert.True(t, finished.Load())
}

// serveShipping hosts a handler for ShipOrder on a loopback port
func serveShipping(t *testing.T, fn client.HandlerFunc) int {
	t.Helper()
	hs := client.NewHandlerServer(nil)
	hs.Handle("ShipOrder", fn)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hs.Serve(ctx, lis) }()
	return lis.Addr().(*net.TCPAddr).Port
}

func TestDeregistrationClosesInstanceConnection(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, testConfig(t, map[string]any{"store.driver": config.StoreMemory}))
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	defer c.Stop(context.Background())

	port := serveShipping(t, func(context.Context, *client.Request) (*client.Reply, error) {
		return &client.Reply{}, nil
	})
	shipping := func(id string) types.ServiceInstance {
		return types.ServiceInstance{
			InstanceID: id, ServiceName: "shipping", Host: "127.0.0.1", Port: port,
			Status: types.InstanceStatusUp, CommandTypes: []string{"ShipOrder"},
		}
	}

	cl, err := client.NewClient(c.Addr())
	require.NoError(t, err)
	defer cl.Close()

	_, err = cl.Register(ctx, shipping("shipping-1"))
	require.NoError(t, err)
	_, err = cl.Register(ctx, shipping("shipping-2"))
	require.NoError(t, err)
	_, err = cl.SubmitCommand(ctx, types.CommandEnvelope{Type: "ShipOrder", AggregateID: "order-1"})
	require.NoError(t, err)
	probe := shipping("")
	addr := probe.Address()
	require.True(t, c.dispatcher.Connected(addr))

	// still used by shipping-2
	require.NoError(t, cl.Unregister(ctx, "shipping-1"))
	assert.True(t, c.dispatcher.Connected(addr))

	require.NoError(t, cl.Unregister(ctx, "shipping-2"))
	assert.False(t, c.dispatcher.Connected(addr))
}
