/*
Package client is the Go SDK for application instances and tools that talk
to a relay coordinator.

Two halves live here. Client dials the coordinator and wraps the relay.v1
Registry, Discovery, Commands, Queries and Events services. HandlerServer is
the other direction: it hosts relay.v1.Handler inside the application so the
coordinator can deliver the commands and queries routed to it.

# Hosting handlers

	reg := types.NewTypeRegistry()
	types.RegisterJSON[CreateOrder](reg, "CreateOrder")

	hs := client.NewHandlerServer(reg)
	hs.Handle("CreateOrder", func(ctx context.Context, req *client.Request) (*client.Reply, error) {
		cmd := req.Value.(*CreateOrder)
		...
		return &client.Reply{Events: []types.Event{{EventType: "OrderCreated"}}}, nil
	})
	go hs.Serve(ctx, lis)

The capability list sent at registration comes from the registered handlers:

	c, _ := client.NewClient("coordinator:7070")
	inst := hs.Describe(types.ServiceInstance{
		InstanceID:  "orders-1",
		ServiceName: "orders",
		Host:        "10.0.0.12",
		Port:        7001,
		Status:      types.InstanceStatusUp,
	})
	c.Register(ctx, inst)
	go c.Heartbeats(ctx, inst.InstanceID, 5*time.Second, nil)

Handler errors wrapping types.ErrTransient are retried by the coordinator and
count against the instance's circuit breaker. types.ErrValidation is a
rejection and is returned to the submitter as is.

# Errors

Client methods return errors that wrap the types sentinels, whether the
coordinator reported the failure as a gRPC status or inside a structured
response, so errors.Is(err, types.ErrNoHealthyInstance) works either way.
*/
package client
