package relayv1

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cuemby/relay/pkg/types"
)

const (
	Discovery_GetHealthyServices_FullMethodName = "/relay.v1.Discovery/GetHealthyServices"
	Discovery_ListInstances_FullMethodName      = "/relay.v1.Discovery/ListInstances"
	Discovery_WatchServices_FullMethodName      = "/relay.v1.Discovery/WatchServices"
	Discovery_WatchHealth_FullMethodName        = "/relay.v1.Discovery/WatchHealth"
)

// DiscoveryClient is the client API for the relay.v1.Discovery service.
type DiscoveryClient interface {
	GetHealthyServices(ctx context.Context, in *GetHealthyServicesRequest, opts ...grpc.CallOption) (*GetHealthyServicesResponse, error)
	ListInstances(ctx context.Context, in *ListInstancesRequest, opts ...grpc.CallOption) (*ListInstancesResponse, error)
	WatchServices(ctx context.Context, in *WatchServicesRequest, opts ...grpc.CallOption) (Discovery_WatchServicesClient, error)
	WatchHealth(ctx context.Context, in *WatchHealthRequest, opts ...grpc.CallOption) (Discovery_WatchHealthClient, error)
}

type discoveryClient struct {
	cc grpc.ClientConnInterface
}

func NewDiscoveryClient(cc grpc.ClientConnInterface) DiscoveryClient {
	return &discoveryClient{cc}
}

func (c *discoveryClient) GetHealthyServices(ctx context.Context, in *GetHealthyServicesRequest, opts ...grpc.CallOption) (*GetHealthyServicesResponse, error) {
	out := new(GetHealthyServicesResponse)
	if err := c.cc.Invoke(ctx, Discovery_GetHealthyServices_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *discoveryClient) ListInstances(ctx context.Context, in *ListInstancesRequest, opts ...grpc.CallOption) (*ListInstancesResponse, error) {
	out := new(ListInstancesResponse)
	if err := c.cc.Invoke(ctx, Discovery_ListInstances_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *discoveryClient) WatchServices(ctx context.Context, in *WatchServicesRequest, opts ...grpc.CallOption) (Discovery_WatchServicesClient, error) {
	stream, err := c.cc.NewStream(ctx, &Discovery_ServiceDesc.Streams[0], Discovery_WatchServices_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &discoveryWatchServicesClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type Discovery_WatchServicesClient interface {
	Recv() (*ServiceChange, error)
	grpc.ClientStream
}

type discoveryWatchServicesClient struct {
	grpc.ClientStream
}

func (x *discoveryWatchServicesClient) Recv() (*ServiceChange, error) {
	m := new(ServiceChange)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *discoveryClient) WatchHealth(ctx context.Context, in *WatchHealthRequest, opts ...grpc.CallOption) (Discovery_WatchHealthClient, error) {
	stream, err := c.cc.NewStream(ctx, &Discovery_ServiceDesc.Streams[1], Discovery_WatchHealth_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &discoveryWatchHealthClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type Discovery_WatchHealthClient interface {
	Recv() (*types.HealthStreamResponse, error)
	grpc.ClientStream
}

type discoveryWatchHealthClient struct {
	grpc.ClientStream
}

func (x *discoveryWatchHealthClient) Recv() (*types.HealthStreamResponse, error) {
	m := new(types.HealthStreamResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// DiscoveryServer is the server API for the relay.v1.Discovery service.
type DiscoveryServer interface {
	GetHealthyServices(context.Context, *GetHealthyServicesRequest) (*GetHealthyServicesResponse, error)
	ListInstances(context.Context, *ListInstancesRequest) (*ListInstancesResponse, error)
	WatchServices(*WatchServicesRequest, Discovery_WatchServicesServer) error
	WatchHealth(*WatchHealthRequest, Discovery_WatchHealthServer) error
}

func RegisterDiscoveryServer(s grpc.ServiceRegistrar, srv DiscoveryServer) {
	s.RegisterService(&Discovery_ServiceDesc, srv)
}

func _Discovery_GetHealthyServices_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetHealthyServicesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DiscoveryServer).GetHealthyServices(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Discovery_GetHealthyServices_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DiscoveryServer).GetHealthyServices(ctx, req.(*GetHealthyServicesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Discovery_ListInstances_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListInstancesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DiscoveryServer).ListInstances(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Discovery_ListInstances_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DiscoveryServer).ListInstances(ctx, req.(*ListInstancesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Discovery_WatchServices_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(WatchServicesRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DiscoveryServer).WatchServices(m, &discoveryWatchServicesServer{stream})
}

type Discovery_WatchServicesServer interface {
	Send(*ServiceChange) error
	grpc.ServerStream
}

type discoveryWatchServicesServer struct {
	grpc.ServerStream
}

func (x *discoveryWatchServicesServer) Send(m *ServiceChange) error {
	return x.ServerStream.SendMsg(m)
}

func _Discovery_WatchHealth_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(WatchHealthRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DiscoveryServer).WatchHealth(m, &discoveryWatchHealthServer{stream})
}

type Discovery_WatchHealthServer interface {
	Send(*types.HealthStreamResponse) error
	grpc.ServerStream
}

type discoveryWatchHealthServer struct {
	grpc.ServerStream
}

func (x *discoveryWatchHealthServer) Send(m *types.HealthStreamResponse) error {
	return x.ServerStream.SendMsg(m)
}

// Discovery_ServiceDesc is the grpc.ServiceDesc for the relay.v1.Discovery service.
var Discovery_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "relay.v1.Discovery",
	HandlerType: (*DiscoveryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetHealthyServices",
			Handler:    _Discovery_GetHealthyServices_Handler,
		},
		{
			MethodName: "ListInstances",
			Handler:    _Discovery_ListInstances_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchServices",
			Handler:       _Discovery_WatchServices_Handler,
			ServerStreams: true,
		},
		{
			StreamName:    "WatchHealth",
			Handler:       _Discovery_WatchHealth_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "relay/v1/relay.json",
}
