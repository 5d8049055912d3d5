package relayv1

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cuemby/relay/pkg/types"
)

const (
	Registry_RegisterService_FullMethodName   = "/relay.v1.Registry/RegisterService"
	Registry_UnregisterService_FullMethodName = "/relay.v1.Registry/UnregisterService"
	Registry_SendHeartbeat_FullMethodName     = "/relay.v1.Registry/SendHeartbeat"
)

// RegistryClient is the client API for the relay.v1.Registry service.
type RegistryClient interface {
	RegisterService(ctx context.Context, in *RegisterServiceRequest, opts ...grpc.CallOption) (*RegisterServiceResponse, error)
	UnregisterService(ctx context.Context, in *UnregisterServiceRequest, opts ...grpc.CallOption) (*UnregisterServiceResponse, error)
	SendHeartbeat(ctx context.Context, opts ...grpc.CallOption) (Registry_SendHeartbeatClient, error)
}

type registryClient struct {
	cc grpc.ClientConnInterface
}

func NewRegistryClient(cc grpc.ClientConnInterface) RegistryClient {
	return &registryClient{cc}
}

func (c *registryClient) RegisterService(ctx context.Context, in *RegisterServiceRequest, opts ...grpc.CallOption) (*RegisterServiceResponse, error) {
	out := new(RegisterServiceResponse)
	if err := c.cc.Invoke(ctx, Registry_RegisterService_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *registryClient) UnregisterService(ctx context.Context, in *UnregisterServiceRequest, opts ...grpc.CallOption) (*UnregisterServiceResponse, error) {
	out := new(UnregisterServiceResponse)
	if err := c.cc.Invoke(ctx, Registry_UnregisterService_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *registryClient) SendHeartbeat(ctx context.Context, opts ...grpc.CallOption) (Registry_SendHeartbeatClient, error) {
	stream, err := c.cc.NewStream(ctx, &Registry_ServiceDesc.Streams[0], Registry_SendHeartbeat_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &registrySendHeartbeatClient{stream}, nil
}

type Registry_SendHeartbeatClient interface {
	Send(*types.Heartbeat) error
	Recv() (*types.HeartbeatAck, error)
	grpc.ClientStream
}

type registrySendHeartbeatClient struct {
	grpc.ClientStream
}

func (x *registrySendHeartbeatClient) Send(m *types.Heartbeat) error {
	return x.ClientStream.SendMsg(m)
}

func (x *registrySendHeartbeatClient) Recv() (*types.HeartbeatAck, error) {
	m := new(types.HeartbeatAck)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RegistryServer is the server API for the relay.v1.Registry service.
type RegistryServer interface {
	RegisterService(context.Context, *RegisterServiceRequest) (*RegisterServiceResponse, error)
	UnregisterService(context.Context, *UnregisterServiceRequest) (*UnregisterServiceResponse, error)
	SendHeartbeat(Registry_SendHeartbeatServer) error
}

func RegisterRegistryServer(s grpc.ServiceRegistrar, srv RegistryServer) {
	s.RegisterService(&Registry_ServiceDesc, srv)
}

func _Registry_RegisterService_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RegisterServiceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RegistryServer).RegisterService(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Registry_RegisterService_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RegistryServer).RegisterService(ctx, req.(*RegisterServiceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Registry_UnregisterService_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(UnregisterServiceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RegistryServer).UnregisterService(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Registry_UnregisterService_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RegistryServer).UnregisterService(ctx, req.(*UnregisterServiceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Registry_SendHeartbeat_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(RegistryServer).SendHeartbeat(&registrySendHeartbeatServer{stream})
}

type Registry_SendHeartbeatServer interface {
	Send(*types.HeartbeatAck) error
	Recv() (*types.Heartbeat, error)
	grpc.ServerStream
}

type registrySendHeartbeatServer struct {
	grpc.ServerStream
}

func (x *registrySendHeartbeatServer) Send(m *types.HeartbeatAck) error {
	return x.ServerStream.SendMsg(m)
}

func (x *registrySendHeartbeatServer) Recv() (*types.Heartbeat, error) {
	m := new(types.Heartbeat)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Registry_ServiceDesc is the grpc.ServiceDesc for the relay.v1.Registry service.
var Registry_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "relay.v1.Registry",
	HandlerType: (*RegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RegisterService",
			Handler:    _Registry_RegisterService_Handler,
		},
		{
			MethodName: "UnregisterService",
			Handler:    _Registry_UnregisterService_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SendHeartbeat",
			Handler:       _Registry_SendHeartbeat_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "relay/v1/relay.json",
}
