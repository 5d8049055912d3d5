package relayv1

import (
	"context"

	"google.golang.org/grpc"
)

const (
	Queries_SubmitQuery_FullMethodName = "/relay.v1.Queries/SubmitQuery"
)

// QueriesClient is the client API for the relay.v1.Queries service.
type QueriesClient interface {
	SubmitQuery(ctx context.Context, in *SubmitQueryRequest, opts ...grpc.CallOption) (*SubmitQueryResponse, error)
}

type queriesClient struct {
	cc grpc.ClientConnInterface
}

func NewQueriesClient(cc grpc.ClientConnInterface) QueriesClient {
	return &queriesClient{cc}
}

func (c *queriesClient) SubmitQuery(ctx context.Context, in *SubmitQueryRequest, opts ...grpc.CallOption) (*SubmitQueryResponse, error) {
	out := new(SubmitQueryResponse)
	if err := c.cc.Invoke(ctx, Queries_SubmitQuery_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// QueriesServer is the server API for the relay.v1.Queries service.
type QueriesServer interface {
	SubmitQuery(context.Context, *SubmitQueryRequest) (*SubmitQueryResponse, error)
}

func RegisterQueriesServer(s grpc.ServiceRegistrar, srv QueriesServer) {
	s.RegisterService(&Queries_ServiceDesc, srv)
}

func _Queries_SubmitQuery_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SubmitQueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueriesServer).SubmitQuery(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Queries_SubmitQuery_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(QueriesServer).SubmitQuery(ctx, req.(*SubmitQueryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Queries_ServiceDesc is the grpc.ServiceDesc for the relay.v1.Queries service.
var Queries_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "relay.v1.Queries",
	HandlerType: (*QueriesServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SubmitQuery",
			Handler:    _Queries_SubmitQuery_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "relay/v1/relay.json",
}
