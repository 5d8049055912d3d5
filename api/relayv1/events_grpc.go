package relayv1

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cuemby/relay/pkg/types"
)

const (
	Events_AppendEvent_FullMethodName         = "/relay.v1.Events/AppendEvent"
	Events_NextSequence_FullMethodName        = "/relay.v1.Events/NextSequence"
	Events_LoadEvents_FullMethodName          = "/relay.v1.Events/LoadEvents"
	Events_SaveSnapshot_FullMethodName        = "/relay.v1.Events/SaveSnapshot"
	Events_LoadSnapshot_FullMethodName        = "/relay.v1.Events/LoadSnapshot"
	Events_SubscribeEvents_FullMethodName     = "/relay.v1.Events/SubscribeEvents"
	Events_StreamNotifications_FullMethodName = "/relay.v1.Events/StreamNotifications"
)

// EventsClient is the client API for the relay.v1.Events service.
type EventsClient interface {
	AppendEvent(ctx context.Context, in *AppendEventRequest, opts ...grpc.CallOption) (*AppendEventResponse, error)
	NextSequence(ctx context.Context, in *NextSequenceRequest, opts ...grpc.CallOption) (*NextSequenceResponse, error)
	LoadEvents(ctx context.Context, in *LoadEventsRequest, opts ...grpc.CallOption) (*LoadEventsResponse, error)
	SaveSnapshot(ctx context.Context, in *SaveSnapshotRequest, opts ...grpc.CallOption) (*SaveSnapshotResponse, error)
	LoadSnapshot(ctx context.Context, in *LoadSnapshotRequest, opts ...grpc.CallOption) (*LoadSnapshotResponse, error)
	SubscribeEvents(ctx context.Context, in *SubscribeEventsRequest, opts ...grpc.CallOption) (Events_SubscribeEventsClient, error)
	StreamNotifications(ctx context.Context, in *StreamNotificationsRequest, opts ...grpc.CallOption) (Events_StreamNotificationsClient, error)
}

type eventsClient struct {
	cc grpc.ClientConnInterface
}

func NewEventsClient(cc grpc.ClientConnInterface) EventsClient {
	return &eventsClient{cc}
}

func (c *eventsClient) AppendEvent(ctx context.Context, in *AppendEventRequest, opts ...grpc.CallOption) (*AppendEventResponse, error) {
	out := new(AppendEventResponse)
	if err := c.cc.Invoke(ctx, Events_AppendEvent_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *eventsClient) NextSequence(ctx context.Context, in *NextSequenceRequest, opts ...grpc.CallOption) (*NextSequenceResponse, error) {
	out := new(NextSequenceResponse)
	if err := c.cc.Invoke(ctx, Events_NextSequence_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *eventsClient) LoadEvents(ctx context.Context, in *LoadEventsRequest, opts ...grpc.CallOption) (*LoadEventsResponse, error) {
	out := new(LoadEventsResponse)
	if err := c.cc.Invoke(ctx, Events_LoadEvents_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *eventsClient) SaveSnapshot(ctx context.Context, in *SaveSnapshotRequest, opts ...grpc.CallOption) (*SaveSnapshotResponse, error) {
	out := new(SaveSnapshotResponse)
	if err := c.cc.Invoke(ctx, Events_SaveSnapshot_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *eventsClient) LoadSnapshot(ctx context.Context, in *LoadSnapshotRequest, opts ...grpc.CallOption) (*LoadSnapshotResponse, error) {
	out := new(LoadSnapshotResponse)
	if err := c.cc.Invoke(ctx, Events_LoadSnapshot_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *eventsClient) SubscribeEvents(ctx context.Context, in *SubscribeEventsRequest, opts ...grpc.CallOption) (Events_SubscribeEventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &Events_ServiceDesc.Streams[0], Events_SubscribeEvents_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &eventsSubscribeEventsClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type Events_SubscribeEventsClient interface {
	Recv() (*types.Event, error)
	grpc.ClientStream
}

type eventsSubscribeEventsClient struct {
	grpc.ClientStream
}

func (x *eventsSubscribeEventsClient) Recv() (*types.Event, error) {
	m := new(types.Event)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *eventsClient) StreamNotifications(ctx context.Context, in *StreamNotificationsRequest, opts ...grpc.CallOption) (Events_StreamNotificationsClient, error) {
	stream, err := c.cc.NewStream(ctx, &Events_ServiceDesc.Streams[1], Events_StreamNotifications_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &eventsStreamNotificationsClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type Events_StreamNotificationsClient interface {
	Recv() (*Notification, error)
	grpc.ClientStream
}

type eventsStreamNotificationsClient struct {
	grpc.ClientStream
}

func (x *eventsStreamNotificationsClient) Recv() (*Notification, error) {
	m := new(Notification)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// EventsServer is the server API for the relay.v1.Events service.
type EventsServer interface {
	AppendEvent(context.Context, *AppendEventRequest) (*AppendEventResponse, error)
	NextSequence(context.Context, *NextSequenceRequest) (*NextSequenceResponse, error)
	LoadEvents(context.Context, *LoadEventsRequest) (*LoadEventsResponse, error)
	SaveSnapshot(context.Context, *SaveSnapshotRequest) (*SaveSnapshotResponse, error)
	LoadSnapshot(context.Context, *LoadSnapshotRequest) (*LoadSnapshotResponse, error)
	SubscribeEvents(*SubscribeEventsRequest, Events_SubscribeEventsServer) error
	StreamNotifications(*StreamNotificationsRequest, Events_StreamNotificationsServer) error
}

func RegisterEventsServer(s grpc.ServiceRegistrar, srv EventsServer) {
	s.RegisterService(&Events_ServiceDesc, srv)
}

func _Events_AppendEvent_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AppendEventRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventsServer).AppendEvent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Events_AppendEvent_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EventsServer).AppendEvent(ctx, req.(*AppendEventRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Events_NextSequence_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(NextSequenceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventsServer).NextSequence(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Events_NextSequence_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EventsServer).NextSequence(ctx, req.(*NextSequenceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Events_LoadEvents_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LoadEventsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventsServer).LoadEvents(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Events_LoadEvents_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EventsServer).LoadEvents(ctx, req.(*LoadEventsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Events_SaveSnapshot_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SaveSnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventsServer).SaveSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Events_SaveSnapshot_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EventsServer).SaveSnapshot(ctx, req.(*SaveSnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Events_LoadSnapshot_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LoadSnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventsServer).LoadSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Events_LoadSnapshot_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EventsServer).LoadSnapshot(ctx, req.(*LoadSnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Events_SubscribeEvents_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SubscribeEventsRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(EventsServer).SubscribeEvents(m, &eventsSubscribeEventsServer{stream})
}

type Events_SubscribeEventsServer interface {
	Send(*types.Event) error
	grpc.ServerStream
}

type eventsSubscribeEventsServer struct {
	grpc.ServerStream
}

func (x *eventsSubscribeEventsServer) Send(m *types.Event) error {
	return x.ServerStream.SendMsg(m)
}

func _Events_StreamNotifications_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(StreamNotificationsRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(EventsServer).StreamNotifications(m, &eventsStreamNotificationsServer{stream})
}

type Events_StreamNotificationsServer interface {
	Send(*Notification) error
	grpc.ServerStream
}

type eventsStreamNotificationsServer struct {
	grpc.ServerStream
}

func (x *eventsStreamNotificationsServer) Send(m *Notification) error {
	return x.ServerStream.SendMsg(m)
}

// Events_ServiceDesc is the grpc.ServiceDesc for the relay.v1.Events service.
var Events_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "relay.v1.Events",
	HandlerType: (*EventsServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AppendEvent",
			Handler:    _Events_AppendEvent_Handler,
		},
		{
			MethodName: "NextSequence",
			Handler:    _Events_NextSequence_Handler,
		},
		{
			MethodName: "LoadEvents",
			Handler:    _Events_LoadEvents_Handler,
		},
		{
			MethodName: "SaveSnapshot",
			Handler:    _Events_SaveSnapshot_Handler,
		},
		{
			MethodName: "LoadSnapshot",
			Handler:    _Events_LoadSnapshot_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubscribeEvents",
			Handler:       _Events_SubscribeEvents_Handler,
			ServerStreams: true,
		},
		{
			StreamName:    "StreamNotifications",
			Handler:       _Events_StreamNotifications_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "relay/v1/relay.json",
}
