package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/cuemby/relay/api/relayv1"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/types"
)

// Request is a command or query delivered to an instance
type Request struct {
	Kind        relayv1.HandleKind
	MessageID   string
	Type        string
	AggregateID string
	Payload     types.Payload
	Metadata    map[string]string

	// Value is the decoded payload when its type is registered with the
	// server's TypeRegistry, nil otherwise.
	Value any
}

// Reply is what a handler returns. Events are only honoured for commands.
type Reply struct {
	Result types.Payload
	Events []types.Event
}

// HandlerFunc handles one command or query type. Returning an error wrapping
// types.ErrTransient lets the coordinator retry; types.ErrValidation is
// reported as a rejection.
type HandlerFunc func(ctx context.Context, req *Request) (*Reply, error)

// HandlerServer hosts relay.v1.Handler for an application instance
type HandlerServer struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	types    *types.TypeRegistry
	logger   zerolog.Logger
}

// NewHandlerServer creates a handler server. reg may be nil, in which case
// payloads are never decoded.
func NewHandlerServer(reg *types.TypeRegistry) *HandlerServer {
	if reg == nil {
		reg = types.NewTypeRegistry()
	}
	return &HandlerServer{
		handlers: make(map[string]HandlerFunc),
		types:    reg,
		logger:   log.WithComponent("handler"),
	}
}

// Handle registers fn for the capability name, replacing any previous one
func (h *HandlerServer) Handle(name string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[name] = fn
}

// Capabilities returns the registered capability names, sorted
func (h *HandlerServer) Capabilities() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.handlers))
	for name := range h.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe fills inst.CommandTypes from the registered handlers
func (h *HandlerServer) Describe(inst types.ServiceInstance) types.ServiceInstance {
	inst.CommandTypes = h.Capabilities()
	return inst
}

// Register installs the Handler service on s
func (h *HandlerServer) Register(s grpc.ServiceRegistrar) {
	relayv1.RegisterHandlerServer(s, handlerService{h})
}

// handlerService adapts HandlerServer to relayv1.HandlerServer
type handlerService struct{ h *HandlerServer }

func (s handlerService) Handle(ctx context.Context, req *relayv1.HandleRequest) (*relayv1.HandleResponse, error) {
	return s.h.Invoke(ctx, req), nil
}

// Serve runs a gRPC server on lis until ctx is done
func (h *HandlerServer) Serve(ctx context.Context, lis net.Listener, opts ...grpc.ServerOption) error {
	srv := grpc.NewServer(opts...)
	h.Register(srv)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()
	h.logger.Info().Str("address", lis.Addr().String()).Strs("capabilities", h.Capabilities()).Msg("Handler server listening")

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// Invoke runs the handler registered for req.Type. Failures are reported in
// the response, never as a transport error.
func (h *HandlerServer) Invoke(ctx context.Context, req *relayv1.HandleRequest) *relayv1.HandleResponse {
	h.mu.RLock()
	fn, ok := h.handlers[req.Type]
	h.mu.RUnlock()
	if !ok {
		return &relayv1.HandleResponse{
			ErrorCode: types.CodeValidation,
			Error:     fmt.Sprintf("no handler for %s", req.Type),
		}
	}

	in := &Request{
		Kind:        req.Kind,
		MessageID:   req.MessageID,
		Type:        req.Type,
		AggregateID: req.AggregateID,
		Payload:     req.Payload,
		Metadata:    req.Metadata,
	}
	if h.types.Known(req.Payload.Type) {
		v, err := h.types.Decode(req.Payload)
		if err != nil {
			return &relayv1.HandleResponse{ErrorCode: types.CodeValidation, Error: err.Error()}
		}
		in.Value = v
	}

	reply, err := fn(ctx, in)
	if err != nil {
		h.logger.Debug().Err(err).Str("type", req.Type).Str("message_id", req.MessageID).Msg("Handler failed")
		code := types.ErrorCode(err)
		if code == types.CodeInternal {
			code = types.CodeDispatchFailed
		}
		return &relayv1.HandleResponse{ErrorCode: code, Error: err.Error()}
	}
	if reply == nil {
		return &relayv1.HandleResponse{}
	}
	resp := &relayv1.HandleResponse{Result: reply.Result}
	if req.Kind != relayv1.KindQuery {
		resp.Events = reply.Events
	}
	return resp
}
