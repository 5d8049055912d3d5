package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/relay/api/relayv1"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/types"
)

// Dispatcher invokes a handler on an application instance
type Dispatcher interface {
	Dispatch(ctx context.Context, inst types.ServiceInstance, req *relayv1.HandleRequest) (*relayv1.HandleResponse, error)
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, inst types.ServiceInstance, req *relayv1.HandleRequest) (*relayv1.HandleResponse, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, inst types.ServiceInstance, req *relayv1.HandleRequest) (*relayv1.HandleResponse, error) {
	return f(ctx, inst, req)
}

// GRPCDispatcher calls relay.v1.Handler on instances, keeping one client
// connection per address.
type GRPCDispatcher struct {
	conns    sync.Map // address -> *grpc.ClientConn
	dialOpts []grpc.DialOption
	logger   zerolog.Logger
}

// NewGRPCDispatcher creates a dispatcher. Without options connections are
// plaintext.
func NewGRPCDispatcher(opts ...grpc.DialOption) *GRPCDispatcher {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &GRPCDispatcher{
		dialOpts: opts,
		logger:   log.WithComponent("dispatch"),
	}
}

// Dispatch sends req to inst. Transport failures keep their gRPC status so
// the resilience layer can tell transient ones apart; a failure reported by
// the handler itself is returned as types.ErrDispatch, or
// types.ErrValidation when the handler rejected the input.
func (d *GRPCDispatcher) Dispatch(ctx context.Context, inst types.ServiceInstance, req *relayv1.HandleRequest) (*relayv1.HandleResponse, error) {
	conn, err := d.conn(inst.Address())
	if err != nil {
		return nil, err
	}
	resp, err := relayv1.NewHandlerClient(conn).Handle(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("dispatch %s to %s: %w", req.Type, inst.InstanceID, err)
	}
	if err := ResponseError(resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// ResponseError turns a handler-reported failure into an error
func ResponseError(resp *relayv1.HandleResponse) error {
	if resp.Error == "" && resp.ErrorCode == types.CodeOK {
		return nil
	}
	switch resp.ErrorCode {
	case types.CodeValidation:
		return fmt.Errorf("%w: %s", types.ErrValidation, resp.Error)
	case types.CodeNotFound:
		return fmt.Errorf("%w: %s", types.ErrNotFound, resp.Error)
	case types.CodeConcurrencyConflict:
		return fmt.Errorf("%w: %s", types.ErrConcurrencyConflict, resp.Error)
	case types.CodeTransient:
		return fmt.Errorf("%w: %s", types.ErrTransient, resp.Error)
	default:
		return fmt.Errorf("%w: %s", types.ErrDispatch, resp.Error)
	}
}

func (d *GRPCDispatcher) conn(addr string) (*grpc.ClientConn, error) {
	if v, ok := d.conns.Load(addr); ok {
		return v.(*grpc.ClientConn), nil
	}
	conn, err := grpc.NewClient(addr, d.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", types.ErrDispatch, addr, err)
	}
	actual, loaded := d.conns.LoadOrStore(addr, conn)
	if loaded {
		conn.Close()
	} else {
		d.logger.Debug().Str("address", addr).Msg("Opened instance connection")
	}
	return actual.(*grpc.ClientConn), nil
}

// Forget closes the connection to addr, if any
func (d *GRPCDispatcher) Forget(addr string) {
	if v, ok := d.conns.LoadAndDelete(addr); ok {
		v.(*grpc.ClientConn).Close()
	}
}

// Connected reports whether a connection to addr is open
func (d *GRPCDispatcher) Connected(addr string) bool {
	_, ok := d.conns.Load(addr)
	return ok
}

// Close closes every connection
func (d *GRPCDispatcher) Close() error {
	d.conns.Range(func(k, v interface{}) bool {
		v.(*grpc.ClientConn).Close()
		d.conns.Delete(k)
		return true
	})
	return nil
}
