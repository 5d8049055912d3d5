package api

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/cuemby/relay/api/relayv1"
	"github.com/cuemby/relay/pkg/events"
	relayhealth "github.com/cuemby/relay/pkg/health"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/pipeline"
	"github.com/cuemby/relay/pkg/registry"
	"github.com/cuemby/relay/pkg/router"
)

// DefaultAppendRetries bounds the reload-and-retry loop used when events
// returned by a command handler collide with a concurrent append.
const DefaultAppendRetries = 3

// Deps are the components the API exposes
type Deps struct {
	Registry *registry.Registry
	Health   *relayhealth.Processor
	Commands *router.CommandRouter
	Queries  *router.QueryRouter
	Pipeline *pipeline.Pipeline
	Broker   *events.Broker
	// AppendRetries overrides DefaultAppendRetries when positive
	AppendRetries int
}

// Server implements the relay.v1 Registry, Discovery, Commands, Queries
// and Events services on one gRPC server.
type Server struct {
	registry      *registry.Registry
	health        *relayhealth.Processor
	commands      *router.CommandRouter
	queries       *router.QueryRouter
	pipeline      *pipeline.Pipeline
	broker        *events.Broker
	appendRetries int

	grpc       *grpc.Server
	grpcHealth *health.Server
	logger     zerolog.Logger
}

// NewServer creates the API server and registers every service
func NewServer(deps Deps, opts ...grpc.ServerOption) *Server {
	retries := deps.AppendRetries
	if retries <= 0 {
		retries = DefaultAppendRetries
	}
	hp := deps.Health
	if hp == nil && deps.Registry != nil {
		hp = relayhealth.NewProcessor(deps.Registry)
	}

	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(RecoveryInterceptor(), MetricsInterceptor(), LoggingInterceptor()),
		grpc.ChainStreamInterceptor(StreamRecoveryInterceptor(), StreamLoggingInterceptor()),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	}
	serverOpts = append(serverOpts, opts...)

	s := &Server{
		registry:      deps.Registry,
		health:        hp,
		commands:      deps.Commands,
		queries:       deps.Queries,
		pipeline:      deps.Pipeline,
		broker:        deps.Broker,
		appendRetries: retries,
		grpc:          grpc.NewServer(serverOpts...),
		grpcHealth:    health.NewServer(),
		logger:        log.WithComponent("api"),
	}

	relayv1.RegisterRegistryServer(s.grpc, s)
	relayv1.RegisterDiscoveryServer(s.grpc, s)
	relayv1.RegisterCommandsServer(s.grpc, s)
	relayv1.RegisterQueriesServer(s.grpc, s)
	relayv1.RegisterEventsServer(s.grpc, s)
	healthpb.RegisterHealthServer(s.grpc, s.grpcHealth)
	for _, svc := range []string{"", "relay.v1.Registry", "relay.v1.Discovery", "relay.v1.Commands", "relay.v1.Queries", "relay.v1.Events"} {
		s.grpcHealth.SetServingStatus(svc, healthpb.HealthCheckResponse_SERVING)
	}
	return s
}

// Start listens on addr and serves until Stop
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Info().Str("address", lis.Addr().String()).Msg("gRPC API listening")
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks the server not serving and stops it gracefully
func (s *Server) Stop() {
	if s.grpc == nil {
		return
	}
	s.grpcHealth.Shutdown()
	s.grpc.GracefulStop()
}

// GRPC returns the underlying server, e.g. to register extra services
func (s *Server) GRPC() *grpc.Server {
	return s.grpc
}
