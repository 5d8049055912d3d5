package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/cuemby/relay/pkg/api"
	"github.com/cuemby/relay/pkg/broadcast"
	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/dispatch"
	"github.com/cuemby/relay/pkg/dns"
	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/health"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/pipeline"
	"github.com/cuemby/relay/pkg/reconciler"
	"github.com/cuemby/relay/pkg/registry"
	"github.com/cuemby/relay/pkg/resilience"
	"github.com/cuemby/relay/pkg/router"
	"github.com/cuemby/relay/pkg/saga"
	"github.com/cuemby/relay/pkg/security"
	"github.com/cuemby/relay/pkg/storage"
	"github.com/cuemby/relay/pkg/types"
)

const stateFile = "relay-state.db"

// Coordinator owns every component of a relay node and their lifecycle
type Coordinator struct {
	cfg     config.Config
	version string

	store      storage.Store
	state      stateStore
	closers    []func() error
	broker     *events.Broker
	registry   *registry.Registry
	wrapper    *resilience.Wrapper
	dispatcher *dispatch.GRPCDispatcher
	commands   *router.CommandRouter
	pipeline   *pipeline.Pipeline
	sagas      *saga.Manager
	forwarder  broadcast.Forwarder
	consumer   *broadcast.KafkaConsumer
	natsSub    *nats.Subscription
	reconciler *reconciler.Reconciler
	collector  *metrics.Collector
	checker    *metrics.HealthChecker
	api        *api.Server
	httpHealth *api.HealthServer
	dns        *dns.Server

	mu      sync.Mutex
	lis     net.Listener
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	logger zerolog.Logger
}

// stateStore keeps the instance table and saga instances
type stateStore interface {
	storage.InstanceStore
	storage.SagaStore
}

// Option configures a Coordinator
type Option func(*options)

type options struct {
	version string
	sagas   []saga.Definition
	store   storage.Store
}

// WithVersion reports version on /health
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithSaga registers a saga definition driven by appended events
func WithSaga(def saga.Definition) Option {
	return func(o *options) { o.sagas = append(o.sagas, def) }
}

// WithEventStore replaces the configured event store
func WithEventStore(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

// New builds a coordinator from cfg. Nothing listens until Start.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := &Coordinator{
		cfg:     cfg,
		version: o.version,
		checker: metrics.NewHealthChecker(),
		logger:  log.WithComponent("coordinator"),
	}
	c.checker.SetVersion(o.version)

	if err := c.openStores(ctx, o.store); err != nil {
		c.closeAll()
		return nil, err
	}
	if err := c.openBroadcast(); err != nil {
		c.closeAll()
		return nil, err
	}

	c.broker = events.NewBroker()
	c.dispatcher = dispatch.NewGRPCDispatcher()
	c.closers = append(c.closers, c.dispatcher.Close)
	c.registry = registry.New(
		registry.WithStore(c.state),
		registry.WithBroker(c.broker),
		registry.WithWatchBuffer(cfg.Registry.WatchBuffer),
		registry.OnRemove(c.releaseConnection),
	)
	c.wrapper = resilience.New(cfg.ResilienceConfig(), resilience.NewBrokerNotifier(c.broker))

	c.pipeline = pipeline.New(c.store, c.forwarder, pipeline.WithBroker(c.broker))
	c.sagas = saga.NewManager(c.state)
	for _, def := range o.sagas {
		if err := c.sagas.Register(def); err != nil {
			c.closeAll()
			return nil, fmt.Errorf("failed to register saga %s: %w", def.Name, err)
		}
	}

	if cfg.Broadcast.Driver == config.BroadcastKafka {
		consumer, err := broadcast.NewKafkaConsumer(c.kafkaConfig(), c.pipeline)
		if err != nil {
			c.closeAll()
			return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
		}
		c.consumer = consumer
		c.closers = append(c.closers, consumer.Close)
	}

	routerOpts := []router.Option{router.WithDispatchTimeout(cfg.API.DispatchTimeout)}
	c.commands = router.NewCommandRouter(c.registry, c.dispatcher, c.wrapper, routerOpts...)
	queries := router.NewQueryRouter(c.registry, c.dispatcher, c.wrapper, routerOpts...)

	var serverOpts []grpc.ServerOption
	if cfg.API.TLS.Enabled() {
		tlsCfg, err := security.ServerConfig(cfg.API.TLS)
		if err != nil {
			c.closeAll()
			return nil, fmt.Errorf("failed to load api tls: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}
	c.api = api.NewServer(api.Deps{
		Registry:      c.registry,
		Health:        health.NewProcessor(c.registry),
		Commands:      c.commands,
		Queries:       queries,
		Pipeline:      c.pipeline,
		Broker:        c.broker,
		AppendRetries: cfg.API.AppendRetries,
	}, serverOpts...)

	recOpts := []reconciler.Option{reconciler.WithRedeliverer(c.pipeline)}
	if cfg.Health.Probe.Enabled {
		recOpts = append(recOpts, reconciler.WithProber(health.NewProber(health.ProbeConfig{
			Timeout:     cfg.Health.Probe.Timeout,
			Retries:     cfg.Health.Probe.Retries,
			StartPeriod: cfg.Health.Probe.StartPeriod,
		})))
	}
	c.reconciler = reconciler.NewReconciler(c.registry, reconciler.Config{
		SweepInterval:      cfg.Health.SweepInterval,
		HeartbeatTimeout:   cfg.Health.HeartbeatTimeout,
		DeregisterAfter:    cfg.Health.DeregisterAfter,
		DeadLetterInterval: cfg.Broadcast.DeadLetterInterval,
	}, recOpts...)
	c.collector = metrics.NewCollector(c.registry, c.store, 0)

	c.httpHealth = api.NewHealthServer(c.checker)
	c.httpHealth.AddCheck("storage", func(context.Context) error {
		_, err := c.store.CountDeadLetters()
		return err
	})

	if cfg.DNS.Enabled {
		c.dns = dns.NewServer(c.registry, dns.Config{
			Address:  cfg.DNS.Address,
			Domain:   cfg.DNS.Domain,
			TTL:      cfg.DNS.TTL,
			Upstream: cfg.DNS.Upstream,
		})
	}

	return c, nil
}

func (c *Coordinator) openStores(ctx context.Context, override storage.Store) error {
	cfg := c.cfg
	if cfg.Node.DataDir != "" && cfg.Store.Driver != config.StoreMemory {
		if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	switch {
	case override != nil:
		c.store = override
	case cfg.Store.Driver == config.StoreBolt:
		bolt, err := storage.NewBoltStore(cfg.Node.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open bolt store: %w", err)
		}
		c.store = bolt
		c.state = bolt
		c.closers = append(c.closers, bolt.Close)
	case cfg.Store.Driver == config.StorePostgres:
		pg, err := storage.NewPostgresStore(ctx, cfg.Store.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		c.closers = append(c.closers, pg.Close)
		if cfg.Store.Postgres.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate postgres schema: %w", err)
			}
		}
		c.store = pg
	default:
		c.store = storage.NewMemoryStore()
	}

	if c.state != nil {
		return nil
	}
	if s, ok := c.store.(stateStore); ok {
		c.state = s
		return nil
	}
	// postgres keeps events only; registrations and sagas stay node-local
	if cfg.Node.DataDir == "" || cfg.Store.Driver == config.StoreMemory {
		c.state = storage.NewMemoryStore()
		return nil
	}
	bolt, err := storage.OpenBoltStore(filepath.Join(cfg.Node.DataDir, stateFile))
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	c.state = bolt
	c.closers = append(c.closers, bolt.Close)
	return nil
}

func (c *Coordinator) openBroadcast() error {
	switch c.cfg.Broadcast.Driver {
	case config.BroadcastKafka:
		f, err := broadcast.NewKafkaForwarder(c.kafkaConfig())
		if err != nil {
			return fmt.Errorf("failed to create kafka forwarder: %w", err)
		}
		c.forwarder = f
	case config.BroadcastNATS:
		f, err := broadcast.NewNATSForwarder(broadcast.NATSConfig{
			URL:           c.cfg.Broadcast.NATS.URL,
			SubjectPrefix: c.cfg.Broadcast.TopicPrefix,
			Partitions:    c.cfg.Broadcast.Partitions,
			NodeID:        c.cfg.Node.ID,
		})
		if err != nil {
			return fmt.Errorf("failed to create nats forwarder: %w", err)
		}
		c.forwarder = f
	default:
		c.forwarder = broadcast.Noop{}
	}
	c.closers = append(c.closers, c.forwarder.Close)
	return nil
}

func (c *Coordinator) kafkaConfig() broadcast.KafkaConfig {
	k := c.cfg.Broadcast.Kafka
	return broadcast.KafkaConfig{
		Brokers:     k.Brokers,
		TopicPrefix: c.cfg.Broadcast.TopicPrefix,
		GroupID:     k.GroupID,
		ClientID:    k.ClientID,
		NodeID:      c.cfg.Node.ID,
	}
}

// Start restores state and starts every loop and listener
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("coordinator already started")
	}

	lis, err := net.Listen("tcp", c.cfg.API.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.cfg.API.Address, err)
	}
	c.lis = lis

	n, err := c.registry.Restore()
	if err != nil {
		lis.Close()
		return err
	}
	c.checker.Set("storage", true, c.cfg.Store.Driver)
	c.checker.Set("registry", true, fmt.Sprintf("%d restored", n))

	ctx, c.cancel = context.WithCancel(ctx)
	c.broker.Start()
	c.reconciler.Start(ctx)
	c.collector.Start()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runSagas(ctx)
	}()

	abort := func(err error) error {
		if c.natsSub != nil {
			c.natsSub.Unsubscribe()
			c.natsSub = nil
		}
		c.cancel()
		c.reconciler.Stop()
		c.collector.Stop()
		c.wg.Wait()
		c.broker.Stop()
		lis.Close()
		return err
	}
	if err := c.startIngest(ctx); err != nil {
		return abort(err)
	}
	if c.dns != nil {
		if err := c.dns.Start(); err != nil {
			return abort(err)
		}
		c.checker.Set("dns", true, c.dns.Addr())
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.api.Serve(lis); err != nil {
			c.checker.Set("api", false, err.Error())
			c.logger.Error().Err(err).Msg("gRPC API stopped")
		}
	}()
	c.checker.Set("api", true, lis.Addr().String())

	if addr := c.cfg.Health.Address; addr != "" {
		go func() {
			if err := c.httpHealth.Start(addr); err != nil {
				c.logger.Error().Err(err).Str("address", addr).Msg("Health server stopped")
			}
		}()
	}

	c.started = true
	c.logger.Info().
		Str("node_id", c.cfg.Node.ID).
		Str("api", lis.Addr().String()).
		Str("store", c.cfg.Store.Driver).
		Str("broadcast", c.cfg.Broadcast.Driver).
		Msg("Coordinator started")
	return nil
}

func (c *Coordinator) startIngest(ctx context.Context) error {
	if c.consumer != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.consumer.Run(ctx); err != nil {
				c.logger.Error().Err(err).Msg("Broadcast consumer stopped")
			}
		}()
	}
	if f, ok := c.forwarder.(*broadcast.NATSForwarder); ok {
		sub, err := f.Subscribe(c.pipeline)
		if err != nil {
			return fmt.Errorf("failed to subscribe to broadcast: %w", err)
		}
		c.natsSub = sub
	}
	return nil
}

// runSagas feeds appended events to the saga manager, resubscribing when
// the subscription falls behind
func (c *Coordinator) runSagas(ctx context.Context) {
	for ctx.Err() == nil {
		sub := c.pipeline.Subscribe("")
		c.sagas.Run(ctx, sub.C())
		err := sub.Err()
		sub.Close()
		if err != nil && ctx.Err() == nil {
			c.logger.Warn().Err(err).Msg("Saga subscription dropped, resubscribing")
			select {
			case <-ctx.Done():
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

// Stop shuts everything down in reverse order
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		c.closeAll()
		return nil
	}
	c.started = false

	var errs []error
	if err := c.httpHealth.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if c.dns != nil {
		if err := c.dns.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.api.Stop()
	c.commands.Wait()
	if c.natsSub != nil {
		if err := c.natsSub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	c.cancel()
	c.reconciler.Stop()
	c.collector.Stop()
	c.wg.Wait()
	c.broker.Stop()
	errs = append(errs, c.closeAll()...)

	c.logger.Info().Str("node_id", c.cfg.Node.ID).Msg("Coordinator stopped")
	return errors.Join(errs...)
}

// releaseConnection closes the dispatcher connection of a removed instance
// unless another registered instance shares its address
func (c *Coordinator) releaseConnection(inst types.ServiceInstance) {
	addr := inst.Address()
	for _, other := range c.registry.List() {
		if other.Address() == addr {
			return
		}
	}
	c.dispatcher.Forget(addr)
}

func (c *Coordinator) closeAll() []error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errs
}

// Addr returns the gRPC API address once started
func (c *Coordinator) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lis == nil {
		return ""
	}
	return c.lis.Addr().String()
}

// Registry returns the instance registry
func (c *Coordinator) Registry() *registry.Registry { return c.registry }

// Pipeline returns the event pipeline
func (c *Coordinator) Pipeline() *pipeline.Pipeline { return c.pipeline }

// Sagas returns the saga manager
func (c *Coordinator) Sagas() *saga.Manager { return c.sagas }

// Health returns the component health checker
func (c *Coordinator) Health() *metrics.HealthChecker { return c.checker }

// DNS returns the DNS server, nil unless enabled
func (c *Coordinator) DNS() *dns.Server { return c.dns }

// HTTPHandler returns the /health, /ready and /metrics handler
func (c *Coordinator) HTTPHandler() *api.HealthServer { return c.httpHealth }
