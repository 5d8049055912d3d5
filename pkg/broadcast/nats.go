package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/partition"
	"github.com/cuemby/relay/pkg/types"
)

// NATSConfig configures the NATS forwarder
type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string
	Partitions    int
	NodeID        string
}

type publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSForwarder publishes records on <prefix>.<stream>.<partition>
type NATSForwarder struct {
	conn       publisher
	nc         *nats.Conn
	topics     Topics
	partitions int
	node       string
	logger     zerolog.Logger
}

// NewNATSForwarder connects to NATS
func NewNATSForwarder(cfg NATSConfig) (*NATSForwarder, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("node id is required")
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	name := cfg.Name
	if name == "" {
		name = "relay-" + cfg.NodeID
	}
	logger := log.WithComponent("broadcast")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	f := newNATSForwarder(nc, cfg)
	f.nc = nc
	return f, nil
}

func newNATSForwarder(p publisher, cfg NATSConfig) *NATSForwarder {
	n := cfg.Partitions
	if n <= 0 {
		n = partition.DefaultPartitions
	}
	return &NATSForwarder{
		conn:       p,
		topics:     NewTopics(cfg.SubjectPrefix),
		partitions: n,
		node:       cfg.NodeID,
		logger:     log.WithComponent("broadcast"),
	}
}

// Forward publishes an event
func (f *NATSForwarder) Forward(ctx context.Context, key string, event types.Event) error {
	return f.publish(ctx, f.topics.Events, KindEvent, key, event)
}

// ForwardSnapshot publishes a snapshot
func (f *NATSForwarder) ForwardSnapshot(ctx context.Context, key string, snapshot types.Snapshot) error {
	return f.publish(ctx, f.topics.Snapshots, KindSnapshot, key, snapshot)
}

// ForwardCommand publishes a command
func (f *NATSForwarder) ForwardCommand(ctx context.Context, key string, cmd types.CommandEnvelope) error {
	return f.publish(ctx, f.topics.Commands, KindCommand, key, cmd)
}

// Subject returns the subject a key is published on for stream
func (f *NATSForwarder) Subject(stream, key string) string {
	return stream + "." + strconv.Itoa(partition.Partition(key, f.partitions))
}

func (f *NATSForwarder) publish(ctx context.Context, stream, kind, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: f.Subject(stream, key),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(HeaderKey, key)
	msg.Header.Set(HeaderNode, f.node)
	msg.Header.Set(HeaderKind, kind)
	if err := f.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("%w: publish %s: %v", types.ErrTransient, msg.Subject, err)
	}
	return nil
}

// Subscribe ingests events other nodes publish on <prefix>.events.*
func (f *NATSForwarder) Subscribe(ingester Ingester) (*nats.Subscription, error) {
	if f.nc == nil {
		return nil, errors.New("nats forwarder is not connected")
	}
	return f.nc.Subscribe(f.topics.Events+".*", func(msg *nats.Msg) {
		f.handle(context.Background(), ingester, msg)
	})
}

func (f *NATSForwarder) handle(ctx context.Context, ingester Ingester, msg *nats.Msg) {
	origin := msg.Header.Get(HeaderNode)
	if origin == f.node {
		return
	}
	ev, err := decodeEvent(msg.Data, origin)
	if err != nil {
		f.logger.Error().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed message")
		return
	}
	if err := ingester.Ingest(ctx, ev); err != nil {
		f.logger.Error().Err(err).
			Str("aggregate_id", ev.AggregateID).
			Int64("sequence", ev.SequenceNumber).
			Msg("Failed to ingest broadcast event")
	}
}

// Close drains the connection
func (f *NATSForwarder) Close() error {
	if f.nc == nil {
		return nil
	}
	return f.nc.Drain()
}
