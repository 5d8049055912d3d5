package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/types"
)

// KafkaConfig configures the Kafka forwarder and consumer
type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
	GroupID     string
	ClientID    string
	NodeID      string
}

// Validate checks required fields
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka brokers are required")
	}
	if c.NodeID == "" {
		return errors.New("node id is required")
	}
	return nil
}

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaForwarder writes records to <prefix>.events, <prefix>.commands and
// <prefix>.snapshots. Production is synchronous so successful appends for
// one key keep their order.
type KafkaForwarder struct {
	client producer
	topics Topics
	node   string
	logger zerolog.Logger
}

// NewKafkaForwarder connects a producer client
func NewKafkaForwarder(cfg KafkaConfig, opts ...kgo.Opt) (*KafkaForwarder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	kopts = append(kopts, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}
	return newKafkaForwarder(cl, cfg), nil
}

func newKafkaForwarder(p producer, cfg KafkaConfig) *KafkaForwarder {
	return &KafkaForwarder{
		client: p,
		topics: NewTopics(cfg.TopicPrefix),
		node:   cfg.NodeID,
		logger: log.WithComponent("broadcast"),
	}
}

// Forward publishes an event
func (f *KafkaForwarder) Forward(ctx context.Context, key string, event types.Event) error {
	return f.produce(ctx, f.topics.Events, KindEvent, key, event)
}

// ForwardSnapshot publishes a snapshot
func (f *KafkaForwarder) ForwardSnapshot(ctx context.Context, key string, snapshot types.Snapshot) error {
	return f.produce(ctx, f.topics.Snapshots, KindSnapshot, key, snapshot)
}

// ForwardCommand publishes a command
func (f *KafkaForwarder) ForwardCommand(ctx context.Context, key string, cmd types.CommandEnvelope) error {
	return f.produce(ctx, f.topics.Commands, KindCommand, key, cmd)
}

func (f *KafkaForwarder) produce(ctx context.Context, topic, kind, key string, v any) error {
	value, err := encode(v)
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: HeaderNode, Value: []byte(f.node)},
			{Key: HeaderKind, Value: []byte(kind)},
		},
	}
	if err := f.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("%w: produce to %s: %v", types.ErrTransient, topic, err)
	}
	f.logger.Debug().Str("topic", topic).Str("key", key).Msg("Forwarded record")
	return nil
}

// Close flushes and closes the producer
func (f *KafkaForwarder) Close() error {
	f.client.Close()
	return nil
}

// ingestRetryWindow bounds how long one record is retried before its
// partition is rewound
const ingestRetryWindow = 5 * time.Second

var errNotIngested = errors.New("record not ingested")

// KafkaConsumer reads <prefix>.events as part of a consumer group and
// ingests events produced by other nodes. Offsets are committed only after
// the event is stored, or known to be stored already. A record that keeps
// failing stops its partition for the rest of the poll; the partition is
// rewound to that record so no later offset is committed past it.
type KafkaConsumer struct {
	client   *kgo.Client
	ingester Ingester
	node     string
	logger   zerolog.Logger

	// hooks replaced in tests
	markCommit   func(*kgo.Record)
	commitMarked func(context.Context) error
	rewind       func(*kgo.Record)
	retry        func() backoff.BackOff
}

// NewKafkaConsumer creates a group consumer. The group defaults to
// "relay-<node>" so every coordinator sees every event.
func NewKafkaConsumer(cfg KafkaConfig, ingester Ingester, opts ...kgo.Opt) (*KafkaConsumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	group := cfg.GroupID
	if group == "" {
		group = "relay-" + cfg.NodeID
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(NewTopics(cfg.TopicPrefix).Events),
		kgo.DisableAutoCommit(),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	kopts = append(kopts, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}
	c := &KafkaConsumer{
		client:   cl,
		ingester: ingester,
		node:     cfg.NodeID,
		logger:   log.WithComponent("broadcast"),
	}
	c.markCommit = func(r *kgo.Record) { cl.MarkCommitRecords(r) }
	c.commitMarked = func(ctx context.Context) error { return cl.CommitMarkedOffsets(ctx) }
	c.rewind = func(r *kgo.Record) {
		cl.SetOffsets(map[string]map[int32]kgo.EpochOffset{
			r.Topic: {r.Partition: {Epoch: r.LeaderEpoch, Offset: r.Offset}},
		})
	}
	c.retry = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		b.MaxElapsedTime = ingestRetryWindow
		return b
	}
	return c, nil
}

// Run polls until ctx is cancelled
func (c *KafkaConsumer) Run(ctx context.Context) error {
	defer c.client.Close()
	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Warn().Err(err).Str("topic", topic).Int32("partition", partition).Msg("Fetch failed")
		})
		c.ingestFetches(ctx, fetches)
		if err := c.commitMarked(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn().Err(err).Msg("Failed to commit offsets")
		}
	}
}

// ingestFetches handles every partition in offset order
func (c *KafkaConsumer) ingestFetches(ctx context.Context, fetches kgo.Fetches) {
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		for _, rec := range p.Records {
			if c.handleWithRetry(ctx, rec) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn().
				Str("topic", rec.Topic).
				Int32("partition", rec.Partition).
				Int64("offset", rec.Offset).
				Msg("Rewinding partition to failed record")
			c.rewind(rec)
			return
		}
	})
}

func (c *KafkaConsumer) handleWithRetry(ctx context.Context, rec *kgo.Record) bool {
	op := func() error {
		if c.handle(ctx, rec) {
			return nil
		}
		return errNotIngested
	}
	return backoff.Retry(op, backoff.WithContext(c.retry(), ctx)) == nil
}

// handle ingests one record. It returns true when the record's offset may
// be committed.
func (c *KafkaConsumer) handle(ctx context.Context, rec *kgo.Record) bool {
	origin := header(rec, HeaderNode)
	if origin == c.node {
		c.markCommit(rec)
		return true
	}
	ev, err := decodeEvent(rec.Value, origin)
	if err != nil {
		// a record that cannot be decoded never will be
		c.logger.Error().Err(err).Str("topic", rec.Topic).Int64("offset", rec.Offset).Msg("Dropping malformed record")
		c.markCommit(rec)
		return true
	}
	if err := c.ingester.Ingest(ctx, ev); err != nil {
		c.logger.Error().Err(err).
			Str("aggregate_id", ev.AggregateID).
			Int64("sequence", ev.SequenceNumber).
			Msg("Failed to ingest broadcast event")
		return false
	}
	c.markCommit(rec)
	return true
}

// Close stops the consumer client
func (c *KafkaConsumer) Close() error {
	c.client.Close()
	return nil
}

func header(rec *kgo.Record, key string) string {
	for _, h := range rec.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
