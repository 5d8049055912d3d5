package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/relay/pkg/broadcast"
	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/partition"
	"github.com/cuemby/relay/pkg/storage"
	"github.com/cuemby/relay/pkg/types"
)

// Pipeline persists events and forwards them to the broadcast channel.
// Forwarding happens after the store accepted the event; a forward that
// fails is parked in the dead letter queue and never fails the append.
type Pipeline struct {
	store     storage.Store
	forwarder broadcast.Forwarder
	broker    *events.Broker
	now       func() time.Time
	buffer    int

	subMu sync.RWMutex
	subs  map[*Subscription]struct{}

	logger zerolog.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithBroker publishes forward failures and redeliveries on b
func WithBroker(b *events.Broker) Option {
	return func(p *Pipeline) { p.broker = b }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithSubscriberBuffer sets the channel size of new subscriptions
func WithSubscriberBuffer(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.buffer = n
		}
	}
}

// New creates a pipeline. A nil forwarder disables broadcasting.
func New(store storage.Store, forwarder broadcast.Forwarder, opts ...Option) *Pipeline {
	if forwarder == nil {
		forwarder = broadcast.Noop{}
	}
	p := &Pipeline{
		store:     store,
		forwarder: forwarder,
		now:       time.Now,
		buffer:    256,
		subs:      make(map[*Subscription]struct{}),
		logger:    log.WithComponent("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Append validates and stores event, then forwards it unless it came from
// the broadcast channel. The stored event is returned with its id and
// timestamp filled in.
func (p *Pipeline) Append(ctx context.Context, event types.Event) (types.Event, error) {
	if err := validate(event); err != nil {
		return types.Event{}, err
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}

	timer := metrics.NewTimer()
	err := p.store.Append(ctx, event)
	timer.ObserveDuration(metrics.AppendDuration)
	if err != nil {
		if errors.Is(err, types.ErrConcurrencyConflict) {
			metrics.AppendConflictsTotal.Inc()
		}
		return types.Event{}, err
	}

	origin := types.OriginLocal
	if event.FromBroadcast() {
		origin = types.OriginBroadcast
	}
	metrics.EventsAppendedTotal.WithLabelValues(origin).Inc()

	if !event.FromBroadcast() {
		p.forward(ctx, event)
	}
	p.notify(event)
	return event, nil
}

// Ingest stores an event received from another coordinator. An event that
// is already stored is not an error. A conflicting event with a different
// id, or one that would leave a gap, is dropped and logged as diverged.
func (p *Pipeline) Ingest(ctx context.Context, event types.Event) error {
	md := make(map[string]string, len(event.Metadata)+1)
	for k, v := range event.Metadata {
		md[k] = v
	}
	md[types.MetadataOrigin] = types.OriginBroadcast
	event.Metadata = md

	_, err := p.Append(ctx, event)
	if !errors.Is(err, types.ErrConcurrencyConflict) {
		return err
	}

	stored, lerr := p.store.LoadSince(ctx, event.AggregateID, event.SequenceNumber)
	if lerr != nil {
		return lerr
	}
	if len(stored) > 0 && stored[0].SequenceNumber == event.SequenceNumber && stored[0].EventID == event.EventID {
		p.logger.Debug().
			Str("aggregate_id", event.AggregateID).
			Int64("sequence", event.SequenceNumber).
			Msg("Broadcast event already stored")
		return nil
	}

	metrics.IngestDivergedTotal.Inc()
	warn := p.logger.Warn().
		Str("aggregate_id", event.AggregateID).
		Int64("sequence", event.SequenceNumber).
		Str("event_id", event.EventID)
	if len(stored) > 0 && stored[0].SequenceNumber == event.SequenceNumber {
		warn = warn.Str("stored_event_id", stored[0].EventID)
	}
	warn.Msg("Dropping broadcast event that diverges from the local stream")
	return nil
}

// NextSequence returns the next free sequence number of an aggregate
func (p *Pipeline) NextSequence(ctx context.Context, aggregateID string) (int64, error) {
	if !partition.IsValid(aggregateID) {
		return 0, fmt.Errorf("%w: aggregate id is required", types.ErrValidation)
	}
	return p.store.NextSequence(ctx, aggregateID)
}

// LoadSince returns the events of an aggregate with sequence >= from
func (p *Pipeline) LoadSince(ctx context.Context, aggregateID string, from int64) ([]types.Event, error) {
	if !partition.IsValid(aggregateID) {
		return nil, fmt.Errorf("%w: aggregate id is required", types.ErrValidation)
	}
	return p.store.LoadSince(ctx, aggregateID, from)
}

// SaveSnapshot replaces the snapshot of an aggregate and forwards it
func (p *Pipeline) SaveSnapshot(ctx context.Context, snapshot types.Snapshot) error {
	if !partition.IsValid(snapshot.AggregateID) {
		return fmt.Errorf("%w: aggregate id is required", types.ErrValidation)
	}
	if snapshot.SequenceNumber < 1 {
		return fmt.Errorf("%w: snapshot sequence number must be >= 1", types.ErrValidation)
	}
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = p.now().UTC()
	}
	if err := p.store.SaveSnapshot(ctx, snapshot); err != nil {
		return err
	}

	key := partition.PartitionKey(snapshot.AggregateID)
	if err := p.forwarder.ForwardSnapshot(ctx, key, snapshot); err != nil {
		p.deadLetter(ctx, storage.DeadLetter{Kind: storage.DeadLetterSnapshot, Key: key, Snapshot: &snapshot}, err)
	}
	return nil
}

// LoadSnapshot returns the latest snapshot of an aggregate
func (p *Pipeline) LoadSnapshot(ctx context.Context, aggregateID string) (types.Snapshot, bool, error) {
	if !partition.IsValid(aggregateID) {
		return types.Snapshot{}, false, fmt.Errorf("%w: aggregate id is required", types.ErrValidation)
	}
	return p.store.LoadSnapshot(ctx, aggregateID)
}

// RecordCommand forwards a routed command to the commands stream.
// Failures are logged only.
func (p *Pipeline) RecordCommand(ctx context.Context, cmd types.CommandEnvelope) {
	if err := p.forwarder.ForwardCommand(ctx, partition.PartitionKey(cmd.AggregateID), cmd); err != nil {
		metrics.ForwardFailuresTotal.Inc()
		p.logger.Warn().Err(err).Str("command_type", cmd.Type).Msg("Failed to forward command")
	}
}

func (p *Pipeline) forward(ctx context.Context, event types.Event) {
	key := partition.PartitionKey(event.AggregateID)
	if err := p.forwarder.Forward(ctx, key, event); err != nil {
		p.deadLetter(ctx, storage.DeadLetter{Kind: storage.DeadLetterEvent, Key: key, Event: &event}, err)
	}
}

func (p *Pipeline) deadLetter(ctx context.Context, dl storage.DeadLetter, cause error) {
	metrics.ForwardFailuresTotal.Inc()
	dl.Attempts = 1
	dl.LastError = cause.Error()

	logger := p.logger.With().Str("key", dl.Key).Str("kind", string(dl.Kind)).Logger()
	logger.Warn().Err(cause).Msg("Forward failed, parking record in dead letter queue")

	// the record is stored; parking it must not depend on the caller's deadline
	if err := p.store.PutDeadLetter(context.WithoutCancel(ctx), dl); err != nil {
		logger.Error().Err(err).Msg("Failed to store dead letter")
	}
	if p.broker != nil {
		md := map[string]string{"key": dl.Key, "kind": string(dl.Kind)}
		if dl.Event != nil {
			md["aggregate_id"] = dl.Event.AggregateID
			md["sequence"] = strconv.FormatInt(dl.Event.SequenceNumber, 10)
		}
		p.broker.Publish(&events.Event{
			Type:     events.EventForwardFailed,
			Message:  cause.Error(),
			Metadata: md,
		})
	}
}

func validate(event types.Event) error {
	if !partition.IsValid(event.AggregateID) {
		return fmt.Errorf("%w: aggregate id is required", types.ErrValidation)
	}
	if event.SequenceNumber < 1 {
		return fmt.Errorf("%w: sequence number must be >= 1, got %d", types.ErrValidation, event.SequenceNumber)
	}
	if event.EventType == "" {
		return fmt.Errorf("%w: event type is required", types.ErrValidation)
	}
	return nil
}
