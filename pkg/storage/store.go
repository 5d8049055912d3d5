package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cuemby/relay/pkg/types"
)

// EventStore persists events per aggregate. Append is the only
// serialization point: an event whose sequence number is not exactly the
// stream's last plus one (a duplicate or a gap) fails with
// types.ErrConcurrencyConflict.
type EventStore interface {
	Append(ctx context.Context, event types.Event) error
	NextSequence(ctx context.Context, aggregateID string) (int64, error)
	// LoadSince returns events with sequence >= from in ascending order.
	// from <= 0 loads the whole stream.
	LoadSince(ctx context.Context, aggregateID string, from int64) ([]types.Event, error)

	SaveSnapshot(ctx context.Context, snapshot types.Snapshot) error
	LoadSnapshot(ctx context.Context, aggregateID string) (types.Snapshot, bool, error)

	Close() error
}

// DeadLetterKind says what a dead letter carries
type DeadLetterKind string

const (
	DeadLetterEvent    DeadLetterKind = "event"
	DeadLetterSnapshot DeadLetterKind = "snapshot"
)

// DeadLetter is a broadcast forward that failed after the record was
// persisted. It is kept until redelivery succeeds.
type DeadLetter struct {
	ID        string          `json:"id"`
	Kind      DeadLetterKind  `json:"kind"`
	Key       string          `json:"key"`
	Event     *types.Event    `json:"event,omitempty"`
	Snapshot  *types.Snapshot `json:"snapshot,omitempty"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"lastError,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// DeadLetterStore keeps failed forwards for out-of-band redelivery
type DeadLetterStore interface {
	PutDeadLetter(ctx context.Context, dl DeadLetter) error
	// ListDeadLetters returns the oldest letters first; limit <= 0 means all
	ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id string) error
	CountDeadLetters() (int, error)
}

// Store is what the event pipeline needs from persistence
type Store interface {
	EventStore
	DeadLetterStore
}

// InstanceStore persists registrations so a restarted coordinator can
// recover its instance table.
type InstanceStore interface {
	SaveInstance(instance types.ServiceInstance) error
	DeleteInstance(instanceID string) error
	ListInstances() ([]types.ServiceInstance, error)
}

// SagaStore persists encoded saga instances by id
type SagaStore interface {
	SaveSaga(ctx context.Context, id string, data []byte) error
	LoadSaga(ctx context.Context, id string) ([]byte, bool, error)
	DeleteSaga(ctx context.Context, id string) error
}

// itob returns an 8-byte big endian representation of v
func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func sequenceConflict(event types.Event, next int64) error {
	return fmt.Errorf("%w: %s@%d, next sequence is %d",
		types.ErrConcurrencyConflict, event.AggregateID, event.SequenceNumber, next)
}
