package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/relay/pkg/types"
)

var (
	// Bucket names
	bucketEvents      = []byte("events")
	bucketSnapshots   = []byte("snapshots")
	bucketDeadLetters = []byte("dead_letters")
	bucketInstances   = []byte("instances")
	bucketSagas       = []byte("sagas")
)

// BoltStore implements Store, InstanceStore and SagaStore on a single
// BoltDB file. Events live in one nested bucket per aggregate under
// "events", keyed by the big endian sequence number.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) relay.db inside dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	return OpenBoltStore(filepath.Join(dataDir, "relay.db"))
}

// OpenBoltStore opens the database file at path
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEvents, bucketSnapshots, bucketDeadLetters, bucketInstances, bucketSagas} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// Append stores event when its sequence number directly follows the
// aggregate's last one
func (s *BoltStore) Append(ctx context.Context, event types.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		agg, err := tx.Bucket(bucketEvents).CreateBucketIfNotExists([]byte(event.AggregateID))
		if err != nil {
			return fmt.Errorf("failed to create aggregate bucket: %w", err)
		}
		next := int64(1)
		if k, _ := agg.Cursor().Last(); k != nil {
			next = btoi(k) + 1
		}
		if event.SequenceNumber != next {
			return sequenceConflict(event, next)
		}
		return agg.Put(itob(event.SequenceNumber), data)
	})
}

// NextSequence returns the last stored sequence plus one, or 1
func (s *BoltStore) NextSequence(ctx context.Context, aggregateID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	next := int64(1)
	err := s.db.View(func(tx *bolt.Tx) error {
		agg := tx.Bucket(bucketEvents).Bucket([]byte(aggregateID))
		if agg == nil {
			return nil
		}
		if k, _ := agg.Cursor().Last(); k != nil {
			next = btoi(k) + 1
		}
		return nil
	})
	return next, err
}

// LoadSince returns events with sequence >= from, ascending
func (s *BoltStore) LoadSince(ctx context.Context, aggregateID string, from int64) ([]types.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if from < 1 {
		from = 1
	}
	var out []types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		agg := tx.Bucket(bucketEvents).Bucket([]byte(aggregateID))
		if agg == nil {
			return nil
		}
		c := agg.Cursor()
		for k, v := c.Seek(itob(from)); k != nil; k, v = c.Next() {
			var e types.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to decode event %s@%d: %w", aggregateID, btoi(k), err)
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Aggregates lists every aggregate id with at least one event
func (s *BoltStore) Aggregates(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(k, v []byte) error {
			// nested buckets have a nil value
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

// SaveSnapshot replaces the snapshot for the aggregate
func (s *BoltStore) SaveSnapshot(ctx context.Context, snapshot types.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(snapshot.AggregateID), data)
	})
}

// LoadSnapshot returns the live snapshot for the aggregate, if any
func (s *BoltStore) LoadSnapshot(ctx context.Context, aggregateID string) (types.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.Snapshot{}, false, err
	}
	var snap types.Snapshot
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(aggregateID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &snap)
	})
	return snap, found, err
}

// PutDeadLetter stores or updates a dead letter. A missing ID is assigned
// a time ordered UUID so iteration returns the oldest first.
func (s *BoltStore) PutDeadLetter(ctx context.Context, dl DeadLetter) error {
	if dl.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate dead letter id: %w", err)
		}
		dl.ID = id.String()
	}
	now := time.Now()
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = now
	}
	dl.UpdatedAt = now

	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeadLetters).Put([]byte(dl.ID), data)
	})
}

// ListDeadLetters returns up to limit dead letters, oldest first
func (s *BoltStore) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	var out []DeadLetter
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDeadLetters).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dl DeadLetter
			if err := json.Unmarshal(v, &dl); err != nil {
				return fmt.Errorf("failed to decode dead letter %s: %w", k, err)
			}
			out = append(out, dl)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// DeleteDeadLetter removes a dead letter
func (s *BoltStore) DeleteDeadLetter(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeadLetters).Delete([]byte(id))
	})
}

// CountDeadLetters returns the number of pending dead letters
func (s *BoltStore) CountDeadLetters() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketDeadLetters).Stats().KeyN
		return nil
	})
	return n, err
}

// SaveInstance upserts a registration
func (s *BoltStore) SaveInstance(instance types.ServiceInstance) error {
	data, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).Put([]byte(instance.InstanceID), data)
	})
}

// DeleteInstance removes a registration
func (s *BoltStore) DeleteInstance(instanceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).Delete([]byte(instanceID))
	})
}

// ListInstances returns every persisted registration
func (s *BoltStore) ListInstances() ([]types.ServiceInstance, error) {
	var out []types.ServiceInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var inst types.ServiceInstance
			if err := json.Unmarshal(v, &inst); err != nil {
				return err
			}
			out = append(out, inst)
			return nil
		})
	})
	return out, err
}

// SaveSaga stores an encoded saga instance
func (s *BoltStore) SaveSaga(ctx context.Context, id string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSagas).Put([]byte(id), data)
	})
}

// LoadSaga returns an encoded saga instance
func (s *BoltStore) LoadSaga(ctx context.Context, id string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSagas).Get([]byte(id)); v != nil {
			// values are only valid for the life of the transaction
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, out != nil, err
}

// DeleteSaga removes a saga instance
func (s *BoltStore) DeleteSaga(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSagas).Delete([]byte(id))
	})
}
