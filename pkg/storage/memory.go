package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/relay/pkg/types"
)

type memoryStream struct {
	mu     sync.Mutex
	events []types.Event // ascending by sequence
}

// MemoryStore is an in-process Store used for tests and local development.
// Each aggregate stream has its own mutex so appends to different
// aggregates never contend.
type MemoryStore struct {
	streams sync.Map // aggregateID -> *memoryStream

	mu          sync.RWMutex
	snapshots   map[string]types.Snapshot
	deadLetters map[string]DeadLetter
	instances   map[string]types.ServiceInstance
	sagas       map[string][]byte
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots:   make(map[string]types.Snapshot),
		deadLetters: make(map[string]DeadLetter),
		instances:   make(map[string]types.ServiceInstance),
		sagas:       make(map[string][]byte),
	}
}

func (m *MemoryStore) stream(aggregateID string) *memoryStream {
	v, _ := m.streams.LoadOrStore(aggregateID, &memoryStream{})
	return v.(*memoryStream)
}

// Append stores event when its sequence number directly follows the
// stream's last one
func (m *MemoryStore) Append(ctx context.Context, event types.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := m.stream(event.AggregateID)
	s.mu.Lock()
	defer s.mu.Unlock()

	next := int64(len(s.events)) + 1
	if event.SequenceNumber != next {
		return sequenceConflict(event, next)
	}
	s.events = append(s.events, event.Clone())
	return nil
}

func (m *MemoryStore) NextSequence(ctx context.Context, aggregateID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s := m.stream(aggregateID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)) + 1, nil
}

func (m *MemoryStore) LoadSince(ctx context.Context, aggregateID string, from int64) ([]types.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := m.streams.Load(aggregateID)
	if !ok {
		return nil, nil
	}
	s := v.(*memoryStream)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Event
	for _, e := range s.events {
		if e.SequenceNumber >= from {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveSnapshot(ctx context.Context, snapshot types.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.AggregateID] = snapshot
	return nil
}

func (m *MemoryStore) LoadSnapshot(ctx context.Context, aggregateID string) (types.Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[aggregateID]
	return s, ok, nil
}

func (m *MemoryStore) PutDeadLetter(ctx context.Context, dl DeadLetter) error {
	if dl.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		dl.ID = id.String()
	}
	now := time.Now()
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = now
	}
	dl.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters[dl.ID] = dl
	return nil
}

func (m *MemoryStore) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	m.mu.RLock()
	out := make([]DeadLetter, 0, len(m.deadLetters))
	for _, dl := range m.deadLetters {
		out = append(out, dl)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteDeadLetter(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadLetters, id)
	return nil
}

func (m *MemoryStore) CountDeadLetters() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.deadLetters), nil
}

func (m *MemoryStore) SaveInstance(instance types.ServiceInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[instance.InstanceID] = instance.Clone()
	return nil
}

func (m *MemoryStore) DeleteInstance(instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, instanceID)
	return nil
}

func (m *MemoryStore) ListInstances() ([]types.ServiceInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ServiceInstance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out, nil
}

func (m *MemoryStore) SaveSaga(ctx context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sagas[id] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) LoadSaga(ctx context.Context, id string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.sagas[id]
	return append([]byte(nil), v...), ok, nil
}

func (m *MemoryStore) DeleteSaga(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sagas, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
