package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/types"
)

func newEvent(agg string, seq int64) types.Event {
	return types.Event{
		EventID:        fmt.Sprintf("%s-%d", agg, seq),
		AggregateID:    agg,
		AggregateType:  "Order",
		SequenceNumber: seq,
		EventType:      "OrderCreated",
		Payload:        types.Payload{Type: "OrderCreated", Data: json.RawMessage(`{"total":42}`)},
		Metadata:       map[string]string{"relay.origin": "local"},
		Timestamp:      time.Now().UTC().Truncate(time.Millisecond),
	}
}

// storeFactories runs every contract test against each embedded store
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"bolt": func() Store {
			s, err := NewBoltStore(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"memory": func() Store {
			return NewMemoryStore()
		},
	}
}

func TestStore_AppendConflict(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()

			first := newEvent("agg-1", 1)
			require.NoError(t, s.Append(ctx, first))

			dup := newEvent("agg-1", 1)
			dup.EventID = "other"
			err := s.Append(ctx, dup)
			assert.ErrorIs(t, err, types.ErrConcurrencyConflict)
			assert.Equal(t, types.CodeConcurrencyConflict, types.ErrorCode(err))

			events, err := s.LoadSince(ctx, "agg-1", 0)
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, first.EventID, events[0].EventID)
			assert.JSONEq(t, `{"total":42}`, string(events[0].Payload.Data))
		})
	}
}

func TestStore_AppendRejectsGaps(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()

			// a fresh stream starts at 1
			err := s.Append(ctx, newEvent("agg-gap", 5))
			assert.ErrorIs(t, err, types.ErrConcurrencyConflict)

			next, err := s.NextSequence(ctx, "agg-gap")
			require.NoError(t, err)
			assert.Equal(t, int64(1), next)

			require.NoError(t, s.Append(ctx, newEvent("agg-gap", 1)))
			require.NoError(t, s.Append(ctx, newEvent("agg-gap", 2)))
			assert.ErrorIs(t, s.Append(ctx, newEvent("agg-gap", 4)), types.ErrConcurrencyConflict)

			events, err := s.LoadSince(ctx, "agg-gap", 0)
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.Equal(t, int64(2), events[1].SequenceNumber)
		})
	}
}

func TestMemoryStore_CopiesEvents(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ev := newEvent("agg-1", 1)
	require.NoError(t, s.Append(ctx, ev))
	ev.Metadata["relay.origin"] = "changed"
	ev.Payload.Data[2] = 'X'

	loaded, err := s.LoadSince(ctx, "agg-1", 0)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "local", loaded[0].Metadata["relay.origin"])
	assert.JSONEq(t, `{"total":42}`, string(loaded[0].Payload.Data))

	loaded[0].Metadata["tenant"] = "acme"
	again, err := s.LoadSince(ctx, "agg-1", 0)
	require.NoError(t, err)
	assert.NotContains(t, again[0].Metadata, "tenant")
}

func TestStore_NextSequenceAndLoadSince(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()

			next, err := s.NextSequence(ctx, "agg-2")
			require.NoError(t, err)
			assert.Equal(t, int64(1), next)

			for i := int64(1); i <= 5; i++ {
				require.NoError(t, s.Append(ctx, newEvent("agg-2", i)))
			}
			// other aggregates do not leak into the stream
			require.NoError(t, s.Append(ctx, newEvent("agg-3", 1)))

			next, err = s.NextSequence(ctx, "agg-2")
			require.NoError(t, err)
			assert.Equal(t, int64(6), next)

			events, err := s.LoadSince(ctx, "agg-2", 3)
			require.NoError(t, err)
			require.Len(t, events, 3)
			for i, e := range events {
				assert.Equal(t, int64(3+i), e.SequenceNumber)
			}

			// restartable from a later position
			events, err = s.LoadSince(ctx, "agg-2", 6)
			require.NoError(t, err)
			assert.Empty(t, events)

			events, err = s.LoadSince(ctx, "missing", 0)
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestStore_SnapshotReplaced(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()

			_, found, err := s.LoadSnapshot(ctx, "agg-7")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, s.SaveSnapshot(ctx, types.Snapshot{
				AggregateID: "agg-7", AggregateType: "Order", SequenceNumber: 10,
				Data: json.RawMessage(`{"v":10}`), Timestamp: time.Now(),
			}))
			require.NoError(t, s.SaveSnapshot(ctx, types.Snapshot{
				AggregateID: "agg-7", AggregateType: "Order", SequenceNumber: 20,
				Data: json.RawMessage(`{"v":20}`), Timestamp: time.Now(),
			}))

			snap, found, err := s.LoadSnapshot(ctx, "agg-7")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, int64(20), snap.SequenceNumber)
			assert.JSONEq(t, `{"v":20}`, string(snap.Data))
		})
	}
}

func TestStore_ConcurrentAppendsNoGaps(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			const writers, perWriter = 8, 10

			var wg sync.WaitGroup
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for done := 0; done < perWriter; {
						seq, err := s.NextSequence(ctx, "hot")
						if !assert.NoError(t, err) {
							return
						}
						err = s.Append(ctx, newEvent("hot", seq))
						if err == nil {
							done++
							continue
						}
						if !assert.ErrorIs(t, err, types.ErrConcurrencyConflict) {
							return
						}
					}
				}()
			}
			wg.Wait()

			events, err := s.LoadSince(ctx, "hot", 0)
			require.NoError(t, err)
			require.Len(t, events, writers*perWriter)
			for i, e := range events {
				assert.Equal(t, int64(i+1), e.SequenceNumber)
			}
		})
	}
}

func TestStore_DeadLetters(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()

			for i := int64(1); i <= 3; i++ {
				e := newEvent("agg-dl", i)
				require.NoError(t, s.PutDeadLetter(ctx, DeadLetter{
					Kind: DeadLetterEvent, Key: "agg-dl", Event: &e, LastError: "broker down",
				}))
			}

			n, err := s.CountDeadLetters()
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			letters, err := s.ListDeadLetters(ctx, 2)
			require.NoError(t, err)
			require.Len(t, letters, 2)
			assert.Equal(t, int64(1), letters[0].Event.SequenceNumber)
			assert.False(t, letters[0].CreatedAt.IsZero())

			require.NoError(t, s.DeleteDeadLetter(ctx, letters[0].ID))
			n, _ = s.CountDeadLetters()
			assert.Equal(t, 2, n)

			// updating keeps the id and creation time
			dl := letters[1]
			dl.Attempts = 4
			require.NoError(t, s.PutDeadLetter(ctx, dl))
			all, err := s.ListDeadLetters(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, 4, all[0].Attempts)
		})
	}
}

func TestBoltStore_Instances(t *testing.T) {
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	inst := types.ServiceInstance{
		InstanceID: "svc-1", ServiceName: "orders", Host: "10.0.0.1", Port: 9000,
		Status: types.InstanceStatusUp, CommandTypes: []string{"CreateOrder"},
	}
	require.NoError(t, s.SaveInstance(inst))
	require.NoError(t, s.SaveInstance(types.ServiceInstance{InstanceID: "svc-2", ServiceName: "billing"}))

	list, err := s.ListInstances()
	require.NoError(t, err)
	require.Len(t, list, 2)
	sort.Slice(list, func(i, j int) bool { return list[i].InstanceID < list[j].InstanceID })
	assert.Equal(t, []string{"CreateOrder"}, list[0].CommandTypes)

	require.NoError(t, s.DeleteInstance("svc-2"))
	list, _ = s.ListInstances()
	assert.Len(t, list, 1)
}

func TestBoltStore_SagasAndAggregates(t *testing.T) {
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, found, err := s.LoadSaga(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SaveSaga(ctx, "order-1", []byte(`{"state":"PENDING"}`)))
	data, found, err := s.LoadSaga(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"state":"PENDING"}`, string(data))
	require.NoError(t, s.DeleteSaga(ctx, "order-1"))

	require.NoError(t, s.Append(ctx, newEvent("a", 1)))
	require.NoError(t, s.Append(ctx, newEvent("b", 1)))
	ids, err := s.Aggregates(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestBoltStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), newEvent("agg", 1)))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()
	next, err := s.NextSequence(context.Background(), "agg")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)
}
