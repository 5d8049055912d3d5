/*
Package storage persists relay's durable state: the per-aggregate event
log, snapshots, dead-lettered broadcast forwards, instance registrations
and saga instances.

# Backends

BoltStore is the default and keeps everything in one bbolt file
(relay.db in the data directory):

	events/            one nested bucket per aggregate id
	  <aggregate>/     key: 8-byte big endian sequence, value: JSON event
	snapshots/         key: aggregate id, value: JSON snapshot
	dead_letters/      key: UUIDv7 (oldest first), value: JSON DeadLetter
	instances/         key: instance id, value: JSON ServiceInstance
	sagas/             key: saga id, value: encoded saga instance

Append checks for an existing key and writes inside a single read-write
transaction, so two writers racing for the same (aggregateId,
sequenceNumber) see exactly one success and one
types.ErrConcurrencyConflict.

PostgresStore keeps events in relay_events with a primary key on
(aggregate_id, sequence_number); a unique violation (SQLSTATE 23505) is
reported as types.ErrConcurrencyConflict. Snapshots are upserted with ON
CONFLICT. Call Migrate once at startup.

MemoryStore is for tests and local runs. It locks per aggregate.

# Usage

	store, err := storage.NewBoltStore("/var/lib/relay")
	if err != nil {
		return err
	}
	defer store.Close()

	seq, _ := store.NextSequence(ctx, "order-42")
	err = store.Append(ctx, types.Event{AggregateID: "order-42", SequenceNumber: seq, ...})
	if errors.Is(err, types.ErrConcurrencyConflict) {
		// reload and retry
	}
*/
package storage
