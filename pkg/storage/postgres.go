package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cuemby/relay/pkg/types"
)

const pgUniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS relay_events (
	aggregate_id    TEXT        NOT NULL,
	sequence_number BIGINT      NOT NULL,
	event_id        TEXT        NOT NULL,
	aggregate_type  TEXT        NOT NULL DEFAULT '',
	event_type      TEXT        NOT NULL,
	payload         JSONB       NOT NULL,
	metadata        JSONB,
	version         BIGINT      NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (aggregate_id, sequence_number)
);

CREATE TABLE IF NOT EXISTS relay_snapshots (
	aggregate_id    TEXT PRIMARY KEY,
	aggregate_type  TEXT        NOT NULL DEFAULT '',
	sequence_number BIGINT      NOT NULL,
	data            JSONB,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS relay_dead_letters (
	id         TEXT PRIMARY KEY,
	body       JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore implements Store on PostgreSQL. Appends insert only at the
// stream's tail and the primary key on (aggregate_id, sequence_number)
// rejects concurrent writers of the same position.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database described by connString
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the relay tables if they do not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, e types.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	// the row is only inserted when it directly follows the stream's
	// tail; concurrent writers of the same sequence hit the primary key
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO relay_events
			(aggregate_id, sequence_number, event_id, aggregate_type, event_type, payload, metadata, version, created_at)
		SELECT $1::text, $2::bigint, $3::text, $4::text, $5::text, $6::jsonb, $7::jsonb, $2::bigint, $8::timestamptz
		WHERE (SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM relay_events WHERE aggregate_id = $1::text) = $2::bigint`,
		e.AggregateID, e.SequenceNumber, e.EventID, e.AggregateType, e.EventType,
		payload, metadata, e.Timestamp,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s@%d", types.ErrConcurrencyConflict, e.AggregateID, e.SequenceNumber)
		}
		return classify("append event", err)
	}
	if tag.RowsAffected() == 0 {
		next, err := s.NextSequence(ctx, e.AggregateID)
		if err != nil {
			return err
		}
		return sequenceConflict(e, next)
	}
	return nil
}

func (s *PostgresStore) NextSequence(ctx context.Context, aggregateID string) (int64, error) {
	var next int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM relay_events WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&next)
	if err != nil {
		return 0, classify("next sequence", err)
	}
	return next, nil
}

func (s *PostgresStore) LoadSince(ctx context.Context, aggregateID string, from int64) ([]types.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, aggregate_id, aggregate_type, sequence_number, event_type, payload, metadata, created_at
		FROM relay_events
		WHERE aggregate_id = $1 AND sequence_number >= $2
		ORDER BY sequence_number ASC`,
		aggregateID, from,
	)
	if err != nil {
		return nil, classify("load events", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var (
			e        types.Event
			payload  []byte
			metadata []byte
		)
		if err := rows.Scan(&e.EventID, &e.AggregateID, &e.AggregateType, &e.SequenceNumber,
			&e.EventType, &payload, &metadata, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load events", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap types.Snapshot) error {
	data := snap.Data
	if len(data) == 0 {
		data = []byte("null")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_snapshots (aggregate_id, aggregate_type, sequence_number, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (aggregate_id) DO UPDATE SET
			aggregate_type = EXCLUDED.aggregate_type,
			sequence_number = EXCLUDED.sequence_number,
			data = EXCLUDED.data,
			created_at = EXCLUDED.created_at`,
		snap.AggregateID, snap.AggregateType, snap.SequenceNumber, data, snap.Timestamp,
	)
	if err != nil {
		return classify("save snapshot", err)
	}
	return nil
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context, aggregateID string) (types.Snapshot, bool, error) {
	var (
		snap types.Snapshot
		data []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT aggregate_id, aggregate_type, sequence_number, data, created_at
		FROM relay_snapshots WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&snap.AggregateID, &snap.AggregateType, &snap.SequenceNumber, &data, &snap.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Snapshot{}, false, nil
		}
		return types.Snapshot{}, false, classify("load snapshot", err)
	}
	snap.Data = data
	return snap, true, nil
}

func (s *PostgresStore) PutDeadLetter(ctx context.Context, dl DeadLetter) error {
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

	body, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO relay_dead_letters (id, body, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body`,
		dl.ID, body, dl.CreatedAt,
	)
	if err != nil {
		return classify("put dead letter", err)
	}
	return nil
}

func (s *PostgresStore) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	query := `SELECT body FROM relay_dead_letters ORDER BY created_at, id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list dead letters", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		var dl DeadLetter
		if err := json.Unmarshal(body, &dl); err != nil {
			return nil, fmt.Errorf("failed to decode dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteDeadLetter(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM relay_dead_letters WHERE id = $1`, id); err != nil {
		return classify("delete dead letter", err)
	}
	return nil
}

func (s *PostgresStore) CountDeadLetters() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM relay_dead_letters`).Scan(&n); err != nil {
		return 0, classify("count dead letters", err)
	}
	return n, nil
}

// classify marks connection level failures as transient so callers retry
func classify(op string, err error) error {
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("failed to %s: %w: %v", op, types.ErrTransient, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
