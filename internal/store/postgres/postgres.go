// Package postgres is an alternate store.Store backed by Postgres via
// pgx, for deployments that already run Postgres and would rather not add
// a second database engine just for frozen-run snapshots.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tripflow/reflow/internal/snapshot"
)

// Store implements store.Store on top of a pgx connection pool.
type Store struct {
	db *pgxpool.Pool
}

// New wraps an already-configured pgx pool. Close closes that pool, just
// as it closes a pool opened via Open.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Open parses connString and establishes a pool, then ensures the schema
// this Store needs exists.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	s := &Store{db: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS reflow_runs (
		id TEXT PRIMARY KEY,
		data BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: initializing schema: %w", err)
	}
	return nil
}

// SaveSnapshot upserts the gob-encoded snapshot for runID.
func (s *Store) SaveSnapshot(ctx context.Context, runID string, frozen *snapshot.FrozenExecution) error {
	data, err := snapshot.Bytes(frozen)
	if err != nil {
		return fmt.Errorf("postgres: encoding snapshot for %q: %w", runID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO reflow_runs (id, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = now()
	`, runID, data)
	if err != nil {
		return fmt.Errorf("postgres: saving snapshot for %q: %w", runID, err)
	}
	return nil
}

// LoadSnapshot decodes the snapshot previously saved for runID.
func (s *Store) LoadSnapshot(ctx context.Context, runID string) (*snapshot.FrozenExecution, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM reflow_runs WHERE id = $1`, runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: no snapshot saved for run %q", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: loading snapshot for %q: %w", runID, err)
	}
	frozen, err := snapshot.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("postgres: decoding snapshot for %q: %w", runID, err)
	}
	return frozen, nil
}

// ListRuns returns every run ID with a saved snapshot.
func (s *Store) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM reflow_runs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scanning run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSnapshot removes runID's saved snapshot, if any.
func (s *Store) DeleteSnapshot(ctx context.Context, runID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM reflow_runs WHERE id = $1`, runID); err != nil {
		return fmt.Errorf("postgres: deleting snapshot for %q: %w", runID, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}
