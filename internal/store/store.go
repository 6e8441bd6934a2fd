// Package store persists snapshot.FrozenExecution values keyed by an
// arbitrary run identifier, so a frozen run can be handed off, restarted
// after a crash, or inspected later (§6.5 of the design).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/tripflow/reflow/internal/snapshot"
)

// Store is the persistence interface the rest of the module depends on;
// SQLiteStore is the default implementation, postgres.Store an alternate
// one for deployments that already run Postgres.
type Store interface {
	SaveSnapshot(ctx context.Context, runID string, frozen *snapshot.FrozenExecution) error
	LoadSnapshot(ctx context.Context, runID string) (*snapshot.FrozenExecution, error)
	ListRuns(ctx context.Context) ([]string, error)
	DeleteSnapshot(ctx context.Context, runID string) error
	Close() error
}

// SQLiteStore implements Store on top of a pure-Go SQLite driver, so the
// module never requires cgo.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite database file at path, enabling WAL
// mode and a busy timeout so a reader does not fail outright against a
// concurrent writer.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: creating parent directory: %w", err)
		}
	}
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	return open(ctx, connStr)
}

// OpenMemory creates an in-memory SQLite database, for tests and
// short-lived local runs that do not need durability across restarts.
func OpenMemory(ctx context.Context) (*SQLiteStore, error) {
	return open(ctx, "file::memory:?mode=memory&cache=shared")
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	db.SetMaxOpenConns(2)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: initializing schema: %w", err)
	}
	return nil
}

// SaveSnapshot upserts the gob-encoded snapshot for runID.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, runID string, frozen *snapshot.FrozenExecution) error {
	data, err := snapshot.Bytes(frozen)
	if err != nil {
		return fmt.Errorf("store: encoding snapshot for %q: %w", runID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP
	`, runID, data)
	if err != nil {
		return fmt.Errorf("store: saving snapshot for %q: %w", runID, err)
	}
	return nil
}

// LoadSnapshot decodes the snapshot previously saved for runID.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, runID string) (*snapshot.FrozenExecution, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM runs WHERE id = ?`, runID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: no snapshot saved for run %q", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading snapshot for %q: %w", runID, err)
	}
	frozen, err := snapshot.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("store: decoding snapshot for %q: %w", runID, err)
	}
	return frozen, nil
}

// ListRuns returns every run ID with a saved snapshot.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: listing runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scanning run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSnapshot removes runID's saved snapshot, if any.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID); err != nil {
		return fmt.Errorf("store: deleting snapshot for %q: %w", runID, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
