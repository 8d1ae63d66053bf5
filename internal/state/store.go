package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joss/awf/internal/config"
)

// Store persists workflow state in a sqlite database. One row per run
// id; Save is last-writer-wins.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the state database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if err := config.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id     TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate state db: %w", err)
	}
	return nil
}

// Load returns the state for a run id, or nil when the run has never
// been saved.
func (s *Store) Load(ctx context.Context, runID string) (*WorkflowState, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM runs WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", runID, err)
	}
	var ws WorkflowState
	if err := json.Unmarshal([]byte(payload), &ws); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", runID, err)
	}
	return &ws, nil
}

// Save upserts the state row, appending workflow to the run's history.
// The append happens on every save, including repeats of the same
// workflow, so the history reads as a timeline.
func (s *Store) Save(ctx context.Context, ws *WorkflowState, workflow string) error {
	ws.Workflows = append(ws.Workflows, workflow)
	payload, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", ws.RunID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, ws.RunID, string(payload), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save state %s: %w", ws.RunID, err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
