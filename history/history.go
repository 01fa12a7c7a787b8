// Package history keeps a local index of completed runs in SQLite so runs
// can be listed and inspected after the fact. Recording is best-effort:
// the audit log and manifest remain authoritative, the index is a
// convenience for the CLI.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/c360studio/semflow/run"
)

// ErrNotFound is returned when a run is not in the index.
var ErrNotFound = errors.New("run not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id           TEXT PRIMARY KEY,
	workflow_name    TEXT NOT NULL,
	status           TEXT NOT NULL,
	started_at       TEXT NOT NULL,
	ended_at         TEXT NOT NULL,
	tokens_used      INTEGER NOT NULL,
	tokens_overrun   INTEGER NOT NULL DEFAULT 0,
	budget_remaining INTEGER NOT NULL,
	steps_total      INTEGER NOT NULL,
	steps_succeeded  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

// Entry is one indexed run.
type Entry struct {
	RunID           string
	WorkflowName    string
	Status          string
	StartedAt       time.Time
	EndedAt         time.Time
	TokensUsed      int
	TokensOverrun   int
	BudgetRemaining int
	StepsTotal      int
	StepsSucceeded  int
}

// Store is the SQLite-backed run index.
type Store struct {
	db *sql.DB
}

// Open creates or opens the index database, ensuring the schema exists.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record upserts a run summary into the index.
func (s *Store) Record(summary *run.Summary) error {
	succeeded := 0
	for _, res := range summary.StepResults {
		if res.Status == "succeeded" {
			succeeded++
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, workflow_name, status, started_at, ended_at,
			tokens_used, tokens_overrun, budget_remaining, steps_total, steps_succeeded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			ended_at = excluded.ended_at,
			tokens_used = excluded.tokens_used,
			tokens_overrun = excluded.tokens_overrun,
			budget_remaining = excluded.budget_remaining,
			steps_total = excluded.steps_total,
			steps_succeeded = excluded.steps_succeeded`,
		summary.RunID,
		summary.WorkflowName,
		string(summary.Status),
		summary.StartedAt.UTC().Format(time.RFC3339Nano),
		summary.EndedAt.UTC().Format(time.RFC3339Nano),
		summary.TokensUsedTotal,
		summary.TokensOverrun,
		summary.BudgetRemaining,
		len(summary.StepResults),
		succeeded,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", summary.RunID, err)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT run_id, workflow_name, status, started_at, ended_at,
			tokens_used, tokens_overrun, budget_remaining, steps_total, steps_succeeded
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Get returns one indexed run by ID.
func (s *Store) Get(runID string) (*Entry, error) {
	row := s.db.QueryRow(`
		SELECT run_id, workflow_name, status, started_at, ended_at,
			tokens_used, tokens_overrun, budget_remaining, steps_total, steps_succeeded
		FROM runs WHERE run_id = ?`, runID)

	entry, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func scanEntry(scan func(dest ...any) error) (Entry, error) {
	var (
		e                  Entry
		startedAt, endedAt string
	)
	if err := scan(&e.RunID, &e.WorkflowName, &e.Status, &startedAt, &endedAt,
		&e.TokensUsed, &e.TokensOverrun, &e.BudgetRemaining,
		&e.StepsTotal, &e.StepsSucceeded); err != nil {
		return Entry{}, err
	}

	var err error
	if e.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Entry{}, fmt.Errorf("parse started_at: %w", err)
	}
	if e.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
		return Entry{}, fmt.Errorf("parse ended_at: %w", err)
	}
	return e, nil
}
