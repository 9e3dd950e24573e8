package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so created_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps runs in a SQLite database. Step transcripts are stored
// as a JSON column next to the run summary.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and creates if needed) the database at path and
// ensures the runs table exists.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(pctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
  id         TEXT PRIMARY KEY,
  kind       TEXT NOT NULL,
  name       TEXT,
  status     TEXT NOT NULL,
  created_at TEXT NOT NULL,
  digest     TEXT NOT NULL,
  steps      JSON NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS runs_created_at_idx ON runs(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save seals the run and upserts it.
func (s *SQLiteStore) Save(run *Run) error {
	if err := validID(run.ID); err != nil {
		return err
	}
	run.Seal()
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("marshalling run %s: %w", run.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO runs (id, kind, name, status, created_at, digest, steps)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  kind = excluded.kind, name = excluded.name, status = excluded.status,
  created_at = excluded.created_at, digest = excluded.digest, steps = excluded.steps`,
		run.ID, string(run.Kind), run.Name, string(run.Status),
		run.CreatedAt.UTC().Format(timeLayout), run.Digest, string(steps))
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	return nil
}

// Load reads a run and verifies its digest.
func (s *SQLiteStore) Load(runID string) (*Run, error) {
	var (
		run       Run
		kind      string
		name      sql.NullString
		status    string
		createdAt string
		steps     string
	)
	err := s.db.QueryRow(`SELECT id, kind, name, status, created_at, digest, steps FROM runs WHERE id = ?`, runID).
		Scan(&run.ID, &kind, &name, &status, &createdAt, &run.Digest, &steps)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	run.Kind = Kind(kind)
	run.Name = name.String
	run.Status = Status(status)
	if run.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("loading run %s: created_at: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(steps), &run.Steps); err != nil {
		return nil, fmt.Errorf("unmarshalling run %s: %w", runID, err)
	}
	if err := run.Verify(); err != nil {
		return nil, err
	}
	return &run, nil
}

// Recent returns summaries of the most recent runs, newest first. Steps
// are not loaded.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, name, status, created_at FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                       Run
			kind, status, createdAt string
			name                    sql.NullString
		)
		if err := rows.Scan(&r.ID, &kind, &name, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		r.Kind = Kind(kind)
		r.Name = name.String
		r.Status = Status(status)
		r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

