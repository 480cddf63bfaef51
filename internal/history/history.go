// Package history records completed pipeline runs in a local SQLite
// database so past analyses stay queryable from the CLI.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a run id has no record.
var ErrNotFound = errors.New("history: run not found")

// StepRecord is one step's final state within a recorded run.
type StepRecord struct {
	Index       int
	Description string
	Status      string
	Source      string // "model" or "template"
}

// Run is one recorded pipeline run.
type Run struct {
	ID               string
	Request          string
	WorkingDirectory string
	Status           string // "completed", "failed", "cancelled"
	Datasets         []string
	StartedAt        time.Time
	FinishedAt       time.Time
	Steps            []StepRecord
}

// Store persists runs in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens (creating if needed) the history database at path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("sqlite pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		request TEXT NOT NULL,
		working_dir TEXT NOT NULL,
		status TEXT NOT NULL,
		datasets TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS run_steps (
		run_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, step_index),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize history schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a run and its steps in one transaction.
func (s *Store) Record(run Run) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (id, request, working_dir, status, datasets, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Request, run.WorkingDirectory, run.Status,
		strings.Join(run.Datasets, ","),
		run.StartedAt.Unix(), run.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	for _, step := range run.Steps {
		_, err = tx.Exec(
			`INSERT INTO run_steps (run_id, step_index, description, status, source)
			 VALUES (?, ?, ?, ?, ?)`,
			run.ID, step.Index, step.Description, step.Status, step.Source,
		)
		if err != nil {
			return fmt.Errorf("insert step %d of run %s: %w", step.Index, run.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	s.logger.Debug("run recorded", zap.String("run_id", run.ID), zap.Int("steps", len(run.Steps)))
	return nil
}

// List returns the most recent runs, newest first, without step detail.
func (s *Store) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, request, working_dir, status, datasets, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns one run with its steps.
func (s *Store) Get(id string) (Run, error) {
	row := s.db.QueryRow(
		`SELECT id, request, working_dir, status, datasets, started_at, finished_at
		 FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}

	rows, err := s.db.Query(
		`SELECT step_index, description, status, source
		 FROM run_steps WHERE run_id = ? ORDER BY step_index`, id)
	if err != nil {
		return Run{}, fmt.Errorf("load steps for run %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var step StepRecord
		if err := rows.Scan(&step.Index, &step.Description, &step.Status, &step.Source); err != nil {
			return Run{}, fmt.Errorf("scan step: %w", err)
		}
		run.Steps = append(run.Steps, step)
	}
	return run, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var datasets string
	var started, finished int64
	err := row.Scan(&run.ID, &run.Request, &run.WorkingDirectory, &run.Status,
		&datasets, &started, &finished)
	if err != nil {
		return Run{}, err
	}
	if datasets != "" {
		run.Datasets = strings.Split(datasets, ",")
	}
	run.StartedAt = time.Unix(started, 0)
	run.FinishedAt = time.Unix(finished, 0)
	return run, nil
}
