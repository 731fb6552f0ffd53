// Package history persists one record per finished review run, keyed by
// workspace, and serves the bounded most-recent-first listing the UI shows.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quotio/review-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// RunsDirName is the per-workspace directory holding job directories and
// the history index.
const RunsDirName = ".review-runs"

// RunsDir returns the job-records directory for a workspace
func RunsDir(workspace string) string {
	return filepath.Join(workspace, RunsDirName)
}

// DBPath returns the history index path for a workspace
func DBPath(workspace string) string {
	return filepath.Join(RunsDir(workspace), "history.db")
}

// Store provides SQLite-backed run history persistence
type Store struct {
	db *sql.DB

	// Run completion and background refresh may touch the same workspace
	// concurrently; writes are serialized here.
	mu sync.Mutex
}

// New creates a Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Open creates the workspace's job-records directory if needed and opens
// its history index.
func Open(workspace string) (*Store, error) {
	if err := os.MkdirAll(RunsDir(workspace), 0755); err != nil {
		return nil, &domain.PersistenceError{Op: "open", Err: err}
	}
	store, err := New(DBPath(workspace))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "open", Err: err}
	}
	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun upserts the history item and replaces its persisted event log
// in one transaction.
func (s *Store) SaveRun(item *domain.HistoryItem, events []domain.RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return &domain.PersistenceError{Op: "write", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (job_id, workspace, created_at, worker_count, failed_workers, model, job_dir, aggregate_path, fix_path, phase)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			worker_count = excluded.worker_count,
			failed_workers = excluded.failed_workers,
			aggregate_path = excluded.aggregate_path,
			fix_path = excluded.fix_path,
			phase = excluded.phase
	`,
		item.JobID,
		item.Workspace,
		item.CreatedAt,
		item.WorkerCount,
		item.FailedWorkers,
		item.Model,
		item.JobDir,
		item.AggregatePath,
		item.FixPath,
		string(item.Phase),
	)
	if err != nil {
		return &domain.PersistenceError{Op: "write", Err: err}
	}

	// A rerun rewrites the same job id with a fresh event sequence
	if _, err := tx.Exec(`DELETE FROM run_events WHERE job_id = ?`, item.JobID); err != nil {
		return &domain.PersistenceError{Op: "write", Err: err}
	}
	for _, ev := range events {
		_, err := tx.Exec(`INSERT INTO run_events (job_id, timestamp, level, message) VALUES (?, ?, ?, ?)`,
			item.JobID, ev.Timestamp, string(ev.Level), ev.Message)
		if err != nil {
			return &domain.PersistenceError{Op: "write", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.PersistenceError{Op: "write", Err: err}
	}
	return nil
}

// ListRuns returns up to limit history items for the workspace, most
// recent first. Rows that fail to scan (a crash mid-write) are skipped
// rather than failing the whole listing.
func (s *Store) ListRuns(workspace string, limit int) ([]*domain.HistoryItem, error) {
	rows, err := s.db.Query(`
		SELECT job_id, workspace, created_at, worker_count, failed_workers, model, job_dir, aggregate_path, fix_path, phase
		FROM runs WHERE workspace = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, workspace, limit)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "read", Err: err}
	}
	defer rows.Close()

	var items []*domain.HistoryItem
	for rows.Next() {
		item, err := scanRun(rows)
		if err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetRun retrieves one history item by job id, nil when not recorded
func (s *Store) GetRun(jobID string) (*domain.HistoryItem, error) {
	row := s.db.QueryRow(`
		SELECT job_id, workspace, created_at, worker_count, failed_workers, model, job_dir, aggregate_path, fix_path, phase
		FROM runs WHERE job_id = ?
	`, jobID)

	item, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, &domain.PersistenceError{Op: "read", Err: err}
	}
	return item, nil
}

// ListEvents returns the persisted event log for a run, in emission order
func (s *Store) ListEvents(jobID string) ([]domain.RunEvent, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, level, message FROM run_events
		WHERE job_id = ? ORDER BY id
	`, jobID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "read", Err: err}
	}
	defer rows.Close()

	var events []domain.RunEvent
	for rows.Next() {
		var ev domain.RunEvent
		var level string
		if err := rows.Scan(&ev.Timestamp, &level, &ev.Message); err != nil {
			continue
		}
		ev.Level = domain.EventLevel(level)
		events = append(events, ev)
	}
	return events, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scannable) (*domain.HistoryItem, error) {
	var item domain.HistoryItem
	var phase string
	var createdAt time.Time
	err := row.Scan(
		&item.JobID,
		&item.Workspace,
		&createdAt,
		&item.WorkerCount,
		&item.FailedWorkers,
		&item.Model,
		&item.JobDir,
		&item.AggregatePath,
		&item.FixPath,
		&phase,
	)
	if err != nil {
		return nil, err
	}
	item.CreatedAt = createdAt
	item.Phase = domain.Phase(phase)
	return &item, nil
}
