// Package taskcache implements the durable per-item task ledger that makes
// crawl runs resumable. Each crawlable item has at most one row recording
// how far its invocation progressed; a missing row means the item was never
// touched. The ledger survives process restarts, so a re-run without the
// restart flag skips everything already finished.
package taskcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Status is the coarse lifecycle state of one item's crawl task.
type Status string

// Task lifecycle states. StatusAbsent is implicit: it is reported for
// items with no persisted row and is never written.
const (
	StatusAbsent     Status = ""
	StatusCreated    Status = "created"
	StatusCollecting Status = "collecting"
	StatusFinished   Status = "finished"
)

// Store is the SQLite-backed task ledger. Writes are single-row atomic
// upserts; a process kill between writes leaves the store readable with
// the last completed write intact.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the ledger at path. The parent directory is
// created if needed. SQLite runs in WAL mode with a single connection;
// the store sees concurrent use from many crawl invocations but every
// statement is independent, so one writer is enough.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open task cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS tasks (item_id TEXT PRIMARY KEY, status TEXT)`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tasks table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Remove deletes the ledger file at path if it exists, forcing the next
// run to re-crawl everything. Used by the CLI restart flag before Open.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove task cache: %w", err)
	}
	return nil
}

// Status reports the recorded state for the item, or StatusAbsent if the
// item has no row.
func (s *Store) Status(ctx context.Context, itemID string) (Status, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE item_id = ?`, itemID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusAbsent, nil
	}
	if err != nil {
		return StatusAbsent, fmt.Errorf("query task status: %w", err)
	}
	return Status(status), nil
}

// SetStatus upserts the item's state. The write is a single atomic
// statement; callers treat any error as fatal to the run because the
// ledger cannot be trusted past a lost write.
func (s *Store) SetStatus(ctx context.Context, itemID string, status Status) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO tasks VALUES (?, ?)`, itemID, string(status))
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close task cache: %w", err)
	}
	return nil
}
