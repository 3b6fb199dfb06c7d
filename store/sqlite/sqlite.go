/*
Package sqlite provides a SQLite-backed implementation of the leave engine's
collaborator interfaces.

PURPOSE:
  Implements every interface the engine consumes (WorkerDirectory,
  LeaveTypeCatalog, LeaveRequestStore, ExtraWorkStore, AttendanceStore,
  SnapshotStore) plus the seeding writes the demo scenarios and the leave
  type API need. The same schema works on PostgreSQL with minor dialect
  changes; store/postgres carries the snapshot table there.

KEY TABLES:
  workers:           Join and notice dates
  leave_types:       Catalog, self-referencing parent_id
  leave_requests:    External request feed (status owned elsewhere)
  holidays:          Designated holidays
  holiday_work:      Per-worker agreement to work a holiday
  weekend_work:      Per-worker agreement to work a weekend day
  attendance:        Attendance records
  balance_snapshots: One row per (worker, type, year)

SNAPSHOT UPSERT:
  balance_snapshots has UNIQUE(worker_id, leave_type_id, year) and is written
  with INSERT ... ON CONFLICT DO UPDATE, so a recompute replaces the row in
  one statement.

DATES:
  Calendar days are stored as YYYY-MM-DD text. Lexicographic order is date
  order, so range filters use plain BETWEEN.

CONCURRENCY:
  Uses sync.RWMutex around statements. SQLite is opened in WAL mode.
  SQLITE_BUSY and SQLITE_LOCKED from another process holding the file are
  wrapped with generic.ErrStoreUnavailable.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := timeoff.NewEngine(store.Sources(), store)

SEE ALSO:
  - timeoff/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string, logger ...*zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := NewWithDB(db, logger...)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	store.logger.Info("sqlite store ready", zap.String("path", dbPath))
	return store, nil
}

// NewWithDB wraps an open database without migrating it.
func NewWithDB(db *sql.DB, logger ...*zap.Logger) *Store {
	l := zap.L().Named("store.sqlite")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("store.sqlite")
	}
	return &Store{db: db, logger: l}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Sources returns s as every read-only collaborator of the engine.
func (s *Store) Sources() timeoff.Sources {
	return timeoff.Sources{
		Workers:    s,
		Types:      s,
		Requests:   s,
		ExtraWork:  s,
		Attendance: s,
	}
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		join_date TEXT,
		notice_start_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'ordinary',
		entitlement TEXT,
		scaled BOOLEAN NOT NULL DEFAULT FALSE,
		transferable BOOLEAN NOT NULL DEFAULT FALSE,
		parent_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_types_parent
		ON leave_types(parent_id) WHERE parent_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		day_count TEXT,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Usage aggregation (hot path)
	CREATE INDEX IF NOT EXISTS idx_leave_requests_worker_type_date
		ON leave_requests(worker_id, leave_type_id, start_date);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS holiday_work (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		holiday_id TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_holiday_work_worker
		ON holiday_work(worker_id, status);

	CREATE TABLE IF NOT EXISTS weekend_work (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_weekend_work_worker
		ON weekend_work(worker_id, status);

	CREATE TABLE IF NOT EXISTS attendance (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_worker_date
		ON attendance(worker_id, date);

	-- Derived balances, at most one per key
	CREATE TABLE IF NOT EXISTS balance_snapshots (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		kind TEXT NOT NULL,
		total TEXT,
		used TEXT NOT NULL,
		available TEXT,
		collected_json TEXT,
		compensated_json TEXT,
		available_dates_json TEXT,
		computed_at TEXT NOT NULL,
		UNIQUE(worker_id, leave_type_id, year)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"balance_snapshots", "attendance", "weekend_work", "holiday_work",
		"holidays", "leave_requests", "leave_types", "workers",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

// classify marks lock contention as a transient store failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return generic.Unavailable(err)
	}
	if strings.Contains(err.Error(), "database is locked") {
		return generic.Unavailable(err)
	}
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
