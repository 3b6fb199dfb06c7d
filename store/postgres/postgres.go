/*
Package postgres stores balance snapshots in PostgreSQL.

PURPOSE:
  Deployments that keep source records in SQLite (or another service) can
  still share one snapshot table between several engine instances. Only
  timeoff.SnapshotStore is implemented here.

SNAPSHOT UPSERT:
  UNIQUE(worker_id, leave_type_id, year) plus INSERT ... ON CONFLICT DO
  UPDATE. Concurrent writers of one key serialize on the row; the last
  write wins.

ERRORS:
  Timeouts, refused connections and server shutdowns are wrapped with
  generic.ErrStoreUnavailable so callers can retry them.

AMOUNTS:
  total/used/available are NUMERIC, written from decimal strings and read
  back with ::text so no precision goes through float64.
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a pool for databaseURL.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

type SnapshotStore struct {
	db     DB
	logger *zap.Logger
}

func NewSnapshotStore(db DB, logger ...*zap.Logger) *SnapshotStore {
	l := zap.L().Named("store.postgres")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("store.postgres")
	}
	return &SnapshotStore{db: db, logger: l}
}

const schema = `
CREATE TABLE IF NOT EXISTS balance_snapshots (
	id UUID PRIMARY KEY,
	worker_id TEXT NOT NULL,
	leave_type_id TEXT NOT NULL,
	year INTEGER NOT NULL,
	kind TEXT NOT NULL,
	total NUMERIC,
	used NUMERIC NOT NULL,
	available NUMERIC,
	collected_json TEXT,
	compensated_json TEXT,
	available_dates_json TEXT,
	computed_at TIMESTAMPTZ NOT NULL,
	UNIQUE (worker_id, leave_type_id, year)
)`

// Migrate creates the snapshot table.
func (s *SnapshotStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate balance_snapshots: %w", classify(err))
	}
	return nil
}

func (s *SnapshotStore) UpsertSnapshot(ctx context.Context, snap timeoff.Snapshot) error {
	collected, err := encodeDates(snap.CollectedDates)
	if err != nil {
		return err
	}
	compensated, err := encodeDates(snap.CompensatedDates)
	if err != nil {
		return err
	}
	available, err := encodeDates(snap.AvailableDates)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO balance_snapshots (
			id, worker_id, leave_type_id, year, kind, total, used, available,
			collected_json, compensated_json, available_dates_json, computed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11, $12)
		ON CONFLICT (worker_id, leave_type_id, year) DO UPDATE SET
			kind = EXCLUDED.kind,
			total = EXCLUDED.total,
			used = EXCLUDED.used,
			available = EXCLUDED.available,
			collected_json = EXCLUDED.collected_json,
			compensated_json = EXCLUDED.compensated_json,
			available_dates_json = EXCLUDED.available_dates_json,
			computed_at = EXCLUDED.computed_at`,
		uuid.New(),
		string(snap.Key.WorkerID), string(snap.Key.LeaveTypeID), snap.Key.Year,
		string(snap.Kind),
		decimalText(snap.Total), snap.Used.String(), decimalText(snap.Available),
		collected, compensated, available,
		snap.ComputedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.Key, classify(err))
	}
	return nil
}

func (s *SnapshotStore) GetSnapshot(ctx context.Context, key timeoff.Key) (*timeoff.Snapshot, error) {
	var (
		kind, used                         string
		total, available                   *string
		collected, compensated, availDates *string
		computedAt                         time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT kind, total::text, used::text, available::text,
		       collected_json, compensated_json, available_dates_json, computed_at
		FROM balance_snapshots
		WHERE worker_id = $1 AND leave_type_id = $2 AND year = $3`,
		string(key.WorkerID), string(key.LeaveTypeID), key.Year,
	).Scan(&kind, &total, &used, &available, &collected, &compensated, &availDates, &computedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", key, classify(err))
	}

	snap := timeoff.Snapshot{Key: key, Kind: timeoff.Kind(kind), Resolved: true, ComputedAt: computedAt.UTC()}
	if snap.Total, err = parseDecimal(total); err != nil {
		return nil, err
	}
	if snap.Available, err = parseDecimal(available); err != nil {
		return nil, err
	}
	if snap.Used, err = decimal.NewFromString(used); err != nil {
		return nil, fmt.Errorf("snapshot %s used %q: %w", key, used, err)
	}
	if snap.CollectedDates, err = decodeDates(collected); err != nil {
		return nil, err
	}
	if snap.CompensatedDates, err = decodeDates(compensated); err != nil {
		return nil, err
	}
	if snap.AvailableDates, err = decodeDates(availDates); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SnapshotStore) DeleteSnapshot(ctx context.Context, key timeoff.Key) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM balance_snapshots WHERE worker_id = $1 AND leave_type_id = $2 AND year = $3`,
		string(key.WorkerID), string(key.LeaveTypeID), key.Year)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", key, classify(err))
	}
	return nil
}

func (s *SnapshotStore) DeleteSnapshotsAfter(ctx context.Context, workerID timeoff.WorkerID, typeID timeoff.LeaveTypeID, year int) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM balance_snapshots WHERE worker_id = $1 AND leave_type_id = $2 AND year > $3`,
		string(workerID), string(typeID), year)
	if err != nil {
		return fmt.Errorf("delete snapshots of %s/%s after %d: %w", workerID, typeID, year, classify(err))
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Debug("dropped later snapshots",
			zap.String("worker_id", string(workerID)),
			zap.String("leave_type_id", string(typeID)),
			zap.Int("after_year", year),
			zap.Int64("rows", n),
		)
	}
	return nil
}

// Reset truncates the snapshot table.
func (s *SnapshotStore) Reset(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM balance_snapshots`)
	return classify(err)
}

// classify wraps connection failures and timeouts with
// generic.ErrStoreUnavailable. Constraint and syntax errors pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	var pgErr *pgconn.PgError
	switch {
	case pgconn.Timeout(err), pgconn.SafeToRetry(err), errors.As(err, &connErr):
		return generic.Unavailable(err)
	case errors.Is(err, context.DeadlineExceeded):
		return generic.Unavailable(err)
	case errors.As(err, &pgErr) && unavailableClass(pgErr.Code):
		return generic.Unavailable(err)
	}
	return err
}

// unavailableClass reports SQLSTATE class 08 (connection exception) and
// the 57P0x shutdown codes.
func unavailableClass(code string) bool {
	return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57P0")
}

func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", *s, err)
	}
	return &d, nil
}

func encodeDates(dates []generic.TimePoint) (*string, error) {
	if dates == nil {
		return nil, nil
	}
	b, err := json.Marshal(dates)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func decodeDates(s *string) ([]generic.TimePoint, error) {
	if s == nil {
		return nil, nil
	}
	dates := []generic.TimePoint{}
	if err := json.Unmarshal([]byte(*s), &dates); err != nil {
		return nil, fmt.Errorf("invalid date list %q: %w", *s, err)
	}
	return dates, nil
}
