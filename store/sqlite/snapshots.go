package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

// UpsertSnapshot writes the snapshot of snap.Key, replacing any existing row.
func (s *Store) UpsertSnapshot(ctx context.Context, snap timeoff.Snapshot) error {
	collected, compensated, available, err := encodeDates(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO balance_snapshots (
			id, worker_id, leave_type_id, year, kind, total, used, available,
			collected_json, compensated_json, available_dates_json, computed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(worker_id, leave_type_id, year) DO UPDATE SET
			kind = excluded.kind,
			total = excluded.total,
			used = excluded.used,
			available = excluded.available,
			collected_json = excluded.collected_json,
			compensated_json = excluded.compensated_json,
			available_dates_json = excluded.available_dates_json,
			computed_at = excluded.computed_at
	`,
		uuid.NewString(),
		string(snap.Key.WorkerID), string(snap.Key.LeaveTypeID), snap.Key.Year,
		string(snap.Kind),
		optionalDecimal(snap.Total), snap.Used.String(), optionalDecimal(snap.Available),
		collected, compensated, available,
		snap.ComputedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.Key, classify(err))
	}
	return nil
}

// GetSnapshot returns the snapshot of key, or nil if none is stored.
func (s *Store) GetSnapshot(ctx context.Context, key timeoff.Key) (*timeoff.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		kind, used, computedAt             string
		total, available                   sql.NullString
		collected, compensated, availDates sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, total, used, available, collected_json, compensated_json, available_dates_json, computed_at
		FROM balance_snapshots WHERE worker_id = ? AND leave_type_id = ? AND year = ?`,
		string(key.WorkerID), string(key.LeaveTypeID), key.Year,
	).Scan(&kind, &total, &used, &available, &collected, &compensated, &availDates, &computedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}

	snap := timeoff.Snapshot{Key: key, Kind: timeoff.Kind(kind), Resolved: true}
	if snap.Total, err = parseOptionalDecimal(total); err != nil {
		return nil, err
	}
	if snap.Available, err = parseOptionalDecimal(available); err != nil {
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
	if snap.ComputedAt, err = time.Parse(time.RFC3339Nano, computedAt); err != nil {
		return nil, fmt.Errorf("snapshot %s computed_at %q: %w", key, computedAt, err)
	}
	return &snap, nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, key timeoff.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM balance_snapshots WHERE worker_id = ? AND leave_type_id = ? AND year = ?`,
		string(key.WorkerID), string(key.LeaveTypeID), key.Year)
	return classify(err)
}

func (s *Store) DeleteSnapshotsAfter(ctx context.Context, workerID timeoff.WorkerID, typeID timeoff.LeaveTypeID, year int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM balance_snapshots WHERE worker_id = ? AND leave_type_id = ? AND year > ?`,
		string(workerID), string(typeID), year)
	return classify(err)
}

// CountSnapshots returns the number of stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM balance_snapshots`).Scan(&n)
	return n, err
}

// =============================================================================
// ENCODING
// =============================================================================

func optionalDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return nullString(d.String())
}

func parseOptionalDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", s.String, err)
	}
	return &d, nil
}

// encodeDates stores the date lists of compensatory snapshots as JSON arrays.
// Ordinary snapshots have none and store NULL.
func encodeDates(snap timeoff.Snapshot) (collected, compensated, available sql.NullString, err error) {
	enc := func(dates []generic.TimePoint) (sql.NullString, error) {
		if dates == nil {
			return sql.NullString{}, nil
		}
		b, err := json.Marshal(dates)
		if err != nil {
			return sql.NullString{}, err
		}
		return sql.NullString{String: string(b), Valid: true}, nil
	}
	if collected, err = enc(snap.CollectedDates); err != nil {
		return
	}
	if compensated, err = enc(snap.CompensatedDates); err != nil {
		return
	}
	available, err = enc(snap.AvailableDates)
	return
}

func decodeDates(s sql.NullString) ([]generic.TimePoint, error) {
	if !s.Valid {
		return nil, nil
	}
	dates := []generic.TimePoint{}
	if err := json.Unmarshal([]byte(s.String), &dates); err != nil {
		return nil, fmt.Errorf("invalid date list %q: %w", s.String, err)
	}
	return dates, nil
}
