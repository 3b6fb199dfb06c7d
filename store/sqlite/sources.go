package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// attendanceChunk bounds the number of dates bound in one IN list.
const attendanceChunk = 500

// =============================================================================
// WORKERS
// =============================================================================

// PutWorker inserts or replaces a worker.
func (s *Store) PutWorker(ctx context.Context, w timeoff.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (id, join_date, notice_start_date, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			join_date = excluded.join_date,
			notice_start_date = excluded.notice_start_date
	`, string(w.ID), formatDate(w.JoinDate), formatDate(w.NoticeStartDate), now())
	if err != nil {
		return fmt.Errorf("put worker %s: %w", w.ID, classify(err))
	}
	return nil
}

// GetWorker returns the worker, or nil if it doesn't exist.
func (s *Store) GetWorker(ctx context.Context, id timeoff.WorkerID) (*timeoff.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var join, notice sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT join_date, notice_start_date FROM workers WHERE id = ?`, string(id),
	).Scan(&join, &notice)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}

	w := &timeoff.Worker{ID: id}
	if w.JoinDate, err = parseDate(join); err != nil {
		return nil, err
	}
	if w.NoticeStartDate, err = parseDate(notice); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Store) ListWorkers(ctx context.Context) ([]timeoff.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, join_date, notice_start_date FROM workers ORDER BY id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var workers []timeoff.Worker
	for rows.Next() {
		var id string
		var join, notice sql.NullString
		if err := rows.Scan(&id, &join, &notice); err != nil {
			return nil, classify(err)
		}
		w := timeoff.Worker{ID: timeoff.WorkerID(id)}
		if w.JoinDate, err = parseDate(join); err != nil {
			return nil, err
		}
		if w.NoticeStartDate, err = parseDate(notice); err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, classify(rows.Err())
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

// PutLeaveType inserts or replaces a leave type.
func (s *Store) PutLeaveType(ctx context.Context, lt timeoff.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := lt.Kind
	if kind == "" {
		kind = timeoff.KindOrdinary
	}
	var entitlement sql.NullString
	if lt.Entitlement != nil {
		entitlement = nullString(lt.Entitlement.String())
	}
	var parentID sql.NullString
	if lt.ParentID != nil {
		parentID = nullString(string(*lt.ParentID))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_types (id, name, kind, entitlement, scaled, transferable, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			entitlement = excluded.entitlement,
			scaled = excluded.scaled,
			transferable = excluded.transferable,
			parent_id = excluded.parent_id
	`, string(lt.ID), lt.Name, string(kind), entitlement, lt.Scaled, lt.Transferable, parentID, now())
	if err != nil {
		return fmt.Errorf("put leave type %s: %w", lt.ID, classify(err))
	}
	return nil
}

const leaveTypeColumns = `id, name, kind, entitlement, scaled, transferable, parent_id`

// GetLeaveType returns the leave type, or nil if it doesn't exist.
func (s *Store) GetLeaveType(ctx context.Context, id timeoff.LeaveTypeID) (*timeoff.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+leaveTypeColumns+` FROM leave_types WHERE id = ?`, string(id))
	lt, err := scanLeaveType(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &lt, nil
}

// Children returns the direct children of parentID.
func (s *Store) Children(ctx context.Context, parentID timeoff.LeaveTypeID) ([]timeoff.LeaveType, error) {
	return s.queryLeaveTypes(ctx, `SELECT `+leaveTypeColumns+` FROM leave_types WHERE parent_id = ? ORDER BY id`, string(parentID))
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]timeoff.LeaveType, error) {
	return s.queryLeaveTypes(ctx, `SELECT `+leaveTypeColumns+` FROM leave_types ORDER BY id`)
}

func (s *Store) queryLeaveTypes(ctx context.Context, query string, args ...any) ([]timeoff.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var types []timeoff.LeaveType
	for rows.Next() {
		lt, err := scanLeaveType(rows)
		if err != nil {
			return nil, classify(err)
		}
		types = append(types, lt)
	}
	return types, classify(rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLeaveType(row scanner) (timeoff.LeaveType, error) {
	var (
		id, name, kind        string
		entitlement, parentID sql.NullString
		scaled, transferable  bool
	)
	if err := row.Scan(&id, &name, &kind, &entitlement, &scaled, &transferable, &parentID); err != nil {
		return timeoff.LeaveType{}, err
	}

	lt := timeoff.LeaveType{
		ID:           timeoff.LeaveTypeID(id),
		Name:         name,
		Kind:         timeoff.Kind(kind),
		Scaled:       scaled,
		Transferable: transferable,
	}
	if entitlement.Valid {
		d, err := decimal.NewFromString(entitlement.String)
		if err != nil {
			return timeoff.LeaveType{}, fmt.Errorf("leave type %s entitlement %q: %w", id, entitlement.String, err)
		}
		lt.Entitlement = &d
	}
	if parentID.Valid {
		p := timeoff.LeaveTypeID(parentID.String)
		lt.ParentID = &p
	}
	return lt, nil
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

// PutRequest inserts or replaces a leave request.
func (s *Store) PutRequest(ctx context.Context, r timeoff.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dayCount sql.NullString
	if r.DayCount != nil {
		dayCount = nullString(r.DayCount.String())
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_requests (id, worker_id, leave_type_id, start_date, day_count, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			worker_id = excluded.worker_id,
			leave_type_id = excluded.leave_type_id,
			start_date = excluded.start_date,
			day_count = excluded.day_count,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, string(r.ID), string(r.WorkerID), string(r.LeaveTypeID), r.StartDate.String(), dayCount, string(r.Status), now())
	if err != nil {
		return fmt.Errorf("put request %s: %w", r.ID, classify(err))
	}
	return nil
}

func (s *Store) DeleteRequest(ctx context.Context, id timeoff.RequestID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM leave_requests WHERE id = ?`, string(id))
	return classify(err)
}

// QueryRequests returns the worker's requests for q.TypeIDs starting in q.Period.
func (s *Store) QueryRequests(ctx context.Context, q timeoff.RequestQuery) ([]timeoff.LeaveRequest, error) {
	if len(q.TypeIDs) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	args := []any{string(q.WorkerID), q.Period.Start.String(), q.Period.End.String()}
	for _, id := range q.TypeIDs {
		args = append(args, string(id))
	}
	query := `
		SELECT id, leave_type_id, start_date, day_count, status
		FROM leave_requests
		WHERE worker_id = ? AND start_date BETWEEN ? AND ?
		  AND leave_type_id IN (` + placeholders(len(q.TypeIDs)) + `)
		ORDER BY start_date, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var requests []timeoff.LeaveRequest
	for rows.Next() {
		var id, typeID, start, status string
		var dayCount sql.NullString
		if err := rows.Scan(&id, &typeID, &start, &dayCount, &status); err != nil {
			return nil, classify(err)
		}
		startDate, err := generic.ParseDate(start)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", id, err)
		}
		r := timeoff.LeaveRequest{
			ID:          timeoff.RequestID(id),
			WorkerID:    q.WorkerID,
			LeaveTypeID: timeoff.LeaveTypeID(typeID),
			StartDate:   startDate,
			Status:      timeoff.RequestStatus(status),
		}
		if dayCount.Valid {
			d, err := decimal.NewFromString(dayCount.String)
			if err != nil {
				return nil, fmt.Errorf("request %s day count %q: %w", id, dayCount.String, err)
			}
			r.DayCount = &d
		}
		requests = append(requests, r)
	}
	return requests, classify(rows.Err())
}

// =============================================================================
// EXTRA WORK AND ATTENDANCE
// =============================================================================

func (s *Store) PutHoliday(ctx context.Context, h generic.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, date, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET date = excluded.date, name = excluded.name
	`, h.ID, h.Date.String(), h.Name)
	if err != nil {
		return fmt.Errorf("put holiday %s: %w", h.ID, classify(err))
	}
	return nil
}

func (s *Store) PutHolidayWork(ctx context.Context, r timeoff.HolidayWorkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holiday_work (id, worker_id, holiday_id, status) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			worker_id = excluded.worker_id,
			holiday_id = excluded.holiday_id,
			status = excluded.status
	`, r.ID, string(r.WorkerID), r.HolidayID, string(r.Status))
	if err != nil {
		return fmt.Errorf("put holiday work %s: %w", r.ID, classify(err))
	}
	return nil
}

func (s *Store) PutWeekendWork(ctx context.Context, r timeoff.WeekendWorkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weekend_work (id, worker_id, date, status) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			worker_id = excluded.worker_id,
			date = excluded.date,
			status = excluded.status
	`, r.ID, string(r.WorkerID), r.Date.String(), string(r.Status))
	if err != nil {
		return fmt.Errorf("put weekend work %s: %w", r.ID, classify(err))
	}
	return nil
}

func (s *Store) PutAttendance(ctx context.Context, r timeoff.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance (id, worker_id, date, status) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			worker_id = excluded.worker_id,
			date = excluded.date,
			status = excluded.status
	`, r.ID, string(r.WorkerID), r.Date.String(), string(r.Status))
	if err != nil {
		return fmt.Errorf("put attendance %s: %w", r.ID, classify(err))
	}
	return nil
}

// HolidayWorkDates returns the holiday dates the worker has a work record for.
func (s *Store) HolidayWorkDates(ctx context.Context, workerID timeoff.WorkerID, statuses []timeoff.ExtraWorkStatus) ([]generic.TimePoint, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := []any{string(workerID)}
	for _, st := range statuses {
		args = append(args, string(st))
	}
	return s.queryDates(ctx, `
		SELECT DISTINCT h.date
		FROM holiday_work hw
		JOIN holidays h ON h.id = hw.holiday_id
		WHERE hw.worker_id = ? AND hw.status IN (`+placeholders(len(statuses))+`)
		ORDER BY h.date`, args...)
}

func (s *Store) WeekendWorkDates(ctx context.Context, workerID timeoff.WorkerID, statuses []timeoff.ExtraWorkStatus) ([]generic.TimePoint, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := []any{string(workerID)}
	for _, st := range statuses {
		args = append(args, string(st))
	}
	return s.queryDates(ctx, `
		SELECT DISTINCT date FROM weekend_work
		WHERE worker_id = ? AND status IN (`+placeholders(len(statuses))+`)
		ORDER BY date`, args...)
}

// AttendedDates returns the dates among dates with an attendance record in status.
func (s *Store) AttendedDates(ctx context.Context, workerID timeoff.WorkerID, dates []generic.TimePoint, status timeoff.AttendanceStatus) ([]generic.TimePoint, error) {
	var out []generic.TimePoint
	for start := 0; start < len(dates); start += attendanceChunk {
		end := start + attendanceChunk
		if end > len(dates) {
			end = len(dates)
		}
		chunk := dates[start:end]

		args := []any{string(workerID), string(status)}
		for _, d := range chunk {
			args = append(args, d.String())
		}
		found, err := s.queryDates(ctx, `
			SELECT DISTINCT date FROM attendance
			WHERE worker_id = ? AND status = ? AND date IN (`+placeholders(len(chunk))+`)
			ORDER BY date`, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func (s *Store) queryDates(ctx context.Context, query string, args ...any) ([]generic.TimePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var dates []generic.TimePoint
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, classify(err)
		}
		d, err := generic.ParseDate(raw)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, classify(rows.Err())
}

// =============================================================================
// DATE HELPERS
// =============================================================================

func formatDate(d *generic.TimePoint) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return nullString(d.String())
}

func parseDate(s sql.NullString) (*generic.TimePoint, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := generic.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
