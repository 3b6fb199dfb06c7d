// Package memory provides an in-memory implementation of every collaborator
// the leave engine consumes (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	workers     map[timeoff.WorkerID]timeoff.Worker
	leaveTypes  map[timeoff.LeaveTypeID]timeoff.LeaveType
	requests    map[timeoff.RequestID]timeoff.LeaveRequest
	holidays    map[string]generic.Holiday
	holidayWork map[string]timeoff.HolidayWorkRecord
	weekendWork map[string]timeoff.WeekendWorkRecord
	attendance  map[string]timeoff.AttendanceRecord
	snapshots   map[timeoff.Key]timeoff.Snapshot
}

func NewMemory() *Memory {
	m := &Memory{}
	m.resetLocked()
	return m
}

func (m *Memory) resetLocked() {
	m.workers = make(map[timeoff.WorkerID]timeoff.Worker)
	m.leaveTypes = make(map[timeoff.LeaveTypeID]timeoff.LeaveType)
	m.requests = make(map[timeoff.RequestID]timeoff.LeaveRequest)
	m.holidays = make(map[string]generic.Holiday)
	m.holidayWork = make(map[string]timeoff.HolidayWorkRecord)
	m.weekendWork = make(map[string]timeoff.WeekendWorkRecord)
	m.attendance = make(map[string]timeoff.AttendanceRecord)
	m.snapshots = make(map[timeoff.Key]timeoff.Snapshot)
}

// Reset drops every record.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

// Sources returns m as every read-only collaborator of the engine.
func (m *Memory) Sources() timeoff.Sources {
	return timeoff.Sources{
		Workers:    m,
		Types:      m,
		Requests:   m,
		ExtraWork:  m,
		Attendance: m,
	}
}

// =============================================================================
// WRITES - Seeding source records
// =============================================================================

func (m *Memory) PutWorker(_ context.Context, w timeoff.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.ID] = w
	return nil
}

func (m *Memory) PutLeaveType(_ context.Context, lt timeoff.LeaveType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveTypes[lt.ID] = lt
	return nil
}

func (m *Memory) PutRequest(_ context.Context, r timeoff.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r
	return nil
}

func (m *Memory) DeleteRequest(_ context.Context, id timeoff.RequestID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, id)
	return nil
}

func (m *Memory) PutHoliday(_ context.Context, h generic.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays[h.ID] = h
	return nil
}

func (m *Memory) PutHolidayWork(_ context.Context, r timeoff.HolidayWorkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidayWork[r.ID] = r
	return nil
}

func (m *Memory) PutWeekendWork(_ context.Context, r timeoff.WeekendWorkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weekendWork[r.ID] = r
	return nil
}

func (m *Memory) PutAttendance(_ context.Context, r timeoff.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attendance[r.ID] = r
	return nil
}

// =============================================================================
// READS - timeoff collaborator interfaces
// =============================================================================

func (m *Memory) GetWorker(_ context.Context, id timeoff.WorkerID) (*timeoff.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *Memory) ListWorkers(_ context.Context) ([]timeoff.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]timeoff.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetLeaveType(_ context.Context, id timeoff.LeaveTypeID) (*timeoff.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lt, ok := m.leaveTypes[id]
	if !ok {
		return nil, nil
	}
	return &lt, nil
}

func (m *Memory) Children(_ context.Context, parentID timeoff.LeaveTypeID) ([]timeoff.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []timeoff.LeaveType
	for _, lt := range m.leaveTypes {
		if lt.ParentID != nil && *lt.ParentID == parentID {
			out = append(out, lt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListLeaveTypes(_ context.Context) ([]timeoff.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]timeoff.LeaveType, 0, len(m.leaveTypes))
	for _, lt := range m.leaveTypes {
		out = append(out, lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) QueryRequests(_ context.Context, q timeoff.RequestQuery) ([]timeoff.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	types := make(map[timeoff.LeaveTypeID]bool, len(q.TypeIDs))
	for _, id := range q.TypeIDs {
		types[id] = true
	}

	var out []timeoff.LeaveRequest
	for _, r := range m.requests {
		if r.WorkerID != q.WorkerID || !types[r.LeaveTypeID] {
			continue
		}
		if !q.Period.Start.IsZero() && !q.Period.Contains(r.StartDate) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) HolidayWorkDates(_ context.Context, workerID timeoff.WorkerID, statuses []timeoff.ExtraWorkStatus) ([]generic.TimePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []generic.TimePoint
	for _, r := range m.holidayWork {
		if r.WorkerID != workerID || !hasStatus(statuses, r.Status) {
			continue
		}
		h, ok := m.holidays[r.HolidayID]
		if !ok {
			continue
		}
		out = append(out, h.Date)
	}
	return out, nil
}

func (m *Memory) WeekendWorkDates(_ context.Context, workerID timeoff.WorkerID, statuses []timeoff.ExtraWorkStatus) ([]generic.TimePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []generic.TimePoint
	for _, r := range m.weekendWork {
		if r.WorkerID == workerID && hasStatus(statuses, r.Status) {
			out = append(out, r.Date)
		}
	}
	return out, nil
}

func (m *Memory) AttendedDates(_ context.Context, workerID timeoff.WorkerID, dates []generic.TimePoint, status timeoff.AttendanceStatus) ([]generic.TimePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := generic.NewDateSet(dates...)
	var out []generic.TimePoint
	for _, r := range m.attendance {
		if r.WorkerID == workerID && r.Status == status && wanted.Has(r.Date) {
			out = append(out, r.Date)
		}
	}
	return out, nil
}

func hasStatus(statuses []timeoff.ExtraWorkStatus, s timeoff.ExtraWorkStatus) bool {
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func (m *Memory) GetSnapshot(_ context.Context, key timeoff.Key) (*timeoff.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[key]
	if !ok {
		return nil, nil
	}
	out := cloneSnapshot(s)
	return &out, nil
}

// UpsertSnapshot replaces the snapshot of snap.Key.
func (m *Memory) UpsertSnapshot(_ context.Context, snap timeoff.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.Key] = cloneSnapshot(snap)
	return nil
}

func (m *Memory) DeleteSnapshot(_ context.Context, key timeoff.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, key)
	return nil
}

func (m *Memory) DeleteSnapshotsAfter(_ context.Context, workerID timeoff.WorkerID, typeID timeoff.LeaveTypeID, year int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.snapshots {
		if k.WorkerID == workerID && k.LeaveTypeID == typeID && k.Year > year {
			delete(m.snapshots, k)
		}
	}
	return nil
}

// SnapshotCount is the number of stored snapshots.
func (m *Memory) SnapshotCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}

// cloneSnapshot copies pointers and slices so callers can't alias stored state.
func cloneSnapshot(s timeoff.Snapshot) timeoff.Snapshot {
	if s.Total != nil {
		s.Total = generic.Ptr(*s.Total)
	}
	if s.Available != nil {
		s.Available = generic.Ptr(*s.Available)
	}
	s.CollectedDates = cloneDates(s.CollectedDates)
	s.CompensatedDates = cloneDates(s.CompensatedDates)
	s.AvailableDates = cloneDates(s.AvailableDates)
	return s
}

func cloneDates(in []generic.TimePoint) []generic.TimePoint {
	if in == nil {
		return nil
	}
	out := make([]generic.TimePoint, len(in))
	copy(out, in)
	return out
}
