/*
store.go - Collaborator interfaces consumed by the engine

PURPOSE:
  The engine reads workers, leave types, requests, extra work and attendance
  that other components own, and reads/writes its own snapshots. These
  interfaces are the whole contract between the engine and the database.

NOT-FOUND CONTRACT:
  Single-row lookups return (nil, nil) when the row does not exist.
  Errors are reserved for I/O failures and always propagate.

ATOMIC UPSERT:
  UpsertSnapshot must replace any existing snapshot for the same key in one
  atomic write (a unique key on worker+type+year with insert-or-replace).
  Two concurrent recomputations may race; the last write wins and both
  writers computed the same value from the same sources.

IMPLEMENTATIONS:
  - store/memory: In-memory, for tests and development
  - store/sqlite: SQLite, all interfaces
  - store/postgres: Postgres snapshot store
  - store/rediscache: Redis read/write-through snapshot cache

SEE ALSO:
  - engine.go: The only consumer
*/
package timeoff

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// WorkerDirectory resolves workers.
type WorkerDirectory interface {
	GetWorker(ctx context.Context, id WorkerID) (*Worker, error)
}

// LeaveTypeCatalog resolves leave types and their direct children.
type LeaveTypeCatalog interface {
	GetLeaveType(ctx context.Context, id LeaveTypeID) (*LeaveType, error)
	Children(ctx context.Context, parentID LeaveTypeID) ([]LeaveType, error)
}

// ListableCatalog is implemented by catalogs that can enumerate every type.
// Required by the balance listing endpoint and the snapshot refresher.
type ListableCatalog interface {
	LeaveTypeCatalog
	ListLeaveTypes(ctx context.Context) ([]LeaveType, error)
}

// RequestQuery selects requests by worker, type and start date.
type RequestQuery struct {
	WorkerID WorkerID
	TypeIDs  []LeaveTypeID
	Period   generic.Period
}

// LeaveRequestStore queries the external request feed.
type LeaveRequestStore interface {
	QueryRequests(ctx context.Context, q RequestQuery) ([]LeaveRequest, error)
}

// ExtraWorkStore returns the dates a worker agreed to work on days off.
type ExtraWorkStore interface {
	// HolidayWorkDates returns the dates of designated holidays the worker
	// has a holiday-work record for, with a status in statuses.
	HolidayWorkDates(ctx context.Context, workerID WorkerID, statuses []ExtraWorkStatus) ([]generic.TimePoint, error)

	// WeekendWorkDates returns weekend-work dates with a status in statuses.
	WeekendWorkDates(ctx context.Context, workerID WorkerID, statuses []ExtraWorkStatus) ([]generic.TimePoint, error)
}

// AttendanceStore returns the subset of dates the worker attended.
type AttendanceStore interface {
	AttendedDates(ctx context.Context, workerID WorkerID, dates []generic.TimePoint, status AttendanceStatus) ([]generic.TimePoint, error)
}

// SnapshotStore persists resolved balances, one per key.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, key Key) (*Snapshot, error)
	UpsertSnapshot(ctx context.Context, snap Snapshot) error
	DeleteSnapshot(ctx context.Context, key Key) error

	// DeleteSnapshotsAfter removes the snapshots of worker+type for every
	// year strictly after year.
	DeleteSnapshotsAfter(ctx context.Context, workerID WorkerID, typeID LeaveTypeID, year int) error
}

// WorkerLister is implemented by directories that can enumerate workers.
type WorkerLister interface {
	ListWorkers(ctx context.Context) ([]Worker, error)
}

// Sources bundles the read-only collaborators.
type Sources struct {
	Workers    WorkerDirectory
	Types      LeaveTypeCatalog
	Requests   LeaveRequestStore
	ExtraWork  ExtraWorkStore
	Attendance AttendanceStore
}
