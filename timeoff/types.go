// Package timeoff implements leave balance resolution.
// It combines entitlements, tenure, carry-over, type hierarchies and
// compensatory extra work into one cached snapshot per (worker, type, year).
package timeoff

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type WorkerID string
type LeaveTypeID string
type RequestID string

// =============================================================================
// WORKER
// =============================================================================

// Worker is the part of a worker record that affects balances.
type Worker struct {
	ID              WorkerID
	JoinDate        *generic.TimePoint
	NoticeStartDate *generic.TimePoint // planned departure
}

// JoinYear returns the year the worker joined, if known.
func (w Worker) JoinYear() (int, bool) {
	if w.JoinDate == nil || w.JoinDate.IsZero() {
		return 0, false
	}
	return w.JoinDate.Year(), true
}

// =============================================================================
// LEAVE TYPE
// =============================================================================

// Kind selects the balance algorithm of a leave type.
type Kind string

const (
	// KindOrdinary: fixed yearly entitlement, optionally scaled, capped and carried over.
	KindOrdinary Kind = "ordinary"

	// KindCompensatory: entitlement earned by attended extra work on days off.
	KindCompensatory Kind = "compensatory"
)

func (k Kind) Valid() bool {
	return k == KindOrdinary || k == KindCompensatory
}

type LeaveType struct {
	ID   LeaveTypeID
	Name string
	Kind Kind

	// Entitlement is the yearly allowance in days. Nil means unlimited.
	Entitlement *decimal.Decimal

	// Scaled prorates the entitlement by months employed in the year.
	Scaled bool

	// Transferable carries the previous year's unused balance forward, one hop.
	Transferable bool

	ParentID *LeaveTypeID
}

func (lt LeaveType) IsCompensatory() bool { return lt.Kind == KindCompensatory }

// =============================================================================
// LEAVE REQUEST - External fact feed, never written by the engine
// =============================================================================

type RequestStatus string

const (
	StatusPending               RequestStatus = "pending"
	StatusApproved              RequestStatus = "approved"
	StatusProvisionallyApproved RequestStatus = "provisionally_approved"
	StatusModified              RequestStatus = "modified"
	StatusRejected              RequestStatus = "rejected"
	StatusCancelled             RequestStatus = "cancelled"
)

// DefaultQualifyingStatuses are the request statuses that count toward usage.
var DefaultQualifyingStatuses = []RequestStatus{
	StatusPending,
	StatusApproved,
	StatusProvisionallyApproved,
	StatusModified,
}

type LeaveRequest struct {
	ID          RequestID
	WorkerID    WorkerID
	LeaveTypeID LeaveTypeID
	StartDate   generic.TimePoint

	// DayCount is nil for single-day requests without an explicit length.
	DayCount *decimal.Decimal

	Status RequestStatus
}

// Days returns the request length, 1 when DayCount is absent.
func (r LeaveRequest) Days() decimal.Decimal {
	if r.DayCount == nil {
		return decimal.NewFromInt(1)
	}
	return *r.DayCount
}

// =============================================================================
// EXTRA WORK AND ATTENDANCE - Inputs of compensatory time
// =============================================================================

type ExtraWorkStatus string

const (
	ExtraWorkPending          ExtraWorkStatus = "pending"
	ExtraWorkApproved         ExtraWorkStatus = "approved"
	ExtraWorkModifiedApproved ExtraWorkStatus = "modified_approved"
	ExtraWorkRejected         ExtraWorkStatus = "rejected"
)

// ApprovedExtraWorkStatuses mean the worker was asked and agreed to work a day off.
var ApprovedExtraWorkStatuses = []ExtraWorkStatus{
	ExtraWorkApproved,
	ExtraWorkModifiedApproved,
}

// HolidayWorkRecord is a per-worker agreement to work a designated holiday.
type HolidayWorkRecord struct {
	ID        string
	WorkerID  WorkerID
	HolidayID string
	Status    ExtraWorkStatus
}

// WeekendWorkRecord is a per-worker agreement to work a weekend day.
type WeekendWorkRecord struct {
	ID       string
	WorkerID WorkerID
	Date     generic.TimePoint
	Status   ExtraWorkStatus
}

type AttendanceStatus string

const (
	AttendancePending  AttendanceStatus = "pending"
	AttendanceApproved AttendanceStatus = "approved"
	AttendanceRejected AttendanceStatus = "rejected"
)

type AttendanceRecord struct {
	ID       string
	WorkerID WorkerID
	Date     generic.TimePoint
	Status   AttendanceStatus
}

// =============================================================================
// SNAPSHOT - Cached, derived balance for one key
// =============================================================================

// Key identifies one snapshot.
type Key struct {
	WorkerID    WorkerID
	LeaveTypeID LeaveTypeID
	Year        int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.WorkerID, k.LeaveTypeID, k.Year)
}

// id is an unambiguous rendering of k. String is for humans and maps
// {a/b, c} and {a, b/c} to the same text.
func (k Key) id() string {
	return fmt.Sprintf("%q/%q/%d", k.WorkerID, k.LeaveTypeID, k.Year)
}

// Validate rejects keys with a missing part.
func (k Key) Validate() error {
	switch {
	case k.WorkerID == "":
		return &generic.KeyError{Field: "worker_id", Value: k.WorkerID}
	case k.LeaveTypeID == "":
		return &generic.KeyError{Field: "leave_type_id", Value: k.LeaveTypeID}
	case k.Year <= 0:
		return &generic.KeyError{Field: "year", Value: k.Year}
	}
	return nil
}

// Snapshot is the resolved balance of a key.
//
// For ordinary types Available = Total - Used, nil when Total is nil.
// For the compensatory kind Available = max(0, Total - Used) and the date
// lists are filled in.
type Snapshot struct {
	Key  Key
	Kind Kind

	Total     *decimal.Decimal
	Used      decimal.Decimal
	Available *decimal.Decimal

	CollectedDates   []generic.TimePoint
	CompensatedDates []generic.TimePoint
	AvailableDates   []generic.TimePoint

	// Resolved is false for the neutral result of an unknown worker or type.
	Resolved   bool
	ComputedAt time.Time
}

// NeutralSnapshot is returned for keys whose worker or type cannot be resolved.
func NeutralSnapshot(key Key) Snapshot {
	zero := decimal.Zero
	return Snapshot{
		Key:       key,
		Kind:      KindOrdinary,
		Total:     &zero,
		Used:      decimal.Zero,
		Available: &zero,
	}
}

// SameBalance compares the derived values of two snapshots, ignoring ComputedAt.
func (s Snapshot) SameBalance(other Snapshot) bool {
	return s.Key == other.Key &&
		s.Kind == other.Kind &&
		generic.EqualOptional(s.Total, other.Total) &&
		s.Used.Equal(other.Used) &&
		generic.EqualOptional(s.Available, other.Available) &&
		sameDates(s.CollectedDates, other.CollectedDates) &&
		sameDates(s.CompensatedDates, other.CompensatedDates) &&
		sameDates(s.AvailableDates, other.AvailableDates)
}

func sameDates(a, b []generic.TimePoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
