package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func date(year int, month time.Month, day int) generic.TimePoint {
	return generic.NewTimePoint(year, month, day)
}

func datePtr(year int, month time.Month, day int) *generic.TimePoint {
	d := date(year, month, day)
	return &d
}

// =============================================================================
// SOURCES
// =============================================================================

func TestStore_Worker_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutWorker(ctx, timeoff.Worker{
		ID:              "w1",
		JoinDate:        datePtr(2023, time.July, 3),
		NoticeStartDate: datePtr(2025, time.October, 1),
	}))
	require.NoError(t, store.PutWorker(ctx, timeoff.Worker{ID: "w2"}))

	w, err := store.GetWorker(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, "2023-07-03", w.JoinDate.String())
	assert.Equal(t, "2025-10-01", w.NoticeStartDate.String())

	w2, err := store.GetWorker(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, w2)
	assert.Nil(t, w2.JoinDate)

	missing, err := store.GetWorker(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := store.ListWorkers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_LeaveTypes_HierarchyAndNullEntitlement(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent := timeoff.LeaveTypeID("leave")
	ent := generic.Days(20)
	require.NoError(t, store.PutLeaveType(ctx, timeoff.LeaveType{ID: "leave", Name: "Leave", Entitlement: &ent, Transferable: true}))
	require.NoError(t, store.PutLeaveType(ctx, timeoff.LeaveType{ID: "study", Name: "Study", ParentID: &parent, Scaled: true}))

	study, err := store.GetLeaveType(ctx, "study")
	require.NoError(t, err)
	require.NotNil(t, study)
	assert.Nil(t, study.Entitlement)
	assert.True(t, study.Scaled)
	assert.Equal(t, timeoff.KindOrdinary, study.Kind)
	require.NotNil(t, study.ParentID)
	assert.Equal(t, parent, *study.ParentID)

	leave, err := store.GetLeaveType(ctx, "leave")
	require.NoError(t, err)
	require.NotNil(t, leave.Entitlement)
	assert.True(t, ent.Equal(*leave.Entitlement))
	assert.True(t, leave.Transferable)

	children, err := store.Children(ctx, "leave")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, timeoff.LeaveTypeID("study"), children[0].ID)

	missing, err := store.GetLeaveType(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_QueryRequests_FiltersByTypeAndYear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	two := generic.Days(2)
	reqs := []timeoff.LeaveRequest{
		{ID: "r1", WorkerID: "w1", LeaveTypeID: "annual", StartDate: date(2025, time.January, 1), DayCount: &two, Status: timeoff.StatusApproved},
		{ID: "r2", WorkerID: "w1", LeaveTypeID: "annual", StartDate: date(2025, time.December, 31), Status: timeoff.StatusPending},
		{ID: "r3", WorkerID: "w1", LeaveTypeID: "annual", StartDate: date(2026, time.January, 1), Status: timeoff.StatusApproved},
		{ID: "r4", WorkerID: "w1", LeaveTypeID: "sick", StartDate: date(2025, time.March, 1), Status: timeoff.StatusApproved},
		{ID: "r5", WorkerID: "w2", LeaveTypeID: "annual", StartDate: date(2025, time.March, 1), Status: timeoff.StatusApproved},
	}
	for _, r := range reqs {
		require.NoError(t, store.PutRequest(ctx, r))
	}

	got, err := store.QueryRequests(ctx, timeoff.RequestQuery{
		WorkerID: "w1",
		TypeIDs:  []timeoff.LeaveTypeID{"annual"},
		Period:   generic.YearPeriod(2025),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, timeoff.RequestID("r1"), got[0].ID)
	require.NotNil(t, got[0].DayCount)
	assert.True(t, two.Equal(*got[0].DayCount))
	assert.Nil(t, got[1].DayCount)

	both, err := store.QueryRequests(ctx, timeoff.RequestQuery{
		WorkerID: "w1",
		TypeIDs:  []timeoff.LeaveTypeID{"annual", "sick"},
		Period:   generic.YearPeriod(2025),
	})
	require.NoError(t, err)
	assert.Len(t, both, 3)

	require.NoError(t, store.DeleteRequest(ctx, "r1"))
	after, err := store.QueryRequests(ctx, timeoff.RequestQuery{
		WorkerID: "w1",
		TypeIDs:  []timeoff.LeaveTypeID{"annual"},
		Period:   generic.YearPeriod(2025),
	})
	require.NoError(t, err)
	assert.Len(t, after, 1)
}

func TestStore_ExtraWorkAndAttendance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutHoliday(ctx, generic.Holiday{ID: "h1", Date: date(2025, time.January, 1), Name: "New Year"}))
	require.NoError(t, store.PutHoliday(ctx, generic.Holiday{ID: "h2", Date: date(2025, time.May, 1), Name: "Labour Day"}))
	require.NoError(t, store.PutHolidayWork(ctx, timeoff.HolidayWorkRecord{ID: "hw1", WorkerID: "w1", HolidayID: "h1", Status: timeoff.ExtraWorkApproved}))
	require.NoError(t, store.PutHolidayWork(ctx, timeoff.HolidayWorkRecord{ID: "hw2", WorkerID: "w1", HolidayID: "h2", Status: timeoff.ExtraWorkPending}))
	require.NoError(t, store.PutWeekendWork(ctx, timeoff.WeekendWorkRecord{ID: "ww1", WorkerID: "w1", Date: date(2025, time.March, 8), Status: timeoff.ExtraWorkModifiedApproved}))
	require.NoError(t, store.PutAttendance(ctx, timeoff.AttendanceRecord{ID: "a1", WorkerID: "w1", Date: date(2025, time.January, 1), Status: timeoff.AttendanceApproved}))
	require.NoError(t, store.PutAttendance(ctx, timeoff.AttendanceRecord{ID: "a2", WorkerID: "w1", Date: date(2025, time.March, 8), Status: timeoff.AttendancePending}))

	holidays, err := store.HolidayWorkDates(ctx, "w1", timeoff.ApprovedExtraWorkStatuses)
	require.NoError(t, err)
	require.Len(t, holidays, 1)
	assert.Equal(t, "2025-01-01", holidays[0].String())

	weekends, err := store.WeekendWorkDates(ctx, "w1", timeoff.ApprovedExtraWorkStatuses)
	require.NoError(t, err)
	require.Len(t, weekends, 1)

	attended, err := store.AttendedDates(ctx, "w1", append(holidays, weekends...), timeoff.AttendanceApproved)
	require.NoError(t, err)
	require.Len(t, attended, 1)
	assert.Equal(t, "2025-01-01", attended[0].String())

	none, err := store.AttendedDates(ctx, "w1", nil, timeoff.AttendanceApproved)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestStore_Snapshot_UpsertReplaces(t *testing.T) {
	// GIVEN: A stored snapshot
	// WHEN: Upserting the same key with new values
	// THEN: One row, holding the new values

	store := newTestStore(t)
	ctx := context.Background()
	key := timeoff.Key{WorkerID: "w1", LeaveTypeID: "annual", Year: 2025}

	ten := generic.Days(10)
	first := timeoff.Snapshot{Key: key, Kind: timeoff.KindOrdinary, Total: &ten, Used: generic.Days(0), Available: &ten, Resolved: true, ComputedAt: time.Now()}
	require.NoError(t, store.UpsertSnapshot(ctx, first))

	seven := generic.Days(7)
	second := first
	second.Used = generic.Days(3)
	second.Available = &seven
	require.NoError(t, store.UpsertSnapshot(ctx, second))

	n, err := store.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetSnapshot(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, second.SameBalance(*got))
	assert.Nil(t, got.CollectedDates)
}

func TestStore_Snapshot_UnlimitedAndCompensatory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	unlimited := timeoff.Snapshot{
		Key:  timeoff.Key{WorkerID: "w1", LeaveTypeID: "unpaid", Year: 2025},
		Kind: timeoff.KindOrdinary, Used: generic.DaysFromFloat(1.5), Resolved: true,
	}
	require.NoError(t, store.UpsertSnapshot(ctx, unlimited))

	got, err := store.GetSnapshot(ctx, unlimited.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.Total)
	assert.Nil(t, got.Available)
	assert.True(t, unlimited.Used.Equal(got.Used))

	two, zero := generic.Days(2), generic.Days(0)
	comp := timeoff.Snapshot{
		Key:              timeoff.Key{WorkerID: "w1", LeaveTypeID: "comp", Year: 2025},
		Kind:             timeoff.KindCompensatory,
		Total:            &two,
		Used:             generic.Days(3),
		Available:        &zero,
		CollectedDates:   []generic.TimePoint{date(2025, time.January, 1), date(2025, time.March, 8)},
		CompensatedDates: []generic.TimePoint{date(2025, time.April, 1), date(2025, time.April, 2), date(2025, time.April, 3)},
		AvailableDates:   []generic.TimePoint{},
		Resolved:         true,
	}
	require.NoError(t, store.UpsertSnapshot(ctx, comp))

	gotComp, err := store.GetSnapshot(ctx, comp.Key)
	require.NoError(t, err)
	require.NotNil(t, gotComp)
	assert.True(t, comp.SameBalance(*gotComp))
	assert.NotNil(t, gotComp.AvailableDates)
}

func TestStore_Snapshot_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, year := range []int{2024, 2025, 2026, 2027} {
		require.NoError(t, store.UpsertSnapshot(ctx, timeoff.Snapshot{
			Key: timeoff.Key{WorkerID: "w1", LeaveTypeID: "annual", Year: year}, Kind: timeoff.KindOrdinary, Resolved: true,
		}))
	}

	require.NoError(t, store.DeleteSnapshotsAfter(ctx, "w1", "annual", 2025))
	n, err := store.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.DeleteSnapshot(ctx, timeoff.Key{WorkerID: "w1", LeaveTypeID: "annual", Year: 2024}))
	got, err := store.GetSnapshot(ctx, timeoff.Key{WorkerID: "w1", LeaveTypeID: "annual", Year: 2024})
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Reset(ctx))
	n, err = store.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestStore_EngineRoundTrip(t *testing.T) {
	// GIVEN: The engine backed entirely by SQLite
	// WHEN: Resolving, deleting and resolving again
	// THEN: Both computations agree

	store := newTestStore(t)
	ctx := context.Background()

	ent := generic.Days(10)
	require.NoError(t, store.PutWorker(ctx, timeoff.Worker{ID: "w1", JoinDate: datePtr(2023, time.January, 1)}))
	require.NoError(t, store.PutLeaveType(ctx, timeoff.LeaveType{ID: "annual", Name: "Annual", Entitlement: &ent, Transferable: true}))
	require.NoError(t, store.PutRequest(ctx, timeoff.LeaveRequest{ID: "r1", WorkerID: "w1", LeaveTypeID: "annual", StartDate: date(2025, time.June, 2), Status: timeoff.StatusApproved}))

	engine := timeoff.NewEngine(store.Sources(), store)

	first, err := engine.GetBalance(ctx, "w1", "annual", 2025)
	require.NoError(t, err)
	require.NotNil(t, first.Total)
	assert.True(t, generic.Days(20).Equal(*first.Total))
	assert.True(t, generic.Days(19).Equal(*first.Available))

	cached, err := engine.GetBalance(ctx, "w1", "annual", 2025)
	require.NoError(t, err)
	assert.True(t, first.SameBalance(cached))

	require.NoError(t, engine.Invalidate(ctx, "w1", "annual", 2025))
	again, err := engine.GetBalance(ctx, "w1", "annual", 2025)
	require.NoError(t, err)
	assert.True(t, first.SameBalance(again))
}

// =============================================================================
// FAILURE PROPAGATION (sqlmock)
// =============================================================================

func TestStore_QueryFailure_Propagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("disk I/O error")
	mock.ExpectQuery("SELECT join_date, notice_start_date FROM workers").
		WithArgs("w1").
		WillReturnError(boom)

	store := sqlite.NewWithDB(db)
	engine := timeoff.NewEngine(store.Sources(), store)

	_, err = engine.UpdateBalance(context.Background(), "w1", "annual", 2025)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.False(t, generic.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_BusyDatabase_IsUnavailable(t *testing.T) {
	// GIVEN another connection holding the write lock
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	mock.ExpectQuery("SELECT join_date, notice_start_date FROM workers").
		WithArgs("w1").
		WillReturnError(busy)

	store := sqlite.NewWithDB(db)
	engine := timeoff.NewEngine(store.Sources(), store)

	// WHEN a balance is computed
	_, err = engine.UpdateBalance(context.Background(), "w1", "annual", 2025)

	// THEN the failure is reported as a transient store outage
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrStoreUnavailable)
	assert.True(t, generic.IsRetryable(err))
	var se sqlite3.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, sqlite3.ErrBusy, se.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetSnapshot_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT kind, total, used, available").
		WithArgs("w1", "annual", 2025).
		WillReturnRows(sqlmock.NewRows([]string{"kind"}))

	store := sqlite.NewWithDB(db)
	got, err := store.GetSnapshot(context.Background(), timeoff.Key{WorkerID: "w1", LeaveTypeID: "annual", Year: 2025})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertFailure_Wrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("database is locked")
	mock.ExpectExec("INSERT INTO balance_snapshots").WillReturnError(boom)

	store := sqlite.NewWithDB(db)
	ten := generic.Days(10)
	err = store.UpsertSnapshot(context.Background(), timeoff.Snapshot{
		Key:  timeoff.Key{WorkerID: "w1", LeaveTypeID: "annual", Year: 2025},
		Kind: timeoff.KindOrdinary, Total: &ten, Available: &ten, Resolved: true,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "w1/annual/2025")
	assert.ErrorIs(t, err, generic.ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
