package timeoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/timeoff"
)

func seedFamily(t *testing.T, store *memory.Memory) {
	t.Helper()
	putWorker(t, store, timeoff.Worker{ID: "w1", JoinDate: datePtr(2020, time.January, 1)})
	putType(t, store, timeoff.LeaveType{ID: "leave", Entitlement: days(20), Transferable: true})
	putType(t, store, timeoff.LeaveType{ID: "study", Entitlement: days(15), ParentID: parent("leave")})
	putType(t, store, timeoff.LeaveType{ID: "exam", Entitlement: days(15), ParentID: parent("leave")})
	putType(t, store, timeoff.LeaveType{ID: "sick", Entitlement: days(5)})
}

func snapshotKey(typeID timeoff.LeaveTypeID, year int) timeoff.Key {
	return timeoff.Key{WorkerID: "w1", LeaveTypeID: typeID, Year: year}
}

func TestRequestChanged_Created_RecomputesTypeAndAncestors(t *testing.T) {
	// GIVEN: Cached balances for a family (leave > study, exam), an unrelated
	//        type and the following year
	// WHEN: A 3-day study request is created and notified
	// THEN: study and leave are recomputed, exam and 2026 of the family are
	//       dropped, sick is untouched

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedFamily(t, store)

	for _, typeID := range []timeoff.LeaveTypeID{"leave", "study", "exam", "sick"} {
		_, err := engine.GetBalance(ctx, "w1", typeID, 2025)
		require.NoError(t, err)
	}
	_, err := engine.GetBalance(ctx, "w1", "leave", 2026)
	require.NoError(t, err)
	_, err = engine.GetBalance(ctx, "w1", "leave", 2024)
	require.NoError(t, err)

	start := date(2025, time.September, 1)
	putRequest(t, store, "r1", "w1", "study", start, days(3), timeoff.StatusApproved)

	res, err := engine.RequestChanged(ctx, timeoff.RequestChange{
		Op:       timeoff.ChangeCreated,
		WorkerID: "w1",
		Current:  &timeoff.RequestRef{LeaveTypeID: "study", StartDate: start},
	})
	require.NoError(t, err)
	require.Len(t, res.Recomputed, 2)
	assert.ElementsMatch(t, []timeoff.Key{snapshotKey("exam", 2025)}, res.Invalidated)

	study, err := store.GetSnapshot(ctx, snapshotKey("study", 2025))
	require.NoError(t, err)
	require.NotNil(t, study)
	assert.True(t, generic.Days(3).Equal(study.Used))

	leave, err := store.GetSnapshot(ctx, snapshotKey("leave", 2025))
	require.NoError(t, err)
	require.NotNil(t, leave)
	assert.True(t, generic.Days(3).Equal(leave.Used))

	exam, err := store.GetSnapshot(ctx, snapshotKey("exam", 2025))
	require.NoError(t, err)
	assert.Nil(t, exam)

	later, err := store.GetSnapshot(ctx, snapshotKey("leave", 2026))
	require.NoError(t, err)
	assert.Nil(t, later, "later years of a transferable family are dropped")

	earlier, err := store.GetSnapshot(ctx, snapshotKey("leave", 2024))
	require.NoError(t, err)
	assert.NotNil(t, earlier)

	sick, err := store.GetSnapshot(ctx, snapshotKey("sick", 2025))
	require.NoError(t, err)
	assert.NotNil(t, sick)

	// Exam is lazily recomputed against the new parent balance.
	examSnap, err := engine.GetBalance(ctx, "w1", "exam", 2025)
	require.NoError(t, err)
	requireDays(t, 15, examSnap.Total)
}

func TestRequestChanged_UpdatedAcrossTypes_RefreshesBoth(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedFamily(t, store)

	start := date(2025, time.March, 3)
	putRequest(t, store, "r1", "w1", "sick", start, days(2), timeoff.StatusApproved)
	sick, err := engine.GetBalance(ctx, "w1", "sick", 2025)
	require.NoError(t, err)
	requireDays(t, 3, sick.Available)

	// The request moves from sick to leave.
	putRequest(t, store, "r1", "w1", "leave", start, days(2), timeoff.StatusApproved)
	_, err = engine.RequestChanged(ctx, timeoff.RequestChange{
		Op:       timeoff.ChangeUpdated,
		WorkerID: "w1",
		Previous: &timeoff.RequestRef{LeaveTypeID: "sick", StartDate: start},
		Current:  &timeoff.RequestRef{LeaveTypeID: "leave", StartDate: start},
	})
	require.NoError(t, err)

	sick, err = engine.GetBalance(ctx, "w1", "sick", 2025)
	require.NoError(t, err)
	requireDays(t, 5, sick.Available)

	leave, err := engine.GetBalance(ctx, "w1", "leave", 2025)
	require.NoError(t, err)
	assert.True(t, generic.Days(2).Equal(leave.Used))
}

func TestRequestChanged_Deleted(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedFamily(t, store)

	start := date(2025, time.March, 3)
	putRequest(t, store, "r1", "w1", "sick", start, days(2), timeoff.StatusApproved)
	_, err := engine.GetBalance(ctx, "w1", "sick", 2025)
	require.NoError(t, err)

	require.NoError(t, store.DeleteRequest(ctx, "r1"))
	_, err = engine.RequestChanged(ctx, timeoff.RequestChange{
		Op:       timeoff.ChangeDeleted,
		WorkerID: "w1",
		Previous: &timeoff.RequestRef{LeaveTypeID: "sick", StartDate: start},
	})
	require.NoError(t, err)

	sick, err := engine.GetBalance(ctx, "w1", "sick", 2025)
	require.NoError(t, err)
	requireDays(t, 5, sick.Available)
}

func TestRequestChanged_UnknownType_Invalidates(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedFamily(t, store)

	res, err := engine.RequestChanged(ctx, timeoff.RequestChange{
		Op:       timeoff.ChangeCreated,
		WorkerID: "w1",
		Current:  &timeoff.RequestRef{LeaveTypeID: "gone", StartDate: date(2025, time.March, 3)},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Recomputed)
	assert.Equal(t, []timeoff.Key{snapshotKey("gone", 2025)}, res.Invalidated)
}

func TestRequestChanged_Validation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	ref := &timeoff.RequestRef{LeaveTypeID: "sick", StartDate: date(2025, time.March, 3)}

	cases := []struct {
		name   string
		change timeoff.RequestChange
	}{
		{"missing worker", timeoff.RequestChange{Op: timeoff.ChangeCreated, Current: ref}},
		{"unknown op", timeoff.RequestChange{Op: "archived", WorkerID: "w1", Current: ref}},
		{"created without current", timeoff.RequestChange{Op: timeoff.ChangeCreated, WorkerID: "w1", Previous: ref}},
		{"deleted without request", timeoff.RequestChange{Op: timeoff.ChangeDeleted, WorkerID: "w1"}},
		{"missing start date", timeoff.RequestChange{Op: timeoff.ChangeCreated, WorkerID: "w1", Current: &timeoff.RequestRef{LeaveTypeID: "sick"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.RequestChanged(ctx, tc.change)
			require.Error(t, err)
			assert.True(t, errors.Is(err, generic.ErrInvalidChange))
			assert.True(t, generic.IsClientError(err))
		})
	}
}

func TestDropChange_DeletesWithoutRecomputing(t *testing.T) {
	// GIVEN: Cached balances for the family, an unrelated type and 2026
	// WHEN: A study change is dropped instead of applied
	// THEN: Every family snapshot of 2025 and later is gone, nothing is
	//       recomputed, sick is untouched
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedFamily(t, store)

	for _, typeID := range []timeoff.LeaveTypeID{"leave", "study", "exam", "sick"} {
		_, err := engine.GetBalance(ctx, "w1", typeID, 2025)
		require.NoError(t, err)
	}
	_, err := engine.GetBalance(ctx, "w1", "leave", 2026)
	require.NoError(t, err)

	res, err := engine.DropChange(ctx, timeoff.RequestChange{
		Op:       timeoff.ChangeCreated,
		WorkerID: "w1",
		Current:  &timeoff.RequestRef{LeaveTypeID: "study", StartDate: date(2025, time.September, 1)},
	})

	require.NoError(t, err)
	assert.Empty(t, res.Recomputed)
	assert.ElementsMatch(t, []timeoff.Key{
		snapshotKey("leave", 2025), snapshotKey("study", 2025), snapshotKey("exam", 2025),
	}, res.Invalidated)
	for _, key := range []timeoff.Key{
		snapshotKey("leave", 2025), snapshotKey("study", 2025), snapshotKey("exam", 2025), snapshotKey("leave", 2026),
	} {
		snap, err := store.GetSnapshot(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, snap, key.String())
	}
	sick, err := store.GetSnapshot(ctx, snapshotKey("sick", 2025))
	require.NoError(t, err)
	assert.NotNil(t, sick)
}
