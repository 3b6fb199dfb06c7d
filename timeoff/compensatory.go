/*
compensatory.go - Compensatory time ("comp-off") reconciliation

PURPOSE:
  Compensatory leave has no configured entitlement. A worker earns one day
  for every day off they were approved to work AND actually attended.

COLLECTION:
  approved = holiday-work dates ∪ weekend-work dates   (approved statuses)
  collected = approved ∩ approved attendance dates

  Collection is lifetime: no year filter. Consumption is per year, so the
  total of every year is the same lifetime count and only Used varies.

BALANCE:
  Total     = |collected|
  Used      = distinct start dates of qualifying comp requests in the year
  Available = max(0, Total - Used)
  AvailableDates = collected \ compensated

SEE ALSO:
  - usage.go: CompensatedDates
  - engine.go: Dispatch on Kind
*/
package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// Collect returns the dates the worker was approved to work on a day off and
// attended.
func Collect(ctx context.Context, extra ExtraWorkStore, attendance AttendanceStore, workerID WorkerID) (generic.DateSet, error) {
	holidays, err := extra.HolidayWorkDates(ctx, workerID, ApprovedExtraWorkStatuses)
	if err != nil {
		return generic.DateSet{}, fmt.Errorf("holiday work of %s: %w", workerID, err)
	}
	weekends, err := extra.WeekendWorkDates(ctx, workerID, ApprovedExtraWorkStatuses)
	if err != nil {
		return generic.DateSet{}, fmt.Errorf("weekend work of %s: %w", workerID, err)
	}

	approved := generic.NewDateSet(holidays...).Union(generic.NewDateSet(weekends...))
	if approved.Len() == 0 {
		return approved, nil
	}

	attended, err := attendance.AttendedDates(ctx, workerID, approved.Sorted(), AttendanceApproved)
	if err != nil {
		return generic.DateSet{}, fmt.Errorf("attendance of %s: %w", workerID, err)
	}
	return approved.Intersect(generic.NewDateSet(attended...)), nil
}

// compensatoryBalance fills the balance fields of a compensatory snapshot.
func compensatoryBalance(key Key, collected, compensated generic.DateSet) Snapshot {
	total := generic.Days(int64(collected.Len()))
	used := generic.Days(int64(compensated.Len()))
	available := generic.NonNegative(total.Sub(used))

	return Snapshot{
		Key:              key,
		Kind:             KindCompensatory,
		Total:            generic.Ptr(total),
		Used:             used,
		Available:        generic.Ptr(available),
		CollectedDates:   collected.Sorted(),
		CompensatedDates: compensated.Sorted(),
		AvailableDates:   collected.Difference(compensated).Sorted(),
		Resolved:         true,
	}
}
