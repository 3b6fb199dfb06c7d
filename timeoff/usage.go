package timeoff

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// USAGE AGGREGATOR
// =============================================================================

// Usage sums the day counts of qualifying requests of the worker for typeIDs
// that start inside year. A request without a day count counts as one day.
func Usage(ctx context.Context, requests LeaveRequestStore, workerID WorkerID, typeIDs []LeaveTypeID, year int, qualifying []RequestStatus) (decimal.Decimal, error) {
	rows, err := queryYear(ctx, requests, workerID, typeIDs, year)
	if err != nil {
		return decimal.Zero, err
	}

	allowed := statusSet(qualifying)
	used := decimal.Zero
	for _, r := range rows {
		if !allowed[r.Status] {
			continue
		}
		used = used.Add(r.Days())
	}
	return used, nil
}

// CompensatedDates returns the distinct start dates of qualifying requests
// against the compensatory type in year. Each date consumes one collected day
// whatever the request length.
func CompensatedDates(ctx context.Context, requests LeaveRequestStore, workerID WorkerID, typeID LeaveTypeID, year int, qualifying []RequestStatus) (generic.DateSet, error) {
	rows, err := queryYear(ctx, requests, workerID, []LeaveTypeID{typeID}, year)
	if err != nil {
		return generic.DateSet{}, err
	}

	allowed := statusSet(qualifying)
	dates := generic.NewDateSet()
	for _, r := range rows {
		if allowed[r.Status] {
			dates.Add(r.StartDate)
		}
	}
	return dates, nil
}

func queryYear(ctx context.Context, requests LeaveRequestStore, workerID WorkerID, typeIDs []LeaveTypeID, year int) ([]LeaveRequest, error) {
	period := generic.YearPeriod(year)
	rows, err := requests.QueryRequests(ctx, RequestQuery{
		WorkerID: workerID,
		TypeIDs:  typeIDs,
		Period:   period,
	})
	if err != nil {
		return nil, fmt.Errorf("query requests for %s in %d: %w", workerID, year, err)
	}

	// Stores filter by period already; re-check so a loose store can't leak
	// requests from neighbouring years into the sum.
	out := rows[:0:0]
	for _, r := range rows {
		if period.Contains(r.StartDate) {
			out = append(out, r)
		}
	}
	return out, nil
}

func statusSet(statuses []RequestStatus) map[RequestStatus]bool {
	set := make(map[RequestStatus]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return set
}
