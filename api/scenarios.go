/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the source store with
	realistic data. Each scenario shows one balance rule end to end.

AVAILABLE SCENARIOS:
	new-joiner:       Tenure scaling for a mid-year join
	carry-over:       Unused allowance carried into the next year
	sub-leave:        Child type capped by its parent's availability
	compensatory:     Time off earned by working holidays and weekends
	request-statuses: Which request statuses count as usage

HOW SCENARIOS WORK:
 1. Reset source data and cached snapshots
 2. Create leave types via the factory presets
 3. Create workers
 4. Add requests, extra work and attendance
 Balances are not precomputed; the first read computes and caches them.

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "carry-over"}

	GET /api/workers/w-carry/balances?year=<current year>

NOTE:
	Scenarios reset all data. Only use in development/demo environments.

SEE ALSO:
  - timeoff/factory.go: Leave type presets
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-joiner",
		Name:        "New Joiner",
		Description: "24-day scaled allowance for a worker who joined on July 1st: 12 days",
		Category:    "tenure",
	},
	{
		ID:          "carry-over",
		Name:        "Carry-Over",
		Description: "10-day transferable allowance, nothing used last year: 20 days this year",
		Category:    "carry-over",
	},
	{
		ID:          "sub-leave",
		Name:        "Sub-Leave Cap",
		Description: "Study leave (15) under annual leave (20) with 15 annual days used: study capped at 5",
		Category:    "hierarchy",
	},
	{
		ID:          "compensatory",
		Name:        "Compensatory Time",
		Description: "Worked and attended one holiday and one weekend day, took one back: 1 left",
		Category:    "compensatory",
	},
	{
		ID:          "request-statuses",
		Name:        "Request Statuses",
		Description: "Pending, approved, provisional and modified requests count; rejected and cancelled do not",
		Category:    "usage",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	loaders := map[string]func(context.Context, int) error{
		"new-joiner":       h.loadNewJoinerScenario,
		"carry-over":       h.loadCarryOverScenario,
		"sub-leave":        h.loadSubLeaveScenario,
		"compensatory":     h.loadCompensatoryScenario,
		"request-statuses": h.loadRequestStatusesScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.resetAll(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := load(ctx, h.now().Year()); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadNewJoinerScenario(ctx context.Context, year int) error {
	if err := h.createLeaveTypes(ctx,
		timeoff.AnnualLeaveJSON("annual", "Annual Leave", 24),
	); err != nil {
		return err
	}

	join := generic.NewTimePoint(year, time.July, 1)
	if err := h.Store.PutWorker(ctx, timeoff.Worker{ID: "w-new", JoinDate: &join}); err != nil {
		return err
	}

	// Two days in August: 12 scaled, 10 left
	return h.createRequest(ctx, "w-new", "annual", generic.NewTimePoint(year, time.August, 12), "2", timeoff.StatusApproved)
}

func (h *Handler) loadCarryOverScenario(ctx context.Context, year int) error {
	if err := h.createLeaveTypes(ctx,
		timeoff.AnnualLeaveJSON("annual", "Annual Leave", 10),
	); err != nil {
		return err
	}

	join := generic.NewTimePoint(year-1, time.January, 1)
	if err := h.Store.PutWorker(ctx, timeoff.Worker{ID: "w-carry", JoinDate: &join}); err != nil {
		return err
	}

	// Rejected last year, so all 10 days carry over
	if err := h.createRequest(ctx, "w-carry", "annual", generic.NewTimePoint(year-1, time.June, 3), "5", timeoff.StatusRejected); err != nil {
		return err
	}
	return h.createRequest(ctx, "w-carry", "annual", generic.NewTimePoint(year, time.February, 9), "3", timeoff.StatusApproved)
}

func (h *Handler) loadSubLeaveScenario(ctx context.Context, year int) error {
	if err := h.createLeaveTypes(ctx,
		timeoff.UseItOrLoseItJSON("annual", "Annual Leave", 20),
		timeoff.SubLeaveJSON("study", "Study Leave", "annual", 15),
		timeoff.SickLeaveJSON("sick", "Sick Leave", 5),
	); err != nil {
		return err
	}

	if err := h.Store.PutWorker(ctx, timeoff.Worker{ID: "w-sub"}); err != nil {
		return err
	}
	return h.createRequest(ctx, "w-sub", "annual", generic.NewTimePoint(year, time.April, 1), "15", timeoff.StatusApproved)
}

func (h *Handler) loadCompensatoryScenario(ctx context.Context, year int) error {
	if err := h.createLeaveTypes(ctx,
		timeoff.CompensatoryLeaveJSON("comp", "Compensatory Time"),
	); err != nil {
		return err
	}

	workerID := timeoff.WorkerID("w-comp")
	if err := h.Store.PutWorker(ctx, timeoff.Worker{ID: workerID}); err != nil {
		return err
	}

	newYear := generic.Holiday{ID: uuid.NewString(), Date: generic.NewTimePoint(year, time.January, 1), Name: "New Year's Day"}
	if err := h.Store.PutHoliday(ctx, newYear); err != nil {
		return err
	}
	if err := h.Store.PutHolidayWork(ctx, timeoff.HolidayWorkRecord{
		ID: uuid.NewString(), WorkerID: workerID, HolidayID: newYear.ID, Status: timeoff.ExtraWorkApproved,
	}); err != nil {
		return err
	}

	saturday := firstWeekday(year, time.March, time.Saturday)
	sunday := saturday.AddDays(1)
	weekend := []timeoff.WeekendWorkRecord{
		{ID: uuid.NewString(), WorkerID: workerID, Date: saturday, Status: timeoff.ExtraWorkModifiedApproved},
		// Agreed but never attended: not collected
		{ID: uuid.NewString(), WorkerID: workerID, Date: sunday, Status: timeoff.ExtraWorkApproved},
	}
	for _, rec := range weekend {
		if err := h.Store.PutWeekendWork(ctx, rec); err != nil {
			return err
		}
	}

	for _, day := range []generic.TimePoint{newYear.Date, saturday} {
		if err := h.Store.PutAttendance(ctx, timeoff.AttendanceRecord{
			ID: uuid.NewString(), WorkerID: workerID, Date: day, Status: timeoff.AttendanceApproved,
		}); err != nil {
			return err
		}
	}

	return h.createRequest(ctx, workerID, "comp", generic.NewTimePoint(year, time.April, 15), "", timeoff.StatusPending)
}

func (h *Handler) loadRequestStatusesScenario(ctx context.Context, year int) error {
	if err := h.createLeaveTypes(ctx,
		timeoff.SickLeaveJSON("sick", "Sick Leave", 10),
	); err != nil {
		return err
	}

	workerID := timeoff.WorkerID("w-status")
	if err := h.Store.PutWorker(ctx, timeoff.Worker{ID: workerID}); err != nil {
		return err
	}

	// 1 + 1 + 1 + 1 + 0.5 counted, 4 rejected/cancelled days ignored
	requests := []struct {
		month  time.Month
		days   string
		status timeoff.RequestStatus
	}{
		{time.January, "", timeoff.StatusApproved},
		{time.February, "", timeoff.StatusPending},
		{time.March, "", timeoff.StatusProvisionallyApproved},
		{time.April, "", timeoff.StatusModified},
		{time.May, "0.5", timeoff.StatusApproved},
		{time.June, "2", timeoff.StatusRejected},
		{time.July, "2", timeoff.StatusCancelled},
	}
	for _, req := range requests {
		if err := h.createRequest(ctx, workerID, "sick", generic.NewTimePoint(year, req.month, 10), req.days, req.status); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createLeaveTypes(ctx context.Context, presets ...string) error {
	types, err := h.LeaveTypes.ParseCatalog(timeoff.CatalogJSON(presets...))
	if err != nil {
		return err
	}
	for _, lt := range types {
		if err := h.Store.PutLeaveType(ctx, lt); err != nil {
			return err
		}
	}
	return nil
}

// createRequest stores a leave request. An empty days string means a
// single day without explicit length.
func (h *Handler) createRequest(ctx context.Context, workerID timeoff.WorkerID, typeID timeoff.LeaveTypeID, start generic.TimePoint, days string, status timeoff.RequestStatus) error {
	req := timeoff.LeaveRequest{
		ID:          timeoff.RequestID(uuid.NewString()),
		WorkerID:    workerID,
		LeaveTypeID: typeID,
		StartDate:   start,
		Status:      status,
	}
	if days != "" {
		d, err := decimal.NewFromString(days)
		if err != nil {
			return err
		}
		req.DayCount = &d
	}
	return h.Store.PutRequest(ctx, req)
}

func firstWeekday(year int, month time.Month, wd time.Weekday) generic.TimePoint {
	d := generic.NewTimePoint(year, month, 1)
	for d.Weekday() != wd {
		d = d.AddDays(1)
	}
	return d
}
