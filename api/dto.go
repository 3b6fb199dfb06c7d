/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Day amounts are decimals serialized as JSON strings ("12.5"). A null
  total/available means unlimited.

VALIDATION:
  Request bodies carry go-playground/validator tags and are checked in
  decodeAndValidate before they reach the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/leavetype.go: LeaveTypeJSON, the leave type DTO
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// BALANCES
// =============================================================================

type BalanceDTO struct {
	WorkerID    string           `json:"worker_id"`
	LeaveTypeID string           `json:"leave_type_id"`
	Year        int              `json:"year"`
	Kind        string           `json:"kind"`
	Total       *decimal.Decimal `json:"total"`
	Used        decimal.Decimal  `json:"used"`
	Available   *decimal.Decimal `json:"available"`
	Unlimited   bool             `json:"unlimited"`
	Resolved    bool             `json:"resolved"`

	CollectedDates   []generic.TimePoint `json:"collected_dates,omitempty"`
	CompensatedDates []generic.TimePoint `json:"compensated_dates,omitempty"`
	AvailableDates   []generic.TimePoint `json:"available_dates,omitempty"`

	ComputedAt string `json:"computed_at,omitempty"`
}

type BalanceListDTO struct {
	WorkerID string       `json:"worker_id"`
	Year     int          `json:"year"`
	Balances []BalanceDTO `json:"balances"`
}

func toBalanceDTO(s timeoff.Snapshot) BalanceDTO {
	dto := BalanceDTO{
		WorkerID:         string(s.Key.WorkerID),
		LeaveTypeID:      string(s.Key.LeaveTypeID),
		Year:             s.Key.Year,
		Kind:             string(s.Kind),
		Total:            s.Total,
		Used:             s.Used,
		Available:        s.Available,
		Unlimited:        s.Resolved && s.Total == nil,
		Resolved:         s.Resolved,
		CollectedDates:   s.CollectedDates,
		CompensatedDates: s.CompensatedDates,
		AvailableDates:   s.AvailableDates,
	}
	if !s.ComputedAt.IsZero() {
		dto.ComputedAt = s.ComputedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// REQUEST CHANGES
// =============================================================================

type RequestRefDTO struct {
	LeaveTypeID string `json:"leave_type_id" validate:"required"`
	StartDate   string `json:"start_date" validate:"required,datetime=2006-01-02"`
}

// RequestChangeRequest notifies the engine that a leave request was created,
// updated or deleted.
type RequestChangeRequest struct {
	Op       string         `json:"op" validate:"required,oneof=created updated deleted"`
	WorkerID string         `json:"worker_id" validate:"required"`
	Previous *RequestRefDTO `json:"previous,omitempty" validate:"omitempty"`
	Current  *RequestRefDTO `json:"current,omitempty" validate:"omitempty"`
}

func (r RequestChangeRequest) toChange() (timeoff.RequestChange, error) {
	change := timeoff.RequestChange{
		Op:       timeoff.ChangeOp(r.Op),
		WorkerID: timeoff.WorkerID(r.WorkerID),
	}
	var err error
	if change.Previous, err = r.Previous.toRef(); err != nil {
		return change, err
	}
	if change.Current, err = r.Current.toRef(); err != nil {
		return change, err
	}
	return change, nil
}

func (r *RequestRefDTO) toRef() (*timeoff.RequestRef, error) {
	if r == nil {
		return nil, nil
	}
	start, err := generic.ParseDate(r.StartDate)
	if err != nil {
		return nil, err
	}
	return &timeoff.RequestRef{LeaveTypeID: timeoff.LeaveTypeID(r.LeaveTypeID), StartDate: start}, nil
}

type KeyDTO struct {
	WorkerID    string `json:"worker_id"`
	LeaveTypeID string `json:"leave_type_id"`
	Year        int    `json:"year"`
}

type ChangeResultDTO struct {
	Recomputed  []BalanceDTO `json:"recomputed"`
	Invalidated []KeyDTO     `json:"invalidated"`
}

func toChangeResultDTO(res timeoff.ChangeResult) ChangeResultDTO {
	dto := ChangeResultDTO{
		Recomputed:  make([]BalanceDTO, 0, len(res.Recomputed)),
		Invalidated: make([]KeyDTO, 0, len(res.Invalidated)),
	}
	for _, s := range res.Recomputed {
		dto.Recomputed = append(dto.Recomputed, toBalanceDTO(s))
	}
	for _, k := range res.Invalidated {
		dto.Invalidated = append(dto.Invalidated, KeyDTO{
			WorkerID:    string(k.WorkerID),
			LeaveTypeID: string(k.LeaveTypeID),
			Year:        k.Year,
		})
	}
	return dto
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

// LeaveTypeDTO is the factory's JSON form.
type LeaveTypeDTO = factory.LeaveTypeJSON

// =============================================================================
// ADMIN
// =============================================================================

type RefreshResultDTO struct {
	Year       int    `json:"year"`
	Workers    int    `json:"workers"`
	Recomputed int    `json:"recomputed"`
	Failed     int    `json:"failed"`
	FirstError string `json:"first_error,omitempty"`
}

func toRefreshResultDTO(res timeoff.RefreshResult) RefreshResultDTO {
	dto := RefreshResultDTO{
		Year:       res.Year,
		Workers:    res.Workers,
		Recomputed: res.Recomputed,
		Failed:     res.Failed,
	}
	if res.FirstFailed != nil {
		dto.FirstError = res.FirstFailed.Error()
	}
	return dto
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
