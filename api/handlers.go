/*
handlers.go - HTTP API handlers for the leave balance engine

PURPOSE:
  Exposes the balance engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to timeoff.Engine.

ENDPOINTS:
  Balances:
    GET    /api/workers/{id}/balances/{typeID}?year=           One balance
    GET    /api/workers/{id}/balances?year=                    Every catalog type
    POST   /api/workers/{id}/balances/{typeID}/recompute?year= Force recompute

  Request changes:
    POST   /api/requests/changes       Created/updated/deleted request

  Leave types:
    GET    /api/leave-types            Catalog
    POST   /api/leave-types            Add types from catalog JSON

  Admin:
    POST   /api/admin/refresh?year=    Recompute every worker x type

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    GET    /api/scenarios/current      Loaded scenario
    POST   /api/scenarios/load         Load a demo scenario
    POST   /api/scenarios/reset        Clear all data

YEAR PARAMETER:
  Defaults to the current calendar year. A malformed year is a 400; a
  non-positive one is rejected by the engine as an invalid key (also 400).

UNKNOWN WORKERS AND TYPES:
  Not an error. The engine returns a neutral balance with resolved=false
  and the handler passes it through with 200.

ERROR HANDLING:
  - 400: Invalid key, malformed body, validation failure
  - 503: Store unavailable, safe to retry
  - 500: Other store failures, hierarchy cycles

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Seeder is the write side of the source store, used by the leave type
// endpoint and the demo scenarios.
type Seeder interface {
	Reset(ctx context.Context) error
	PutWorker(ctx context.Context, w timeoff.Worker) error
	PutLeaveType(ctx context.Context, lt timeoff.LeaveType) error
	PutRequest(ctx context.Context, r timeoff.LeaveRequest) error
	PutHoliday(ctx context.Context, h generic.Holiday) error
	PutHolidayWork(ctx context.Context, r timeoff.HolidayWorkRecord) error
	PutWeekendWork(ctx context.Context, r timeoff.WeekendWorkRecord) error
	PutAttendance(ctx context.Context, r timeoff.AttendanceRecord) error
}

// Resetter is implemented by snapshot stores that can be cleared.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *timeoff.Engine
	Store      Seeder
	Snapshots  Resetter // optional, cleared with the source data
	LeaveTypes *factory.LeaveTypeFactory

	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(engine *timeoff.Engine, store Seeder, snapshots Resetter, logger ...*zap.Logger) *Handler {
	l := zap.L().Named("api")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("api")
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		Engine:     engine,
		Store:      store,
		Snapshots:  snapshots,
		LeaveTypes: factory.NewLeaveTypeFactory(),
		validate:   v,
		logger:     l,
		now:        time.Now,
	}
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance returns the balance of one worker, type and year.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	year, ok := h.yearParam(w, r)
	if !ok {
		return
	}
	snap, err := h.Engine.GetBalance(r.Context(),
		timeoff.WorkerID(chi.URLParam(r, "id")),
		timeoff.LeaveTypeID(chi.URLParam(r, "typeID")),
		year)
	if err != nil {
		h.writeEngineError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(snap))
}

// ListBalances returns the balance of every catalog type for one worker.
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	year, ok := h.yearParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	workerID := timeoff.WorkerID(chi.URLParam(r, "id"))

	types, err := h.Engine.ListLeaveTypes(ctx)
	if err != nil {
		h.writeEngineError(w, "Failed to list leave types", err)
		return
	}

	resp := BalanceListDTO{WorkerID: string(workerID), Year: year, Balances: make([]BalanceDTO, 0, len(types))}
	for _, lt := range types {
		snap, err := h.Engine.GetBalance(ctx, workerID, lt.ID, year)
		if err != nil {
			h.writeEngineError(w, fmt.Sprintf("Failed to get balance of %s", lt.ID), err)
			return
		}
		resp.Balances = append(resp.Balances, toBalanceDTO(snap))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecomputeBalance recomputes and stores one balance, ignoring the cache.
func (h *Handler) RecomputeBalance(w http.ResponseWriter, r *http.Request) {
	year, ok := h.yearParam(w, r)
	if !ok {
		return
	}
	snap, err := h.Engine.UpdateBalance(r.Context(),
		timeoff.WorkerID(chi.URLParam(r, "id")),
		timeoff.LeaveTypeID(chi.URLParam(r, "typeID")),
		year)
	if err != nil {
		h.writeEngineError(w, "Failed to recompute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(snap))
}

// =============================================================================
// REQUEST CHANGE HANDLER
// =============================================================================

// NotifyRequestChange refreshes the balances a request change affects.
// POST /api/requests/changes
func (h *Handler) NotifyRequestChange(w http.ResponseWriter, r *http.Request) {
	var req RequestChangeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	change, err := req.toChange()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}

	res, err := h.Engine.RequestChanged(r.Context(), change)
	if err != nil {
		h.writeEngineError(w, "Failed to apply request change", err)
		return
	}
	writeJSON(w, http.StatusOK, toChangeResultDTO(res))
}

// =============================================================================
// LEAVE TYPE HANDLERS
// =============================================================================

// ListLeaveTypes returns the leave type catalog.
func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Engine.ListLeaveTypes(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list leave types", err)
		return
	}
	dtos := make([]LeaveTypeDTO, 0, len(types))
	for _, lt := range types {
		dtos = append(dtos, h.LeaveTypes.ToJSON(lt))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLeaveTypes stores the types of a catalog document. Existing ids are
// replaced. Cached balances are not touched; recompute or refresh them.
func (h *Handler) CreateLeaveTypes(w http.ResponseWriter, r *http.Request) {
	var req factory.CatalogJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	types, err := h.LeaveTypes.FromCatalogJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid leave type", err)
		return
	}

	ctx := r.Context()
	dtos := make([]LeaveTypeDTO, 0, len(types))
	for _, lt := range types {
		if err := h.Store.PutLeaveType(ctx, lt); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save leave type", err)
			return
		}
		dtos = append(dtos, h.LeaveTypes.ToJSON(lt))
	}
	h.logger.Info("leave types saved", zap.Int("count", len(types)))
	writeJSON(w, http.StatusCreated, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerRefresh recomputes every worker's balances for a year.
// POST /api/admin/refresh?year=
func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	year, ok := h.yearParam(w, r)
	if !ok {
		return
	}
	res, err := h.Engine.RefreshYear(r.Context(), year)
	if err != nil {
		h.writeEngineError(w, "Failed to refresh balances", err)
		return
	}
	writeJSON(w, http.StatusOK, toRefreshResultDTO(res))
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.resetAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) resetAll(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	if h.Snapshots != nil {
		if err := h.Snapshots.Reset(ctx); err != nil {
			return fmt.Errorf("reset snapshots: %w", err)
		}
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) yearParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("year")
	if raw == "" {
		return h.now().Year(), true
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return 0, false
	}
	return year, true
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) && len(errs) > 0 {
			e := errs[0]
			msg := fmt.Sprintf("%s is invalid", e.Field())
			if e.Tag() == "required" {
				msg = fmt.Sprintf("%s is required", e.Field())
			}
			writeError(w, http.StatusBadRequest, msg, nil)
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid input", err)
		return false
	}
	return true
}

func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
