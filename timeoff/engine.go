/*
engine.go - Balance orchestrator

PURPOSE:
  Engine is the single entry point for balances. It resolves one
  (worker, type, year) key into a Snapshot and keeps at most one cached
  snapshot per key in the SnapshotStore.

READ PATH (GetBalance):
  1. Validate the key (empty ids, year <= 0 -> ErrInvalidKey)
  2. Cached snapshot? Return it unchanged. No staleness check.
  3. Miss: UpdateBalance. Concurrent misses on one key share one computation,
     which runs detached from the callers' cancellation. A caller whose
     context ends stops waiting; the snapshot is still stored.

WRITE PATH (UpdateBalance):
  1. Lock the key
  2. Unknown worker or type -> neutral snapshot, nothing persisted
  3. Resolve the ancestor chain root first, then the type:

     ordinary:      total = entitlement
                    total = Scale(total)            if Scaled
                    total += carryOver(year-1)      if Transferable and not blocked
                    total = min(total, parent.Available)
                    used  = Usage(type + direct children)
                    available = total - used        (nil if total is nil)

     compensatory:  see compensatory.go

  4. Upsert the requested key only. Parents and prior years resolved along
     the way live in a per-call memo and are never written: a blocked prior
     year has no carry-over and must not overwrite the real snapshot.

ERRORS:
  Store failures propagate wrapped; outages keep generic.ErrStoreUnavailable
  in the chain. Hierarchy cycles are reported as
  *generic.CycleError. Not-found is never an error here.

SEE ALSO:
  - carryover.go, tenure.go, usage.go, compensatory.go, hierarchy.go
  - invalidation.go: Reacting to request changes
*/
package timeoff

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	src       Sources
	catalog   *KindCatalog
	snapshots SnapshotStore
	logger    *zap.Logger

	qualifying       []RequestStatus
	floorYear        int
	compensatoryType LeaveTypeID
	now              func() time.Time

	locks  *keyLock
	flight singleflight.Group
}

type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithQualifyingStatuses replaces the request statuses counted as usage.
func WithQualifyingStatuses(statuses ...RequestStatus) Option {
	return func(e *Engine) {
		if len(statuses) > 0 {
			e.qualifying = append([]RequestStatus(nil), statuses...)
		}
	}
}

// WithCarryOverFloor sets the earliest year carried over for workers
// without a join date.
func WithCarryOverFloor(year int) Option {
	return func(e *Engine) { e.floorYear = year }
}

// WithCompensatoryTypeID marks the catalog type with this id as compensatory.
func WithCompensatoryTypeID(id LeaveTypeID) Option {
	return func(e *Engine) { e.compensatoryType = id }
}

// WithClock sets the clock used for Snapshot.ComputedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(src Sources, snapshots SnapshotStore, opts ...Option) *Engine {
	e := &Engine{
		src:        src,
		snapshots:  snapshots,
		logger:     zap.L().Named("timeoff.engine"),
		qualifying: DefaultQualifyingStatuses,
		floorYear:  DefaultCarryOverFloorYear,
		now:        time.Now,
		locks:      newKeyLock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.catalog = NewKindCatalog(e.src.Types, e.compensatoryType)
	e.src.Types = e.catalog
	return e
}

// QualifyingStatuses returns the statuses counted as usage.
func (e *Engine) QualifyingStatuses() []RequestStatus {
	return append([]RequestStatus(nil), e.qualifying...)
}

// ListLeaveTypes lists the catalog with every Kind resolved.
func (e *Engine) ListLeaveTypes(ctx context.Context) ([]LeaveType, error) {
	return e.catalog.ListLeaveTypes(ctx)
}

// GetLeaveType resolves one type with its Kind.
func (e *Engine) GetLeaveType(ctx context.Context, id LeaveTypeID) (*LeaveType, error) {
	return e.catalog.GetLeaveType(ctx, id)
}

// =============================================================================
// READ PATH
// =============================================================================

// GetBalance returns the cached snapshot for the key, computing and storing
// it on a miss.
func (e *Engine) GetBalance(ctx context.Context, workerID WorkerID, typeID LeaveTypeID, year int) (Snapshot, error) {
	key := Key{WorkerID: workerID, LeaveTypeID: typeID, Year: year}
	if err := key.Validate(); err != nil {
		return Snapshot{}, err
	}

	cached, err := e.snapshots.GetSnapshot(ctx, key)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	if cached != nil {
		return *cached, nil
	}

	// The shared computation ignores caller cancellation. Each caller stops
	// waiting on its own ctx.
	ch := e.flight.DoChan(key.id(), func() (any, error) {
		return e.UpdateBalance(context.WithoutCancel(ctx), workerID, typeID, year)
	})
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		if res.Shared {
			e.logger.Debug("shared balance computation", zap.Stringer("key", key))
		}
		return res.Val.(Snapshot), nil
	}
}

// =============================================================================
// WRITE PATH
// =============================================================================

// UpdateBalance recomputes the key from source records and overwrites its
// snapshot. Neutral results for unknown workers or types are returned but
// not stored.
func (e *Engine) UpdateBalance(ctx context.Context, workerID WorkerID, typeID LeaveTypeID, year int) (Snapshot, error) {
	key := Key{WorkerID: workerID, LeaveTypeID: typeID, Year: year}
	if err := key.Validate(); err != nil {
		return Snapshot{}, err
	}

	unlock := e.locks.Lock(key)
	defer unlock()

	snap, err := e.resolve(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	if !snap.Resolved {
		return snap, nil
	}

	if err := e.snapshots.UpsertSnapshot(ctx, snap); err != nil {
		return Snapshot{}, fmt.Errorf("upsert snapshot %s: %w", key, err)
	}
	e.logger.Debug("balance updated",
		zap.Stringer("key", key),
		zap.String("kind", string(snap.Kind)),
		zap.String("total", generic.FormatOptional(snap.Total)),
		zap.String("used", snap.Used.String()),
		zap.String("available", generic.FormatOptional(snap.Available)),
	)
	return snap, nil
}

// Compute resolves the key without reading or writing snapshots.
func (e *Engine) Compute(ctx context.Context, workerID WorkerID, typeID LeaveTypeID, year int) (Snapshot, error) {
	key := Key{WorkerID: workerID, LeaveTypeID: typeID, Year: year}
	if err := key.Validate(); err != nil {
		return Snapshot{}, err
	}
	return e.resolve(ctx, key)
}

func (e *Engine) resolve(ctx context.Context, key Key) (Snapshot, error) {
	worker, err := e.src.Workers.GetWorker(ctx, key.WorkerID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get worker %s: %w", key.WorkerID, err)
	}
	if worker == nil {
		e.logger.Debug("unknown worker, neutral balance", zap.Stringer("key", key))
		return NeutralSnapshot(key), nil
	}

	r := e.newResolution(*worker)
	snap, found, err := r.compute(ctx, key.LeaveTypeID, key.Year, false)
	if err != nil {
		return Snapshot{}, err
	}
	if !found {
		e.logger.Debug("unknown leave type, neutral balance", zap.Stringer("key", key))
		return NeutralSnapshot(key), nil
	}
	return snap, nil
}

// =============================================================================
// RESOLUTION - One call's worth of memoized state
// =============================================================================

type memoKey struct {
	typeID  LeaveTypeID
	year    int
	blocked bool
}

type resolution struct {
	engine    *Engine
	worker    Worker
	types     *catalogView
	memo      map[memoKey]Snapshot
	collected *generic.DateSet
	at        time.Time
}

func (e *Engine) newResolution(w Worker) *resolution {
	return &resolution{
		engine: e,
		worker: w,
		types:  newCatalogView(e.src.Types),
		memo:   make(map[memoKey]Snapshot),
		at:     e.now().UTC(),
	}
}

// compute resolves typeID for year, walking its ancestors root first.
// blocked disables carry-over for the whole chain. found is false when
// typeID is not in the catalog.
func (r *resolution) compute(ctx context.Context, typeID LeaveTypeID, year int, blocked bool) (Snapshot, bool, error) {
	if s, ok := r.memo[memoKey{typeID, year, blocked}]; ok {
		return s, true, nil
	}

	chain, err := Ancestry(ctx, r.types, typeID)
	if err != nil {
		return Snapshot{}, false, err
	}
	if len(chain) == 0 {
		return Snapshot{}, false, nil
	}

	var (
		snap            Snapshot
		parentAvailable *decimal.Decimal
	)
	for _, lt := range chain {
		mk := memoKey{lt.ID, year, blocked}
		s, ok := r.memo[mk]
		if !ok {
			s, err = r.resolveType(ctx, lt, year, blocked, parentAvailable)
			if err != nil {
				return Snapshot{}, false, err
			}
			r.memo[mk] = s
		}
		parentAvailable = s.Available
		snap = s
	}
	return snap, true, nil
}

// resolveType computes one type given its parent's available balance
// (nil for roots and unlimited parents).
func (r *resolution) resolveType(ctx context.Context, lt LeaveType, year int, blocked bool, parentAvailable *decimal.Decimal) (Snapshot, error) {
	key := Key{WorkerID: r.worker.ID, LeaveTypeID: lt.ID, Year: year}
	if lt.IsCompensatory() {
		return r.resolveCompensatory(ctx, key)
	}

	var total *decimal.Decimal
	if lt.Entitlement != nil {
		total = generic.Ptr(*lt.Entitlement)
	}
	if total != nil && lt.Scaled {
		total = generic.Ptr(Scale(*total, r.worker, year))
	}
	if total != nil && lt.Transferable && !blocked {
		carry, err := r.carryOver(ctx, lt, year)
		if err != nil {
			return Snapshot{}, err
		}
		total = generic.Ptr(total.Add(carry))
	}
	total = generic.MinOptional(total, parentAvailable)

	typeIDs, err := r.usageTypes(ctx, lt.ID)
	if err != nil {
		return Snapshot{}, err
	}
	used, err := Usage(ctx, r.engine.src.Requests, r.worker.ID, typeIDs, year, r.engine.qualifying)
	if err != nil {
		return Snapshot{}, err
	}

	var available *decimal.Decimal
	if total != nil {
		available = generic.Ptr(total.Sub(used))
	}
	return Snapshot{
		Key:        key,
		Kind:       KindOrdinary,
		Total:      total,
		Used:       used,
		Available:  available,
		Resolved:   true,
		ComputedAt: r.at,
	}, nil
}

// usageTypes is the type itself plus its direct children.
func (r *resolution) usageTypes(ctx context.Context, id LeaveTypeID) ([]LeaveTypeID, error) {
	children, err := r.types.Children(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", id, err)
	}
	ids := make([]LeaveTypeID, 0, len(children)+1)
	ids = append(ids, id)
	for _, c := range children {
		if c.ID != id {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

func (r *resolution) resolveCompensatory(ctx context.Context, key Key) (Snapshot, error) {
	if r.collected == nil {
		collected, err := Collect(ctx, r.engine.src.ExtraWork, r.engine.src.Attendance, r.worker.ID)
		if err != nil {
			return Snapshot{}, err
		}
		r.collected = &collected
	}

	compensated, err := CompensatedDates(ctx, r.engine.src.Requests, r.worker.ID, key.LeaveTypeID, key.Year, r.engine.qualifying)
	if err != nil {
		return Snapshot{}, err
	}

	snap := compensatoryBalance(key, *r.collected, compensated)
	snap.ComputedAt = r.at
	return snap, nil
}
