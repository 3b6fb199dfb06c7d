/*
invalidation.go - Keeping snapshots current when requests change

PURPOSE:
  Snapshots are lazy caches with no staleness check. Whoever owns leave
  requests tells the engine when one is created, updated or deleted, and
  the engine refreshes every key whose value depends on it.

WHAT A REQUEST CHANGE AFFECTS (worker W, type T, start year Y):
  - T for Y: its usage changed                        -> recompute now
  - every ancestor of T for Y: usage rolls up one level,
    and availability feeds the cap of the level below  -> recompute now
  - other types of the same family for Y: their cap
    may depend on an ancestor's available             -> delete, lazy
  - later years of the family when a member is
    transferable: carry-over reads Y's available      -> delete, lazy

  An update carries both the previous and the current request; both sides
  are processed, so a request moved between types or years refreshes both.
*/
package timeoff

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

type ChangeOp string

const (
	ChangeCreated ChangeOp = "created"
	ChangeUpdated ChangeOp = "updated"
	ChangeDeleted ChangeOp = "deleted"
)

// RequestRef is the part of a leave request that decides which balances it
// touches.
type RequestRef struct {
	LeaveTypeID LeaveTypeID
	StartDate   generic.TimePoint
}

func (r RequestRef) same(other RequestRef) bool {
	return r.LeaveTypeID == other.LeaveTypeID && r.StartDate.Year() == other.StartDate.Year()
}

// RequestChange describes one create, update or delete of a leave request.
type RequestChange struct {
	Op       ChangeOp
	WorkerID WorkerID
	Previous *RequestRef // nil on create
	Current  *RequestRef // nil on delete
}

func (c RequestChange) Validate() error {
	if c.WorkerID == "" {
		return fmt.Errorf("%w: worker_id is required", generic.ErrInvalidChange)
	}
	switch c.Op {
	case ChangeCreated:
		if c.Current == nil {
			return fmt.Errorf("%w: created requires current", generic.ErrInvalidChange)
		}
	case ChangeDeleted:
		if c.Previous == nil && c.Current == nil {
			return fmt.Errorf("%w: deleted requires previous", generic.ErrInvalidChange)
		}
	case ChangeUpdated:
		if c.Current == nil {
			return fmt.Errorf("%w: updated requires current", generic.ErrInvalidChange)
		}
	default:
		return fmt.Errorf("%w: unknown op %q", generic.ErrInvalidChange, c.Op)
	}
	for _, ref := range c.refs() {
		if ref.LeaveTypeID == "" || ref.StartDate.IsZero() {
			return fmt.Errorf("%w: leave_type_id and start_date are required", generic.ErrInvalidChange)
		}
	}
	return nil
}

func (c RequestChange) refs() []RequestRef {
	var out []RequestRef
	if c.Previous != nil {
		out = append(out, *c.Previous)
	}
	if c.Current != nil && (c.Previous == nil || !c.Current.same(*c.Previous)) {
		out = append(out, *c.Current)
	}
	return out
}

// ChangeResult lists what RequestChanged did.
type ChangeResult struct {
	Recomputed  []Snapshot
	Invalidated []Key
}

// RequestChanged refreshes the balances affected by a request change.
func (e *Engine) RequestChanged(ctx context.Context, change RequestChange) (ChangeResult, error) {
	return e.applyChange(ctx, change, true)
}

// DropChange deletes every snapshot a request change affects without
// recomputing any of them. The next read of each key recomputes it. Used
// when RequestChanged keeps failing and the change must not be lost.
func (e *Engine) DropChange(ctx context.Context, change RequestChange) (ChangeResult, error) {
	return e.applyChange(ctx, change, false)
}

func (e *Engine) applyChange(ctx context.Context, change RequestChange, recompute bool) (ChangeResult, error) {
	var res ChangeResult
	if err := change.Validate(); err != nil {
		return res, err
	}

	recomputed := make(map[Key]bool)
	invalidated := make(map[Key]bool)

	for _, ref := range change.refs() {
		year := ref.StartDate.Year()

		chain, err := Ancestry(ctx, e.catalog, ref.LeaveTypeID)
		if err != nil {
			return res, err
		}
		if len(chain) == 0 {
			// Unknown type: drop whatever might be cached for it.
			key := Key{WorkerID: change.WorkerID, LeaveTypeID: ref.LeaveTypeID, Year: year}
			if err := e.invalidateOnce(ctx, key, invalidated); err != nil {
				return res, err
			}
			continue
		}

		inChain := make(map[LeaveTypeID]bool, len(chain))
		for i := len(chain) - 1; i >= 0; i-- {
			key := Key{WorkerID: change.WorkerID, LeaveTypeID: chain[i].ID, Year: year}
			inChain[chain[i].ID] = true
			if recomputed[key] {
				continue
			}
			if !recompute {
				if err := e.invalidateOnce(ctx, key, invalidated); err != nil {
					return res, err
				}
				continue
			}
			snap, err := e.UpdateBalance(ctx, key.WorkerID, key.LeaveTypeID, key.Year)
			if err != nil {
				return res, err
			}
			recomputed[key] = true
			res.Recomputed = append(res.Recomputed, snap)
		}

		family, err := Descendants(ctx, e.catalog, chain[0].ID)
		if err != nil {
			return res, err
		}
		family = append(family, chain...)

		transferable := false
		for _, lt := range family {
			transferable = transferable || lt.Transferable
			if inChain[lt.ID] {
				continue
			}
			key := Key{WorkerID: change.WorkerID, LeaveTypeID: lt.ID, Year: year}
			if recomputed[key] {
				continue
			}
			if err := e.invalidateOnce(ctx, key, invalidated); err != nil {
				return res, err
			}
		}

		if transferable {
			for _, lt := range family {
				if err := e.snapshots.DeleteSnapshotsAfter(ctx, change.WorkerID, lt.ID, year); err != nil {
					return res, fmt.Errorf("delete snapshots of %s/%s after %d: %w", change.WorkerID, lt.ID, year, err)
				}
			}
		}
	}

	for k := range invalidated {
		res.Invalidated = append(res.Invalidated, k)
	}
	e.logger.Info("request change applied",
		zap.String("op", string(change.Op)),
		zap.Bool("recompute", recompute),
		zap.String("worker_id", string(change.WorkerID)),
		zap.Int("recomputed", len(res.Recomputed)),
		zap.Int("invalidated", len(res.Invalidated)),
	)
	return res, nil
}

// Invalidate deletes the snapshot of key. The next read recomputes it.
func (e *Engine) Invalidate(ctx context.Context, workerID WorkerID, typeID LeaveTypeID, year int) error {
	key := Key{WorkerID: workerID, LeaveTypeID: typeID, Year: year}
	if err := key.Validate(); err != nil {
		return err
	}
	return e.invalidate(ctx, key)
}

func (e *Engine) invalidateOnce(ctx context.Context, key Key, done map[Key]bool) error {
	if done[key] {
		return nil
	}
	if err := e.invalidate(ctx, key); err != nil {
		return err
	}
	done[key] = true
	return nil
}

func (e *Engine) invalidate(ctx context.Context, key Key) error {
	unlock := e.locks.Lock(key)
	defer unlock()
	if err := e.snapshots.DeleteSnapshot(ctx, key); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	return nil
}
