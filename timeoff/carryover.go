package timeoff

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// DefaultCarryOverFloorYear bounds carry-over for workers without a join date.
const DefaultCarryOverFloorYear = 1970

// carryOverFloor is the earliest year whose balance may be carried forward.
func carryOverFloor(w Worker, floorYear int) int {
	if y, ok := w.JoinYear(); ok {
		return y
	}
	return floorYear
}

// carryOver returns the unused balance of the year before year for the same
// worker and type.
//
// The prior year is resolved blocked: it does not carry over itself, so a
// balance moves forward exactly one hop and the walk never goes further back
// than year-1. Nothing is carried from before the floor. Unlimited, zero and
// negative prior balances carry nothing.
func (r *resolution) carryOver(ctx context.Context, lt LeaveType, year int) (decimal.Decimal, error) {
	prev := year - 1
	if prev < carryOverFloor(r.worker, r.engine.floorYear) || prev <= 0 {
		return decimal.Zero, nil
	}

	prior, found, err := r.compute(ctx, lt.ID, prev, true)
	if err != nil {
		return decimal.Zero, err
	}
	if !found || prior.Available == nil {
		return decimal.Zero, nil
	}
	return generic.NonNegative(*prior.Available), nil
}
