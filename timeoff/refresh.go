package timeoff

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RefreshResult summarizes one refresh pass.
type RefreshResult struct {
	Year        int
	Workers     int
	Recomputed  int
	Failed      int
	FirstFailed error
}

// RefreshYear recomputes the snapshot of every worker and leave type for
// year. Lazily cached balances miss changes that are not request changes
// (join or notice dates, extra work, attendance); a periodic pass picks them
// up. A failing key is logged and skipped.
func (e *Engine) RefreshYear(ctx context.Context, year int) (RefreshResult, error) {
	res := RefreshResult{Year: year}

	lister, ok := e.src.Workers.(WorkerLister)
	if !ok {
		return res, fmt.Errorf("worker directory %T cannot list workers", e.src.Workers)
	}
	workers, err := lister.ListWorkers(ctx)
	if err != nil {
		return res, fmt.Errorf("list workers: %w", err)
	}
	types, err := e.ListLeaveTypes(ctx)
	if err != nil {
		return res, fmt.Errorf("list leave types: %w", err)
	}

	res.Workers = len(workers)
	for _, w := range workers {
		for _, lt := range types {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if _, err := e.UpdateBalance(ctx, w.ID, lt.ID, year); err != nil {
				res.Failed++
				if res.FirstFailed == nil {
					res.FirstFailed = err
				}
				e.logger.Warn("refresh failed",
					zap.String("worker_id", string(w.ID)),
					zap.String("leave_type_id", string(lt.ID)),
					zap.Int("year", year),
					zap.Error(err),
				)
				continue
			}
			res.Recomputed++
		}
	}
	return res, nil
}
