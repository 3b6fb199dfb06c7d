/*
scheduler.go - Periodic snapshot refresher

PURPOSE:
  Snapshots are lazy caches. Request changes reach the engine through
  /api/requests/changes or Kafka, but join dates, notice dates, extra work
  and attendance do not. The refresher periodically recomputes the
  current year's snapshot of every worker and leave type so those changes
  show up without a manual recompute.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on start
  - Each pass calls Engine.RefreshYear for the current calendar year
  - A failing key is logged by the engine and skipped

CONFIGURATION:
  - Interval: How often to refresh (default: 24 hours)
  - Enabled:  Whether the refresher is active (default: true)

USAGE:
  refresher := NewSnapshotRefresher(engine, logger)
  refresher.Start()
  // ... later
  refresher.Stop()

SEE ALSO:
  - handlers.go: TriggerRefresh endpoint (manual refresh)
  - timeoff/refresh.go: RefreshYear
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/timeoff"
)

// yearRefresher is satisfied by *timeoff.Engine.
type yearRefresher interface {
	RefreshYear(ctx context.Context, year int) (timeoff.RefreshResult, error)
}

type SnapshotRefresher struct {
	Engine   yearRefresher
	Interval time.Duration
	Enabled  bool

	logger  *zap.Logger
	now     func() time.Time
	ticker  *time.Ticker
	stop    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

func NewSnapshotRefresher(engine yearRefresher, logger ...*zap.Logger) *SnapshotRefresher {
	l := zap.L().Named("api.refresher")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("api.refresher")
	}
	return &SnapshotRefresher{
		Engine:   engine,
		Interval: 24 * time.Hour,
		Enabled:  true,
		logger:   l,
		now:      time.Now,
	}
}

// Start begins the refresher.
func (sr *SnapshotRefresher) Start() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if !sr.Enabled {
		sr.logger.Info("refresher disabled, not starting")
		return
	}
	if sr.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sr.cancel = cancel
	sr.stop = make(chan struct{})
	sr.ticker = time.NewTicker(sr.Interval)
	sr.wg.Add(1)

	go sr.run(ctx, sr.ticker, sr.stop)

	sr.logger.Info("refresher started", zap.Duration("interval", sr.Interval))
}

// Stop stops the refresher and waits for a running pass to end.
func (sr *SnapshotRefresher) Stop() {
	sr.mu.Lock()
	if sr.ticker == nil {
		sr.mu.Unlock()
		return
	}
	sr.ticker.Stop()
	sr.cancel()
	close(sr.stop)
	sr.ticker = nil
	sr.mu.Unlock()

	sr.wg.Wait()
	sr.logger.Info("refresher stopped")
}

func (sr *SnapshotRefresher) run(ctx context.Context, ticker *time.Ticker, stop <-chan struct{}) {
	defer sr.wg.Done()

	sr.refresh(ctx)

	for {
		select {
		case <-ticker.C:
			sr.refresh(ctx)
		case <-stop:
			return
		}
	}
}

func (sr *SnapshotRefresher) refresh(ctx context.Context) (timeoff.RefreshResult, error) {
	start := sr.now()
	res, err := sr.Engine.RefreshYear(ctx, start.Year())
	if err != nil {
		sr.logger.Error("refresh failed", zap.Int("year", start.Year()), zap.Error(err))
		return res, err
	}

	sr.mu.Lock()
	sr.lastRun = start
	sr.mu.Unlock()

	sr.logger.Info("refresh finished",
		zap.Int("year", res.Year),
		zap.Int("workers", res.Workers),
		zap.Int("recomputed", res.Recomputed),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", sr.now().Sub(start)),
	)
	return res, nil
}

// RunNow runs one pass synchronously.
func (sr *SnapshotRefresher) RunNow(ctx context.Context) (timeoff.RefreshResult, error) {
	return sr.refresh(ctx)
}

// LastRun returns the start time of the last successful pass.
func (sr *SnapshotRefresher) LastRun() time.Time {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.lastRun
}

// NextRunTime returns when the next pass is due.
func (sr *SnapshotRefresher) NextRunTime() time.Time {
	last := sr.LastRun()
	if last.IsZero() {
		return sr.now()
	}
	return last.Add(sr.Interval)
}
