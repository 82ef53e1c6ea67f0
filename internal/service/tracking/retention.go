package tracking

import (
	"context"
	"time"

	"dmrelay/pkg/metrics"

	"go.uber.org/zap"
)

const minPruneInterval = 5 * time.Minute

// PruneInterval is half the window, but at least five minutes.
func PruneInterval(window time.Duration) time.Duration {
	if half := window / 2; half > minPruneInterval {
		return half
	}
	return minPruneInterval
}

// PruneFunc prunes tracking state as of now. Callers pass a function that
// holds the same serialization as message handling.
type PruneFunc func(ctx context.Context, now time.Time) PruneResult

// Retention prunes tracking entries at startup and on a fixed interval.
type Retention struct {
	prune    PruneFunc
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewRetention(prune PruneFunc, interval time.Duration, logger *zap.Logger) *Retention {
	return &Retention{
		prune:    prune,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces time.Now, for tests.
func (r *Retention) WithClock(now func() time.Time) *Retention {
	r.now = now
	return r
}

func (r *Retention) Interval() time.Duration { return r.interval }

// RunOnce prunes immediately.
func (r *Retention) RunOnce(ctx context.Context) PruneResult {
	start := time.Now()
	res := r.prune(ctx, r.now())
	metrics.RecordPrune(res.KeptIgnored, res.KeptCollected, time.Since(start))

	r.logger.Info("Cleaned up tracking data",
		zap.Int("kept_ignored", res.KeptIgnored),
		zap.Int("kept_collected", res.KeptCollected),
		zap.Int("removed_ignored", res.RemovedIgnored),
		zap.Int("removed_collected", res.RemovedCollected),
	)
	return res
}

// Start prunes every interval until ctx is cancelled. It blocks.
func (r *Retention) Start(ctx context.Context) {
	r.logger.Info("Started periodic cleanup task", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Periodic cleanup task stopped")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			r.RunOnce(ctx)
		}
	}
}
