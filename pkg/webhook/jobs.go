package webhook

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultRetentionDays is how long completed events are kept before cleanup.
const DefaultRetentionDays = 90

// DefaultStuckAfter is how long an event may sit in processing before the
// watchdog reclaims it as a failed attempt.
const DefaultStuckAfter = 10 * time.Minute

// ProcessRetryQueue drains due retries: failed events whose NextRetryAt has
// passed are re-run through their handlers. It returns how many events were
// picked up. Individual failures are recorded through the normal retry path
// and do not abort the batch.
func (d *Dispatcher) ProcessRetryQueue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	due, err := d.storage.ListForRetry(ctx, d.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list retry queue: %w", err)
	}

	for _, ev := range due {
		if ctx.Err() != nil {
			return len(due), ctx.Err()
		}
		if _, err := d.process(ctx, ev); err != nil {
			// Already recorded via the scheduler; keep draining.
			d.logger.Debug("retry attempt failed",
				Field{Key: "event_id", Value: ev.ID},
				Field{Key: "error", Value: err.Error()},
			)
		}
	}

	return len(due), nil
}

// ReclaimStuck finds events stuck in processing past the cutoff (a worker
// crashed mid-handling) and records them as failed attempts so the retry
// ladder takes over.
func (d *Dispatcher) ReclaimStuck(ctx context.Context, stuckAfter time.Duration) (int, error) {
	if stuckAfter <= 0 {
		stuckAfter = DefaultStuckAfter
	}

	cutoff := d.now().Add(-stuckAfter)
	stuck, err := d.storage.ListStuckProcessing(ctx, cutoff, 100)
	if err != nil {
		return 0, fmt.Errorf("failed to list stuck events: %w", err)
	}

	reclaimed := 0
	for _, ev := range stuck {
		cause := fmt.Errorf("processing timed out after %s", stuckAfter)
		if err := d.scheduler.RecordFailure(ctx, ev, cause, ""); err != nil {
			if err == ErrStatusConflict {
				// The worker finished after all.
				continue
			}
			return reclaimed, err
		}
		reclaimed++
	}

	if reclaimed > 0 {
		d.metrics.RecordReclaimed(reclaimed)
		d.logger.Warn("reclaimed stuck webhook events", Field{Key: "count", Value: reclaimed})
	}
	return reclaimed, nil
}

// CleanupCompleted deletes completed events older than the retention window.
func (d *Dispatcher) CleanupCompleted(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		daysToKeep = DefaultRetentionDays
	}
	cutoff := d.now().AddDate(0, 0, -daysToKeep)
	return d.storage.DeleteCompletedBefore(ctx, cutoff)
}

// RunnerConfig configures the background job runner.
type RunnerConfig struct {
	// Dispatcher drives retries, the watchdog and cleanup (required).
	Dispatcher *Dispatcher

	// RetryInterval is how often the retry queue is drained (default: 1 minute).
	RetryInterval time.Duration

	// RetryBatchSize caps events per retry pass (default: 50).
	RetryBatchSize int

	// WatchdogInterval is how often stuck events are reclaimed (default: 5 minutes).
	WatchdogInterval time.Duration

	// StuckAfter is the processing timeout (default: DefaultStuckAfter).
	StuckAfter time.Duration

	// CleanupInterval is how often old completed events are purged (default: 24h).
	CleanupInterval time.Duration

	// RetentionDays is the completed-event retention window (default: DefaultRetentionDays).
	RetentionDays int

	// Logger is used for structured logging (default: the dispatcher's logger).
	Logger Logger
}

// Runner periodically drives the engine's scheduled jobs. All jobs are
// idempotent and safe to run concurrently with live webhook ingestion, and
// with other runner replicas.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner creates a background job runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Dispatcher == nil {
		return nil, ErrStorageUnavailable
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Minute
	}
	if cfg.RetryBatchSize <= 0 {
		cfg.RetryBatchSize = 50
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = 5 * time.Minute
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = DefaultStuckAfter
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 24 * time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.Logger == nil {
		cfg.Logger = cfg.Dispatcher.logger
	}
	return &Runner{cfg: cfg}, nil
}

// Run blocks until the context is cancelled, driving all jobs on their
// intervals. It returns the context error on shutdown.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.loop(ctx, r.cfg.RetryInterval, func(ctx context.Context) {
			if _, err := r.cfg.Dispatcher.ProcessRetryQueue(ctx, r.cfg.RetryBatchSize); err != nil {
				r.cfg.Logger.Error("retry queue pass failed", Field{Key: "error", Value: err.Error()})
			}
		})
	})

	g.Go(func() error {
		return r.loop(ctx, r.cfg.WatchdogInterval, func(ctx context.Context) {
			if _, err := r.cfg.Dispatcher.ReclaimStuck(ctx, r.cfg.StuckAfter); err != nil {
				r.cfg.Logger.Error("watchdog pass failed", Field{Key: "error", Value: err.Error()})
			}
		})
	})

	g.Go(func() error {
		return r.loop(ctx, r.cfg.CleanupInterval, func(ctx context.Context) {
			deleted, err := r.cfg.Dispatcher.CleanupCompleted(ctx, r.cfg.RetentionDays)
			if err != nil {
				r.cfg.Logger.Error("cleanup pass failed", Field{Key: "error", Value: err.Error()})
				return
			}
			if deleted > 0 {
				r.cfg.Logger.Info("purged old completed events", Field{Key: "deleted", Value: deleted})
			}
		})
	})

	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, interval time.Duration, pass func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pass(ctx)
		}
	}
}
