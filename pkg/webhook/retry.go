package webhook

import (
	"context"
	"time"
)

// backoffLadder is the fixed retry schedule: 1m, 5m, 15m, 1h, 4h.
var backoffLadder = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
	14400 * time.Second,
}

// BackoffDelay returns the delay before the next retry after the given
// zero-based failed attempt. Attempts past the end of the ladder reuse the
// last rung, though in practice they dead-letter first.
func BackoffDelay(failedAttempt int) time.Duration {
	if failedAttempt < 0 {
		failedAttempt = 0
	}
	if failedAttempt >= len(backoffLadder) {
		failedAttempt = len(backoffLadder) - 1
	}
	return backoffLadder[failedAttempt]
}

// Scheduler records handler failures: it either schedules the next retry on
// the backoff ladder or escalates the event to the dead letter queue once
// MaxAttempts is exhausted.
type Scheduler struct {
	storage Storage
	logger  Logger
	metrics Metrics
	now     func() time.Time
}

// NewScheduler creates a retry scheduler over the given storage.
func NewScheduler(storage Storage, logger Logger, metrics Metrics) (*Scheduler, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}
	if logger == nil {
		logger = &NoopLogger{}
	}
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &Scheduler{
		storage: storage,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// RecordFailure moves an in-flight event to failed or dead_letter.
// AttemptCount was already bumped when the event was marked processing, so
// ev.AttemptCount is the number of the attempt that just failed (1-based).
func (s *Scheduler) RecordFailure(ctx context.Context, ev *Event, cause error, stack string) error {
	now := s.now()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if ev.AttemptCount >= ev.MaxAttempts {
		if err := s.storage.MarkFailed(ctx, ev.ID, now, msg, stack, nil, true); err != nil {
			return err
		}
		s.metrics.RecordDeadLetter(ev.Provider, ev.EventType)
		s.logger.Error("webhook event dead-lettered",
			Field{Key: "event_id", Value: ev.ID},
			Field{Key: "provider", Value: ev.Provider},
			Field{Key: "event_type", Value: ev.EventType},
			Field{Key: "attempts", Value: ev.AttemptCount},
			Field{Key: "error", Value: msg},
		)
		return nil
	}

	delay := BackoffDelay(ev.AttemptCount - 1)
	next := now.Add(delay)
	if err := s.storage.MarkFailed(ctx, ev.ID, now, msg, stack, &next, false); err != nil {
		return err
	}

	s.metrics.RecordRetryScheduled(ev.Provider, ev.AttemptCount, delay)
	s.logger.Warn("webhook event failed, retry scheduled",
		Field{Key: "event_id", Value: ev.ID},
		Field{Key: "provider", Value: ev.Provider},
		Field{Key: "attempt", Value: ev.AttemptCount},
		Field{Key: "next_retry_at", Value: next},
		Field{Key: "error", Value: msg},
	)
	return nil
}
