package webhook

import (
	"context"
	"time"
)

// DefaultStatsWindow is the rolling window for operational statistics.
const DefaultStatsWindow = 24 * time.Hour

// DLQ provides operator access to permanently failed events: listing,
// manual retry and terminal dismissal.
type DLQ struct {
	storage Storage
	logger  Logger
	now     func() time.Time
}

// NewDLQ creates a dead letter queue manager over the given storage.
func NewDLQ(storage Storage, logger Logger) (*DLQ, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &DLQ{
		storage: storage,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// List returns dead-lettered events matching the filter, newest first.
func (q *DLQ) List(ctx context.Context, filter DLQFilter) ([]*Event, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return q.storage.ListDeadLetter(ctx, filter)
}

// Retry puts a dead-lettered event back on the queue: status pending,
// attempt counter reset, next retry due immediately.
func (q *DLQ) Retry(ctx context.Context, eventID string) (*Event, error) {
	ev, err := q.storage.ResetForRetry(ctx, eventID, q.now())
	if err != nil {
		return nil, err
	}

	q.logger.Info("dead-lettered event queued for retry",
		Field{Key: "event_id", Value: ev.ID},
		Field{Key: "provider", Value: ev.Provider},
		Field{Key: "event_type", Value: ev.EventType},
	)
	return ev, nil
}

// Dismiss permanently discards a dead-lettered event. There is no undo.
func (q *DLQ) Dismiss(ctx context.Context, eventID, reason string) error {
	if err := q.storage.MarkDismissed(ctx, eventID, reason, q.now()); err != nil {
		return err
	}

	q.logger.Warn("dead-lettered event dismissed",
		Field{Key: "event_id", Value: eventID},
		Field{Key: "reason", Value: reason},
	)
	return nil
}

// Stats aggregates per-provider status counts and average processing time
// over the rolling window (DefaultStatsWindow when zero).
func (q *DLQ) Stats(ctx context.Context, window time.Duration) ([]ProviderStats, error) {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	return q.storage.Stats(ctx, q.now(), window)
}
