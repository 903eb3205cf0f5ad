package webhook

import (
	"context"
	"time"
)

// Storage defines the persistence contract for the webhook event store.
// All methods use concrete types from this package to avoid import cycles.
//
// Implementations must guarantee two things at the storage layer:
//
//   - RegisterIfAbsent is atomic on the (provider, external_event_id) unique
//     key, so two concurrent deliveries of the same event produce one row.
//   - The Mark* transitions are conditional updates that only apply when the
//     current status is one of the expected states, so two workers can never
//     double-process an event after a crash-recovery restart.
type Storage interface {
	// RegisterIfAbsent inserts the event if no row exists for its
	// (Provider, ExternalEventID) key. It returns the stored row and whether
	// this call inserted it. On conflict the existing row is returned unchanged.
	RegisterIfAbsent(ctx context.Context, ev *Event) (*Event, bool, error)

	// Get retrieves an event by id. Returns ErrEventNotFound when absent.
	Get(ctx context.Context, id string) (*Event, error)

	// GetByKey retrieves an event by its idempotency key.
	// Returns ErrEventNotFound when absent.
	GetByKey(ctx context.Context, provider, externalEventID string) (*Event, error)

	// MarkProcessing transitions pending|failed -> processing, increments
	// AttemptCount and stamps LastAttemptAt. Returns the updated row, or
	// ErrStatusConflict when the event is not in an eligible state.
	MarkProcessing(ctx context.Context, id string, at time.Time) (*Event, error)

	// MarkCompleted transitions processing -> completed, stamping CompletedAt
	// and the handler duration. Returns ErrStatusConflict when the event is
	// not processing.
	MarkCompleted(ctx context.Context, id string, at time.Time, took time.Duration) error

	// MarkFailed transitions processing -> failed (nextRetryAt set) or
	// processing -> dead_letter (nextRetryAt nil). Returns ErrStatusConflict
	// when the event is not processing.
	MarkFailed(ctx context.Context, id string, at time.Time, errMsg, errStack string, nextRetryAt *time.Time, deadLetter bool) error

	// ListForRetry returns failed (or manually re-queued pending) events whose
	// NextRetryAt is due and which still have attempts left, ordered by
	// NextRetryAt ascending.
	ListForRetry(ctx context.Context, now time.Time, limit int) ([]*Event, error)

	// ListDeadLetter returns dead-lettered events, newest first.
	ListDeadLetter(ctx context.Context, filter DLQFilter) ([]*Event, error)

	// ResetForRetry transitions dead_letter -> pending with AttemptCount 0 and
	// NextRetryAt now. Returns ErrNotDeadLettered for events outside the DLQ.
	ResetForRetry(ctx context.Context, id string, now time.Time) (*Event, error)

	// MarkDismissed transitions dead_letter -> dismissed, recording the reason.
	// Dismissal is terminal. Returns ErrNotDeadLettered for events outside the DLQ.
	MarkDismissed(ctx context.Context, id, reason string, at time.Time) error

	// ListStuckProcessing returns events stuck in processing since before the
	// cutoff. The watchdog feeds these back through the failure path.
	ListStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*Event, error)

	// DeleteCompletedBefore removes completed events older than the cutoff and
	// returns how many rows were deleted. Only completed rows are ever purged.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Stats aggregates per-provider status counts, and the average processing
	// duration of events completed inside the window ending now.
	Stats(ctx context.Context, now time.Time, window time.Duration) ([]ProviderStats, error)
}
