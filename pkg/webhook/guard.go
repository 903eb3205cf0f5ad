package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Guard makes idempotency decisions for inbound webhook deliveries.
// The decision itself is read-only; registration of new events goes through
// Register, which relies on the storage layer's atomic insert-or-get.
type Guard struct {
	storage Storage
	now     func() time.Time
}

// NewGuard creates an idempotency guard over the given storage.
func NewGuard(storage Storage) (*Guard, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}
	return &Guard{
		storage: storage,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// ShouldProcess decides whether an event keyed by (provider, externalEventID)
// should be handed to a handler. It never mutates state.
func (g *Guard) ShouldProcess(ctx context.Context, provider, externalEventID string) (Decision, error) {
	ev, err := g.storage.GetByKey(ctx, provider, externalEventID)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return Decision{Process: true, Reason: ReasonNewEvent}, nil
		}
		return Decision{}, err
	}

	return decide(ev), nil
}

// decide maps a stored event's state to an idempotency decision.
func decide(ev *Event) Decision {
	d := Decision{EventID: ev.ID}

	switch ev.Status {
	case StatusCompleted:
		d.Reason = ReasonAlreadyCompleted
	case StatusProcessing:
		d.Reason = ReasonCurrentlyProcessing
	case StatusDeadLetter:
		d.Reason = ReasonDeadLetter
	case StatusDismissed:
		d.Reason = ReasonDismissed
	case StatusFailed:
		if ev.CanRetry() {
			d.Process = true
			d.Reason = ReasonRetry
		} else {
			d.Reason = ReasonMaxAttemptsReached
		}
	default: // pending
		d.Process = true
		d.Reason = ReasonRetry
	}

	return d
}

// Register stores a new event for the inbound delivery, or returns the
// existing row when the idempotency key is already taken. The second return
// value reports whether this call created the row.
func (g *Guard) Register(ctx context.Context, in Inbound) (*Event, bool, error) {
	now := g.now()

	ev := &Event{
		ID:              uuid.NewString(),
		Provider:        in.Provider,
		ExternalEventID: in.ExternalEventID,
		EventType:       in.EventType,
		TenantID:        in.TenantID,
		Payload:         in.Payload,
		Status:          StatusPending,
		MaxAttempts:     DefaultMaxAttempts,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	return g.storage.RegisterIfAbsent(ctx, ev)
}
