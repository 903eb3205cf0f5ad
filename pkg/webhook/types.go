package webhook

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a stored webhook event.
type Status string

const (
	// StatusPending means the event is registered but not yet picked up.
	StatusPending Status = "pending"
	// StatusProcessing means a worker is currently handling the event.
	StatusProcessing Status = "processing"
	// StatusCompleted means the event was handled successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the last attempt failed and a retry is scheduled.
	StatusFailed Status = "failed"
	// StatusDeadLetter means the event exhausted its attempts and needs manual intervention.
	StatusDeadLetter Status = "dead_letter"
	// StatusDismissed means an operator permanently discarded the event.
	StatusDismissed Status = "dismissed"
)

// DefaultMaxAttempts is the number of delivery attempts before dead-lettering.
const DefaultMaxAttempts = 5

// Event is the durable record of an inbound provider webhook.
// The (Provider, ExternalEventID) pair is the idempotency key: exactly one
// row exists per unique provider delivery, no matter how often it is redelivered.
type Event struct {
	ID              string
	Provider        string
	ExternalEventID string
	EventType       string

	// TenantID is empty when the payload could not be correlated to a tenant.
	TenantID string

	Payload json.RawMessage

	Status       Status
	AttemptCount int
	MaxAttempts  int

	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	CompletedAt   *time.Time

	ErrorMessage     string
	ErrorStack       string
	ProcessingTimeMs int64

	// DismissReason is set when an operator dismisses a dead-lettered event.
	DismissReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanRetry reports whether the event has remaining automatic attempts.
func (e *Event) CanRetry() bool {
	return e.AttemptCount < e.MaxAttempts
}

// Inbound is a provider webhook after boundary validation: the dispatcher
// only needs these fields, the raw payload stays opaque.
type Inbound struct {
	Provider        string
	ExternalEventID string
	EventType       string

	// TenantID is optional; some provider events are not tenant-scoped.
	TenantID string

	Payload    json.RawMessage
	OccurredAt time.Time
}

// Reason explains an idempotency decision.
type Reason string

const (
	ReasonNewEvent            Reason = "new_event"
	ReasonRetry               Reason = "retry"
	ReasonAlreadyCompleted    Reason = "already_completed"
	ReasonCurrentlyProcessing Reason = "currently_processing"
	ReasonDeadLetter          Reason = "dead_letter"
	ReasonDismissed           Reason = "dismissed"
	ReasonMaxAttemptsReached  Reason = "max_attempts_reached"
)

// Decision is the outcome of an idempotency check.
type Decision struct {
	// Process is true when the event should be handed to a handler.
	Process bool
	Reason  Reason

	// EventID is the stored event's id when a row exists.
	EventID string
}

// Result reports the outcome of a single Dispatch call.
type Result struct {
	EventID string

	// Processed is true when a handler ran to completion.
	Processed bool

	// ShortCircuited is true when the idempotency guard skipped processing.
	// Short circuits are acknowledged to the provider, never errors.
	ShortCircuited bool
	Reason         Reason
}

// DLQFilter narrows ListDeadLetter results. Zero values mean no filtering.
type DLQFilter struct {
	Provider  string
	EventType string
	TenantID  string
	Limit     int
}

// ProviderStats aggregates event counts per status for one provider plus the
// average handler duration of completed events inside the stats window.
type ProviderStats struct {
	Provider        string
	Counts          map[Status]int
	AvgProcessingMs float64
}
