package lifecycle

import "time"

// Status represents a subscription's lifecycle state.
type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transitions are allowed from the status.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// Event names a lifecycle trigger. Events come from payment-provider
// webhooks or from scheduled sweeps.
type Event string

const (
	EventPaymentSucceeded      Event = "payment_success"
	EventPaymentFailed         Event = "payment_failed"
	EventTrialExpired          Event = "trial_expired"
	EventGracePeriodExpired    Event = "grace_period_expired"
	EventCancellationRequested Event = "cancellation_requested"
)

// BillingCycle is the subscription's billing interval.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// DefaultGracePeriodDays is the window after a failed payment during which
// service continues before suspension.
const DefaultGracePeriodDays = 7

// Subscription is a tenant's billing record. A tenant has exactly one
// current subscription (most recent by CreatedAt); cancellation is a status,
// never a deletion.
type Subscription struct {
	ID       string
	TenantID string
	PlanID   string

	Status Status

	StartedAt   time.Time
	TrialEndsAt *time.Time

	// Period boundaries are inclusive-start, exclusive-end.
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time

	GracePeriodDays int

	// SuspendAt is stamped once when payment fails: the moment the grace
	// period runs out. The suspension sweep only compares against it, it
	// never recomputes.
	SuspendAt *time.Time

	SuspendedAt *time.Time
	CancelledAt *time.Time

	BillingCycle BillingCycle
	AmountCents  int64

	LastPaymentAt *time.Time
	NextBillingAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuditEntry is a write-once record of a lifecycle transition, kept for
// compliance traceability. Entries are appended, never mutated.
type AuditEntry struct {
	ID             string
	TenantID       string
	SubscriptionID string
	Action         Event
	OldStatus      Status
	NewStatus      Status

	// Actor is "system" for sweeps and webhook-driven transitions, or an
	// operator id for manual interventions.
	Actor string

	At time.Time
}

// ActorSystem is the audit actor for automatic transitions.
const ActorSystem = "system"
