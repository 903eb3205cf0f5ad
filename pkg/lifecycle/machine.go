package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MachineConfig holds state machine configuration.
type MachineConfig struct {
	// Storage is the subscription backend (required).
	Storage Storage

	// Cache optionally caches the block predicate. The machine invalidates
	// it on every transition.
	Cache BlockStatusCache

	// Logger is used for structured logging (default: no logging).
	Logger zerolog.Logger

	// Now overrides the clock, mainly for tests (default: time.Now UTC).
	Now func() time.Time
}

// Machine drives subscription status transitions. Every transition is
// validated against the lifecycle table, stamps its side effects and appends
// a write-once audit entry. Events not listed for the current status are
// rejected with ErrInvalidTransition so a duplicate or misrouted webhook can
// never silently move a subscription to the wrong state.
type Machine struct {
	storage Storage
	cache   BlockStatusCache
	logger  zerolog.Logger
	now     func() time.Time
}

// NewMachine creates a lifecycle state machine.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.Storage == nil {
		return nil, ErrStorageUnavailable
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Machine{
		storage: cfg.Storage,
		cache:   cfg.Cache,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}, nil
}

// Apply runs one lifecycle event against the tenant's current subscription.
// The transition happens under the storage's per-tenant lock, so concurrent
// webhooks for the same tenant serialize. Actor is recorded in the audit
// trail; pass ActorSystem for automatic transitions.
func (m *Machine) Apply(ctx context.Context, tenantID string, event Event, actor string) error {
	now := m.now()

	err := m.storage.Mutate(ctx, tenantID, func(sub *Subscription) (*AuditEntry, error) {
		oldStatus := sub.Status
		if err := m.transition(sub, event, now); err != nil {
			return nil, err
		}
		sub.UpdatedAt = now

		return &AuditEntry{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			SubscriptionID: sub.ID,
			Action:         event,
			OldStatus:      oldStatus,
			NewStatus:      sub.Status,
			Actor:          actor,
			At:             now,
		}, nil
	})
	if err != nil {
		return err
	}

	if m.cache != nil {
		if cerr := m.cache.Invalidate(ctx, tenantID); cerr != nil {
			m.logger.Warn().Err(cerr).Str("tenant_id", tenantID).Msg("failed to invalidate block-status cache")
		}
	}

	m.logger.Info().
		Str("tenant_id", tenantID).
		Str("event", string(event)).
		Str("actor", actor).
		Msg("subscription transition applied")
	return nil
}

// transition mutates the subscription in place per the lifecycle table.
func (m *Machine) transition(sub *Subscription, event Event, now time.Time) error {
	if event == EventCancellationRequested {
		if sub.Status.Terminal() {
			return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, sub.Status)
		}
		sub.Status = StatusCancelled
		sub.CancelledAt = &now
		return nil
	}

	switch sub.Status {
	case StatusTrial:
		switch event {
		case EventTrialExpired:
			sub.Status = StatusExpired
			return nil
		case EventPaymentSucceeded:
			sub.Status = StatusActive
			sub.TrialEndsAt = nil
			sub.CurrentPeriodStart = now
			sub.CurrentPeriodEnd = advancePeriod(now, sub.BillingCycle)
			sub.LastPaymentAt = &now
			next := sub.CurrentPeriodEnd
			sub.NextBillingAt = &next
			return nil
		}

	case StatusActive:
		if event == EventPaymentFailed {
			sub.Status = StatusPastDue
			grace := sub.GracePeriodDays
			if grace <= 0 {
				grace = DefaultGracePeriodDays
			}
			suspendAt := now.AddDate(0, 0, grace)
			sub.SuspendAt = &suspendAt
			return nil
		}

	case StatusPastDue:
		switch event {
		case EventPaymentSucceeded:
			sub.Status = StatusActive
			sub.SuspendAt = nil
			sub.CurrentPeriodEnd = advancePeriod(sub.CurrentPeriodEnd, sub.BillingCycle)
			sub.LastPaymentAt = &now
			next := sub.CurrentPeriodEnd
			sub.NextBillingAt = &next
			return nil
		case EventGracePeriodExpired:
			sub.Status = StatusSuspended
			sub.SuspendedAt = &now
			return nil
		}

	case StatusSuspended:
		if event == EventPaymentSucceeded {
			sub.Status = StatusActive
			sub.SuspendedAt = nil
			sub.SuspendAt = nil
			sub.CurrentPeriodStart = now
			sub.CurrentPeriodEnd = advancePeriod(now, sub.BillingCycle)
			sub.LastPaymentAt = &now
			next := sub.CurrentPeriodEnd
			sub.NextBillingAt = &next
			return nil
		}
	}

	return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, sub.Status)
}

// ShouldBlock is the single authoritative tenant-access predicate: blocked
// when the subscription is expired, suspended or cancelled, or when a trial
// has run out.
func ShouldBlock(sub *Subscription, now time.Time) bool {
	switch sub.Status {
	case StatusExpired, StatusSuspended, StatusCancelled:
		return true
	case StatusTrial:
		return sub.TrialEndsAt != nil && now.After(*sub.TrialEndsAt)
	default:
		return false
	}
}

// BlockStatus reports whether the tenant's requests must be blocked,
// consulting the cache when configured. Tenants without any subscription are
// blocked.
func (m *Machine) BlockStatus(ctx context.Context, tenantID string) (bool, error) {
	if m.cache != nil {
		blocked, ok, err := m.cache.Get(ctx, tenantID)
		if err != nil {
			m.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("block-status cache read failed")
		} else if ok {
			return blocked, nil
		}
	}

	sub, err := m.storage.GetCurrentForTenant(ctx, tenantID)
	if err != nil {
		if err == ErrSubscriptionNotFound {
			return true, nil
		}
		return false, err
	}

	blocked := ShouldBlock(sub, m.now())

	if m.cache != nil {
		if err := m.cache.Set(ctx, tenantID, blocked); err != nil {
			m.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("block-status cache write failed")
		}
	}
	return blocked, nil
}

// Current returns the tenant's current subscription.
func (m *Machine) Current(ctx context.Context, tenantID string) (*Subscription, error) {
	return m.storage.GetCurrentForTenant(ctx, tenantID)
}

// Audit returns the tenant's transition history, newest first.
func (m *Machine) Audit(ctx context.Context, tenantID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return m.storage.ListAudit(ctx, tenantID, limit)
}
