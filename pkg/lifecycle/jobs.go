package lifecycle

import (
	"context"
	"errors"
)

// ApplyGracePeriodExpirations suspends past_due subscriptions whose stamped
// SuspendAt has passed. The sweep only compares timestamps, it never
// recomputes grace periods, so it is idempotent and safe to run concurrently
// with live webhook ingestion. Returns how many tenants were suspended.
func (m *Machine) ApplyGracePeriodExpirations(ctx context.Context) (int, error) {
	due, err := m.storage.ListDueForSuspension(ctx, m.now(), 200)
	if err != nil {
		return 0, err
	}

	suspended := 0
	for _, sub := range due {
		if ctx.Err() != nil {
			return suspended, ctx.Err()
		}
		if err := m.Apply(ctx, sub.TenantID, EventGracePeriodExpired, ActorSystem); err != nil {
			// A racing payment_success may have already moved the tenant on.
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return suspended, err
		}
		suspended++
	}
	return suspended, nil
}

// ExpireTrials moves trial subscriptions past their TrialEndsAt to expired.
// Returns how many tenants were expired.
func (m *Machine) ExpireTrials(ctx context.Context) (int, error) {
	due, err := m.storage.ListExpiredTrials(ctx, m.now(), 200)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sub := range due {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if err := m.Apply(ctx, sub.TenantID, EventTrialExpired, ActorSystem); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}
