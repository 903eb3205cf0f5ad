package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/salonflow/billingkit/pkg/lifecycle"
)

const subscriptionColumns = `id, tenant_id, plan_id, status, started_at, trial_ends_at,
	current_period_start, current_period_end, grace_period_days, suspend_at, suspended_at,
	cancelled_at, billing_cycle, amount_cents, last_payment_at, next_billing_at,
	created_at, updated_at`

func scanSubscription(row pgx.Row) (*lifecycle.Subscription, error) {
	var sub lifecycle.Subscription
	var status, cycle string

	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.PlanID, &status, &sub.StartedAt, &sub.TrialEndsAt,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.GracePeriodDays, &sub.SuspendAt, &sub.SuspendedAt,
		&sub.CancelledAt, &cycle, &sub.AmountCents, &sub.LastPaymentAt, &sub.NextBillingAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Status = lifecycle.Status(status)
	sub.BillingCycle = lifecycle.BillingCycle(cycle)
	return &sub, nil
}

// GetCurrentForTenant implements lifecycle.Storage.
func (s *Storage) GetCurrentForTenant(ctx context.Context, tenantID string) (*lifecycle.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE tenant_id = $1
			ORDER BY created_at DESC
			LIMIT 1`, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, lifecycle.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// Create implements lifecycle.Storage.
func (s *Storage) Create(ctx context.Context, sub *lifecycle.Subscription) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		sub.ID, sub.TenantID, sub.PlanID, string(sub.Status), sub.StartedAt, sub.TrialEndsAt,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.GracePeriodDays, sub.SuspendAt, sub.SuspendedAt,
		sub.CancelledAt, string(sub.BillingCycle), sub.AmountCents, sub.LastPaymentAt, sub.NextBillingAt,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// Mutate implements lifecycle.Storage. The tenant's current row is locked
// with SELECT ... FOR UPDATE for the length of the transaction, so two
// webhooks racing for the same tenant serialize and each sees the other's
// write. The audit append lands in the same transaction.
func (s *Storage) Mutate(ctx context.Context, tenantID string, fn func(sub *lifecycle.Subscription) (*lifecycle.AuditEntry, error)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sub, err := scanSubscription(tx.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE tenant_id = $1
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE`, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return lifecycle.ErrSubscriptionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock subscription: %w", err)
	}

	audit, err := fn(sub)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE subscriptions
			SET plan_id = $2, status = $3, trial_ends_at = $4,
				current_period_start = $5, current_period_end = $6,
				grace_period_days = $7, suspend_at = $8, suspended_at = $9,
				cancelled_at = $10, billing_cycle = $11, amount_cents = $12,
				last_payment_at = $13, next_billing_at = $14, updated_at = $15
			WHERE id = $1`,
		sub.ID, sub.PlanID, string(sub.Status), sub.TrialEndsAt,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.GracePeriodDays, sub.SuspendAt, sub.SuspendedAt,
		sub.CancelledAt, string(sub.BillingCycle), sub.AmountCents,
		sub.LastPaymentAt, sub.NextBillingAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}

	if audit != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO subscription_audit
				(id, tenant_id, subscription_id, action, old_status, new_status, actor, at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			audit.ID, audit.TenantID, audit.SubscriptionID, string(audit.Action),
			string(audit.OldStatus), string(audit.NewStatus), audit.Actor, audit.At,
		)
		if err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

// ListAudit implements lifecycle.Storage.
func (s *Storage) ListAudit(ctx context.Context, tenantID string, limit int) ([]*lifecycle.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, subscription_id, action, old_status, new_status, actor, at
			FROM subscription_audit
			WHERE tenant_id = $1
			ORDER BY at DESC
			LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit trail: %w", err)
	}
	defer rows.Close()

	var entries []*lifecycle.AuditEntry
	for rows.Next() {
		var e lifecycle.AuditEntry
		var action, oldStatus, newStatus string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.SubscriptionID, &action, &oldStatus, &newStatus, &e.Actor, &e.At); err != nil {
			return nil, err
		}
		e.Action = lifecycle.Event(action)
		e.OldStatus = lifecycle.Status(oldStatus)
		e.NewStatus = lifecycle.Status(newStatus)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListDueForSuspension implements lifecycle.Storage.
func (s *Storage) ListDueForSuspension(ctx context.Context, now time.Time, limit int) ([]*lifecycle.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE status = 'past_due' AND suspend_at IS NOT NULL AND suspend_at <= $1
			ORDER BY suspend_at ASC
			LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions due for suspension: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListExpiredTrials implements lifecycle.Storage.
func (s *Storage) ListExpiredTrials(ctx context.Context, now time.Time, limit int) ([]*lifecycle.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE status = 'trial' AND trial_ends_at IS NOT NULL AND trial_ends_at <= $1
			ORDER BY trial_ends_at ASC
			LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired trials: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows pgx.Rows) ([]*lifecycle.Subscription, error) {
	var subs []*lifecycle.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}
