package lifecycle

import (
	"context"
	"time"
)

// Storage defines persistence for subscriptions and their audit trail.
//
// Mutate must serialize concurrent transitions for the same tenant: the
// subscription is loaded under a per-tenant (or row-level) lock, the callback
// mutates it, and the save plus audit append land atomically. Two webhooks
// racing for the same tenant therefore observe each other's writes.
type Storage interface {
	// GetCurrentForTenant returns the tenant's current subscription (most
	// recent by CreatedAt). Returns ErrSubscriptionNotFound when absent.
	GetCurrentForTenant(ctx context.Context, tenantID string) (*Subscription, error)

	// Create inserts a new subscription row.
	Create(ctx context.Context, sub *Subscription) error

	// Mutate loads the tenant's current subscription under a lock, applies fn
	// and persists the result. When fn returns a non-nil audit entry it is
	// appended in the same transaction. When fn returns an error nothing is
	// written and the error is passed through.
	Mutate(ctx context.Context, tenantID string, fn func(sub *Subscription) (*AuditEntry, error)) error

	// ListAudit returns a tenant's audit trail, newest first.
	ListAudit(ctx context.Context, tenantID string, limit int) ([]*AuditEntry, error)

	// ListDueForSuspension returns past_due subscriptions whose SuspendAt has
	// passed.
	ListDueForSuspension(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)

	// ListExpiredTrials returns trial subscriptions whose TrialEndsAt has
	// passed.
	ListExpiredTrials(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
}

// BlockStatusCache caches the tenant-block predicate, which is consulted on
// every tenant-scoped request. Implementations must support explicit
// invalidation; the machine invalidates on every transition.
type BlockStatusCache interface {
	Get(ctx context.Context, tenantID string) (blocked bool, ok bool, err error)
	Set(ctx context.Context, tenantID string, blocked bool) error
	Invalidate(ctx context.Context, tenantID string) error
}
