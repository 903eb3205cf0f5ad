package usage

import (
	"context"
	"time"
)

// Storage defines persistence for usage counters.
//
// AddDelta must be a single atomic upsert (read-modify-write in one
// statement) so concurrent tenant actions never lose updates, and must clamp
// the resulting count at zero.
type Storage interface {
	// AddDelta atomically adds delta (may be negative) to the counter,
	// creating the row when absent and clamping at zero. Returns the new count.
	AddDelta(ctx context.Context, tenantID string, metric Metric, periodKey string, delta int, at time.Time) (int, error)

	// GetCounter returns the counter row, or nil when no row exists (not an error).
	GetCounter(ctx context.Context, tenantID string, metric Metric, periodKey string) (*Counter, error)

	// SetCount overwrites the counter's count. Used by reconciliation, where
	// recomputation from the source tables always wins.
	SetCount(ctx context.Context, tenantID string, metric Metric, periodKey string, count int, at time.Time) error

	// EnsurePeriodRow creates a zero-count row for the period if absent,
	// caching the plan limit. Existing rows are left untouched.
	EnsurePeriodRow(ctx context.Context, tenantID string, metric Metric, periodKey string, limit *int, at time.Time) error
}

// PlanResolver looks up plan limits from the (external) plan catalog.
// A limit of Unlimited (-1), or an absent metric, means no cap.
type PlanResolver interface {
	PlanLimits(ctx context.Context, planID string) (map[Metric]int, error)
}

// TenantPlans resolves a tenant's current plan id. Backed by the (external)
// tenant catalog or by the lifecycle subscription record.
type TenantPlans interface {
	CurrentPlanID(ctx context.Context, tenantID string) (string, error)
}
