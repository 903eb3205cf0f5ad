package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// MeterConfig holds usage meter configuration.
type MeterConfig struct {
	// Storage is the counter backend (required).
	Storage Storage

	// Plans resolves plan limits (required for limit checks and downgrades).
	Plans PlanResolver

	// Tenants resolves a tenant's current plan id (required for limit checks).
	Tenants TenantPlans

	// Logger is used for structured logging (default: no logging).
	Logger zerolog.Logger

	// Now overrides the clock, mainly for tests (default: time.Now UTC).
	Now func() time.Time
}

// Meter tracks denormalized per-tenant usage counters and compares them
// against plan limits. Counters tolerate drift; Reconcile corrects them from
// source-of-truth counts, and recomputation always wins.
type Meter struct {
	storage Storage
	plans   PlanResolver
	tenants TenantPlans
	logger  zerolog.Logger
	now     func() time.Time
}

// NewMeter creates a usage meter.
func NewMeter(cfg MeterConfig) (*Meter, error) {
	if cfg.Storage == nil {
		return nil, ErrStorageUnavailable
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Meter{
		storage: cfg.Storage,
		plans:   cfg.Plans,
		tenants: cfg.Tenants,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}, nil
}

// Increment adds qty to the tenant's counter for the metric's current period.
func (m *Meter) Increment(ctx context.Context, tenantID string, metric Metric, qty int) error {
	if qty < 0 {
		return ErrInvalidAmount
	}
	if qty == 0 {
		return nil
	}
	_, err := m.storage.AddDelta(ctx, tenantID, metric, PeriodKeyFor(metric, m.now()), qty, m.now())
	return err
}

// Decrement subtracts qty from the tenant's counter, clamping at zero. A
// decrement can never drive a count negative, regardless of qty magnitude.
func (m *Meter) Decrement(ctx context.Context, tenantID string, metric Metric, qty int) error {
	if qty < 0 {
		return ErrInvalidAmount
	}
	if qty == 0 {
		return nil
	}
	_, err := m.storage.AddDelta(ctx, tenantID, metric, PeriodKeyFor(metric, m.now()), -qty, m.now())
	return err
}

// CheckLimit compares the tenant's current count against its plan limit.
// Allowed reports whether one more unit fits under the cap.
func (m *Meter) CheckLimit(ctx context.Context, tenantID string, metric Metric) (*LimitCheck, error) {
	current, err := m.currentCount(ctx, tenantID, metric)
	if err != nil {
		return nil, err
	}

	limits, err := m.tenantLimits(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return checkAgainst(current, limits, metric), nil
}

// ConsumeWithinLimit checks the limit and increments in one call, for
// callers gating a create operation. Returns ErrLimitExceeded (with the
// check attached via the returned LimitCheck) when the cap is reached.
func (m *Meter) ConsumeWithinLimit(ctx context.Context, tenantID string, metric Metric, qty int) (*LimitCheck, error) {
	check, err := m.CheckLimit(ctx, tenantID, metric)
	if err != nil {
		return nil, err
	}
	if !check.Unlimited && check.Current+qty > check.Limit {
		return check, ErrLimitExceeded
	}
	if err := m.Increment(ctx, tenantID, metric, qty); err != nil {
		return check, err
	}
	return check, nil
}

// Snapshot returns the tenant's usage, limits and current violations across
// all metrics. Consumed on tenant-scoped requests and dashboards.
func (m *Meter) Snapshot(ctx context.Context, tenantID string) (*Snapshot, error) {
	limits, err := m.tenantLimits(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		TenantID: tenantID,
		Usage:    make(map[Metric]int, len(AllMetrics)),
		Limits:   limits,
	}

	for _, metric := range AllMetrics {
		current, err := m.currentCount(ctx, tenantID, metric)
		if err != nil {
			return nil, err
		}
		snap.Usage[metric] = current

		if limit, ok := limits[metric]; ok && limit != Unlimited && current > limit {
			snap.Violations = append(snap.Violations, Violation{
				Metric:  metric,
				Current: current,
				Limit:   limit,
				Excess:  current - limit,
			})
		}
	}

	return snap, nil
}

// ValidateDowngrade checks the tenant's live counts against the target
// plan's limits. The downgrade is allowed only when no metric exceeds its
// target cap. Counts are read fresh, not from cached limit values, so a
// stale cache can never green-light an over-limit downgrade.
func (m *Meter) ValidateDowngrade(ctx context.Context, tenantID, targetPlanID string) (*DowngradeReport, error) {
	targetLimits, err := m.plans.PlanLimits(ctx, targetPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target plan limits: %w", err)
	}

	report := &DowngradeReport{TargetPlanID: targetPlanID}

	for _, metric := range AllMetrics {
		limit, ok := targetLimits[metric]
		if !ok || limit == Unlimited {
			continue
		}

		current, err := m.currentCount(ctx, tenantID, metric)
		if err != nil {
			return nil, err
		}

		if current > limit {
			report.Violations = append(report.Violations, Violation{
				Metric:  metric,
				Current: current,
				Limit:   limit,
				Excess:  current - limit,
			})
		}
	}

	report.CanDowngrade = len(report.Violations) == 0
	return report, nil
}

func (m *Meter) currentCount(ctx context.Context, tenantID string, metric Metric) (int, error) {
	counter, err := m.storage.GetCounter(ctx, tenantID, metric, PeriodKeyFor(metric, m.now()))
	if err != nil {
		return 0, err
	}
	if counter == nil {
		return 0, nil
	}
	return counter.Count, nil
}

func (m *Meter) tenantLimits(ctx context.Context, tenantID string) (map[Metric]int, error) {
	planID, err := m.tenants.CurrentPlanID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant plan: %w", err)
	}
	limits, err := m.plans.PlanLimits(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan limits: %w", err)
	}
	return limits, nil
}

func checkAgainst(current int, limits map[Metric]int, metric Metric) *LimitCheck {
	limit, ok := limits[metric]
	if !ok || limit == Unlimited {
		return &LimitCheck{Allowed: true, Unlimited: true, Current: current}
	}

	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}

	percentage := 0.0
	if limit > 0 {
		percentage = float64(current) / float64(limit) * 100
	}

	return &LimitCheck{
		Allowed:    current < limit,
		Current:    current,
		Limit:      limit,
		Remaining:  remaining,
		Percentage: percentage,
	}
}
