package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/salonflow/billingkit/pkg/usage"
)

// AddDelta implements usage.Storage. The upsert is a single statement, so
// concurrent increments for the same counter never lose updates, and
// GREATEST clamps the result at zero.
func (s *Storage) AddDelta(ctx context.Context, tenantID string, metric usage.Metric, periodKey string, delta int, at time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO usage_counters (tenant_id, metric, period_key, count, updated_at)
			VALUES ($1, $2, $3, GREATEST(0, $4), $5)
			ON CONFLICT (tenant_id, metric, period_key) DO UPDATE
				SET count = GREATEST(0, usage_counters.count + $4),
					updated_at = $5
			RETURNING count`,
		tenantID, string(metric), periodKey, delta, at).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to update usage counter: %w", err)
	}
	return count, nil
}

// GetCounter implements usage.Storage.
func (s *Storage) GetCounter(ctx context.Context, tenantID string, metric usage.Metric, periodKey string) (*usage.Counter, error) {
	var c usage.Counter
	var metricStr string
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, metric, period_key, count, limit_value, updated_at
			FROM usage_counters
			WHERE tenant_id = $1 AND metric = $2 AND period_key = $3`,
		tenantID, string(metric), periodKey).
		Scan(&c.TenantID, &metricStr, &c.PeriodKey, &c.Count, &c.LimitValue, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // No usage yet is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage counter: %w", err)
	}
	c.Metric = usage.Metric(metricStr)
	return &c, nil
}

// SetCount implements usage.Storage.
func (s *Storage) SetCount(ctx context.Context, tenantID string, metric usage.Metric, periodKey string, count int, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_counters (tenant_id, metric, period_key, count, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (tenant_id, metric, period_key) DO UPDATE
				SET count = $4, updated_at = $5`,
		tenantID, string(metric), periodKey, count, at)
	if err != nil {
		return fmt.Errorf("failed to set usage counter: %w", err)
	}
	return nil
}

// EnsurePeriodRow implements usage.Storage.
func (s *Storage) EnsurePeriodRow(ctx context.Context, tenantID string, metric usage.Metric, periodKey string, limit *int, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_counters (tenant_id, metric, period_key, count, limit_value, updated_at)
			VALUES ($1, $2, $3, 0, $4, $5)
			ON CONFLICT (tenant_id, metric, period_key) DO NOTHING`,
		tenantID, string(metric), periodKey, limit, at)
	if err != nil {
		return fmt.Errorf("failed to ensure usage period row: %w", err)
	}
	return nil
}
