package usage

import "context"

// ResetMonthly creates fresh zero-count rows for monthly metrics for the
// given tenants, caching each tenant's current plan limit on the new row.
// Lifetime metrics are untouched, and previous months' rows are kept as the
// historical record. Idempotent: existing rows for the period are preserved.
func (m *Meter) ResetMonthly(ctx context.Context, tenantIDs []string) error {
	now := m.now()

	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		limits, err := m.tenantLimits(ctx, tenantID)
		if err != nil {
			m.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("skipping monthly reset, plan lookup failed")
			continue
		}

		for _, metric := range AllMetrics {
			if !metric.Monthly() {
				continue
			}

			var limit *int
			if v, ok := limits[metric]; ok {
				limit = &v
			}

			key := PeriodKeyFor(metric, now)
			if err := m.storage.EnsurePeriodRow(ctx, tenantID, metric, key, limit, now); err != nil {
				return err
			}
		}
	}

	return nil
}

// Reconcile overwrites a tenant's counters with live counts recomputed from
// the source-of-truth tables. The caller supplies the counts; recomputation
// always wins over the drifted counter.
func (m *Meter) Reconcile(ctx context.Context, tenantID string, liveCounts map[Metric]int) error {
	now := m.now()

	for metric, count := range liveCounts {
		if count < 0 {
			count = 0
		}
		key := PeriodKeyFor(metric, now)

		if err := m.storage.SetCount(ctx, tenantID, metric, key, count, now); err != nil {
			return err
		}
	}

	m.logger.Debug().Str("tenant_id", tenantID).Int("metrics", len(liveCounts)).Msg("usage counters reconciled")
	return nil
}
