package memory

import (
	"context"
	"time"

	"github.com/salonflow/billingkit/pkg/usage"
)

// AddDelta implements usage.Storage. The whole read-modify-write happens
// under the storage lock, matching the single-statement upsert the SQL
// adapter uses.
func (s *Storage) AddDelta(ctx context.Context, tenantID string, metric usage.Metric, periodKey string, delta int, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(tenantID, metric, periodKey)
	counter, ok := s.counters[key]
	if !ok {
		counter = &usage.Counter{
			TenantID:  tenantID,
			Metric:    metric,
			PeriodKey: periodKey,
		}
		s.counters[key] = counter
	}

	counter.Count += delta
	if counter.Count < 0 {
		counter.Count = 0
	}
	counter.UpdatedAt = at
	return counter.Count, nil
}

// GetCounter implements usage.Storage.
func (s *Storage) GetCounter(ctx context.Context, tenantID string, metric usage.Metric, periodKey string) (*usage.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counter, ok := s.counters[counterKey(tenantID, metric, periodKey)]
	if !ok {
		return nil, nil // No usage yet is not an error
	}
	counterCopy := *counter
	return &counterCopy, nil
}

// SetCount implements usage.Storage.
func (s *Storage) SetCount(ctx context.Context, tenantID string, metric usage.Metric, periodKey string, count int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(tenantID, metric, periodKey)
	counter, ok := s.counters[key]
	if !ok {
		counter = &usage.Counter{
			TenantID:  tenantID,
			Metric:    metric,
			PeriodKey: periodKey,
		}
		s.counters[key] = counter
	}

	counter.Count = count
	counter.UpdatedAt = at
	return nil
}

// EnsurePeriodRow implements usage.Storage.
func (s *Storage) EnsurePeriodRow(ctx context.Context, tenantID string, metric usage.Metric, periodKey string, limit *int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(tenantID, metric, periodKey)
	if _, ok := s.counters[key]; ok {
		return nil
	}

	s.counters[key] = &usage.Counter{
		TenantID:   tenantID,
		Metric:     metric,
		PeriodKey:  periodKey,
		LimitValue: limit,
		UpdatedAt:  at,
	}
	return nil
}
