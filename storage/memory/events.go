package memory

import (
	"context"
	"sort"
	"time"

	"github.com/salonflow/billingkit/pkg/webhook"
)

// RegisterIfAbsent implements webhook.Storage.
func (s *Storage) RegisterIfAbsent(ctx context.Context, ev *webhook.Event) (*webhook.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey(ev.Provider, ev.ExternalEventID)
	if id, ok := s.eventsByKey[key]; ok {
		existing := *s.events[id]
		return &existing, false, nil
	}

	stored := *ev
	s.events[stored.ID] = &stored
	s.eventsByKey[key] = stored.ID

	returned := stored
	return &returned, true, nil
}

// Get implements webhook.Storage.
func (s *Storage) Get(ctx context.Context, id string) (*webhook.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, webhook.ErrEventNotFound
	}
	evCopy := *ev
	return &evCopy, nil
}

// GetByKey implements webhook.Storage.
func (s *Storage) GetByKey(ctx context.Context, provider, externalEventID string) (*webhook.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.eventsByKey[eventKey(provider, externalEventID)]
	if !ok {
		return nil, webhook.ErrEventNotFound
	}
	evCopy := *s.events[id]
	return &evCopy, nil
}

// MarkProcessing implements webhook.Storage.
func (s *Storage) MarkProcessing(ctx context.Context, id string, at time.Time) (*webhook.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, webhook.ErrEventNotFound
	}
	if ev.Status != webhook.StatusPending && ev.Status != webhook.StatusFailed {
		return nil, webhook.ErrStatusConflict
	}

	ev.Status = webhook.StatusProcessing
	ev.AttemptCount++
	attemptAt := at
	ev.LastAttemptAt = &attemptAt
	ev.NextRetryAt = nil
	ev.UpdatedAt = at

	evCopy := *ev
	return &evCopy, nil
}

// MarkCompleted implements webhook.Storage.
func (s *Storage) MarkCompleted(ctx context.Context, id string, at time.Time, took time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return webhook.ErrEventNotFound
	}
	if ev.Status != webhook.StatusProcessing {
		return webhook.ErrStatusConflict
	}

	ev.Status = webhook.StatusCompleted
	completedAt := at
	ev.CompletedAt = &completedAt
	ev.ProcessingTimeMs = took.Milliseconds()
	ev.ErrorMessage = ""
	ev.ErrorStack = ""
	ev.UpdatedAt = at
	return nil
}

// MarkFailed implements webhook.Storage.
func (s *Storage) MarkFailed(ctx context.Context, id string, at time.Time, errMsg, errStack string, nextRetryAt *time.Time, deadLetter bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return webhook.ErrEventNotFound
	}
	if ev.Status != webhook.StatusProcessing {
		return webhook.ErrStatusConflict
	}

	if deadLetter {
		ev.Status = webhook.StatusDeadLetter
		ev.NextRetryAt = nil
	} else {
		ev.Status = webhook.StatusFailed
		ev.NextRetryAt = nextRetryAt
	}
	ev.ErrorMessage = errMsg
	ev.ErrorStack = errStack
	ev.UpdatedAt = at
	return nil
}

// ListForRetry implements webhook.Storage.
func (s *Storage) ListForRetry(ctx context.Context, now time.Time, limit int) ([]*webhook.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*webhook.Event
	for _, ev := range s.events {
		// Pending events carry a NextRetryAt only after a manual DLQ retry.
		if ev.Status != webhook.StatusFailed && ev.Status != webhook.StatusPending {
			continue
		}
		if ev.NextRetryAt == nil {
			continue
		}
		if ev.NextRetryAt.After(now) || ev.AttemptCount >= ev.MaxAttempts {
			continue
		}
		evCopy := *ev
		due = append(due, &evCopy)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ListDeadLetter implements webhook.Storage.
func (s *Storage) ListDeadLetter(ctx context.Context, filter webhook.DLQFilter) ([]*webhook.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var dead []*webhook.Event
	for _, ev := range s.events {
		if ev.Status != webhook.StatusDeadLetter {
			continue
		}
		if filter.Provider != "" && ev.Provider != filter.Provider {
			continue
		}
		if filter.EventType != "" && ev.EventType != filter.EventType {
			continue
		}
		if filter.TenantID != "" && ev.TenantID != filter.TenantID {
			continue
		}
		evCopy := *ev
		dead = append(dead, &evCopy)
	}

	sort.Slice(dead, func(i, j int) bool {
		return dead[i].UpdatedAt.After(dead[j].UpdatedAt)
	})

	if filter.Limit > 0 && len(dead) > filter.Limit {
		dead = dead[:filter.Limit]
	}
	return dead, nil
}

// ResetForRetry implements webhook.Storage.
func (s *Storage) ResetForRetry(ctx context.Context, id string, now time.Time) (*webhook.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, webhook.ErrEventNotFound
	}
	if ev.Status != webhook.StatusDeadLetter {
		return nil, webhook.ErrNotDeadLettered
	}

	ev.Status = webhook.StatusPending
	ev.AttemptCount = 0
	retryAt := now
	ev.NextRetryAt = &retryAt
	ev.UpdatedAt = now

	evCopy := *ev
	return &evCopy, nil
}

// MarkDismissed implements webhook.Storage.
func (s *Storage) MarkDismissed(ctx context.Context, id, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return webhook.ErrEventNotFound
	}
	if ev.Status != webhook.StatusDeadLetter {
		return webhook.ErrNotDeadLettered
	}

	ev.Status = webhook.StatusDismissed
	ev.DismissReason = reason
	ev.UpdatedAt = at
	return nil
}

// ListStuckProcessing implements webhook.Storage.
func (s *Storage) ListStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*webhook.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stuck []*webhook.Event
	for _, ev := range s.events {
		if ev.Status != webhook.StatusProcessing {
			continue
		}
		if ev.LastAttemptAt == nil || ev.LastAttemptAt.After(cutoff) {
			continue
		}
		evCopy := *ev
		stuck = append(stuck, &evCopy)
	}

	sort.Slice(stuck, func(i, j int) bool {
		return stuck[i].LastAttemptAt.Before(*stuck[j].LastAttemptAt)
	})

	if limit > 0 && len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

// DeleteCompletedBefore implements webhook.Storage.
func (s *Storage) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, ev := range s.events {
		if ev.Status != webhook.StatusCompleted || ev.CompletedAt == nil {
			continue
		}
		if ev.CompletedAt.Before(cutoff) {
			delete(s.events, id)
			delete(s.eventsByKey, eventKey(ev.Provider, ev.ExternalEventID))
			deleted++
		}
	}
	return deleted, nil
}

// Stats implements webhook.Storage.
func (s *Storage) Stats(ctx context.Context, now time.Time, window time.Duration) ([]webhook.ProviderStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type agg struct {
		counts  map[webhook.Status]int
		totalMs int64
		done    int
	}

	since := now.Add(-window)
	byProvider := make(map[string]*agg)

	for _, ev := range s.events {
		a, ok := byProvider[ev.Provider]
		if !ok {
			a = &agg{counts: make(map[webhook.Status]int)}
			byProvider[ev.Provider] = a
		}
		a.counts[ev.Status]++

		if ev.Status == webhook.StatusCompleted && ev.CompletedAt != nil && ev.CompletedAt.After(since) {
			a.totalMs += ev.ProcessingTimeMs
			a.done++
		}
	}

	providers := make([]string, 0, len(byProvider))
	for p := range byProvider {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	stats := make([]webhook.ProviderStats, 0, len(providers))
	for _, p := range providers {
		a := byProvider[p]
		ps := webhook.ProviderStats{Provider: p, Counts: a.counts}
		if a.done > 0 {
			ps.AvgProcessingMs = float64(a.totalMs) / float64(a.done)
		}
		stats = append(stats, ps)
	}
	return stats, nil
}
