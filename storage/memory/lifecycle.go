package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/salonflow/billingkit/pkg/lifecycle"
)

// GetCurrentForTenant implements lifecycle.Storage.
func (s *Storage) GetCurrentForTenant(ctx context.Context, tenantID string) (*lifecycle.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.currentLocked(tenantID)
	if current == nil {
		return nil, lifecycle.ErrSubscriptionNotFound
	}
	subCopy := *current
	return &subCopy, nil
}

// currentLocked returns the tenant's most recent subscription by CreatedAt.
// Caller must hold s.mu.
func (s *Storage) currentLocked(tenantID string) *lifecycle.Subscription {
	subs := s.subscriptions[tenantID]
	if len(subs) == 0 {
		return nil
	}

	current := subs[0]
	for _, sub := range subs[1:] {
		if sub.CreatedAt.After(current.CreatedAt) {
			current = sub
		}
	}
	return current
}

// Create implements lifecycle.Storage.
func (s *Storage) Create(ctx context.Context, sub *lifecycle.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subCopy := *sub
	s.subscriptions[sub.TenantID] = append(s.subscriptions[sub.TenantID], &subCopy)
	return nil
}

// Mutate implements lifecycle.Storage. Transitions for the same tenant
// serialize on a per-tenant mutex.
func (s *Storage) Mutate(ctx context.Context, tenantID string, fn func(sub *lifecycle.Subscription) (*lifecycle.AuditEntry, error)) error {
	lockIface, _ := s.tenantLocks.LoadOrStore(tenantID, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current := s.currentLocked(tenantID)
	s.mu.RUnlock()

	if current == nil {
		return lifecycle.ErrSubscriptionNotFound
	}

	working := *current
	audit, err := fn(&working)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	*current = working
	if audit != nil {
		auditCopy := *audit
		s.audits[tenantID] = append(s.audits[tenantID], &auditCopy)
	}
	return nil
}

// ListAudit implements lifecycle.Storage.
func (s *Storage) ListAudit(ctx context.Context, tenantID string, limit int) ([]*lifecycle.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.audits[tenantID]
	out := make([]*lifecycle.AuditEntry, 0, len(entries))
	for _, e := range entries {
		eCopy := *e
		out = append(out, &eCopy)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].At.After(out[j].At)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListDueForSuspension implements lifecycle.Storage.
func (s *Storage) ListDueForSuspension(ctx context.Context, now time.Time, limit int) ([]*lifecycle.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*lifecycle.Subscription
	for tenantID := range s.subscriptions {
		sub := s.currentLocked(tenantID)
		if sub == nil || sub.Status != lifecycle.StatusPastDue || sub.SuspendAt == nil {
			continue
		}
		if sub.SuspendAt.After(now) {
			continue
		}
		subCopy := *sub
		due = append(due, &subCopy)
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}

// ListExpiredTrials implements lifecycle.Storage.
func (s *Storage) ListExpiredTrials(ctx context.Context, now time.Time, limit int) ([]*lifecycle.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*lifecycle.Subscription
	for tenantID := range s.subscriptions {
		sub := s.currentLocked(tenantID)
		if sub == nil || sub.Status != lifecycle.StatusTrial || sub.TrialEndsAt == nil {
			continue
		}
		if sub.TrialEndsAt.After(now) {
			continue
		}
		subCopy := *sub
		due = append(due, &subCopy)
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}
