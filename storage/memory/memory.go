// Package memory provides an in-memory implementation of the billingkit
// storage interfaces (webhook.Storage, lifecycle.Storage, usage.Storage).
// This implementation is primarily intended for testing and development.
package memory

import (
	"sync"

	"github.com/salonflow/billingkit/pkg/lifecycle"
	"github.com/salonflow/billingkit/pkg/usage"
	"github.com/salonflow/billingkit/pkg/webhook"
)

// Storage implements all billingkit storage interfaces using in-memory maps.
type Storage struct {
	mu sync.RWMutex

	events        map[string]*webhook.Event // by id
	eventsByKey   map[string]string         // (provider, external id) -> id
	subscriptions map[string][]*lifecycle.Subscription
	audits        map[string][]*lifecycle.AuditEntry
	counters      map[string]*usage.Counter

	// tenantLocks serializes lifecycle.Mutate per tenant.
	tenantLocks sync.Map
}

// New creates a new in-memory storage adapter.
func New() *Storage {
	return &Storage{
		events:        make(map[string]*webhook.Event),
		eventsByKey:   make(map[string]string),
		subscriptions: make(map[string][]*lifecycle.Subscription),
		audits:        make(map[string][]*lifecycle.AuditEntry),
		counters:      make(map[string]*usage.Counter),
	}
}

// Clear removes all data (useful for testing).
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = make(map[string]*webhook.Event)
	s.eventsByKey = make(map[string]string)
	s.subscriptions = make(map[string][]*lifecycle.Subscription)
	s.audits = make(map[string][]*lifecycle.AuditEntry)
	s.counters = make(map[string]*usage.Counter)
}

func eventKey(provider, externalEventID string) string {
	return provider + "\x00" + externalEventID
}

func counterKey(tenantID string, metric usage.Metric, periodKey string) string {
	return tenantID + "\x00" + string(metric) + "\x00" + periodKey
}
