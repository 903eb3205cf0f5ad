package api

import (
	"time"

	"github.com/salonflow/billingkit/pkg/lifecycle"
	"github.com/salonflow/billingkit/pkg/usage"
	"github.com/salonflow/billingkit/pkg/webhook"
)

// EventSummary is the wire representation of a stored webhook event.
type EventSummary struct {
	ID              string     `json:"id"`
	Provider        string     `json:"provider"`
	ExternalEventID string     `json:"external_event_id"`
	EventType       string     `json:"event_type"`
	TenantID        string     `json:"tenant_id,omitempty"`
	Status          string     `json:"status"`
	AttemptCount    int        `json:"attempt_count"`
	MaxAttempts     int        `json:"max_attempts"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func summarize(ev *webhook.Event) EventSummary {
	return EventSummary{
		ID:              ev.ID,
		Provider:        ev.Provider,
		ExternalEventID: ev.ExternalEventID,
		EventType:       ev.EventType,
		TenantID:        ev.TenantID,
		Status:          string(ev.Status),
		AttemptCount:    ev.AttemptCount,
		MaxAttempts:     ev.MaxAttempts,
		LastAttemptAt:   ev.LastAttemptAt,
		NextRetryAt:     ev.NextRetryAt,
		ErrorMessage:    ev.ErrorMessage,
		CreatedAt:       ev.CreatedAt,
	}
}

// DLQListResponse is the response for the dead letter listing endpoint.
type DLQListResponse struct {
	Events []EventSummary `json:"events"`
	Count  int            `json:"count"`
}

// RetryResponse is the response for the manual retry endpoint.
type RetryResponse struct {
	Event EventSummary `json:"event"`
}

// DismissRequest is the request body for the dismiss endpoint.
type DismissRequest struct {
	Reason string `json:"reason"`
}

// ProviderStatsResponse is one provider's slice of the stats endpoint.
type ProviderStatsResponse struct {
	Provider        string         `json:"provider"`
	Counts          map[string]int `json:"counts"`
	AvgProcessingMs float64        `json:"avg_processing_ms"`
}

// StatsResponse is the response for the webhook stats endpoint.
type StatsResponse struct {
	WindowHours float64                 `json:"window_hours"`
	Providers   []ProviderStatsResponse `json:"providers"`
}

// UsageResponse is the response for the tenant usage snapshot endpoint.
type UsageResponse struct {
	TenantID   string               `json:"tenant_id"`
	Usage      map[usage.Metric]int `json:"usage"`
	Limits     map[usage.Metric]int `json:"limits"`
	Violations []usage.Violation    `json:"violations,omitempty"`
}

// BlockStatusResponse is the response for the tenant block status endpoint.
type BlockStatusResponse struct {
	TenantID string           `json:"tenant_id"`
	Blocked  bool             `json:"blocked"`
	Status   lifecycle.Status `json:"status,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
