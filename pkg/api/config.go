// Package api provides operator-facing HTTP endpoints: dead letter queue
// inspection and intervention, webhook delivery stats, tenant usage snapshots
// and the tenant block predicate.
package api

import (
	"fmt"
	"net/http"

	"github.com/salonflow/billingkit/pkg/lifecycle"
	"github.com/salonflow/billingkit/pkg/usage"
	"github.com/salonflow/billingkit/pkg/webhook"
)

// Config holds configuration for the ops API handler.
type Config struct {
	// DLQ provides dead letter queue access (required).
	DLQ *webhook.DLQ

	// Machine resolves subscription state (required for block status).
	Machine *lifecycle.Machine

	// Meter provides usage snapshots (required for usage endpoint).
	Meter *usage.Meter

	// OnError handles errors. If nil, a JSON error envelope is written.
	OnError func(http.ResponseWriter, *http.Request, error, int)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DLQ == nil {
		return fmt.Errorf("dlq is required")
	}
	if c.Machine == nil {
		return fmt.Errorf("machine is required")
	}
	if c.Meter == nil {
		return fmt.Errorf("meter is required")
	}
	return nil
}

// NewHandler creates a new ops API handler with the given configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Handler{config: config}, nil
}
