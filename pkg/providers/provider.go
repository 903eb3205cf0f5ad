// Package providers defines the boundary between payment-provider HTTP
// endpoints and the webhook dispatcher. Each provider adapter verifies the
// delivery signature, converts the raw payload into a webhook.Inbound and
// hands it to a Sink. Duplicate deliveries are acknowledged with 200 so the
// provider stops redelivering; handler failures return 500 so the provider's
// retry cooperates with the internal retry ladder.
package providers

import (
	"context"
	"net/http"

	"github.com/salonflow/billingkit/pkg/webhook"
)

// Provider is the generic interface any payment backend adapter implements.
type Provider interface {
	// Name returns the provider name (e.g., "stripe", "pagarme").
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles signature verification and payload parsing
	// internally.
	WebhookHandler() http.Handler
}

// Sink consumes validated inbound events. *webhook.Dispatcher satisfies it.
type Sink interface {
	Dispatch(ctx context.Context, in webhook.Inbound) (*webhook.Result, error)
}
