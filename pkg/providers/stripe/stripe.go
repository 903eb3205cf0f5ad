// Package stripe adapts Stripe webhook deliveries into dispatcher events.
// Signatures are verified with the official SDK before anything is stored.
package stripe

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v83"

	"github.com/salonflow/billingkit/pkg/providers"
	"github.com/salonflow/billingkit/pkg/providers/internal"
	"github.com/salonflow/billingkit/pkg/webhook"
)

const providerName = "stripe"

// Config holds Stripe provider configuration.
type Config struct {
	// Sink receives validated inbound events (required).
	Sink providers.Sink

	// WebhookSecret is the endpoint signing secret from the Stripe dashboard
	// (required).
	WebhookSecret string

	// Logger for delivery-level logging (default: zerolog.Nop()).
	Logger zerolog.Logger

	// MaxBodyBytes caps the request body (default: 256 KiB).
	MaxBodyBytes int64
}

// Provider implements providers.Provider for Stripe.
type Provider struct {
	sink          providers.Sink
	webhookSecret string
	logger        zerolog.Logger
	maxBodyBytes  int64
}

// NewProvider creates a new Stripe provider.
func NewProvider(config Config) (*Provider, error) {
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.WebhookSecret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = internal.MaxWebhookBodyBytes
	}

	return &Provider{
		sink:          config.Sink,
		webhookSecret: config.WebhookSecret,
		logger:        config.Logger,
		maxBodyBytes:  config.MaxBodyBytes,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks.
func (p *Provider) WebhookHandler() http.Handler {
	return http.HandlerFunc(p.handleWebhook)
}

func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, p.maxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	event, err := stripe.ConstructEvent(body, sig, p.webhookSecret)
	if err != nil {
		p.logger.Warn().Err(err).Msg("stripe webhook signature verification failed")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	in := webhook.Inbound{
		Provider:        providerName,
		ExternalEventID: event.ID,
		EventType:       string(event.Type),
		TenantID:        tenantFromEvent(&event),
		Payload:         body,
		OccurredAt:      time.Unix(event.Created, 0).UTC(),
	}

	result, err := p.sink.Dispatch(r.Context(), in)
	if err != nil {
		// A failed handler is retried internally; 500 also keeps Stripe's own
		// redelivery in play, which the idempotency guard absorbs.
		p.logger.Error().Err(err).
			Str("external_event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("stripe webhook processing failed")
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	if result.ShortCircuited {
		p.logger.Debug().
			Str("external_event_id", event.ID).
			Str("reason", string(result.Reason)).
			Msg("stripe webhook duplicate acknowledged")
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// tenantFromEvent resolves the tenant id from the event object's metadata.
// Returns "" when the event is not tenant-scoped.
func tenantFromEvent(event *stripe.Event) string {
	obj := event.Data.Object
	if obj == nil {
		return ""
	}
	meta, ok := obj["metadata"].(map[string]interface{})
	if !ok {
		return ""
	}
	tenantID, _ := meta["tenant_id"].(string)
	return tenantID
}
