// Package pagarme adapts Pagar.me webhook deliveries into dispatcher events.
// Deliveries carry an HMAC-SHA256 hex signature of the raw body in the
// X-Hub-Signature header.
package pagarme

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/salonflow/billingkit/pkg/providers"
	"github.com/salonflow/billingkit/pkg/providers/internal"
	"github.com/salonflow/billingkit/pkg/webhook"
)

const providerName = "pagarme"

// Config holds Pagar.me provider configuration.
type Config struct {
	// Sink receives validated inbound events (required).
	Sink providers.Sink

	// WebhookSecret is the shared HMAC secret (required).
	WebhookSecret string

	// Logger for delivery-level logging (default: zerolog.Nop()).
	Logger zerolog.Logger

	// MaxBodyBytes caps the request body (default: 256 KiB).
	MaxBodyBytes int64
}

// Provider implements providers.Provider for Pagar.me.
type Provider struct {
	sink         providers.Sink
	secret       []byte
	logger       zerolog.Logger
	maxBodyBytes int64
}

// NewProvider creates a new Pagar.me provider.
func NewProvider(config Config) (*Provider, error) {
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	secret := strings.TrimSpace(config.WebhookSecret)
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = internal.MaxWebhookBodyBytes
	}

	return &Provider{
		sink:         config.Sink,
		secret:       []byte(secret),
		logger:       config.Logger,
		maxBodyBytes: config.MaxBodyBytes,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Pagar.me webhooks.
func (p *Provider) WebhookHandler() http.Handler {
	return http.HandlerFunc(p.handleWebhook)
}

// webhookPayload covers the fields we read from a Pagar.me delivery; the full
// payload stays opaque and is stored as-is for the handlers.
type webhookPayload struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      struct {
		Metadata map[string]string `json:"metadata"`
		Customer struct {
			Code string `json:"code"`
		} `json:"customer"`
	} `json:"data"`
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

	if !p.verifySignature(extractSignature(r), body) {
		p.logger.Warn().Msg("pagarme webhook signature verification failed")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if payload.ID == "" || payload.Type == "" {
		http.Error(w, "missing event id or type", http.StatusBadRequest)
		return
	}

	occurredAt := payload.CreatedAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	in := webhook.Inbound{
		Provider:        providerName,
		ExternalEventID: payload.ID,
		EventType:       payload.Type,
		TenantID:        tenantFromPayload(&payload),
		Payload:         body,
		OccurredAt:      occurredAt,
	}

	result, err := p.sink.Dispatch(r.Context(), in)
	if err != nil {
		p.logger.Error().Err(err).
			Str("external_event_id", payload.ID).
			Str("event_type", payload.Type).
			Msg("pagarme webhook processing failed")
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	if result.ShortCircuited {
		p.logger.Debug().
			Str("external_event_id", payload.ID).
			Str("reason", string(result.Reason)).
			Msg("pagarme webhook duplicate acknowledged")
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func extractSignature(r *http.Request) string {
	sig := strings.TrimSpace(r.Header.Get("X-Hub-Signature"))
	if sig == "" {
		sig = strings.TrimSpace(r.Header.Get("x-hub-signature"))
	}
	// Accept the "sha256=<hex>" prefix form.
	if strings.HasPrefix(strings.ToLower(sig), "sha256=") {
		sig = sig[len("sha256="):]
	}
	return sig
}

func (p *Provider) verifySignature(sigHex string, body []byte) bool {
	if sigHex == "" {
		return false
	}
	expected, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, p.secret)
	if _, err := mac.Write(body); err != nil {
		return false
	}
	return hmac.Equal(expected, mac.Sum(nil))
}

// tenantFromPayload resolves the tenant id from the event metadata, falling
// back to the customer code which carries the tenant id in our checkout setup.
func tenantFromPayload(payload *webhookPayload) string {
	if id := payload.Data.Metadata["tenant_id"]; id != "" {
		return id
	}
	return payload.Data.Customer.Code
}
