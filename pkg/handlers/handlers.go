// Package handlers binds provider webhook event types to subscription
// lifecycle transitions. It is the one place that knows that a Stripe
// "invoice.payment_failed" and a Pagar.me "charge.payment_failed" mean the
// same thing to the state machine.
package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/salonflow/billingkit/pkg/lifecycle"
	"github.com/salonflow/billingkit/pkg/webhook"
)

// ErrMissingTenant is returned when a lifecycle-relevant event carries no
// tenant correlation. The event retries and eventually dead-letters, where an
// operator can fix the correlation and retry manually.
var ErrMissingTenant = errors.New("event has no tenant id")

// stripeEvents maps Stripe event types to lifecycle events.
var stripeEvents = map[string]lifecycle.Event{
	"invoice.payment_succeeded":     lifecycle.EventPaymentSucceeded,
	"invoice.payment_failed":        lifecycle.EventPaymentFailed,
	"customer.subscription.deleted": lifecycle.EventCancellationRequested,
}

// pagarmeEvents maps Pagar.me event types to lifecycle events.
var pagarmeEvents = map[string]lifecycle.Event{
	"charge.paid":            lifecycle.EventPaymentSucceeded,
	"charge.payment_failed":  lifecycle.EventPaymentFailed,
	"subscription.canceled":  lifecycle.EventCancellationRequested,
	"subscription.cancelled": lifecycle.EventCancellationRequested,
}

// Config holds handler binding configuration.
type Config struct {
	// Machine applies the lifecycle transitions (required).
	Machine *lifecycle.Machine

	// Logger for handler-level logging (default: zerolog.Nop()).
	Logger zerolog.Logger
}

// Register wires the lifecycle-relevant event types of both providers into
// the dispatcher. Event types without a lifecycle meaning are not registered;
// the dispatcher fails them through the normal retry path so misconfigured
// subscriptions surface in the dead letter queue rather than vanish.
func Register(d *webhook.Dispatcher, cfg Config) error {
	if cfg.Machine == nil {
		return fmt.Errorf("machine is required")
	}

	for eventType, lcEvent := range stripeEvents {
		d.Handle("stripe", eventType, lifecycleHandler(cfg, lcEvent))
	}
	for eventType, lcEvent := range pagarmeEvents {
		d.Handle("pagarme", eventType, lifecycleHandler(cfg, lcEvent))
	}
	return nil
}

// lifecycleHandler returns a webhook handler that applies one lifecycle
// event for the event's tenant.
func lifecycleHandler(cfg Config, lcEvent lifecycle.Event) webhook.HandlerFunc {
	return func(ctx context.Context, ev *webhook.Event) error {
		if ev.TenantID == "" {
			return fmt.Errorf("%w: %s %s", ErrMissingTenant, ev.Provider, ev.ExternalEventID)
		}

		err := cfg.Machine.Apply(ctx, ev.TenantID, lcEvent, lifecycle.ActorSystem)
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			// The subscription already moved past this event, typically a
			// provider redelivery with a fresh external id racing a sweep.
			// Retrying cannot ever succeed, so complete instead.
			cfg.Logger.Warn().
				Str("tenant_id", ev.TenantID).
				Str("provider", ev.Provider).
				Str("event_type", ev.EventType).
				Str("lifecycle_event", string(lcEvent)).
				Err(err).
				Msg("lifecycle event no longer applicable, completing")
			return nil
		}
		return err
	}
}
