// Package http provides HTTP middleware gating tenant-scoped requests on
// subscription block status and, optionally, on plan usage limits.
package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/salonflow/billingkit/pkg/lifecycle"
	"github.com/salonflow/billingkit/pkg/usage"
)

// TenantIDExtractor extracts the tenant ID from an HTTP request.
// Return empty string if the request is not tenant-scoped.
type TenantIDExtractor func(r *http.Request) string

// MetricExtractor extracts the usage metric the request consumes.
// Return empty string to skip usage gating for the request.
type MetricExtractor func(r *http.Request) usage.Metric

// AmountExtractor calculates the usage amount to consume from the request.
type AmountExtractor func(r *http.Request) (int, error)

// Config holds middleware configuration.
type Config struct {
	// Machine resolves subscription block status (required).
	Machine *lifecycle.Machine

	// Meter enforces usage limits. Optional; when nil only the block gate runs.
	Meter *usage.Meter

	// GetTenantID extracts the tenant ID from the request (required).
	GetTenantID TenantIDExtractor

	// GetMetric extracts the consumed metric. Optional; requires Meter.
	GetMetric MetricExtractor

	// GetAmount calculates the consumed amount (default: 1 per request).
	GetAmount AmountExtractor

	// OnBlocked is called when the tenant's subscription blocks access.
	// If nil, returns 402 Payment Required.
	OnBlocked func(w http.ResponseWriter, r *http.Request)

	// OnLimitExceeded is called when the plan limit is reached.
	// If nil, returns 429 Too Many Requests.
	OnLimitExceeded func(w http.ResponseWriter, r *http.Request, check *usage.LimitCheck)

	// OnUnauthorized is called when no tenant could be extracted.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that blocks requests from tenants
// whose subscription is suspended, cancelled, expired or past its trial, and
// optionally consumes usage within the plan limit.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.GetAmount == nil {
		config.GetAmount = FixedAmount(1)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := config.GetTenantID(r)
			if tenantID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			ctx := r.Context()

			blocked, err := config.Machine.BlockStatus(ctx, tenantID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}
			if blocked {
				if config.OnBlocked != nil {
					config.OnBlocked(w, r)
				} else {
					http.Error(w, "Subscription inactive", http.StatusPaymentRequired)
				}
				return
			}

			if config.Meter != nil && config.GetMetric != nil {
				metric := config.GetMetric(r)
				if metric != "" {
					amount, err := config.GetAmount(r)
					if err != nil {
						if config.OnError != nil {
							config.OnError(w, r, err)
						} else {
							http.Error(w, "Bad Request", http.StatusBadRequest)
						}
						return
					}

					check, err := config.Meter.ConsumeWithinLimit(ctx, tenantID, metric, amount)
					if err != nil {
						if errors.Is(err, usage.ErrLimitExceeded) {
							if config.OnLimitExceeded != nil {
								config.OnLimitExceeded(w, r, check)
							} else {
								msg := fmt.Sprintf("Plan limit reached: %d/%d %s used", check.Current, check.Limit, metric)
								http.Error(w, msg, http.StatusTooManyRequests)
							}
						} else if config.OnError != nil {
							config.OnError(w, r, err)
						} else {
							http.Error(w, "Internal Server Error", http.StatusInternalServerError)
						}
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates an HTTP middleware (HandlerFunc version).
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// Common extractors for convenience

// FixedAmount returns an AmountExtractor that always returns a fixed amount.
func FixedAmount(amount int) AmountExtractor {
	return func(r *http.Request) (int, error) {
		return amount, nil
	}
}

// HeaderTenantID returns a TenantIDExtractor reading the tenant from a header.
func HeaderTenantID(header string) TenantIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(header)
	}
}

// FixedMetric returns a MetricExtractor that always returns the given metric.
func FixedMetric(metric usage.Metric) MetricExtractor {
	return func(r *http.Request) usage.Metric {
		return metric
	}
}
