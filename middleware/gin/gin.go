// Package gin provides Gin middleware gating tenant-scoped requests on
// subscription block status and, optionally, on plan usage limits.
package gin

import (
	"errors"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/salonflow/billingkit/pkg/lifecycle"
	"github.com/salonflow/billingkit/pkg/usage"
)

// TenantIDExtractor extracts the tenant ID from a Gin context.
// Return empty string if the request is not tenant-scoped.
type TenantIDExtractor func(c *gongin.Context) string

// MetricExtractor extracts the usage metric the request consumes.
// Return empty string to skip usage gating for the request.
type MetricExtractor func(c *gongin.Context) usage.Metric

// AmountExtractor calculates the usage amount to consume from the context.
type AmountExtractor func(c *gongin.Context) (int, error)

// Config holds middleware configuration.
type Config struct {
	// Machine resolves subscription block status (required).
	Machine *lifecycle.Machine

	// Meter enforces usage limits. Optional; when nil only the block gate runs.
	Meter *usage.Meter

	// GetTenantID extracts the tenant ID from the context (required).
	GetTenantID TenantIDExtractor

	// GetMetric extracts the consumed metric. Optional; requires Meter.
	GetMetric MetricExtractor

	// GetAmount calculates the consumed amount (default: 1 per request).
	GetAmount AmountExtractor

	// BlockedStatusCode is the HTTP status returned for blocked tenants.
	// Default: 402 (Payment Required).
	BlockedStatusCode int

	// OnBlocked is called when the tenant's subscription blocks access.
	// If nil, returns BlockedStatusCode with a JSON error.
	OnBlocked func(c *gongin.Context)

	// OnLimitExceeded is called when the plan limit is reached.
	// If nil, returns 429 JSON with usage info.
	OnLimitExceeded func(c *gongin.Context, check *usage.LimitCheck)

	// OnUnauthorized is called when no tenant could be extracted.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that blocks requests from tenants
// whose subscription is suspended, cancelled, expired or past its trial, and
// optionally consumes usage within the plan limit.
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Machine == nil {
		panic("billingkit/gin: Config.Machine is required")
	}
	if cfg.GetTenantID == nil {
		panic("billingkit/gin: Config.GetTenantID is required")
	}
	if cfg.GetAmount == nil {
		cfg.GetAmount = func(c *gongin.Context) (int, error) { return 1, nil }
	}
	if cfg.BlockedStatusCode == 0 {
		cfg.BlockedStatusCode = http.StatusPaymentRequired
	}

	return func(c *gongin.Context) {
		tenantID := cfg.GetTenantID(c)
		if tenantID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			}
			c.Abort()
			return
		}

		ctx := c.Request.Context()

		blocked, err := cfg.Machine.BlockStatus(ctx, tenantID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gongin.H{"error": "internal error"})
			}
			c.Abort()
			return
		}
		if blocked {
			if cfg.OnBlocked != nil {
				cfg.OnBlocked(c)
			} else {
				c.AbortWithStatusJSON(cfg.BlockedStatusCode, gongin.H{"error": "subscription inactive"})
			}
			c.Abort()
			return
		}

		if cfg.Meter != nil && cfg.GetMetric != nil {
			if metric := cfg.GetMetric(c); metric != "" {
				amount, err := cfg.GetAmount(c)
				if err != nil {
					if cfg.OnError != nil {
						cfg.OnError(c, err)
					} else {
						c.AbortWithStatusJSON(http.StatusBadRequest, gongin.H{"error": "bad request"})
					}
					c.Abort()
					return
				}

				check, err := cfg.Meter.ConsumeWithinLimit(ctx, tenantID, metric, amount)
				if err != nil {
					if errors.Is(err, usage.ErrLimitExceeded) {
						if cfg.OnLimitExceeded != nil {
							cfg.OnLimitExceeded(c, check)
						} else {
							c.AbortWithStatusJSON(http.StatusTooManyRequests, gongin.H{
								"error":   "plan limit reached",
								"metric":  string(metric),
								"current": check.Current,
								"limit":   check.Limit,
							})
						}
					} else if cfg.OnError != nil {
						cfg.OnError(c, err)
					} else {
						c.AbortWithStatusJSON(http.StatusInternalServerError, gongin.H{"error": "internal error"})
					}
					c.Abort()
					return
				}
			}
		}

		c.Next()
	}
}
