// Package fiber provides Fiber middleware gating tenant-scoped requests on
// subscription block status and, optionally, on plan usage limits.
package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/salonflow/billingkit/pkg/lifecycle"
	"github.com/salonflow/billingkit/pkg/usage"
)

// TenantIDExtractor extracts the tenant ID from a Fiber context.
// Return empty string if the request is not tenant-scoped.
type TenantIDExtractor func(c *fiber.Ctx) string

// MetricExtractor extracts the usage metric the request consumes.
// Return empty string to skip usage gating for the request.
type MetricExtractor func(c *fiber.Ctx) usage.Metric

// AmountExtractor calculates the usage amount to consume from the context.
type AmountExtractor func(c *fiber.Ctx) (int, error)

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
	OnBlocked func(c *fiber.Ctx) error

	// OnLimitExceeded is called when the plan limit is reached.
	// If nil, returns 429 JSON with usage info.
	OnLimitExceeded func(c *fiber.Ctx, check *usage.LimitCheck) error

	// OnUnauthorized is called when no tenant could be extracted.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that blocks requests from tenants
// whose subscription is suspended, cancelled, expired or past its trial, and
// optionally consumes usage within the plan limit.
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Machine == nil {
		panic("billingkit/fiber: Config.Machine is required")
	}
	if cfg.GetTenantID == nil {
		panic("billingkit/fiber: Config.GetTenantID is required")
	}
	if cfg.GetAmount == nil {
		cfg.GetAmount = func(c *fiber.Ctx) (int, error) { return 1, nil }
	}
	if cfg.BlockedStatusCode == 0 {
		cfg.BlockedStatusCode = fiber.StatusPaymentRequired
	}

	return func(c *fiber.Ctx) error {
		tenantID := cfg.GetTenantID(c)
		if tenantID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		// Fiber wraps fasthttp, so context.Context comes from UserContext.
		ctx := c.UserContext()

		blocked, err := cfg.Machine.BlockStatus(ctx, tenantID)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		}
		if blocked {
			if cfg.OnBlocked != nil {
				return cfg.OnBlocked(c)
			}
			return c.Status(cfg.BlockedStatusCode).JSON(fiber.Map{"error": "subscription inactive"})
		}

		if cfg.Meter != nil && cfg.GetMetric != nil {
			if metric := cfg.GetMetric(c); metric != "" {
				amount, err := cfg.GetAmount(c)
				if err != nil {
					if cfg.OnError != nil {
						return cfg.OnError(c, err)
					}
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad request"})
				}

				check, err := cfg.Meter.ConsumeWithinLimit(ctx, tenantID, metric, amount)
				if err != nil {
					if errors.Is(err, usage.ErrLimitExceeded) {
						if cfg.OnLimitExceeded != nil {
							return cfg.OnLimitExceeded(c, check)
						}
						return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
							"error":   "plan limit reached",
							"metric":  string(metric),
							"current": check.Current,
							"limit":   check.Limit,
						})
					}
					if cfg.OnError != nil {
						return cfg.OnError(c, err)
					}
					return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
				}
			}
		}

		return c.Next()
	}
}
