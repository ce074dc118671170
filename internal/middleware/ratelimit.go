package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/waitlist-admin/internal/config"
	"github.com/iliyamo/waitlist-admin/internal/ratelimit"
)

// BucketTaker is the token bucket consulted per request.
type BucketTaker interface {
	Take(ctx context.Context, key string) (ratelimit.BucketResult, error)
}

// NewOriginThrottle is the coarse per-origin limiter in front of the auth
// routes.  It complements the per-identifier login lockout: rotating
// identifiers from one address still drains this bucket.  A redis outage
// lets requests through; the login lockout stays fail-closed on its own.
func NewOriginThrottle(cfg config.RateLimitConfig, bucket BucketTaker) echo.MiddlewareFunc {
	if !cfg.Enabled || bucket == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := cfg.Prefix + ":ip:" + Origin(c)
			res, err := bucket.Take(c.Request().Context(), key)
			if err != nil {
				if cfg.Debug {
					c.Logger().Warnf("[ratelimit] bucket error for key=%s: %v", key, err)
				}
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if !res.Allowed {
				secs := int(math.Ceil(res.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				if cfg.Debug {
					c.Logger().Infof("[ratelimit] block key=%s retry=%s", key, res.RetryAfter)
				}
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too many requests",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}
