package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"marketchat/internal/infrastructure/metrics"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/pkg/logger"
)

// RateLimit limits requests per client IP.
func RateLimit(limiter *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()

			allowed, wait := limiter.Allow(ip, ratelimit.ActionHTTPRequest)
			if !allowed {
				metrics.RateLimitHits.WithLabelValues(ratelimit.ActionHTTPRequest).Inc()
				logger.Warn("RATE LIMIT: Blocked request from IP %s (retry in %v)", ip, wait)

				retryAfter := int(math.Ceil(wait.Seconds()))
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":       "Rate limit exceeded",
					"retry_after": retryAfter,
				})
			}

			return next(c)
		}
	}
}
