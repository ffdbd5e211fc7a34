package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"marketchat/internal/infrastructure/metrics"
)

// Metrics records request count and latency per route template, so path
// parameters do not blow up label cardinality.
func Metrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		path := c.Path()
		if path == "" {
			path = "unmatched"
		}

		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request().Method, path, strconv.Itoa(c.Response().Status),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			c.Request().Method, path,
		).Observe(time.Since(start).Seconds())

		return nil
	}
}
