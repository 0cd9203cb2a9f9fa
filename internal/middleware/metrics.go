package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"rewrite-proxy-go/internal/metrics"
)

// MetricsConfig configures MetricsWithConfig.
type MetricsConfig struct {
	// Skipper excludes requests from measurement, e.g. the scrape endpoint.
	Skipper echomw.Skipper

	Metrics *metrics.Metrics
}

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for every inbound request.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return MetricsWithConfig(MetricsConfig{Metrics: m})
}

// MetricsWithConfig returns the metrics middleware with a custom config.
func MetricsWithConfig(cfg MetricsConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = echomw.DefaultSkipper
	}
	m := cfg.Metrics

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper(c) {
				return next(c)
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// An *echo.HTTPError (413 from BodyLimit, 429 from the rate
			// limiter, 404 under the admin prefix) is written later by the
			// central error handler, so the response status is not final yet.
			statusCode := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(c.Request().Method)
			path := metrics.NormalizePath(c.Request().URL.Path)

			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// SkipPath returns a Skipper matching exactly one request path.
func SkipPath(path string) echomw.Skipper {
	return func(c echo.Context) bool {
		return c.Request().URL.Path == path
	}
}
