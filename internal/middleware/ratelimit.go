package middleware

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimit returns a per-client-IP rate limiter allowing rps requests per
// second. Rejections are answered in plain text, like every other response
// the proxy synthesizes.
func RateLimit(rps float64, logger *slog.Logger) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(rps))
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.String(http.StatusForbidden, "Proxy error: cannot identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			logger.Debug("rate limited", "remote_ip", identifier)
			return c.String(http.StatusTooManyRequests, "Proxy error: rate limit exceeded")
		},
	})
}
