package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medcore/hms/internal/platform/db"
)

// SecurityConfig tunes SecurityHeaders.
type SecurityConfig struct {
	// HSTSMaxAge enables Strict-Transport-Security. Leave it zero when the
	// server is reached over plain HTTP, as in local development.
	HSTSMaxAge time.Duration
	// APIPrefix marks the hospital-scoped routes. Their responses vary by
	// caller and hospital and are never stored.
	APIPrefix string
}

// SecurityHeaders sets response headers for a JSON API that returns patient
// contact details and live slot availability.
func SecurityHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	hsts := ""
	if cfg.HSTSMaxAge > 0 {
		hsts = fmt.Sprintf("max-age=%d; includeSubDomains", int(cfg.HSTSMaxAge.Seconds()))
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			if hsts != "" {
				h.Set("Strict-Transport-Security", hsts)
			}

			// Slot availability is stale the moment another patient books.
			h.Set("Cache-Control", "no-store")
			if cfg.APIPrefix != "" && strings.HasPrefix(c.Request().URL.Path, cfg.APIPrefix) {
				h.Set("Pragma", "no-cache")
				h.Add("Vary", "Authorization")
				h.Add("Vary", db.HospitalHeader)
			}
			return next(c)
		}
	}
}
