package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medcore/hms/internal/platform/apperr"
)

// RequestTimeout puts a deadline on each request context. The handler runs on
// the request goroutine; when it comes back after the deadline with nothing
// written, the caller gets a 504. Paths under /metrics are exempt.
//
// The booking transaction carries its own shorter deadline, so a slow booking
// surfaces as a booking_timeout refusal well before this fires.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.HasPrefix(c.Request().URL.Path, "/metrics") {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return c.JSON(http.StatusGatewayTimeout, map[string]apperr.Body{
					"error": {Code: "request_timeout", Message: "request processing exceeded the allowed time limit"},
				})
			}
			return err
		}
	}
}
