package db

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const HospitalIDKey contextKey = "hospital_id"

// HospitalHeader lets staff tooling act on a specific hospital when the token
// carries no hospital claim.
const HospitalHeader = "X-Hospital-ID"

// HospitalMiddleware resolves the hospital every request is scoped to and
// rejects requests that cannot be scoped.
func HospitalMiddleware(defaultHospital string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := extractHospitalID(c, defaultHospital)
			if raw == "" {
				return echo.NewHTTPError(http.StatusBadRequest, "hospital could not be resolved")
			}
			hospitalID, err := uuid.Parse(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital identifier")
			}

			c.SetRequest(c.Request().WithContext(WithHospital(c.Request().Context(), hospitalID)))
			c.Set("hospital_id", hospitalID)
			return next(c)
		}
	}
}

func extractHospitalID(c echo.Context, defaultHospital string) string {
	// Token claim first, so a header cannot widen a scoped token.
	if hid, ok := c.Get("jwt_hospital_id").(string); ok && hid != "" {
		return hid
	}
	if hid := c.Request().Header.Get(HospitalHeader); hid != "" {
		return hid
	}
	if hid := c.QueryParam("hospital_id"); hid != "" {
		return hid
	}
	return defaultHospital
}

// WithHospital scopes ctx to a hospital.
func WithHospital(ctx context.Context, hospitalID uuid.UUID) context.Context {
	return context.WithValue(ctx, HospitalIDKey, hospitalID)
}

// HospitalFromContext returns the hospital resolved by HospitalMiddleware.
func HospitalFromContext(ctx context.Context) uuid.UUID {
	hid, _ := ctx.Value(HospitalIDKey).(uuid.UUID)
	return hid
}
