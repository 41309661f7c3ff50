package notification

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcore/hms/internal/platform/db"
)

// Handler exposes the provider-cache invalidation hook.
type Handler struct {
	cache *ClientCache
}

func NewHandler(cache *ClientCache) *Handler {
	return &Handler{cache: cache}
}

func (h *Handler) RegisterRoutes(admin *echo.Group) {
	admin.POST("/notifications/providers/invalidate", h.Invalidate)
}

// Invalidate drops the current hospital's cached clients after its gateway
// credentials were updated.
func (h *Handler) Invalidate(c echo.Context) error {
	hospitalID := db.HospitalFromContext(c.Request().Context())
	if hospitalID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "hospital could not be resolved")
	}
	dropped := h.cache.Invalidate(hospitalID)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"hospital_id": hospitalID,
		"invalidated": dropped,
	})
}
