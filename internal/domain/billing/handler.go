package billing

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medcore/hms/internal/platform/apperr"
	"github.com/medcore/hms/internal/platform/db"
	"github.com/medcore/hms/pkg/pagination"
)

type Handler struct {
	trigger *Trigger
}

func NewHandler(t *Trigger) *Handler {
	return &Handler{trigger: t}
}

func (h *Handler) RegisterRoutes(staff *echo.Group) {
	staff.GET("/billing/pending", h.ListPending)
}

func (h *Handler) ListPending(c echo.Context) error {
	pg := pagination.FromContext(c)
	hospitalID := db.HospitalFromContext(c.Request().Context())
	items, total, err := h.trigger.ListPending(c.Request().Context(), hospitalID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*PendingBill{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithNext(c))
}
