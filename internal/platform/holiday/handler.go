package holiday

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcore/hms/internal/platform/apperr"
	"github.com/medcore/hms/internal/platform/clock"
	"github.com/medcore/hms/internal/platform/db"
)

type Handler struct {
	store Store
	clock clock.Clock
}

func NewHandler(store Store, c clock.Clock) *Handler {
	return &Handler{store: store, clock: c}
}

// RegisterRoutes mounts reads on any authenticated group and writes on the
// admin group.
func (h *Handler) RegisterRoutes(read, admin *echo.Group) {
	read.GET("/holidays", h.List)
	admin.POST("/holidays", h.Create)
	admin.DELETE("/holidays/:id", h.Delete)
}

type createRequest struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var problems []string
	date, err := clock.ParseDate(req.Date)
	if err != nil {
		problems = append(problems, err.Error())
	}
	if strings.TrimSpace(req.Name) == "" {
		problems = append(problems, "name is required")
	}
	if len(problems) > 0 {
		return apperr.ToHTTP(apperr.Validation(problems...))
	}

	hol := &Holiday{
		HospitalID: db.HospitalFromContext(c.Request().Context()),
		Date:       date,
		Name:       strings.TrimSpace(req.Name),
	}
	if err := h.store.Create(c.Request().Context(), hol); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, hol)
}

// List defaults to the coming year.
func (h *Handler) List(c echo.Context) error {
	from := clock.Today(h.clock)
	to := from.AddDate(1, 0, 0)

	var problems []string
	if v := c.QueryParam("from"); v != "" {
		d, err := clock.ParseDate(v)
		if err != nil {
			problems = append(problems, "from: "+err.Error())
		}
		from = d
	}
	if v := c.QueryParam("to"); v != "" {
		d, err := clock.ParseDate(v)
		if err != nil {
			problems = append(problems, "to: "+err.Error())
		}
		to = d
	}
	if len(problems) == 0 && to.Before(from) {
		problems = append(problems, "to must not be before from")
	}
	if len(problems) > 0 {
		return apperr.ToHTTP(apperr.Validation(problems...))
	}

	list, err := h.store.HolidaysInRange(c.Request().Context(), db.HospitalFromContext(c.Request().Context()), from, to)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if list == nil {
		list = []Holiday{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"from":     from.Format(clock.DateLayout),
		"to":       to.Format(clock.DateLayout),
		"holidays": list,
	})
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid holiday id"))
	}
	if err := h.store.Delete(c.Request().Context(), db.HospitalFromContext(c.Request().Context()), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
