package scheduling

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcore/hms/internal/platform/apperr"
	"github.com/medcore/hms/internal/platform/auth"
	"github.com/medcore/hms/internal/platform/clock"
	"github.com/medcore/hms/internal/platform/db"
	"github.com/medcore/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Any authenticated caller
	api.GET("/doctors/:id/slots", h.GetAvailableSlots)
	api.POST("/appointments/validate", h.ValidateSlot)

	// Clinical reads – admin, staff, doctor
	read := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleDoctor))
	read.GET("/doctors/:id", h.GetDoctor)
	read.GET("/doctors/:id/schedule", h.GetSchedule)
	read.GET("/doctors/:id/absences", h.ListAbsences)
	read.GET("/appointments", h.ListAppointments)
	read.GET("/appointments/:id", h.GetAppointment)
	read.PATCH("/appointments/:id/status", h.UpdateAppointmentStatus)

	// Booking – admin, staff, patient (patients act on their own bookings)
	booking := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RolePatient))
	booking.POST("/appointments", h.CreateAppointment)
	booking.POST("/appointments/:id/cancel", h.CancelAppointment)
	booking.POST("/appointments/:id/reschedule", h.RescheduleAppointment)

	// Front desk – admin, staff
	staff := api.Group("", auth.RequireRole(auth.RoleStaff))
	staff.POST("/doctors/:id/absences", h.CreateAbsence)
	staff.POST("/absences/:id/cancel", h.CancelAbsence)
	staff.POST("/slots/:id/block", h.BlockSlot)
	staff.POST("/slots/:id/unblock", h.UnblockSlot)

	// Administration – admin only
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/doctors", h.CreateDoctor)
	admin.PATCH("/doctors/:id/booking-settings", h.UpdateBookingSettings)
	admin.PUT("/doctors/:id/schedule", h.SetSchedule)
	admin.POST("/doctors/:id/slots/generate", h.GenerateSlots)
	admin.POST("/doctors/:id/slots/regenerate", h.RegenerateSlots)
	admin.DELETE("/slots/:id", h.DeleteSlot)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func hospital(c echo.Context) uuid.UUID {
	return db.HospitalFromContext(c.Request().Context())
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

// selfPatient returns the caller's patient id when the caller may only act on
// their own appointments.
func selfPatient(ctx context.Context) (uuid.UUID, bool, error) {
	if auth.HasAnyRole(ctx, auth.RoleStaff) {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, true, echo.NewHTTPError(http.StatusForbidden, "patient identity is not a valid id")
	}
	return id, true, nil
}

// ownAppointment loads an appointment and hides it from patients who do not own it.
func (h *Handler) ownAppointment(c echo.Context, id uuid.UUID) error {
	ctx := c.Request().Context()
	patientID, restricted, err := selfPatient(ctx)
	if err != nil || !restricted {
		return err
	}
	appt, err := h.svc.GetAppointment(ctx, hospital(c), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if appt.PatientID != patientID {
		return apperr.ToHTTP(apperr.NotFound("appointment", id.String()))
	}
	return nil
}

// -- Doctor Handlers --

func (h *Handler) CreateDoctor(c echo.Context) error {
	var in DoctorInput
	if err := bind(c, &in); err != nil {
		return err
	}
	d, err := h.svc.CreateDoctor(c.Request().Context(), hospital(c), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), hospital(c), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateBookingSettings(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in BookingSettingsInput
	if err := bind(c, &in); err != nil {
		return err
	}
	d, err := h.svc.UpdateBookingSettings(c.Request().Context(), hospital(c), id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

// -- Schedule Handlers --

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.GetWeeklySchedule(c.Request().Context(), hospital(c), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"entries": entries})
}

type setScheduleRequest struct {
	Entries []ScheduleEntryInput `json:"entries"`
}

func (h *Handler) SetSchedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req setScheduleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	entries, err := h.svc.SetWeeklySchedule(c.Request().Context(), hospital(c), id, req.Entries)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"entries": entries})
}

// -- Absence Handlers --

func (h *Handler) CreateAbsence(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in AbsenceInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.svc.CreateAbsence(c.Request().Context(), hospital(c), id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListAbsences(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	f := AbsenceFilter{HospitalID: hospital(c), DoctorID: &id, Status: c.QueryParam("status")}
	var problems []string
	if v := c.QueryParam("from"); v != "" {
		if d, err := clock.ParseDate(v); err != nil {
			problems = append(problems, "from: "+err.Error())
		} else {
			f.From = &d
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if d, err := clock.ParseDate(v); err != nil {
			problems = append(problems, "to: "+err.Error())
		} else {
			f.To = &d
		}
	}
	if len(problems) > 0 {
		return apperr.ToHTTP(apperr.Validation(problems...))
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAbsences(c.Request().Context(), f, Page{Limit: pg.Limit, Offset: pg.Offset})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Absence{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithNext(c))
}

func (h *Handler) CancelAbsence(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.CancelAbsence(c.Request().Context(), hospital(c), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

// -- Slot Handlers --

type generateRequest struct {
	Days int `json:"days"`
}

func (h *Handler) GenerateSlots(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req generateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if v := c.QueryParam("days"); v != "" && req.Days == 0 {
		req.Days, _ = strconv.Atoi(v)
	}
	n, err := h.svc.GenerateSlotsForDoctor(c.Request().Context(), hospital(c), id, req.Days)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"generated": n})
}

type regenerateRequest struct {
	From string `json:"from"`
}

func (h *Handler) RegenerateSlots(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req regenerateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	from := clock.Today(h.svc.clock)
	if req.From != "" {
		if from, err = clock.ParseDate(req.From); err != nil {
			return apperr.ToHTTP(apperr.Validation("from: " + err.Error()))
		}
	}
	res, err := h.svc.RegenerateSlots(c.Request().Context(), hospital(c), id, from)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetAvailableSlots(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	date := c.QueryParam("date")
	if date == "" {
		date = clock.FormatDate(clock.Today(h.svc.clock))
	}
	res, err := h.svc.GetAvailableSlotsByDate(c.Request().Context(), hospital(c), id, date)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) BlockSlot(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sl, err := h.svc.BlockSlot(c.Request().Context(), hospital(c), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sl)
}

func (h *Handler) UnblockSlot(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sl, err := h.svc.UnblockSlot(c.Request().Context(), hospital(c), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sl)
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSlot(c.Request().Context(), hospital(c), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Appointment Handlers --

type validateRequest struct {
	DoctorID             uuid.UUID  `json:"doctor_id"`
	Date                 string     `json:"date"`
	Time                 string     `json:"time"`
	ExcludeAppointmentID *uuid.UUID `json:"exclude_appointment_id"`
}

func (h *Handler) ValidateSlot(c echo.Context) error {
	var req validateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.DoctorID == uuid.Nil {
		return apperr.ToHTTP(apperr.Validation("doctor_id is required"))
	}
	check, err := h.svc.ValidateSlotAvailability(c.Request().Context(), hospital(c), req.DoctorID, req.Date, req.Time, req.ExcludeAppointmentID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"available": true, "doctor": check.Doctor, "schedule": check.Schedule, "slot": check.Slot})
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var in AppointmentInput
	if err := bind(c, &in); err != nil {
		return err
	}
	ctx := c.Request().Context()
	patientID, restricted, err := selfPatient(ctx)
	if err != nil {
		return err
	}
	if restricted {
		in.PatientID = patientID
	}
	appt, err := h.svc.CreateAppointment(ctx, hospital(c), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), hospital(c), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	f := AppointmentFilter{HospitalID: hospital(c), Status: c.QueryParam("status")}
	var problems []string
	if v := c.QueryParam("doctor_id"); v != "" {
		if id, err := uuid.Parse(v); err != nil {
			problems = append(problems, "doctor_id is not a valid id")
		} else {
			f.DoctorID = &id
		}
	}
	if v := c.QueryParam("patient_id"); v != "" {
		if id, err := uuid.Parse(v); err != nil {
			problems = append(problems, "patient_id is not a valid id")
		} else {
			f.PatientID = &id
		}
	}
	if v := c.QueryParam("date"); v != "" {
		if d, err := clock.ParseDate(v); err != nil {
			problems = append(problems, "date: "+err.Error())
		} else {
			f.From, f.To = &d, &d
		}
	}
	if len(problems) > 0 {
		return apperr.ToHTTP(apperr.Validation(problems...))
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), f, Page{Limit: pg.Limit, Offset: pg.Offset})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithNext(c))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.ownAppointment(c, id); err != nil {
		return err
	}
	appt, err := h.svc.CancelAppointment(c.Request().Context(), hospital(c), id, req.Reason)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, appt)
}

type rescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.ownAppointment(c, id); err != nil {
		return err
	}
	appt, err := h.svc.RescheduleAppointment(c.Request().Context(), hospital(c), id, req.Date, req.Time)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, appt)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateAppointmentStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Status == "" {
		return apperr.ToHTTP(apperr.Validation("status is required"))
	}
	appt, err := h.svc.UpdateAppointmentStatus(c.Request().Context(), hospital(c), id, req.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, appt)
}
