// Package apperr defines the error taxonomy shared by the booking core and its
// HTTP surface.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Reason codes. The same codes label unavailable slots in availability
// responses, so the slot picker can render why a slot cannot be taken.
const (
	ReasonInvalidDate       = "invalid_date"
	ReasonInvalidTime       = "invalid_time"
	ReasonPastDate          = "past_date"
	ReasonTooFarAdvance     = "too_far_advance"
	ReasonHoliday           = "holiday"
	ReasonDoctorLeave       = "doctor_leave"
	ReasonDoctorUnavailable = "doctor_unavailable"
	ReasonOutsideHours      = "outside_hours"
	ReasonDuringBreak       = "during_break"
	ReasonDayOff            = "day_off"
	ReasonInvalidSlotTime   = "invalid_slot_time"
	ReasonAlreadyBooked     = "already_booked"
	ReasonSlotBlocked       = "slot_blocked"
	ReasonMaxPatients       = "max_patients_reached"
	ReasonSlotTooSoon       = "slot_too_soon"
	ReasonBookingTimeout    = "booking_timeout"
	ReasonAbsenceOverlap    = "absence_overlap"
	ReasonInvalidTransition = "invalid_status_transition"
	ReasonAlreadyCancelled  = "already_cancelled"
	ReasonSlotLinked        = "slot_linked"
)

// ValidationError reports every problem found in a request at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// Validation builds a ValidationError from one or more problems.
func Validation(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

// NotFoundError means the resource does not exist or belongs to another hospital.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError is a lost race or an overlapping record.
type ConflictError struct {
	Reason  string
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// Conflict builds a ConflictError.
func Conflict(reason, message string) *ConflictError {
	return &ConflictError{Reason: reason, Message: message}
}

// AppError is an expected business-rule refusal.
type AppError struct {
	Reason  string
	Message string
}

func (e *AppError) Error() string { return e.Message }

// Rule builds an AppError.
func Rule(reason, message string) *AppError {
	return &AppError{Reason: reason, Message: message}
}

// ReasonOf extracts the reason code carried by a conflict or rule error.
func ReasonOf(err error) string {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// Body is the JSON error envelope.
type Body struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Problems []string `json:"problems,omitempty"`
}

// ToHTTP converts an error into an echo HTTP error with a stable body.
func ToHTTP(err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	var (
		ve *ValidationError
		nf *NotFoundError
		ce *ConflictError
		ae *AppError
	)
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]Body{
			"error": {Code: "validation_error", Message: "request validation failed", Problems: ve.Problems},
		})
	case errors.As(err, &nf):
		return echo.NewHTTPError(http.StatusNotFound, map[string]Body{
			"error": {Code: "not_found", Message: nf.Error()},
		})
	case errors.As(err, &ce):
		return echo.NewHTTPError(http.StatusConflict, map[string]Body{
			"error": {Code: ce.Reason, Message: ce.Message},
		})
	case errors.As(err, &ae):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]Body{
			"error": {Code: ae.Reason, Message: ae.Message},
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, map[string]Body{
		"error": {Code: "internal_error", Message: "internal server error"},
	}).SetInternal(err)
}
