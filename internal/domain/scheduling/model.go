package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Doctor carries the booking settings the slot rules depend on.
type Doctor struct {
	ID                  uuid.UUID `json:"id"`
	HospitalID          uuid.UUID `json:"hospital_id"`
	Name                string    `json:"name"`
	Email               string    `json:"email,omitempty"`
	Phone               string    `json:"phone,omitempty"`
	SlotDurationMinutes int       `json:"slot_duration_minutes"`
	MaxPatientsPerDay   int       `json:"max_patients_per_day"`
	IsActive            bool      `json:"is_active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// WeeklySchedule is one recurring working day of a doctor.
type WeeklySchedule struct {
	ID         uuid.UUID    `json:"id"`
	DoctorID   uuid.UUID    `json:"doctor_id"`
	DayOfWeek  time.Weekday `json:"day_of_week"`
	StartTime  TimeOfDay    `json:"start_time"`
	EndTime    TimeOfDay    `json:"end_time"`
	BreakStart *TimeOfDay   `json:"break_start,omitempty"`
	BreakEnd   *TimeOfDay   `json:"break_end,omitempty"`
	IsActive   bool         `json:"is_active"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Break returns the break window, if any.
func (s *WeeklySchedule) Break() (Window, bool) {
	if s.BreakStart == nil || s.BreakEnd == nil {
		return Window{}, false
	}
	return Window{Start: *s.BreakStart, End: *s.BreakEnd}, true
}

// AbsenceType classifies a doctor's time off.
type AbsenceType string

const (
	AbsenceAnnualLeave AbsenceType = "ANNUAL_LEAVE"
	AbsenceSickLeave   AbsenceType = "SICK_LEAVE"
	AbsenceConference  AbsenceType = "CONFERENCE"
	AbsenceTraining    AbsenceType = "TRAINING"
	AbsencePersonal    AbsenceType = "PERSONAL"
	AbsenceEmergency   AbsenceType = "EMERGENCY"
	AbsenceOther       AbsenceType = "OTHER"
)

var absenceTypes = map[AbsenceType]bool{
	AbsenceAnnualLeave: true,
	AbsenceSickLeave:   true,
	AbsenceConference:  true,
	AbsenceTraining:    true,
	AbsencePersonal:    true,
	AbsenceEmergency:   true,
	AbsenceOther:       true,
}

const (
	AbsenceActive    = "ACTIVE"
	AbsenceCancelled = "CANCELLED"
)

// Absence is a doctor's time off. Dates are inclusive calendar days.
type Absence struct {
	ID          uuid.UUID   `json:"id"`
	HospitalID  uuid.UUID   `json:"hospital_id"`
	DoctorID    uuid.UUID   `json:"doctor_id"`
	StartDate   time.Time   `json:"start_date"`
	EndDate     time.Time   `json:"end_date"`
	Type        AbsenceType `json:"absence_type"`
	IsFullDay   bool        `json:"is_full_day"`
	StartTime   *TimeOfDay  `json:"start_time,omitempty"`
	EndTime     *TimeOfDay  `json:"end_time,omitempty"`
	Status      string      `json:"status"`
	Reason      string      `json:"reason,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CancelledAt *time.Time  `json:"cancelled_at,omitempty"`
}

// CoversDate reports whether date falls inside the absence's range.
func (a *Absence) CoversDate(date time.Time) bool {
	return !date.Before(a.StartDate) && !date.After(a.EndDate)
}

func (a *Absence) window() Window {
	if a.IsFullDay || a.StartTime == nil || a.EndTime == nil {
		return Window{Start: 0, End: minutesPerDay}
	}
	return Window{Start: *a.StartTime, End: *a.EndTime}
}

// Overlaps reports whether a slot on date is touched by the absence.
func (a *Absence) Overlaps(date time.Time, w Window) bool {
	return a.CoversDate(date) && (a.IsFullDay || a.window().Overlaps(w))
}

// Contains reports whether a slot on date lies fully inside the absence.
func (a *Absence) Contains(date time.Time, w Window) bool {
	return a.CoversDate(date) && (a.IsFullDay || a.window().Contains(w))
}

// Slot is one bookable unit, unique on (doctor, date, start).
type Slot struct {
	ID               uuid.UUID  `json:"id"`
	HospitalID       uuid.UUID  `json:"hospital_id"`
	DoctorID         uuid.UUID  `json:"doctor_id"`
	Date             time.Time  `json:"date"`
	StartTime        TimeOfDay  `json:"start_time"`
	EndTime          TimeOfDay  `json:"end_time"`
	IsAvailable      bool       `json:"is_available"`
	IsBlocked        bool       `json:"is_blocked"`
	ManuallyBlocked  bool       `json:"manually_blocked"`
	BlockedAbsenceID *uuid.UUID `json:"blocked_absence_id,omitempty"`
	AppointmentID    *uuid.UUID `json:"appointment_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (s *Slot) Window() Window { return Window{Start: s.StartTime, End: s.EndTime} }

// Appointment statuses.
const (
	StatusScheduled  = "SCHEDULED"
	StatusConfirmed  = "CONFIRMED"
	StatusCheckedIn  = "CHECKED_IN"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
	StatusNoShow     = "NO_SHOW"
)

// TerminalStatuses never hold a slot for future use.
var TerminalStatuses = []string{StatusCompleted, StatusCancelled, StatusNoShow}

var transitions = map[string][]string{
	StatusScheduled:  {StatusConfirmed, StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

// IsTerminal reports whether status ends the appointment.
func IsTerminal(status string) bool {
	for _, s := range TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Appointment is the booking that owns a slot while it is not cancelled.
type Appointment struct {
	ID                 uuid.UUID `json:"id"`
	HospitalID         uuid.UUID `json:"hospital_id"`
	PatientID          uuid.UUID `json:"patient_id"`
	DoctorID           uuid.UUID `json:"doctor_id"`
	Date               time.Time `json:"date"`
	Time               TimeOfDay `json:"time"`
	Status             string    `json:"status"`
	TokenNumber        int       `json:"token_number"`
	Reason             string    `json:"reason,omitempty"`
	PatientName        string    `json:"patient_name,omitempty"`
	PatientEmail       string    `json:"patient_email,omitempty"`
	PatientPhone       string    `json:"patient_phone,omitempty"`
	CancellationReason string    `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Page is a limit/offset window. A zero Limit returns every row.
type Page struct {
	Limit  int
	Offset int
}

// DoctorFilter selects doctors of one hospital.
type DoctorFilter struct {
	HospitalID uuid.UUID
	ActiveOnly bool
}

// AbsenceFilter selects absences of one hospital. From/To match absences
// whose range intersects [From, To].
type AbsenceFilter struct {
	HospitalID uuid.UUID
	DoctorID   *uuid.UUID
	Status     string
	From       *time.Time
	To         *time.Time
}

// AppointmentFilter selects appointments of one hospital. From/To bound the
// appointment date inclusively.
type AppointmentFilter struct {
	HospitalID  uuid.UUID
	DoctorID    *uuid.UUID
	PatientID   *uuid.UUID
	Status      string
	From        *time.Time
	To          *time.Time
	NonTerminal bool
}

// SlotFilter selects one doctor's slots over a date range.
type SlotFilter struct {
	HospitalID uuid.UUID
	DoctorID   uuid.UUID
	From       time.Time
	To         time.Time
}
