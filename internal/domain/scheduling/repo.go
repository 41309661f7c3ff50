package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSlotTaken is returned when a slot row for the same doctor, date and start
// already exists.
var ErrSlotTaken = errors.New("slot already exists")

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	Get(ctx context.Context, hospitalID, id uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	List(ctx context.Context, f DoctorFilter) ([]*Doctor, error)
}

type ScheduleRepository interface {
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]WeeklySchedule, error)
	// Replace deletes every entry of the doctor and inserts entries. Callers
	// run it inside a transaction.
	Replace(ctx context.Context, doctorID uuid.UUID, entries []WeeklySchedule) error
}

type AbsenceRepository interface {
	Create(ctx context.Context, a *Absence) error
	Get(ctx context.Context, hospitalID, id uuid.UUID) (*Absence, error)
	List(ctx context.Context, f AbsenceFilter, p Page) ([]*Absence, int, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AbsenceBlock describes the slots an absence blocks on creation.
type AbsenceBlock struct {
	AbsenceID uuid.UUID
	DoctorID  uuid.UUID
	From      time.Time
	To        time.Time
	// Within is nil for full-day absences; otherwise only slots fully inside
	// it are blocked.
	Within *Window
}

type SlotRepository interface {
	// Upsert inserts new slots and, for existing ones, refreshes only the
	// absence-derived block state. It returns the number of rows touched.
	Upsert(ctx context.Context, slots []*Slot) (int, error)
	Get(ctx context.Context, hospitalID, id uuid.UUID) (*Slot, error)
	GetByKey(ctx context.Context, doctorID uuid.UUID, date time.Time, start TimeOfDay) (*Slot, error)
	List(ctx context.Context, f SlotFilter) ([]*Slot, error)
	CountBooked(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error)
	// InsertBooked creates a slot already linked to its appointment. It
	// returns ErrSlotTaken when the key exists.
	InsertBooked(ctx context.Context, s *Slot) error
	// MarkBooked links a free, unblocked slot. It reports false when the
	// slot was not free.
	MarkBooked(ctx context.Context, slotID, appointmentID uuid.UUID) (bool, error)
	// Release frees whatever slot is linked to the appointment.
	Release(ctx context.Context, appointmentID uuid.UUID) (bool, error)
	BlockForAbsence(ctx context.Context, b AbsenceBlock) (int, error)
	// UnblockForAbsence drops the absence as a block source. Booked slots
	// keep their block flag until released.
	UnblockForAbsence(ctx context.Context, absenceID uuid.UUID) (int, error)
	SetManualBlock(ctx context.Context, id uuid.UUID, blocked bool) (*Slot, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteFree removes free, unlinked, not manually blocked slots dated
	// from onwards.
	DeleteFree(ctx context.Context, doctorID uuid.UUID, from time.Time) (int, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	Get(ctx context.Context, hospitalID, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f AppointmentFilter, p Page) ([]*Appointment, int, error)
	// NextToken returns 1 + the highest token issued for the doctor and date.
	NextToken(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error)
}
