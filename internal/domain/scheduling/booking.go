package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medcore/hms/internal/platform/apperr"
	"github.com/medcore/hms/internal/platform/clock"
	"github.com/medcore/hms/internal/platform/db"
)

// SlotCheck is what a successful availability check resolved.
type SlotCheck struct {
	Doctor   *Doctor         `json:"doctor"`
	Schedule *WeeklySchedule `json:"schedule"`
	Date     time.Time       `json:"date"`
	Slot     Window          `json:"slot"`
}

func parseDateTime(date, at string) (time.Time, TimeOfDay, error) {
	var problems []string
	day, err := clock.ParseDate(date)
	if err != nil {
		problems = append(problems, err.Error())
	}
	t, err := ParseTimeOfDay(at)
	if err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return time.Time{}, 0, apperr.Validation(problems...)
	}
	return day, t, nil
}

// ValidateSlotAvailability runs every booking rule for (doctor, date, time)
// without reserving anything. exclude names an appointment being moved, whose
// own slot and capacity do not count against it.
func (s *Service) ValidateSlotAvailability(ctx context.Context, hospitalID, doctorID uuid.UUID, date, at string, exclude *uuid.UUID) (*SlotCheck, error) {
	day, t, err := parseDateTime(date, at)
	if err != nil {
		return nil, err
	}
	doctor, err := s.bookingPrecheck(ctx, hospitalID, doctorID, day, t)
	if err != nil {
		return nil, err
	}
	w := Window{Start: t, End: t.Add(doctor.SlotDurationMinutes)}

	entry, err := s.scheduledEntry(ctx, doctor, day, w)
	if err != nil {
		return nil, err
	}

	booked, err := s.slots.CountBooked(ctx, doctor.ID, day)
	if err != nil {
		return nil, err
	}
	if exclude != nil {
		moving, err := s.appts.Get(ctx, hospitalID, *exclude)
		if err != nil {
			return nil, err
		}
		if moving.DoctorID == doctor.ID && moving.Date.Equal(day) && !IsTerminal(moving.Status) {
			booked--
		}
	}
	if booked >= doctor.MaxPatientsPerDay {
		return nil, maxPatientsErr(doctor)
	}

	existing, err := s.slots.GetByKey(ctx, doctor.ID, day, t)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		ownSlot := exclude != nil && existing.AppointmentID != nil && *existing.AppointmentID == *exclude
		if existing.AppointmentID != nil && !ownSlot {
			return nil, alreadyBookedErr()
		}
		if existing.IsBlocked {
			return nil, apperr.Rule(apperr.ReasonSlotBlocked, "slot is blocked")
		}
	}
	if err := s.checkBookedOverlap(ctx, doctor, day, w, exclude); err != nil {
		return nil, err
	}

	return &SlotCheck{Doctor: doctor, Schedule: entry, Date: day, Slot: w}, nil
}

// BookSlotByDateTime reserves the slot for appointmentID. The cheap rules run
// first; capacity and the slot row are re-checked inside a serializable
// transaction so that only one of several concurrent bookers wins.
func (s *Service) BookSlotByDateTime(ctx context.Context, hospitalID, doctorID uuid.UUID, date time.Time, at TimeOfDay, appointmentID uuid.UUID) (*Slot, error) {
	doctor, err := s.bookingPrecheck(ctx, hospitalID, doctorID, date, at)
	if err != nil {
		s.recordBooking(err)
		return nil, err
	}

	var slot *Slot
	err = s.runBookingTx(ctx, "book_slot", func(ctx context.Context) error {
		var err error
		slot, err = s.reserve(ctx, doctor, date, at, appointmentID)
		return err
	})
	s.recordBooking(err)
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// ReleaseSlot frees the slot linked to the appointment. Releasing an
// appointment that holds no slot is a no-op.
func (s *Service) ReleaseSlot(ctx context.Context, appointmentID uuid.UUID) error {
	released, err := s.slots.Release(ctx, appointmentID)
	if err != nil {
		return err
	}
	if released {
		s.logger.Debug().Str("appointment_id", appointmentID.String()).Msg("slot released")
	}
	return nil
}

// bookingPrecheck applies the rules that need no lock.
func (s *Service) bookingPrecheck(ctx context.Context, hospitalID, doctorID uuid.UUID, day time.Time, at TimeOfDay) (*Doctor, error) {
	if at < 0 || at >= minutesPerDay {
		return nil, apperr.Validation(fmt.Sprintf("invalid time %d", int(at)))
	}
	doctor, err := s.doctors.Get(ctx, hospitalID, doctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.IsActive {
		return nil, apperr.Rule(apperr.ReasonDoctorUnavailable, "doctor is not accepting appointments")
	}
	if reason, msg := s.checkWindow(day); reason != "" {
		return nil, apperr.Rule(reason, msg)
	}
	if day.Equal(s.today()) && int(at) < clock.MinutesNow(s.clock)+s.opts.BookingBufferMinutes {
		return nil, apperr.Rule(apperr.ReasonSlotTooSoon,
			fmt.Sprintf("slots must be booked at least %d minutes ahead", s.opts.BookingBufferMinutes))
	}

	absences, err := s.activeAbsences(ctx, doctor, day, day)
	if err != nil {
		return nil, err
	}
	w := Window{Start: at, End: at.Add(doctor.SlotDurationMinutes)}
	if firstOverlapping(absences, day, w) != nil {
		return nil, apperr.Rule(apperr.ReasonDoctorLeave, "doctor is on leave")
	}

	name, err := s.holidays.HolidayName(ctx, hospitalID, day)
	if err != nil {
		return nil, err
	}
	if name != "" {
		return nil, apperr.Rule(apperr.ReasonHoliday, "hospital closed for "+name)
	}
	return doctor, nil
}

// scheduledEntry returns the doctor's schedule for day once w is known to be
// one of its generated slots.
func (s *Service) scheduledEntry(ctx context.Context, doctor *Doctor, day time.Time, w Window) (*WeeklySchedule, error) {
	entry, err := s.scheduleFor(ctx, doctor.ID, day.Weekday())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperr.Rule(apperr.ReasonDayOff, fmt.Sprintf("doctor does not work on %s", day.Weekday()))
	}
	if err := fitsSchedule(entry, w, doctor.SlotDurationMinutes); err != nil {
		return nil, err
	}
	return entry, nil
}

// checkBookedOverlap rejects w when it shares minutes with another booked slot
// that day. Booked slots keep their times across a duration change, so the
// grid alone does not rule this out. exclude names an appointment whose own
// slot is ignored.
func (s *Service) checkBookedOverlap(ctx context.Context, doctor *Doctor, day time.Time, w Window, exclude *uuid.UUID) error {
	slots, err := s.slots.List(ctx, SlotFilter{HospitalID: doctor.HospitalID, DoctorID: doctor.ID, From: day, To: day})
	if err != nil {
		return err
	}
	for _, sl := range slots {
		if sl.AppointmentID == nil || sl.StartTime == w.Start {
			continue
		}
		if exclude != nil && *sl.AppointmentID == *exclude {
			continue
		}
		if sl.Window().Overlaps(w) {
			return apperr.Conflict(apperr.ReasonAlreadyBooked,
				fmt.Sprintf("overlaps the booked slot %s-%s", sl.StartTime, sl.EndTime))
		}
	}
	return nil
}

// reserve is the transactional half of a booking. It must run inside a
// serializable transaction.
func (s *Service) reserve(ctx context.Context, doctor *Doctor, day time.Time, at TimeOfDay, appointmentID uuid.UUID) (*Slot, error) {
	booked, err := s.slots.CountBooked(ctx, doctor.ID, day)
	if err != nil {
		return nil, err
	}
	if booked >= doctor.MaxPatientsPerDay {
		return nil, maxPatientsErr(doctor)
	}

	w := Window{Start: at, End: at.Add(doctor.SlotDurationMinutes)}
	if err := s.checkBookedOverlap(ctx, doctor, day, w, nil); err != nil {
		return nil, err
	}

	existing, err := s.slots.GetByKey(ctx, doctor.ID, day, at)
	if apperr.IsNotFound(err) {
		// Only a slot the generator would have produced may be created here.
		if _, err := s.scheduledEntry(ctx, doctor, day, w); err != nil {
			return nil, err
		}
		slot := &Slot{
			HospitalID:    doctor.HospitalID,
			DoctorID:      doctor.ID,
			Date:          day,
			StartTime:     w.Start,
			EndTime:       w.End,
			AppointmentID: &appointmentID,
		}
		if err := s.slots.InsertBooked(ctx, slot); err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return nil, alreadyBookedErr()
			}
			return nil, err
		}
		return slot, nil
	}
	if err != nil {
		return nil, err
	}

	switch {
	case existing.AppointmentID != nil:
		return nil, alreadyBookedErr()
	case existing.IsBlocked:
		return nil, apperr.Rule(apperr.ReasonSlotBlocked, "slot is blocked")
	}
	ok, err := s.slots.MarkBooked(ctx, existing.ID, appointmentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, alreadyBookedErr()
	}
	existing.IsAvailable = false
	existing.AppointmentID = &appointmentID
	return existing, nil
}

// bookingAttempts is how often a booking transaction runs. An abort caused by
// a concurrent booking of a different slot is re-checked once, so the loser
// learns whether it really lost its slot or its day filled up.
const bookingAttempts = 2

// runBookingTx runs fn serializably under the booking deadline and turns
// driver-level outcomes into booking errors.
func (s *Service) runBookingTx(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= bookingAttempts; attempt++ {
		start := time.Now()
		err = s.tx.InTx(ctx, s.serializable(), fn)
		s.timed(op, start)
		if !db.IsSerializationFailure(err) {
			break
		}
		s.logger.Debug().Str("op", op).Int("attempt", attempt).Msg("booking aborted by a concurrent transaction")
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrTxTimeout):
		return apperr.Rule(apperr.ReasonBookingTimeout, "booking did not complete in time, please retry")
	case db.IsSerializationFailure(err):
		return alreadyBookedErr()
	}
	return err
}

func (s *Service) recordBooking(err error) {
	switch {
	case err == nil:
		s.metrics.BookingAttempt("booked")
	case apperr.ReasonOf(err) != "":
		s.metrics.BookingAttempt(apperr.ReasonOf(err))
	case apperr.IsNotFound(err):
		s.metrics.BookingAttempt("not_found")
	default:
		s.metrics.BookingAttempt("error")
	}
}

func (s *Service) scheduleFor(ctx context.Context, doctorID uuid.UUID, day time.Weekday) (*WeeklySchedule, error) {
	entries, err := s.schedules.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].DayOfWeek == day && entries[i].IsActive {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// fitsSchedule checks that w is one of the slots the generator would produce
// for entry.
func fitsSchedule(entry *WeeklySchedule, w Window, duration int) error {
	if w.Start < entry.StartTime || w.End > entry.EndTime {
		return apperr.Rule(apperr.ReasonOutsideHours,
			fmt.Sprintf("doctor works %s-%s", entry.StartTime, entry.EndTime))
	}
	if brk, ok := entry.Break(); ok && w.Overlaps(brk) {
		return apperr.Rule(apperr.ReasonDuringBreak,
			fmt.Sprintf("doctor is on break %s-%s", brk.Start, brk.End))
	}
	for _, cand := range BuildDaySlots(*entry, duration) {
		if cand.Start == w.Start {
			return nil
		}
	}
	return apperr.Rule(apperr.ReasonInvalidSlotTime, fmt.Sprintf("%s is not a slot start time", w.Start))
}

func alreadyBookedErr() error {
	return apperr.Conflict(apperr.ReasonAlreadyBooked, "slot is already booked")
}

func maxPatientsErr(d *Doctor) error {
	return apperr.Rule(apperr.ReasonMaxPatients,
		fmt.Sprintf("doctor already has %d appointments that day", d.MaxPatientsPerDay))
}
