package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medcore/hms/internal/platform/apperr"
	"github.com/medcore/hms/internal/platform/clock"
)

// SlotView is a slot as the slot picker renders it. Reason says why a slot
// cannot be taken and is empty when Bookable.
type SlotView struct {
	ID          uuid.UUID `json:"id"`
	StartTime   TimeOfDay `json:"start_time"`
	EndTime     TimeOfDay `json:"end_time"`
	IsAvailable bool      `json:"is_available"`
	IsBlocked   bool      `json:"is_blocked"`
	Bookable    bool      `json:"bookable"`
	Reason      string    `json:"reason,omitempty"`
}

// DayAvailability answers "what can be booked with this doctor on this day".
// A refused day carries Reason and no slots.
type DayAvailability struct {
	DoctorID    uuid.UUID  `json:"doctor_id"`
	Date        string     `json:"date"`
	Available   bool       `json:"available"`
	Reason      string     `json:"reason,omitempty"`
	Message     string     `json:"message,omitempty"`
	MaxPatients int        `json:"max_patients_per_day"`
	BookedCount int        `json:"booked_count"`
	MaxReached  bool       `json:"max_patients_reached"`
	Slots       []SlotView `json:"slots"`
}

func (d *DayAvailability) refuse(reason, message string) *DayAvailability {
	d.Available = false
	d.Reason = reason
	d.Message = message
	d.Slots = []SlotView{}
	return d
}

// GetAvailableSlotsByDate lists a doctor's slots for one day with a reason on
// each slot that cannot be booked. Refusals of the whole day are reported in
// the result, not as errors. Slots are generated on first look, including
// days that so far hold only slots created by bookings.
func (s *Service) GetAvailableSlotsByDate(ctx context.Context, hospitalID, doctorID uuid.UUID, date string) (*DayAvailability, error) {
	res := &DayAvailability{DoctorID: doctorID, Date: date, Slots: []SlotView{}}

	day, err := clock.ParseDate(date)
	if err != nil {
		return res.refuse(apperr.ReasonInvalidDate, err.Error()), nil
	}
	doctor, err := s.doctors.Get(ctx, hospitalID, doctorID)
	if err != nil {
		return nil, err
	}
	res.MaxPatients = doctor.MaxPatientsPerDay

	if !doctor.IsActive {
		return res.refuse(apperr.ReasonDoctorUnavailable, "doctor is not accepting appointments"), nil
	}
	if reason, msg := s.checkWindow(day); reason != "" {
		return res.refuse(reason, msg), nil
	}
	name, err := s.holidays.HolidayName(ctx, hospitalID, day)
	if err != nil {
		return nil, err
	}
	if name != "" {
		return res.refuse(apperr.ReasonHoliday, "hospital closed for "+name), nil
	}
	absences, err := s.activeAbsences(ctx, doctor, day, day)
	if err != nil {
		return nil, err
	}
	if fullDayAbsence(absences, day) != nil {
		return res.refuse(apperr.ReasonDoctorLeave, "doctor is on leave"), nil
	}

	filter := SlotFilter{HospitalID: hospitalID, DoctorID: doctorID, From: day, To: day}
	slots, err := s.slots.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if onlyBooked(slots) {
		if _, err := s.generateRange(ctx, doctor, day, day); err != nil {
			return nil, err
		}
		if slots, err = s.slots.List(ctx, filter); err != nil {
			return nil, err
		}
	}
	if len(slots) == 0 {
		return res.refuse(apperr.ReasonDayOff, "doctor does not work on this day"), nil
	}

	for _, sl := range slots {
		if sl.AppointmentID != nil {
			res.BookedCount++
		}
	}
	res.MaxReached = res.BookedCount >= doctor.MaxPatientsPerDay

	nowMin := -1
	if day.Equal(s.today()) {
		nowMin = clock.MinutesNow(s.clock)
	}
	for _, sl := range slots {
		reason := s.slotReason(sl, day, absences, res.MaxReached, nowMin)
		res.Slots = append(res.Slots, SlotView{
			ID:          sl.ID,
			StartTime:   sl.StartTime,
			EndTime:     sl.EndTime,
			IsAvailable: sl.IsAvailable,
			IsBlocked:   sl.IsBlocked,
			Bookable:    reason == "",
			Reason:      reason,
		})
		if reason == "" {
			res.Available = true
		}
	}
	return res, nil
}

// onlyBooked reports whether the day was never generated. Slots inserted by a
// booking on an unmaterialized day do not count.
func onlyBooked(slots []*Slot) bool {
	for _, sl := range slots {
		if sl.AppointmentID == nil {
			return false
		}
	}
	return true
}

// slotReason picks the first rule that stops a slot from being booked.
// nowMin is negative unless day is today.
func (s *Service) slotReason(sl *Slot, day time.Time, absences []*Absence, maxReached bool, nowMin int) string {
	switch {
	case sl.AppointmentID != nil:
		return apperr.ReasonAlreadyBooked
	case sl.IsBlocked && sl.BlockedAbsenceID != nil && !sl.ManuallyBlocked:
		return apperr.ReasonDoctorLeave
	case sl.IsBlocked:
		return apperr.ReasonSlotBlocked
	case firstOverlapping(absences, day, sl.Window()) != nil:
		return apperr.ReasonDoctorLeave
	case nowMin >= 0 && int(sl.StartTime) < nowMin+s.opts.BookingBufferMinutes:
		return apperr.ReasonSlotTooSoon
	case maxReached:
		return apperr.ReasonMaxPatients
	}
	return ""
}

// checkWindow applies the past-date and advance-booking limits.
func (s *Service) checkWindow(day time.Time) (reason, message string) {
	today := s.today()
	if day.Before(today) {
		return apperr.ReasonPastDate, "date is in the past"
	}
	if clock.DaysBetween(today, day) > s.opts.MaxAdvanceDays {
		return apperr.ReasonTooFarAdvance,
			fmt.Sprintf("appointments can be booked at most %d days ahead", s.opts.MaxAdvanceDays)
	}
	return "", ""
}

// BlockSlot marks a slot as blocked by staff. A booked slot stays booked.
func (s *Service) BlockSlot(ctx context.Context, hospitalID, slotID uuid.UUID) (*Slot, error) {
	if _, err := s.slots.Get(ctx, hospitalID, slotID); err != nil {
		return nil, err
	}
	return s.slots.SetManualBlock(ctx, slotID, true)
}

// UnblockSlot lifts a staff block. A block coming from an active absence
// stays in force.
func (s *Service) UnblockSlot(ctx context.Context, hospitalID, slotID uuid.UUID) (*Slot, error) {
	sl, err := s.slots.Get(ctx, hospitalID, slotID)
	if err != nil {
		return nil, err
	}
	if sl.AppointmentID != nil {
		return nil, apperr.Conflict(apperr.ReasonSlotLinked, "slot is linked to an appointment")
	}
	return s.slots.SetManualBlock(ctx, slotID, false)
}

// DeleteSlot removes a slot that no appointment holds.
func (s *Service) DeleteSlot(ctx context.Context, hospitalID, slotID uuid.UUID) error {
	sl, err := s.slots.Get(ctx, hospitalID, slotID)
	if err != nil {
		return err
	}
	if sl.AppointmentID != nil {
		return apperr.Conflict(apperr.ReasonSlotLinked, "slot is linked to an appointment")
	}
	return s.slots.Delete(ctx, slotID)
}
