package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medcore/hms/internal/platform/clock"
	"github.com/medcore/hms/internal/platform/db"
)

// BuildDaySlots splits a schedule day into duration-long windows ending no
// later than the schedule end. A window touching the break is dropped whole
// and the cursor resumes at the break end.
func BuildDaySlots(s WeeklySchedule, duration int) []Window {
	if duration <= 0 || s.StartTime >= s.EndTime {
		return nil
	}
	brk, hasBreak := s.Break()

	var out []Window
	cursor := s.StartTime
	for cursor.Add(duration) <= s.EndTime {
		w := Window{Start: cursor, End: cursor.Add(duration)}
		if hasBreak && w.Overlaps(brk) {
			cursor = brk.End
			continue
		}
		out = append(out, w)
		cursor = w.End
	}
	return out
}

// RegenerateResult reports what a regeneration changed.
type RegenerateResult struct {
	Deleted   int `json:"deleted"`
	Generated int `json:"generated"`
}

// GenerateSlotsForDoctor materializes slots for the next daysAhead calendar
// days, starting today. Existing slots keep their booking state.
func (s *Service) GenerateSlotsForDoctor(ctx context.Context, hospitalID, doctorID uuid.UUID, daysAhead int) (int, error) {
	if daysAhead <= 0 {
		daysAhead = s.opts.GenerationDays
	}
	doctor, err := s.doctors.Get(ctx, hospitalID, doctorID)
	if err != nil {
		return 0, err
	}
	from := s.today()
	return s.generateRange(ctx, doctor, from, from.AddDate(0, 0, daysAhead-1))
}

// RegenerateSlots drops free, unlinked slots from the given day on and
// generates them again from the current schedule. Booked and manually blocked
// slots are kept.
func (s *Service) RegenerateSlots(ctx context.Context, hospitalID, doctorID uuid.UUID, from time.Time) (*RegenerateResult, error) {
	doctor, err := s.doctors.Get(ctx, hospitalID, doctorID)
	if err != nil {
		return nil, err
	}
	today := s.today()
	if from.Before(today) {
		from = today
	}
	to := today.AddDate(0, 0, s.opts.GenerationDays-1)

	var res RegenerateResult
	err = s.tx.InTx(ctx, db.TxOptions{}, func(ctx context.Context) error {
		var err error
		if res.Deleted, err = s.slots.DeleteFree(ctx, doctor.ID, from); err != nil {
			return err
		}
		res.Generated, err = s.generateRange(ctx, doctor, from, to)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("regenerate slots: %w", err)
	}
	s.logger.Info().
		Str("doctor_id", doctor.ID.String()).
		Str("from", clock.FormatDate(from)).
		Int("deleted", res.Deleted).
		Int("generated", res.Generated).
		Msg("slots regenerated")
	return &res, nil
}

func (s *Service) generateRange(ctx context.Context, doctor *Doctor, from, to time.Time) (int, error) {
	if !doctor.IsActive || to.Before(from) {
		return 0, nil
	}

	entries, err := s.schedules.ListByDoctor(ctx, doctor.ID)
	if err != nil {
		return 0, err
	}
	byDay := make(map[time.Weekday]WeeklySchedule, len(entries))
	for _, e := range entries {
		if e.IsActive {
			byDay[e.DayOfWeek] = e
		}
	}
	if len(byDay) == 0 {
		return 0, nil
	}

	holidays, err := s.holidays.HolidaysInRange(ctx, doctor.HospitalID, from, to)
	if err != nil {
		return 0, fmt.Errorf("load holidays: %w", err)
	}
	closed := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		closed[clock.FormatDate(h.Date)] = true
	}

	absences, err := s.activeAbsences(ctx, doctor, from, to)
	if err != nil {
		return 0, err
	}

	existing, err := s.slots.List(ctx, SlotFilter{HospitalID: doctor.HospitalID, DoctorID: doctor.ID, From: from, To: to})
	if err != nil {
		return 0, fmt.Errorf("load slots: %w", err)
	}
	booked := make(map[string][]Window)
	for _, sl := range existing {
		if sl.AppointmentID != nil {
			key := clock.FormatDate(sl.Date)
			booked[key] = append(booked[key], sl.Window())
		}
	}

	var batch []*Slot
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if closed[clock.FormatDate(day)] {
			continue
		}
		entry, ok := byDay[day.Weekday()]
		if !ok {
			continue
		}
		taken := booked[clock.FormatDate(day)]
		for _, w := range BuildDaySlots(entry, doctor.SlotDurationMinutes) {
			if straddlesBooking(taken, w) {
				continue
			}
			slot := &Slot{
				HospitalID:  doctor.HospitalID,
				DoctorID:    doctor.ID,
				Date:        day,
				StartTime:   w.Start,
				EndTime:     w.End,
				IsAvailable: true,
			}
			if a := firstOverlapping(absences, day, w); a != nil {
				id := a.ID
				slot.BlockedAbsenceID = &id
				slot.IsBlocked = true
			}
			batch = append(batch, slot)
		}
	}

	n, err := s.slots.Upsert(ctx, batch)
	if err != nil {
		return 0, err
	}
	s.metrics.SlotsGenerated(n)
	return n, nil
}

func (s *Service) activeAbsences(ctx context.Context, doctor *Doctor, from, to time.Time) ([]*Absence, error) {
	items, _, err := s.absences.List(ctx, AbsenceFilter{
		HospitalID: doctor.HospitalID,
		DoctorID:   &doctor.ID,
		Status:     AbsenceActive,
		From:       &from,
		To:         &to,
	}, Page{})
	if err != nil {
		return nil, fmt.Errorf("load absences: %w", err)
	}
	return items, nil
}

// straddlesBooking reports whether w shares minutes with a booked slot that
// starts elsewhere. A booked slot on the same start is kept by the upsert.
func straddlesBooking(booked []Window, w Window) bool {
	for _, b := range booked {
		if b.Start != w.Start && b.Overlaps(w) {
			return true
		}
	}
	return false
}

func firstOverlapping(absences []*Absence, day time.Time, w Window) *Absence {
	for _, a := range absences {
		if a.Overlaps(day, w) {
			return a
		}
	}
	return nil
}

func fullDayAbsence(absences []*Absence, day time.Time) *Absence {
	for _, a := range absences {
		if a.IsFullDay && a.CoversDate(day) {
			return a
		}
	}
	return nil
}
