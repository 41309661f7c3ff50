package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/medcore/hms/internal/platform/apperr"
	"github.com/medcore/hms/internal/platform/clock"
	"github.com/medcore/hms/internal/platform/notification"
)

// AbsenceInput records a doctor's time off. IsFullDay defaults to true;
// partial days need StartTime and EndTime.
type AbsenceInput struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Type      string `json:"absence_type"`
	IsFullDay *bool  `json:"is_full_day"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason"`
	Notes     string `json:"notes"`
}

// AbsenceResult reports the side effects of recording an absence.
type AbsenceResult struct {
	Absence               *Absence `json:"absence"`
	BlockedSlots          int      `json:"blocked_slots"`
	CancelledAppointments int      `json:"cancelled_appointments"`
}

// AbsenceCancelResult reports the slots given back by a cancelled absence.
type AbsenceCancelResult struct {
	Absence        *Absence `json:"absence"`
	UnblockedSlots int      `json:"unblocked_slots"`
}

func (s *Service) buildAbsence(hospitalID, doctorID uuid.UUID, in AbsenceInput) (*Absence, error) {
	var problems []string
	start, err := clock.ParseDate(in.StartDate)
	if err != nil {
		problems = append(problems, "start_date: "+err.Error())
	}
	end, err := clock.ParseDate(in.EndDate)
	if err != nil {
		problems = append(problems, "end_date: "+err.Error())
	}
	if len(problems) == 0 {
		if end.Before(start) {
			problems = append(problems, "end_date must not be before start_date")
		}
		if start.Before(s.today()) {
			problems = append(problems, "start_date is in the past")
		}
	}

	typ := AbsenceType(strings.ToUpper(strings.TrimSpace(in.Type)))
	if typ == "" {
		typ = AbsenceOther
	}
	if !absenceTypes[typ] {
		problems = append(problems, fmt.Sprintf("absence_type %q is not recognised", in.Type))
	}

	a := &Absence{
		HospitalID: hospitalID,
		DoctorID:   doctorID,
		StartDate:  start,
		EndDate:    end,
		Type:       typ,
		IsFullDay:  in.IsFullDay == nil || *in.IsFullDay,
		Status:     AbsenceActive,
		Reason:     in.Reason,
		Notes:      in.Notes,
	}
	if !a.IsFullDay {
		st, stErr := ParseTimeOfDay(in.StartTime)
		if stErr != nil {
			problems = append(problems, "start_time: "+stErr.Error())
		}
		et, etErr := ParseTimeOfDay(in.EndTime)
		if etErr != nil {
			problems = append(problems, "end_time: "+etErr.Error())
		}
		if stErr == nil && etErr == nil {
			if st >= et {
				problems = append(problems, "start_time must be before end_time")
			}
			a.StartTime, a.EndTime = &st, &et
		}
	}
	if len(problems) > 0 {
		return nil, apperr.Validation(problems...)
	}
	return a, nil
}

// CreateAbsence records time off, blocks the slots it covers and cancels
// every open appointment of the doctor within the date range. The whole range
// is cleared even for a partial-day absence.
func (s *Service) CreateAbsence(ctx context.Context, hospitalID, doctorID uuid.UUID, in AbsenceInput) (*AbsenceResult, error) {
	abs, err := s.buildAbsence(hospitalID, doctorID, in)
	if err != nil {
		return nil, err
	}
	doctor, err := s.doctors.Get(ctx, hospitalID, doctorID)
	if err != nil {
		return nil, err
	}

	var (
		blocked   int
		cancelled []*Appointment
	)
	err = s.retrySerializable(ctx, "create_absence", func(ctx context.Context) error {
		overlapping, _, err := s.absences.List(ctx, AbsenceFilter{
			HospitalID: hospitalID,
			DoctorID:   &doctorID,
			Status:     AbsenceActive,
			From:       &abs.StartDate,
			To:         &abs.EndDate,
		}, Page{Limit: 1})
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			o := overlapping[0]
			return apperr.Conflict(apperr.ReasonAbsenceOverlap, fmt.Sprintf("overlaps absence %s (%s to %s)",
				o.ID, clock.FormatDate(o.StartDate), clock.FormatDate(o.EndDate)))
		}

		abs.ID = uuid.New()
		if err := s.absences.Create(ctx, abs); err != nil {
			return err
		}

		block := AbsenceBlock{AbsenceID: abs.ID, DoctorID: doctorID, From: abs.StartDate, To: abs.EndDate}
		if !abs.IsFullDay {
			w := abs.window()
			block.Within = &w
		}
		if blocked, err = s.slots.BlockForAbsence(ctx, block); err != nil {
			return err
		}

		open, _, err := s.appts.List(ctx, AppointmentFilter{
			HospitalID:  hospitalID,
			DoctorID:    &doctorID,
			From:        &abs.StartDate,
			To:          &abs.EndDate,
			NonTerminal: true,
		}, Page{})
		if err != nil {
			return err
		}
		reason := "Doctor unavailable: " + string(abs.Type)
		for _, a := range open {
			if err := s.cancelInTx(ctx, a, reason); err != nil {
				return fmt.Errorf("cancel appointment %s: %w", a.ID, err)
			}
		}
		cancelled = open
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AbsenceAppointmentsCancelled(len(cancelled))
	s.logger.Info().
		Str("absence_id", abs.ID.String()).
		Str("doctor_id", doctorID.String()).
		Int("blocked_slots", blocked).
		Int("cancelled_appointments", len(cancelled)).
		Msg("absence recorded")
	if len(cancelled) > 0 {
		s.notifyAbsenceCancellations(ctx, doctor, cancelled)
	}
	return &AbsenceResult{Absence: abs, BlockedSlots: blocked, CancelledAppointments: len(cancelled)}, nil
}

func (s *Service) notifyAbsenceCancellations(ctx context.Context, doctor *Doctor, cancelled []*Appointment) {
	s.background(ctx, "absence-notify", func(ctx context.Context) error {
		var (
			g      errgroup.Group
			failed atomic.Int32
		)
		g.SetLimit(s.opts.NotifyConcurrency)
		for _, a := range cancelled {
			a := a
			g.Go(func() error {
				err := s.notifier.Notify(ctx, a.HospitalID, notification.TemplateAbsenceCancellation,
					notification.Recipient{Name: a.PatientName, Email: a.PatientEmail, Phone: a.PatientPhone},
					map[string]string{
						"patient_name": a.PatientName,
						"doctor_name":  doctor.Name,
						"date":         clock.FormatDate(a.Date),
						"time":         a.Time.String(),
					})
				if err != nil && !errors.Is(err, notification.ErrNoChannel) {
					failed.Add(1)
					s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("absence cancellation notice failed")
				}
				return nil
			})
		}
		_ = g.Wait()
		if n := failed.Load(); n > 0 {
			return fmt.Errorf("%d of %d absence cancellation notices failed", n, len(cancelled))
		}
		return nil
	})
}

// CancelAbsence keeps the record for history and gives back the free slots it
// blocked.
func (s *Service) CancelAbsence(ctx context.Context, hospitalID, id uuid.UUID) (*AbsenceCancelResult, error) {
	abs, err := s.absences.Get(ctx, hospitalID, id)
	if err != nil {
		return nil, err
	}
	if abs.Status == AbsenceCancelled {
		return nil, apperr.Conflict(apperr.ReasonAlreadyCancelled, "absence is already cancelled")
	}

	var unblocked int
	now := s.clock.Now()
	err = s.retrySerializable(ctx, "cancel_absence", func(ctx context.Context) error {
		if err := s.absences.MarkCancelled(ctx, abs.ID, now); err != nil {
			return err
		}
		var err error
		unblocked, err = s.slots.UnblockForAbsence(ctx, abs.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	abs.Status = AbsenceCancelled
	abs.CancelledAt = &now

	s.logger.Info().
		Str("absence_id", abs.ID.String()).
		Int("unblocked_slots", unblocked).
		Msg("absence cancelled")
	return &AbsenceCancelResult{Absence: abs, UnblockedSlots: unblocked}, nil
}

func (s *Service) ListAbsences(ctx context.Context, f AbsenceFilter, p Page) ([]*Absence, int, error) {
	return s.absences.List(ctx, f, p)
}
