package scheduling

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/medcore/hms/internal/platform/apperr"
	"github.com/medcore/hms/internal/platform/clock"
	"github.com/medcore/hms/internal/platform/notification"
)

// AppointmentInput is a booking request.
type AppointmentInput struct {
	PatientID    uuid.UUID `json:"patient_id"`
	DoctorID     uuid.UUID `json:"doctor_id"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	Reason       string    `json:"reason"`
	PatientName  string    `json:"patient_name"`
	PatientEmail string    `json:"patient_email"`
	PatientPhone string    `json:"patient_phone"`
}

// CreateAppointment books a slot and records the appointment in one
// serializable transaction.
func (s *Service) CreateAppointment(ctx context.Context, hospitalID uuid.UUID, in AppointmentInput) (*Appointment, error) {
	var problems []string
	if in.PatientID == uuid.Nil {
		problems = append(problems, "patient_id is required")
	}
	if in.DoctorID == uuid.Nil {
		problems = append(problems, "doctor_id is required")
	}
	if len(problems) > 0 {
		return nil, apperr.Validation(problems...)
	}

	check, err := s.ValidateSlotAvailability(ctx, hospitalID, in.DoctorID, in.Date, in.Time, nil)
	if err != nil {
		s.recordBooking(err)
		return nil, err
	}

	appt := &Appointment{
		ID:           uuid.New(),
		HospitalID:   hospitalID,
		PatientID:    in.PatientID,
		DoctorID:     in.DoctorID,
		Date:         check.Date,
		Time:         check.Slot.Start,
		Status:       StatusScheduled,
		Reason:       in.Reason,
		PatientName:  in.PatientName,
		PatientEmail: in.PatientEmail,
		PatientPhone: in.PatientPhone,
	}
	err = s.runBookingTx(ctx, "create_appointment", func(ctx context.Context) error {
		token, err := s.appts.NextToken(ctx, appt.DoctorID, appt.Date)
		if err != nil {
			return err
		}
		appt.TokenNumber = token
		if err := s.appts.Create(ctx, appt); err != nil {
			return err
		}
		_, err = s.reserve(ctx, check.Doctor, appt.Date, appt.Time, appt.ID)
		return err
	})
	s.recordBooking(err)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Str("date", clock.FormatDate(appt.Date)).
		Str("time", appt.Time.String()).
		Int("token", appt.TokenNumber).
		Msg("appointment booked")
	s.notifyPatient(ctx, appt, check.Doctor, notification.TemplateAppointmentBooked, nil)
	return appt, nil
}

// CancelAppointment cancels and frees the slot in one transaction.
func (s *Service) CancelAppointment(ctx context.Context, hospitalID, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.appts.Get(ctx, hospitalID, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusCancelled {
		return nil, apperr.Conflict(apperr.ReasonAlreadyCancelled, "appointment is already cancelled")
	}
	if !CanTransition(appt.Status, StatusCancelled) {
		return nil, invalidTransition(appt.Status, StatusCancelled)
	}

	err = s.retrySerializable(ctx, "cancel_appointment", func(ctx context.Context) error {
		return s.cancelInTx(ctx, appt, reason)
	})
	if err != nil {
		return nil, err
	}

	doctor, err := s.doctors.Get(ctx, hospitalID, appt.DoctorID)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("doctor lookup for notification failed")
		return appt, nil
	}
	s.notifyPatient(ctx, appt, doctor, notification.TemplateAppointmentCancelled, map[string]string{"reason": reason})
	return appt, nil
}

func (s *Service) cancelInTx(ctx context.Context, appt *Appointment, reason string) error {
	appt.Status = StatusCancelled
	appt.CancellationReason = reason
	if err := s.appts.Update(ctx, appt); err != nil {
		return err
	}
	return s.ReleaseSlot(ctx, appt.ID)
}

// RescheduleAppointment moves an appointment to a new date and time. The old
// slot is released and the new one booked atomically.
func (s *Service) RescheduleAppointment(ctx context.Context, hospitalID, id uuid.UUID, date, at string) (*Appointment, error) {
	appt, err := s.appts.Get(ctx, hospitalID, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(appt.Status) || appt.Status == StatusInProgress {
		return nil, apperr.Rule(apperr.ReasonInvalidTransition,
			"appointment in status "+appt.Status+" cannot be rescheduled")
	}

	check, err := s.ValidateSlotAvailability(ctx, hospitalID, appt.DoctorID, date, at, &appt.ID)
	if err != nil {
		s.recordBooking(err)
		return nil, err
	}

	oldDate, oldTime := appt.Date, appt.Time
	moved := *appt
	err = s.runBookingTx(ctx, "reschedule_appointment", func(ctx context.Context) error {
		if err := s.ReleaseSlot(ctx, appt.ID); err != nil {
			return err
		}
		if !check.Date.Equal(oldDate) {
			token, err := s.appts.NextToken(ctx, appt.DoctorID, check.Date)
			if err != nil {
				return err
			}
			moved.TokenNumber = token
		}
		moved.Date, moved.Time = check.Date, check.Slot.Start
		if err := s.appts.Update(ctx, &moved); err != nil {
			return err
		}
		_, err := s.reserve(ctx, check.Doctor, moved.Date, moved.Time, moved.ID)
		return err
	})
	s.recordBooking(err)
	if err != nil {
		return nil, err
	}

	s.notifyPatient(ctx, &moved, check.Doctor, notification.TemplateAppointmentRescheduled, map[string]string{
		"old_date": clock.FormatDate(oldDate),
		"old_time": oldTime.String(),
	})
	return &moved, nil
}

// UpdateAppointmentStatus moves an appointment along its lifecycle. Completing
// an appointment raises a pending bill in the background.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, hospitalID, id uuid.UUID, status string) (*Appointment, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status == StatusCancelled {
		return s.CancelAppointment(ctx, hospitalID, id, "")
	}
	appt, err := s.appts.Get(ctx, hospitalID, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(appt.Status, status) {
		return nil, invalidTransition(appt.Status, status)
	}
	appt.Status = status
	if err := s.appts.Update(ctx, appt); err != nil {
		return nil, err
	}

	if status == StatusCompleted && s.billing != nil {
		done := *appt
		s.background(ctx, "billing", func(ctx context.Context) error {
			return s.billing.AppointmentCompleted(ctx, done.HospitalID, done.ID, done.PatientID, done.DoctorID)
		})
	}
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, hospitalID, id uuid.UUID) (*Appointment, error) {
	return s.appts.Get(ctx, hospitalID, id)
}

func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter, p Page) ([]*Appointment, int, error) {
	return s.appts.List(ctx, f, p)
}

func invalidTransition(from, to string) error {
	return apperr.Rule(apperr.ReasonInvalidTransition, "cannot move appointment from "+from+" to "+to)
}

func (s *Service) notifyPatient(ctx context.Context, appt *Appointment, doctor *Doctor, templateID string, extra map[string]string) {
	data := map[string]string{
		"patient_name": appt.PatientName,
		"doctor_name":  doctor.Name,
		"date":         clock.FormatDate(appt.Date),
		"time":         appt.Time.String(),
		"token":        strconv.Itoa(appt.TokenNumber),
	}
	for k, v := range extra {
		data[k] = v
	}
	to := notification.Recipient{Name: appt.PatientName, Email: appt.PatientEmail, Phone: appt.PatientPhone}
	hospitalID, apptID := appt.HospitalID, appt.ID
	s.background(ctx, "notify", func(ctx context.Context) error {
		err := s.notifier.Notify(ctx, hospitalID, templateID, to, data)
		if errors.Is(err, notification.ErrNoChannel) {
			s.logger.Debug().Str("appointment_id", apptID.String()).Msg("patient has no reachable channel")
			return nil
		}
		return err
	})
}
