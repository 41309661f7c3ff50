package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medcore/hms/internal/platform/apperr"
	"github.com/medcore/hms/internal/platform/clock"
	"github.com/medcore/hms/internal/platform/db"
	"github.com/medcore/hms/internal/platform/notification"
)

const (
	defaultSlotDuration = 15
	defaultMaxPatients  = 20
	minSlotDuration     = 5
	maxSlotDuration     = 240
	maxBreakMinutes     = 120
)

// DoctorInput registers a doctor. Zero durations and caps take defaults.
type DoctorInput struct {
	Name                string `json:"name"`
	Email               string `json:"email"`
	Phone               string `json:"phone"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	MaxPatientsPerDay   int    `json:"max_patients_per_day"`
}

// BookingSettingsInput changes only the fields that are set.
type BookingSettingsInput struct {
	SlotDurationMinutes *int  `json:"slot_duration_minutes"`
	MaxPatientsPerDay   *int  `json:"max_patients_per_day"`
	IsActive            *bool `json:"is_active"`
}

// ScheduleEntryInput is one day of a weekly schedule as submitted.
type ScheduleEntryInput struct {
	DayOfWeek  int    `json:"day_of_week"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	BreakStart string `json:"break_start"`
	BreakEnd   string `json:"break_end"`
	IsActive   *bool  `json:"is_active"`
}

func settingsProblems(duration, maxPatients int) []string {
	var problems []string
	if duration < minSlotDuration || duration > maxSlotDuration {
		problems = append(problems, fmt.Sprintf("slot_duration_minutes must be between %d and %d", minSlotDuration, maxSlotDuration))
	}
	if maxPatients < 1 {
		problems = append(problems, "max_patients_per_day must be at least 1")
	}
	return problems
}

func (s *Service) CreateDoctor(ctx context.Context, hospitalID uuid.UUID, in DoctorInput) (*Doctor, error) {
	if in.SlotDurationMinutes == 0 {
		in.SlotDurationMinutes = defaultSlotDuration
	}
	if in.MaxPatientsPerDay == 0 {
		in.MaxPatientsPerDay = defaultMaxPatients
	}
	var problems []string
	if strings.TrimSpace(in.Name) == "" {
		problems = append(problems, "name is required")
	}
	problems = append(problems, settingsProblems(in.SlotDurationMinutes, in.MaxPatientsPerDay)...)
	if len(problems) > 0 {
		return nil, apperr.Validation(problems...)
	}

	d := &Doctor{
		HospitalID:          hospitalID,
		Name:                strings.TrimSpace(in.Name),
		Email:               in.Email,
		Phone:               in.Phone,
		SlotDurationMinutes: in.SlotDurationMinutes,
		MaxPatientsPerDay:   in.MaxPatientsPerDay,
		IsActive:            true,
	}
	if err := s.doctors.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDoctor(ctx context.Context, hospitalID, id uuid.UUID) (*Doctor, error) {
	return s.doctors.Get(ctx, hospitalID, id)
}

func (s *Service) ListDoctors(ctx context.Context, f DoctorFilter) ([]*Doctor, error) {
	return s.doctors.List(ctx, f)
}

// UpdateBookingSettings changes duration, daily cap or active flag. A new
// duration reshapes every free future slot, in the background.
func (s *Service) UpdateBookingSettings(ctx context.Context, hospitalID, id uuid.UUID, in BookingSettingsInput) (*Doctor, error) {
	d, err := s.doctors.Get(ctx, hospitalID, id)
	if err != nil {
		return nil, err
	}
	oldDuration := d.SlotDurationMinutes
	if in.SlotDurationMinutes != nil {
		d.SlotDurationMinutes = *in.SlotDurationMinutes
	}
	if in.MaxPatientsPerDay != nil {
		d.MaxPatientsPerDay = *in.MaxPatientsPerDay
	}
	if in.IsActive != nil {
		d.IsActive = *in.IsActive
	}
	if problems := settingsProblems(d.SlotDurationMinutes, d.MaxPatientsPerDay); len(problems) > 0 {
		return nil, apperr.Validation(problems...)
	}
	if err := s.doctors.Update(ctx, d); err != nil {
		return nil, err
	}

	if d.SlotDurationMinutes != oldDuration {
		s.background(ctx, "regenerate", func(ctx context.Context) error {
			_, err := s.RegenerateSlots(ctx, hospitalID, id, s.today())
			return err
		})
	}
	return d, nil
}

func (s *Service) GetWeeklySchedule(ctx context.Context, hospitalID, doctorID uuid.UUID) ([]WeeklySchedule, error) {
	if _, err := s.doctors.Get(ctx, hospitalID, doctorID); err != nil {
		return nil, err
	}
	entries, err := s.schedules.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []WeeklySchedule{}
	}
	return entries, nil
}

// SetWeeklySchedule replaces the doctor's whole week. Nothing is written
// unless every entry is valid. Slots are regenerated in the background.
func (s *Service) SetWeeklySchedule(ctx context.Context, hospitalID, doctorID uuid.UUID, in []ScheduleEntryInput) ([]WeeklySchedule, error) {
	entries, problems := buildSchedule(in)
	if len(problems) > 0 {
		return nil, apperr.Validation(problems...)
	}
	doctor, err := s.doctors.Get(ctx, hospitalID, doctorID)
	if err != nil {
		return nil, err
	}

	err = s.tx.InTx(ctx, db.TxOptions{}, func(ctx context.Context) error {
		return s.schedules.Replace(ctx, doctorID, entries)
	})
	if err != nil {
		return nil, fmt.Errorf("replace schedule: %w", err)
	}

	from := s.today()
	s.background(ctx, "regenerate", func(ctx context.Context) error {
		if _, err := s.RegenerateSlots(ctx, hospitalID, doctorID, from); err != nil {
			return err
		}
		err := s.notifier.Notify(ctx, hospitalID, notification.TemplateScheduleChanged,
			notification.Recipient{Name: doctor.Name, Email: doctor.Email, Phone: doctor.Phone},
			map[string]string{"doctor_name": doctor.Name, "date": clock.FormatDate(from)})
		if err != nil {
			s.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("schedule change notification failed")
		}
		return nil
	})
	return entries, nil
}

// buildSchedule validates every entry and reports all problems at once.
func buildSchedule(in []ScheduleEntryInput) ([]WeeklySchedule, []string) {
	var (
		problems []string
		entries  []WeeklySchedule
		seen     = map[int]bool{}
	)
	for i, e := range in {
		p := func(format string, args ...interface{}) {
			problems = append(problems, fmt.Sprintf("entries[%d]: ", i)+fmt.Sprintf(format, args...))
		}

		if e.DayOfWeek < 0 || e.DayOfWeek > 6 {
			p("day_of_week must be between 0 (Sunday) and 6 (Saturday)")
		} else if seen[e.DayOfWeek] {
			p("duplicate day_of_week %d", e.DayOfWeek)
		}
		seen[e.DayOfWeek] = true

		start, startErr := ParseTimeOfDay(e.StartTime)
		if startErr != nil {
			p("start_time: %v", startErr)
		}
		end, endErr := ParseTimeOfDay(e.EndTime)
		if endErr != nil {
			p("end_time: %v", endErr)
		}
		hoursOK := startErr == nil && endErr == nil
		if hoursOK && start >= end {
			p("start_time must be before end_time")
			hoursOK = false
		}

		entry := WeeklySchedule{
			DayOfWeek: time.Weekday(e.DayOfWeek),
			StartTime: start,
			EndTime:   end,
			IsActive:  e.IsActive == nil || *e.IsActive,
		}

		switch {
		case e.BreakStart == "" && e.BreakEnd == "":
		case e.BreakStart == "" || e.BreakEnd == "":
			p("break_start and break_end must be given together")
		default:
			bs, bsErr := ParseTimeOfDay(e.BreakStart)
			if bsErr != nil {
				p("break_start: %v", bsErr)
			}
			be, beErr := ParseTimeOfDay(e.BreakEnd)
			if beErr != nil {
				p("break_end: %v", beErr)
			}
			if bsErr != nil || beErr != nil {
				break
			}
			if bs >= be {
				p("break_start must be before break_end")
			} else if int(be-bs) > maxBreakMinutes {
				p("break must not exceed %d minutes", maxBreakMinutes)
			}
			if hoursOK && (bs <= start || be >= end) {
				p("break must lie strictly inside working hours")
			}
			entry.BreakStart, entry.BreakEnd = &bs, &be
		}
		entries = append(entries, entry)
	}
	if len(problems) > 0 {
		return nil, problems
	}
	return entries, nil
}
