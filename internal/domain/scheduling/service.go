package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcore/hms/internal/platform/clock"
	"github.com/medcore/hms/internal/platform/db"
	"github.com/medcore/hms/internal/platform/holiday"
	"github.com/medcore/hms/internal/platform/notification"
)

// TxRunner runs fn in a transaction published through ctx.
type TxRunner interface {
	InTx(ctx context.Context, opts db.TxOptions, fn func(ctx context.Context) error) error
}

// Notifier delivers best-effort messages to patients and doctors.
type Notifier interface {
	Notify(ctx context.Context, hospitalID uuid.UUID, templateID string, to notification.Recipient, data map[string]string) error
}

// BillingTrigger is told when an appointment completes.
type BillingTrigger interface {
	AppointmentCompleted(ctx context.Context, hospitalID, appointmentID, patientID, doctorID uuid.UUID) error
}

// Metrics receives booking-path counters.
type Metrics interface {
	BookingAttempt(outcome string)
	SlotsGenerated(n int)
	AbsenceAppointmentsCancelled(n int)
	ObserveTx(operation string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) BookingAttempt(string)            {}
func (nopMetrics) SlotsGenerated(int)               {}
func (nopMetrics) AbsenceAppointmentsCancelled(int) {}
func (nopMetrics) ObserveTx(string, time.Duration)  {}

type noHolidays struct{}

func (noHolidays) HolidayName(context.Context, uuid.UUID, time.Time) (string, error) { return "", nil }

func (noHolidays) HolidaysInRange(context.Context, uuid.UUID, time.Time, time.Time) ([]holiday.Holiday, error) {
	return nil, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, uuid.UUID, string, notification.Recipient, map[string]string) error {
	return nil
}

// Options are the hospital's booking rules. NotifyConcurrency bounds parallel
// sends when an absence cancels many appointments at once.
type Options struct {
	MaxAdvanceDays       int
	BookingBufferMinutes int
	GenerationDays       int
	BookingTxTimeout     time.Duration
	NotifyConcurrency    int
}

func (o *Options) applyDefaults() {
	if o.MaxAdvanceDays <= 0 {
		o.MaxAdvanceDays = 30
	}
	if o.BookingBufferMinutes < 0 {
		o.BookingBufferMinutes = 0
	}
	if o.GenerationDays <= 0 {
		o.GenerationDays = 30
	}
	if o.BookingTxTimeout <= 0 {
		o.BookingTxTimeout = 5 * time.Second
	}
	if o.NotifyConcurrency <= 0 {
		o.NotifyConcurrency = 4
	}
}

// Deps wires the service to its stores and collaborators. Holidays, Notifier,
// Billing and Metrics are optional.
type Deps struct {
	Doctors      DoctorRepository
	Schedules    ScheduleRepository
	Absences     AbsenceRepository
	Slots        SlotRepository
	Appointments AppointmentRepository
	Tx           TxRunner
	Clock        clock.Clock
	Holidays     holiday.Calendar
	Notifier     Notifier
	Billing      BillingTrigger
	Metrics      Metrics
	Logger       zerolog.Logger
}

// Service owns slot generation, the slot ledger and every flow that books or
// frees a slot.
type Service struct {
	doctors   DoctorRepository
	schedules ScheduleRepository
	absences  AbsenceRepository
	slots     SlotRepository
	appts     AppointmentRepository
	tx        TxRunner
	clock     clock.Clock
	holidays  holiday.Calendar
	notifier  Notifier
	billing   BillingTrigger
	metrics   Metrics
	logger    zerolog.Logger
	opts      Options

	bg sync.WaitGroup
}

func NewService(d Deps, opts Options) *Service {
	opts.applyDefaults()
	s := &Service{
		doctors:   d.Doctors,
		schedules: d.Schedules,
		absences:  d.Absences,
		slots:     d.Slots,
		appts:     d.Appointments,
		tx:        d.Tx,
		clock:     d.Clock,
		holidays:  d.Holidays,
		notifier:  d.Notifier,
		billing:   d.Billing,
		metrics:   d.Metrics,
		logger:    d.Logger.With().Str("component", "scheduling").Logger(),
		opts:      opts,
	}
	if s.holidays == nil {
		s.holidays = noHolidays{}
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	return s
}

// Wait blocks until every background side effect started so far has finished.
func (s *Service) Wait() {
	s.bg.Wait()
}

// background runs fn detached from the caller's cancellation. Errors are
// logged, never returned.
func (s *Service) background(ctx context.Context, task string, fn func(ctx context.Context) error) {
	ctx = db.WithoutTx(context.WithoutCancel(ctx))
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Str("task", task).Interface("panic", r).Msg("background task panicked")
			}
		}()
		if err := fn(ctx); err != nil {
			s.logger.Error().Err(err).Str("task", task).Msg("background task failed")
		}
	}()
}

func (s *Service) today() time.Time {
	return clock.Today(s.clock)
}

func (s *Service) timed(op string, start time.Time) {
	s.metrics.ObserveTx(op, time.Since(start))
}

func (s *Service) serializable() db.TxOptions {
	return db.TxOptions{Serializable: true, Timeout: s.opts.BookingTxTimeout}
}

const maxTxAttempts = 3

// retrySerializable reruns fn when Postgres aborts it to keep serializable
// order. Bookings never go through here: a lost booking race is reported.
func (s *Service) retrySerializable(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		start := time.Now()
		err = s.tx.InTx(ctx, s.serializable(), fn)
		s.timed(op, start)
		if !db.IsSerializationFailure(err) {
			return err
		}
		s.logger.Debug().Str("op", op).Int("attempt", attempt).Msg("serialization failure, retrying")
	}
	return err
}
