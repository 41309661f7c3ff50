package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcore/hms/internal/platform/apperr"
	"github.com/medcore/hms/internal/platform/clock"
	"github.com/medcore/hms/internal/platform/db"
	"github.com/medcore/hms/internal/platform/holiday"
	"github.com/medcore/hms/internal/platform/notification"
)

// -- In-memory store --

// memStore keeps rows by value so a snapshot is a shallow map copy.
type memStore struct {
	mu        sync.Mutex
	doctors   map[uuid.UUID]Doctor
	schedules map[uuid.UUID][]WeeklySchedule
	absences  map[uuid.UUID]Absence
	slots     map[uuid.UUID]Slot
	appts     map[uuid.UUID]Appointment
}

func newMemStore() *memStore {
	return &memStore{
		doctors:   map[uuid.UUID]Doctor{},
		schedules: map[uuid.UUID][]WeeklySchedule{},
		absences:  map[uuid.UUID]Absence{},
		slots:     map[uuid.UUID]Slot{},
		appts:     map[uuid.UUID]Appointment{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m *memStore) snapshot() *memStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &memStore{
		doctors:   cloneMap(m.doctors),
		schedules: cloneMap(m.schedules),
		absences:  cloneMap(m.absences),
		slots:     cloneMap(m.slots),
		appts:     cloneMap(m.appts),
	}
}

func (m *memStore) restore(s *memStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors, m.schedules, m.absences, m.slots, m.appts = s.doctors, s.schedules, s.absences, s.slots, s.appts
}

// memTx serializes transactions and rolls the store back when fn fails.
// Errors queued in fail are returned by the next top-level transactions
// without running fn.
type memTx struct {
	store *memStore
	mu    sync.Mutex
	fail  []error
	runs  int
}

type memTxKey struct{}

func (t *memTx) InTx(ctx context.Context, _ db.TxOptions, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	if len(t.fail) > 0 {
		err := t.fail[0]
		t.fail = t.fail[1:]
		if err != nil {
			return err
		}
	}
	snap := t.store.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

// -- Doctor Repository --

type memDoctors struct{ *memStore }

func (m memDoctors) Create(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt, d.UpdatedAt = time.Now(), time.Now()
	m.doctors[d.ID] = *d
	return nil
}

func (m memDoctors) Get(_ context.Context, hospitalID, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok || d.HospitalID != hospitalID {
		return nil, apperr.NotFound("doctor", id.String())
	}
	return &d, nil
}

func (m memDoctors) Update(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.doctors[d.ID]; !ok || old.HospitalID != d.HospitalID {
		return apperr.NotFound("doctor", d.ID.String())
	}
	m.doctors[d.ID] = *d
	return nil
}

func (m memDoctors) List(_ context.Context, f DoctorFilter) ([]*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Doctor
	for _, d := range m.doctors {
		d := d
		if d.HospitalID == f.HospitalID && (!f.ActiveOnly || d.IsActive) {
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// -- Schedule Repository --

type memSchedules struct{ *memStore }

func (m memSchedules) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]WeeklySchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]WeeklySchedule(nil), m.schedules[doctorID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].DayOfWeek < out[j].DayOfWeek })
	return out, nil
}

func (m memSchedules) Replace(_ context.Context, doctorID uuid.UUID, entries []WeeklySchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range entries {
		if entries[i].ID == uuid.Nil {
			entries[i].ID = uuid.New()
		}
		entries[i].DoctorID = doctorID
	}
	m.schedules[doctorID] = append([]WeeklySchedule(nil), entries...)
	return nil
}

// -- Absence Repository --

type memAbsences struct{ *memStore }

func (m memAbsences) Create(_ context.Context, a *Absence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	m.absences[a.ID] = *a
	return nil
}

func (m memAbsences) Get(_ context.Context, hospitalID, id uuid.UUID) (*Absence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.absences[id]
	if !ok || a.HospitalID != hospitalID {
		return nil, apperr.NotFound("absence", id.String())
	}
	return &a, nil
}

func (m memAbsences) List(_ context.Context, f AbsenceFilter, p Page) ([]*Absence, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Absence
	for _, a := range m.absences {
		a := a
		switch {
		case a.HospitalID != f.HospitalID,
			f.DoctorID != nil && a.DoctorID != *f.DoctorID,
			f.Status != "" && a.Status != f.Status,
			f.From != nil && a.EndDate.Before(*f.From),
			f.To != nil && a.StartDate.After(*f.To):
			continue
		}
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	total := len(out)
	return paginate(out, p), total, nil
}

func (m memAbsences) MarkCancelled(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.absences[id]
	if !ok || a.Status != AbsenceActive {
		return apperr.Conflict(apperr.ReasonAlreadyCancelled, "absence is already cancelled")
	}
	a.Status = AbsenceCancelled
	a.CancelledAt = &at
	m.absences[id] = a
	return nil
}

func paginate[T any](items []T, p Page) []T {
	if p.Limit <= 0 {
		return items
	}
	if p.Offset >= len(items) {
		return nil
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}

// -- Slot Repository --

type memSlots struct{ *memStore }

func (m memSlots) findKey(doctorID uuid.UUID, date time.Time, start TimeOfDay) (Slot, bool) {
	for _, s := range m.slots {
		if s.DoctorID == doctorID && s.Date.Equal(date) && s.StartTime == start {
			return s, true
		}
	}
	return Slot{}, false
}

func (m memSlots) Upsert(_ context.Context, slots []*Slot) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range slots {
		if existing, ok := m.findKey(s.DoctorID, s.Date, s.StartTime); ok {
			existing.BlockedAbsenceID = s.BlockedAbsenceID
			existing.IsBlocked = existing.ManuallyBlocked || s.BlockedAbsenceID != nil
			m.slots[existing.ID] = existing
			continue
		}
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.IsAvailable = true
		m.slots[s.ID] = *s
	}
	return len(slots), nil
}

func (m memSlots) Get(_ context.Context, hospitalID, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok || s.HospitalID != hospitalID {
		return nil, apperr.NotFound("slot", id.String())
	}
	return &s, nil
}

func (m memSlots) GetByKey(_ context.Context, doctorID uuid.UUID, date time.Time, start TimeOfDay) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.findKey(doctorID, date, start)
	if !ok {
		return nil, apperr.NotFound("slot", clock.FormatDate(date)+" "+start.String())
	}
	return &s, nil
}

func (m memSlots) List(_ context.Context, f SlotFilter) ([]*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Slot
	for _, s := range m.slots {
		s := s
		if s.HospitalID == f.HospitalID && s.DoctorID == f.DoctorID && !s.Date.Before(f.From) && !s.Date.After(f.To) {
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (m memSlots) CountBooked(_ context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.slots {
		if s.DoctorID == doctorID && s.Date.Equal(date) && s.AppointmentID != nil {
			n++
		}
	}
	return n, nil
}

func (m memSlots) InsertBooked(_ context.Context, s *Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.findKey(s.DoctorID, s.Date, s.StartTime); ok {
		return ErrSlotTaken
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.IsAvailable = false
	m.slots[s.ID] = *s
	return nil
}

func (m memSlots) MarkBooked(_ context.Context, slotID, appointmentID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok || !s.IsAvailable || s.IsBlocked || s.AppointmentID != nil {
		return false, nil
	}
	s.IsAvailable = false
	s.AppointmentID = &appointmentID
	m.slots[slotID] = s
	return true, nil
}

func (m memSlots) Release(_ context.Context, appointmentID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	released := false
	for id, s := range m.slots {
		if s.AppointmentID != nil && *s.AppointmentID == appointmentID {
			s.IsAvailable = true
			s.AppointmentID = nil
			s.IsBlocked = s.ManuallyBlocked || s.BlockedAbsenceID != nil
			m.slots[id] = s
			released = true
		}
	}
	return released, nil
}

func (m memSlots) BlockForAbsence(_ context.Context, b AbsenceBlock) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.slots {
		if s.DoctorID != b.DoctorID || s.Date.Before(b.From) || s.Date.After(b.To) || s.BlockedAbsenceID != nil {
			continue
		}
		if b.Within != nil && !b.Within.Contains(s.Window()) {
			continue
		}
		absenceID := b.AbsenceID
		s.BlockedAbsenceID = &absenceID
		s.IsBlocked = true
		m.slots[id] = s
		n++
	}
	return n, nil
}

func (m memSlots) UnblockForAbsence(_ context.Context, absenceID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.slots {
		if s.BlockedAbsenceID == nil || *s.BlockedAbsenceID != absenceID {
			continue
		}
		s.BlockedAbsenceID = nil
		if s.AppointmentID == nil {
			s.IsBlocked = s.ManuallyBlocked
			n++
		}
		m.slots[id] = s
	}
	return n, nil
}

func (m memSlots) SetManualBlock(_ context.Context, id uuid.UUID, blocked bool) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, apperr.NotFound("slot", id.String())
	}
	s.ManuallyBlocked = blocked
	s.IsBlocked = blocked || s.BlockedAbsenceID != nil
	m.slots[id] = s
	return &s, nil
}

func (m memSlots) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[id]; ok && s.AppointmentID != nil {
		return apperr.Conflict(apperr.ReasonSlotLinked, "slot is linked to an appointment")
	}
	delete(m.slots, id)
	return nil
}

func (m memSlots) DeleteFree(_ context.Context, doctorID uuid.UUID, from time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.slots {
		if s.DoctorID == doctorID && !s.Date.Before(from) && s.IsAvailable && s.AppointmentID == nil && !s.ManuallyBlocked {
			delete(m.slots, id)
			n++
		}
	}
	return n, nil
}

// -- Appointment Repository --

type memAppointments struct{ *memStore }

func (m memAppointments) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt, a.UpdatedAt = time.Now(), time.Now()
	m.appts[a.ID] = *a
	return nil
}

func (m memAppointments) Get(_ context.Context, hospitalID, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.HospitalID != hospitalID {
		return nil, apperr.NotFound("appointment", id.String())
	}
	return &a, nil
}

func (m memAppointments) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[a.ID]; !ok {
		return apperr.NotFound("appointment", a.ID.String())
	}
	a.UpdatedAt = time.Now()
	m.appts[a.ID] = *a
	return nil
}

func (m memAppointments) List(_ context.Context, f AppointmentFilter, p Page) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.appts {
		a := a
		switch {
		case a.HospitalID != f.HospitalID,
			f.DoctorID != nil && a.DoctorID != *f.DoctorID,
			f.PatientID != nil && a.PatientID != *f.PatientID,
			f.Status != "" && a.Status != f.Status,
			f.From != nil && a.Date.Before(*f.From),
			f.To != nil && a.Date.After(*f.To),
			f.NonTerminal && IsTerminal(a.Status):
			continue
		}
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Time < out[j].Time
	})
	total := len(out)
	return paginate(out, p), total, nil
}

func (m memAppointments) NextToken(_ context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	top := 0
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.TokenNumber > top {
			top = a.TokenNumber
		}
	}
	return top + 1, nil
}

// -- Collaborators --

type memHolidays struct {
	mu    sync.Mutex
	names map[string]string
}

func (h *memHolidays) add(date, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.names[date] = name
}

func (h *memHolidays) HolidayName(_ context.Context, _ uuid.UUID, date time.Time) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.names[clock.FormatDate(date)], nil
}

func (h *memHolidays) HolidaysInRange(_ context.Context, hospitalID uuid.UUID, from, to time.Time) ([]holiday.Holiday, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []holiday.Holiday
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if name, ok := h.names[clock.FormatDate(d)]; ok {
			out = append(out, holiday.Holiday{HospitalID: hospitalID, Date: d, Name: name})
		}
	}
	return out, nil
}

type sentNotice struct {
	Template string
	To       notification.Recipient
	Data     map[string]string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, _ uuid.UUID, templateID string, to notification.Recipient, data map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{Template: templateID, To: to, Data: data})
	return n.err
}

func (n *recordingNotifier) count(templateID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Template == templateID {
			c++
		}
	}
	return c
}

type recordingBilling struct {
	mu        sync.Mutex
	completed []uuid.UUID
}

func (b *recordingBilling) AppointmentCompleted(_ context.Context, _, appointmentID, _, _ uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed = append(b.completed, appointmentID)
	return nil
}

type countingMetrics struct {
	mu        sync.Mutex
	outcomes  map[string]int
	generated int
	cancelled int
}

func (m *countingMetrics) BookingAttempt(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *countingMetrics) SlotsGenerated(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generated += n
}

func (m *countingMetrics) AbsenceAppointmentsCancelled(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled += n
}

func (m *countingMetrics) ObserveTx(string, time.Duration) {}

func (m *countingMetrics) outcome(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[name]
}

// -- Fixture --

// ist avoids depending on the tz database in tests.
var ist = time.FixedZone("IST", 5*3600+30*60)

// Monday 2 March 2026, 08:00 hospital time.
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, ist)

type fixture struct {
	hospitalID uuid.UUID
	store      *memStore
	tx         *memTx
	holidays   *memHolidays
	notifier   *recordingNotifier
	billing    *recordingBilling
	metrics    *countingMetrics
	svc        *Service
}

func newFixtureAt(now time.Time) *fixture {
	store := newMemStore()
	f := &fixture{
		hospitalID: uuid.New(),
		store:      store,
		tx:         &memTx{store: store},
		holidays:   &memHolidays{names: map[string]string{}},
		notifier:   &recordingNotifier{},
		billing:    &recordingBilling{},
		metrics:    &countingMetrics{outcomes: map[string]int{}},
	}
	f.svc = NewService(Deps{
		Doctors:      memDoctors{store},
		Schedules:    memSchedules{store},
		Absences:     memAbsences{store},
		Slots:        memSlots{store},
		Appointments: memAppointments{store},
		Tx:           f.tx,
		Clock:        clock.Fixed{At: now, Loc: ist},
		Holidays:     f.holidays,
		Notifier:     f.notifier,
		Billing:      f.billing,
		Metrics:      f.metrics,
		Logger:       zerolog.Nop(),
	}, Options{
		MaxAdvanceDays:       30,
		BookingBufferMinutes: 15,
		GenerationDays:       14,
		BookingTxTimeout:     time.Second,
	})
	return f
}

func newFixture() *fixture { return newFixtureAt(testNow) }

func tod(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func todPtr(s string) *TimeOfDay {
	t := tod(s)
	return &t
}

func day(s string) time.Time {
	d, err := clock.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// addDoctor registers a doctor working 09:00-12:00 with a 10:30-11:00 break
// Monday to Saturday.
func (f *fixture) addDoctor(duration, maxPatients int) *Doctor {
	d := &Doctor{
		HospitalID:          f.hospitalID,
		Name:                "Dr. Rao",
		Email:               "rao@example.org",
		SlotDurationMinutes: duration,
		MaxPatientsPerDay:   maxPatients,
		IsActive:            true,
	}
	_ = memDoctors{f.store}.Create(context.Background(), d)
	var week []WeeklySchedule
	for wd := time.Monday; wd <= time.Saturday; wd++ {
		week = append(week, WeeklySchedule{
			DayOfWeek:  wd,
			StartTime:  tod("09:00"),
			EndTime:    tod("12:00"),
			BreakStart: todPtr("10:30"),
			BreakEnd:   todPtr("11:00"),
			IsActive:   true,
		})
	}
	_ = memSchedules{f.store}.Replace(context.Background(), d.ID, week)
	return d
}

func (f *fixture) book(d *Doctor, date, at string) (*Appointment, error) {
	return f.svc.CreateAppointment(context.Background(), f.hospitalID, AppointmentInput{
		PatientID:    uuid.New(),
		DoctorID:     d.ID,
		Date:         date,
		Time:         at,
		PatientName:  "Asha",
		PatientEmail: "asha@example.org",
	})
}

func (f *fixture) slotAt(d *Doctor, date, at string) *Slot {
	s, err := memSlots{f.store}.GetByKey(context.Background(), d.ID, day(date), tod(at))
	if err != nil {
		return nil
	}
	return s
}

func (f *fixture) slotCount(d *Doctor, date string) int {
	items, _ := memSlots{f.store}.List(context.Background(), SlotFilter{
		HospitalID: f.hospitalID, DoctorID: d.ID, From: day(date), To: day(date),
	})
	return len(items)
}
