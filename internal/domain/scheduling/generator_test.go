package scheduling

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/medcore/hms/internal/platform/apperr"
)

func starts(ws []Window) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Start.String()
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBuildDaySlots(t *testing.T) {
	morning := WeeklySchedule{StartTime: tod("09:00"), EndTime: tod("12:00"), BreakStart: todPtr("10:30"), BreakEnd: todPtr("11:00")}
	noBreak := WeeklySchedule{StartTime: tod("09:00"), EndTime: tod("10:00")}

	tests := []struct {
		name     string
		schedule WeeklySchedule
		duration int
		want     []string
	}{
		{"resumes after break", morning, 30, []string{"09:00", "09:30", "10:00", "11:00", "11:30"}},
		{"window straddling break is dropped", morning, 45, []string{"09:00", "09:45", "11:00"}},
		{"hour slots", morning, 60, []string{"09:00", "11:00"}},
		{"tail shorter than duration", noBreak, 25, []string{"09:00", "09:25"}},
		{"exact fit", noBreak, 60, []string{"09:00"}},
		{"longer than day", noBreak, 90, []string{}},
		{"zero duration", noBreak, 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := starts(BuildDaySlots(tt.schedule, tt.duration))
			if !equalStrings(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildDaySlots_StaysInsideHours(t *testing.T) {
	schedules := []WeeklySchedule{
		{StartTime: tod("08:00"), EndTime: tod("17:00"), BreakStart: todPtr("13:00"), BreakEnd: todPtr("14:00")},
		{StartTime: tod("09:15"), EndTime: tod("12:40"), BreakStart: todPtr("10:50"), BreakEnd: todPtr("11:05")},
		{StartTime: tod("14:00"), EndTime: tod("20:00")},
	}
	for _, s := range schedules {
		brk, hasBreak := s.Break()
		for _, d := range []int{5, 10, 15, 20, 25, 30, 40, 45, 60, 90, 120} {
			prevEnd := s.StartTime
			for _, w := range BuildDaySlots(s, d) {
				if w.End-w.Start != TimeOfDay(d) {
					t.Fatalf("%s-%s/%d: window %s-%s has wrong length", s.StartTime, s.EndTime, d, w.Start, w.End)
				}
				if w.Start < prevEnd {
					t.Fatalf("%s-%s/%d: window %s overlaps previous", s.StartTime, s.EndTime, d, w.Start)
				}
				if w.End > s.EndTime {
					t.Fatalf("%s-%s/%d: window %s-%s runs past end", s.StartTime, s.EndTime, d, w.Start, w.End)
				}
				if hasBreak && w.Overlaps(brk) {
					t.Fatalf("%s-%s/%d: window %s-%s overlaps break", s.StartTime, s.EndTime, d, w.Start, w.End)
				}
				prevEnd = w.End
			}
		}
	}
}

func TestGenerateSlotsForDoctor_SkipsDaysOffAndHolidays(t *testing.T) {
	f := newFixture()
	d := f.addDoctor(30, 5)
	f.holidays.add("2026-03-04", "Holi")

	n, err := f.svc.GenerateSlotsForDoctor(context.Background(), f.hospitalID, d.ID, 7)
	if err != nil {
		t.Fatalf("GenerateSlotsForDoctor: %v", err)
	}
	// Mon-Sat minus the holiday, five slots a day.
	if n != 25 {
		t.Errorf("generated %d, want 25", n)
	}
	if c := f.slotCount(d, "2026-03-04"); c != 0 {
		t.Errorf("holiday has %d slots", c)
	}
	if c := f.slotCount(d, "2026-03-08"); c != 0 {
		t.Errorf("sunday has %d slots", c)
	}
	if c := f.slotCount(d, "2026-03-05"); c != 5 {
		t.Errorf("thursday has %d slots, want 5", c)
	}
	if f.metrics.generated != 25 {
		t.Errorf("metrics recorded %d generated slots", f.metrics.generated)
	}
}

func TestGenerateSlotsForDoctor_IsIdempotentAndKeepsBookings(t *testing.T) {
	f := newFixture()
	d := f.addDoctor(30, 5)
	ctx := context.Background()

	if _, err := f.svc.GenerateSlotsForDoctor(ctx, f.hospitalID, d.ID, 7); err != nil {
		t.Fatal(err)
	}
	appt, err := f.book(d, "2026-03-03", "09:30")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.svc.GenerateSlotsForDoctor(ctx, f.hospitalID, d.ID, 7); err != nil {
		t.Fatal(err)
	}

	if c := f.slotCount(d, "2026-03-03"); c != 5 {
		t.Errorf("expected 5 slots after second run, got %d", c)
	}
	s := f.slotAt(d, "2026-03-03", "09:30")
	if s == nil || s.AppointmentID == nil || *s.AppointmentID != appt.ID || s.IsAvailable {
		t.Errorf("booked slot lost its appointment: %+v", s)
	}
}

func TestGenerateSlotsForDoctor_TagsAbsenceOverlap(t *testing.T) {
	f := newFixture()
	d := f.addDoctor(30, 5)
	ctx := context.Background()
	abs := &Absence{
		HospitalID: f.hospitalID,
		DoctorID:   d.ID,
		StartDate:  day("2026-03-03"),
		EndDate:    day("2026-03-03"),
		Type:       AbsencePersonal,
		StartTime:  todPtr("09:45"),
		EndTime:    todPtr("10:15"),
		Status:     AbsenceActive,
	}
	_ = memAbsences{f.store}.Create(ctx, abs)

	if _, err := f.svc.GenerateSlotsForDoctor(ctx, f.hospitalID, d.ID, 3); err != nil {
		t.Fatal(err)
	}
	for _, at := range []string{"09:30", "10:00"} {
		s := f.slotAt(d, "2026-03-03", at)
		if s == nil || !s.IsBlocked || s.BlockedAbsenceID == nil || *s.BlockedAbsenceID != abs.ID {
			t.Errorf("%s: expected slot blocked by absence, got %+v", at, s)
		}
	}
	for _, at := range []string{"09:00", "11:00"} {
		if s := f.slotAt(d, "2026-03-03", at); s == nil || s.IsBlocked {
			t.Errorf("%s: expected free slot, got %+v", at, s)
		}
	}
	if s := f.slotAt(d, "2026-03-04", "10:00"); s == nil || s.IsBlocked {
		t.Errorf("next day should not be blocked: %+v", s)
	}
}

func TestGenerateSlotsForDoctor_InactiveDoctor(t *testing.T) {
	f := newFixture()
	d := f.addDoctor(30, 5)
	d.IsActive = false
	_ = memDoctors{f.store}.Update(context.Background(), d)

	n, err := f.svc.GenerateSlotsForDoctor(context.Background(), f.hospitalID, d.ID, 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("inactive doctor got %d slots", n)
	}
}

func TestRegenerateSlots_AfterDurationChange(t *testing.T) {
	f := newFixture()
	d := f.addDoctor(30, 5)
	ctx := context.Background()

	if _, err := f.svc.GenerateSlotsForDoctor(ctx, f.hospitalID, d.ID, 7); err != nil {
		t.Fatal(err)
	}
	if _, err := f.book(d, "2026-03-03", "09:00"); err != nil {
		t.Fatalf("book: %v", err)
	}
	manual := f.slotAt(d, "2026-03-03", "09:30")
	if _, err := f.svc.BlockSlot(ctx, f.hospitalID, manual.ID); err != nil {
		t.Fatal(err)
	}

	d.SlotDurationMinutes = 60
	_ = memDoctors{f.store}.Update(ctx, d)

	// Starting in the past is clamped to today.
	res, err := f.svc.RegenerateSlots(ctx, f.hospitalID, d.ID, day("2026-02-01"))
	if err != nil {
		t.Fatalf("RegenerateSlots: %v", err)
	}
	if res.Deleted != 28 {
		t.Errorf("deleted %d, want 28", res.Deleted)
	}
	// Two hour slots on each of twelve working days in the fourteen-day horizon.
	if res.Generated != 24 {
		t.Errorf("generated %d, want 24", res.Generated)
	}

	if s := f.slotAt(d, "2026-03-03", "09:00"); s == nil || s.AppointmentID == nil {
		t.Errorf("booked 09:00 slot should survive: %+v", s)
	}
	if s := f.slotAt(d, "2026-03-03", "09:30"); s == nil || !s.ManuallyBlocked || !s.IsBlocked {
		t.Errorf("manually blocked 09:30 slot should survive: %+v", s)
	}
	if s := f.slotAt(d, "2026-03-03", "10:00"); s != nil {
		t.Errorf("free 10:00 slot should be gone: %+v", s)
	}
	s := f.slotAt(d, "2026-03-03", "11:00")
	if s == nil || s.EndTime != tod("12:00") {
		t.Errorf("expected a new 11:00-12:00 slot, got %+v", s)
	}
}

func TestRegenerateSlots_ShorterDurationAvoidsBookedMinutes(t *testing.T) {
	f := newFixture()
	d := f.addDoctor(30, 10)
	ctx := context.Background()

	if _, err := f.svc.GenerateSlotsForDoctor(ctx, f.hospitalID, d.ID, 7); err != nil {
		t.Fatal(err)
	}
	if _, err := f.book(d, "2026-03-03", "09:00"); err != nil {
		t.Fatalf("book: %v", err)
	}

	d.SlotDurationMinutes = 20
	_ = memDoctors{f.store}.Update(ctx, d)
	if _, err := f.svc.RegenerateSlots(ctx, f.hospitalID, d.ID, day("2026-03-02")); err != nil {
		t.Fatalf("RegenerateSlots: %v", err)
	}

	if s := f.slotAt(d, "2026-03-03", "09:20"); s != nil {
		t.Errorf("09:20 overlaps the booked 09:00-09:30 slot: %+v", s)
	}
	if s := f.slotAt(d, "2026-03-03", "09:40"); s == nil || !s.IsAvailable {
		t.Errorf("expected a free 09:40 slot, got %+v", s)
	}
	// Days without bookings follow the new grid.
	if s := f.slotAt(d, "2026-03-04", "09:20"); s == nil {
		t.Error("expected a 09:20 slot on an unbooked day")
	}

	res, err := f.svc.GetAvailableSlotsByDate(ctx, f.hospitalID, d.ID, "2026-03-03")
	if err != nil {
		t.Fatal(err)
	}
	booked := Window{Start: tod("09:00"), End: tod("09:30")}
	for _, sv := range res.Slots {
		if sv.Bookable && (Window{Start: sv.StartTime, End: sv.EndTime}).Overlaps(booked) {
			t.Errorf("%s-%s is offered over a booked slot", sv.StartTime, sv.EndTime)
		}
	}

	_, err = f.book(d, "2026-03-03", "09:20")
	assertReason(t, err, apperr.ReasonAlreadyBooked)
	_, err = f.svc.BookSlotByDateTime(ctx, f.hospitalID, d.ID, day("2026-03-03"), tod("09:20"), uuid.New())
	assertReason(t, err, apperr.ReasonAlreadyBooked)
	if _, err := f.book(d, "2026-03-03", "09:40"); err != nil {
		t.Errorf("09:40 should still be bookable: %v", err)
	}
}
