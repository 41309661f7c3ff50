package scheduling

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/medcore/hms/internal/platform/apperr"
	"github.com/medcore/hms/internal/platform/notification"
)

func boolPtr(b bool) *bool { return &b }

func TestCreateAbsence_PartialDayCancelsWholeDay(t *testing.T) {
	f := newFixture()
	d := f.addDoctor(30, 5)
	ctx := context.Background()

	if _, err := f.svc.GenerateSlotsForDoctor(ctx, f.hospitalID, d.ID, 7); err != nil {
		t.Fatal(err)
	}
	var sameDay []uuid.UUID
	for _, at := range []string{"09:00", "10:00", "11:30"} {
		a, err := f.book(d, "2026-03-03", at)
		if err != nil {
			t.Fatal(err)
		}
		sameDay = append(sameDay, a.ID)
	}
	nextDay, err := f.book(d, "2026-03-04", "09:00")
	if err != nil {
		t.Fatal(err)
	}
	f.svc.Wait()

	res, err := f.svc.CreateAbsence(ctx, f.hospitalID, d.ID, AbsenceInput{
		StartDate: "2026-03-03",
		EndDate:   "2026-03-03",
		Type:      "personal",
		IsFullDay: boolPtr(false),
		StartTime: "09:00",
		EndTime:   "10:00",
	})
	if err != nil {
		t.Fatalf("CreateAbsence: %v", err)
	}
	if res.BlockedSlots != 2 || res.CancelledAppointments != 3 {
		t.Errorf("blocked=%d cancelled=%d, want 2 and 3", res.BlockedSlots, res.CancelledAppointments)
	}
	if res.Absence.Type != AbsencePersonal || res.Absence.Status != AbsenceActive {
		t.Errorf("unexpected absence %+v", res.Absence)
	}

	for _, id := range sameDay {
		a, _ := f.svc.GetAppointment(ctx, f.hospitalID, id)
		if a.Status != StatusCancelled || a.CancellationReason != "Doctor unavailable: PERSONAL" {
			t.Errorf("appointment %s: status %s reason %q", id, a.Status, a.CancellationReason)
		}
	}
	if a, _ := f.svc.GetAppointment(ctx, f.hospitalID, nextDay.ID); a.Status != StatusScheduled {
		t.Errorf("appointment outside the absence was touched: %s", a.Status)
	}

	for _, at := range []string{"09:00", "09:30"} {
		s := f.slotAt(d, "2026-03-03", at)
		if !s.IsBlocked || s.AppointmentID != nil || s.BlockedAbsenceID == nil {
			t.Errorf("%s: expected free slot blocked by the absence, got %+v", at, s)
		}
	}
	for _, at := range []string{"10:00", "11:30"} {
		s := f.slotAt(d, "2026-03-03", at)
		if s.IsBlocked || s.AppointmentID != nil {
			t.Errorf("%s: expected free open slot, got %+v", at, s)
		}
	}

	f.svc.Wait()
	if n := f.notifier.count(notification.TemplateAbsenceCancellation); n != 3 {
		t.Errorf("sent %d absence notices, want 3", n)
	}
	if f.metrics.cancelled != 3 {
		t.Errorf("metrics recorded %d cancellations", f.metrics.cancelled)
	}
}

func TestCreateAbsence_Overlap(t *testing.T) {
	f := newFixture()
	d := f.addDoctor(30, 5)
	ctx := context.Background()

	if _, err := f.svc.CreateAbsence(ctx, f.hospitalID, d.ID, AbsenceInput{
		StartDate: "2026-03-05", EndDate: "2026-03-07", Type: "CONFERENCE",
	}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.CreateAbsence(ctx, f.hospitalID, d.ID, AbsenceInput{
		StartDate: "2026-03-07", EndDate: "2026-03-09", Type: "SICK_LEAVE",
	})
	assertReason(t, err, apperr.ReasonAbsenceOverlap)
	if !apperr.IsConflict(err) {
		t.Errorf("overlap should be a conflict, got %T", err)
	}

	_, total, _ := f.svc.ListAbsences(ctx, AbsenceFilter{HospitalID: f.hospitalID}, Page{})
	if total != 1 {
		t.Errorf("expected one stored absence, got %d", total)
	}

	if _, err := f.svc.CreateAbsence(ctx, f.hospitalID, d.ID, AbsenceInput{
		StartDate: "2026-03-08", EndDate: "2026-03-09",
	}); err != nil {
		t.Errorf("adjacent absence should be accepted: %v", err)
	}
}

func TestCreateAbsence_Validation(t *testing.T) {
	tests := []struct {
		name     string
		in       AbsenceInput
		problems int
		contains string
	}{
		{
			name:     "reversed range and unknown type",
			in:       AbsenceInput{StartDate: "2026-03-05", EndDate: "2026-03-04", Type: "vacation"},
			problems: 2,
			contains: "end_date must not be before start_date",
		},
		{
			name:     "in the past",
			in:       AbsenceInput{StartDate: "2026-03-01", EndDate: "2026-03-03"},
			problems: 1,
			contains: "in the past",
		},
		{
			name:     "partial day without times",
			in:       AbsenceInput{StartDate: "2026-03-05", EndDate: "2026-03-05", IsFullDay: boolPtr(false)},
			problems: 2,
			contains: "start_time",
		},
		{
			name: "partial day reversed times",
			in: AbsenceInput{StartDate: "2026-03-05", EndDate: "2026-03-05", IsFullDay: boolPtr(false),
				StartTime: "11:00", EndTime: "10:00"},
			problems: 1,
			contains: "start_time must be before end_time",
		},
		{
			name:     "malformed dates",
			in:       AbsenceInput{StartDate: "tomorrow", EndDate: ""},
			problems: 2,
			contains: "start_date",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			d := f.addDoctor(30, 5)
			_, err := f.svc.CreateAbsence(context.Background(), f.hospitalID, d.ID, tt.in)
			ve, ok := err.(*apperr.ValidationError)
			if !ok {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(ve.Problems) != tt.problems {
				t.Errorf("got %d problems %v, want %d", len(ve.Problems), ve.Problems, tt.problems)
			}
			if !strings.Contains(ve.Error(), tt.contains) {
				t.Errorf("%q does not mention %q", ve.Error(), tt.contains)
			}
		})
	}
}

func TestCancelAbsence(t *testing.T) {
	f := newFixture()
	d := f.addDoctor(30, 5)
	ctx := context.Background()

	if _, err := f.svc.GenerateSlotsForDoctor(ctx, f.hospitalID, d.ID, 7); err != nil {
		t.Fatal(err)
	}
	manual := f.slotAt(d, "2026-03-05", "09:00")
	if _, err := f.svc.BlockSlot(ctx, f.hospitalID, manual.ID); err != nil {
		t.Fatal(err)
	}

	res, err := f.svc.CreateAbsence(ctx, f.hospitalID, d.ID, AbsenceInput{
		StartDate: "2026-03-05", EndDate: "2026-03-05", Type: "TRAINING",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.BlockedSlots != 5 {
		t.Errorf("blocked %d slots, want 5", res.BlockedSlots)
	}
	if _, err := f.book(d, "2026-03-05", "10:00"); apperr.ReasonOf(err) != apperr.ReasonDoctorLeave {
		t.Errorf("booking during absence: %v", err)
	}

	got, err := f.svc.CancelAbsence(ctx, f.hospitalID, res.Absence.ID)
	if err != nil {
		t.Fatalf("CancelAbsence: %v", err)
	}
	if got.UnblockedSlots != 5 || got.Absence.Status != AbsenceCancelled || got.Absence.CancelledAt == nil {
		t.Errorf("unexpected cancel result: unblocked=%d absence=%+v", got.UnblockedSlots, got.Absence)
	}
	if s := f.slotAt(d, "2026-03-05", "09:00"); !s.IsBlocked || s.BlockedAbsenceID != nil {
		t.Errorf("manual block must outlive the absence: %+v", s)
	}
	if s := f.slotAt(d, "2026-03-05", "09:30"); s.IsBlocked {
		t.Errorf("absence block not lifted: %+v", s)
	}
	if _, err := f.book(d, "2026-03-05", "10:00"); err != nil {
		t.Errorf("booking after cancelled absence: %v", err)
	}

	_, err = f.svc.CancelAbsence(ctx, f.hospitalID, res.Absence.ID)
	assertReason(t, err, apperr.ReasonAlreadyCancelled)

	active, total, err := f.svc.ListAbsences(ctx, AbsenceFilter{HospitalID: f.hospitalID, Status: AbsenceActive}, Page{})
	if err != nil || total != 0 || len(active) != 0 {
		t.Errorf("expected no active absences, got %d (%v)", total, err)
	}
}

func TestCancelAbsence_OtherHospital(t *testing.T) {
	f := newFixture()
	d := f.addDoctor(30, 5)
	res, err := f.svc.CreateAbsence(context.Background(), f.hospitalID, d.ID, AbsenceInput{
		StartDate: "2026-03-05", EndDate: "2026-03-05",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CancelAbsence(context.Background(), uuid.New(), res.Absence.ID); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}
