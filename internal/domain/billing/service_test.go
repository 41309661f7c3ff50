package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medcore/hms/internal/platform/db"
)

type mockRepo struct {
	mu    sync.Mutex
	bills map[uuid.UUID]*PendingBill
}

func newMockRepo() *mockRepo { return &mockRepo{bills: make(map[uuid.UUID]*PendingBill)} }

func (m *mockRepo) CreateIfAbsent(_ context.Context, b *PendingBill) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bills[b.AppointmentID]; ok {
		return false, nil
	}
	b.ID = uuid.New()
	b.Status = StatusPending
	m.bills[b.AppointmentID] = b
	return true, nil
}

func (m *mockRepo) ListPending(_ context.Context, hospitalID uuid.UUID, limit, offset int) ([]*PendingBill, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*PendingBill
	for _, b := range m.bills {
		if b.HospitalID == hospitalID {
			out = append(out, b)
		}
	}
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func TestTrigger_AppointmentCompletedIsIdempotent(t *testing.T) {
	repo := newMockRepo()
	tr := NewTrigger(repo, zerolog.Nop())
	hospital, appt := uuid.New(), uuid.New()

	for i := 0; i < 3; i++ {
		if err := tr.AppointmentCompleted(context.Background(), hospital, appt, uuid.New(), uuid.New()); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if len(repo.bills) != 1 {
		t.Errorf("expected one pending bill, got %d", len(repo.bills))
	}
}

func TestTrigger_RequiresAppointment(t *testing.T) {
	tr := NewTrigger(newMockRepo(), zerolog.Nop())
	if err := tr.AppointmentCompleted(context.Background(), uuid.New(), uuid.Nil, uuid.New(), uuid.New()); err == nil {
		t.Fatal("expected error for missing appointment id")
	}
}

func TestHandler_ListPending(t *testing.T) {
	repo := newMockRepo()
	tr := NewTrigger(repo, zerolog.Nop())
	hospital := uuid.New()
	for i := 0; i < 3; i++ {
		_ = tr.AppointmentCompleted(context.Background(), hospital, uuid.New(), uuid.New(), uuid.New())
	}
	_ = tr.AppointmentCompleted(context.Background(), uuid.New(), uuid.New(), uuid.New(), uuid.New())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/pending?limit=2", nil)
	req = req.WithContext(db.WithHospital(req.Context(), hospital))
	rec := httptest.NewRecorder()

	if err := NewHandler(tr).ListPending(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total   int  `json:"total"`
		HasMore bool `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 3 || !body.HasMore {
		t.Errorf("unexpected page %+v", body)
	}
}
