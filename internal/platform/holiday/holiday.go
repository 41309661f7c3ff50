// Package holiday is the hospital-wide closure calendar consulted by slot
// generation and booking validation.
package holiday

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Holiday struct {
	ID         uuid.UUID `json:"id"`
	HospitalID uuid.UUID `json:"hospital_id"`
	Date       time.Time `json:"date"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Calendar answers whether a hospital is closed. Dates are calendar days
// carried as UTC midnight values.
type Calendar interface {
	// HolidayName returns the holiday's name, or "" when the day is open.
	HolidayName(ctx context.Context, hospitalID uuid.UUID, date time.Time) (string, error)
	// HolidaysInRange lists holidays in [from, to], both inclusive, ordered by date.
	HolidaysInRange(ctx context.Context, hospitalID uuid.UUID, from, to time.Time) ([]Holiday, error)
}

// Store is the full calendar with maintenance operations.
type Store interface {
	Calendar
	Create(ctx context.Context, h *Holiday) error
	Delete(ctx context.Context, hospitalID, id uuid.UUID) error
}
