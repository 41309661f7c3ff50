package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// CreateIfAbsent inserts b unless the appointment already has a bill and
	// reports whether a row was written.
	CreateIfAbsent(ctx context.Context, b *PendingBill) (bool, error)
	ListPending(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*PendingBill, int, error)
}
