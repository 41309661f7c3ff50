package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Trigger queues completed appointments for invoicing.
type Trigger struct {
	repo   Repository
	logger zerolog.Logger
}

func NewTrigger(repo Repository, logger zerolog.Logger) *Trigger {
	return &Trigger{repo: repo, logger: logger.With().Str("component", "billing").Logger()}
}

// AppointmentCompleted records a pending bill. Calling it twice for the same
// appointment is harmless.
func (t *Trigger) AppointmentCompleted(ctx context.Context, hospitalID, appointmentID, patientID, doctorID uuid.UUID) error {
	if appointmentID == uuid.Nil {
		return fmt.Errorf("appointment id is required")
	}
	created, err := t.repo.CreateIfAbsent(ctx, &PendingBill{
		HospitalID:    hospitalID,
		AppointmentID: appointmentID,
		PatientID:     patientID,
		DoctorID:      doctorID,
	})
	if err != nil {
		return err
	}
	if created {
		t.logger.Info().Str("appointment_id", appointmentID.String()).Msg("pending bill created")
	}
	return nil
}

func (t *Trigger) ListPending(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*PendingBill, int, error) {
	return t.repo.ListPending(ctx, hospitalID, limit, offset)
}
