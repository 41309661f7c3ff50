package billing

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending = "PENDING"
	StatusBilled  = "BILLED"
)

// PendingBill marks a completed appointment as ready for invoicing.
type PendingBill struct {
	ID            uuid.UUID `json:"id"`
	HospitalID    uuid.UUID `json:"hospital_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}
