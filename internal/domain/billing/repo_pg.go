package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcore/hms/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) CreateIfAbsent(ctx context.Context, b *PendingBill) (bool, error) {
	b.ID = uuid.New()
	if b.Status == "" {
		b.Status = StatusPending
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO pending_bill (id, hospital_id, appointment_id, patient_id, doctor_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (appointment_id) DO NOTHING`,
		b.ID, b.HospitalID, b.AppointmentID, b.PatientID, b.DoctorID, b.Status)
	if err != nil {
		return false, fmt.Errorf("create pending bill: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) ListPending(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*PendingBill, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM pending_bill WHERE hospital_id = $1 AND status = $2`,
		hospitalID, StatusPending).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pending bills: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT id, hospital_id, appointment_id, patient_id, doctor_id, status, created_at
		FROM pending_bill
		WHERE hospital_id = $1 AND status = $2
		ORDER BY created_at
		LIMIT $3 OFFSET $4`, hospitalID, StatusPending, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list pending bills: %w", err)
	}
	defer rows.Close()

	var items []*PendingBill
	for rows.Next() {
		b := &PendingBill{}
		if err := rows.Scan(&b.ID, &b.HospitalID, &b.AppointmentID, &b.PatientID, &b.DoctorID, &b.Status, &b.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan pending bill: %w", err)
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}
