package holiday

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcore/hms/internal/platform/apperr"
	"github.com/medcore/hms/internal/platform/db"
)

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) HolidayName(ctx context.Context, hospitalID uuid.UUID, date time.Time) (string, error) {
	var name string
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT name FROM hospital_holiday WHERE hospital_id = $1 AND holiday_date = $2`,
		hospitalID, date).Scan(&name)
	if db.IsNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup holiday: %w", err)
	}
	return name, nil
}

func (s *PGStore) HolidaysInRange(ctx context.Context, hospitalID uuid.UUID, from, to time.Time) ([]Holiday, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT id, hospital_id, holiday_date, name, created_at
		FROM hospital_holiday
		WHERE hospital_id = $1 AND holiday_date BETWEEN $2 AND $3
		ORDER BY holiday_date`, hospitalID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	defer rows.Close()

	var out []Holiday
	for rows.Next() {
		var h Holiday
		if err := rows.Scan(&h.ID, &h.HospitalID, &h.Date, &h.Name, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan holiday: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PGStore) Create(ctx context.Context, h *Holiday) error {
	h.ID = uuid.New()
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO hospital_holiday (id, hospital_id, holiday_date, name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`, h.ID, h.HospitalID, h.Date, h.Name).Scan(&h.CreatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict(apperr.ReasonHoliday, "a holiday already exists on "+h.Date.Format("2006-01-02"))
	}
	if err != nil {
		return fmt.Errorf("create holiday: %w", err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, hospitalID, id uuid.UUID) error {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx,
		`DELETE FROM hospital_holiday WHERE id = $1 AND hospital_id = $2`, id, hospitalID)
	if err != nil {
		return fmt.Errorf("delete holiday: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("holiday", id.String())
	}
	return nil
}
