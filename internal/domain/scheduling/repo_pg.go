package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcore/hms/internal/platform/apperr"
	"github.com/medcore/hms/internal/platform/db"
)

// where accumulates AND clauses; each clause holds one %d for its placeholder.
type where struct {
	sql  string
	args []interface{}
}

func newWhere(clause string, arg interface{}) *where {
	w := &where{}
	w.add(clause, arg)
	return w
}

func (w *where) add(clause string, arg interface{}) {
	w.args = append(w.args, arg)
	if w.sql != "" {
		w.sql += " AND "
	}
	w.sql += fmt.Sprintf(clause, len(w.args))
}

func (w *where) page(p Page) string {
	if p.Limit <= 0 {
		return ""
	}
	w.args = append(w.args, p.Limit, p.Offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(w.args)-1, len(w.args))
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const doctorCols = `id, hospital_id, name, COALESCE(email, ''), COALESCE(phone, ''),
	slot_duration_minutes, max_patients_per_day, is_active, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.HospitalID, &d.Name, &d.Email, &d.Phone,
		&d.SlotDurationMinutes, &d.MaxPatientsPerDay, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor (id, hospital_id, name, email, phone, slot_duration_minutes, max_patients_per_day, is_active)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
		RETURNING created_at, updated_at`,
		d.ID, d.HospitalID, d.Name, d.Email, d.Phone, d.SlotDurationMinutes, d.MaxPatientsPerDay, d.IsActive,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) Get(ctx context.Context, hospitalID, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx,
		`SELECT `+doctorCols+` FROM doctor WHERE id = $1 AND hospital_id = $2`, id, hospitalID))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("doctor", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return d, nil
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor SET name = $3, email = NULLIF($4, ''), phone = NULLIF($5, ''),
			slot_duration_minutes = $6, max_patients_per_day = $7, is_active = $8, updated_at = NOW()
		WHERE id = $1 AND hospital_id = $2`,
		d.ID, d.HospitalID, d.Name, d.Email, d.Phone, d.SlotDurationMinutes, d.MaxPatientsPerDay, d.IsActive)
	if err != nil {
		return fmt.Errorf("update doctor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("doctor", d.ID.String())
	}
	return nil
}

func (r *doctorRepoPG) List(ctx context.Context, f DoctorFilter) ([]*Doctor, error) {
	w := newWhere("hospital_id = $%d", f.HospitalID)
	if f.ActiveOnly {
		w.add("is_active = $%d", true)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+doctorCols+` FROM doctor WHERE `+w.sql+` ORDER BY name`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan doctor: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

func (r *scheduleRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *scheduleRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]WeeklySchedule, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time, break_start, break_end, is_active, created_at
		FROM weekly_schedule WHERE doctor_id = $1 ORDER BY day_of_week`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list schedule: %w", err)
	}
	defer rows.Close()
	var items []WeeklySchedule
	for rows.Next() {
		var (
			s                  WeeklySchedule
			day                int16
			start, end, bs, be pgtype.Time
		)
		if err := rows.Scan(&s.ID, &s.DoctorID, &day, &start, &end, &bs, &be, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		s.DayOfWeek = time.Weekday(day)
		s.StartTime, s.EndTime = fromPGTime(start), fromPGTime(end)
		s.BreakStart, s.BreakEnd = fromPGTimePtr(bs), fromPGTimePtr(be)
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *scheduleRepoPG) Replace(ctx context.Context, doctorID uuid.UUID, entries []WeeklySchedule) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM weekly_schedule WHERE doctor_id = $1`, doctorID); err != nil {
		return fmt.Errorf("clear schedule: %w", err)
	}
	for i := range entries {
		e := &entries[i]
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.DoctorID = doctorID
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO weekly_schedule (id, doctor_id, day_of_week, start_time, end_time, break_start, break_end, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, doctorID, int16(e.DayOfWeek), pgTime(e.StartTime), pgTime(e.EndTime),
			pgTimePtr(e.BreakStart), pgTimePtr(e.BreakEnd), e.IsActive)
		if err != nil {
			return fmt.Errorf("insert schedule %s: %w", e.DayOfWeek, err)
		}
	}
	return nil
}

// =========== Absence Repository ===========

type absenceRepoPG struct{ pool *pgxpool.Pool }

func NewAbsenceRepoPG(pool *pgxpool.Pool) AbsenceRepository { return &absenceRepoPG{pool: pool} }

func (r *absenceRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const absenceCols = `id, hospital_id, doctor_id, start_date, end_date, absence_type, is_full_day,
	start_time, end_time, status, COALESCE(reason, ''), COALESCE(notes, ''), created_at, cancelled_at`

func scanAbsence(row pgx.Row) (*Absence, error) {
	var (
		a          Absence
		typ        string
		start, end pgtype.Time
	)
	err := row.Scan(&a.ID, &a.HospitalID, &a.DoctorID, &a.StartDate, &a.EndDate, &typ, &a.IsFullDay,
		&start, &end, &a.Status, &a.Reason, &a.Notes, &a.CreatedAt, &a.CancelledAt)
	if err != nil {
		return nil, err
	}
	a.Type = AbsenceType(typ)
	a.StartTime, a.EndTime = fromPGTimePtr(start), fromPGTimePtr(end)
	return &a, nil
}

func (r *absenceRepoPG) Create(ctx context.Context, a *Absence) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_absence (id, hospital_id, doctor_id, start_date, end_date, absence_type,
			is_full_day, start_time, end_time, status, reason, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), NULLIF($12, ''))
		RETURNING created_at`,
		a.ID, a.HospitalID, a.DoctorID, a.StartDate, a.EndDate, string(a.Type),
		a.IsFullDay, pgTimePtr(a.StartTime), pgTimePtr(a.EndTime), a.Status, a.Reason, a.Notes,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert absence: %w", err)
	}
	return nil
}

func (r *absenceRepoPG) Get(ctx context.Context, hospitalID, id uuid.UUID) (*Absence, error) {
	a, err := scanAbsence(r.conn(ctx).QueryRow(ctx,
		`SELECT `+absenceCols+` FROM doctor_absence WHERE id = $1 AND hospital_id = $2`, id, hospitalID))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("absence", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get absence: %w", err)
	}
	return a, nil
}

func (r *absenceRepoPG) List(ctx context.Context, f AbsenceFilter, p Page) ([]*Absence, int, error) {
	w := newWhere("hospital_id = $%d", f.HospitalID)
	if f.DoctorID != nil {
		w.add("doctor_id = $%d", *f.DoctorID)
	}
	if f.Status != "" {
		w.add("status = $%d", f.Status)
	}
	if f.From != nil {
		w.add("end_date >= $%d", *f.From)
	}
	if f.To != nil {
		w.add("start_date <= $%d", *f.To)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctor_absence WHERE `+w.sql, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count absences: %w", err)
	}
	query := `SELECT ` + absenceCols + ` FROM doctor_absence WHERE ` + w.sql + ` ORDER BY start_date, created_at`
	query += w.page(p)
	rows, err := r.conn(ctx).Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list absences: %w", err)
	}
	defer rows.Close()
	var items []*Absence
	for rows.Next() {
		a, err := scanAbsence(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan absence: %w", err)
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *absenceRepoPG) MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor_absence SET status = $2, cancelled_at = $3 WHERE id = $1 AND status = $4`,
		id, AbsenceCancelled, at, AbsenceActive)
	if err != nil {
		return fmt.Errorf("cancel absence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.ReasonAlreadyCancelled, "absence is already cancelled")
	}
	return nil
}

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

func (r *slotRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const slotCols = `id, hospital_id, doctor_id, slot_date, start_time, end_time, is_available, is_blocked,
	manually_blocked, blocked_absence_id, appointment_id, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var (
		s          Slot
		start, end pgtype.Time
	)
	err := row.Scan(&s.ID, &s.HospitalID, &s.DoctorID, &s.Date, &start, &end, &s.IsAvailable, &s.IsBlocked,
		&s.ManuallyBlocked, &s.BlockedAbsenceID, &s.AppointmentID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.StartTime, s.EndTime = fromPGTime(start), fromPGTime(end)
	return &s, nil
}

func collectSlots(rows pgx.Rows) ([]*Slot, error) {
	defer rows.Close()
	var items []*Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// Regeneration must never touch availability or the appointment link of an
// existing row.
const upsertSlotSQL = `
	INSERT INTO slot (id, hospital_id, doctor_id, slot_date, start_time, end_time,
		is_available, is_blocked, blocked_absence_id)
	VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8)
	ON CONFLICT (doctor_id, slot_date, start_time) DO UPDATE
	SET blocked_absence_id = EXCLUDED.blocked_absence_id,
		is_blocked = slot.manually_blocked OR EXCLUDED.blocked_absence_id IS NOT NULL,
		updated_at = NOW()`

func (r *slotRepoPG) Upsert(ctx context.Context, slots []*Slot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}
	b := &pgx.Batch{}
	for _, s := range slots {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		b.Queue(upsertSlotSQL, s.ID, s.HospitalID, s.DoctorID, s.Date, pgTime(s.StartTime), pgTime(s.EndTime),
			s.BlockedAbsenceID != nil, s.BlockedAbsenceID)
	}
	br := r.conn(ctx).SendBatch(ctx, b)
	defer br.Close()

	touched := 0
	for range slots {
		tag, err := br.Exec()
		if db.IsUniqueViolation(err) {
			// A concurrent generator won the insert; its row is as good as ours.
			return touched, nil
		}
		if err != nil {
			return touched, fmt.Errorf("upsert slots: %w", err)
		}
		touched += int(tag.RowsAffected())
	}
	return touched, nil
}

func (r *slotRepoPG) Get(ctx context.Context, hospitalID, id uuid.UUID) (*Slot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx,
		`SELECT `+slotCols+` FROM slot WHERE id = $1 AND hospital_id = $2`, id, hospitalID))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("slot", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return s, nil
}

func (r *slotRepoPG) GetByKey(ctx context.Context, doctorID uuid.UUID, date time.Time, start TimeOfDay) (*Slot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx,
		`SELECT `+slotCols+` FROM slot WHERE doctor_id = $1 AND slot_date = $2 AND start_time = $3`,
		doctorID, date, pgTime(start)))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("slot", fmt.Sprintf("%s %s", date.Format("2006-01-02"), start))
	}
	if err != nil {
		return nil, fmt.Errorf("get slot by key: %w", err)
	}
	return s, nil
}

func (r *slotRepoPG) List(ctx context.Context, f SlotFilter) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+slotCols+` FROM slot
		WHERE hospital_id = $1 AND doctor_id = $2 AND slot_date BETWEEN $3 AND $4
		ORDER BY slot_date, start_time`,
		f.HospitalID, f.DoctorID, f.From, f.To)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return collectSlots(rows)
}

func (r *slotRepoPG) CountBooked(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM slot WHERE doctor_id = $1 AND slot_date = $2 AND appointment_id IS NOT NULL`,
		doctorID, date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count booked slots: %w", err)
	}
	return n, nil
}

func (r *slotRepoPG) InsertBooked(ctx context.Context, s *Slot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.IsAvailable = false
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO slot (id, hospital_id, doctor_id, slot_date, start_time, end_time,
			is_available, is_blocked, appointment_id)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, FALSE, $7)
		RETURNING created_at, updated_at`,
		s.ID, s.HospitalID, s.DoctorID, s.Date, pgTime(s.StartTime), pgTime(s.EndTime), s.AppointmentID,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrSlotTaken
	}
	if err != nil {
		return fmt.Errorf("insert booked slot: %w", err)
	}
	return nil
}

func (r *slotRepoPG) MarkBooked(ctx context.Context, slotID, appointmentID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE slot SET is_available = FALSE, appointment_id = $2, updated_at = NOW()
		WHERE id = $1 AND is_available AND NOT is_blocked AND appointment_id IS NULL`,
		slotID, appointmentID)
	if err != nil {
		return false, fmt.Errorf("book slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *slotRepoPG) Release(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE slot SET is_available = TRUE, appointment_id = NULL,
			is_blocked = manually_blocked OR blocked_absence_id IS NOT NULL, updated_at = NOW()
		WHERE appointment_id = $1`, appointmentID)
	if err != nil {
		return false, fmt.Errorf("release slot: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *slotRepoPG) BlockForAbsence(ctx context.Context, b AbsenceBlock) (int, error) {
	w := newWhere("doctor_id = $%d", b.DoctorID)
	w.add("slot_date >= $%d", b.From)
	w.add("slot_date <= $%d", b.To)
	if b.Within != nil {
		w.add("start_time >= $%d", pgTime(b.Within.Start))
		w.add("end_time <= $%d", pgTime(b.Within.End))
	}
	w.args = append(w.args, b.AbsenceID)
	tag, err := r.conn(ctx).Exec(ctx, fmt.Sprintf(`
		UPDATE slot SET blocked_absence_id = $%d, is_blocked = TRUE, updated_at = NOW()
		WHERE %s AND blocked_absence_id IS NULL`, len(w.args), w.sql), w.args...)
	if err != nil {
		return 0, fmt.Errorf("block slots for absence: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *slotRepoPG) UnblockForAbsence(ctx context.Context, absenceID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE slot SET blocked_absence_id = NULL, is_blocked = manually_blocked, updated_at = NOW()
		WHERE blocked_absence_id = $1 AND appointment_id IS NULL`, absenceID)
	if err != nil {
		return 0, fmt.Errorf("unblock slots for absence: %w", err)
	}
	if _, err := r.conn(ctx).Exec(ctx, `
		UPDATE slot SET blocked_absence_id = NULL, updated_at = NOW()
		WHERE blocked_absence_id = $1`, absenceID); err != nil {
		return 0, fmt.Errorf("detach booked slots from absence: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *slotRepoPG) SetManualBlock(ctx context.Context, id uuid.UUID, blocked bool) (*Slot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx, `
		UPDATE slot SET manually_blocked = $2, is_blocked = $2 OR blocked_absence_id IS NOT NULL, updated_at = NOW()
		WHERE id = $1
		RETURNING `+slotCols, id, blocked))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("slot", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("set manual block: %w", err)
	}
	return s, nil
}

func (r *slotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM slot WHERE id = $1 AND appointment_id IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.ReasonSlotLinked, "slot is linked to an appointment")
	}
	return nil
}

func (r *slotRepoPG) DeleteFree(ctx context.Context, doctorID uuid.UUID, from time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM slot
		WHERE doctor_id = $1 AND slot_date >= $2
			AND is_available AND appointment_id IS NULL AND NOT manually_blocked`,
		doctorID, from)
	if err != nil {
		return 0, fmt.Errorf("delete free slots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const apptCols = `id, hospital_id, patient_id, doctor_id, appointment_date, appointment_time, status,
	COALESCE(token_number, 0), COALESCE(reason, ''), COALESCE(patient_name, ''), COALESCE(patient_email, ''),
	COALESCE(patient_phone, ''), COALESCE(cancellation_reason, ''), created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a  Appointment
		at pgtype.Time
	)
	err := row.Scan(&a.ID, &a.HospitalID, &a.PatientID, &a.DoctorID, &a.Date, &at, &a.Status,
		&a.TokenNumber, &a.Reason, &a.PatientName, &a.PatientEmail,
		&a.PatientPhone, &a.CancellationReason, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Time = fromPGTime(at)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, hospital_id, patient_id, doctor_id, appointment_date, appointment_time,
			status, token_number, reason, patient_name, patient_email, patient_phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''))
		RETURNING created_at, updated_at`,
		a.ID, a.HospitalID, a.PatientID, a.DoctorID, a.Date, pgTime(a.Time),
		a.Status, a.TokenNumber, a.Reason, a.PatientName, a.PatientEmail, a.PatientPhone,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) Get(ctx context.Context, hospitalID, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1 AND hospital_id = $2`, id, hospitalID))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("appointment", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET status = $3, appointment_date = $4, appointment_time = $5, token_number = $6,
			cancellation_reason = NULLIF($7, ''), updated_at = NOW()
		WHERE id = $1 AND hospital_id = $2
		RETURNING updated_at`,
		a.ID, a.HospitalID, a.Status, a.Date, pgTime(a.Time), a.TokenNumber, a.CancellationReason,
	).Scan(&a.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("appointment", a.ID.String())
	}
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, p Page) ([]*Appointment, int, error) {
	w := newWhere("hospital_id = $%d", f.HospitalID)
	if f.DoctorID != nil {
		w.add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		w.add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != "" {
		w.add("status = $%d", f.Status)
	}
	if f.From != nil {
		w.add("appointment_date >= $%d", *f.From)
	}
	if f.To != nil {
		w.add("appointment_date <= $%d", *f.To)
	}
	if f.NonTerminal {
		w.add("status <> ALL($%d)", TerminalStatuses)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE `+w.sql, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	query := `SELECT ` + apptCols + ` FROM appointment WHERE ` + w.sql +
		` ORDER BY appointment_date, appointment_time` + w.page(p)
	rows, err := r.conn(ctx).Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) NextToken(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	var next int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(token_number), 0) + 1 FROM appointment
		WHERE doctor_id = $1 AND appointment_date = $2`, doctorID, date).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next token: %w", err)
	}
	return next, nil
}
