package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

const appointmentColumns = `
	id, patient_id, doctor_id, start_time, duration_minutes, status, type,
	consultation_fee::text, chief_complaint, symptoms, doctor_notes,
	cancellation_reason, cancelled_by, cancelled_at, created_at, updated_at`

const doctorColumns = `
	id, user_id, name, specialty, consultation_fee::text, slot_duration_minutes,
	is_available, morning_start, morning_end, evening_start, evening_end,
	created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string
	var fee string
	var morningStart, morningEnd, eveningStart, eveningEnd pgtype.Time

	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.Name,
		&specialty,
		&fee,
		&d.SlotDurationMinutes,
		&d.IsAvailable,
		&morningStart,
		&morningEnd,
		&eveningStart,
		&eveningEnd,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	d.ConsultationFee, err = decimal.NewFromString(fee)
	if err != nil {
		return nil, fmt.Errorf("parse consultation fee %q: %w", fee, err)
	}
	if w, ok := windowFromColumns("MORNING", morningStart, morningEnd); ok {
		d.WorkingHours = append(d.WorkingHours, w)
	}
	if w, ok := windowFromColumns("EVENING", eveningStart, eveningEnd); ok {
		d.WorkingHours = append(d.WorkingHours, w)
	}
	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status, apptType, fee string
	var chief, symptoms, notes, reason, cancelledBy *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.StartTime,
		&a.DurationMinutes,
		&status,
		&apptType,
		&fee,
		&chief,
		&symptoms,
		&notes,
		&reason,
		&cancelledBy,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if a.Status, err = ParseStatus(status); err != nil {
		return nil, err
	}
	a.Type = AppointmentType(apptType)
	if a.ConsultationFee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse consultation fee %q: %w", fee, err)
	}
	a.ChiefComplaint = deref(chief)
	a.Symptoms = deref(symptoms)
	a.DoctorNotes = deref(notes)
	a.CancellationReason = deref(reason)
	if cancelledBy != nil {
		p := Party(*cancelledBy)
		a.CancelledBy = &p
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := make([]Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func windowFromColumns(session string, start, end pgtype.Time) (WorkingWindow, bool) {
	if !start.Valid || !end.Valid {
		return WorkingWindow{}, false
	}
	return WorkingWindow{
		Session: session,
		Start:   ClockTime(start.Microseconds / int64(time.Minute/time.Microsecond)),
		End:     ClockTime(end.Microseconds / int64(time.Minute/time.Microsecond)),
	}, true
}

func clockColumn(c ClockTime) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * int64(time.Minute/time.Microsecond), Valid: true}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// translateError maps constraint violations raised by the no-overlap
// exclusion constraint or a duplicate id to ErrSlotConflict.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation, pgUniqueViolation:
			return ErrSlotConflict
		}
	}
	return err
}

// Interface methods

func (r *PgRepository) CreatePatient(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING created_at, updated_at
	`, p.ID, p.Name, p.Email)

	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

// CreateDoctor stores up to two working windows as the morning and evening
// sessions.
func (r *PgRepository) CreateDoctor(ctx context.Context, d *Doctor) error {
	if len(d.WorkingHours) > 2 {
		return fmt.Errorf("doctor supports at most 2 working windows, got %d", len(d.WorkingHours))
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.UserID == uuid.Nil {
		d.UserID = uuid.New()
	}

	cols := make([]pgtype.Time, 4)
	for i, w := range d.WorkingHours {
		cols[i*2] = clockColumn(w.Start)
		cols[i*2+1] = clockColumn(w.End)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctors (
			id, user_id, name, specialty, consultation_fee, slot_duration_minutes,
			is_available, morning_start, morning_end, evening_start, evening_end,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8, $9, $10, $11, now(), now())
		RETURNING created_at, updated_at
	`, d.ID, d.UserID, d.Name, d.Specialty, d.ConsultationFee.String(), d.SlotDurationMinutes,
		d.IsAvailable, cols[0], cols[1], cols[2], cols[3])

	if err := row.Scan(&d.CreatedAt, &d.UpdatedAt); err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'CANCELLED'
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time, id
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY start_time, id
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindElapsedScheduled(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'SCHEDULED'
		  AND end_time <= $1
		ORDER BY start_time
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// WithDoctorTx runs fn in a transaction holding the doctor's advisory lock.
// The lock is released when the transaction ends.
func (r *PgRepository) WithDoctorTx(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, doctorID.String()); err != nil {
		return fmt.Errorf("acquire doctor lock: %w", err)
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return translateError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return translateError(err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *pgTx) FindConflicting(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]Appointment, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'CANCELLED'
		  AND start_time < $3
		  AND end_time > $2
		  AND ($4::uuid IS NULL OR id <> $4)
		ORDER BY start_time
	`, doctorID, start, end, exclude)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, start_time, end_time, duration_minutes, status, type,
			consultation_fee, chief_complaint, symptoms, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::text::numeric, $10, $11, $12, $13)
	`, a.ID, a.PatientID, a.DoctorID, a.StartTime, a.EndTime(), a.DurationMinutes,
		a.Status.String(), string(a.Type), a.ConsultationFee.String(),
		nullable(a.ChiefComplaint), nullable(a.Symptoms), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return translateError(err)
	}
	return nil
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a *Appointment) error {
	var cancelledBy *string
	if a.CancelledBy != nil {
		s := string(*a.CancelledBy)
		cancelledBy = &s
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET start_time = $2,
		    end_time = $3,
		    status = $4,
		    doctor_notes = $5,
		    cancellation_reason = $6,
		    cancelled_by = $7,
		    cancelled_at = $8,
		    updated_at = $9
		WHERE id = $1
	`, a.ID, a.StartTime, a.EndTime(), a.Status.String(), nullable(a.DoctorNotes),
		nullable(a.CancellationReason), cancelledBy, a.CancelledAt, a.UpdatedAt)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}
