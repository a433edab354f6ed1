package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinova/allocation-engine/internal/schedule"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*schedule.Doctor, error) {
	var d schedule.Doctor
	var dayStart, dayEnd int
	var daysOff []int32

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&d.GeneralPurpose,
		&dayStart,
		&dayEnd,
		&daysOff,
		&d.Calendar.SlotMinutes,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Calendar.DayStart = schedule.MinuteOfDay(dayStart)
	d.Calendar.DayEnd = schedule.MinuteOfDay(dayEnd)
	d.Calendar.DaysOff = make(map[time.Weekday]bool, len(daysOff))
	for _, wd := range daysOff {
		d.Calendar.DaysOff[time.Weekday(wd)] = true
	}

	return &d, nil
}

func scanService(row pgx.Row) (*schedule.Service, error) {
	var s schedule.Service

	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Category,
		&s.DurationMinutes,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}

	return &s, nil
}

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

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var expiresAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.ServiceID,
		&a.Start,
		&a.End,
		&a.Status,
		&a.Origin,
		&expiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.ExpiresAt = expiresAt
	return &a, nil
}

const appointmentColumns = `id, doctor_id, patient_id, service_id, start_time, end_time, status, origin, expires_at, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*schedule.Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, general_purpose, day_start_min, day_end_min, days_off, slot_minutes, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*schedule.Service, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, category, duration_minutes, created_at, updated_at
		FROM services
		WHERE id = $1
	`, id)
	return scanService(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) UpdateDoctorCalendar(ctx context.Context, id uuid.UUID, cal schedule.Calendar) (*schedule.Doctor, error) {
	daysOff := make([]int32, 0, len(cal.DaysOff))
	for wd, off := range cal.DaysOff {
		if off {
			daysOff = append(daysOff, int32(wd))
		}
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE doctors
		SET day_start_min = $2,
		    day_end_min = $3,
		    days_off = $4,
		    slot_minutes = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, name, specialty, general_purpose, day_start_min, day_end_min, days_off, slot_minutes, created_at, updated_at
	`, id, int(cal.DayStart), int(cal.DayEnd), daysOff, cal.SlotMinutes)

	return scanDoctor(row)
}

func (r *PgRepository) ListBlocking(ctx context.Context, doctorID uuid.UUID, iv schedule.Interval, now time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time > $2
		  AND (status = 'confirmed'
		       OR (status = 'pending' AND (expires_at IS NULL OR expires_at > $4)))
	`, doctorID, iv.Start, iv.End, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID, a.DoctorID, a.PatientID, a.ServiceID, a.Start, a.End, a.Status, a.Origin, a.ExpiresAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
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
