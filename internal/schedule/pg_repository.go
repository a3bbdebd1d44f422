package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
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
	return &d, nil
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

func scanSlot(row pgx.Row) (*DoctorSlot, error) {
	var s DoctorSlot
	var second *uuid.UUID

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.SlotTime,
		&s.Appointment1ID,
		&second,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Appointment2ID = second
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.VisitType,
		&a.ScheduledAt,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetSlotAt(ctx context.Context, doctorID uuid.UUID, at time.Time) (*DoctorSlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, slot_time, appointment1_id, appointment2_id, created_at, updated_at
		FROM doctor_slots
		WHERE doctor_id = $1 AND slot_time = $2
	`, doctorID, SlotMinute(at))
	return scanSlot(row)
}

func (r *PgRepository) SlotsInRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]DoctorSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, slot_time, appointment1_id, appointment2_id, created_at, updated_at
		FROM doctor_slots
		WHERE doctor_id = $1
		  AND slot_time >= $2
		  AND slot_time < $3
		ORDER BY slot_time
	`, doctorID, SlotMinute(from), SlotMinute(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DoctorSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreateSlot(ctx context.Context, doctorID uuid.UUID, at time.Time, appointmentID uuid.UUID) (*DoctorSlot, error) {
	id := uuid.New()

	// (doctor_id, slot_time) carries a unique index, so a concurrent
	// create loses with a constraint violation rather than a duplicate.
	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctor_slots (id, doctor_id, slot_time, appointment1_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id, doctor_id, slot_time, appointment1_id, appointment2_id, created_at, updated_at
	`, id, doctorID, SlotMinute(at), appointmentID)

	return scanSlot(row)
}

func (r *PgRepository) FillSlot(ctx context.Context, slotID, appointmentID uuid.UUID) (*DoctorSlot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE doctor_slots
		SET appointment2_id = $2,
		    updated_at = now()
		WHERE id = $1
		  AND appointment2_id IS NULL
		  AND appointment1_id <> $2
		RETURNING id, doctor_id, slot_time, appointment1_id, appointment2_id, created_at, updated_at
	`, slotID, appointmentID)

	return scanSlot(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, patientID, doctorID uuid.UUID, visitType VisitType, scheduledAt time.Time, status AppointmentStatus) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, visit_type, scheduled_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, patient_id, doctor_id, visit_type, scheduled_at, status, created_at, updated_at
	`, id, patientID, doctorID, visitType, scheduledAt, status)

	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, visit_type, scheduled_at, status, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING id, patient_id, doctor_id, visit_type, scheduled_at, status, created_at, updated_at
	`, id, to, from)

	return scanAppointment(row)
}
