package episode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanDiagnosis(row pgx.Row) (*DiagnosisRecord, error) {
	var rec DiagnosisRecord
	var notes *string
	var followUp *uuid.UUID
	var medicines, labRefs []byte

	err := row.Scan(
		&rec.ID,
		&rec.AppointmentID,
		&rec.DiagnosisText,
		&notes,
		&medicines,
		&labRefs,
		&followUp,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDiagnosisNotFound
		}
		return nil, err
	}

	rec.Notes = notes
	rec.FollowUpAppointmentID = followUp
	if len(medicines) > 0 {
		if err := json.Unmarshal(medicines, &rec.Medicines); err != nil {
			return nil, fmt.Errorf("decode medicines: %w", err)
		}
	}
	if len(labRefs) > 0 {
		if err := json.Unmarshal(labRefs, &rec.LabTestRefs); err != nil {
			return nil, fmt.Errorf("decode lab test refs: %w", err)
		}
	}
	return &rec, nil
}

func (r *PgRepository) CreateDiagnosisAndFinalize(ctx context.Context, rec *DiagnosisRecord) (*DiagnosisRecord, error) {
	medicines, err := json.Marshal(rec.Medicines)
	if err != nil {
		return nil, fmt.Errorf("encode medicines: %w", err)
	}
	labRefs, err := json.Marshal(rec.LabTestRefs)
	if err != nil {
		return nil, fmt.Errorf("encode lab test refs: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO diagnosis_records (id, appointment_id, diagnosis_text, notes, medicines, lab_test_refs, follow_up_appointment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING id, appointment_id, diagnosis_text, notes, medicines, lab_test_refs, follow_up_appointment_id, created_at
	`, id, rec.AppointmentID, rec.DiagnosisText, rec.Notes, medicines, labRefs, rec.FollowUpAppointmentID)

	created, err := scanDiagnosis(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDiagnosisExists
		}
		return nil, fmt.Errorf("insert diagnosis: %w", err)
	}

	// The status move rides in the same transaction: either the record
	// exists and the appointment is diagnosed, or neither happened.
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'diagnosed',
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('scheduled', 'confirmed')
	`, rec.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("mark diagnosed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFinalizable
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return created, nil
}

func (r *PgRepository) GetDiagnosisByAppointment(ctx context.Context, appointmentID uuid.UUID) (*DiagnosisRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, appointment_id, diagnosis_text, notes, medicines, lab_test_refs, follow_up_appointment_id, created_at
		FROM diagnosis_records
		WHERE appointment_id = $1
	`, appointmentID)
	return scanDiagnosis(row)
}

func (r *PgRepository) CreateSurgery(ctx context.Context, s *Surgery) (*Surgery, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO surgeries (id, appointment_id, category, description, status, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, appointment_id, category, description, status, scheduled_at, created_at, updated_at
	`, id, s.AppointmentID, s.Category, s.Description, s.Status, s.ScheduledAt)

	var out Surgery
	var scheduledAt *time.Time
	err := row.Scan(
		&out.ID,
		&out.AppointmentID,
		&out.Category,
		&out.Description,
		&out.Status,
		&scheduledAt,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert surgery: %w", err)
	}

	out.ScheduledAt = scheduledAt
	return &out, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
