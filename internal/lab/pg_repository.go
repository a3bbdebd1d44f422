package lab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStateConflict reports a compare-and-swap miss caused by a concurrent
// writer; callers may re-read and retry.
var ErrStateConflict = errors.New("lab order changed concurrently")

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const orderColumns = `id, appointment_id, external_order_id, lab_test_id, status, sent_external, external_lab_name, tentative_report_date, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var apptID *uuid.UUID
	var externalOrderID, labName *string
	var tentative *time.Time

	err := row.Scan(
		&o.ID,
		&apptID,
		&externalOrderID,
		&o.LabTestID,
		&o.Status,
		&o.SentExternal,
		&labName,
		&tentative,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	o.AppointmentID = apptID
	o.ExternalOrderID = externalOrderID
	o.ExternalLabName = labName
	o.TentativeReportDate = tentative
	return &o, nil
}

func (r *PgRepository) CreateOrder(ctx context.Context, o *Order) (*Order, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO lab_orders (id, appointment_id, external_order_id, lab_test_id, status, sent_external, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, false, now(), now())
		RETURNING `+orderColumns+`
	`, id, o.AppointmentID, o.ExternalOrderID, o.LabTestID, o.Status)

	return scanOrder(row)
}

func (r *PgRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM lab_orders
		WHERE id = $1
	`, id)
	return scanOrder(row)
}

// classifyMiss distinguishes a CAS miss: gone, completed, or raced.
func (r *PgRepository) classifyMiss(ctx context.Context, id uuid.UUID) error {
	current, err := r.GetOrderByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == OrderCompleted {
		return ErrOrderCompleted
	}
	return ErrStateConflict
}

func (r *PgRepository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus) (*Order, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE lab_orders
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+orderColumns+`
	`, id, to, from)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, err
	}
	return o, nil
}

func (r *PgRepository) SetTentativeDate(ctx context.Context, id uuid.UUID, date time.Time, status OrderStatus) (*Order, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE lab_orders
		SET tentative_report_date = $2,
		    status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status <> 'completed'
		RETURNING `+orderColumns+`
	`, id, date, status)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, err
	}
	return o, nil
}

func (r *PgRepository) SetExternalRouting(ctx context.Context, id uuid.UUID, sentExternal bool, labName *string, status OrderStatus) (*Order, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE lab_orders
		SET sent_external = $2,
		    external_lab_name = $3,
		    status = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status <> 'completed'
		RETURNING `+orderColumns+`
	`, id, sentExternal, labName, status)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, err
	}
	return o, nil
}

func (r *PgRepository) ParametersByLabTest(ctx context.Context, labTestID uuid.UUID) ([]CatalogParameter, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lab_test_id, name, unit
		FROM lab_test_parameters
		WHERE lab_test_id = $1
		ORDER BY name
	`, labTestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CatalogParameter
	for rows.Next() {
		var p CatalogParameter
		if err := rows.Scan(&p.ID, &p.LabTestID, &p.Name, &p.Unit); err != nil {
			return nil, err
		}
		result = append(result, p)
	}

	return result, rows.Err()
}

func (r *PgRepository) ResultsByOrder(ctx context.Context, orderID uuid.UUID) ([]ParameterResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT order_id, parameter_id, value, unit_override, recorded_at
		FROM lab_parameter_results
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ParameterResult
	for rows.Next() {
		var res ParameterResult
		if err := rows.Scan(&res.OrderID, &res.ParameterID, &res.Value, &res.UnitOverride, &res.RecordedAt); err != nil {
			return nil, err
		}
		result = append(result, res)
	}

	return result, rows.Err()
}

// UpsertResult writes a parameter value while holding a share lock on the
// order row, so it serializes against CompleteOrder's gate evaluation.
func (r *PgRepository) UpsertResult(ctx context.Context, res ParameterResult) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var status OrderStatus
	err = tx.QueryRow(ctx, `
		SELECT status
		FROM lab_orders
		WHERE id = $1
		FOR SHARE
	`, res.OrderID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return err
	}
	if status == OrderCompleted {
		return ErrOrderCompleted
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO lab_parameter_results (order_id, parameter_id, value, unit_override, recorded_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (order_id, parameter_id)
		DO UPDATE SET value = EXCLUDED.value,
		              unit_override = EXCLUDED.unit_override,
		              recorded_at = now()
	`, res.OrderID, res.ParameterID, res.Value, res.UnitOverride)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) AddAttachment(ctx context.Context, att *Attachment) (*Attachment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO lab_order_attachments (id, order_id, file_name, content_type, size, stored_at)
		SELECT $1, $2, $3, $4, $5, now()
		WHERE EXISTS (
			SELECT 1 FROM lab_orders WHERE id = $2 AND status <> 'completed'
		)
		RETURNING id, order_id, file_name, content_type, size, stored_at
	`, id, att.OrderID, att.FileName, att.ContentType, att.Size)

	var out Attachment
	err := row.Scan(&out.ID, &out.OrderID, &out.FileName, &out.ContentType, &out.Size, &out.StoredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMiss(ctx, att.OrderID)
		}
		return nil, err
	}
	return &out, nil
}

func (r *PgRepository) AttachmentsByOrder(ctx context.Context, orderID uuid.UUID) ([]Attachment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, file_name, content_type, size, stored_at
		FROM lab_order_attachments
		WHERE order_id = $1
		ORDER BY stored_at
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.OrderID, &a.FileName, &a.ContentType, &a.Size, &a.StoredAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}

	return result, rows.Err()
}

// CompleteOrder locks the order row, re-evaluates the completion gates
// against the transaction's snapshot and flips the status. The row lock
// blocks UpsertResult, so nothing can change between the check and the
// commit.
func (r *PgRepository) CompleteOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM lab_orders
		WHERE id = $1
		FOR UPDATE
	`, orderID)

	order, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if order.Status == OrderCompleted {
		return nil, ErrOrderCompleted
	}

	var p Progress
	err = tx.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM lab_test_parameters WHERE lab_test_id = $1),
			(SELECT count(*) FROM lab_parameter_results WHERE order_id = $2),
			(SELECT count(*) FROM lab_order_attachments WHERE order_id = $2)
	`, order.LabTestID, orderID).Scan(&p.TotalParameters, &p.RecordedParameters, &p.Attachments)
	if err != nil {
		return nil, fmt.Errorf("evaluate completion gates: %w", err)
	}

	if err := completionErr(p); err != nil {
		return nil, err
	}

	row = tx.QueryRow(ctx, `
		UPDATE lab_orders
		SET status = 'completed',
		    updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns+`
	`, orderID)

	completed, err := scanOrder(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return completed, nil
}

func (r *PgRepository) FindOverdue(ctx context.Context, asOf time.Time) ([]Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM lab_orders
		WHERE status <> 'completed'
		  AND tentative_report_date IS NOT NULL
		  AND tentative_report_date < $1
	`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}

	return result, rows.Err()
}
