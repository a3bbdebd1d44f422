package lab

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound   = errors.New("lab order not found")
	ErrLabTestNotFound = errors.New("lab test not found")
	ErrOrderCompleted  = errors.New("lab order is completed and can no longer change")
)

// Repository contains all DB interactions needed by the service. Write
// methods on an order are guarded against the completed status; a write
// that finds the order completed returns ErrOrderCompleted.
type Repository interface {
	CreateOrder(ctx context.Context, o *Order) (*Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)

	UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus) (*Order, error)
	SetTentativeDate(ctx context.Context, id uuid.UUID, date time.Time, status OrderStatus) (*Order, error)
	SetExternalRouting(ctx context.Context, id uuid.UUID, sentExternal bool, labName *string, status OrderStatus) (*Order, error)

	ParametersByLabTest(ctx context.Context, labTestID uuid.UUID) ([]CatalogParameter, error)
	ResultsByOrder(ctx context.Context, orderID uuid.UUID) ([]ParameterResult, error)
	UpsertResult(ctx context.Context, res ParameterResult) error

	AddAttachment(ctx context.Context, att *Attachment) (*Attachment, error)
	AttachmentsByOrder(ctx context.Context, orderID uuid.UUID) ([]Attachment, error)

	// CompleteOrder re-evaluates the completion gates and flips the order
	// to completed inside one transaction, so a result edited after the
	// service's check cannot slip past the gate.
	CompleteOrder(ctx context.Context, orderID uuid.UUID) (*Order, error)

	// FindOverdue lists non-completed orders whose tentative report date
	// has passed. Used by the watchdog worker.
	FindOverdue(ctx context.Context, asOf time.Time) ([]Order, error)
}
