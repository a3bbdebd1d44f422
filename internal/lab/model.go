package lab

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
)

// Order is a single ordered lab test tracked from creation to completion.
// Exactly one of AppointmentID / ExternalOrderID identifies the owner.
// SentExternal is a routing flag orthogonal to the status, not a fourth
// state.
type Order struct {
	ID                  uuid.UUID
	AppointmentID       *uuid.UUID
	ExternalOrderID     *string
	LabTestID           uuid.UUID
	Status              OrderStatus
	SentExternal        bool
	ExternalLabName     *string
	TentativeReportDate *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CatalogParameter is a measurable value defined by a lab test's catalog,
// e.g. "Hemoglobin". The catalog is read-only from this service.
type CatalogParameter struct {
	ID        uuid.UUID
	LabTestID uuid.UUID
	Name      string
	Unit      string
}

// ParameterResult records one measured value per catalog parameter per
// order. Re-recording a parameter overwrites the previous value.
type ParameterResult struct {
	OrderID      uuid.UUID
	ParameterID  uuid.UUID
	Value        string
	UnitOverride *string
	RecordedAt   time.Time
}

// Attachment is the metadata of a document attached to an order. Byte
// storage lives elsewhere; completion only cares that a retrievable source
// document exists.
type Attachment struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	FileName    string
	ContentType string
	Size        int64
	StoredAt    time.Time
}

// Progress is the derived completeness snapshot for an order. It is
// recomputed on demand, never cached.
type Progress struct {
	TotalParameters    int
	RecordedParameters int
	Attachments        int
}

// Complete reports whether the order satisfies both completion gates.
func (p Progress) Complete() bool {
	return p.RecordedParameters >= p.TotalParameters && p.Attachments > 0
}

var (
	ErrIncompleteResults = errors.New("not every catalog parameter has a recorded value")
	ErrMissingAttachment = errors.New("at least one attached document is required")
)

// completionErr evaluates the completion gates over a consistent snapshot.
// Both gates are checked independently so a caller missing both learns
// about both; the violations are joined and each remains matchable with
// errors.Is.
func completionErr(p Progress) error {
	var errs []error
	if p.RecordedParameters < p.TotalParameters {
		errs = append(errs, ErrIncompleteResults)
	}
	if p.Attachments == 0 {
		errs = append(errs, ErrMissingAttachment)
	}
	return errors.Join(errs...)
}
