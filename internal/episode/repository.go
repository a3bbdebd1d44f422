package episode

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrDiagnosisNotFound = errors.New("diagnosis record not found")
	ErrDiagnosisExists   = errors.New("appointment already has a diagnosis record")
	ErrNotFinalizable    = errors.New("appointment is not in a finalizable status")
)

// Repository contains the episode write path. CreateDiagnosisAndFinalize is
// the saga's mandatory core: the diagnosis insert and the appointment's
// move to diagnosed commit together or not at all.
type Repository interface {
	// CreateDiagnosisAndFinalize inserts the diagnosis record and
	// transitions the owning appointment from scheduled/confirmed to
	// diagnosed in one transaction. A duplicate diagnosis surfaces
	// ErrDiagnosisExists; an appointment no longer in a finalizable
	// status surfaces ErrNotFinalizable.
	CreateDiagnosisAndFinalize(ctx context.Context, rec *DiagnosisRecord) (*DiagnosisRecord, error)

	GetDiagnosisByAppointment(ctx context.Context, appointmentID uuid.UUID) (*DiagnosisRecord, error)

	CreateSurgery(ctx context.Context, s *Surgery) (*Surgery, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
