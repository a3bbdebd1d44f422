package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Slot access. GetSlotAt looks up by exact (doctor, minute) key.
	GetSlotAt(ctx context.Context, doctorID uuid.UUID, at time.Time) (*DoctorSlot, error)
	SlotsInRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]DoctorSlot, error)
	CreateSlot(ctx context.Context, doctorID uuid.UUID, at time.Time, appointmentID uuid.UUID) (*DoctorSlot, error)

	// FillSlot sets the second side of a half-filled slot. It is a
	// conditional update: no row is touched when the slot is already full
	// or already holds the appointment, in which case ErrSlotNotFound is
	// returned and the caller re-reads to classify the miss.
	FillSlot(ctx context.Context, slotID, appointmentID uuid.UUID) (*DoctorSlot, error)

	CreateAppointment(ctx context.Context, patientID, doctorID uuid.UUID, visitType VisitType, scheduledAt time.Time, status AppointmentStatus) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateAppointmentStatus is compare-and-swap on the current status.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
}
