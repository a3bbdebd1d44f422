package schedule

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusDiagnosed AppointmentStatus = "diagnosed"
	StatusCancelled AppointmentStatus = "cancelled"
)

type VisitType string

const (
	VisitFirst    VisitType = "first-visit"
	VisitFollowUp VisitType = "follow-up"
	VisitReview   VisitType = "review"
)

// appointmentTransitions lists the allowed status moves. Diagnosed and
// cancelled are terminal.
var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusScheduled: {StatusConfirmed, StatusDiagnosed, StatusCancelled},
	StatusConfirmed: {StatusDiagnosed, StatusCancelled},
	StatusDiagnosed: {},
	StatusCancelled: {},
}

// CanTransition reports whether an appointment may move from one status to
// another.
func CanTransition(from, to AppointmentStatus) bool {
	for _, s := range appointmentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DoctorSlot is a (doctor, minute) bucket holding up to two appointment
// references. Side one is always filled first.
type DoctorSlot struct {
	ID             uuid.UUID
	DoctorID       uuid.UUID
	SlotTime       time.Time
	Appointment1ID uuid.UUID
	Appointment2ID *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Full reports whether both sides of the slot are occupied.
func (s *DoctorSlot) Full() bool {
	return s.Appointment2ID != nil
}

// Holds reports whether the slot already references the given appointment.
func (s *DoctorSlot) Holds(appointmentID uuid.UUID) bool {
	if s.Appointment1ID == appointmentID {
		return true
	}
	return s.Appointment2ID != nil && *s.Appointment2ID == appointmentID
}

type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	VisitType   VisitType
	ScheduledAt time.Time
	Status      AppointmentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SlotMinute normalizes a timestamp to the slot grid: UTC, truncated to the
// minute. Slots are keyed by exact minute equality, no fuzzy window.
func SlotMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}
