package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/clinicore/episode-service/internal/redis"
)

var (
	ErrSlotFull          = errors.New("time slot already holds two appointments")
	ErrSlotBusy          = errors.New("time slot is currently being booked, please retry")
	ErrInvalidTransition = errors.New("invalid appointment status transition")
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	log    zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		log:    log.With().Str("component", "schedule").Logger(),
	}
}

// Allocate places an appointment into the (doctor, minute) slot. A missing
// slot is created with the appointment on side one; a half-filled slot gets
// its second side set; a full slot rejects with ErrSlotFull. Re-allocating
// an appointment that already sits in the slot is a no-op, so retries are
// safe.
//
// Mutation is serialized two ways: a per slot distributed lock, and
// underneath it a unique (doctor_id, slot_time) index plus a conditional
// second-side update. Two concurrent calls observing the same half-filled
// slot cannot both win.
func (s *Service) Allocate(ctx context.Context, doctorID uuid.UUID, at time.Time, appointmentID uuid.UUID) (*DoctorSlot, error) {
	at = SlotMinute(at)

	var result *DoctorSlot

	err := s.locker.WithLock(ctx, redisclient.SlotKey(doctorID, at), func(lockCtx context.Context) error {
		slot, err := s.repo.GetSlotAt(lockCtx, doctorID, at)
		if err != nil {
			if !errors.Is(err, ErrSlotNotFound) {
				return fmt.Errorf("load slot: %w", err)
			}

			created, err := s.repo.CreateSlot(lockCtx, doctorID, at, appointmentID)
			if err != nil {
				return fmt.Errorf("create slot: %w", err)
			}
			result = created
			return nil
		}

		filled, err := s.fillExisting(lockCtx, slot, appointmentID)
		if err != nil {
			return err
		}
		result = filled
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBusy
		}
		return nil, err
	}

	return result, nil
}

func (s *Service) fillExisting(ctx context.Context, slot *DoctorSlot, appointmentID uuid.UUID) (*DoctorSlot, error) {
	if slot.Holds(appointmentID) {
		return slot, nil
	}
	if slot.Full() {
		return nil, ErrSlotFull
	}

	filled, err := s.repo.FillSlot(ctx, slot.ID, appointmentID)
	if err == nil {
		return filled, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, fmt.Errorf("fill slot: %w", err)
	}

	// The conditional update matched nothing: someone else changed the
	// slot between our read and write. Re-read and classify.
	current, rerr := s.repo.GetSlotAt(ctx, slot.DoctorID, slot.SlotTime)
	if rerr != nil {
		return nil, fmt.Errorf("reload slot: %w", rerr)
	}
	if current.Holds(appointmentID) {
		return current, nil
	}
	if current.Full() {
		return nil, ErrSlotFull
	}
	return nil, fmt.Errorf("fill slot: %w", err)
}

// FindHalfOpen returns the slot at the given minute when it exists and still
// has a free side, ErrSlotFull when occupied twice, ErrSlotNotFound when no
// slot exists yet.
func (s *Service) FindHalfOpen(ctx context.Context, doctorID uuid.UUID, at time.Time) (*DoctorSlot, error) {
	slot, err := s.repo.GetSlotAt(ctx, doctorID, SlotMinute(at))
	if err != nil {
		return nil, err
	}
	if slot.Full() {
		return nil, ErrSlotFull
	}
	return slot, nil
}

// Book creates a new appointment after validating that the patient and
// doctor exist.
func (s *Service) Book(ctx context.Context, patientID, doctorID uuid.UUID, visitType VisitType, scheduledAt time.Time, status AppointmentStatus) (*Appointment, error) {
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	appt, err := s.repo.CreateAppointment(ctx, patientID, doctorID, visitType, scheduledAt, status)
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", doctorID.String()).
		Str("visit_type", string(visitType)).
		Time("scheduled_at", scheduledAt).
		Msg("appointment booked")

	return appt, nil
}

// Appointment retrieves an appointment by ID.
func (s *Service) Appointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

// UpdateStatus transitions an appointment between statuses. The transition
// table is checked first, then the repository applies the change as a
// compare-and-swap on the expected current status.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	appt, err := s.repo.UpdateAppointmentStatus(ctx, id, from, to)
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	return appt, nil
}

// SlotsInRange lists a doctor's slots overlapping [from, to).
func (s *Service) SlotsInRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]DoctorSlot, error) {
	slots, err := s.repo.SlotsInRange(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return slots, nil
}
