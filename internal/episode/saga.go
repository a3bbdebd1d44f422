package episode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/episode-service/internal/notify"
	"github.com/clinicore/episode-service/internal/schedule"
)

const (
	EventConsultationFinalized = "CONSULTATION_FINALIZED"
	EventFollowUpBooked        = "FOLLOW_UP_BOOKED"
	EventSurgeryOpened         = "SURGERY_OPENED"
)

var (
	ErrDiagnosisRequired       = errors.New("diagnosis text is required")
	ErrSurgeryCategoryRequired = errors.New("surgery category is required")
	ErrInvalidSurgeryStatus    = errors.New("surgery can only be opened as not_confirmed or confirmed")
	ErrDoctorMismatch          = errors.New("doctor does not own this appointment")
)

// Scheduler is the slice of the scheduling service the saga needs.
type Scheduler interface {
	Appointment(ctx context.Context, id uuid.UUID) (*schedule.Appointment, error)
	Book(ctx context.Context, patientID, doctorID uuid.UUID, visitType schedule.VisitType, scheduledAt time.Time, status schedule.AppointmentStatus) (*schedule.Appointment, error)
	Allocate(ctx context.Context, doctorID uuid.UUID, at time.Time, appointmentID uuid.UUID) (*schedule.DoctorSlot, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to schedule.AppointmentStatus) (*schedule.Appointment, error)
}

// Service runs the consultation finalization saga: optional follow-up
// booking, optional surgical case, then the mandatory diagnosis commit and
// a best-effort notification. Only the diagnosis step can fail the whole
// operation.
type Service struct {
	repo       Repository
	sched      Scheduler
	dispatcher notify.Dispatcher
	log        zerolog.Logger
}

func NewService(repo Repository, sched Scheduler, dispatcher notify.Dispatcher, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		sched:      sched,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "episode").Logger(),
	}
}

// Finalize closes out a consultation. Steps, in order:
//
//  1. follow-up booking, when requested (best-effort)
//  2. surgical case creation, when requested (best-effort)
//  3. diagnosis record + appointment move to diagnosed (mandatory, one
//     transaction)
//  4. diagnosis-ready notification (best-effort)
//
// All input validation happens before any side effect. Best-effort step
// failures are reported as warnings on the result; they never abort the
// saga. Records written by steps 1 and 2 are not rolled back when step 3
// fails.
func (s *Service) Finalize(ctx context.Context, in FinalizeInput) (*FinalizeResult, error) {
	in.DiagnosisText = strings.TrimSpace(in.DiagnosisText)
	if in.DiagnosisText == "" {
		return nil, ErrDiagnosisRequired
	}
	if in.Surgery != nil {
		if in.Surgery.Status != SurgeryNotConfirmed && in.Surgery.Status != SurgeryConfirmed {
			return nil, ErrInvalidSurgeryStatus
		}
		if strings.TrimSpace(in.Surgery.Category) == "" {
			return nil, ErrSurgeryCategoryRequired
		}
	}

	appt, err := s.sched.Appointment(ctx, in.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.DoctorID != in.DoctorID {
		return nil, ErrDoctorMismatch
	}
	if appt.Status != schedule.StatusScheduled && appt.Status != schedule.StatusConfirmed {
		return nil, fmt.Errorf("%w: status is %s", ErrNotFinalizable, appt.Status)
	}

	result := &FinalizeResult{}

	// Step 1: follow-up. Any failure here, slot contention included,
	// degrades to a warning and a null follow-up reference.
	if in.FollowUp != nil {
		followUpID, err := s.bookFollowUp(ctx, appt, in.FollowUp)
		if err != nil {
			s.log.Warn().Err(err).
				Str("appointment_id", appt.ID.String()).
				Msg("follow-up booking failed, continuing without it")
			result.Warnings = append(result.Warnings, Warning{Step: StepFollowUp, Err: err})
		} else {
			result.FollowUpAppointmentID = followUpID
		}
	}

	// Step 2: surgical case.
	if in.Surgery != nil {
		surgery, err := s.repo.CreateSurgery(ctx, &Surgery{
			AppointmentID: appt.ID,
			Category:      in.Surgery.Category,
			Description:   in.Surgery.Description,
			Status:        in.Surgery.Status,
			ScheduledAt:   in.Surgery.ScheduledAt,
		})
		if err != nil {
			s.log.Warn().Err(err).
				Str("appointment_id", appt.ID.String()).
				Msg("surgery creation failed, continuing without it")
			result.Warnings = append(result.Warnings, Warning{Step: StepSurgery, Err: err})
		} else {
			result.SurgeryID = &surgery.ID
			s.logEvent(ctx, appt.ID, EventSurgeryOpened, map[string]any{
				"surgery_id": surgery.ID.String(),
				"category":   surgery.Category,
				"status":     string(surgery.Status),
			})
		}
	}

	// Step 3: the mandatory core. Failure aborts; steps 1 and 2 stand.
	created, err := s.repo.CreateDiagnosisAndFinalize(ctx, &DiagnosisRecord{
		AppointmentID:         appt.ID,
		DiagnosisText:         in.DiagnosisText,
		Notes:                 in.Notes,
		Medicines:             in.Medicines,
		LabTestRefs:           in.LabTestRefs,
		FollowUpAppointmentID: result.FollowUpAppointmentID,
	})
	if err != nil {
		if errors.Is(err, ErrDiagnosisExists) || errors.Is(err, ErrNotFinalizable) {
			return nil, err
		}
		return nil, fmt.Errorf("persist diagnosis: %w", err)
	}
	result.Diagnosis = created

	s.logEvent(ctx, appt.ID, EventConsultationFinalized, map[string]any{
		"diagnosis_id": created.ID.String(),
	})

	// Step 4: fire-and-forget. The saga's outcome is already committed.
	if err := s.dispatcher.DiagnosisReady(ctx, created.ID, appt.ID); err != nil {
		s.log.Warn().Err(err).
			Str("diagnosis_id", created.ID.String()).
			Msg("diagnosis-ready notification failed")
		result.Warnings = append(result.Warnings, Warning{Step: StepNotify, Err: err})
	}

	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("diagnosis_id", created.ID.String()).
		Int("warnings", len(result.Warnings)).
		Msg("consultation finalized")

	return result, nil
}

// bookFollowUp creates a pending revisit appointment and places it into the
// doctor's slot grid. A half-filled slot at that minute is filled; a
// missing one is created. When allocation fails, the freshly booked
// appointment is cancelled so it does not linger unreferenced.
func (s *Service) bookFollowUp(ctx context.Context, appt *schedule.Appointment, req *FollowUpRequest) (*uuid.UUID, error) {
	followUp, err := s.sched.Book(ctx, appt.PatientID, appt.DoctorID, schedule.VisitFollowUp, req.DateTime, schedule.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("book follow-up: %w", err)
	}

	if _, err := s.sched.Allocate(ctx, appt.DoctorID, req.DateTime, followUp.ID); err != nil {
		if _, cerr := s.sched.UpdateStatus(ctx, followUp.ID, schedule.StatusPending, schedule.StatusCancelled); cerr != nil {
			s.log.Error().Err(cerr).
				Str("appointment_id", followUp.ID.String()).
				Msg("failed to cancel unallocated follow-up appointment")
		}
		return nil, fmt.Errorf("allocate follow-up slot: %w", err)
	}

	s.logEvent(ctx, appt.ID, EventFollowUpBooked, map[string]any{
		"follow_up_appointment_id": followUp.ID.String(),
		"scheduled_at":             req.DateTime,
	})

	return &followUp.ID, nil
}

// Diagnosis returns the diagnosis record of an appointment.
func (s *Service) Diagnosis(ctx context.Context, appointmentID uuid.UUID) (*DiagnosisRecord, error) {
	return s.repo.GetDiagnosisByAppointment(ctx, appointmentID)
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
