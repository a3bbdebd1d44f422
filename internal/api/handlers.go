package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/episode-service/internal/episode"
	"github.com/clinicore/episode-service/internal/lab"
	redisclient "github.com/clinicore/episode-service/internal/redis"
	"github.com/clinicore/episode-service/internal/schedule"
)

// Service interfaces consumed by the handlers.

type ScheduleService interface {
	Book(ctx context.Context, patientID, doctorID uuid.UUID, visitType schedule.VisitType, scheduledAt time.Time, status schedule.AppointmentStatus) (*schedule.Appointment, error)
	Appointment(ctx context.Context, id uuid.UUID) (*schedule.Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to schedule.AppointmentStatus) (*schedule.Appointment, error)
	SlotsInRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.DoctorSlot, error)
}

type EpisodeService interface {
	Finalize(ctx context.Context, in episode.FinalizeInput) (*episode.FinalizeResult, error)
	Diagnosis(ctx context.Context, appointmentID uuid.UUID) (*episode.DiagnosisRecord, error)
}

type LabService interface {
	CreateOrder(ctx context.Context, in lab.CreateOrderInput) (*lab.Order, error)
	Order(ctx context.Context, id uuid.UUID) (*lab.Order, error)
	StartProcessing(ctx context.Context, id uuid.UUID) (*lab.Order, error)
	SetTentativeDate(ctx context.Context, id uuid.UUID, date time.Time) (*lab.Order, error)
	MarkExternal(ctx context.Context, id uuid.UUID, labName string) (*lab.Order, error)
	MarkInternal(ctx context.Context, id uuid.UUID) (*lab.Order, error)
	RecordResult(ctx context.Context, orderID, parameterID uuid.UUID, value string, unitOverride *string) error
	AddAttachment(ctx context.Context, orderID uuid.UUID, fileName, contentType string, size int64) (*lab.Attachment, error)
	Complete(ctx context.Context, orderID uuid.UUID) (*lab.Order, error)
	Progress(ctx context.Context, orderID uuid.UUID) (lab.Progress, error)
}

// respondServiceError maps domain errors onto the HTTP error taxonomy:
// invalid input 400, missing resources 404, conflicts and terminal-state
// violations 409, completion-gate violations 422, everything else 500.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, episode.ErrDiagnosisRequired):
		writeError(w, http.StatusBadRequest, "diagnosis_required", err.Error())
	case errors.Is(err, episode.ErrSurgeryCategoryRequired):
		writeError(w, http.StatusBadRequest, "surgery_category_required", err.Error())
	case errors.Is(err, episode.ErrInvalidSurgeryStatus):
		writeError(w, http.StatusBadRequest, "invalid_surgery_status", err.Error())
	case errors.Is(err, episode.ErrDoctorMismatch):
		writeError(w, http.StatusBadRequest, "doctor_mismatch", err.Error())
	case errors.Is(err, lab.ErrOwnerRequired):
		writeError(w, http.StatusBadRequest, "owner_required", err.Error())
	case errors.Is(err, lab.ErrLabNameRequired):
		writeError(w, http.StatusBadRequest, "lab_name_required", err.Error())
	case errors.Is(err, lab.ErrUnknownParameter):
		writeError(w, http.StatusBadRequest, "unknown_parameter", err.Error())
	case errors.Is(err, schedule.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())

	case errors.Is(err, schedule.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, schedule.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, schedule.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, schedule.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, lab.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "lab_order_not_found", err.Error())
	case errors.Is(err, lab.ErrLabTestNotFound):
		writeError(w, http.StatusNotFound, "lab_test_not_found", err.Error())
	case errors.Is(err, episode.ErrDiagnosisNotFound):
		writeError(w, http.StatusNotFound, "diagnosis_not_found", err.Error())

	case errors.Is(err, schedule.ErrSlotFull):
		writeError(w, http.StatusConflict, "slot_full", err.Error())
	case errors.Is(err, schedule.ErrSlotBusy), errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, episode.ErrDiagnosisExists):
		writeError(w, http.StatusConflict, "diagnosis_exists", err.Error())
	case errors.Is(err, episode.ErrNotFinalizable):
		writeError(w, http.StatusConflict, "not_finalizable", err.Error())
	case errors.Is(err, lab.ErrOrderCompleted):
		writeError(w, http.StatusConflict, "order_completed", err.Error())
	case errors.Is(err, lab.ErrNotPending), errors.Is(err, lab.ErrNotProcessing), errors.Is(err, lab.ErrStateConflict):
		writeError(w, http.StatusConflict, "order_state_conflict", err.Error())

	case errors.Is(err, lab.ErrIncompleteResults), errors.Is(err, lab.ErrMissingAttachment):
		writeError(w, http.StatusUnprocessableEntity, "completion_blocked", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// -- Scheduling handlers --

func bookAppointmentHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		visitType := schedule.VisitType(req.VisitType)
		switch visitType {
		case "":
			visitType = schedule.VisitFirst
		case schedule.VisitFirst, schedule.VisitFollowUp, schedule.VisitReview:
		default:
			writeError(w, http.StatusBadRequest, "invalid_visit_type", "unknown visit_type")
			return
		}

		appt, err := svc.Book(r.Context(), patientID, doctorID, visitType, req.ScheduledAt, schedule.StatusScheduled)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Appointment(r.Context(), id)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func transitionAppointmentHandler(svc ScheduleService, to schedule.AppointmentStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Appointment(r.Context(), id)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		updated, err := svc.UpdateStatus(r.Context(), id, appt.Status, to)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(updated))
	}
}

func doctorSlotsHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
			return
		}
		to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
			return
		}

		slots, err := svc.SlotsInRange(r.Context(), doctorID, from, to)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			resp = append(resp, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// -- Finalization handlers --

func finalizeHandler(svc EpisodeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		var req FinalizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		in := episode.FinalizeInput{
			AppointmentID: appointmentID,
			DoctorID:      doctorID,
			DiagnosisText: req.DiagnosisText,
			Notes:         req.Notes,
		}
		for _, m := range req.Medicines {
			in.Medicines = append(in.Medicines, episode.Medicine(m))
		}
		for _, ref := range req.LabTestRefs {
			id, err := uuid.Parse(ref)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_lab_test_ref", "lab_test_refs must be valid UUIDs")
				return
			}
			in.LabTestRefs = append(in.LabTestRefs, id)
		}
		if req.FollowUp != nil {
			in.FollowUp = &episode.FollowUpRequest{DateTime: req.FollowUp.DateTime}
		}
		if req.Surgery != nil {
			in.Surgery = &episode.SurgeryRequest{
				Status:      episode.SurgicalStatus(req.Surgery.Status),
				Category:    req.Surgery.Category,
				Description: req.Surgery.Description,
				ScheduledAt: req.Surgery.ScheduledAt,
			}
		}

		result, err := svc.Finalize(r.Context(), in)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toFinalizeResponse(result))
	}
}

func getDiagnosisHandler(svc EpisodeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		rec, err := svc.Diagnosis(r.Context(), appointmentID)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDiagnosisResponse(rec))
	}
}

// -- Lab order handlers --

func createLabOrderHandler(svc LabService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateLabOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		labTestID, err := uuid.Parse(req.LabTestID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_lab_test_id", "lab_test_id must be a valid UUID")
			return
		}

		in := lab.CreateOrderInput{
			LabTestID:       labTestID,
			ExternalOrderID: req.ExternalOrderID,
		}
		if req.AppointmentID != nil {
			apptID, err := uuid.Parse(*req.AppointmentID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
				return
			}
			in.AppointmentID = &apptID
		}

		order, err := svc.CreateOrder(r.Context(), in)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toLabOrderResponse(order))
	}
}

func getLabOrderHandler(svc LabService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		order, err := svc.Order(r.Context(), id)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toLabOrderResponse(order))
	}
}

func startProcessingHandler(svc LabService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		order, err := svc.StartProcessing(r.Context(), id)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toLabOrderResponse(order))
	}
}

func setTentativeDateHandler(svc LabService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		var req TentativeDateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Date.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "date must be RFC3339")
			return
		}

		order, err := svc.SetTentativeDate(r.Context(), id, req.Date)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toLabOrderResponse(order))
	}
}

func markExternalHandler(svc LabService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		var req MarkExternalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		order, err := svc.MarkExternal(r.Context(), id, req.LabName)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toLabOrderResponse(order))
	}
}

func markInternalHandler(svc LabService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		order, err := svc.MarkInternal(r.Context(), id)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toLabOrderResponse(order))
	}
}

func recordResultHandler(svc LabService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		parameterID, ok := parseUUIDParam(w, r, "parameterID")
		if !ok {
			return
		}

		var req RecordResultRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := svc.RecordResult(r.Context(), orderID, parameterID, req.Value, req.UnitOverride); err != nil {
			respondServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func addAttachmentHandler(svc LabService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		var req AddAttachmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileName == "" {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "file_name is required")
			return
		}

		att, err := svc.AddAttachment(r.Context(), orderID, req.FileName, req.ContentType, req.Size)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, AttachmentResponse{
			ID:          att.ID,
			OrderID:     att.OrderID,
			FileName:    att.FileName,
			ContentType: att.ContentType,
			Size:        att.Size,
			StoredAt:    att.StoredAt,
		})
	}
}

func completeLabOrderHandler(svc LabService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		order, err := svc.Complete(r.Context(), id)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toLabOrderResponse(order))
	}
}

func labOrderProgressHandler(svc LabService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		p, err := svc.Progress(r.Context(), id)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, ProgressResponse{
			TotalParameters:    p.TotalParameters,
			RecordedParameters: p.RecordedParameters,
			Attachments:        p.Attachments,
			Complete:           p.Complete(),
		})
	}
}
