package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/episode-service/internal/episode"
	"github.com/clinicore/episode-service/internal/lab"
	"github.com/clinicore/episode-service/internal/schedule"
)

type stubSchedule struct {
	bookFn        func(ctx context.Context, patientID, doctorID uuid.UUID, visitType schedule.VisitType, scheduledAt time.Time, status schedule.AppointmentStatus) (*schedule.Appointment, error)
	appointmentFn func(ctx context.Context, id uuid.UUID) (*schedule.Appointment, error)
	updateFn      func(ctx context.Context, id uuid.UUID, from, to schedule.AppointmentStatus) (*schedule.Appointment, error)
	slotsFn       func(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.DoctorSlot, error)
}

func (s *stubSchedule) Book(ctx context.Context, patientID, doctorID uuid.UUID, visitType schedule.VisitType, scheduledAt time.Time, status schedule.AppointmentStatus) (*schedule.Appointment, error) {
	return s.bookFn(ctx, patientID, doctorID, visitType, scheduledAt, status)
}

func (s *stubSchedule) Appointment(ctx context.Context, id uuid.UUID) (*schedule.Appointment, error) {
	return s.appointmentFn(ctx, id)
}

func (s *stubSchedule) UpdateStatus(ctx context.Context, id uuid.UUID, from, to schedule.AppointmentStatus) (*schedule.Appointment, error) {
	return s.updateFn(ctx, id, from, to)
}

func (s *stubSchedule) SlotsInRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.DoctorSlot, error) {
	return s.slotsFn(ctx, doctorID, from, to)
}

type stubEpisode struct {
	finalizeFn  func(ctx context.Context, in episode.FinalizeInput) (*episode.FinalizeResult, error)
	diagnosisFn func(ctx context.Context, appointmentID uuid.UUID) (*episode.DiagnosisRecord, error)
}

func (s *stubEpisode) Finalize(ctx context.Context, in episode.FinalizeInput) (*episode.FinalizeResult, error) {
	return s.finalizeFn(ctx, in)
}

func (s *stubEpisode) Diagnosis(ctx context.Context, appointmentID uuid.UUID) (*episode.DiagnosisRecord, error) {
	return s.diagnosisFn(ctx, appointmentID)
}

type stubLab struct {
	createFn   func(ctx context.Context, in lab.CreateOrderInput) (*lab.Order, error)
	orderFn    func(ctx context.Context, id uuid.UUID) (*lab.Order, error)
	completeFn func(ctx context.Context, orderID uuid.UUID) (*lab.Order, error)
	progressFn func(ctx context.Context, orderID uuid.UUID) (lab.Progress, error)
}

func (s *stubLab) CreateOrder(ctx context.Context, in lab.CreateOrderInput) (*lab.Order, error) {
	return s.createFn(ctx, in)
}

func (s *stubLab) Order(ctx context.Context, id uuid.UUID) (*lab.Order, error) {
	return s.orderFn(ctx, id)
}

func (s *stubLab) StartProcessing(ctx context.Context, id uuid.UUID) (*lab.Order, error) {
	return nil, errors.New("not stubbed")
}

func (s *stubLab) SetTentativeDate(ctx context.Context, id uuid.UUID, date time.Time) (*lab.Order, error) {
	return nil, errors.New("not stubbed")
}

func (s *stubLab) MarkExternal(ctx context.Context, id uuid.UUID, labName string) (*lab.Order, error) {
	return nil, errors.New("not stubbed")
}

func (s *stubLab) MarkInternal(ctx context.Context, id uuid.UUID) (*lab.Order, error) {
	return nil, errors.New("not stubbed")
}

func (s *stubLab) RecordResult(ctx context.Context, orderID, parameterID uuid.UUID, value string, unitOverride *string) error {
	return errors.New("not stubbed")
}

func (s *stubLab) AddAttachment(ctx context.Context, orderID uuid.UUID, fileName, contentType string, size int64) (*lab.Attachment, error) {
	return nil, errors.New("not stubbed")
}

func (s *stubLab) Complete(ctx context.Context, orderID uuid.UUID) (*lab.Order, error) {
	return s.completeFn(ctx, orderID)
}

func (s *stubLab) Progress(ctx context.Context, orderID uuid.UUID) (lab.Progress, error) {
	return s.progressFn(ctx, orderID)
}

func newTestRouter(sched ScheduleService, labSvc LabService, epi EpisodeService) http.Handler {
	if sched == nil {
		sched = &stubSchedule{}
	}
	if labSvc == nil {
		labSvc = &stubLab{}
	}
	if epi == nil {
		epi = &stubEpisode{}
	}
	return NewRouter(RouterDeps{
		Schedule: sched,
		Lab:      labSvc,
		Episode:  epi,
		Health:   NewHealthHandler(nil, nil, "test", "test"),
		Logger:   zerolog.Nop(),
	})
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestBookAppointment(t *testing.T) {
	apptID := uuid.New()
	sched := &stubSchedule{
		bookFn: func(_ context.Context, patientID, doctorID uuid.UUID, visitType schedule.VisitType, scheduledAt time.Time, status schedule.AppointmentStatus) (*schedule.Appointment, error) {
			if status != schedule.StatusScheduled {
				t.Errorf("expected scheduled status, got %s", status)
			}
			return &schedule.Appointment{
				ID:          apptID,
				PatientID:   patientID,
				DoctorID:    doctorID,
				VisitType:   visitType,
				ScheduledAt: scheduledAt,
				Status:      status,
			}, nil
		},
	}
	router := newTestRouter(sched, nil, nil)

	rec := doRequest(t, router, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID:   uuid.New().String(),
		DoctorID:    uuid.New().String(),
		VisitType:   "first-visit",
		ScheduledAt: time.Now().Add(time.Hour),
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp AppointmentResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != apptID {
		t.Errorf("expected appointment %s, got %s", apptID, resp.ID)
	}
}

func TestBookAppointmentRejectsBadInput(t *testing.T) {
	router := newTestRouter(nil, nil, nil)

	cases := []struct {
		name     string
		body     BookAppointmentRequest
		wantCode string
	}{
		{
			name:     "bad patient id",
			body:     BookAppointmentRequest{PatientID: "nope", DoctorID: uuid.New().String()},
			wantCode: "invalid_patient_id",
		},
		{
			name:     "bad doctor id",
			body:     BookAppointmentRequest{PatientID: uuid.New().String(), DoctorID: "nope"},
			wantCode: "invalid_doctor_id",
		},
		{
			name:     "unknown visit type",
			body:     BookAppointmentRequest{PatientID: uuid.New().String(), DoctorID: uuid.New().String(), VisitType: "walk-in"},
			wantCode: "invalid_visit_type",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/appointments", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if resp := decodeError(t, rec); resp.Error != tc.wantCode {
				t.Errorf("expected code %q, got %q", tc.wantCode, resp.Error)
			}
		})
	}
}

func TestGetAppointmentNotFound(t *testing.T) {
	sched := &stubSchedule{
		appointmentFn: func(context.Context, uuid.UUID) (*schedule.Appointment, error) {
			return nil, schedule.ErrAppointmentNotFound
		},
	}
	router := newTestRouter(sched, nil, nil)

	rec := doRequest(t, router, http.MethodGet, "/appointments/"+uuid.New().String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "appointment_not_found" {
		t.Errorf("unexpected error code %q", resp.Error)
	}
}

func TestConfirmAppointment(t *testing.T) {
	apptID := uuid.New()
	appt := &schedule.Appointment{ID: apptID, Status: schedule.StatusScheduled}
	sched := &stubSchedule{
		appointmentFn: func(_ context.Context, id uuid.UUID) (*schedule.Appointment, error) {
			return appt, nil
		},
		updateFn: func(_ context.Context, id uuid.UUID, from, to schedule.AppointmentStatus) (*schedule.Appointment, error) {
			if from != schedule.StatusScheduled || to != schedule.StatusConfirmed {
				t.Errorf("unexpected transition %s -> %s", from, to)
			}
			updated := *appt
			updated.Status = to
			return &updated, nil
		},
	}
	router := newTestRouter(sched, nil, nil)

	rec := doRequest(t, router, http.MethodPost, "/appointments/"+apptID.String()+"/confirm", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp AppointmentResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(schedule.StatusConfirmed) {
		t.Errorf("expected confirmed, got %s", resp.Status)
	}
}

func TestConfirmDiagnosedAppointmentConflicts(t *testing.T) {
	sched := &stubSchedule{
		appointmentFn: func(context.Context, uuid.UUID) (*schedule.Appointment, error) {
			return &schedule.Appointment{Status: schedule.StatusDiagnosed}, nil
		},
		updateFn: func(context.Context, uuid.UUID, schedule.AppointmentStatus, schedule.AppointmentStatus) (*schedule.Appointment, error) {
			return nil, fmt.Errorf("%w: diagnosed -> confirmed", schedule.ErrInvalidTransition)
		},
	}
	router := newTestRouter(sched, nil, nil)

	rec := doRequest(t, router, http.MethodPost, "/appointments/"+uuid.New().String()+"/confirm", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestDoctorSlotsRequiresRange(t *testing.T) {
	router := newTestRouter(nil, nil, nil)

	rec := doRequest(t, router, http.MethodGet, "/doctors/"+uuid.New().String()+"/slots", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestFinalizeReturnsWarnings(t *testing.T) {
	followUpID := uuid.New()
	epi := &stubEpisode{
		finalizeFn: func(_ context.Context, in episode.FinalizeInput) (*episode.FinalizeResult, error) {
			if in.DiagnosisText == "" {
				t.Error("diagnosis text not forwarded")
			}
			return &episode.FinalizeResult{
				Diagnosis: &episode.DiagnosisRecord{
					ID:            uuid.New(),
					AppointmentID: in.AppointmentID,
					DiagnosisText: in.DiagnosisText,
				},
				FollowUpAppointmentID: &followUpID,
				Warnings: []episode.Warning{
					{Step: episode.StepNotify, Err: errors.New("redis unavailable")},
				},
			}, nil
		},
	}
	router := newTestRouter(nil, nil, epi)

	rec := doRequest(t, router, http.MethodPost, "/appointments/"+uuid.New().String()+"/finalize", FinalizeRequest{
		DoctorID:      uuid.New().String(),
		DiagnosisText: "acute pharyngitis",
		FollowUp:      &FollowUpRequestBody{DateTime: time.Now().Add(48 * time.Hour)},
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp FinalizeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.FollowUpAppointmentID == nil || *resp.FollowUpAppointmentID != followUpID {
		t.Error("follow-up appointment id missing from response")
	}
	if len(resp.Warnings) != 1 || resp.Warnings[0].Step != string(episode.StepNotify) {
		t.Errorf("unexpected warnings: %+v", resp.Warnings)
	}
}

func TestFinalizeErrorMapping(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{episode.ErrDiagnosisRequired, http.StatusBadRequest, "diagnosis_required"},
		{episode.ErrDoctorMismatch, http.StatusBadRequest, "doctor_mismatch"},
		{episode.ErrDiagnosisExists, http.StatusConflict, "diagnosis_exists"},
		{episode.ErrNotFinalizable, http.StatusConflict, "not_finalizable"},
		{schedule.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
	}

	for _, tc := range cases {
		t.Run(tc.wantCode, func(t *testing.T) {
			epi := &stubEpisode{
				finalizeFn: func(context.Context, episode.FinalizeInput) (*episode.FinalizeResult, error) {
					return nil, tc.err
				},
			}
			router := newTestRouter(nil, nil, epi)

			rec := doRequest(t, router, http.MethodPost, "/appointments/"+uuid.New().String()+"/finalize", FinalizeRequest{
				DoctorID:      uuid.New().String(),
				DiagnosisText: "x",
			})

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			if resp := decodeError(t, rec); resp.Error != tc.wantCode {
				t.Errorf("expected code %q, got %q", tc.wantCode, resp.Error)
			}
		})
	}
}

func TestCompleteLabOrderGateBlocks(t *testing.T) {
	labSvc := &stubLab{
		completeFn: func(context.Context, uuid.UUID) (*lab.Order, error) {
			return nil, errors.Join(lab.ErrIncompleteResults, lab.ErrMissingAttachment)
		},
	}
	router := newTestRouter(nil, labSvc, nil)

	rec := doRequest(t, router, http.MethodPost, "/lab-orders/"+uuid.New().String()+"/complete", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "completion_blocked" {
		t.Errorf("unexpected error code %q", resp.Error)
	}
}

func TestCompleteLabOrderAlreadyCompleted(t *testing.T) {
	labSvc := &stubLab{
		completeFn: func(context.Context, uuid.UUID) (*lab.Order, error) {
			return nil, lab.ErrOrderCompleted
		},
	}
	router := newTestRouter(nil, labSvc, nil)

	rec := doRequest(t, router, http.MethodPost, "/lab-orders/"+uuid.New().String()+"/complete", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCreateLabOrderOwnerRequired(t *testing.T) {
	labSvc := &stubLab{
		createFn: func(context.Context, lab.CreateOrderInput) (*lab.Order, error) {
			return nil, lab.ErrOwnerRequired
		},
	}
	router := newTestRouter(nil, labSvc, nil)

	rec := doRequest(t, router, http.MethodPost, "/lab-orders", CreateLabOrderRequest{
		LabTestID: uuid.New().String(),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLabOrderProgress(t *testing.T) {
	labSvc := &stubLab{
		progressFn: func(context.Context, uuid.UUID) (lab.Progress, error) {
			return lab.Progress{TotalParameters: 3, RecordedParameters: 3, Attachments: 1}, nil
		},
	}
	router := newTestRouter(nil, labSvc, nil)

	rec := doRequest(t, router, http.MethodGet, "/lab-orders/"+uuid.New().String()+"/progress", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp ProgressResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Complete {
		t.Error("expected progress to be complete")
	}
}
