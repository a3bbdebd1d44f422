package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/episode-service/internal/episode"
	"github.com/clinicore/episode-service/internal/lab"
	"github.com/clinicore/episode-service/internal/schedule"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// -- Scheduling --

type BookAppointmentRequest struct {
	PatientID   string    `json:"patient_id"`
	DoctorID    string    `json:"doctor_id"`
	VisitType   string    `json:"visit_type"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	VisitType   string    `json:"visit_type"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      string    `json:"status"`
}

func toAppointmentResponse(a *schedule.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		DoctorID:    a.DoctorID,
		VisitType:   string(a.VisitType),
		ScheduledAt: a.ScheduledAt,
		Status:      string(a.Status),
	}
}

type SlotResponse struct {
	ID             uuid.UUID  `json:"id"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	SlotTime       time.Time  `json:"slot_time"`
	Appointment1ID uuid.UUID  `json:"appointment1_id"`
	Appointment2ID *uuid.UUID `json:"appointment2_id,omitempty"`
}

func toSlotResponse(s *schedule.DoctorSlot) SlotResponse {
	return SlotResponse{
		ID:             s.ID,
		DoctorID:       s.DoctorID,
		SlotTime:       s.SlotTime,
		Appointment1ID: s.Appointment1ID,
		Appointment2ID: s.Appointment2ID,
	}
}

// -- Finalization --

type MedicineRequest struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions,omitempty"`
}

type FollowUpRequestBody struct {
	DateTime time.Time `json:"date_time"`
}

type SurgeryRequestBody struct {
	Status      string     `json:"status"`
	Category    string     `json:"category"`
	Description string     `json:"description,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

type FinalizeRequest struct {
	DoctorID      string               `json:"doctor_id"`
	DiagnosisText string               `json:"diagnosis_text"`
	Notes         *string              `json:"notes,omitempty"`
	Medicines     []MedicineRequest    `json:"medicines,omitempty"`
	LabTestRefs   []string             `json:"lab_test_refs,omitempty"`
	FollowUp      *FollowUpRequestBody `json:"follow_up,omitempty"`
	Surgery       *SurgeryRequestBody  `json:"surgery,omitempty"`
}

type WarningResponse struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

type DiagnosisResponse struct {
	ID                    uuid.UUID          `json:"id"`
	AppointmentID         uuid.UUID          `json:"appointment_id"`
	DiagnosisText         string             `json:"diagnosis_text"`
	Notes                 *string            `json:"notes,omitempty"`
	Medicines             []episode.Medicine `json:"medicines,omitempty"`
	LabTestRefs           []uuid.UUID        `json:"lab_test_refs,omitempty"`
	FollowUpAppointmentID *uuid.UUID         `json:"follow_up_appointment_id,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
}

func toDiagnosisResponse(rec *episode.DiagnosisRecord) DiagnosisResponse {
	return DiagnosisResponse{
		ID:                    rec.ID,
		AppointmentID:         rec.AppointmentID,
		DiagnosisText:         rec.DiagnosisText,
		Notes:                 rec.Notes,
		Medicines:             rec.Medicines,
		LabTestRefs:           rec.LabTestRefs,
		FollowUpAppointmentID: rec.FollowUpAppointmentID,
		CreatedAt:             rec.CreatedAt,
	}
}

type FinalizeResponse struct {
	Diagnosis             DiagnosisResponse `json:"diagnosis"`
	FollowUpAppointmentID *uuid.UUID        `json:"follow_up_appointment_id,omitempty"`
	SurgeryID             *uuid.UUID        `json:"surgery_id,omitempty"`
	Warnings              []WarningResponse `json:"warnings,omitempty"`
}

func toFinalizeResponse(result *episode.FinalizeResult) FinalizeResponse {
	resp := FinalizeResponse{
		Diagnosis:             toDiagnosisResponse(result.Diagnosis),
		FollowUpAppointmentID: result.FollowUpAppointmentID,
		SurgeryID:             result.SurgeryID,
	}
	for _, w := range result.Warnings {
		resp.Warnings = append(resp.Warnings, WarningResponse{
			Step:  string(w.Step),
			Error: w.Err.Error(),
		})
	}
	return resp
}

// -- Lab orders --

type CreateLabOrderRequest struct {
	AppointmentID   *string `json:"appointment_id,omitempty"`
	ExternalOrderID *string `json:"external_order_id,omitempty"`
	LabTestID       string  `json:"lab_test_id"`
}

type TentativeDateRequest struct {
	Date time.Time `json:"date"`
}

type MarkExternalRequest struct {
	LabName string `json:"lab_name"`
}

type RecordResultRequest struct {
	Value        string  `json:"value"`
	UnitOverride *string `json:"unit_override,omitempty"`
}

type AddAttachmentRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type LabOrderResponse struct {
	ID                  uuid.UUID  `json:"id"`
	AppointmentID       *uuid.UUID `json:"appointment_id,omitempty"`
	ExternalOrderID     *string    `json:"external_order_id,omitempty"`
	LabTestID           uuid.UUID  `json:"lab_test_id"`
	Status              string     `json:"status"`
	SentExternal        bool       `json:"sent_external"`
	ExternalLabName     *string    `json:"external_lab_name,omitempty"`
	TentativeReportDate *time.Time `json:"tentative_report_date,omitempty"`
}

func toLabOrderResponse(o *lab.Order) LabOrderResponse {
	return LabOrderResponse{
		ID:                  o.ID,
		AppointmentID:       o.AppointmentID,
		ExternalOrderID:     o.ExternalOrderID,
		LabTestID:           o.LabTestID,
		Status:              string(o.Status),
		SentExternal:        o.SentExternal,
		ExternalLabName:     o.ExternalLabName,
		TentativeReportDate: o.TentativeReportDate,
	}
}

type AttachmentResponse struct {
	ID          uuid.UUID `json:"id"`
	OrderID     uuid.UUID `json:"order_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	StoredAt    time.Time `json:"stored_at"`
}

type ProgressResponse struct {
	TotalParameters    int  `json:"total_parameters"`
	RecordedParameters int  `json:"recorded_parameters"`
	Attachments        int  `json:"attachments"`
	Complete           bool `json:"complete"`
}
