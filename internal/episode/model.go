package episode

import (
	"time"

	"github.com/google/uuid"
)

type SurgicalStatus string

const (
	SurgeryNotRequired  SurgicalStatus = "not_required"
	SurgeryNotConfirmed SurgicalStatus = "not_confirmed"
	SurgeryConfirmed    SurgicalStatus = "confirmed"
	SurgeryCancelled    SurgicalStatus = "cancelled"
)

// Medicine is one prescribed item embedded in a diagnosis record.
type Medicine struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions,omitempty"`
}

// DiagnosisRecord is the clinical outcome of a consultation. One per
// appointment, created exactly once, immutable afterwards.
type DiagnosisRecord struct {
	ID                    uuid.UUID
	AppointmentID         uuid.UUID
	DiagnosisText         string
	Notes                 *string
	Medicines             []Medicine
	LabTestRefs           []uuid.UUID
	FollowUpAppointmentID *uuid.UUID
	CreatedAt             time.Time
}

// Surgery is a surgical case opened during finalization. Confirmation and
// cancellation happen in a separate workflow.
type Surgery struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Category      string
	Description   string
	Status        SurgicalStatus
	ScheduledAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// FollowUpRequest asks for a revisit slot at the given minute.
type FollowUpRequest struct {
	DateTime time.Time
}

// SurgeryRequest opens a surgical case alongside the diagnosis.
type SurgeryRequest struct {
	Status      SurgicalStatus
	Category    string
	Description string
	ScheduledAt *time.Time
}

// FinalizeInput carries everything Finalize needs. The doctor's identity is
// explicit; there is no ambient session.
type FinalizeInput struct {
	AppointmentID uuid.UUID
	DoctorID      uuid.UUID
	DiagnosisText string
	Notes         *string
	Medicines     []Medicine
	LabTestRefs   []uuid.UUID
	FollowUp      *FollowUpRequest
	Surgery       *SurgeryRequest
}

type Step string

const (
	StepFollowUp Step = "follow-up"
	StepSurgery  Step = "surgery"
	StepNotify   Step = "notify"
)

// Warning reports a failed optional step. The saga's outcome stands
// regardless; warnings exist so the caller can inform the user.
type Warning struct {
	Step Step
	Err  error
}

type FinalizeResult struct {
	Diagnosis             *DiagnosisRecord
	FollowUpAppointmentID *uuid.UUID
	SurgeryID             *uuid.UUID
	Warnings              []Warning
}
