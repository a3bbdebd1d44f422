package lab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrOwnerRequired    = errors.New("exactly one of appointment id or external order id is required")
	ErrNotPending       = errors.New("lab order is no longer pending")
	ErrNotProcessing    = errors.New("lab order is not in processing")
	ErrLabNameRequired  = errors.New("external lab name is required")
	ErrUnknownParameter = errors.New("parameter does not belong to the order's lab test")
)

type CreateOrderInput struct {
	AppointmentID   *uuid.UUID
	ExternalOrderID *string
	LabTestID       uuid.UUID
}

type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "lab").Logger(),
	}
}

// CreateOrder opens a new order in pending for either a clinic appointment
// or an externally referenced order, never both.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	hasAppt := in.AppointmentID != nil
	hasExternal := in.ExternalOrderID != nil && strings.TrimSpace(*in.ExternalOrderID) != ""
	if hasAppt == hasExternal {
		return nil, ErrOwnerRequired
	}

	params, err := s.repo.ParametersByLabTest(ctx, in.LabTestID)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if len(params) == 0 {
		return nil, ErrLabTestNotFound
	}

	order, err := s.repo.CreateOrder(ctx, &Order{
		AppointmentID:   in.AppointmentID,
		ExternalOrderID: in.ExternalOrderID,
		LabTestID:       in.LabTestID,
		Status:          OrderPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("lab_test_id", in.LabTestID.String()).
		Msg("lab order created")

	return order, nil
}

func (s *Service) Order(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.GetOrderByID(ctx, id)
}

// StartProcessing moves a pending order to processing.
func (s *Service) StartProcessing(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case OrderCompleted:
		return nil, ErrOrderCompleted
	case OrderProcessing:
		return nil, ErrNotPending
	}

	return s.repo.UpdateOrderStatus(ctx, id, OrderPending, OrderProcessing)
}

// SetTentativeDate records the expected report date. Setting it on a
// pending order promotes the order to processing.
func (s *Service) SetTentativeDate(ctx context.Context, id uuid.UUID, date time.Time) (*Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status == OrderCompleted {
		return nil, ErrOrderCompleted
	}

	return s.repo.SetTentativeDate(ctx, id, date, OrderProcessing)
}

// MarkExternal routes an order to an outside lab. Only a processing order
// can be routed, and the receiving lab has to be named.
func (s *Service) MarkExternal(ctx context.Context, id uuid.UUID, labName string) (*Order, error) {
	labName = strings.TrimSpace(labName)
	if labName == "" {
		return nil, ErrLabNameRequired
	}

	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case OrderCompleted:
		return nil, ErrOrderCompleted
	case OrderPending:
		return nil, ErrNotProcessing
	}

	return s.repo.SetExternalRouting(ctx, id, true, &labName, order.Status)
}

// MarkInternal reverts external routing. The status is recomputed from what
// is known: processing when a tentative report date exists, pending
// otherwise.
func (s *Service) MarkInternal(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status == OrderCompleted {
		return nil, ErrOrderCompleted
	}
	if !order.SentExternal {
		return order, nil
	}

	status := OrderPending
	if order.TentativeReportDate != nil {
		status = OrderProcessing
	}

	return s.repo.SetExternalRouting(ctx, id, false, nil, status)
}

// RecordResult writes a value for one catalog parameter of the order's lab
// test. A second write for the same parameter overwrites the first.
func (s *Service) RecordResult(ctx context.Context, orderID, parameterID uuid.UUID, value string, unitOverride *string) error {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == OrderCompleted {
		return ErrOrderCompleted
	}

	params, err := s.repo.ParametersByLabTest(ctx, order.LabTestID)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	known := false
	for _, p := range params {
		if p.ID == parameterID {
			known = true
			break
		}
	}
	if !known {
		return ErrUnknownParameter
	}

	return s.repo.UpsertResult(ctx, ParameterResult{
		OrderID:      orderID,
		ParameterID:  parameterID,
		Value:        value,
		UnitOverride: unitOverride,
	})
}

// AddAttachment records document metadata against the order.
func (s *Service) AddAttachment(ctx context.Context, orderID uuid.UUID, fileName, contentType string, size int64) (*Attachment, error) {
	att, err := s.repo.AddAttachment(ctx, &Attachment{
		OrderID:     orderID,
		FileName:    fileName,
		ContentType: contentType,
		Size:        size,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID.String()).
		Str("file_name", fileName).
		Msg("attachment recorded")

	return att, nil
}

// Complete flips the order to its terminal status. Two gates hold it back:
// every catalog parameter needs a recorded value, and at least one document
// must be attached. Violations of both are reported together. The
// repository re-evaluates the gates inside the transaction that writes the
// status, so the check and the flip see the same data.
func (s *Service) Complete(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	order, err := s.repo.CompleteOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID.String()).
		Msg("lab order completed")

	return order, nil
}

// Progress recomputes the completeness snapshot for an order.
func (s *Service) Progress(ctx context.Context, orderID uuid.UUID) (Progress, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return Progress{}, err
	}

	params, err := s.repo.ParametersByLabTest(ctx, order.LabTestID)
	if err != nil {
		return Progress{}, fmt.Errorf("load catalog: %w", err)
	}
	results, err := s.repo.ResultsByOrder(ctx, orderID)
	if err != nil {
		return Progress{}, fmt.Errorf("load results: %w", err)
	}
	attachments, err := s.repo.AttachmentsByOrder(ctx, orderID)
	if err != nil {
		return Progress{}, fmt.Errorf("load attachments: %w", err)
	}

	recorded := 0
	byParam := make(map[uuid.UUID]bool, len(results))
	for _, res := range results {
		byParam[res.ParameterID] = true
	}
	for _, p := range params {
		if byParam[p.ID] {
			recorded++
		}
	}

	return Progress{
		TotalParameters:    len(params),
		RecordedParameters: recorded,
		Attachments:        len(attachments),
	}, nil
}

// OverdueOrders lists open orders whose tentative report date is in the
// past.
func (s *Service) OverdueOrders(ctx context.Context, asOf time.Time) ([]Order, error) {
	return s.repo.FindOverdue(ctx, asOf)
}
