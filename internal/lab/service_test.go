package lab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock repository --

type resultKey struct {
	order, param uuid.UUID
}

type mockLabRepo struct {
	mu          sync.Mutex
	orders      map[uuid.UUID]*Order
	params      map[uuid.UUID][]CatalogParameter // by lab test
	results     map[resultKey]ParameterResult
	attachments map[uuid.UUID][]Attachment
}

func newMockLabRepo() *mockLabRepo {
	return &mockLabRepo{
		orders:      make(map[uuid.UUID]*Order),
		params:      make(map[uuid.UUID][]CatalogParameter),
		results:     make(map[resultKey]ParameterResult),
		attachments: make(map[uuid.UUID][]Attachment),
	}
}

func (m *mockLabRepo) addCatalog(names ...string) uuid.UUID {
	labTestID := uuid.New()
	for _, n := range names {
		m.params[labTestID] = append(m.params[labTestID], CatalogParameter{
			ID:        uuid.New(),
			LabTestID: labTestID,
			Name:      n,
			Unit:      "g/dL",
		})
	}
	return labTestID
}

func (m *mockLabRepo) CreateOrder(_ context.Context, o *Order) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.orders[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockLabRepo) GetOrderByID(_ context.Context, id uuid.UUID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockLabRepo) UpdateOrderStatus(_ context.Context, id uuid.UUID, from, to OrderStatus) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status == OrderCompleted {
		return nil, ErrOrderCompleted
	}
	if o.Status != from {
		return nil, ErrStateConflict
	}
	o.Status = to
	cp := *o
	return &cp, nil
}

func (m *mockLabRepo) SetTentativeDate(_ context.Context, id uuid.UUID, date time.Time, status OrderStatus) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status == OrderCompleted {
		return nil, ErrOrderCompleted
	}
	d := date
	o.TentativeReportDate = &d
	o.Status = status
	cp := *o
	return &cp, nil
}

func (m *mockLabRepo) SetExternalRouting(_ context.Context, id uuid.UUID, sentExternal bool, labName *string, status OrderStatus) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status == OrderCompleted {
		return nil, ErrOrderCompleted
	}
	o.SentExternal = sentExternal
	o.ExternalLabName = labName
	o.Status = status
	cp := *o
	return &cp, nil
}

func (m *mockLabRepo) ParametersByLabTest(_ context.Context, labTestID uuid.UUID) ([]CatalogParameter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CatalogParameter(nil), m.params[labTestID]...), nil
}

func (m *mockLabRepo) ResultsByOrder(_ context.Context, orderID uuid.UUID) ([]ParameterResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ParameterResult
	for k, v := range m.results {
		if k.order == orderID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *mockLabRepo) UpsertResult(_ context.Context, res ParameterResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[res.OrderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status == OrderCompleted {
		return ErrOrderCompleted
	}
	res.RecordedAt = time.Now()
	m.results[resultKey{res.OrderID, res.ParameterID}] = res
	return nil
}

func (m *mockLabRepo) AddAttachment(_ context.Context, att *Attachment) (*Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[att.OrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status == OrderCompleted {
		return nil, ErrOrderCompleted
	}
	cp := *att
	cp.ID = uuid.New()
	cp.StoredAt = time.Now()
	m.attachments[att.OrderID] = append(m.attachments[att.OrderID], cp)
	out := cp
	return &out, nil
}

func (m *mockLabRepo) AttachmentsByOrder(_ context.Context, orderID uuid.UUID) ([]Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Attachment(nil), m.attachments[orderID]...), nil
}

func (m *mockLabRepo) CompleteOrder(_ context.Context, orderID uuid.UUID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status == OrderCompleted {
		return nil, ErrOrderCompleted
	}

	recorded := 0
	for _, p := range m.params[o.LabTestID] {
		if _, ok := m.results[resultKey{orderID, p.ID}]; ok {
			recorded++
		}
	}
	p := Progress{
		TotalParameters:    len(m.params[o.LabTestID]),
		RecordedParameters: recorded,
		Attachments:        len(m.attachments[orderID]),
	}
	if err := completionErr(p); err != nil {
		return nil, err
	}

	o.Status = OrderCompleted
	cp := *o
	return &cp, nil
}

func (m *mockLabRepo) FindOverdue(_ context.Context, asOf time.Time) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.Status != OrderCompleted && o.TentativeReportDate != nil && o.TentativeReportDate.Before(asOf) {
			out = append(out, *o)
		}
	}
	return out, nil
}

// -- Helpers --

func newLabService() (*Service, *mockLabRepo) {
	repo := newMockLabRepo()
	return NewService(repo, zerolog.Nop()), repo
}

func mustOrder(t *testing.T, svc *Service, labTestID uuid.UUID) *Order {
	t.Helper()
	apptID := uuid.New()
	order, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		AppointmentID: &apptID,
		LabTestID:     labTestID,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

// -- Tests --

func TestCreateOrderOwnership(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLabService()
	labTestID := repo.addCatalog("Hemoglobin")

	apptID := uuid.New()
	external := "EXT-1001"

	if _, err := svc.CreateOrder(ctx, CreateOrderInput{LabTestID: labTestID}); !errors.Is(err, ErrOwnerRequired) {
		t.Fatalf("no owner: expected ErrOwnerRequired, got %v", err)
	}
	if _, err := svc.CreateOrder(ctx, CreateOrderInput{AppointmentID: &apptID, ExternalOrderID: &external, LabTestID: labTestID}); !errors.Is(err, ErrOwnerRequired) {
		t.Fatalf("two owners: expected ErrOwnerRequired, got %v", err)
	}

	order, err := svc.CreateOrder(ctx, CreateOrderInput{ExternalOrderID: &external, LabTestID: labTestID})
	if err != nil {
		t.Fatalf("external order: %v", err)
	}
	if order.Status != OrderPending {
		t.Fatalf("new orders start pending, got %s", order.Status)
	}
}

func TestStartProcessing(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLabService()
	order := mustOrder(t, svc, repo.addCatalog("Hemoglobin"))

	got, err := svc.StartProcessing(ctx, order.ID)
	if err != nil {
		t.Fatalf("start processing: %v", err)
	}
	if got.Status != OrderProcessing {
		t.Fatalf("expected processing, got %s", got.Status)
	}

	if _, err := svc.StartProcessing(ctx, order.ID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("second start: expected ErrNotPending, got %v", err)
	}
}

func TestSetTentativeDateAutoPromotes(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLabService()
	order := mustOrder(t, svc, repo.addCatalog("Hemoglobin"))

	date := time.Now().Add(48 * time.Hour)
	got, err := svc.SetTentativeDate(ctx, order.ID, date)
	if err != nil {
		t.Fatalf("set tentative date: %v", err)
	}
	if got.Status != OrderProcessing {
		t.Fatalf("pending order should promote to processing, got %s", got.Status)
	}
	if got.TentativeReportDate == nil || !got.TentativeReportDate.Equal(date) {
		t.Fatalf("tentative date not stored: %+v", got.TentativeReportDate)
	}
}

func TestExternalRoutingRules(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLabService()
	order := mustOrder(t, svc, repo.addCatalog("Hemoglobin"))

	if _, err := svc.MarkExternal(ctx, order.ID, "  "); !errors.Is(err, ErrLabNameRequired) {
		t.Fatalf("blank name: expected ErrLabNameRequired, got %v", err)
	}
	if _, err := svc.MarkExternal(ctx, order.ID, "City Path Labs"); !errors.Is(err, ErrNotProcessing) {
		t.Fatalf("pending order: expected ErrNotProcessing, got %v", err)
	}

	if _, err := svc.StartProcessing(ctx, order.ID); err != nil {
		t.Fatalf("start processing: %v", err)
	}
	got, err := svc.MarkExternal(ctx, order.ID, "City Path Labs")
	if err != nil {
		t.Fatalf("mark external: %v", err)
	}
	if !got.SentExternal || got.ExternalLabName == nil || *got.ExternalLabName != "City Path Labs" {
		t.Fatalf("external routing not recorded: %+v", got)
	}
	if got.Status != OrderProcessing {
		t.Fatalf("external flag must not change the status, got %s", got.Status)
	}
}

func TestMarkInternalRecomputesStatus(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLabService()

	// Without a tentative date the revert lands back in pending.
	order := mustOrder(t, svc, repo.addCatalog("Hemoglobin"))
	if _, err := svc.StartProcessing(ctx, order.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.MarkExternal(ctx, order.ID, "City Path Labs"); err != nil {
		t.Fatalf("external: %v", err)
	}
	got, err := svc.MarkInternal(ctx, order.ID)
	if err != nil {
		t.Fatalf("internal: %v", err)
	}
	if got.SentExternal || got.Status != OrderPending {
		t.Fatalf("expected internal pending, got %+v", got)
	}

	// With a tentative date it stays processing.
	order2 := mustOrder(t, svc, repo.addCatalog("Platelets"))
	if _, err := svc.SetTentativeDate(ctx, order2.ID, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("tentative: %v", err)
	}
	if _, err := svc.MarkExternal(ctx, order2.ID, "City Path Labs"); err != nil {
		t.Fatalf("external: %v", err)
	}
	got, err = svc.MarkInternal(ctx, order2.ID)
	if err != nil {
		t.Fatalf("internal: %v", err)
	}
	if got.SentExternal || got.Status != OrderProcessing {
		t.Fatalf("expected internal processing, got %+v", got)
	}
}

func TestRecordResultValidatesParameter(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLabService()
	labTestID := repo.addCatalog("Hemoglobin")
	order := mustOrder(t, svc, labTestID)

	if err := svc.RecordResult(ctx, order.ID, uuid.New(), "13.5", nil); !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("expected ErrUnknownParameter, got %v", err)
	}

	param := repo.params[labTestID][0]
	if err := svc.RecordResult(ctx, order.ID, param.ID, "13.5", nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	// Overwrite is allowed and keeps a single result per parameter.
	if err := svc.RecordResult(ctx, order.ID, param.ID, "14.1", nil); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	results, _ := repo.ResultsByOrder(ctx, order.ID)
	if len(results) != 1 || results[0].Value != "14.1" {
		t.Fatalf("expected single overwritten result, got %+v", results)
	}
}

func TestCompletionGate(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLabService()
	labTestID := repo.addCatalog("Hemoglobin", "WBC", "Platelets")
	order := mustOrder(t, svc, labTestID)

	params := repo.params[labTestID]

	// 2 of 3 values plus an attachment: incomplete results only.
	for _, p := range params[:2] {
		if err := svc.RecordResult(ctx, order.ID, p.ID, "ok", nil); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, err := svc.AddAttachment(ctx, order.ID, "report.pdf", "application/pdf", 2048); err != nil {
		t.Fatalf("attach: %v", err)
	}
	_, err := svc.Complete(ctx, order.ID)
	if !errors.Is(err, ErrIncompleteResults) {
		t.Fatalf("expected ErrIncompleteResults, got %v", err)
	}
	if errors.Is(err, ErrMissingAttachment) {
		t.Fatalf("attachment gate should pass: %v", err)
	}

	// All values but no attachment on a fresh order: missing attachment only.
	order2 := mustOrder(t, svc, labTestID)
	for _, p := range params {
		if err := svc.RecordResult(ctx, order2.ID, p.ID, "ok", nil); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	_, err = svc.Complete(ctx, order2.ID)
	if !errors.Is(err, ErrMissingAttachment) {
		t.Fatalf("expected ErrMissingAttachment, got %v", err)
	}
	if errors.Is(err, ErrIncompleteResults) {
		t.Fatalf("results gate should pass: %v", err)
	}

	// Neither gate satisfied: both violations reported together.
	order3 := mustOrder(t, svc, labTestID)
	_, err = svc.Complete(ctx, order3.ID)
	if !errors.Is(err, ErrIncompleteResults) || !errors.Is(err, ErrMissingAttachment) {
		t.Fatalf("expected both violations, got %v", err)
	}

	// Satisfy the last gate on the first order and complete it.
	if err := svc.RecordResult(ctx, order.ID, params[2].ID, "ok", nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	done, err := svc.Complete(ctx, order.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != OrderCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLabService()
	labTestID := repo.addCatalog("Hemoglobin")
	order := mustOrder(t, svc, labTestID)
	param := repo.params[labTestID][0]

	if err := svc.RecordResult(ctx, order.ID, param.ID, "13.5", nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := svc.AddAttachment(ctx, order.ID, "report.pdf", "application/pdf", 2048); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := svc.Complete(ctx, order.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := svc.Complete(ctx, order.ID); !errors.Is(err, ErrOrderCompleted) {
		t.Fatalf("second complete: expected ErrOrderCompleted, got %v", err)
	}
	if err := svc.RecordResult(ctx, order.ID, param.ID, "15.0", nil); !errors.Is(err, ErrOrderCompleted) {
		t.Fatalf("record after complete: expected ErrOrderCompleted, got %v", err)
	}
	if _, err := svc.AddAttachment(ctx, order.ID, "late.pdf", "application/pdf", 1); !errors.Is(err, ErrOrderCompleted) {
		t.Fatalf("attach after complete: expected ErrOrderCompleted, got %v", err)
	}
	if _, err := svc.SetTentativeDate(ctx, order.ID, time.Now()); !errors.Is(err, ErrOrderCompleted) {
		t.Fatalf("tentative after complete: expected ErrOrderCompleted, got %v", err)
	}
	if _, err := svc.MarkExternal(ctx, order.ID, "City Path Labs"); !errors.Is(err, ErrOrderCompleted) {
		t.Fatalf("external after complete: expected ErrOrderCompleted, got %v", err)
	}
}

func TestProgressSnapshot(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLabService()
	labTestID := repo.addCatalog("Hemoglobin", "WBC")
	order := mustOrder(t, svc, labTestID)

	p, err := svc.Progress(ctx, order.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.TotalParameters != 2 || p.RecordedParameters != 0 || p.Complete() {
		t.Fatalf("unexpected empty progress: %+v", p)
	}

	if err := svc.RecordResult(ctx, order.ID, repo.params[labTestID][0].ID, "ok", nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	p, _ = svc.Progress(ctx, order.ID)
	if p.RecordedParameters != 1 {
		t.Fatalf("expected 1 recorded, got %+v", p)
	}
}

func TestOverdueOrders(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLabService()
	labTestID := repo.addCatalog("Hemoglobin")
	order := mustOrder(t, svc, labTestID)

	past := time.Now().Add(-24 * time.Hour)
	if _, err := svc.SetTentativeDate(ctx, order.ID, past); err != nil {
		t.Fatalf("tentative: %v", err)
	}

	overdue, err := svc.OverdueOrders(ctx, time.Now())
	if err != nil {
		t.Fatalf("overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != order.ID {
		t.Fatalf("expected the order to be overdue, got %+v", overdue)
	}
}
