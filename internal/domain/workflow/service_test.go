package workflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/auth"
	"github.com/abdobody2040/medilablis2/internal/platform/db"
)

type mockWorklistRepo struct {
	lists map[uuid.UUID]*Worklist
}

func (m *mockWorklistRepo) Create(_ context.Context, w *Worklist) error {
	w.ID = uuid.New()
	w.CreatedAt = time.Now()
	cp := *w
	cp.SampleIDs = nil
	m.lists[w.ID] = &cp
	return nil
}

func (m *mockWorklistRepo) GetByID(_ context.Context, id uuid.UUID) (*Worklist, error) {
	w, ok := m.lists[id]
	if !ok {
		return nil, apperror.NotFound("worklist not found")
	}
	cp := *w
	cp.SampleIDs = append([]uuid.UUID{}, w.SampleIDs...)
	return &cp, nil
}

func (m *mockWorklistRepo) Update(_ context.Context, w *Worklist) error {
	stored := m.lists[w.ID]
	stored.Name, stored.AssignedTo, stored.Status = w.Name, w.AssignedTo, w.Status
	return nil
}

func (m *mockWorklistRepo) List(_ context.Context, status WorklistStatus, limit, offset int) ([]*Worklist, int, error) {
	var out []*Worklist
	for _, w := range m.lists {
		if status == "" || w.Status == status {
			out = append(out, w)
		}
	}
	return out, len(out), nil
}

func (m *mockWorklistRepo) AddSample(_ context.Context, worklistID, sampleID uuid.UUID) error {
	w := m.lists[worklistID]
	for _, id := range w.SampleIDs {
		if id == sampleID {
			return apperror.Conflict("worklist sample with this sampleId already exists")
		}
	}
	w.SampleIDs = append(w.SampleIDs, sampleID)
	return nil
}

func (m *mockWorklistRepo) RemoveSample(_ context.Context, worklistID, sampleID uuid.UUID) error {
	w := m.lists[worklistID]
	for i, id := range w.SampleIDs {
		if id == sampleID {
			w.SampleIDs = append(w.SampleIDs[:i], w.SampleIDs[i+1:]...)
			return nil
		}
	}
	return apperror.NotFound("sample is not on this worklist")
}

type mockOutboundRepo struct {
	items map[uuid.UUID]*OutboundSample
}

func (m *mockOutboundRepo) Create(_ context.Context, o *OutboundSample) error {
	o.ID = uuid.New()
	cp := *o
	m.items[o.ID] = &cp
	return nil
}

func (m *mockOutboundRepo) GetByID(_ context.Context, id uuid.UUID) (*OutboundSample, error) {
	o, ok := m.items[id]
	if !ok {
		return nil, apperror.NotFound("outbound sample not found")
	}
	cp := *o
	return &cp, nil
}

func (m *mockOutboundRepo) Update(_ context.Context, o *OutboundSample) error {
	cp := *o
	m.items[o.ID] = &cp
	return nil
}

func (m *mockOutboundRepo) List(_ context.Context, status OutboundStatus, limit, offset int) ([]*OutboundSample, int, error) {
	var out []*OutboundSample
	for _, o := range m.items {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	return out, len(out), nil
}

func newTestService() *Service {
	return NewService(
		&mockWorklistRepo{lists: make(map[uuid.UUID]*Worklist)},
		&mockOutboundRepo{items: make(map[uuid.UUID]*OutboundSample)},
		db.PassThroughTx{},
	)
}

func TestCreateWorklist(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	w, err := svc.CreateWorklist(ctx, WorklistInput{Name: " Chemistry AM ", SampleIDs: []uuid.UUID{a, b}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Name != "Chemistry AM" || w.Status != WorklistOpen || len(w.SampleIDs) != 2 {
		t.Errorf("unexpected worklist %+v", w)
	}

	_, err = svc.CreateWorklist(ctx, WorklistInput{Name: "dup", SampleIDs: []uuid.UUID{a, a}}, nil)
	if apperror.KindOf(err) != apperror.KindValidation {
		t.Errorf("expected validation error for duplicate ids, got %v", err)
	}
	_, err = svc.CreateWorklist(ctx, WorklistInput{}, nil)
	if apperror.KindOf(err) != apperror.KindValidation {
		t.Errorf("expected validation error for missing name, got %v", err)
	}
}

func TestWorklistSamples(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	w, _ := svc.CreateWorklist(ctx, WorklistInput{Name: "Hematology"}, nil)
	sample := uuid.New()

	got, err := svc.AddSample(ctx, w.ID, sample)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.SampleIDs) != 1 || got.SampleIDs[0] != sample {
		t.Errorf("expected sample on worklist, got %v", got.SampleIDs)
	}
	if _, err := svc.AddSample(ctx, w.ID, sample); apperror.KindOf(err) != apperror.KindConflict {
		t.Errorf("expected conflict on duplicate add, got %v", err)
	}
	if err := svc.RemoveSample(ctx, w.ID, sample); err != nil {
		t.Errorf("unexpected error removing sample: %v", err)
	}

	closed := WorklistClosed
	if _, err := svc.UpdateWorklist(ctx, w.ID, WorklistPatch{Status: &closed}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddSample(ctx, w.ID, uuid.New()); apperror.KindOf(err) != apperror.KindConflict {
		t.Errorf("expected conflict on closed worklist, got %v", err)
	}
	open := WorklistOpen
	if _, err := svc.UpdateWorklist(ctx, w.ID, WorklistPatch{Status: &open}); apperror.KindOf(err) != apperror.KindValidation {
		t.Errorf("expected closed worklists to stay closed, got %v", err)
	}
}

func TestUpdateOutbound_Lifecycle(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	fixed := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	o, err := svc.CreateOutbound(ctx, OutboundInput{SampleID: uuid.New(), DestinationLab: "Reference Lab"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != OutboundPending {
		t.Errorf("expected pending, got %s", o.Status)
	}

	if _, err := svc.UpdateOutbound(ctx, o.ID, OutboundUpdate{Status: OutboundResultsReturned}); apperror.KindOf(err) != apperror.KindValidation {
		t.Errorf("expected skip ahead rejected, got %v", err)
	}

	tracking := "TRK-1"
	o, err = svc.UpdateOutbound(ctx, o.ID, OutboundUpdate{Status: OutboundShipped, TrackingNumber: &tracking})
	if err != nil {
		t.Fatal(err)
	}
	if o.ShippedAt == nil || !o.ShippedAt.Equal(fixed) || *o.TrackingNumber != "TRK-1" {
		t.Errorf("expected shipment stamped, got %+v", o)
	}
	if _, err := svc.UpdateOutbound(ctx, o.ID, OutboundUpdate{Status: OutboundReceivedByLab}); err != nil {
		t.Fatal(err)
	}
	o, err = svc.UpdateOutbound(ctx, o.ID, OutboundUpdate{Status: OutboundResultsReturned})
	if err != nil {
		t.Fatal(err)
	}
	if o.ReturnedAt == nil {
		t.Error("expected returnedAt stamped")
	}

	if _, err := svc.CreateOutbound(ctx, OutboundInput{DestinationLab: "  "}, nil); apperror.KindOf(err) != apperror.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, _, err := svc.ListOutbound(ctx, "lost", 20, 0); apperror.KindOf(err) != apperror.KindValidation {
		t.Errorf("expected validation error for bad status, got %v", err)
	}
}

func TestHandler_Worklists(t *testing.T) {
	svc := newTestService()
	e := echo.New()
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(zerolog.Nop())
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithPrincipal(c.Request().Context(), auth.Principal{UserID: uuid.NewString(), Role: auth.RoleTechnician})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(svc).RegisterRoutes(api)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/worklists", strings.NewReader(`{"name":"Urinalysis"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/worklists?status=archived", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/outbound-samples/"+uuid.NewString(), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
