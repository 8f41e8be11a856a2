package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/auth"
)

type mockRecordRepo struct {
	records map[uuid.UUID]*FinancialRecord
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{records: make(map[uuid.UUID]*FinancialRecord)}
}

func (m *mockRecordRepo) Create(_ context.Context, r *FinancialRecord) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *mockRecordRepo) GetByID(_ context.Context, id uuid.UUID) (*FinancialRecord, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, apperror.NotFound("financial record not found")
	}
	cp := *r
	return &cp, nil
}

func (m *mockRecordRepo) UpdateStatus(_ context.Context, id uuid.UUID, status RecordStatus) (*FinancialRecord, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, apperror.NotFound("financial record not found")
	}
	r.Status = status
	cp := *r
	return &cp, nil
}

func (m *mockRecordRepo) List(_ context.Context, f Filter, limit, offset int) ([]*FinancialRecord, int, error) {
	var out []*FinancialRecord
	for _, r := range m.records {
		if f.PatientID != nil && r.PatientID != *f.PatientID {
			continue
		}
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRecordRepo) Totals(_ context.Context, patientID *uuid.UUID) (map[RecordType]float64, int, error) {
	totals := make(map[RecordType]float64)
	n := 0
	for _, r := range m.records {
		if r.Status == StatusCancelled || (patientID != nil && r.PatientID != *patientID) {
			continue
		}
		totals[r.Type] += r.Amount
		n++
	}
	return totals, n, nil
}

func TestCreateRecord_Defaults(t *testing.T) {
	svc := NewService(newMockRecordRepo())
	actor := uuid.New()
	rec, err := svc.CreateRecord(context.Background(), RecordInput{
		PatientID: uuid.New(), Type: TypeInvoice, Amount: 45.678,
	}, &actor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Currency != "USD" || rec.Status != StatusPending {
		t.Errorf("expected USD/pending defaults, got %s/%s", rec.Currency, rec.Status)
	}
	if rec.Amount != 45.68 {
		t.Errorf("expected amount rounded to cents, got %v", rec.Amount)
	}
	if rec.CreatedBy == nil || *rec.CreatedBy != actor {
		t.Error("expected createdBy set")
	}
}

func TestCreateRecord_Validation(t *testing.T) {
	svc := NewService(newMockRecordRepo())
	_, err := svc.CreateRecord(context.Background(), RecordInput{Type: "gift", Amount: 0, Currency: "DOLLARS", Status: "owed"}, nil)
	if apperror.KindOf(err) != apperror.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	ae := err.(*apperror.Error)
	if len(ae.Fields) != 5 {
		t.Errorf("expected 5 field errors, got %+v", ae.Fields)
	}
}

func TestUpdateStatus(t *testing.T) {
	svc := NewService(newMockRecordRepo())
	ctx := context.Background()
	rec, _ := svc.CreateRecord(ctx, RecordInput{PatientID: uuid.New(), Type: TypeInvoice, Amount: 10}, nil)

	paid, err := svc.UpdateStatus(ctx, rec.ID, StatusPaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paid.Status != StatusPaid {
		t.Errorf("expected paid, got %s", paid.Status)
	}
	if _, err := svc.UpdateStatus(ctx, rec.ID, StatusCancelled); apperror.KindOf(err) != apperror.KindValidation {
		t.Errorf("expected paid records to be final, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, rec.ID, "owed"); apperror.KindOf(err) != apperror.KindValidation {
		t.Errorf("expected invalid status rejected, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, uuid.New(), StatusPaid); apperror.KindOf(err) != apperror.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	svc := NewService(newMockRecordRepo())
	ctx := context.Background()
	patient := uuid.New()
	other := uuid.New()
	for _, in := range []RecordInput{
		{PatientID: patient, Type: TypeInvoice, Amount: 100},
		{PatientID: patient, Type: TypeInvoice, Amount: 50},
		{PatientID: patient, Type: TypePayment, Amount: 120},
		{PatientID: patient, Type: TypeRefund, Amount: 5},
		{PatientID: patient, Type: TypeInvoice, Amount: 999, Status: StatusCancelled},
		{PatientID: other, Type: TypeInvoice, Amount: 70},
	} {
		if _, err := svc.CreateRecord(ctx, in, nil); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := svc.Summary(ctx, &patient)
	if err != nil {
		t.Fatal(err)
	}
	want := Summary{Invoiced: 150, Paid: 120, Refunded: 5, Balance: 35, Count: 4}
	if *sum != want {
		t.Errorf("expected %+v, got %+v", want, *sum)
	}

	all, _ := svc.Summary(ctx, nil)
	if all.Invoiced != 220 || all.Count != 5 {
		t.Errorf("unexpected overall summary %+v", all)
	}
}

func TestListRecords_InvalidFilter(t *testing.T) {
	svc := NewService(newMockRecordRepo())
	_, _, err := svc.ListRecords(context.Background(), Filter{Type: "gift"}, 20, 0)
	if apperror.KindOf(err) != apperror.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_Routes(t *testing.T) {
	svc := NewService(newMockRecordRepo())
	e := echo.New()
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(zerolog.Nop())
	role := auth.RoleReceptionist
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithPrincipal(c.Request().Context(), auth.Principal{UserID: uuid.NewString(), Role: role})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(svc).RegisterRoutes(api)

	patient := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/financial-records",
		strings.NewReader(`{"patientId":"`+patient.String()+`","type":"invoice","amount":25}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/financial-records/summary?patientId="+patient.String(), nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"balance":25`) {
		t.Errorf("unexpected summary response %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/financial-records?patientId=bad", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad patientId, got %d", rec.Code)
	}

	role = auth.RoleTechnician
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/financial-records", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for technician, got %d", rec.Code)
	}
}
