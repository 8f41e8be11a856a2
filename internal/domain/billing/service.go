// Package billing keeps the invoices, payments and refunds raised against
// patients.
package billing

import (
	"context"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
)

// statusTransitions lists the moves a record may make. Settled and
// cancelled records are final.
var statusTransitions = map[RecordStatus][]RecordStatus{
	StatusPending: {StatusPaid, StatusCancelled},
}

type Service struct {
	records RecordRepository
}

func NewService(records RecordRepository) *Service {
	return &Service{records: records}
}

func (s *Service) CreateRecord(ctx context.Context, in RecordInput, actor *uuid.UUID) (*FinancialRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	rec := &FinancialRecord{
		PatientID:   in.PatientID,
		SampleID:    in.SampleID,
		Type:        in.Type,
		Amount:      math.Round(in.Amount*100) / 100,
		Currency:    strings.ToUpper(strings.TrimSpace(in.Currency)),
		Status:      in.Status,
		Description: in.Description,
		CreatedBy:   actor,
	}
	if rec.Currency == "" {
		rec.Currency = defaultCurrency
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*FinancialRecord, error) {
	return s.records.GetByID(ctx, id)
}

func (s *Service) ListRecords(ctx context.Context, f Filter, limit, offset int) ([]*FinancialRecord, int, error) {
	var errs apperror.FieldErrors
	if f.Type != "" && !f.Type.Valid() {
		errs.Add("type", "must be one of invoice, payment, refund")
	}
	if f.Status != "" && !f.Status.Valid() {
		errs.Add("status", "must be one of pending, paid, cancelled")
	}
	if err := errs.Err(); err != nil {
		return nil, 0, err
	}
	return s.records.List(ctx, f, limit, offset)
}

// UpdateStatus settles or cancels a pending record.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status RecordStatus) (*FinancialRecord, error) {
	if !status.Valid() {
		return nil, apperror.Invalid("status", "must be one of pending, paid, cancelled")
	}
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == status {
		return rec, nil
	}
	allowed := false
	for _, next := range statusTransitions[rec.Status] {
		if next == status {
			allowed = true
		}
	}
	if !allowed {
		return nil, apperror.Invalid("status", "cannot move a "+string(rec.Status)+" record to "+string(status))
	}
	return s.records.UpdateStatus(ctx, id, status)
}

func (s *Service) Summary(ctx context.Context, patientID *uuid.UUID) (*Summary, error) {
	totals, count, err := s.records.Totals(ctx, patientID)
	if err != nil {
		return nil, err
	}
	sum := &Summary{
		Invoiced: totals[TypeInvoice],
		Paid:     totals[TypePayment],
		Refunded: totals[TypeRefund],
		Count:    count,
	}
	sum.Balance = math.Round((sum.Invoiced-sum.Paid+sum.Refunded)*100) / 100
	return sum, nil
}
