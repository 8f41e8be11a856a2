package billing

import (
	"context"

	"github.com/google/uuid"
)

type RecordRepository interface {
	Create(ctx context.Context, r *FinancialRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*FinancialRecord, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status RecordStatus) (*FinancialRecord, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*FinancialRecord, int, error)
	// Totals sums non-cancelled amounts per record type.
	Totals(ctx context.Context, patientID *uuid.UUID) (map[RecordType]float64, int, error)
}
