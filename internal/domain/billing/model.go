package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
)

type RecordType string

const (
	TypeInvoice RecordType = "invoice"
	TypePayment RecordType = "payment"
	TypeRefund  RecordType = "refund"
)

func (t RecordType) Valid() bool {
	return t == TypeInvoice || t == TypePayment || t == TypeRefund
}

type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusPaid      RecordStatus = "paid"
	StatusCancelled RecordStatus = "cancelled"
)

func (s RecordStatus) Valid() bool {
	return s == StatusPending || s == StatusPaid || s == StatusCancelled
}

const defaultCurrency = "USD"

// FinancialRecord is an invoice, payment or refund against a patient.
type FinancialRecord struct {
	ID          uuid.UUID    `json:"id"`
	PatientID   uuid.UUID    `json:"patientId"`
	SampleID    *uuid.UUID   `json:"sampleId,omitempty"`
	Type        RecordType   `json:"type"`
	Amount      float64      `json:"amount"`
	Currency    string       `json:"currency"`
	Status      RecordStatus `json:"status"`
	Description *string      `json:"description,omitempty"`
	CreatedBy   *uuid.UUID   `json:"createdBy,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// RecordInput is the body of POST /financial-records.
type RecordInput struct {
	PatientID   uuid.UUID    `json:"patientId"`
	SampleID    *uuid.UUID   `json:"sampleId"`
	Type        RecordType   `json:"type"`
	Amount      float64      `json:"amount"`
	Currency    string       `json:"currency"`
	Status      RecordStatus `json:"status"`
	Description *string      `json:"description"`
}

func (in *RecordInput) Validate() error {
	var errs apperror.FieldErrors
	if in.PatientID == uuid.Nil {
		errs.Add("patientId", "is required")
	}
	if !in.Type.Valid() {
		errs.Add("type", "must be one of invoice, payment, refund")
	}
	if in.Amount <= 0 {
		errs.Add("amount", "must be greater than zero")
	}
	if in.Currency != "" && len(strings.TrimSpace(in.Currency)) != 3 {
		errs.Add("currency", "must be a three-letter currency code")
	}
	if in.Status != "" && !in.Status.Valid() {
		errs.Add("status", "must be one of pending, paid, cancelled")
	}
	return errs.Err()
}

// Filter narrows record listings.
type Filter struct {
	PatientID *uuid.UUID
	Type      RecordType
	Status    RecordStatus
}

// Summary totals non-cancelled records by type. Balance is what remains
// owed: invoices less payments plus refunds.
type Summary struct {
	Invoiced float64 `json:"invoiced"`
	Paid     float64 `json:"paid"`
	Refunded float64 `json:"refunded"`
	Balance  float64 `json:"balance"`
	Count    int     `json:"count"`
}
