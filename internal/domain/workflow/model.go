package workflow

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
)

type WorklistStatus string

const (
	WorklistOpen       WorklistStatus = "open"
	WorklistInProgress WorklistStatus = "in_progress"
	WorklistClosed     WorklistStatus = "closed"
)

func (s WorklistStatus) Valid() bool {
	return s == WorklistOpen || s == WorklistInProgress || s == WorklistClosed
}

// Worklist batches samples for a bench or analyzer run.
type Worklist struct {
	ID         uuid.UUID      `json:"id"`
	Name       string         `json:"name"`
	TestTypeID *uuid.UUID     `json:"testTypeId,omitempty"`
	AssignedTo *uuid.UUID     `json:"assignedTo,omitempty"`
	Status     WorklistStatus `json:"status"`
	SampleIDs  []uuid.UUID    `json:"sampleIds"`
	CreatedBy  *uuid.UUID     `json:"createdBy,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

type WorklistInput struct {
	Name       string      `json:"name"`
	TestTypeID *uuid.UUID  `json:"testTypeId"`
	AssignedTo *uuid.UUID  `json:"assignedTo"`
	SampleIDs  []uuid.UUID `json:"sampleIds"`
}

func (in *WorklistInput) Validate() error {
	var errs apperror.FieldErrors
	errs.Required("name", in.Name)
	seen := make(map[uuid.UUID]bool, len(in.SampleIDs))
	for _, id := range in.SampleIDs {
		if id == uuid.Nil {
			errs.Add("sampleIds", "must not contain empty ids")
			break
		}
		if seen[id] {
			errs.Add("sampleIds", "must not contain duplicates")
			break
		}
		seen[id] = true
	}
	return errs.Err()
}

type WorklistPatch struct {
	Name       *string         `json:"name"`
	AssignedTo *uuid.UUID      `json:"assignedTo"`
	Status     *WorklistStatus `json:"status"`
}

type OutboundStatus string

const (
	OutboundPending         OutboundStatus = "pending"
	OutboundShipped         OutboundStatus = "shipped"
	OutboundReceivedByLab   OutboundStatus = "received_by_lab"
	OutboundResultsReturned OutboundStatus = "results_returned"
)

func (s OutboundStatus) Valid() bool {
	switch s {
	case OutboundPending, OutboundShipped, OutboundReceivedByLab, OutboundResultsReturned:
		return true
	}
	return false
}

// OutboundSample tracks a sample referred to an external laboratory.
type OutboundSample struct {
	ID             uuid.UUID      `json:"id"`
	SampleID       uuid.UUID      `json:"sampleId"`
	DestinationLab string         `json:"destinationLab"`
	TrackingNumber *string        `json:"trackingNumber,omitempty"`
	Status         OutboundStatus `json:"status"`
	ShippedAt      *time.Time     `json:"shippedAt,omitempty"`
	ReturnedAt     *time.Time     `json:"returnedAt,omitempty"`
	Notes          *string        `json:"notes,omitempty"`
	CreatedBy      *uuid.UUID     `json:"createdBy,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

type OutboundInput struct {
	SampleID       uuid.UUID `json:"sampleId"`
	DestinationLab string    `json:"destinationLab"`
	TrackingNumber *string   `json:"trackingNumber"`
	Notes          *string   `json:"notes"`
}

func (in *OutboundInput) Validate() error {
	var errs apperror.FieldErrors
	if in.SampleID == uuid.Nil {
		errs.Add("sampleId", "is required")
	}
	in.DestinationLab = strings.TrimSpace(in.DestinationLab)
	errs.Required("destinationLab", in.DestinationLab)
	return errs.Err()
}

type OutboundUpdate struct {
	Status         OutboundStatus `json:"status"`
	TrackingNumber *string        `json:"trackingNumber"`
}
