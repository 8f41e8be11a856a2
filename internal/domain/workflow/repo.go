package workflow

import (
	"context"

	"github.com/google/uuid"
)

type WorklistRepository interface {
	Create(ctx context.Context, w *Worklist) error
	GetByID(ctx context.Context, id uuid.UUID) (*Worklist, error)
	Update(ctx context.Context, w *Worklist) error
	List(ctx context.Context, status WorklistStatus, limit, offset int) ([]*Worklist, int, error)
	// AddSample links a sample; linking the same sample twice is a Conflict.
	AddSample(ctx context.Context, worklistID, sampleID uuid.UUID) error
	RemoveSample(ctx context.Context, worklistID, sampleID uuid.UUID) error
}

type OutboundRepository interface {
	Create(ctx context.Context, o *OutboundSample) error
	GetByID(ctx context.Context, id uuid.UUID) (*OutboundSample, error)
	Update(ctx context.Context, o *OutboundSample) error
	List(ctx context.Context, status OutboundStatus, limit, offset int) ([]*OutboundSample, int, error)
}
