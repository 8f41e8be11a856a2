// Package workflow organises bench work: worklists that batch samples, and
// referrals of samples to outside laboratories.
package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/db"
)

var worklistTransitions = map[WorklistStatus][]WorklistStatus{
	WorklistOpen:       {WorklistInProgress, WorklistClosed},
	WorklistInProgress: {WorklistClosed},
}

var outboundTransitions = map[OutboundStatus][]OutboundStatus{
	OutboundPending:       {OutboundShipped},
	OutboundShipped:       {OutboundReceivedByLab},
	OutboundReceivedByLab: {OutboundResultsReturned},
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

type Service struct {
	worklists WorklistRepository
	outbound  OutboundRepository
	tx        db.TxRunner
	now       func() time.Time
}

func NewService(worklists WorklistRepository, outbound OutboundRepository, tx db.TxRunner) *Service {
	return &Service{worklists: worklists, outbound: outbound, tx: tx, now: time.Now}
}

// -- Worklists --

// CreateWorklist stores an open worklist together with its initial samples.
func (s *Service) CreateWorklist(ctx context.Context, in WorklistInput, actor *uuid.UUID) (*Worklist, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	w := &Worklist{
		Name:       in.Name,
		TestTypeID: in.TestTypeID,
		AssignedTo: in.AssignedTo,
		Status:     WorklistOpen,
		CreatedBy:  actor,
		SampleIDs:  []uuid.UUID{},
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.worklists.Create(ctx, w); err != nil {
			return err
		}
		for _, id := range in.SampleIDs {
			if err := s.worklists.AddSample(ctx, w.ID, id); err != nil {
				return err
			}
			w.SampleIDs = append(w.SampleIDs, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) GetWorklist(ctx context.Context, id uuid.UUID) (*Worklist, error) {
	return s.worklists.GetByID(ctx, id)
}

func (s *Service) ListWorklists(ctx context.Context, status WorklistStatus, limit, offset int) ([]*Worklist, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, apperror.Invalid("status", "must be one of open, in_progress, closed")
	}
	return s.worklists.List(ctx, status, limit, offset)
}

func (s *Service) UpdateWorklist(ctx context.Context, id uuid.UUID, patch WorklistPatch) (*Worklist, error) {
	var out *Worklist
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		w, err := s.worklists.GetByID(ctx, id)
		if err != nil {
			return err
		}
		var errs apperror.FieldErrors
		if patch.Name != nil {
			errs.Required("name", *patch.Name)
			w.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.AssignedTo != nil {
			w.AssignedTo = patch.AssignedTo
		}
		if patch.Status != nil && *patch.Status != w.Status {
			switch {
			case !patch.Status.Valid():
				errs.Add("status", "must be one of open, in_progress, closed")
			case !contains(worklistTransitions[w.Status], *patch.Status):
				errs.Add("status", "cannot move a "+string(w.Status)+" worklist to "+string(*patch.Status))
			default:
				w.Status = *patch.Status
			}
		}
		if err := errs.Err(); err != nil {
			return err
		}
		if err := s.worklists.Update(ctx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddSample puts a sample on a worklist that is not yet closed.
func (s *Service) AddSample(ctx context.Context, worklistID, sampleID uuid.UUID) (*Worklist, error) {
	if sampleID == uuid.Nil {
		return nil, apperror.Invalid("sampleId", "is required")
	}
	var out *Worklist
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		w, err := s.worklists.GetByID(ctx, worklistID)
		if err != nil {
			return err
		}
		if w.Status == WorklistClosed {
			return apperror.Conflict("worklist is closed")
		}
		if err := s.worklists.AddSample(ctx, worklistID, sampleID); err != nil {
			return err
		}
		w.SampleIDs = append(w.SampleIDs, sampleID)
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) RemoveSample(ctx context.Context, worklistID, sampleID uuid.UUID) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		w, err := s.worklists.GetByID(ctx, worklistID)
		if err != nil {
			return err
		}
		if w.Status == WorklistClosed {
			return apperror.Conflict("worklist is closed")
		}
		return s.worklists.RemoveSample(ctx, worklistID, sampleID)
	})
}

// -- Outbound samples --

func (s *Service) CreateOutbound(ctx context.Context, in OutboundInput, actor *uuid.UUID) (*OutboundSample, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	o := &OutboundSample{
		SampleID:       in.SampleID,
		DestinationLab: in.DestinationLab,
		TrackingNumber: in.TrackingNumber,
		Status:         OutboundPending,
		Notes:          in.Notes,
		CreatedBy:      actor,
	}
	if err := s.outbound.Create(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) GetOutbound(ctx context.Context, id uuid.UUID) (*OutboundSample, error) {
	return s.outbound.GetByID(ctx, id)
}

func (s *Service) ListOutbound(ctx context.Context, status OutboundStatus, limit, offset int) ([]*OutboundSample, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, apperror.Invalid("status", "must be one of pending, shipped, received_by_lab, results_returned")
	}
	return s.outbound.List(ctx, status, limit, offset)
}

// UpdateOutbound advances a referral one step and stamps the shipping and
// return times.
func (s *Service) UpdateOutbound(ctx context.Context, id uuid.UUID, upd OutboundUpdate) (*OutboundSample, error) {
	if upd.Status != "" && !upd.Status.Valid() {
		return nil, apperror.Invalid("status", "must be one of pending, shipped, received_by_lab, results_returned")
	}
	var out *OutboundSample
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.outbound.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if upd.TrackingNumber != nil {
			o.TrackingNumber = upd.TrackingNumber
		}
		if upd.Status != "" && upd.Status != o.Status {
			if !contains(outboundTransitions[o.Status], upd.Status) {
				return apperror.Invalid("status", "cannot move a "+string(o.Status)+" referral to "+string(upd.Status))
			}
			now := s.now()
			switch upd.Status {
			case OutboundShipped:
				o.ShippedAt = &now
			case OutboundResultsReturned:
				o.ReturnedAt = &now
			}
			o.Status = upd.Status
		}
		if err := s.outbound.Update(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
