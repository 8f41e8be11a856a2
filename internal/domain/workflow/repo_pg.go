package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/db"
)

var worklistConstraints = db.ConstraintFields{
	"worklists_test_type_id_fkey":       "testTypeId",
	"worklists_assigned_to_fkey":        "assignedTo",
	"worklist_samples_pkey":             "sampleId",
	"worklist_samples_sample_id_fkey":   "sampleId",
	"worklist_samples_worklist_id_fkey": "worklistId",
	"outbound_samples_sample_id_fkey":   "sampleId",
	"outbound_samples_created_by_fkey":  "createdBy",
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// -- Worklist Repository --

type worklistRepoPG struct {
	pool *pgxpool.Pool
}

func NewWorklistRepoPG(pool *pgxpool.Pool) WorklistRepository {
	return &worklistRepoPG{pool: pool}
}

const worklistCols = `w.id, w.name, w.test_type_id, w.assigned_to, w.status,
	COALESCE((SELECT array_agg(ws.sample_id ORDER BY ws.added_at) FROM worklist_samples ws WHERE ws.worklist_id = w.id), '{}'),
	w.created_by, w.created_at, w.updated_at`

func scanWorklist(row rowScanner) (*Worklist, error) {
	var w Worklist
	err := row.Scan(&w.ID, &w.Name, &w.TestTypeID, &w.AssignedTo, &w.Status,
		&w.SampleIDs, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *worklistRepoPG) Create(ctx context.Context, w *Worklist) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO worklists (name, test_type_id, assigned_to, status, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		w.Name, w.TestTypeID, w.AssignedTo, string(w.Status), w.CreatedBy,
	).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	return db.Classify(err, "worklist", worklistConstraints)
}

func (r *worklistRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Worklist, error) {
	w, err := scanWorklist(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+worklistCols+` FROM worklists w WHERE w.id = $1`, id))
	return w, db.Classify(err, "worklist", nil)
}

func (r *worklistRepoPG) Update(ctx context.Context, w *Worklist) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE worklists SET name = $2, assigned_to = $3, status = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		w.ID, w.Name, w.AssignedTo, string(w.Status),
	).Scan(&w.UpdatedAt)
	return db.Classify(err, "worklist", worklistConstraints)
}

func (r *worklistRepoPG) List(ctx context.Context, status WorklistStatus, limit, offset int) ([]*Worklist, int, error) {
	conn := db.Conn(ctx, r.pool)
	where := ""
	var args []interface{}
	if status != "" {
		where = ` WHERE w.status = $1`
		args = append(args, string(status))
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM worklists w`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "worklist", nil)
	}

	n := len(args)
	rows, err := conn.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM worklists w%s ORDER BY w.created_at DESC, w.id DESC LIMIT $%d OFFSET $%d`,
			worklistCols, where, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.Classify(err, "worklist", nil)
	}
	defer rows.Close()

	var out []*Worklist
	for rows.Next() {
		w, err := scanWorklist(rows)
		if err != nil {
			return nil, 0, db.Classify(err, "worklist", nil)
		}
		out = append(out, w)
	}
	return out, total, db.Classify(rows.Err(), "worklist", nil)
}

func (r *worklistRepoPG) AddSample(ctx context.Context, worklistID, sampleID uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO worklist_samples (worklist_id, sample_id) VALUES ($1, $2)`, worklistID, sampleID)
	return db.Classify(err, "worklist sample", worklistConstraints)
}

func (r *worklistRepoPG) RemoveSample(ctx context.Context, worklistID, sampleID uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM worklist_samples WHERE worklist_id = $1 AND sample_id = $2`, worklistID, sampleID)
	if err != nil {
		return db.Classify(err, "worklist sample", nil)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("sample is not on this worklist")
	}
	return nil
}

// -- Outbound Repository --

type outboundRepoPG struct {
	pool *pgxpool.Pool
}

func NewOutboundRepoPG(pool *pgxpool.Pool) OutboundRepository {
	return &outboundRepoPG{pool: pool}
}

const outboundCols = `id, sample_id, destination_lab, tracking_number, status, shipped_at, returned_at,
	notes, created_by, created_at, updated_at`

func scanOutbound(row rowScanner) (*OutboundSample, error) {
	var o OutboundSample
	err := row.Scan(&o.ID, &o.SampleID, &o.DestinationLab, &o.TrackingNumber, &o.Status, &o.ShippedAt, &o.ReturnedAt,
		&o.Notes, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *outboundRepoPG) Create(ctx context.Context, o *OutboundSample) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO outbound_samples (sample_id, destination_lab, tracking_number, status, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		o.SampleID, o.DestinationLab, o.TrackingNumber, string(o.Status), o.Notes, o.CreatedBy,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	return db.Classify(err, "outbound sample", worklistConstraints)
}

func (r *outboundRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*OutboundSample, error) {
	o, err := scanOutbound(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+outboundCols+` FROM outbound_samples WHERE id = $1`, id))
	return o, db.Classify(err, "outbound sample", nil)
}

func (r *outboundRepoPG) Update(ctx context.Context, o *OutboundSample) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE outbound_samples SET tracking_number = $2, status = $3, shipped_at = $4, returned_at = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.TrackingNumber, string(o.Status), o.ShippedAt, o.ReturnedAt,
	).Scan(&o.UpdatedAt)
	return db.Classify(err, "outbound sample", nil)
}

func (r *outboundRepoPG) List(ctx context.Context, status OutboundStatus, limit, offset int) ([]*OutboundSample, int, error) {
	conn := db.Conn(ctx, r.pool)
	where := ""
	var args []interface{}
	if status != "" {
		where = ` WHERE status = $1`
		args = append(args, string(status))
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM outbound_samples`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "outbound sample", nil)
	}

	n := len(args)
	rows, err := conn.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM outbound_samples%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
			outboundCols, where, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.Classify(err, "outbound sample", nil)
	}
	defer rows.Close()

	var out []*OutboundSample
	for rows.Next() {
		o, err := scanOutbound(rows)
		if err != nil {
			return nil, 0, db.Classify(err, "outbound sample", nil)
		}
		out = append(out, o)
	}
	return out, total, db.Classify(rows.Err(), "outbound sample", nil)
}
