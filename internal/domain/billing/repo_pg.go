package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdobody2040/medilablis2/internal/platform/db"
)

var recordConstraints = db.ConstraintFields{
	"financial_records_patient_id_fkey": "patientId",
	"financial_records_sample_id_fkey":  "sampleId",
	"financial_records_amount_check":    "amount",
}

type recordRepoPG struct {
	pool *pgxpool.Pool
}

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository {
	return &recordRepoPG{pool: pool}
}

const recordCols = `id, patient_id, sample_id, type, amount::float8, currency, status,
	description, created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*FinancialRecord, error) {
	var r FinancialRecord
	err := row.Scan(&r.ID, &r.PatientID, &r.SampleID, &r.Type, &r.Amount, &r.Currency, &r.Status,
		&r.Description, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *recordRepoPG) Create(ctx context.Context, rec *FinancialRecord) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO financial_records (patient_id, sample_id, type, amount, currency, status, description, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		rec.PatientID, rec.SampleID, string(rec.Type), rec.Amount, rec.Currency, string(rec.Status),
		rec.Description, rec.CreatedBy,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	return db.Classify(err, "financial record", recordConstraints)
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*FinancialRecord, error) {
	rec, err := scanRecord(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+recordCols+` FROM financial_records WHERE id = $1`, id))
	return rec, db.Classify(err, "financial record", nil)
}

func (r *recordRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status RecordStatus) (*FinancialRecord, error) {
	rec, err := scanRecord(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE financial_records SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+recordCols, id, string(status)))
	return rec, db.Classify(err, "financial record", nil)
}

func filterClause(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *recordRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*FinancialRecord, int, error) {
	conn := db.Conn(ctx, r.pool)
	where, args := filterClause(f)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM financial_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "financial record", nil)
	}

	n := len(args)
	rows, err := conn.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM financial_records%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
			recordCols, where, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.Classify(err, "financial record", nil)
	}
	defer rows.Close()

	var out []*FinancialRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, db.Classify(err, "financial record", nil)
		}
		out = append(out, rec)
	}
	return out, total, db.Classify(rows.Err(), "financial record", nil)
}

func (r *recordRepoPG) Totals(ctx context.Context, patientID *uuid.UUID) (map[RecordType]float64, int, error) {
	where, args := filterClause(Filter{PatientID: patientID})
	if where == "" {
		where = " WHERE status <> 'cancelled'"
	} else {
		where += " AND status <> 'cancelled'"
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT type, COALESCE(SUM(amount), 0)::float8, COUNT(*) FROM financial_records`+where+` GROUP BY type`, args...)
	if err != nil {
		return nil, 0, db.Classify(err, "financial record", nil)
	}
	defer rows.Close()

	totals := make(map[RecordType]float64)
	count := 0
	for rows.Next() {
		var t RecordType
		var sum float64
		var n int
		if err := rows.Scan(&t, &sum, &n); err != nil {
			return nil, 0, db.Classify(err, "financial record", nil)
		}
		totals[t] = sum
		count += n
	}
	return totals, count, db.Classify(rows.Err(), "financial record", nil)
}
