package reporting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdobody2040/medilablis2/internal/platform/db"
)

// Store persists generated reports.
type Store interface {
	Create(ctx context.Context, r *Report) error
	List(ctx context.Context, limit, offset int) ([]*Report, int, error)
}

type pgStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

const reportCols = `id, title, measure_id, format, parameters, row_count, generated_by, generated_at`

func (s *pgStore) Create(ctx context.Context, r *Report) error {
	params, err := json.Marshal(r.Parameters)
	if err != nil {
		return fmt.Errorf("encode report parameters: %w", err)
	}
	err = db.Conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO reports (title, measure_id, format, parameters, row_count, generated_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, generated_at`,
		r.Title, r.MeasureID, r.Format, params, r.RowCount, r.GeneratedBy,
	).Scan(&r.ID, &r.GeneratedAt)
	return db.Classify(err, "report", nil)
}

func (s *pgStore) List(ctx context.Context, limit, offset int) ([]*Report, int, error) {
	conn := db.Conn(ctx, s.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM reports`).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "report", nil)
	}

	rows, err := conn.Query(ctx, `SELECT `+reportCols+` FROM reports ORDER BY generated_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, db.Classify(err, "report", nil)
	}
	defer rows.Close()

	var out []*Report
	for rows.Next() {
		var r Report
		var params []byte
		if err := rows.Scan(&r.ID, &r.Title, &r.MeasureID, &r.Format, &params, &r.RowCount, &r.GeneratedBy, &r.GeneratedAt); err != nil {
			return nil, 0, db.Classify(err, "report", nil)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &r.Parameters); err != nil {
				return nil, 0, fmt.Errorf("decode report parameters: %w", err)
			}
		}
		out = append(out, &r)
	}
	return out, total, db.Classify(rows.Err(), "report", nil)
}
