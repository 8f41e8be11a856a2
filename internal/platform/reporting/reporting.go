// Package reporting evaluates predefined laboratory measures against the
// database and renders them as JSON or XLSX.
package reporting

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
)

// Parameter is a named query-string input bound positionally into a
// measure's SQL.
type Parameter struct {
	Name string `json:"name"`
	// Kind is "date" or "int".
	Kind     string `json:"kind"`
	Required bool   `json:"required"`
}

// MeasureDefinition defines a reporting measure with its SQL query.
type MeasureDefinition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	SQL         string      `json:"-"`
	Parameters  []Parameter `json:"parameters"`
}

// Table is the tabular result of a measure.
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// Records returns the table as one map per row.
func (t Table) Records() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]interface{}, len(t.Columns))
		for i, col := range t.Columns {
			rec[col] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measureId"`
	MeasureName string                   `json:"measureName"`
	GeneratedAt time.Time                `json:"generatedAt"`
	Columns     []string                 `json:"columns"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

// Report is the persisted record of an evaluation or export.
type Report struct {
	ID          uuid.UUID         `json:"id"`
	Title       string            `json:"title"`
	MeasureID   string            `json:"measureId"`
	Format      string            `json:"format"`
	Parameters  map[string]string `json:"parameters"`
	RowCount    int               `json:"rowCount"`
	GeneratedBy *uuid.UUID        `json:"generatedBy,omitempty"`
	GeneratedAt time.Time         `json:"generatedAt"`
}

// PredefinedMeasures is the list of available reporting measures. Counts
// and sums are cast in SQL so results are plain JSON numbers.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "samples-by-status",
		Name:        "Samples by Status",
		Description: "Number of samples in each lifecycle status",
		SQL:         `SELECT status::text AS status, COUNT(*)::bigint AS total FROM samples GROUP BY status ORDER BY total DESC`,
	},
	{
		ID:          "daily-sample-volume",
		Name:        "Daily Sample Volume",
		Description: "Samples received per day over the last N days",
		SQL: `SELECT to_char(date_trunc('day', received_date_time), 'YYYY-MM-DD') AS day, COUNT(*)::bigint AS total
FROM samples
WHERE received_date_time >= now() - make_interval(days => $1::int)
GROUP BY 1 ORDER BY 1`,
		Parameters: []Parameter{{Name: "days", Kind: "int", Required: true}},
	},
	{
		ID:          "test-requests-by-status",
		Name:        "Test Requests by Status",
		Description: "Number of test requests in each status",
		SQL:         `SELECT status::text AS status, COUNT(*)::bigint AS total FROM test_requests GROUP BY status ORDER BY total DESC`,
	},
	{
		ID:          "turnaround-by-test-type",
		Name:        "Turnaround by Test Type",
		Description: "Average hours from request to completion per test type, against its target",
		SQL: `SELECT tt.code, tt.name, tt.turnaround_hours AS target_hours,
       COUNT(tr.id)::bigint AS completed,
       COALESCE(AVG(EXTRACT(EPOCH FROM (tr.completed_at - tr.requested_at)) / 3600), 0)::float8 AS avg_hours
FROM test_types tt
LEFT JOIN test_requests tr ON tr.test_type_id = tt.id AND tr.status = 'completed' AND tr.completed_at IS NOT NULL
GROUP BY tt.id ORDER BY tt.code`,
	},
	{
		ID:          "qc-pass-rate",
		Name:        "QC Pass Rate",
		Description: "Quality control runs and pass rate per test type within a date range",
		SQL: `SELECT tt.code, tt.name,
       COUNT(qc.id)::bigint AS runs,
       COUNT(qc.id) FILTER (WHERE qc.passed)::bigint AS passed,
       COALESCE(AVG(CASE WHEN qc.passed THEN 1.0 ELSE 0.0 END), 0)::float8 AS pass_rate
FROM test_types tt
JOIN quality_controls qc ON qc.test_type_id = tt.id
WHERE qc.run_at >= $1::date AND qc.run_at < ($2::date + 1)
GROUP BY tt.id ORDER BY tt.code`,
		Parameters: []Parameter{{Name: "from", Kind: "date", Required: true}, {Name: "to", Kind: "date", Required: true}},
	},
	{
		ID:          "revenue-by-type",
		Name:        "Revenue by Record Type",
		Description: "Financial record totals by type and status",
		SQL: `SELECT type, status, COUNT(*)::bigint AS records, COALESCE(SUM(amount), 0)::float8 AS amount
FROM financial_records GROUP BY type, status ORDER BY type, status`,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// BindParameters validates raw query values against the measure's
// parameters and returns them in positional order.
func (m *MeasureDefinition) BindParameters(raw map[string]string) ([]interface{}, error) {
	var errs apperror.FieldErrors
	args := make([]interface{}, 0, len(m.Parameters))
	for _, p := range m.Parameters {
		v, ok := raw[p.Name]
		if !ok || v == "" {
			if p.Required {
				errs.Add(p.Name, "is required")
			}
			args = append(args, nil)
			continue
		}
		switch p.Kind {
		case "date":
			d, err := time.Parse("2006-01-02", v)
			if err != nil {
				errs.Add(p.Name, "must be a date in YYYY-MM-DD format")
				continue
			}
			args = append(args, d)
		case "int":
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 3660 {
				errs.Add(p.Name, "must be a positive whole number")
				continue
			}
			args = append(args, n)
		default:
			args = append(args, v)
		}
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return args, nil
}

// Runner executes a measure query.
type Runner interface {
	Run(ctx context.Context, sql string, args []interface{}) (Table, error)
}

type pgRunner struct {
	pool *pgxpool.Pool
}

// NewPGRunner runs measures on pool.
func NewPGRunner(pool *pgxpool.Pool) Runner {
	return &pgRunner{pool: pool}
}

func (r *pgRunner) Run(ctx context.Context, sql string, args []interface{}) (Table, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return Table{}, err
	}
	defer rows.Close()

	var t Table
	for _, fd := range rows.FieldDescriptions() {
		t.Columns = append(t.Columns, fd.Name)
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return Table{}, err
		}
		t.Rows = append(t.Rows, values)
	}
	return t, rows.Err()
}
