package laboratory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/db"
)

var testTypeConstraints = db.ConstraintFields{
	"test_types_code_key":    "code",
	"test_types_price_check": "price",
}

var testRequestConstraints = db.ConstraintFields{
	"test_requests_sample_id_fkey":    "sampleId",
	"test_requests_test_type_id_fkey": "testTypeId",
	"test_requests_assigned_to_fkey":  "assignedTo",
}

// -- Test Type Repository --

type testTypeRepoPG struct {
	pool *pgxpool.Pool
}

func NewTestTypeRepoPG(pool *pgxpool.Pool) TestTypeRepository {
	return &testTypeRepoPG{pool: pool}
}

const testTypeCols = `id, code, name, category, sample_type, unit, reference_min, reference_max,
	reference_text, price::float8, turnaround_hours, is_active, created_at, updated_at`

func scanTestType(row rowScanner) (*TestType, error) {
	var t TestType
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Category, &t.SampleType, &t.Unit, &t.ReferenceMin, &t.ReferenceMax,
		&t.ReferenceText, &t.Price, &t.TurnaroundHours, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *testTypeRepoPG) Create(ctx context.Context, t *TestType) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO test_types (
			code, name, category, sample_type, unit, reference_min, reference_max,
			reference_text, price, turnaround_hours, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`,
		t.Code, t.Name, t.Category, t.SampleType, t.Unit, t.ReferenceMin, t.ReferenceMax,
		t.ReferenceText, t.Price, t.TurnaroundHours, t.IsActive,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	return db.Classify(err, "test type", testTypeConstraints)
}

func (r *testTypeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestType, error) {
	t, err := scanTestType(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+testTypeCols+` FROM test_types WHERE id = $1`, id))
	return t, db.Classify(err, "test type", nil)
}

func (r *testTypeRepoPG) Update(ctx context.Context, t *TestType) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE test_types SET
			name = $2, category = $3, sample_type = $4, unit = $5, reference_min = $6,
			reference_max = $7, reference_text = $8, price = $9, turnaround_hours = $10,
			is_active = $11, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.Name, t.Category, t.SampleType, t.Unit, t.ReferenceMin,
		t.ReferenceMax, t.ReferenceText, t.Price, t.TurnaroundHours, t.IsActive,
	).Scan(&t.UpdatedAt)
	return db.Classify(err, "test type", testTypeConstraints)
}

func (r *testTypeRepoPG) ListActive(ctx context.Context) ([]*TestType, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+testTypeCols+` FROM test_types WHERE is_active ORDER BY category, name`)
	if err != nil {
		return nil, db.Classify(err, "test type", nil)
	}
	defer rows.Close()

	var out []*TestType
	for rows.Next() {
		t, err := scanTestType(rows)
		if err != nil {
			return nil, db.Classify(err, "test type", nil)
		}
		out = append(out, t)
	}
	return out, db.Classify(rows.Err(), "test type", nil)
}

// -- Test Request Repository --

type testRequestRepoPG struct {
	pool *pgxpool.Pool
}

func NewTestRequestRepoPG(pool *pgxpool.Pool) TestRequestRepository {
	return &testRequestRepoPG{pool: pool}
}

const testRequestCols = `id, sample_id, test_type_id, status, priority, requested_by, assigned_to, notes,
	requested_at, started_at, completed_at, created_at, updated_at`

func scanTestRequest(row rowScanner) (*TestRequest, error) {
	var t TestRequest
	err := row.Scan(&t.ID, &t.SampleID, &t.TestTypeID, &t.Status, &t.Priority, &t.RequestedBy, &t.AssignedTo, &t.Notes,
		&t.RequestedAt, &t.StartedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *testRequestRepoPG) Create(ctx context.Context, t *TestRequest) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO test_requests (sample_id, test_type_id, status, priority, requested_by, assigned_to, notes)
		VALUES ($1, $2, $3::test_status, $4::priority, $5, $6, $7)
		RETURNING id, requested_at, created_at, updated_at`,
		t.SampleID, t.TestTypeID, string(t.Status), string(t.Priority), t.RequestedBy, t.AssignedTo, t.Notes,
	).Scan(&t.ID, &t.RequestedAt, &t.CreatedAt, &t.UpdatedAt)
	return db.Classify(err, "test request", testRequestConstraints)
}

func (r *testRequestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	t, err := scanTestRequest(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+testRequestCols+` FROM test_requests WHERE id = $1`, id))
	return t, db.Classify(err, "test request", nil)
}

func (r *testRequestRepoPG) Update(ctx context.Context, t *TestRequest) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE test_requests SET
			status = $2::test_status, priority = $3::priority, assigned_to = $4, notes = $5,
			started_at = $6, completed_at = $7, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, string(t.Status), string(t.Priority), t.AssignedTo, t.Notes, t.StartedAt, t.CompletedAt,
	).Scan(&t.UpdatedAt)
	return db.Classify(err, "test request", testRequestConstraints)
}

func (r *testRequestRepoPG) List(ctx context.Context, filter TestRequestFilter, limit, offset int) ([]*TestRequest, int, error) {
	conn := db.Conn(ctx, r.pool)

	var clauses []string
	var args []interface{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d::test_status", len(args)))
	}
	if filter.SampleID != nil {
		args = append(args, *filter.SampleID)
		clauses = append(clauses, fmt.Sprintf("sample_id = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM test_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "test request", nil)
	}

	n := len(args)
	rows, err := conn.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM test_requests%s ORDER BY requested_at DESC, id DESC LIMIT $%d OFFSET $%d`,
			testRequestCols, where, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.Classify(err, "test request", nil)
	}
	defer rows.Close()

	var out []*TestRequest
	for rows.Next() {
		t, err := scanTestRequest(rows)
		if err != nil {
			return nil, 0, db.Classify(err, "test request", nil)
		}
		out = append(out, t)
	}
	return out, total, db.Classify(rows.Err(), "test request", nil)
}

// -- Test Result Repository --

type testResultRepoPG struct {
	pool *pgxpool.Pool
}

func NewTestResultRepoPG(pool *pgxpool.Pool) TestResultRepository {
	return &testResultRepoPG{pool: pool}
}

const testResultCols = `id, test_request_id, parameter_name, value, unit, reference_range, flag, comments,
	entered_by, entered_at, verified_by, verified_at, created_at`

func scanTestResult(row rowScanner) (*TestResult, error) {
	var t TestResult
	err := row.Scan(&t.ID, &t.TestRequestID, &t.ParameterName, &t.Value, &t.Unit, &t.ReferenceRange, &t.Flag, &t.Comments,
		&t.EnteredBy, &t.EnteredAt, &t.VerifiedBy, &t.VerifiedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *testResultRepoPG) Create(ctx context.Context, t *TestResult) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO test_results (test_request_id, parameter_name, value, unit, reference_range, flag, comments, entered_by)
		VALUES ($1, $2, $3, $4, $5, $6::result_flag, $7, $8)
		RETURNING id, entered_at, created_at`,
		t.TestRequestID, t.ParameterName, t.Value, t.Unit, t.ReferenceRange, string(t.Flag), t.Comments, t.EnteredBy,
	).Scan(&t.ID, &t.EnteredAt, &t.CreatedAt)
	return db.Classify(err, "test result", db.ConstraintFields{"test_results_test_request_id_fkey": "testRequestId"})
}

func (r *testResultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestResult, error) {
	t, err := scanTestResult(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+testResultCols+` FROM test_results WHERE id = $1`, id))
	return t, db.Classify(err, "test result", nil)
}

func (r *testResultRepoPG) MarkVerified(ctx context.Context, t *TestResult) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE test_results SET verified_by = $2, verified_at = now()
		WHERE id = $1 AND verified_at IS NULL
		RETURNING verified_at`,
		t.ID, t.VerifiedBy,
	).Scan(&t.VerifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.Conflict("test result is already verified")
	}
	return db.Classify(err, "test result", nil)
}

func (r *testResultRepoPG) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*TestResult, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+testResultCols+` FROM test_results WHERE test_request_id = $1 ORDER BY entered_at, id`, requestID)
	if err != nil {
		return nil, db.Classify(err, "test result", nil)
	}
	defer rows.Close()

	var out []*TestResult
	for rows.Next() {
		t, err := scanTestResult(rows)
		if err != nil {
			return nil, db.Classify(err, "test result", nil)
		}
		out = append(out, t)
	}
	return out, db.Classify(rows.Err(), "test result", nil)
}

// -- Quality Control Repository --

type qcRepoPG struct {
	pool *pgxpool.Pool
}

func NewQualityControlRepoPG(pool *pgxpool.Pool) QualityControlRepository {
	return &qcRepoPG{pool: pool}
}

const qcCols = `id, test_type_id, control_level, lot_number, expected_value, actual_value, tolerance,
	passed, notes, run_by, run_at`

func (r *qcRepoPG) Create(ctx context.Context, q *QualityControl) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO quality_controls (
			test_type_id, control_level, lot_number, expected_value, actual_value, tolerance, passed, notes, run_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, run_at`,
		q.TestTypeID, q.ControlLevel, q.LotNumber, q.ExpectedValue, q.ActualValue, q.Tolerance, q.Passed, q.Notes, q.RunBy,
	).Scan(&q.ID, &q.RunAt)
	return db.Classify(err, "quality control", db.ConstraintFields{
		"quality_controls_test_type_id_fkey": "testTypeId",
		"quality_controls_tolerance_check":   "tolerance",
	})
}

func (r *qcRepoPG) List(ctx context.Context, testTypeID *uuid.UUID, limit, offset int) ([]*QualityControl, int, error) {
	conn := db.Conn(ctx, r.pool)
	where := ""
	var args []interface{}
	if testTypeID != nil {
		where = " WHERE test_type_id = $1"
		args = append(args, *testTypeID)
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM quality_controls`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "quality control", nil)
	}

	n := len(args)
	rows, err := conn.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM quality_controls%s ORDER BY run_at DESC, id DESC LIMIT $%d OFFSET $%d`, qcCols, where, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.Classify(err, "quality control", nil)
	}
	defer rows.Close()

	var out []*QualityControl
	for rows.Next() {
		var q QualityControl
		if err := rows.Scan(&q.ID, &q.TestTypeID, &q.ControlLevel, &q.LotNumber, &q.ExpectedValue, &q.ActualValue,
			&q.Tolerance, &q.Passed, &q.Notes, &q.RunBy, &q.RunAt); err != nil {
			return nil, 0, db.Classify(err, "quality control", nil)
		}
		out = append(out, &q)
	}
	return out, total, db.Classify(rows.Err(), "quality control", nil)
}
