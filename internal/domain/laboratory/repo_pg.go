package laboratory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/db"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

var patientConstraints = db.ConstraintFields{
	"patients_patient_id_key": "patientId",
}

var sampleConstraints = db.ConstraintFields{
	"samples_sample_id_key":     "sampleId",
	"samples_barcode_key":       "barcode",
	"samples_patient_id_fkey":   "patientId",
	"samples_collected_by_fkey": "collectedBy",
}

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `p.id, p.patient_id, p.first_name, p.last_name, to_char(p.date_of_birth, 'YYYY-MM-DD'),
	p.gender, p.phone, p.email, p.address, p.emergency_contact, p.insurance_number,
	p.medical_history, p.allergies, p.current_medications, p.is_fasting, p.is_pregnant,
	p.created_at, p.updated_at`

func scanPatient(row rowScanner) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.PatientID, &p.FirstName, &p.LastName, &p.DateOfBirth,
		&p.Gender, &p.Phone, &p.Email, &p.Address, &p.EmergencyContact, &p.InsuranceNumber,
		&p.MedicalHistory, &p.Allergies, &p.CurrentMedications, &p.IsFasting, &p.IsPregnant,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (
			patient_id, first_name, last_name, date_of_birth, gender,
			phone, email, address, emergency_contact, insurance_number,
			medical_history, allergies, current_medications, is_fasting, is_pregnant
		) VALUES ($1, $2, $3, $4::date, $5::gender, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`,
		p.PatientID, p.FirstName, p.LastName, p.DateOfBirth, string(p.Gender),
		p.Phone, p.Email, p.Address, p.EmergencyContact, p.InsuranceNumber,
		p.MedicalHistory, p.Allergies, p.CurrentMedications, p.IsFasting, p.IsPregnant,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return db.Classify(err, "patient", patientConstraints)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patients p WHERE p.id = $1`, id))
	return p, db.Classify(err, "patient", nil)
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patients SET
			first_name = $2, last_name = $3, date_of_birth = $4::date, gender = $5::gender,
			phone = $6, email = $7, address = $8, emergency_contact = $9, insurance_number = $10,
			medical_history = $11, allergies = $12, current_medications = $13,
			is_fasting = $14, is_pregnant = $15, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, string(p.Gender),
		p.Phone, p.Email, p.Address, p.EmergencyContact, p.InsuranceNumber,
		p.MedicalHistory, p.Allergies, p.CurrentMedications, p.IsFasting, p.IsPregnant,
	).Scan(&p.UpdatedAt)
	return db.Classify(err, "patient", patientConstraints)
}

func (r *patientRepoPG) Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	conn := db.Conn(ctx, r.pool)
	where := ""
	var args []interface{}
	if q := strings.TrimSpace(query); q != "" {
		where = ` WHERE p.first_name ILIKE $1 OR p.last_name ILIKE $1 OR p.patient_id ILIKE $1`
		args = append(args, "%"+escapeLike(q)+"%")
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patients p`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "patient", nil)
	}

	n := len(args)
	rows, err := conn.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM patients p%s ORDER BY p.created_at DESC, p.id DESC LIMIT $%d OFFSET $%d`,
			patientCols, where, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.Classify(err, "patient", nil)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, db.Classify(err, "patient", nil)
		}
		out = append(out, p)
	}
	return out, total, db.Classify(rows.Err(), "patient", nil)
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// -- Sample Repository --

type sampleRepoPG struct {
	pool *pgxpool.Pool
}

func NewSampleRepoPG(pool *pgxpool.Pool) SampleRepository {
	return &sampleRepoPG{pool: pool}
}

const sampleCols = `s.id, s.sample_id, s.barcode, s.patient_id, s.collected_by, s.sample_type,
	s.container_type, s.volume, s.status, s.priority, s.collection_date_time, s.received_date_time,
	s.storage_location, s.notes, s.rejection_reason, s.version, s.created_at, s.updated_at`

const sampleJoin = `SELECT ` + sampleCols + `, ` + patientCols + `
	FROM samples s JOIN patients p ON p.id = s.patient_id`

func scanSampleWithPatient(row rowScanner) (*Sample, error) {
	var s Sample
	var p Patient
	err := row.Scan(&s.ID, &s.SampleID, &s.Barcode, &s.PatientID, &s.CollectedBy, &s.SampleType,
		&s.ContainerType, &s.Volume, &s.Status, &s.Priority, &s.CollectionDateTime, &s.ReceivedDateTime,
		&s.StorageLocation, &s.Notes, &s.RejectionReason, &s.Version, &s.CreatedAt, &s.UpdatedAt,
		&p.ID, &p.PatientID, &p.FirstName, &p.LastName, &p.DateOfBirth,
		&p.Gender, &p.Phone, &p.Email, &p.Address, &p.EmergencyContact, &p.InsuranceNumber,
		&p.MedicalHistory, &p.Allergies, &p.CurrentMedications, &p.IsFasting, &p.IsPregnant,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Patient = &p
	return &s, nil
}

func (r *sampleRepoPG) Create(ctx context.Context, s *Sample) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO samples (
			sample_id, barcode, patient_id, collected_by, sample_type, container_type, volume,
			status, priority, collection_date_time, received_date_time, storage_location, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::sample_status, $9::priority, $10, $11, $12, $13)
		RETURNING id, version, created_at, updated_at`,
		s.SampleID, s.Barcode, s.PatientID, s.CollectedBy, s.SampleType, s.ContainerType, s.Volume,
		string(s.Status), string(s.Priority), s.CollectionDateTime, s.ReceivedDateTime, s.StorageLocation, s.Notes,
	).Scan(&s.ID, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	return db.Classify(err, "sample", sampleConstraints)
}

func (r *sampleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Sample, error) {
	s, err := scanSampleWithPatient(db.Conn(ctx, r.pool).QueryRow(ctx, sampleJoin+` WHERE s.id = $1`, id))
	return s, db.Classify(err, "sample", nil)
}

func (r *sampleRepoPG) GetBySampleID(ctx context.Context, sampleID string) (*Sample, error) {
	s, err := scanSampleWithPatient(db.Conn(ctx, r.pool).QueryRow(ctx, sampleJoin+` WHERE s.sample_id = $1`, sampleID))
	return s, db.Classify(err, "sample", nil)
}

func (r *sampleRepoPG) Update(ctx context.Context, s *Sample, expectedVersion int) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE samples SET
			barcode = $3, sample_type = $4, container_type = $5, volume = $6,
			status = $7::sample_status, priority = $8::priority,
			collection_date_time = $9, received_date_time = $10,
			storage_location = $11, notes = $12, rejection_reason = $13,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		s.ID, expectedVersion, s.Barcode, s.SampleType, s.ContainerType, s.Volume,
		string(s.Status), string(s.Priority), s.CollectionDateTime, s.ReceivedDateTime,
		s.StorageLocation, s.Notes, s.RejectionReason,
	).Scan(&s.Version, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errStaleSample
	}
	return db.Classify(err, "sample", sampleConstraints)
}

func (r *sampleRepoPG) List(ctx context.Context, filter SampleFilter, limit, offset int) ([]*Sample, int, error) {
	conn := db.Conn(ctx, r.pool)

	var clauses []string
	var args []interface{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("s.status = $%d::sample_status", len(args)))
	}
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		clauses = append(clauses, fmt.Sprintf("s.patient_id = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM samples s`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "sample", nil)
	}

	n := len(args)
	rows, err := conn.Query(ctx,
		fmt.Sprintf(`%s%s ORDER BY s.created_at DESC, s.id DESC LIMIT $%d OFFSET $%d`, sampleJoin, where, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.Classify(err, "sample", nil)
	}
	defer rows.Close()

	var out []*Sample
	for rows.Next() {
		s, err := scanSampleWithPatient(rows)
		if err != nil {
			return nil, 0, db.Classify(err, "sample", nil)
		}
		out = append(out, s)
	}
	return out, total, db.Classify(rows.Err(), "sample", nil)
}

func (r *sampleRepoPG) AddHistory(ctx context.Context, c *SampleStatusChange) error {
	var from *string
	if c.FromStatus != nil {
		s := string(*c.FromStatus)
		from = &s
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO sample_status_history (sample_id, from_status, to_status, changed_by, reason)
		VALUES ($1, $2::sample_status, $3::sample_status, $4, $5)
		RETURNING id, changed_at`,
		c.SampleID, from, string(c.ToStatus), c.ChangedBy, c.Reason,
	).Scan(&c.ID, &c.ChangedAt)
	return db.Classify(err, "sample status change", nil)
}

func (r *sampleRepoPG) History(ctx context.Context, sampleID uuid.UUID) ([]*SampleStatusChange, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, sample_id, from_status, to_status, changed_by, reason, changed_at
		FROM sample_status_history WHERE sample_id = $1 ORDER BY changed_at, id`, sampleID)
	if err != nil {
		return nil, db.Classify(err, "sample status change", nil)
	}
	defer rows.Close()

	var out []*SampleStatusChange
	for rows.Next() {
		var c SampleStatusChange
		if err := rows.Scan(&c.ID, &c.SampleID, &c.FromStatus, &c.ToStatus, &c.ChangedBy, &c.Reason, &c.ChangedAt); err != nil {
			return nil, db.Classify(err, "sample status change", nil)
		}
		out = append(out, &c)
	}
	return out, db.Classify(rows.Err(), "sample status change", nil)
}

// errStaleSample is returned when an update lost an optimistic version race.
var errStaleSample = apperror.Conflict("sample was modified by another request; reload and retry")

// -- Stats Repository --

type statsRepoPG struct {
	pool *pgxpool.Pool
}

func NewStatsRepoPG(pool *pgxpool.Pool) StatsRepository {
	return &statsRepoPG{pool: pool}
}

func (r *statsRepoPG) count(ctx context.Context, sql string, args ...interface{}) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, sql, args...).Scan(&n)
	return n, db.Classify(err, "statistic", nil)
}

func (r *statsRepoPG) CountSamplesReceivedSince(ctx context.Context, since time.Time) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM samples WHERE received_date_time >= $1`, since)
}

func (r *statsRepoPG) CountTestRequests(ctx context.Context, status TestStatus) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM test_requests WHERE status = $1::test_status`, string(status))
}

func (r *statsRepoPG) CountActiveUsers(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM users WHERE is_active`)
}
