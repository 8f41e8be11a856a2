package laboratory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	// Search matches query case-insensitively against first name, last
	// name and business key, newest first. An empty query lists all.
	Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error)
}

type SampleRepository interface {
	Create(ctx context.Context, s *Sample) error
	GetByID(ctx context.Context, id uuid.UUID) (*Sample, error)
	GetBySampleID(ctx context.Context, sampleID string) (*Sample, error)
	// Update writes s only if the stored version is still expectedVersion,
	// then bumps s.Version. A stale version is a Conflict.
	Update(ctx context.Context, s *Sample, expectedVersion int) error
	List(ctx context.Context, filter SampleFilter, limit, offset int) ([]*Sample, int, error)
	AddHistory(ctx context.Context, change *SampleStatusChange) error
	History(ctx context.Context, sampleID uuid.UUID) ([]*SampleStatusChange, error)
}

type TestTypeRepository interface {
	Create(ctx context.Context, tt *TestType) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestType, error)
	Update(ctx context.Context, tt *TestType) error
	ListActive(ctx context.Context) ([]*TestType, error)
}

type TestRequestRepository interface {
	Create(ctx context.Context, tr *TestRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error)
	Update(ctx context.Context, tr *TestRequest) error
	List(ctx context.Context, filter TestRequestFilter, limit, offset int) ([]*TestRequest, int, error)
}

type TestResultRepository interface {
	Create(ctx context.Context, r *TestResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestResult, error)
	// MarkVerified stamps verification unless the result is already
	// verified, in which case it returns a Conflict.
	MarkVerified(ctx context.Context, r *TestResult) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*TestResult, error)
}

type QualityControlRepository interface {
	Create(ctx context.Context, qc *QualityControl) error
	List(ctx context.Context, testTypeID *uuid.UUID, limit, offset int) ([]*QualityControl, int, error)
}

type StatsRepository interface {
	CountSamplesReceivedSince(ctx context.Context, since time.Time) (int, error)
	CountTestRequests(ctx context.Context, status TestStatus) (int, error)
	CountActiveUsers(ctx context.Context) (int, error)
}

// Repositories bundles the stores the service depends on.
type Repositories struct {
	Patients        PatientRepository
	Samples         SampleRepository
	TestTypes       TestTypeRepository
	TestRequests    TestRequestRepository
	TestResults     TestResultRepository
	QualityControls QualityControlRepository
	Stats           StatsRepository
}
