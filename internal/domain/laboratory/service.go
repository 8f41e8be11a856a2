// Package laboratory is the sample lifecycle service: patients, samples,
// test orders, results and quality control. It is the only place where
// business-key uniqueness and status rules are enforced, and it announces
// patient and sample mutations on the event hub.
package laboratory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/db"
	"github.com/abdobody2040/medilablis2/internal/platform/reporting"
	"github.com/abdobody2040/medilablis2/internal/platform/websocket"
	"github.com/abdobody2040/medilablis2/pkg/pagination"
)

// Options tunes service behaviour.
type Options struct {
	Transitions TransitionMode
	Logger      zerolog.Logger
}

type Service struct {
	patients  PatientRepository
	samples   SampleRepository
	testTypes TestTypeRepository
	requests  TestRequestRepository
	results   TestResultRepository
	qc        QualityControlRepository
	stats     StatsRepository

	tx          db.TxRunner
	events      websocket.EventPublisher
	transitions TransitionMode
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(repos Repositories, tx db.TxRunner, events websocket.EventPublisher, opts Options) *Service {
	mode := opts.Transitions
	if mode != TransitionsPermissive {
		mode = TransitionsStrict
	}
	return &Service{
		patients:    repos.Patients,
		samples:     repos.Samples,
		testTypes:   repos.TestTypes,
		requests:    repos.TestRequests,
		results:     repos.TestResults,
		qc:          repos.QualityControls,
		stats:       repos.Stats,
		tx:          tx,
		events:      events,
		transitions: mode,
		logger:      opts.Logger.With().Str("component", "laboratory").Logger(),
		now:         time.Now,
	}
}

// fail logs internal causes and returns err unchanged, so callers see a
// typed error and the cause stays in the log.
func (s *Service) fail(op string, err error) error {
	if err != nil && apperror.KindOf(err) == apperror.KindInternal {
		s.logger.Error().Err(err).Str("op", op).Msg("operation failed")
	}
	return err
}

func (s *Service) publish(ctx context.Context, typ websocket.EventType, data interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, websocket.Event{Type: typ, Data: data})
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, in PatientInput) (*Patient, error) {
	in.normalize()
	if err := in.Validate(s.now()); err != nil {
		return nil, err
	}
	p := in.toPatient()
	if err := s.patients.Create(ctx, p); err != nil {
		return nil, s.fail("create patient", err)
	}
	s.publish(ctx, websocket.EventPatientRegistered, p)
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	return p, s.fail("get patient", err)
}

func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, patch PatientPatch) (*Patient, error) {
	var out *Patient
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := patch.apply(p, s.now()); err != nil {
			return err
		}
		if err := s.patients.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, s.fail("update patient", err)
	}
	return out, nil
}

// SearchPatients matches query against names and patient id, newest first.
func (s *Service) SearchPatients(ctx context.Context, query string, p pagination.Params) ([]*Patient, int, error) {
	out, total, err := s.patients.Search(ctx, query, p.Limit, p.Offset)
	return out, total, s.fail("search patients", err)
}

// RecentPatients returns the most recently registered patients.
func (s *Service) RecentPatients(ctx context.Context, limit int) ([]*Patient, error) {
	out, _, err := s.patients.Search(ctx, "", pagination.New(1, limit).Limit, 0)
	return out, s.fail("recent patients", err)
}

// -- Samples --

// CreateSample records a collected sample. The patient must exist; status
// defaults to received and receivedDateTime to now.
func (s *Service) CreateSample(ctx context.Context, in SampleInput, actor *uuid.UUID) (*Sample, error) {
	if err := in.Validate(s.transitions); err != nil {
		return nil, err
	}

	now := s.now()
	sample := &Sample{
		SampleID:           in.SampleID,
		Barcode:            in.Barcode,
		PatientID:          in.PatientID,
		CollectedBy:        in.CollectedBy,
		SampleType:         in.SampleType,
		ContainerType:      in.ContainerType,
		Volume:             in.Volume,
		Status:             in.Status,
		Priority:           in.Priority,
		CollectionDateTime: *in.CollectionDateTime,
		StorageLocation:    in.StorageLocation,
		Notes:              in.Notes,
	}
	if sample.Status == "" {
		sample.Status = SampleReceived
	}
	if sample.Priority == "" {
		sample.Priority = PriorityRoutine
	}
	if in.ReceivedDateTime != nil && !in.ReceivedDateTime.IsZero() {
		sample.ReceivedDateTime = *in.ReceivedDateTime
	} else {
		sample.ReceivedDateTime = now
	}
	if sample.CollectedBy == nil {
		sample.CollectedBy = actor
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		patient, err := s.patients.GetByID(ctx, sample.PatientID)
		if apperror.Is(err, apperror.KindNotFound) {
			return apperror.Invalid("patientId", "references a patient that does not exist")
		}
		if err != nil {
			return err
		}
		if err := s.samples.Create(ctx, sample); err != nil {
			return err
		}
		sample.Patient = patient
		return s.samples.AddHistory(ctx, &SampleStatusChange{
			SampleID:  sample.ID,
			ToStatus:  sample.Status,
			ChangedBy: actor,
		})
	})
	if err != nil {
		return nil, s.fail("create sample", err)
	}

	s.publish(ctx, websocket.EventSampleCreated, sample)
	return sample, nil
}

func (s *Service) GetSample(ctx context.Context, id uuid.UUID) (*Sample, error) {
	sample, err := s.samples.GetByID(ctx, id)
	return sample, s.fail("get sample", err)
}

func (s *Service) GetSampleBySampleID(ctx context.Context, sampleID string) (*Sample, error) {
	sample, err := s.samples.GetBySampleID(ctx, sampleID)
	return sample, s.fail("get sample by sample id", err)
}

// UpdateSample applies a partial update. Fields absent from patch keep
// their stored values. The write is guarded by the sample version, either
// the one supplied in patch or the one just read.
func (s *Service) UpdateSample(ctx context.Context, id uuid.UUID, patch SamplePatch, actor *uuid.UUID) (*Sample, error) {
	var out *Sample
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		sample, err := s.samples.GetByID(ctx, id)
		if err != nil {
			return err
		}
		expected := sample.Version
		if patch.Version != nil && *patch.Version != expected {
			return errStaleSample
		}

		from := sample.Status
		if err := patch.apply(sample, s.transitions); err != nil {
			return err
		}
		if err := s.samples.Update(ctx, sample, expected); err != nil {
			return err
		}
		if sample.Status != from {
			change := &SampleStatusChange{
				SampleID:   sample.ID,
				FromStatus: &from,
				ToStatus:   sample.Status,
				ChangedBy:  actor,
			}
			if sample.Status == SampleRejected {
				change.Reason = sample.RejectionReason
			}
			if err := s.samples.AddHistory(ctx, change); err != nil {
				return err
			}
		}
		out = sample
		return nil
	})
	if err != nil {
		return nil, s.fail("update sample", err)
	}

	s.publish(ctx, websocket.EventSampleUpdated, out)
	return out, nil
}

// ParseSampleStatus validates a status filter value.
func ParseSampleStatus(raw string) (SampleStatus, error) {
	st := SampleStatus(raw)
	if !st.Valid() {
		return "", apperror.Invalid("status", "must be one of received, in_progress, completed, rejected, cancelled")
	}
	return st, nil
}

// GetSamplesByStatus lists samples in one status, newest first.
func (s *Service) GetSamplesByStatus(ctx context.Context, status string, p pagination.Params) ([]*Sample, int, error) {
	st, err := ParseSampleStatus(status)
	if err != nil {
		return nil, 0, err
	}
	return s.ListSamples(ctx, SampleFilter{Status: st}, p)
}

// ListSamples lists samples joined with their patient, newest first.
func (s *Service) ListSamples(ctx context.Context, filter SampleFilter, p pagination.Params) ([]*Sample, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, apperror.Invalid("status", "must be one of received, in_progress, completed, rejected, cancelled")
	}
	out, total, err := s.samples.List(ctx, filter, p.Limit, p.Offset)
	return out, total, s.fail("list samples", err)
}

// RecentSamples returns the newest samples for the dashboard.
func (s *Service) RecentSamples(ctx context.Context, limit int) ([]*Sample, error) {
	out, _, err := s.samples.List(ctx, SampleFilter{}, pagination.New(1, limit).Limit, 0)
	return out, s.fail("recent samples", err)
}

// exportPageSize bounds each read while paging through samples for export.
const exportPageSize = 500

var sampleExportHeaders = []string{
	"Sample ID", "Barcode", "Patient ID", "Patient Name", "Sample Type", "Status",
	"Priority", "Collected", "Received", "Storage Location", "Rejection Reason",
}

// ExportSamples renders every sample matching filter as an XLSX workbook.
func (s *Service) ExportSamples(ctx context.Context, filter SampleFilter) ([]byte, string, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, "", apperror.Invalid("status", "must be one of received, in_progress, completed, rejected, cancelled")
	}

	var rows [][]interface{}
	for offset := 0; ; offset += exportPageSize {
		page, total, err := s.samples.List(ctx, filter, exportPageSize, offset)
		if err != nil {
			return nil, "", s.fail("export samples", err)
		}
		for _, sm := range page {
			rows = append(rows, sampleExportRow(sm))
		}
		if len(page) == 0 || offset+len(page) >= total {
			break
		}
	}

	data, err := reporting.WriteXLSX("Samples", sampleExportHeaders, rows)
	if err != nil {
		return nil, "", s.fail("export samples", apperror.Internal(err))
	}
	name := "samples"
	if filter.Status != "" {
		name += "-" + string(filter.Status)
	}
	return data, name + "-" + s.now().Format("20060102") + ".xlsx", nil
}

func sampleExportRow(sm *Sample) []interface{} {
	var patientKey, patientName string
	if sm.Patient != nil {
		patientKey = sm.Patient.PatientID
		patientName = sm.Patient.FirstName + " " + sm.Patient.LastName
	}
	return []interface{}{
		sm.SampleID, sm.Barcode, patientKey, patientName, sm.SampleType, string(sm.Status),
		string(sm.Priority), sm.CollectionDateTime, sm.ReceivedDateTime, sm.StorageLocation, sm.RejectionReason,
	}
}

func (s *Service) SampleHistory(ctx context.Context, id uuid.UUID) ([]*SampleStatusChange, error) {
	if _, err := s.samples.GetByID(ctx, id); err != nil {
		return nil, s.fail("sample history", err)
	}
	out, err := s.samples.History(ctx, id)
	return out, s.fail("sample history", err)
}

// -- Test catalog --

func (s *Service) ListActiveTestTypes(ctx context.Context) ([]*TestType, error) {
	out, err := s.testTypes.ListActive(ctx)
	return out, s.fail("list test types", err)
}

func (s *Service) CreateTestType(ctx context.Context, in TestTypeInput) (*TestType, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	tt := in.toTestType()
	if err := s.testTypes.Create(ctx, tt); err != nil {
		return nil, s.fail("create test type", err)
	}
	return tt, nil
}

func (s *Service) UpdateTestType(ctx context.Context, id uuid.UUID, patch TestTypePatch) (*TestType, error) {
	var out *TestType
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		tt, err := s.testTypes.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := patch.apply(tt); err != nil {
			return err
		}
		if err := s.testTypes.Update(ctx, tt); err != nil {
			return err
		}
		out = tt
		return nil
	})
	if err != nil {
		return nil, s.fail("update test type", err)
	}
	return out, nil
}

// -- Test requests --

// CreateTestRequest orders an active test type on an existing sample.
func (s *Service) CreateTestRequest(ctx context.Context, in TestRequestInput, actor *uuid.UUID) (*TestRequest, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	tr := &TestRequest{
		SampleID:    in.SampleID,
		TestTypeID:  in.TestTypeID,
		Status:      TestPending,
		Priority:    in.Priority,
		RequestedBy: actor,
		AssignedTo:  in.AssignedTo,
		Notes:       in.Notes,
	}
	if tr.Priority == "" {
		tr.Priority = PriorityRoutine
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var errs apperror.FieldErrors
		sample, err := s.samples.GetByID(ctx, in.SampleID)
		switch {
		case apperror.Is(err, apperror.KindNotFound):
			errs.Add("sampleId", "references a sample that does not exist")
		case err != nil:
			return err
		case sample.Status == SampleRejected || sample.Status == SampleCancelled:
			errs.Add("sampleId", "cannot order tests on a "+string(sample.Status)+" sample")
		}
		tt, err := s.testTypes.GetByID(ctx, in.TestTypeID)
		switch {
		case apperror.Is(err, apperror.KindNotFound):
			errs.Add("testTypeId", "references a test type that does not exist")
		case err != nil:
			return err
		case !tt.IsActive:
			errs.Add("testTypeId", "test type is not active")
		}
		if err := errs.Err(); err != nil {
			return err
		}
		return s.requests.Create(ctx, tr)
	})
	if err != nil {
		return nil, s.fail("create test request", err)
	}
	return tr, nil
}

func (s *Service) GetTestRequest(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	tr, err := s.requests.GetByID(ctx, id)
	return tr, s.fail("get test request", err)
}

func (s *Service) ListTestRequests(ctx context.Context, filter TestRequestFilter, p pagination.Params) ([]*TestRequest, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, apperror.Invalid("status", "must be one of pending, in_progress, completed, failed, cancelled")
	}
	out, total, err := s.requests.List(ctx, filter, p.Limit, p.Offset)
	return out, total, s.fail("list test requests", err)
}

// UpdateTestRequestStatus moves a request through its workflow and stamps
// start and completion times.
func (s *Service) UpdateTestRequestStatus(ctx context.Context, id uuid.UUID, upd TestRequestStatusUpdate) (*TestRequest, error) {
	if !upd.Status.Valid() {
		return nil, apperror.Invalid("status", "must be one of pending, in_progress, completed, failed, cancelled")
	}

	var out *TestRequest
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		tr, err := s.requests.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if tr.Status != upd.Status && !CanTransitionTest(tr.Status, upd.Status) {
			return apperror.Invalid("status", "cannot move a "+string(tr.Status)+" test request to "+string(upd.Status))
		}

		now := s.now()
		switch upd.Status {
		case TestInProgress:
			if tr.StartedAt == nil {
				tr.StartedAt = &now
			}
		case TestCompleted:
			tr.CompletedAt = &now
		case TestPending:
			tr.StartedAt = nil
			tr.CompletedAt = nil
		}
		tr.Status = upd.Status
		if upd.AssignedTo != nil {
			tr.AssignedTo = upd.AssignedTo
		}
		if err := s.requests.Update(ctx, tr); err != nil {
			return err
		}
		out = tr
		return nil
	})
	if err != nil {
		return nil, s.fail("update test request", err)
	}
	return out, nil
}

// -- Test results --

// CreateTestResult records a result. Unit and reference range default from
// the test type; a missing flag is computed from the numeric range.
func (s *Service) CreateTestResult(ctx context.Context, in TestResultInput, actor *uuid.UUID) (*TestResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var out *TestResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		tr, err := s.requests.GetByID(ctx, in.TestRequestID)
		if apperror.Is(err, apperror.KindNotFound) {
			return apperror.Invalid("testRequestId", "references a test request that does not exist")
		}
		if err != nil {
			return err
		}
		if tr.Status == TestCancelled {
			return apperror.Invalid("testRequestId", "cannot record results on a cancelled test request")
		}
		tt, err := s.testTypes.GetByID(ctx, tr.TestTypeID)
		if err != nil {
			return err
		}

		res := &TestResult{
			TestRequestID:  tr.ID,
			ParameterName:  in.ParameterName,
			Value:          in.Value,
			Unit:           in.Unit,
			ReferenceRange: in.ReferenceRange,
			Flag:           in.Flag,
			Comments:       in.Comments,
			EnteredBy:      actor,
		}
		if res.ParameterName == "" {
			res.ParameterName = tt.Name
		}
		if res.Unit == nil {
			res.Unit = tt.Unit
		}
		if res.ReferenceRange == nil {
			res.ReferenceRange = formatRange(tt.ReferenceMin, tt.ReferenceMax, tt.ReferenceText)
		}
		if res.Flag == "" {
			res.Flag = ComputeFlag(res.Value, tt.ReferenceMin, tt.ReferenceMax)
		}
		if err := s.results.Create(ctx, res); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, s.fail("create test result", err)
	}
	return out, nil
}

// VerifyTestResult stamps the verifier. Verifying twice is a Conflict.
func (s *Service) VerifyTestResult(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*TestResult, error) {
	res, err := s.results.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail("verify test result", err)
	}
	if res.VerifiedAt != nil {
		return nil, apperror.Conflict("test result is already verified")
	}
	res.VerifiedBy = actor
	if err := s.results.MarkVerified(ctx, res); err != nil {
		return nil, s.fail("verify test result", err)
	}
	return res, nil
}

func (s *Service) ListResultsForRequest(ctx context.Context, requestID uuid.UUID) ([]*TestResult, error) {
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, s.fail("list test results", err)
	}
	out, err := s.results.ListByRequest(ctx, requestID)
	return out, s.fail("list test results", err)
}

// -- Quality control --

// CreateQualityControl records a control run; passed is always computed.
func (s *Service) CreateQualityControl(ctx context.Context, in QualityControlInput, actor *uuid.UUID) (*QualityControl, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	qc := &QualityControl{
		TestTypeID:    in.TestTypeID,
		ControlLevel:  in.ControlLevel,
		LotNumber:     in.LotNumber,
		ExpectedValue: *in.ExpectedValue,
		ActualValue:   *in.ActualValue,
		Tolerance:     *in.Tolerance,
		Notes:         in.Notes,
		RunBy:         actor,
	}
	qc.Passed = QCPassed(qc.ExpectedValue, qc.ActualValue, qc.Tolerance)

	if _, err := s.testTypes.GetByID(ctx, in.TestTypeID); err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return nil, apperror.Invalid("testTypeId", "references a test type that does not exist")
		}
		return nil, s.fail("create quality control", err)
	}
	if err := s.qc.Create(ctx, qc); err != nil {
		return nil, s.fail("create quality control", err)
	}
	return qc, nil
}

func (s *Service) ListQualityControls(ctx context.Context, testTypeID *uuid.UUID, p pagination.Params) ([]*QualityControl, int, error) {
	out, total, err := s.qc.List(ctx, testTypeID, p.Limit, p.Offset)
	return out, total, s.fail("list quality controls", err)
}

// -- Dashboard --

// DashboardStats computes the four dashboard counters. They are read
// independently and are not mutually consistent.
func (s *Service) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var st DashboardStats
	var err error
	if st.DailySamples, err = s.stats.CountSamplesReceivedSince(ctx, midnight); err != nil {
		return nil, s.fail("dashboard stats", err)
	}
	if st.ResultsReady, err = s.stats.CountTestRequests(ctx, TestCompleted); err != nil {
		return nil, s.fail("dashboard stats", err)
	}
	if st.PendingTests, err = s.stats.CountTestRequests(ctx, TestPending); err != nil {
		return nil, s.fail("dashboard stats", err)
	}
	if st.ActiveUsers, err = s.stats.CountActiveUsers(ctx); err != nil {
		return nil, s.fail("dashboard stats", err)
	}
	return &st, nil
}
