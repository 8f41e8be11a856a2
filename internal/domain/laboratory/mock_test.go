package laboratory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/db"
	"github.com/abdobody2040/medilablis2/internal/platform/websocket"
)

// clock hands out strictly increasing timestamps so newest-first ordering
// is deterministic in the fakes.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// -- patients --

type mockPatientRepo struct {
	clock *clock
	store map[uuid.UUID]*Patient
}

func newMockPatientRepo(c *clock) *mockPatientRepo {
	return &mockPatientRepo{clock: c, store: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	for _, existing := range m.store {
		if existing.PatientID == p.PatientID {
			return apperror.Conflict("patientId %q already exists", p.PatientID)
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = m.clock.next()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, apperror.NotFound("patient not found")
	}
	cp := *p
	return &cp, nil
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.store[p.ID]; !ok {
		return apperror.NotFound("patient not found")
	}
	p.UpdatedAt = m.clock.next()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) Search(_ context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	matches := func(col string) bool { return strings.Contains(strings.ToLower(col), q) }
	var out []*Patient
	for _, p := range m.store {
		if q == "" || matches(p.FirstName) || matches(p.LastName) || matches(p.PatientID) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return window(out, limit, offset), len(out), nil
}

func window[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// -- samples --

type mockSampleRepo struct {
	clock    *clock
	patients *mockPatientRepo
	store    map[uuid.UUID]*Sample
	history  []*SampleStatusChange
}

func newMockSampleRepo(c *clock, patients *mockPatientRepo) *mockSampleRepo {
	return &mockSampleRepo{clock: c, patients: patients, store: make(map[uuid.UUID]*Sample)}
}

func (m *mockSampleRepo) withPatient(s *Sample) *Sample {
	cp := *s
	if p, ok := m.patients.store[s.PatientID]; ok {
		pc := *p
		cp.Patient = &pc
	}
	return &cp
}

func (m *mockSampleRepo) Create(_ context.Context, s *Sample) error {
	for _, existing := range m.store {
		if existing.SampleID == s.SampleID {
			return apperror.Conflict("sampleId %q already exists", s.SampleID)
		}
		if s.Barcode != nil && existing.Barcode != nil && *existing.Barcode == *s.Barcode {
			return apperror.Conflict("barcode %q already exists", *s.Barcode)
		}
	}
	s.ID = uuid.New()
	s.Version = 1
	s.CreatedAt = m.clock.next()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	cp.Patient = nil
	m.store[s.ID] = &cp
	return nil
}

func (m *mockSampleRepo) GetByID(_ context.Context, id uuid.UUID) (*Sample, error) {
	s, ok := m.store[id]
	if !ok {
		return nil, apperror.NotFound("sample not found")
	}
	return m.withPatient(s), nil
}

func (m *mockSampleRepo) GetBySampleID(_ context.Context, sampleID string) (*Sample, error) {
	for _, s := range m.store {
		if s.SampleID == sampleID {
			return m.withPatient(s), nil
		}
	}
	return nil, apperror.NotFound("sample not found")
}

func (m *mockSampleRepo) Update(_ context.Context, s *Sample, expectedVersion int) error {
	stored, ok := m.store[s.ID]
	if !ok || stored.Version != expectedVersion {
		return errStaleSample
	}
	for id, existing := range m.store {
		if id != s.ID && s.Barcode != nil && existing.Barcode != nil && *existing.Barcode == *s.Barcode {
			return apperror.Conflict("barcode %q already exists", *s.Barcode)
		}
	}
	s.Version = expectedVersion + 1
	s.UpdatedAt = m.clock.next()
	cp := *s
	cp.Patient = nil
	m.store[s.ID] = &cp
	return nil
}

func (m *mockSampleRepo) List(_ context.Context, f SampleFilter, limit, offset int) ([]*Sample, int, error) {
	var out []*Sample
	for _, s := range m.store {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.PatientID != nil && s.PatientID != *f.PatientID {
			continue
		}
		out = append(out, m.withPatient(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return window(out, limit, offset), len(out), nil
}

func (m *mockSampleRepo) AddHistory(_ context.Context, c *SampleStatusChange) error {
	c.ID = uuid.New()
	c.ChangedAt = m.clock.next()
	cp := *c
	m.history = append(m.history, &cp)
	return nil
}

func (m *mockSampleRepo) History(_ context.Context, sampleID uuid.UUID) ([]*SampleStatusChange, error) {
	var out []*SampleStatusChange
	for _, c := range m.history {
		if c.SampleID == sampleID {
			out = append(out, c)
		}
	}
	return out, nil
}

// -- catalog and orders --

type mockTestTypeRepo struct {
	store map[uuid.UUID]*TestType
}

func (m *mockTestTypeRepo) Create(_ context.Context, tt *TestType) error {
	for _, existing := range m.store {
		if existing.Code == tt.Code {
			return apperror.Conflict("code %q already exists", tt.Code)
		}
	}
	tt.ID = uuid.New()
	cp := *tt
	m.store[tt.ID] = &cp
	return nil
}

func (m *mockTestTypeRepo) GetByID(_ context.Context, id uuid.UUID) (*TestType, error) {
	tt, ok := m.store[id]
	if !ok {
		return nil, apperror.NotFound("test type not found")
	}
	cp := *tt
	return &cp, nil
}

func (m *mockTestTypeRepo) Update(_ context.Context, tt *TestType) error {
	cp := *tt
	m.store[tt.ID] = &cp
	return nil
}

func (m *mockTestTypeRepo) ListActive(_ context.Context) ([]*TestType, error) {
	var out []*TestType
	for _, tt := range m.store {
		if tt.IsActive {
			cp := *tt
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type mockTestRequestRepo struct {
	clock *clock
	store map[uuid.UUID]*TestRequest
}

func (m *mockTestRequestRepo) Create(_ context.Context, tr *TestRequest) error {
	tr.ID = uuid.New()
	tr.RequestedAt = m.clock.next()
	tr.CreatedAt = tr.RequestedAt
	cp := *tr
	m.store[tr.ID] = &cp
	return nil
}

func (m *mockTestRequestRepo) GetByID(_ context.Context, id uuid.UUID) (*TestRequest, error) {
	tr, ok := m.store[id]
	if !ok {
		return nil, apperror.NotFound("test request not found")
	}
	cp := *tr
	return &cp, nil
}

func (m *mockTestRequestRepo) Update(_ context.Context, tr *TestRequest) error {
	cp := *tr
	m.store[tr.ID] = &cp
	return nil
}

func (m *mockTestRequestRepo) List(_ context.Context, f TestRequestFilter, limit, offset int) ([]*TestRequest, int, error) {
	var out []*TestRequest
	for _, tr := range m.store {
		if f.Status != "" && tr.Status != f.Status {
			continue
		}
		if f.SampleID != nil && tr.SampleID != *f.SampleID {
			continue
		}
		cp := *tr
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return window(out, limit, offset), len(out), nil
}

type mockTestResultRepo struct {
	clock *clock
	store map[uuid.UUID]*TestResult
}

func (m *mockTestResultRepo) Create(_ context.Context, r *TestResult) error {
	r.ID = uuid.New()
	r.EnteredAt = m.clock.next()
	r.CreatedAt = r.EnteredAt
	cp := *r
	m.store[r.ID] = &cp
	return nil
}

func (m *mockTestResultRepo) GetByID(_ context.Context, id uuid.UUID) (*TestResult, error) {
	r, ok := m.store[id]
	if !ok {
		return nil, apperror.NotFound("test result not found")
	}
	cp := *r
	return &cp, nil
}

func (m *mockTestResultRepo) MarkVerified(_ context.Context, r *TestResult) error {
	stored := m.store[r.ID]
	if stored.VerifiedAt != nil {
		return apperror.Conflict("test result is already verified")
	}
	now := m.clock.next()
	r.VerifiedAt = &now
	cp := *r
	m.store[r.ID] = &cp
	return nil
}

func (m *mockTestResultRepo) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*TestResult, error) {
	var out []*TestResult
	for _, r := range m.store {
		if r.TestRequestID == requestID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnteredAt.Before(out[j].EnteredAt) })
	return out, nil
}

type mockQCRepo struct {
	clock *clock
	runs  []*QualityControl
}

func (m *mockQCRepo) Create(_ context.Context, qc *QualityControl) error {
	qc.ID = uuid.New()
	qc.RunAt = m.clock.next()
	cp := *qc
	m.runs = append(m.runs, &cp)
	return nil
}

func (m *mockQCRepo) List(_ context.Context, testTypeID *uuid.UUID, limit, offset int) ([]*QualityControl, int, error) {
	var out []*QualityControl
	for i := len(m.runs) - 1; i >= 0; i-- {
		if testTypeID == nil || m.runs[i].TestTypeID == *testTypeID {
			cp := *m.runs[i]
			out = append(out, &cp)
		}
	}
	return window(out, limit, offset), len(out), nil
}

type mockStatsRepo struct {
	samples  *mockSampleRepo
	requests *mockTestRequestRepo
	users    int
	since    time.Time
}

func (m *mockStatsRepo) CountSamplesReceivedSince(_ context.Context, since time.Time) (int, error) {
	m.since = since
	n := 0
	for _, s := range m.samples.store {
		if !s.ReceivedDateTime.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *mockStatsRepo) CountTestRequests(_ context.Context, status TestStatus) (int, error) {
	n := 0
	for _, tr := range m.requests.store {
		if tr.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *mockStatsRepo) CountActiveUsers(context.Context) (int, error) {
	return m.users, nil
}

// -- events --

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e websocket.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingPublisher) ofType(t websocket.EventType) []websocket.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []websocket.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fixture wires a Service to fresh fakes.
type fixture struct {
	svc      *Service
	clock    *clock
	patients *mockPatientRepo
	samples  *mockSampleRepo
	types    *mockTestTypeRepo
	requests *mockTestRequestRepo
	results  *mockTestResultRepo
	qc       *mockQCRepo
	stats    *mockStatsRepo
	events   *recordingPublisher
}

func newFixture(mode TransitionMode) *fixture {
	c := newClock()
	f := &fixture{clock: c, events: &recordingPublisher{}}
	f.patients = newMockPatientRepo(c)
	f.samples = newMockSampleRepo(c, f.patients)
	f.types = &mockTestTypeRepo{store: make(map[uuid.UUID]*TestType)}
	f.requests = &mockTestRequestRepo{clock: c, store: make(map[uuid.UUID]*TestRequest)}
	f.results = &mockTestResultRepo{clock: c, store: make(map[uuid.UUID]*TestResult)}
	f.qc = &mockQCRepo{clock: c}
	f.stats = &mockStatsRepo{samples: f.samples, requests: f.requests}

	f.svc = NewService(Repositories{
		Patients:        f.patients,
		Samples:         f.samples,
		TestTypes:       f.types,
		TestRequests:    f.requests,
		TestResults:     f.results,
		QualityControls: f.qc,
		Stats:           f.stats,
	}, db.PassThroughTx{}, f.events, Options{Transitions: mode})
	f.svc.now = func() time.Time { return time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC) }
	return f
}
