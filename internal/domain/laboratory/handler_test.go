package laboratory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/auth"
	"github.com/abdobody2040/medilablis2/internal/platform/reporting"
	"github.com/abdobody2040/medilablis2/pkg/pagination"
)

func newTestServer(f *fixture, role auth.Role) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(zerolog.Nop())
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithPrincipal(c.Request().Context(), auth.Principal{
				UserID: uuid.NewString(), Username: "tester", Role: role,
			})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(f.svc).RegisterRoutes(api)
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreatePatient(t *testing.T) {
	f := newFixture(TransitionsStrict)
	e := newTestServer(f, auth.RoleReceptionist)

	body := `{"patientId":"PAT-001","firstName":"Jane","lastName":"Doe","dateOfBirth":"1985-06-15","gender":"female"}`
	rec := do(e, http.MethodPost, "/api/v1/patients", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var p Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.PatientID != "PAT-001" || p.ID == uuid.Nil {
		t.Errorf("unexpected patient: %+v", p)
	}

	rec = do(e, http.MethodPost, "/api/v1/patients", body)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate, got %d", rec.Code)
	}
}

func TestHandler_CreatePatient_ValidationBody(t *testing.T) {
	f := newFixture(TransitionsStrict)
	e := newTestServer(f, auth.RoleReceptionist)

	rec := do(e, http.MethodPost, "/api/v1/patients", `{"firstName":"Jane"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body apperror.Body
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Fields) < 3 {
		t.Errorf("expected every missing field listed, got %+v", body.Fields)
	}

	rec = do(e, http.MethodPost, "/api/v1/patients", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestHandler_CreateSample_FieldTypeErrors(t *testing.T) {
	f := newFixture(TransitionsStrict)
	e := newTestServer(f, auth.RoleTechnician)

	rec := do(e, http.MethodPost, "/api/v1/samples",
		`{"sampleId":"S-0001","patientId":"PAT-001","sampleType":"blood","collectionDateTime":"2024-03-01"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var body apperror.Body
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, fe := range body.Fields {
		got[fe.Field] = fe.Message
	}
	if got["patientId"] != "must be a valid UUID" {
		t.Errorf("expected patientId field error, got %+v", body.Fields)
	}
	if got["collectionDateTime"] != "must be an RFC 3339 timestamp" {
		t.Errorf("expected collectionDateTime field error, got %+v", body.Fields)
	}
	if _, ok := got["sampleType"]; ok {
		t.Errorf("well-formed field reported: %+v", body.Fields)
	}

	rec = do(e, http.MethodPost, "/api/v1/samples", `{"sampleId":`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "invalid request body") {
		t.Errorf("expected generic 400 for truncated JSON, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_SearchPatients(t *testing.T) {
	f := newFixture(TransitionsStrict)
	f.mustPatient(t, "PAT-001")
	in := patientInput("PAT-002")
	in.FirstName, in.LastName = "Omar", "Khaled"
	if _, err := f.svc.CreatePatient(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	e := newTestServer(f, auth.RoleReceptionist)

	for _, path := range []string{"/api/v1/patients?search=khaled", "/api/v1/patients?q=khaled"} {
		rec := do(e, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		var got []Patient
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].PatientID != "PAT-002" {
			t.Errorf("%s: expected only PAT-002, got %+v", path, got)
		}
		if rec.Header().Get(pagination.HeaderTotalCount) != "1" {
			t.Errorf("%s: expected total 1, got %q", path, rec.Header().Get(pagination.HeaderTotalCount))
		}
	}

	rec := do(e, http.MethodGet, "/api/v1/patients", "")
	if rec.Header().Get(pagination.HeaderTotalCount) != "2" {
		t.Errorf("expected unfiltered total 2, got %q", rec.Header().Get(pagination.HeaderTotalCount))
	}
}

func TestHandler_PermissionDenied(t *testing.T) {
	f := newFixture(TransitionsStrict)
	e := newTestServer(f, auth.RoleDoctor)

	rec := do(e, http.MethodPost, "/api/v1/patients", `{}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for doctor creating patient, got %d", rec.Code)
	}
	rec = do(e, http.MethodGet, "/api/v1/patients", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected doctor to read patients, got %d", rec.Code)
	}
}

func TestHandler_SampleLifecycle(t *testing.T) {
	f := newFixture(TransitionsStrict)
	p := f.mustPatient(t, "PAT-001")
	e := newTestServer(f, auth.RoleTechnician)

	body := `{"sampleId":"S-0001","patientId":"` + p.ID.String() + `","sampleType":"blood","priority":"stat","collectionDateTime":"2024-03-01T08:00:00Z"}`
	rec := do(e, http.MethodPost, "/api/v1/samples", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var s Sample
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if s.CollectedBy == nil {
		t.Error("expected collectedBy defaulted to the caller")
	}

	rec = do(e, http.MethodGet, "/api/v1/samples/"+s.ID.String(), "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"patient":{`) {
		t.Errorf("expected sample with patient, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/api/v1/samples/by-sample-id/S-0001", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 by sample id, got %d", rec.Code)
	}

	rec = do(e, http.MethodPatch, "/api/v1/samples/"+s.ID.String(), `{"status":"completed"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for illegal transition, got %d", rec.Code)
	}
	rec = do(e, http.MethodPatch, "/api/v1/samples/"+s.ID.String(), `{"status":"in_progress","version":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodPatch, "/api/v1/samples/"+s.ID.String(), `{"notes":"late","version":1}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for stale version, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/v1/samples/"+s.ID.String()+"/history", "")
	var history []SampleStatusChange
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Errorf("expected 2 history rows, got %d", len(history))
	}
}

func TestHandler_ListSamples(t *testing.T) {
	f := newFixture(TransitionsStrict)
	p := f.mustPatient(t, "PAT-001")
	for _, id := range []string{"S-1", "S-2", "S-3"} {
		f.mustSample(t, id, p.ID)
	}
	e := newTestServer(f, auth.RoleDoctor)

	rec := do(e, http.MethodGet, "/api/v1/samples?status=received&limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []Sample
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 samples, got %d", len(got))
	}
	if rec.Header().Get(pagination.HeaderTotalCount) != "3" || rec.Header().Get(pagination.HeaderHasMore) != "true" {
		t.Errorf("unexpected pagination headers: %v", rec.Header())
	}

	rec = do(e, http.MethodGet, "/api/v1/samples?status=done", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/v1/samples?status=cancelled", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_ExportSamples(t *testing.T) {
	f := newFixture(TransitionsStrict)
	f.mustSample(t, "S-1", f.mustPatient(t, "PAT-001").ID)
	e := newTestServer(f, auth.RoleLabManager)

	rec := do(e, http.MethodGet, "/api/v1/samples/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != reporting.XLSXContentType {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), "samples-20240301.xlsx") {
		t.Errorf("unexpected disposition %q", rec.Header().Get(echo.HeaderContentDisposition))
	}
}

func TestHandler_InvalidID(t *testing.T) {
	f := newFixture(TransitionsStrict)
	e := newTestServer(f, auth.RoleAdmin)

	rec := do(e, http.MethodGet, "/api/v1/samples/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	rec = do(e, http.MethodGet, "/api/v1/patients/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_ResultsAndQC(t *testing.T) {
	f := newFixture(TransitionsStrict)
	p := f.mustPatient(t, "PAT-001")
	s := f.mustSample(t, "S-1", p.ID)
	low, high := 70.0, 100.0
	tt := f.mustTestType(t, "GLU", &low, &high)
	e := newTestServer(f, auth.RoleLabManager)

	rec := do(e, http.MethodPost, "/api/v1/test-requests",
		`{"sampleId":"`+s.ID.String()+`","testTypeId":"`+tt.ID.String()+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var tr TestRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil {
		t.Fatal(err)
	}

	rec = do(e, http.MethodPatch, "/api/v1/test-requests/"+tr.ID.String()+"/status", `{"status":"in_progress"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPost, "/api/v1/test-results", `{"testRequestId":"`+tr.ID.String()+`","value":"120"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var res TestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Flag != FlagHigh {
		t.Errorf("expected H, got %s", res.Flag)
	}

	rec = do(e, http.MethodPost, "/api/v1/test-results/"+res.ID.String()+"/verify", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	rec = do(e, http.MethodPost, "/api/v1/test-results/"+res.ID.String()+"/verify", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on second verify, got %d", rec.Code)
	}

	rec = do(e, http.MethodPost, "/api/v1/quality-control",
		`{"testTypeId":"`+tt.ID.String()+`","controlLevel":"high","lotNumber":"L1","expectedValue":180,"actualValue":195.2,"tolerance":10,"passed":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var qc QualityControl
	if err := json.Unmarshal(rec.Body.Bytes(), &qc); err != nil {
		t.Fatal(err)
	}
	if qc.Passed {
		t.Error("client-supplied passed must be ignored")
	}
}

func TestHandler_DashboardStats(t *testing.T) {
	f := newFixture(TransitionsStrict)
	f.mustSample(t, "S-1", f.mustPatient(t, "PAT-001").ID)
	e := newTestServer(f, auth.RoleReceptionist)

	rec := do(e, http.MethodGet, "/api/v1/dashboard/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"dailySamples", "resultsReady", "pendingTests", "activeUsers"} {
		if _, ok := st[key]; !ok {
			t.Errorf("missing %s in %v", key, st)
		}
	}
	if st["dailySamples"] != 1 {
		t.Errorf("expected 1 daily sample, got %d", st["dailySamples"])
	}
}
