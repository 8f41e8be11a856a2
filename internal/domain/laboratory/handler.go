package laboratory

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/auth"
	"github.com/abdobody2040/medilablis2/internal/platform/reporting"
	"github.com/abdobody2040/medilablis2/pkg/pagination"
)

const defaultRecentLimit = 10

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	perm := auth.RequirePermission

	api.GET("/patients", h.SearchPatients, perm(auth.ActionPatientRead))
	api.GET("/patients/recent", h.RecentPatients, perm(auth.ActionPatientRead))
	api.GET("/patients/:id", h.GetPatient, perm(auth.ActionPatientRead))
	api.POST("/patients", h.CreatePatient, perm(auth.ActionPatientWrite))
	api.PATCH("/patients/:id", h.UpdatePatient, perm(auth.ActionPatientWrite))

	api.GET("/samples", h.ListSamples, perm(auth.ActionSampleRead))
	api.GET("/samples/export", h.ExportSamples, perm(auth.ActionSampleRead))
	api.GET("/samples/by-sample-id/:sampleId", h.GetSampleBySampleID, perm(auth.ActionSampleRead))
	api.GET("/samples/:id", h.GetSample, perm(auth.ActionSampleRead))
	api.GET("/samples/:id/history", h.SampleHistory, perm(auth.ActionSampleRead))
	api.POST("/samples", h.CreateSample, perm(auth.ActionSampleWrite))
	api.PATCH("/samples/:id", h.UpdateSample, perm(auth.ActionSampleWrite))

	api.GET("/dashboard/stats", h.DashboardStats, perm(auth.ActionDashboardRead))
	api.GET("/dashboard/recent-samples", h.RecentSamples, perm(auth.ActionDashboardRead))

	api.GET("/test-types", h.ListTestTypes, perm(auth.ActionTestRead))
	api.POST("/test-types", h.CreateTestType, perm(auth.ActionTestTypeManage))
	api.PATCH("/test-types/:id", h.UpdateTestType, perm(auth.ActionTestTypeManage))

	api.GET("/test-requests", h.ListTestRequests, perm(auth.ActionTestRead))
	api.GET("/test-requests/:id", h.GetTestRequest, perm(auth.ActionTestRead))
	api.GET("/test-requests/:id/results", h.ListResults, perm(auth.ActionTestRead))
	api.POST("/test-requests", h.CreateTestRequest, perm(auth.ActionTestWrite))
	api.PATCH("/test-requests/:id/status", h.UpdateTestRequestStatus, perm(auth.ActionTestWrite))

	api.POST("/test-results", h.CreateTestResult, perm(auth.ActionResultWrite))
	api.POST("/test-results/:id/verify", h.VerifyTestResult, perm(auth.ActionResultVerify))

	api.GET("/quality-control", h.ListQualityControls, perm(auth.ActionQCRead))
	api.POST("/quality-control", h.CreateQualityControl, perm(auth.ActionQCWrite))
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperror.Invalid(name, "must be a valid UUID")
	}
	return id, nil
}

func optionalUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperror.Invalid(name, "must be a valid UUID")
	}
	return &id, nil
}

// searchTerm reads ?search=, falling back to the older ?q=.
func searchTerm(c echo.Context) string {
	if v := c.QueryParam("search"); v != "" {
		return v
	}
	return c.QueryParam("q")
}

func recentLimit(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n < 1 {
		return defaultRecentLimit
	}
	return n
}

func bind(c echo.Context, v interface{}) error {
	return apperror.Bind(c, v)
}

// -- Patients --

func (h *Handler) CreatePatient(c echo.Context) error {
	var in PatientInput
	if err := bind(c, &in); err != nil {
		return err
	}
	p, err := h.svc.CreatePatient(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var patch PatientPatch
	if err := bind(c, &patch); err != nil {
		return err
	}
	p, err := h.svc.UpdatePatient(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	p := pagination.FromContext(c)
	patients, total, err := h.svc.SearchPatients(c.Request().Context(), searchTerm(c), p)
	if err != nil {
		return err
	}
	if patients == nil {
		patients = []*Patient{}
	}
	pagination.SetHeaders(c, p, total)
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) RecentPatients(c echo.Context) error {
	patients, err := h.svc.RecentPatients(c.Request().Context(), recentLimit(c))
	if err != nil {
		return err
	}
	if patients == nil {
		patients = []*Patient{}
	}
	return c.JSON(http.StatusOK, patients)
}

// -- Samples --

func (h *Handler) CreateSample(c echo.Context) error {
	var in SampleInput
	if err := bind(c, &in); err != nil {
		return err
	}
	ctx := c.Request().Context()
	s, err := h.svc.CreateSample(ctx, in, auth.ActorID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) GetSample(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	s, err := h.svc.GetSample(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) GetSampleBySampleID(c echo.Context) error {
	s, err := h.svc.GetSampleBySampleID(c.Request().Context(), c.Param("sampleId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) UpdateSample(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var patch SamplePatch
	if err := bind(c, &patch); err != nil {
		return err
	}
	ctx := c.Request().Context()
	s, err := h.svc.UpdateSample(ctx, id, patch, auth.ActorID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

func sampleFilter(c echo.Context) (SampleFilter, error) {
	var f SampleFilter
	if raw := c.QueryParam("status"); raw != "" {
		st, err := ParseSampleStatus(raw)
		if err != nil {
			return f, err
		}
		f.Status = st
	}
	patientID, err := optionalUUID(c, "patientId")
	if err != nil {
		return f, err
	}
	f.PatientID = patientID
	return f, nil
}

func (h *Handler) ListSamples(c echo.Context) error {
	f, err := sampleFilter(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	samples, total, err := h.svc.ListSamples(c.Request().Context(), f, p)
	if err != nil {
		return err
	}
	if samples == nil {
		samples = []*Sample{}
	}
	pagination.SetHeaders(c, p, total)
	return c.JSON(http.StatusOK, samples)
}

func (h *Handler) ExportSamples(c echo.Context) error {
	f, err := sampleFilter(c)
	if err != nil {
		return err
	}
	data, filename, err := h.svc.ExportSamples(c.Request().Context(), f)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+filename)
	return c.Blob(http.StatusOK, reporting.XLSXContentType, data)
}

func (h *Handler) SampleHistory(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	history, err := h.svc.SampleHistory(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if history == nil {
		history = []*SampleStatusChange{}
	}
	return c.JSON(http.StatusOK, history)
}

// -- Dashboard --

func (h *Handler) DashboardStats(c echo.Context) error {
	st, err := h.svc.DashboardStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) RecentSamples(c echo.Context) error {
	samples, err := h.svc.RecentSamples(c.Request().Context(), recentLimit(c))
	if err != nil {
		return err
	}
	if samples == nil {
		samples = []*Sample{}
	}
	return c.JSON(http.StatusOK, samples)
}

// -- Test catalog --

func (h *Handler) ListTestTypes(c echo.Context) error {
	types, err := h.svc.ListActiveTestTypes(c.Request().Context())
	if err != nil {
		return err
	}
	if types == nil {
		types = []*TestType{}
	}
	return c.JSON(http.StatusOK, types)
}

func (h *Handler) CreateTestType(c echo.Context) error {
	var in TestTypeInput
	if err := bind(c, &in); err != nil {
		return err
	}
	tt, err := h.svc.CreateTestType(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tt)
}

func (h *Handler) UpdateTestType(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var patch TestTypePatch
	if err := bind(c, &patch); err != nil {
		return err
	}
	tt, err := h.svc.UpdateTestType(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tt)
}

// -- Test requests --

func (h *Handler) CreateTestRequest(c echo.Context) error {
	var in TestRequestInput
	if err := bind(c, &in); err != nil {
		return err
	}
	ctx := c.Request().Context()
	tr, err := h.svc.CreateTestRequest(ctx, in, auth.ActorID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tr)
}

func (h *Handler) GetTestRequest(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	tr, err := h.svc.GetTestRequest(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tr)
}

func (h *Handler) ListTestRequests(c echo.Context) error {
	var f TestRequestFilter
	f.Status = TestStatus(c.QueryParam("status"))
	sampleID, err := optionalUUID(c, "sampleId")
	if err != nil {
		return err
	}
	f.SampleID = sampleID

	p := pagination.FromContext(c)
	requests, total, err := h.svc.ListTestRequests(c.Request().Context(), f, p)
	if err != nil {
		return err
	}
	if requests == nil {
		requests = []*TestRequest{}
	}
	pagination.SetHeaders(c, p, total)
	return c.JSON(http.StatusOK, requests)
}

func (h *Handler) UpdateTestRequestStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var upd TestRequestStatusUpdate
	if err := bind(c, &upd); err != nil {
		return err
	}
	tr, err := h.svc.UpdateTestRequestStatus(c.Request().Context(), id, upd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tr)
}

// -- Results --

func (h *Handler) CreateTestResult(c echo.Context) error {
	var in TestResultInput
	if err := bind(c, &in); err != nil {
		return err
	}
	ctx := c.Request().Context()
	res, err := h.svc.CreateTestResult(ctx, in, auth.ActorID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) VerifyTestResult(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	res, err := h.svc.VerifyTestResult(ctx, id, auth.ActorID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListResults(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	results, err := h.svc.ListResultsForRequest(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if results == nil {
		results = []*TestResult{}
	}
	return c.JSON(http.StatusOK, results)
}

// -- Quality control --

func (h *Handler) CreateQualityControl(c echo.Context) error {
	var in QualityControlInput
	if err := bind(c, &in); err != nil {
		return err
	}
	ctx := c.Request().Context()
	qc, err := h.svc.CreateQualityControl(ctx, in, auth.ActorID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, qc)
}

func (h *Handler) ListQualityControls(c echo.Context) error {
	testTypeID, err := optionalUUID(c, "testTypeId")
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	runs, total, err := h.svc.ListQualityControls(c.Request().Context(), testTypeID, p)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []*QualityControl{}
	}
	pagination.SetHeaders(c, p, total)
	return c.JSON(http.StatusOK, runs)
}
