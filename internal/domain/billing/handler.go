package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/auth"
	"github.com/abdobody2040/medilablis2/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/financial-records", auth.RequirePermission(auth.ActionBillingRead))
	read.GET("", h.ListRecords)
	read.GET("/summary", h.Summary)
	read.GET("/:id", h.GetRecord)

	write := api.Group("/financial-records", auth.RequirePermission(auth.ActionBillingWrite))
	write.POST("", h.CreateRecord)
	write.PATCH("/:id/status", h.UpdateStatus)
}

func patientParam(c echo.Context) (*uuid.UUID, error) {
	raw := c.QueryParam("patientId")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperror.Invalid("patientId", "must be a valid UUID")
	}
	return &id, nil
}

func (h *Handler) CreateRecord(c echo.Context) error {
	var in RecordInput
	if err := apperror.Bind(c, &in); err != nil {
		return err
	}
	ctx := c.Request().Context()
	rec, err := h.svc.CreateRecord(ctx, in, auth.ActorID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Invalid("id", "must be a valid UUID")
	}
	rec, err := h.svc.GetRecord(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListRecords(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	f := Filter{
		PatientID: patientID,
		Type:      RecordType(c.QueryParam("type")),
		Status:    RecordStatus(c.QueryParam("status")),
	}
	p := pagination.FromContext(c)
	records, total, err := h.svc.ListRecords(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	if records == nil {
		records = []*FinancialRecord{}
	}
	pagination.SetHeaders(c, p, total)
	return c.JSON(http.StatusOK, records)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Invalid("id", "must be a valid UUID")
	}
	var body struct {
		Status RecordStatus `json:"status"`
	}
	if err := apperror.Bind(c, &body); err != nil {
		return err
	}
	rec, err := h.svc.UpdateStatus(c.Request().Context(), id, body.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Summary(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.Summary(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sum)
}
