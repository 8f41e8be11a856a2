package reporting

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/abdobody2040/medilablis2/internal/platform/auth"
	"github.com/abdobody2040/medilablis2/pkg/pagination"
)

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := auth.RequirePermission(auth.ActionReportRead)
	write := auth.RequirePermission(auth.ActionReportWrite)

	g := api.Group("/reports")
	g.GET("", h.ListReports, read)
	g.GET("/measures", h.ListMeasures, read)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure, read)
	g.GET("/measures/:id/export", h.ExportMeasure, write)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

func queryValues(c echo.Context) map[string]string {
	raw := make(map[string]string)
	for k, v := range c.QueryParams() {
		if len(v) > 0 {
			raw[k] = v[0]
		}
	}
	return raw
}

func (h *Handler) EvaluateMeasure(c echo.Context) error {
	ctx := c.Request().Context()
	report, _, err := h.svc.Evaluate(ctx, c.Param("id"), queryValues(c), "json", auth.ActorID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ExportMeasure(c echo.Context) error {
	ctx := c.Request().Context()
	data, filename, err := h.svc.Export(ctx, c.Param("id"), queryValues(c), auth.ActorID(ctx))
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+filename)
	return c.Blob(http.StatusOK, XLSXContentType, data)
}

func (h *Handler) ListReports(c echo.Context) error {
	p := pagination.FromContext(c)
	reports, total, err := h.svc.ListReports(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	if reports == nil {
		reports = []*Report{}
	}
	pagination.SetHeaders(c, p, total)
	return c.JSON(http.StatusOK, reports)
}
