package admin

import (
	"encoding/json"
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
	settings := api.Group("/settings", auth.RequirePermission(auth.ActionSettingsManage))
	settings.GET("", h.ListSettings)
	settings.GET("/:key", h.GetSetting)
	settings.PUT("/:key", h.PutSetting)

	api.GET("/action-logs", h.ListActionLogs, auth.RequirePermission(auth.ActionAuditRead))
}

func (h *Handler) ListSettings(c echo.Context) error {
	items, err := h.svc.ListSettings(c.Request().Context())
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Setting{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetSetting(c echo.Context) error {
	s, err := h.svc.GetSetting(c.Request().Context(), c.Param("key"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

// PutSetting expects a body of the form {"value": <any JSON>}.
func (h *Handler) PutSetting(c echo.Context) error {
	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := apperror.Bind(c, &body); err != nil {
		return err
	}
	ctx := c.Request().Context()
	s, err := h.svc.PutSetting(ctx, c.Param("key"), body.Value, auth.ActorID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ListActionLogs(c echo.Context) error {
	p := pagination.FromContext(c)
	f := ActionLogFilter{
		EntityType: c.QueryParam("entityType"),
		Action:     c.QueryParam("action"),
		Limit:      p.Limit,
		Offset:     p.Offset,
	}
	if v := c.QueryParam("userId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperror.Invalid("userId", "must be a valid UUID")
		}
		f.UserID = &id
	}
	logs, total, err := h.svc.ListActionLogs(c.Request().Context(), f)
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []*ActionLog{}
	}
	pagination.SetHeaders(c, p, total)
	return c.JSON(http.StatusOK, logs)
}
