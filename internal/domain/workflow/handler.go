package workflow

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
	read := api.Group("", auth.RequirePermission(auth.ActionWorkflowRead))
	read.GET("/worklists", h.ListWorklists)
	read.GET("/worklists/:id", h.GetWorklist)
	read.GET("/outbound-samples", h.ListOutbound)
	read.GET("/outbound-samples/:id", h.GetOutbound)

	write := api.Group("", auth.RequirePermission(auth.ActionWorkflowWrite))
	write.POST("/worklists", h.CreateWorklist)
	write.PATCH("/worklists/:id", h.UpdateWorklist)
	write.POST("/worklists/:id/samples", h.AddSample)
	write.DELETE("/worklists/:id/samples/:sampleId", h.RemoveSample)
	write.POST("/outbound-samples", h.CreateOutbound)
	write.PATCH("/outbound-samples/:id", h.UpdateOutbound)
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperror.Invalid(name, "must be a valid UUID")
	}
	return id, nil
}

// -- Worklists --

func (h *Handler) CreateWorklist(c echo.Context) error {
	var in WorklistInput
	if err := apperror.Bind(c, &in); err != nil {
		return err
	}
	ctx := c.Request().Context()
	w, err := h.svc.CreateWorklist(ctx, in, auth.ActorID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetWorklist(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	w, err := h.svc.GetWorklist(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ListWorklists(c echo.Context) error {
	p := pagination.FromContext(c)
	lists, total, err := h.svc.ListWorklists(c.Request().Context(), WorklistStatus(c.QueryParam("status")), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	if lists == nil {
		lists = []*Worklist{}
	}
	pagination.SetHeaders(c, p, total)
	return c.JSON(http.StatusOK, lists)
}

func (h *Handler) UpdateWorklist(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var patch WorklistPatch
	if err := apperror.Bind(c, &patch); err != nil {
		return err
	}
	w, err := h.svc.UpdateWorklist(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) AddSample(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		SampleID uuid.UUID `json:"sampleId"`
	}
	if err := apperror.Bind(c, &body); err != nil {
		return err
	}
	w, err := h.svc.AddSample(c.Request().Context(), id, body.SampleID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) RemoveSample(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	sampleID, err := pathID(c, "sampleId")
	if err != nil {
		return err
	}
	if err := h.svc.RemoveSample(c.Request().Context(), id, sampleID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Outbound samples --

func (h *Handler) CreateOutbound(c echo.Context) error {
	var in OutboundInput
	if err := apperror.Bind(c, &in); err != nil {
		return err
	}
	ctx := c.Request().Context()
	o, err := h.svc.CreateOutbound(ctx, in, auth.ActorID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) GetOutbound(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	o, err := h.svc.GetOutbound(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListOutbound(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListOutbound(c.Request().Context(), OutboundStatus(c.QueryParam("status")), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*OutboundSample{}
	}
	pagination.SetHeaders(c, p, total)
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateOutbound(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var upd OutboundUpdate
	if err := apperror.Bind(c, &upd); err != nil {
		return err
	}
	o, err := h.svc.UpdateOutbound(c.Request().Context(), id, upd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}
