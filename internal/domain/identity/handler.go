package identity

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

// PublicPaths lists the routes reachable without a token under prefix.
func PublicPaths(prefix string) []string {
	return []string{prefix + "/auth/login", prefix + "/auth/register"}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login)
	api.POST("/auth/register", h.Register)
	api.GET("/auth/me", h.Me)

	manage := api.Group("", auth.RequirePermission(auth.ActionUserManage))
	manage.GET("/users", h.ListUsers)
	manage.PATCH("/users/:id", h.UpdateUser)
}

func (h *Handler) Login(c echo.Context) error {
	var in LoginInput
	if err := apperror.Bind(c, &in); err != nil {
		return err
	}
	res, err := h.svc.Login(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := apperror.Bind(c, &in); err != nil {
		return err
	}
	ctx := c.Request().Context()
	var caller *auth.Principal
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		caller = &p
	}
	u, err := h.svc.Register(ctx, in, caller)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return apperror.Unauthorized("authentication required")
	}
	u, err := h.svc.Me(ctx, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListUsers(c echo.Context) error {
	p := pagination.FromContext(c)
	users, total, err := h.svc.ListUsers(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	if users == nil {
		users = []*User{}
	}
	pagination.SetHeaders(c, p, total)
	return c.JSON(http.StatusOK, users)
}

func (h *Handler) UpdateUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Invalid("id", "must be a valid UUID")
	}
	var patch UserPatch
	if err := apperror.Bind(c, &patch); err != nil {
		return err
	}
	ctx := c.Request().Context()
	u, err := h.svc.UpdateUser(ctx, id, patch, auth.ActorID(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}
