package orderset

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/cdsengine/internal/platform/auth"
	"github.com/ehr/cdsengine/internal/platform/httperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/order-sets")

	// Browsing and use – admin, physician, radiologist, lab_technician
	readGroup := g.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleRadiologist, auth.RoleLabTechnician))
	readGroup.GET("", h.List)
	readGroup.GET("/public", h.ListPublic)
	readGroup.GET("/:id", h.Get)

	// Authoring – admin, physician
	writeGroup := g.Group("", auth.RequireRole(auth.RolePhysician))
	writeGroup.POST("", h.Create)
	writeGroup.POST("/:id/use", h.Use)

	// Catalog maintenance – admin only
	adminGroup := g.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/seed", h.Seed)
}

func emptyIfNil(sets []*OrderSet) []*OrderSet {
	if sets == nil {
		return []*OrderSet{}
	}
	return sets
}

func (h *Handler) List(c echo.Context) error {
	sets, err := h.svc.List(c.Request().Context(), c.QueryParam("specialty"))
	if err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, emptyIfNil(sets))
}

func (h *Handler) ListPublic(c echo.Context) error {
	sets, err := h.svc.ListPublic(c.Request().Context())
	if err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, emptyIfNil(sets))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	set, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httperr.From(err, "order set not found")
	}
	return c.JSON(http.StatusOK, set)
}

func (h *Handler) Create(c echo.Context) error {
	var set OrderSet
	if err := c.Bind(&set); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if set.CreatedBy == "" {
		set.CreatedBy = auth.UserIDFromContext(c.Request().Context())
	}
	if err := h.svc.Create(c.Request().Context(), &set); err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusCreated, set)
}

func (h *Handler) Use(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.svc.IncrementUseCount(c.Request().Context(), id)
	if err != nil {
		return httperr.From(err, "order set not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "use_count": n})
}

func (h *Handler) Seed(c echo.Context) error {
	n, err := h.svc.SeedOrderSets(c.Request().Context())
	if err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"seeded":  n,
		"message": "Common order sets seeded",
	})
}
