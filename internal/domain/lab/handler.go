package lab

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/cdsengine/internal/platform/auth"
	"github.com/ehr/cdsengine/internal/platform/httperr"
	"github.com/ehr/cdsengine/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/lab")

	// Interpretation and results – admin, physician, lab_technician
	readGroup := g.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleLabTechnician))
	readGroup.POST("/flag", h.Flag)
	readGroup.POST("/delta", h.Delta)
	readGroup.GET("/results", h.ListResults)
	readGroup.GET("/reference-ranges", h.ListReferenceRanges)

	// Intake and catalog maintenance – admin, lab_technician
	writeGroup := g.Group("", auth.RequireRole(auth.RoleLabTechnician))
	writeGroup.POST("/results", h.RecordResult)
	writeGroup.POST("/reference-ranges", h.UpsertReferenceRange)
	writeGroup.DELETE("/reference-ranges/:id", h.DeleteReferenceRange)
	writeGroup.POST("/seed-reference-ranges", h.SeedReferenceRanges)
}

type flagRequest struct {
	TestCode string `json:"test_code"`
	Value    string `json:"value"`
	Age      *int   `json:"age,omitempty"`
	Gender   string `json:"gender,omitempty"`
}

type flagResponse struct {
	FlagOutcome
	Range *ReferenceRange `json:"range,omitempty"`
}

func (h *Handler) Flag(c echo.Context) error {
	var req flagRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, r, err := h.svc.FlagResultWithRange(c.Request().Context(), req.TestCode, req.Value, req.Age, req.Gender)
	if err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, flagResponse{FlagOutcome: out, Range: r})
}

type deltaRequest struct {
	PatientID    string `json:"patient_id"`
	TestCode     string `json:"test_code"`
	CurrentValue string `json:"current_value"`
}

func (h *Handler) Delta(c echo.Context) error {
	var req deltaRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	d, err := h.svc.CalculateDelta(c.Request().Context(), patientID, req.TestCode, req.CurrentValue)
	if err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, d)
}

// -- Results --

func (h *Handler) RecordResult(c echo.Context) error {
	var r LabResult
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RecordResult(c.Request().Context(), &r); err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) ListResults(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListResults(c.Request().Context(), patientID, c.QueryParam("test_code"), pg.Limit, pg.Offset)
	if err != nil {
		return httperr.From(err, "")
	}
	if items == nil {
		items = []*LabResult{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).
		WithLinks(c.Request().URL.Path, c.QueryParams()))
}

// -- Reference range catalog --

func (h *Handler) ListReferenceRanges(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListReferenceRanges(c.Request().Context(), c.QueryParam("test_code"), pg.Limit, pg.Offset)
	if err != nil {
		return httperr.From(err, "")
	}
	if items == nil {
		items = []*ReferenceRange{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).
		WithLinks(c.Request().URL.Path, c.QueryParams()))
}

func (h *Handler) UpsertReferenceRange(c echo.Context) error {
	var r ReferenceRange
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpsertReferenceRange(c.Request().Context(), &r); err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteReferenceRange(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteReferenceRange(c.Request().Context(), id); err != nil {
		return httperr.From(err, "reference range not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SeedReferenceRanges(c echo.Context) error {
	n, err := h.svc.SeedReferenceRanges(c.Request().Context())
	if err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"seeded":  n,
		"message": "Reference ranges seeded",
	})
}
