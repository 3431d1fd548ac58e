package cds

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
	g := api.Group("/cds")

	// Checks and reads – admin, physician, pharmacist
	readGroup := g.Group("", auth.RequireRole(auth.RolePhysician, auth.RolePharmacist))
	readGroup.POST("/check-interactions", h.CheckInteractions)
	readGroup.POST("/check-allergies", h.CheckAllergies)
	readGroup.POST("/check-duplicates", h.CheckDuplicates)
	readGroup.POST("/review", h.Review)
	readGroup.GET("/allergies/:patientId", h.ListAllergies)
	readGroup.GET("/drug-interactions", h.ListDrugInteractions)
	readGroup.GET("/drug-interactions/:id", h.GetDrugInteraction)

	// Allergy writes – admin, physician
	writeGroup := g.Group("", auth.RequireRole(auth.RolePhysician))
	writeGroup.POST("/allergies", h.AddAllergy)
	writeGroup.DELETE("/allergies/:id", h.DeleteAllergy)

	// Catalog maintenance – admin, pharmacist
	catalogGroup := g.Group("", auth.RequireRole(auth.RolePharmacist))
	catalogGroup.POST("/drug-interactions", h.UpsertDrugInteraction)
	catalogGroup.DELETE("/drug-interactions/:id", h.DeleteDrugInteraction)
	catalogGroup.POST("/seed-interactions", h.SeedInteractions)
}

type medicationsRequest struct {
	PatientID   string                `json:"patient_id,omitempty"`
	Medications []MedicationCandidate `json:"medications"`
}

func bindMedications(c echo.Context) (medicationsRequest, error) {
	var req medicationsRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return req, nil
}

func parsePatientID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	return id, nil
}

func (h *Handler) CheckInteractions(c echo.Context) error {
	req, err := bindMedications(c)
	if err != nil {
		return err
	}
	alerts, err := h.svc.CheckInteractions(c.Request().Context(), req.Medications)
	if err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, alerts)
}

func (h *Handler) CheckAllergies(c echo.Context) error {
	req, err := bindMedications(c)
	if err != nil {
		return err
	}
	patientID, err := parsePatientID(req.PatientID)
	if err != nil {
		return err
	}
	alerts, err := h.svc.CheckAllergies(c.Request().Context(), patientID, req.Medications)
	if err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, alerts)
}

func (h *Handler) CheckDuplicates(c echo.Context) error {
	req, err := bindMedications(c)
	if err != nil {
		return err
	}
	warnings, err := h.svc.CheckDuplicates(req.Medications)
	if err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, warnings)
}

func (h *Handler) Review(c echo.Context) error {
	req, err := bindMedications(c)
	if err != nil {
		return err
	}
	var patientID *uuid.UUID
	if req.PatientID != "" {
		id, err := parsePatientID(req.PatientID)
		if err != nil {
			return err
		}
		patientID = &id
	}
	review, err := h.svc.ReviewMedications(c.Request().Context(), patientID, req.Medications)
	if err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, review)
}

// -- Allergies --

func (h *Handler) ListAllergies(c echo.Context) error {
	patientID, err := parsePatientID(c.Param("patientId"))
	if err != nil {
		return err
	}
	items, err := h.svc.ListAllergies(c.Request().Context(), patientID)
	if err != nil {
		return httperr.From(err, "")
	}
	if items == nil {
		items = []*Allergy{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddAllergy(c echo.Context) error {
	var a Allergy
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddAllergy(c.Request().Context(), &a); err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) DeleteAllergy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteAllergy(c.Request().Context(), id); err != nil {
		return httperr.From(err, "allergy not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Drug interaction catalog --

func (h *Handler) ListDrugInteractions(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListInteractions(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httperr.From(err, "")
	}
	if items == nil {
		items = []*DrugInteraction{}
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset).
		WithLinks(c.Request().URL.Path, c.QueryParams())
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetDrugInteraction(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetInteraction(c.Request().Context(), id)
	if err != nil {
		return httperr.From(err, "drug interaction not found")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpsertDrugInteraction(c echo.Context) error {
	var d DrugInteraction
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpsertInteraction(c.Request().Context(), &d); err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteDrugInteraction(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteInteraction(c.Request().Context(), id); err != nil {
		return httperr.From(err, "drug interaction not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SeedInteractions(c echo.Context) error {
	n, err := h.svc.SeedInteractions(c.Request().Context())
	if err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"seeded":  n,
		"message": "Common drug interactions seeded",
	})
}
