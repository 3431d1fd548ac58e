package patient

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
	readGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleRadiologist, auth.RoleLabTechnician, auth.RolePharmacist))
	readGroup.GET("/patients/:id/demographics", h.GetDemographics)
	readGroup.GET("/patients/:id/safety-screen", h.GetSafetyProfile)

	writeGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleRadiologist))
	writeGroup.PUT("/patients/:id/demographics", h.PutDemographics)
	writeGroup.PUT("/patients/:id/safety-screen", h.PutSafetyProfile)
}

func patientID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) GetDemographics(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDemographics(c.Request().Context(), id)
	if err != nil {
		return httperr.From(err, "demographics not found")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) PutDemographics(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var d Demographics
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.PatientID = id
	if err := h.svc.SaveDemographics(c.Request().Context(), &d); err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetSafetyProfile(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetSafetyProfile(c.Request().Context(), id)
	if err != nil {
		return httperr.From(err, "safety screen not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) PutSafetyProfile(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var p SafetyProfile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.PatientID = id
	if err := h.svc.SaveSafetyProfile(c.Request().Context(), &p); err != nil {
		return httperr.From(err, "")
	}
	return c.JSON(http.StatusOK, p)
}
