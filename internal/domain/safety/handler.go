package safety

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
	g := api.Group("/safety", auth.RequireRole(auth.RolePhysician, auth.RoleRadiologist))
	g.POST("/screen", h.Screen)
}

type screenRequest struct {
	PatientID      string          `json:"patient_id"`
	Investigations []Investigation `json:"investigations"`
	Acknowledged   []string        `json:"acknowledged,omitempty"`
}

func (h *Handler) Screen(c echo.Context) error {
	var req screenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	screening, err := h.svc.Screen(c.Request().Context(), patientID, req.Investigations)
	if err != nil {
		return httperr.From(err, "")
	}
	if err := screening.Acknowledge(req.Acknowledged); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, screening)
}
