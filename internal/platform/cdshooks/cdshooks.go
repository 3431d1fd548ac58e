// Package cdshooks serves the HL7 CDS Hooks 2.0 discovery, invocation and
// feedback endpoints. Domain packages register services whose handlers turn
// advisories into cards.
package cdshooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/platform/db"
)

// Card indicators, most urgent first.
const (
	IndicatorCritical = "critical"
	IndicatorWarning  = "warning"
	IndicatorInfo     = "info"
)

// SourceLabel identifies cards produced by this engine.
const SourceLabel = "CDS Engine"

// ---------------------------------------------------------------------------
// CDS Hooks 2.0 types
// ---------------------------------------------------------------------------

// Service describes a single CDS service returned in discovery.
type Service struct {
	Hook              string            `json:"hook"`
	Title             string            `json:"title,omitempty"`
	Description       string            `json:"description"`
	ID                string            `json:"id"`
	Prefetch          map[string]string `json:"prefetch,omitempty"`
	UsageRequirements string            `json:"usageRequirements,omitempty"`
}

// Request is the payload POSTed to invoke a hook.
type Request struct {
	Hook         string                     `json:"hook"`
	HookInstance string                     `json:"hookInstance"`
	FHIRServer   string                     `json:"fhirServer,omitempty"`
	Context      map[string]json.RawMessage `json:"context"`
	Prefetch     map[string]json.RawMessage `json:"prefetch,omitempty"`
}

// DecodeContext unmarshals context[key] into v. A missing key is an error
// when required is set and leaves v untouched otherwise.
func (r Request) DecodeContext(key string, v interface{}, required bool) error {
	raw, ok := r.Context[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		if required {
			return BadRequest(fmt.Errorf("context.%s is required", key))
		}
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return BadRequest(fmt.Errorf("context.%s: %v", key, err))
	}
	return nil
}

// Card is a single card in the hook response.
type Card struct {
	UUID              string       `json:"uuid,omitempty"`
	Summary           string       `json:"summary"`
	Detail            string       `json:"detail,omitempty"`
	Indicator         string       `json:"indicator"`
	Source            Source       `json:"source"`
	Suggestions       []Suggestion `json:"suggestions,omitempty"`
	Links             []Link       `json:"links,omitempty"`
	OverrideReasons   []Coding     `json:"overrideReasons,omitempty"`
	SelectionBehavior string       `json:"selectionBehavior,omitempty"`
}

// Source identifies the source of a card.
type Source struct {
	Label string  `json:"label"`
	URL   string  `json:"url,omitempty"`
	Icon  string  `json:"icon,omitempty"`
	Topic *Coding `json:"topic,omitempty"`
}

// Suggestion is a suggested action within a card.
type Suggestion struct {
	Label         string   `json:"label"`
	UUID          string   `json:"uuid,omitempty"`
	IsRecommended bool     `json:"isRecommended,omitempty"`
	Actions       []Action `json:"actions,omitempty"`
}

// Action is an individual action within a suggestion.
type Action struct {
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Resource    interface{} `json:"resource,omitempty"`
}

// Link is an external link within a card.
type Link struct {
	Label      string `json:"label"`
	URL        string `json:"url"`
	Type       string `json:"type"`
	AppContext string `json:"appContext,omitempty"`
}

// Coding is a code/system/display triple.
type Coding struct {
	Code    string `json:"code"`
	System  string `json:"system,omitempty"`
	Display string `json:"display,omitempty"`
}

// Response is returned from hook invocation. Cards is never null.
type Response struct {
	Cards         []Card   `json:"cards"`
	SystemActions []Action `json:"systemActions,omitempty"`
}

// Feedback records what the user did with a card.
type Feedback struct {
	Card             string   `json:"card"`
	Outcome          string   `json:"outcome"`
	OverrideReasons  []Coding `json:"overrideReasons,omitempty"`
	OutcomeTimestamp string   `json:"outcomeTimestamp,omitempty"`
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// RequestError marks a hook failure caused by the caller's input.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return e.Err.Error() }
func (e *RequestError) Unwrap() error { return e.Err }

// BadRequest wraps err so the hook responds 400.
func BadRequest(err error) error {
	if err == nil {
		return nil
	}
	return &RequestError{Err: err}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"message": msg}
}

// ---------------------------------------------------------------------------
// Handler function types
// ---------------------------------------------------------------------------

// ServiceHandler processes a hook request and returns cards.
type ServiceHandler func(ctx context.Context, req Request) (*Response, error)

// FeedbackHandler processes feedback for a service.
type FeedbackHandler func(ctx context.Context, serviceID string, fb Feedback) error

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

// Handler implements the CDS Hooks REST API over a registry of services.
type Handler struct {
	services         map[string]Service
	handlers         map[string]ServiceHandler
	feedbackHandlers map[string]FeedbackHandler
	order            []string
	logger           zerolog.Logger
}

func NewHandler(logger zerolog.Logger) *Handler {
	return &Handler{
		services:         make(map[string]Service),
		handlers:         make(map[string]ServiceHandler),
		feedbackHandlers: make(map[string]FeedbackHandler),
		logger:           logger,
	}
}

// RegisterService registers a service and its handler. Discovery lists
// services in registration order.
func (h *Handler) RegisterService(svc Service, handler ServiceHandler) {
	if _, exists := h.services[svc.ID]; !exists {
		h.order = append(h.order, svc.ID)
	}
	h.services[svc.ID] = svc
	h.handlers[svc.ID] = handler
}

// RegisterFeedbackHandler registers an optional feedback handler for a service.
func (h *Handler) RegisterFeedbackHandler(serviceID string, handler FeedbackHandler) {
	h.feedbackHandlers[serviceID] = handler
}

// RegisterRoutes mounts the API under /cds-services with mw applied.
func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	g := e.Group("/cds-services", mw...)
	g.GET("", h.Discovery)
	g.POST("/:id", h.HandleHook)
	g.POST("/:id/feedback", h.HandleFeedback)
}

// Discovery handles GET /cds-services.
func (h *Handler) Discovery(c echo.Context) error {
	services := make([]Service, 0, len(h.order))
	for _, id := range h.order {
		if svc, ok := h.services[id]; ok {
			services = append(services, svc)
		}
	}
	return c.JSON(http.StatusOK, map[string][]Service{
		"services": services,
	})
}

// HandleHook handles POST /cds-services/:id.
func (h *Handler) HandleHook(c echo.Context) error {
	serviceID := c.Param("id")

	svc, ok := h.services[serviceID]
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody(fmt.Sprintf("CDS service %q not found", serviceID)))
	}

	var req Request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(fmt.Sprintf("invalid request body: %v", err)))
	}

	if req.Hook != svc.Hook {
		return c.JSON(http.StatusBadRequest, errorBody(
			fmt.Sprintf("hook mismatch: request hook %q does not match service hook %q", req.Hook, svc.Hook),
		))
	}

	if req.HookInstance == "" {
		return c.JSON(http.StatusBadRequest, errorBody("hookInstance is required"))
	}

	handler, ok := h.handlers[serviceID]
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorBody("no handler registered for service"))
	}

	resp, err := handler(c.Request().Context(), req)
	if err != nil {
		var reqErr *RequestError
		switch {
		case errors.As(err, &reqErr):
			return c.JSON(http.StatusBadRequest, errorBody(reqErr.Error()))
		case db.IsUnavailable(err):
			h.logger.Error().Err(err).Str("service", serviceID).Str("hook_instance", req.HookInstance).
				Msg("cds hook could not reach reference data")
			return c.JSON(http.StatusServiceUnavailable, errorBody("data unavailable"))
		default:
			h.logger.Error().Err(err).Str("service", serviceID).Msg("cds hook failed")
			return c.JSON(http.StatusInternalServerError, errorBody("internal error"))
		}
	}
	if resp == nil {
		resp = &Response{}
	}
	if resp.Cards == nil {
		resp.Cards = []Card{}
	}

	return c.JSON(http.StatusOK, resp)
}

// HandleFeedback handles POST /cds-services/:id/feedback.
func (h *Handler) HandleFeedback(c echo.Context) error {
	serviceID := c.Param("id")

	if _, ok := h.services[serviceID]; !ok {
		return c.JSON(http.StatusNotFound, errorBody(fmt.Sprintf("CDS service %q not found", serviceID)))
	}

	var fb Feedback
	if err := json.NewDecoder(c.Request().Body).Decode(&fb); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(fmt.Sprintf("invalid feedback body: %v", err)))
	}

	handler, ok := h.feedbackHandlers[serviceID]
	if !ok {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	if err := handler(c.Request().Context(), serviceID, fb); err != nil {
		h.logger.Error().Err(err).Str("service", serviceID).Msg("cds feedback failed")
		return c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// LogFeedback is a FeedbackHandler that records card outcomes in the log.
func LogFeedback(logger zerolog.Logger) FeedbackHandler {
	return func(_ context.Context, serviceID string, fb Feedback) error {
		ev := logger.Info().Str("service", serviceID).Str("card", fb.Card).Str("outcome", fb.Outcome)
		if len(fb.OverrideReasons) > 0 {
			ev = ev.Str("override_reason", fb.OverrideReasons[0].Code)
		}
		ev.Msg("cds card feedback")
		return nil
	}
}
