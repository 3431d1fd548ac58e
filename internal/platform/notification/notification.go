// Package notification delivers clinical alerts over push, SMS and email
// with template rendering, an in-memory outbox, retry, and Echo handlers
// for inspecting what was sent.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/platform/auth"
	"github.com/ehr/cdsengine/internal/platform/db"
)

// ---------------------------------------------------------------------------
// Notification Types
// ---------------------------------------------------------------------------

// NotificationType represents the channel used to deliver a notification.
type NotificationType string

const (
	TypeEmail NotificationType = "email"
	TypeSMS   NotificationType = "sms"
	TypePush  NotificationType = "push"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Built-in template ids used by lab result intake.
const (
	TemplateLabCritical = "lab-critical-result"
	TemplateLabDelta    = "lab-delta-change"
)

// DefaultOutboxSize bounds how many notifications the dispatcher retains.
const DefaultOutboxSize = 1000

// Notification represents a single outbound notification. Tenant is the
// tenant the notification was sent under; only that tenant can read it back.
type Notification struct {
	ID           string            `json:"id"`
	Tenant       string            `json:"tenant,omitempty"`
	Type         NotificationType  `json:"type"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Priority     string            `json:"priority"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ---------------------------------------------------------------------------
// Sender Interfaces
// ---------------------------------------------------------------------------

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

type PushSender interface {
	SendPush(ctx context.Context, to, title, body string) error
}

// Senders groups the channel transports. A nil channel fails sends on it.
type Senders struct {
	Email EmailSender
	SMS   SMSSender
	Push  PushSender
}

// LogSender writes notifications to a zerolog logger instead of a real
// transport. Subjects and bodies carry PHI, so only their lengths are logged.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "notification").Logger()}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().Str("channel", string(TypeEmail)).Str("recipient", to).
		Int("subject_len", len(subject)).Int("body_len", len(body)).Msg("notification delivered")
	return nil
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("channel", string(TypeSMS)).Str("recipient", to).
		Int("body_len", len(body)).Msg("notification delivered")
	return nil
}

func (s *LogSender) SendPush(_ context.Context, to, title, body string) error {
	s.logger.Info().Str("channel", string(TypePush)).Str("recipient", to).
		Int("title_len", len(title)).Int("body_len", len(body)).Msg("notification delivered")
	return nil
}

// LogSenders routes every channel to one LogSender.
func LogSenders(logger zerolog.Logger) Senders {
	s := NewLogSender(logger)
	return Senders{Email: s, SMS: s, Push: s}
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template defines a reusable notification template.
type Template struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Subject  string           `json:"subject"`
	Body     string           `json:"body"`
	Type     NotificationType `json:"type"`
	Priority string           `json:"priority"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:       TemplateLabCritical,
			Name:     "Critical Lab Result",
			Subject:  "CRITICAL: {{test_name}} for patient {{patient_id}}",
			Body:     "{{test_name}} ({{test_code}}) resulted {{value}} {{unit}}, flagged {{flag}}. Review immediately.",
			Type:     TypePush,
			Priority: "urgent",
		},
		{
			ID:       TemplateLabDelta,
			Name:     "Significant Lab Change",
			Subject:  "Significant change in {{test_name}} for patient {{patient_id}}",
			Body:     "{{test_name}} ({{test_code}}) changed from {{previous_value}} to {{value}} ({{percent_change}}%).",
			Type:     TypePush,
			Priority: "high",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Lookup returns a copy of the template with id.
func (e *TemplateEngine) Lookup(id string) (Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	if !ok {
		return Template{}, false
	}
	return *t, true
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	t, ok := e.Lookup(templateID)
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Dispatcher sends notifications and keeps a bounded outbox of the results.
type Dispatcher struct {
	senders   Senders
	templates *TemplateEngine

	mu     sync.RWMutex
	byID   map[string]*Notification
	order  []string
	maxLen int
}

// NewDispatcher constructs a Dispatcher. A nil engine gets the built-ins.
func NewDispatcher(senders Senders, tpl *TemplateEngine) *Dispatcher {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Dispatcher{
		senders:   senders,
		templates: tpl,
		byID:      make(map[string]*Notification),
		maxLen:    DefaultOutboxSize,
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n *Notification) error {
	switch n.Type {
	case TypeEmail:
		if d.senders.Email == nil {
			return errors.New("no email sender configured")
		}
		return d.senders.Email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case TypeSMS:
		if d.senders.SMS == nil {
			return errors.New("no sms sender configured")
		}
		return d.senders.SMS.SendSMS(ctx, n.Recipient, n.Body)
	case TypePush:
		if d.senders.Push == nil {
			return errors.New("no push sender configured")
		}
		return d.senders.Push.SendPush(ctx, n.Recipient, n.Subject, n.Body)
	default:
		return fmt.Errorf("unsupported notification type: %s", n.Type)
	}
}

// clone copies n so callers never share the outbox entry.
func clone(n *Notification) *Notification {
	cp := *n
	if n.SentAt != nil {
		sentAt := *n.SentAt
		cp.SentAt = &sentAt
	}
	if n.TemplateData != nil {
		cp.TemplateData = make(map[string]string, len(n.TemplateData))
		for k, v := range n.TemplateData {
			cp.TemplateData[k] = v
		}
	}
	return &cp
}

func (d *Dispatcher) store(n *Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byID[n.ID]; !exists {
		d.order = append(d.order, n.ID)
	}
	d.byID[n.ID] = clone(n)
	for len(d.order) > d.maxLen {
		delete(d.byID, d.order[0])
		d.order = d.order[1:]
	}
}

// Send dispatches n through its channel, assigns a fresh ID and timestamps, and
// records a copy of the outcome in the outbox under the context's tenant.
// The send error is also returned.
func (d *Dispatcher) Send(ctx context.Context, n *Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	n.ID = uuid.New().String()
	n.Tenant = db.TenantFromContext(ctx)
	n.CreatedAt = time.Now().UTC()
	n.Status = StatusPending

	sendErr := d.deliver(ctx, n)
	if sendErr != nil {
		n.Status = StatusFailed
		n.Error = sendErr.Error()
	} else {
		n.Status = StatusSent
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
	}

	d.store(n)
	return sendErr
}

// SendFromTemplate renders a template and sends the resulting notification.
// The returned notification is non-nil whenever rendering succeeded.
func (d *Dispatcher) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	tpl, ok := d.templates.Lookup(templateID)
	if !ok {
		return nil, fmt.Errorf("render template: template %q not found", templateID)
	}
	subject, body, err := d.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	priority := tpl.Priority
	if priority == "" {
		priority = "normal"
	}
	n := &Notification{
		Type:         tpl.Type,
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
		Priority:     priority,
	}

	if err := d.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// entry returns the outbox entry for id if it belongs to tenant. Callers
// must hold d.mu.
func (d *Dispatcher) entry(tenant, id string) (*Notification, bool) {
	n, ok := d.byID[id]
	if !ok || n.Tenant != tenant {
		return nil, false
	}
	return n, true
}

// Get returns a copy of the notification with id sent under the context's
// tenant. Other tenants' notifications are reported as not found.
func (d *Dispatcher) Get(ctx context.Context, id string) (*Notification, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.entry(db.TenantFromContext(ctx), id)
	if !ok {
		return nil, fmt.Errorf("notification %q not found", id)
	}
	return clone(n), nil
}

// ListByRecipient returns up to limit notifications for recipient within the
// context's tenant, newest first.
func (d *Dispatcher) ListByRecipient(ctx context.Context, recipient string, limit int) ([]*Notification, error) {
	tenant := db.TenantFromContext(ctx)
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := []*Notification{}
	for i := len(d.order) - 1; i >= 0 && len(result) < limit; i-- {
		if n, ok := d.entry(tenant, d.order[i]); ok && n.Recipient == recipient {
			result = append(result, clone(n))
		}
	}
	return result, nil
}

// Retry re-sends a failed notification of the context's tenant.
func (d *Dispatcher) Retry(ctx context.Context, id string) error {
	tenant := db.TenantFromContext(ctx)
	d.mu.RLock()
	n, ok := d.entry(tenant, id)
	var snapshot *Notification
	if ok {
		snapshot = clone(n)
	}
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("notification %q not found", id)
	}
	if snapshot.Status != StatusFailed {
		return fmt.Errorf("notification %q is not in failed status (current: %s)", id, snapshot.Status)
	}

	sendErr := d.deliver(ctx, snapshot)

	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok = d.entry(tenant, id)
	if !ok {
		// Evicted while the retry was in flight.
		return sendErr
	}
	if sendErr != nil {
		n.Status = StatusFailed
		n.Error = sendErr.Error()
	} else {
		n.Status = StatusSent
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
		n.Error = ""
	}
	return sendErr
}

// Stats returns counts of the context tenant's retained notifications
// grouped by status.
func (d *Dispatcher) Stats(ctx context.Context) map[string]int {
	tenant := db.TenantFromContext(ctx)
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := make(map[string]int)
	for _, n := range d.byID {
		if n.Tenant == tenant {
			stats[n.Status]++
		}
	}
	return stats
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

// Handler exposes the outbox over HTTP for administrators.
type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(d *Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications", auth.RequireRole(auth.RoleAdmin))
	g.GET("/stats", h.HandleStats)
	g.GET("/:id", h.HandleGet)
	g.GET("", h.HandleList)
	g.POST("/:id/retry", h.HandleRetry)
}

func (h *Handler) HandleGet(c echo.Context) error {
	n, err := h.dispatcher.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

// HandleList handles GET /notifications?recipient=...
func (h *Handler) HandleList(c echo.Context) error {
	recipient := c.QueryParam("recipient")
	if recipient == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient query parameter is required")
	}

	list, err := h.dispatcher.ListByRecipient(c.Request().Context(), recipient, 100)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) HandleRetry(c echo.Context) error {
	id := c.Param("id")
	if err := h.dispatcher.Retry(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	n, _ := h.dispatcher.Get(c.Request().Context(), id)
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.dispatcher.Stats(c.Request().Context()))
}
