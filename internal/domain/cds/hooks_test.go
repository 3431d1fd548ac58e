package cds

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/platform/cdshooks"
	"github.com/ehr/cdsengine/internal/platform/db"
)

func hookRequest(t *testing.T, ctx map[string]interface{}) cdshooks.Request {
	t.Helper()
	req := cdshooks.Request{
		Hook:         HookMedicationPrescribe,
		HookInstance: uuid.New().String(),
		Context:      map[string]json.RawMessage{},
	}
	for k, v := range ctx {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		req.Context[k] = raw
	}
	return req
}

func TestHandleMedicationPrescribe_Cards(t *testing.T) {
	svc := newSeededService(t)
	patient := uuid.New()
	addAllergy(t, svc, patient, "Clarithromycin", AllergenTypeDrug)

	resp, err := svc.HandleMedicationPrescribe(context.Background(), hookRequest(t, map[string]interface{}{
		"patientId":   patient.String(),
		"medications": meds("Simvastatin", "Clarithromycin", "Warfarin", "Aspirin", "aspirin"),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var indicators []string
	for _, c := range resp.Cards {
		indicators = append(indicators, c.Indicator)
		if c.Source.Label != cdshooks.SourceLabel {
			t.Errorf("unexpected source %q", c.Source.Label)
		}
	}
	// CONTRAINDICATED, two SERIOUS (Warfarin/Aspirin, Warfarin/aspirin), allergy, duplicate.
	want := "critical,critical,critical,critical,warning"
	if strings.Join(indicators, ",") != want {
		t.Errorf("expected %s, got %v", want, indicators)
	}
	if !strings.HasPrefix(resp.Cards[0].Summary, "CONTRAINDICATED interaction") {
		t.Errorf("unexpected first summary %q", resp.Cards[0].Summary)
	}
}

func TestHandleMedicationPrescribe_NoPatient(t *testing.T) {
	svc := newSeededService(t)
	resp, err := svc.HandleMedicationPrescribe(context.Background(), hookRequest(t, map[string]interface{}{
		"medications": meds("ACE Inhibitors", "Spironolactone"),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Cards) != 1 || resp.Cards[0].Indicator != cdshooks.IndicatorWarning {
		t.Errorf("expected one warning card, got %+v", resp.Cards)
	}
}

func TestHandleMedicationPrescribe_BadInput(t *testing.T) {
	svc := newSeededService(t)
	tests := []struct {
		name string
		ctx  map[string]interface{}
	}{
		{"missing medications", map[string]interface{}{"patientId": uuid.New().String()}},
		{"bad patient", map[string]interface{}{"patientId": "xyz", "medications": meds("A", "B")}},
		{"blank name", map[string]interface{}{"medications": meds("A", "")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.HandleMedicationPrescribe(context.Background(), hookRequest(t, tt.ctx))
			var reqErr *cdshooks.RequestError
			if !errors.As(err, &reqErr) {
				t.Errorf("expected request error, got %v", err)
			}
		})
	}
}

func TestHandleMedicationPrescribe_Unavailable(t *testing.T) {
	svc := NewService(failingRepo{}, failingRepo{}, zerolog.Nop())
	_, err := svc.HandleMedicationPrescribe(context.Background(), hookRequest(t, map[string]interface{}{
		"medications": meds("Warfarin", "Aspirin"),
	}))
	if !db.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestInteractionIndicator(t *testing.T) {
	tests := map[Severity]string{
		SeverityContraindicated: cdshooks.IndicatorCritical,
		SeveritySerious:         cdshooks.IndicatorCritical,
		SeverityMonitor:         cdshooks.IndicatorWarning,
		SeverityMinor:           cdshooks.IndicatorInfo,
	}
	for sev, want := range tests {
		if got := InteractionIndicator(sev); got != want {
			t.Errorf("%s: expected %s, got %s", sev, want, got)
		}
	}
}

func TestRegisterHooks_ServesOverHTTP(t *testing.T) {
	svc := NewService(failingRepo{}, failingRepo{}, zerolog.Nop())
	hooks := cdshooks.NewHandler(zerolog.Nop())
	svc.RegisterHooks(hooks)
	e := echo.New()
	hooks.RegisterRoutes(e)

	body := `{"hook":"medication-prescribe","hookInstance":"abc","context":{"medications":[{"name":"Warfarin"},{"name":"Aspirin"}]}}`
	req := httptest.NewRequest(http.MethodPost, "/cds-services/"+MedicationReviewService, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
}
