package safety

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/cdsengine/internal/platform/cdshooks"
	"github.com/ehr/cdsengine/internal/platform/db"
)

const (
	HookOrderSelect         = "order-select"
	InvestigationSafetyHook = "cds-investigation-safety"
)

func HookService() cdshooks.Service {
	return cdshooks.Service{
		ID:          InvestigationSafetyHook,
		Hook:        HookOrderSelect,
		Title:       "Investigation safety screen",
		Description: "Screens selected imaging and contrast studies against the patient's implants, allergies, renal function and pregnancy status.",
	}
}

func (s *Service) RegisterHooks(h *cdshooks.Handler) {
	h.RegisterService(HookService(), s.HandleOrderSelect)
}

// HandleOrderSelect reads patientId and investigations from the hook
// context and returns one card per safety check.
func (s *Service) HandleOrderSelect(ctx context.Context, req cdshooks.Request) (*cdshooks.Response, error) {
	var rawPatient string
	if err := req.DecodeContext("patientId", &rawPatient, true); err != nil {
		return nil, err
	}
	patientID, err := uuid.Parse(rawPatient)
	if err != nil {
		return nil, cdshooks.BadRequest(fmt.Errorf("context.patientId: invalid id"))
	}
	var tests []Investigation
	if err := req.DecodeContext("investigations", &tests, true); err != nil {
		return nil, err
	}

	screening, err := s.Screen(ctx, patientID, tests)
	if err != nil {
		if db.IsUnavailable(err) {
			return nil, err
		}
		return nil, cdshooks.BadRequest(err)
	}
	return &cdshooks.Response{Cards: Cards(screening)}, nil
}

func Indicator(severity string) string {
	switch severity {
	case SeverityBlocking:
		return cdshooks.IndicatorCritical
	case SeverityWarning:
		return cdshooks.IndicatorWarning
	default:
		return cdshooks.IndicatorInfo
	}
}

func Cards(s *Screening) []cdshooks.Card {
	cards := make([]cdshooks.Card, 0, len(s.Checks))
	for _, c := range s.Checks {
		cards = append(cards, cdshooks.Card{
			UUID:      uuid.New().String(),
			Summary:   c.Message,
			Detail:    c.Recommendation,
			Indicator: Indicator(c.Severity),
			Source:    cdshooks.Source{Label: cdshooks.SourceLabel},
		})
	}
	return cards
}
