package cds

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/platform/db"
)

// ── Mock Repositories ──

type mockInteractionRepo struct {
	mu      sync.Mutex
	data    map[uuid.UUID]*DrugInteraction
	order   []uuid.UUID
	calls   int
	batches []int
}

func newMockInteractionRepo() *mockInteractionRepo {
	return &mockInteractionRepo{data: make(map[uuid.UUID]*DrugInteraction)}
}

func (m *mockInteractionRepo) FindInteractions(_ context.Context, qs []InteractionQuery) ([][]*DrugInteraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls += len(qs)
	m.batches = append(m.batches, len(qs))
	out := make([][]*DrugInteraction, len(qs))
	for i, q := range qs {
		for _, id := range m.order {
			if d := m.data[id]; d.MatchesPair(q) {
				out[i] = append(out[i], d)
			}
		}
	}
	return out, nil
}
func (m *mockInteractionRepo) Upsert(_ context.Context, d *DrugInteraction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[d.ID]; !ok {
		m.order = append(m.order, d.ID)
		d.CreatedAt = time.Now()
	}
	d.UpdatedAt = time.Now()
	m.data[d.ID] = d
	return nil
}
func (m *mockInteractionRepo) GetByID(_ context.Context, id uuid.UUID) (*DrugInteraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.data[id]; ok {
		return d, nil
	}
	return nil, db.ErrNotFound
}
func (m *mockInteractionRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.data, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}
func (m *mockInteractionRepo) List(_ context.Context, limit, offset int) ([]*DrugInteraction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DrugInteraction
	for _, id := range m.order {
		out = append(out, m.data[id])
	}
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

type mockAllergyRepo struct {
	mu   sync.Mutex
	data []*Allergy
}

func (m *mockAllergyRepo) Create(_ context.Context, a *Allergy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.NotedAt = time.Now().Add(time.Duration(len(m.data)) * time.Second)
	m.data = append(m.data, a)
	return nil
}
func (m *mockAllergyRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.data {
		if a.ID == id {
			m.data = append(m.data[:i], m.data[i+1:]...)
			return nil
		}
	}
	return db.ErrNotFound
}
func (m *mockAllergyRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Allergy
	for _, a := range m.data {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NotedAt.After(out[j].NotedAt) })
	return out, nil
}
func (m *mockAllergyRepo) ListByPatientAndType(_ context.Context, patientID uuid.UUID, allergenType string) ([]*Allergy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Allergy
	for _, a := range m.data {
		if a.PatientID == patientID && a.AllergenType == allergenType {
			out = append(out, a)
		}
	}
	return out, nil
}

// failingRepo reports every read as unavailable.
type failingRepo struct{}

var errDown = errors.New("connection refused")

func (failingRepo) FindInteractions(context.Context, []InteractionQuery) ([][]*DrugInteraction, error) {
	return nil, db.Unavailable("find interactions", errDown)
}
func (failingRepo) Upsert(context.Context, *DrugInteraction) error {
	return db.Unavailable("upsert interaction", errDown)
}
func (failingRepo) GetByID(context.Context, uuid.UUID) (*DrugInteraction, error) {
	return nil, db.Unavailable("get interaction", errDown)
}
func (failingRepo) Delete(context.Context, uuid.UUID) error {
	return db.Unavailable("delete", errDown)
}
func (failingRepo) List(context.Context, int, int) ([]*DrugInteraction, int, error) {
	return nil, 0, db.Unavailable("list interactions", errDown)
}
func (failingRepo) Create(context.Context, *Allergy) error {
	return db.Unavailable("create allergy", errDown)
}
func (failingRepo) ListByPatient(context.Context, uuid.UUID) ([]*Allergy, error) {
	return nil, db.Unavailable("list allergies", errDown)
}
func (failingRepo) ListByPatientAndType(context.Context, uuid.UUID, string) ([]*Allergy, error) {
	return nil, db.Unavailable("find allergies", errDown)
}

func newTestService() *Service {
	return NewService(newMockInteractionRepo(), &mockAllergyRepo{}, zerolog.Nop())
}

func newSeededService(t *testing.T) *Service {
	t.Helper()
	svc := newTestService()
	if _, err := svc.SeedInteractions(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return svc
}

func meds(names ...string) []MedicationCandidate {
	out := make([]MedicationCandidate, len(names))
	for i, n := range names {
		out[i] = MedicationCandidate{Name: n}
	}
	return out
}

// ── Interaction Matcher ──

func TestCheckInteractions_WarfarinAspirin(t *testing.T) {
	svc := newSeededService(t)
	alerts, err := svc.CheckInteractions(context.Background(), meds("Warfarin", "Aspirin"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Severity != SeveritySerious || a.Drug1 != "Warfarin" || a.Drug2 != "Aspirin" {
		t.Errorf("unexpected alert: %+v", a)
	}
	if a.ClinicalEffect != "Increased risk of bleeding" {
		t.Errorf("unexpected clinical effect %q", a.ClinicalEffect)
	}
	if a.Mechanism == nil || *a.Mechanism != "Pharmacodynamic synergism" {
		t.Errorf("expected mechanism to be carried over")
	}
}

func TestCheckInteractions_ReverseOrientation(t *testing.T) {
	svc := newSeededService(t)
	alerts, err := svc.CheckInteractions(context.Background(), meds("aspirin", "WARFARIN"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Drug1 != "aspirin" || alerts[0].Drug2 != "WARFARIN" {
		t.Errorf("expected caller names in scan order, got %s/%s", alerts[0].Drug1, alerts[0].Drug2)
	}
}

func TestCheckInteractions_Symmetric(t *testing.T) {
	svc := newSeededService(t)
	ab, _ := svc.CheckInteractions(context.Background(), meds("Simvastatin", "Clarithromycin"))
	ba, _ := svc.CheckInteractions(context.Background(), meds("Clarithromycin", "Simvastatin"))
	if len(ab) != len(ba) || len(ab) != 1 {
		t.Fatalf("expected one alert both ways, got %d and %d", len(ab), len(ba))
	}
	if ab[0].Severity != ba[0].Severity || ab[0].ClinicalEffect != ba[0].ClinicalEffect {
		t.Errorf("expected the same record both ways")
	}
}

func TestCheckInteractions_MatchesByGeneric(t *testing.T) {
	svc := newSeededService(t)
	alerts, err := svc.CheckInteractions(context.Background(), []MedicationCandidate{
		{Name: "Prozac", GenericName: "fluoxetine"},
		{Name: "Advil", GenericName: "Ibuprofen"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Severity != SeverityMonitor {
		t.Fatalf("expected one MONITOR alert, got %+v", alerts)
	}
}

func TestCheckInteractions_BlankGenericNeverMatches(t *testing.T) {
	svc := newSeededService(t)
	alerts, err := svc.CheckInteractions(context.Background(), []MedicationCandidate{
		{Name: "Paracetamol", GenericName: ""},
		{Name: "Spironolactone"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, got %+v", alerts)
	}
}

func TestCheckInteractions_SortedBySeverity(t *testing.T) {
	svc := newSeededService(t)
	alerts, err := svc.CheckInteractions(context.Background(),
		meds("Warfarin", "Aspirin", "Simvastatin", "Clarithromycin"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].Severity != SeverityContraindicated || alerts[1].Severity != SeveritySerious {
		t.Errorf("expected CONTRAINDICATED before SERIOUS, got %s, %s", alerts[0].Severity, alerts[1].Severity)
	}
}

func TestCheckInteractions_FewerThanTwo(t *testing.T) {
	svc := newSeededService(t)
	for _, in := range [][]MedicationCandidate{nil, meds("Warfarin"), {{Name: ""}}} {
		alerts, err := svc.CheckInteractions(context.Background(), in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if alerts == nil || len(alerts) != 0 {
			t.Errorf("expected empty non-nil result, got %v", alerts)
		}
	}
}

func TestCheckInteractions_BlankName(t *testing.T) {
	svc := newSeededService(t)
	_, err := svc.CheckInteractions(context.Background(), meds("Warfarin", "  "))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if db.IsUnavailable(err) {
		t.Error("validation error must not be classified as unavailable")
	}
}

func TestCheckInteractions_Unavailable(t *testing.T) {
	svc := NewService(failingRepo{}, failingRepo{}, zerolog.Nop())
	alerts, err := svc.CheckInteractions(context.Background(), meds("Warfarin", "Aspirin"))
	if !db.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if alerts != nil {
		t.Errorf("expected no alerts on failure, got %v", alerts)
	}
}

func TestCheckInteractions_ConcurrencyPreservesOrder(t *testing.T) {
	repo := newMockInteractionRepo()
	svc := NewService(repo, &mockAllergyRepo{}, zerolog.Nop())
	for _, d := range ReferenceInteractions() {
		if err := svc.UpsertInteraction(context.Background(), d); err != nil {
			t.Fatal(err)
		}
	}
	in := meds("Metformin", "Contrast Media", "Warfarin", "Aspirin", "ACE Inhibitors", "Spironolactone")

	svc.SetLimits(1, 0)
	serial, err := svc.CheckInteractions(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	svc.SetLimits(16, 0)
	parallel, err := svc.CheckInteractions(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(serial) != 3 || len(parallel) != 3 {
		t.Fatalf("expected 3 alerts, got %d and %d", len(serial), len(parallel))
	}
	for i := range serial {
		if serial[i].Drug1 != parallel[i].Drug1 || serial[i].Drug2 != parallel[i].Drug2 {
			t.Errorf("position %d differs: %+v vs %+v", i, serial[i], parallel[i])
		}
	}
	// Metformin/Contrast Media is scanned before Warfarin/Aspirin.
	if serial[0].Drug1 != "Metformin" || serial[1].Drug1 != "Warfarin" {
		t.Errorf("expected pair-scan order within SERIOUS, got %s then %s", serial[0].Drug1, serial[1].Drug1)
	}
	if repo.calls != 2*15 {
		t.Errorf("expected one lookup per pair, got %d", repo.calls)
	}
	if len(repo.batches) != 1+15 {
		t.Errorf("expected 1 serial batch and 15 parallel batches, got %v", repo.batches)
	}
}

func TestCheckInteractions_PinnedConnectionUsesOneBatch(t *testing.T) {
	repo := newMockInteractionRepo()
	svc := NewService(repo, &mockAllergyRepo{}, zerolog.Nop())
	for _, d := range ReferenceInteractions() {
		if err := svc.UpsertInteraction(context.Background(), d); err != nil {
			t.Fatal(err)
		}
	}
	svc.SetLimits(16, 0)
	ctx := db.WithTenant(context.Background(), "clinic_a", &pgxpool.Conn{})

	alerts, err := svc.CheckInteractions(ctx, meds("Metformin", "Contrast Media", "Warfarin", "Aspirin", "ACE Inhibitors", "Spironolactone"))
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(alerts))
	}
	if len(repo.batches) != 1 || repo.batches[0] != 15 {
		t.Errorf("expected all 15 pairs in one batch, got %v", repo.batches)
	}
}

// shortRepo answers fewer queries than it was asked.
type shortRepo struct{ failingRepo }

func (shortRepo) FindInteractions(context.Context, []InteractionQuery) ([][]*DrugInteraction, error) {
	return [][]*DrugInteraction{}, nil
}

func TestCheckInteractions_ShortBatchIsUnavailable(t *testing.T) {
	svc := NewService(shortRepo{}, failingRepo{}, zerolog.Nop())
	_, err := svc.CheckInteractions(context.Background(), meds("Warfarin", "Aspirin"))
	if !db.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

// ── Allergy Matcher ──

func addAllergy(t *testing.T, svc *Service, patientID uuid.UUID, allergen, allergenType string) {
	t.Helper()
	a := &Allergy{PatientID: patientID, Allergen: allergen, AllergenType: allergenType, Severity: "SEVERE", Reaction: ptrStr("Anaphylaxis")}
	if err := svc.AddAllergy(context.Background(), a); err != nil {
		t.Fatalf("add allergy: %v", err)
	}
}

func TestCheckAllergies_Matches(t *testing.T) {
	svc := newTestService()
	patient := uuid.New()
	addAllergy(t, svc, patient, "Penicillin", AllergenTypeDrug)

	alerts, err := svc.CheckAllergies(context.Background(), patient, meds("Penicillin V"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Allergen != "Penicillin" || alerts[0].Medication != "Penicillin V" || alerts[0].Severity != "SEVERE" {
		t.Errorf("unexpected alert: %+v", alerts[0])
	}
}

func TestCheckAllergies_ByGenericName(t *testing.T) {
	svc := newTestService()
	patient := uuid.New()
	addAllergy(t, svc, patient, "amoxicillin", AllergenTypeDrug)

	alerts, err := svc.CheckAllergies(context.Background(), patient,
		[]MedicationCandidate{{Name: "Augmentin", GenericName: "Amoxicillin/Clavulanate"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
}

func TestCheckAllergies_IgnoresNonDrug(t *testing.T) {
	svc := newTestService()
	patient := uuid.New()
	addAllergy(t, svc, patient, "Peanut", "FOOD")

	alerts, err := svc.CheckAllergies(context.Background(), patient, meds("Peanut oil emulsion"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts for food allergy, got %+v", alerts)
	}
}

func TestCheckAllergies_NoAllergies(t *testing.T) {
	svc := newTestService()
	alerts, err := svc.CheckAllergies(context.Background(), uuid.New(), meds("Aspirin"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alerts == nil || len(alerts) != 0 {
		t.Errorf("expected empty non-nil result, got %v", alerts)
	}
}

func TestCheckAllergies_DiscoveryOrder(t *testing.T) {
	svc := newTestService()
	patient := uuid.New()
	addAllergy(t, svc, patient, "Sulfa", AllergenTypeDrug)
	addAllergy(t, svc, patient, "Sulfamethoxazole", AllergenTypeDrug)

	alerts, err := svc.CheckAllergies(context.Background(), patient, meds("Aspirin", "Sulfamethoxazole"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].Allergen != "Sulfa" || alerts[1].Allergen != "Sulfamethoxazole" {
		t.Errorf("unexpected order: %s, %s", alerts[0].Allergen, alerts[1].Allergen)
	}
}

func TestCheckAllergies_Unavailable(t *testing.T) {
	svc := NewService(failingRepo{}, failingRepo{}, zerolog.Nop())
	_, err := svc.CheckAllergies(context.Background(), uuid.New(), meds("Aspirin"))
	if !db.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestCheckAllergies_RequiresPatient(t *testing.T) {
	svc := newTestService()
	if _, err := svc.CheckAllergies(context.Background(), uuid.Nil, meds("Aspirin")); err == nil {
		t.Error("expected error for missing patient")
	}
}

// ── Duplicate Therapy Detector ──

func TestCheckDuplicates(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"none", []string{"Aspirin", "Warfarin"}, []string{}},
		{"case and space", []string{"Panadol", "panadol "}, []string{"Duplicate medication detected: Panadol"}},
		{"triple", []string{"Metformin", "metformin", "METFORMIN"}, []string{
			"Duplicate medication detected: Metformin",
			"Duplicate medication detected: Metformin",
		}},
		{"empty", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckDuplicates(meds(tt.in...))
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("warning %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestService_CheckDuplicates_BlankName(t *testing.T) {
	svc := newTestService()
	if _, err := svc.CheckDuplicates(meds("Aspirin", "")); err == nil {
		t.Error("expected validation error")
	}
}

// ── Review ──

func TestReviewMedications(t *testing.T) {
	svc := newSeededService(t)
	patient := uuid.New()
	addAllergy(t, svc, patient, "Aspirin", AllergenTypeDrug)

	review, err := svc.ReviewMedications(context.Background(), &patient, meds("Warfarin", "Aspirin", "warfarin"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Warfarin/Aspirin and Aspirin/warfarin both match the same record.
	if len(review.Interactions) != 2 {
		t.Errorf("expected 2 interaction alerts, got %d", len(review.Interactions))
	}
	if len(review.Allergies) != 1 {
		t.Errorf("expected 1 allergy alert, got %d", len(review.Allergies))
	}
	if len(review.Duplicates) != 1 {
		t.Errorf("expected 1 duplicate warning, got %d", len(review.Duplicates))
	}
	if !review.HasAdvisories() {
		t.Error("expected advisories")
	}
}

func TestReviewMedications_NoPatientSkipsAllergies(t *testing.T) {
	repo := newMockInteractionRepo()
	svc := NewService(repo, failingRepo{}, zerolog.Nop())
	review, err := svc.ReviewMedications(context.Background(), nil, meds("Aspirin"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if review.Allergies == nil || len(review.Allergies) != 0 {
		t.Errorf("expected empty allergies, got %v", review.Allergies)
	}
	if review.HasAdvisories() {
		t.Error("expected no advisories")
	}
}

func TestReviewMedications_Unavailable(t *testing.T) {
	svc := NewService(newMockInteractionRepo(), failingRepo{}, zerolog.Nop())
	patient := uuid.New()
	_, err := svc.ReviewMedications(context.Background(), &patient, meds("Aspirin", "Warfarin"))
	if !db.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

// ── Catalog ──

func TestSeedInteractions_Idempotent(t *testing.T) {
	repo := newMockInteractionRepo()
	svc := NewService(repo, &mockAllergyRepo{}, zerolog.Nop())
	for i := 0; i < 2; i++ {
		n, err := svc.SeedInteractions(context.Background())
		if err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
		if n != 5 {
			t.Errorf("expected 5 seeded, got %d", n)
		}
	}
	_, total, _ := svc.ListInteractions(context.Background(), 100, 0)
	if total != 5 {
		t.Errorf("expected catalog size 5 after reseed, got %d", total)
	}
}

func TestUpsertInteraction_DeterministicKey(t *testing.T) {
	svc := newTestService()
	d := &DrugInteraction{Drug1Name: "Warfarin", Drug2Name: "Aspirin", Severity: SeveritySerious,
		ClinicalEffect: "Bleeding", Recommendation: "Monitor INR"}
	if err := svc.UpsertInteraction(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	rev := &DrugInteraction{Drug1Name: "aspirin", Drug2Name: " WARFARIN", Severity: SeverityMonitor,
		ClinicalEffect: "Bleeding", Recommendation: "Monitor INR"}
	if err := svc.UpsertInteraction(context.Background(), rev); err != nil {
		t.Fatal(err)
	}
	if d.ID != rev.ID {
		t.Errorf("expected same key for reversed pair")
	}
	got, err := svc.GetInteraction(context.Background(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Severity != SeverityMonitor {
		t.Errorf("expected update to win, got %s", got.Severity)
	}
}

func TestUpsertInteraction_Validation(t *testing.T) {
	svc := newTestService()
	tests := []struct {
		name string
		d    DrugInteraction
	}{
		{"missing drug1", DrugInteraction{Drug2Name: "B", Severity: SeverityMinor, ClinicalEffect: "x", Recommendation: "y"}},
		{"missing drug2", DrugInteraction{Drug1Name: "A", Severity: SeverityMinor, ClinicalEffect: "x", Recommendation: "y"}},
		{"bad severity", DrugInteraction{Drug1Name: "A", Drug2Name: "B", Severity: "LOW", ClinicalEffect: "x", Recommendation: "y"}},
		{"missing effect", DrugInteraction{Drug1Name: "A", Drug2Name: "B", Severity: SeverityMinor, Recommendation: "y"}},
		{"missing recommendation", DrugInteraction{Drug1Name: "A", Drug2Name: "B", Severity: SeverityMinor, ClinicalEffect: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.d
			if err := svc.UpsertInteraction(context.Background(), &d); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDeleteInteraction_NotFound(t *testing.T) {
	svc := newTestService()
	if err := svc.DeleteInteraction(context.Background(), uuid.New()); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ── Allergies ──

func TestAddAllergy_DefaultsToDrug(t *testing.T) {
	svc := newTestService()
	a := &Allergy{PatientID: uuid.New(), Allergen: "Codeine", Severity: "MODERATE"}
	if err := svc.AddAllergy(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if a.AllergenType != AllergenTypeDrug {
		t.Errorf("expected DRUG, got %s", a.AllergenType)
	}
	if a.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
}

func TestAddAllergy_Validation(t *testing.T) {
	svc := newTestService()
	if err := svc.AddAllergy(context.Background(), &Allergy{Allergen: "X", Severity: "MILD"}); err == nil {
		t.Error("expected error for missing patient")
	}
	if err := svc.AddAllergy(context.Background(), &Allergy{PatientID: uuid.New(), Severity: "MILD"}); err == nil {
		t.Error("expected error for missing allergen")
	}
	if err := svc.AddAllergy(context.Background(), &Allergy{PatientID: uuid.New(), Allergen: "X"}); err == nil {
		t.Error("expected error for missing severity")
	}
}

func TestListAllergies_NewestFirst(t *testing.T) {
	svc := newTestService()
	patient := uuid.New()
	addAllergy(t, svc, patient, "Penicillin", AllergenTypeDrug)
	addAllergy(t, svc, patient, "Latex", "ENVIRONMENTAL")

	items, err := svc.ListAllergies(context.Background(), patient)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Allergen != "Latex" {
		t.Errorf("expected newest first, got %+v", items)
	}
}

func TestDeleteAllergy(t *testing.T) {
	svc := newTestService()
	patient := uuid.New()
	addAllergy(t, svc, patient, "Penicillin", AllergenTypeDrug)
	items, _ := svc.ListAllergies(context.Background(), patient)
	if err := svc.DeleteAllergy(context.Background(), items[0].ID); err != nil {
		t.Fatal(err)
	}
	alerts, err := svc.CheckAllergies(context.Background(), patient, meds("Penicillin"))
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts after delete, got %d", len(alerts))
	}
}
