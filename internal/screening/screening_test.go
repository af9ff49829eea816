package screening

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/ai"
	"github.com/jpavez/tender-scout/internal/rules"
	"github.com/jpavez/tender-scout/internal/tender"
)

const testRules = `
client: CENDA
profile: estudios sociales
acceptable-statuses: [5]
acceptable-types: [L1]
acceptable-currencies: [CLP]
min-amount: 1000000
max-amount: 100000000
optimal-amount-min: 5000000
optimal-amount-max: 50000000
min-preparation-days: 7
optimal-preparation-days: 14
relevant-categories: ["80111699"]
positive-keywords: [consultoría]
min-keyword-match: 1
priority-regions: ["Región Metropolitana de Santiago"]
weights:
  thematic: 40
  financial: 25
  temporal: 20
  geographic: 15
min-score: 60
`

func loadRules(t *testing.T) *rules.RuleSet {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(testRules), 0o644); err != nil {
		t.Fatalf("writing rules: %v", err)
	}
	rs, err := rules.Load(path)
	if err != nil {
		t.Fatalf("loading rules: %v", err)
	}
	return rs
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
}

func strongTender(id string) *tender.Tender {
	tr := &tender.Tender{
		ID:              id,
		Name:            "Consultoría",
		Description:     "estudio de brechas",
		StatusCode:      5,
		Type:            "L1",
		Currency:        "CLP",
		EstimatedAmount: 10000000,
		ClosingDays:     "20",
	}
	tr.Buyer.Region = "Región Metropolitana de Santiago"
	tr.Items.Listing = []tender.Item{{CategoryCode: "80111699"}}
	return tr
}

func TestEligibilityScreen(t *testing.T) {
	rs := loadRules(t)

	rejected := strongTender("1002-2-L1")
	rejected.StatusCode = 8

	ts := &tender.Tenders{Items: []*tender.Tender{strongTender("1001-1-L1"), rejected}}

	screen := NewEligibility(&EligibilityDeps{Logger: zap.NewNop(), Rules: rs, Now: fixedNow})
	out, step, err := screen.Apply(context.Background(), ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if step.Initial != 2 || step.Dropped != 1 || step.Left != 1 {
		t.Fatalf("unexpected step counts: %+v", step)
	}
	if out.FindByID("1002-2-L1") != nil {
		t.Fatal("the rejected tender must be gone")
	}
}

func TestScoreScreenThreshold(t *testing.T) {
	rs := loadRules(t)

	// A tender with no thematic or geographic signal lands well under
	// the client's threshold of 60.
	weak := strongTender("1002-2-L1")
	weak.Name = "Obras"
	weak.Description = "pavimentación"
	weak.Items.Listing = nil
	weak.Buyer.Region = "Valparaíso"

	ts := &tender.Tenders{Items: []*tender.Tender{strongTender("1001-1-L1"), weak}}

	screen := NewScore(nil, &ScoreDeps{Logger: zap.NewNop(), Rules: rs, Now: fixedNow})
	out, step, err := screen.Apply(context.Background(), ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if step.Left != 1 || out.Items[0].ID != "1001-1-L1" {
		t.Fatalf("expected only the strong tender kept, got %v", out.IDs())
	}
	// Scores are attached to dropped tenders too, before the cut.
	if weak.Scores == nil {
		t.Fatal("dropped tenders must still carry their scores")
	}
	if kept := out.Items[0]; kept.Scores == nil || kept.Scores.Composite < 60 {
		t.Fatalf("kept tender has unexpected scores: %+v", kept.Scores)
	}
}

func TestScoreScreenOverrideThreshold(t *testing.T) {
	rs := loadRules(t)

	ts := &tender.Tenders{Items: []*tender.Tender{strongTender("1001-1-L1")}}

	screen := NewScore(&ScoreConfig{MinScore: 100.5}, &ScoreDeps{Logger: zap.NewNop(), Rules: rs, Now: fixedNow})
	_, step, err := screen.Apply(context.Background(), ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.Left != 0 {
		t.Fatalf("the override must win over the rule set, step: %+v", step)
	}
}

type fakeClassifier struct {
	mu       sync.Mutex
	verdicts map[string]bool
	failures map[string]error
	calls    []string
}

func (f *fakeClassifier) Classify(_ context.Context, t *tender.Tender, _ string) (*ai.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, t.ID)
	if err, ok := f.failures[t.ID]; ok {
		return nil, err
	}
	return &ai.Decision{Relevant: f.verdicts[t.ID]}, nil
}

func (f *fakeClassifier) calledWith(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == id {
			return true
		}
	}
	return false
}

type fakeMemory struct {
	mu       sync.Mutex
	cached   map[string]bool
	recorded map[string]bool
}

func (f *fakeMemory) Decisions(context.Context, string, string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.cached))
	for k, v := range f.cached {
		out[k] = v
	}
	return out, nil
}

func (f *fakeMemory) RecordDecision(_ context.Context, _, _, tenderID string, relevant bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recorded == nil {
		f.recorded = make(map[string]bool)
	}
	f.recorded[tenderID] = relevant
	return nil
}

func newOracleScreen(classifier ai.Classifier, memory DecisionStore) Screen {
	return NewOracle(
		&OracleConfig{Enabled: true, MaxWorkers: 2, Pause: time.Millisecond},
		&OracleDeps{
			Logger:     zap.NewNop(),
			Classifier: classifier,
			Memory:     memory,
			Client:     "CENDA",
			RulesHash:  "hash1",
			Profile:    "estudios sociales",
		},
	)
}

func TestOracleScreenKeepsRelevant(t *testing.T) {
	classifier := &fakeClassifier{verdicts: map[string]bool{"keep": true, "drop": false}}
	memory := &fakeMemory{}

	ts := &tender.Tenders{Items: []*tender.Tender{{ID: "keep"}, {ID: "drop"}}}

	out, step, err := newOracleScreen(classifier, memory).Apply(context.Background(), ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if step.Left != 1 || out.Items[0].ID != "keep" {
		t.Fatalf("expected only the relevant tender, got %v", out.IDs())
	}
	// Both verdicts are memoized, negative ones included.
	if len(memory.recorded) != 2 || memory.recorded["drop"] {
		t.Fatalf("unexpected memoized verdicts: %v", memory.recorded)
	}
}

func TestOracleScreenUsesMemory(t *testing.T) {
	classifier := &fakeClassifier{verdicts: map[string]bool{"fresh": true}}
	memory := &fakeMemory{cached: map[string]bool{"remembered": true, "dismissed": false}}

	ts := &tender.Tenders{Items: []*tender.Tender{
		{ID: "remembered"}, {ID: "dismissed"}, {ID: "fresh"},
	}}

	out, _, err := newOracleScreen(classifier, memory).Apply(context.Background(), ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if classifier.calledWith("remembered") || classifier.calledWith("dismissed") {
		t.Fatal("cached tenders must never reach the classifier")
	}
	if out.Len() != 2 {
		t.Fatalf("expected remembered+fresh kept, got %v", out.IDs())
	}
	if decision := out.FindByID("remembered").AI; decision == nil || !decision.Cached {
		t.Fatalf("cached decision must be flagged, got %+v", decision)
	}
}

func TestOracleScreenFailureIsNotMemoized(t *testing.T) {
	classifier := &fakeClassifier{
		verdicts: map[string]bool{"ok": true},
		failures: map[string]error{"broken": errors.New("model unavailable")},
	}
	memory := &fakeMemory{}

	ts := &tender.Tenders{Items: []*tender.Tender{{ID: "ok"}, {ID: "broken"}}}

	out, _, err := newOracleScreen(classifier, memory).Apply(context.Background(), ts)
	if err != nil {
		t.Fatalf("a single failed call must not abort the batch: %v", err)
	}

	if out.Len() != 1 || out.Items[0].ID != "ok" {
		t.Fatalf("the failed tender defaults to not relevant, got %v", out.IDs())
	}
	if _, ok := memory.recorded["broken"]; ok {
		t.Fatal("failures must not be memoized, so the tender is retried next run")
	}
}

func TestRunValidatesBeforeApplying(t *testing.T) {
	// An enabled oracle screen without a classifier must fail validation
	// before any screen mutates the working set.
	broken := NewOracle(&OracleConfig{Enabled: true}, &OracleDeps{Logger: zap.NewNop()})
	eligibility := NewEligibility(&EligibilityDeps{Logger: zap.NewNop(), Rules: loadRules(t), Now: fixedNow})

	ts := &tender.Tenders{Items: []*tender.Tender{strongTender("1001-1-L1")}}

	_, err := Run(context.Background(), zap.NewNop(), []Screen{eligibility, broken}, ts)
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if ts.Len() != 1 {
		t.Fatal("validation must run before any screen is applied")
	}
}

func TestDisableByName(t *testing.T) {
	screen := NewOracle(&OracleConfig{Enabled: true}, &OracleDeps{})
	DisableByName([]Screen{screen}, "oracle", "ai disabled in config")

	if screen.IsEnabled() {
		t.Fatal("expected the screen to be disabled")
	}
}
