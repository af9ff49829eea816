package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/mercado"
	"github.com/jpavez/tender-scout/internal/rules"
	"github.com/jpavez/tender-scout/internal/store"
	"github.com/jpavez/tender-scout/internal/tender"
)

const testRules = `
client: CENDA
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

type fakeSource struct {
	catalog    []mercado.CatalogDay
	catalogErr error
	days       map[string]*tender.Tenders
	dayErrs    map[string]error
	statuses   map[string]int
	statusErrs map[string]error
	fetched    []string
}

func (f *fakeSource) ListChangedDays() ([]mercado.CatalogDay, error) {
	return f.catalog, f.catalogErr
}

func (f *fakeSource) FetchDay(date string) (*tender.Tenders, error) {
	f.fetched = append(f.fetched, date)
	if err, ok := f.dayErrs[date]; ok {
		return nil, err
	}
	return f.days[date], nil
}

func (f *fakeSource) FetchStatus(id string) (int, error) {
	if err, ok := f.statusErrs[id]; ok {
		return 0, err
	}
	return f.statuses[id], nil
}

var testNow = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

func newPipeline(t *testing.T, source *fakeSource, cfg *Config) (*Pipeline, *store.Store) {
	t.Helper()

	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}

	p := New(zap.NewNop(), st, source, cfg)
	p.now = func() time.Time { return testNow }
	p.statusPause = time.Millisecond
	return p, st
}

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

func keeper(id string) *tender.Tender {
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

func TestSyncMirrorsChangedDays(t *testing.T) {
	ctx := context.Background()

	source := &fakeSource{
		catalog: []mercado.CatalogDay{
			{Date: "2026-07-30", Checksum: "unchanged"},
			{Date: "2026-07-31", Checksum: "v2"},
			{Date: "2026-08-01", Checksum: "new"},
		},
		days: map[string]*tender.Tenders{
			"2026-07-31": {Items: []*tender.Tender{keeper("1001-1-L1")}},
			"2026-08-01": {Items: []*tender.Tender{keeper("1002-2-L1")}},
		},
	}

	p, st := newPipeline(t, source, nil)

	// Pre-seed the ledger: one day current, one day stale.
	if err := st.SaveDay(ctx, "2026-07-30", "unchanged", nil); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	if err := st.SaveDay(ctx, "2026-07-31", "v1", nil); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	summary, err := p.Sync(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.RemoteDays != 3 || summary.ChangedDays != 2 || summary.SyncedDays != 2 || summary.Errors != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(source.fetched) != 2 || source.fetched[0] != "2026-07-31" || source.fetched[1] != "2026-08-01" {
		t.Fatalf("expected the changed days fetched oldest first, got %v", source.fetched)
	}

	ledger, err := st.Catalog(ctx)
	if err != nil {
		t.Fatalf("reading ledger: %v", err)
	}
	if ledger["2026-07-31"] != "v2" || ledger["2026-08-01"] != "new" {
		t.Fatalf("ledger not updated: %v", ledger)
	}
}

func TestSyncFailedDayLeavesLedgerStale(t *testing.T) {
	ctx := context.Background()

	source := &fakeSource{
		catalog: []mercado.CatalogDay{{Date: "2026-08-01", Checksum: "v2"}},
		dayErrs: map[string]error{"2026-08-01": errors.New("boom")},
	}

	p, st := newPipeline(t, source, nil)
	if err := st.SaveDay(ctx, "2026-08-01", "v1", nil); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	summary, err := p.Sync(ctx)
	if err != nil {
		t.Fatalf("a failed day must not abort the cycle: %v", err)
	}
	if summary.Errors != 1 || summary.SyncedDays != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	// The stale checksum survives so the next cycle retries the day.
	ledger, err := st.Catalog(ctx)
	if err != nil {
		t.Fatalf("reading ledger: %v", err)
	}
	if ledger["2026-08-01"] != "v1" {
		t.Fatalf("expected the stale checksum kept, got %q", ledger["2026-08-01"])
	}
}

func TestSyncAbortsWhenSourceUnavailable(t *testing.T) {
	source := &fakeSource{catalogErr: errors.New("connection refused")}
	p, _ := newPipeline(t, source, nil)

	if _, err := p.Sync(context.Background()); err == nil {
		t.Fatal("expected an error when the catalog cannot be fetched")
	}
}

func TestSyncRespectsMaxDaysBack(t *testing.T) {
	source := &fakeSource{
		catalog: []mercado.CatalogDay{
			{Date: "2026-06-01", Checksum: "old"},
			{Date: "2026-07-31", Checksum: "recent"},
		},
		days: map[string]*tender.Tenders{
			"2026-07-31": {},
		},
	}

	p, _ := newPipeline(t, source, &Config{MaxDaysBack: 10, DataDir: t.TempDir()})

	summary, err := p.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.ChangedDays != 1 {
		t.Fatalf("days past the cutoff must be ignored, summary: %+v", summary)
	}
	if len(source.fetched) != 1 || source.fetched[0] != "2026-07-31" {
		t.Fatalf("unexpected fetches: %v", source.fetched)
	}
}

func TestRunScreensAndPersists(t *testing.T) {
	ctx := context.Background()
	rs := loadRules(t)

	ineligible := keeper("1002-2-L1")
	ineligible.StatusCode = 8
	lowScore := keeper("1003-3-L1")
	lowScore.Items.Listing = nil
	lowScore.Name = "Obras"
	lowScore.Description = "pavimentación"
	lowScore.Buyer.Region = "Valparaíso"

	p, st := newPipeline(t, &fakeSource{}, nil)
	day := &tender.Tenders{Items: []*tender.Tender{keeper("1001-1-L1"), ineligible, lowScore}}
	if err := st.SaveDay(ctx, "2026-07-31", "abc", day); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	summary, err := p.Run(ctx, rs, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Fetched != 3 || summary.Eligible != 2 || summary.Scored != 1 || summary.Kept != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	active, err := st.ActiveIDs(ctx, "CENDA")
	if err != nil {
		t.Fatalf("reading active set: %v", err)
	}
	if len(active) != 1 || active[0] != "1001-1-L1" {
		t.Fatalf("expected the survivor in the active set, got %v", active)
	}

	run, err := st.LatestRun(ctx, "CENDA")
	if err != nil {
		t.Fatalf("reading latest run: %v", err)
	}
	data, err := os.ReadFile(run.Path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	var artifact struct {
		Client    string           `json:"client"`
		RulesHash string           `json:"rules_hash"`
		Tenders   []*tender.Tender `json:"tenders"`
	}
	if err := json.Unmarshal(data, &artifact); err != nil {
		t.Fatalf("decoding artifact: %v", err)
	}
	if artifact.Client != "CENDA" || artifact.RulesHash != rs.Hash() {
		t.Fatalf("unexpected artifact header: %+v", artifact)
	}
	if len(artifact.Tenders) != 1 || artifact.Tenders[0].Scores == nil {
		t.Fatal("the artifact must carry the scored survivors")
	}
}

func TestRunDryRunPersistsNothing(t *testing.T) {
	ctx := context.Background()
	rs := loadRules(t)

	p, st := newPipeline(t, &fakeSource{}, &Config{DryRun: true, DataDir: t.TempDir()})
	day := &tender.Tenders{Items: []*tender.Tender{keeper("1001-1-L1")}}
	if err := st.SaveDay(ctx, "2026-07-31", "abc", day); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	summary, err := p.Run(ctx, rs, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Kept != 1 || summary.Merged != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	active, err := st.ActiveIDs(ctx, "CENDA")
	if err != nil {
		t.Fatalf("reading active set: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("dry run must not touch the active set, got %v", active)
	}
	if _, err := st.LatestRun(ctx, "CENDA"); err != store.ErrNoRuns {
		t.Fatalf("dry run must not record runs, got %v", err)
	}
}

func TestRunIgnoresSnapshotsOutsideLookBack(t *testing.T) {
	ctx := context.Background()
	rs := loadRules(t)
	// Default look-back is 30 days from testNow (2026-08-01).

	p, st := newPipeline(t, &fakeSource{}, nil)
	old := &tender.Tenders{Items: []*tender.Tender{keeper("1001-1-L1")}}
	if err := st.SaveDay(ctx, "2026-06-01", "abc", old); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	summary, err := p.Run(ctx, rs, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Fetched != 0 {
		t.Fatalf("expected an empty working set, got %d", summary.Fetched)
	}
}

func TestReportCarriesLatestRun(t *testing.T) {
	ctx := context.Background()
	rs := loadRules(t)

	p, st := newPipeline(t, &fakeSource{}, nil)
	day := &tender.Tenders{Items: []*tender.Tender{keeper("1001-1-L1")}}
	if err := st.SaveDay(ctx, "2026-07-31", "abc", day); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	summary, err := p.Run(ctx, rs, nil)
	if err != nil {
		t.Fatalf("running: %v", err)
	}

	path, err := p.Report(ctx, rs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	var payload struct {
		RunID string `json:"run_id"`
		Found []any  `json:"found"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if payload.RunID != summary.RunID {
		t.Fatalf("expected run id %s, got %q", summary.RunID, payload.RunID)
	}
	if len(payload.Found) != 1 {
		t.Fatalf("expected the active tender resolved, got %d", len(payload.Found))
	}
}

func TestRevalidatePrunesConfirmedExpiry(t *testing.T) {
	ctx := context.Background()
	rs := loadRules(t)

	source := &fakeSource{
		statuses:   map[string]int{"vigent": 5, "expired": 8},
		statusErrs: map[string]error{"unreachable": errors.New("timeout")},
	}

	p, st := newPipeline(t, source, nil)
	if err := st.MergeActive(ctx, "CENDA", []string{"vigent", "expired", "unreachable"}); err != nil {
		t.Fatalf("seeding active set: %v", err)
	}

	summary, err := p.Revalidate(ctx, rs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Checked != 3 || summary.Vigent != 1 || summary.Pruned != 1 || summary.Unreached != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	active, err := st.ActiveIDs(ctx, "CENDA")
	if err != nil {
		t.Fatalf("reading active set: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("only the confirmed expiry is pruned, got %v", active)
	}
	for _, id := range active {
		if id == "expired" {
			t.Fatal("the expired tender must be gone")
		}
	}
}

func TestRevalidateDryRunKeepsEverything(t *testing.T) {
	ctx := context.Background()
	rs := loadRules(t)

	source := &fakeSource{statuses: map[string]int{"expired": 8}}

	p, st := newPipeline(t, source, &Config{DryRun: true, DataDir: t.TempDir()})
	if err := st.MergeActive(ctx, "CENDA", []string{"expired"}); err != nil {
		t.Fatalf("seeding active set: %v", err)
	}

	summary, err := p.Revalidate(ctx, rs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Pruned != 1 {
		t.Fatalf("the summary still reports what would be pruned: %+v", summary)
	}

	active, err := st.ActiveIDs(ctx, "CENDA")
	if err != nil {
		t.Fatalf("reading active set: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("dry run must not prune, got %v", active)
	}
}
