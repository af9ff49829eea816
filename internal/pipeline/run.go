package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/ai"
	"github.com/jpavez/tender-scout/internal/rules"
	"github.com/jpavez/tender-scout/internal/screening"
	"github.com/jpavez/tender-scout/internal/store"
	"github.com/jpavez/tender-scout/internal/tender"
)

// RunSummary reports the per-client screening counts of one run.
type RunSummary struct {
	Client   string `json:"client"`
	RunID    string `json:"run_id"`
	Fetched  int    `json:"fetched"`
	Eligible int    `json:"eligible"`
	Scored   int    `json:"scored"`
	Kept     int    `json:"kept"`
	Merged   int    `json:"merged"`
}

// runArtifact is the JSON document written per run, consumed by the
// downstream report renderer and kept for auditability.
type runArtifact struct {
	RunSummary
	Generated string           `json:"generated"`
	RulesHash string           `json:"rules_hash"`
	Tenders   []*tender.Tender `json:"tenders"`
}

// Run executes the screening chain for one client: hard filter, scoring
// threshold, then the memoized relevance oracle. Survivors merge into the
// client's active set and a run artifact is recorded. A nil classifier
// disables the oracle step for this run.
func (p *Pipeline) Run(ctx context.Context, rs *rules.RuleSet, classifier ai.Classifier) (*RunSummary, error) {
	logger := p.logger.With(zap.String("client", rs.Client))

	set, err := p.workingSet(ctx, rs)
	if err != nil {
		return nil, fmt.Errorf("assembling working set: %w", err)
	}

	summary := &RunSummary{
		Client:  rs.Client,
		RunID:   uuid.NewString(),
		Fetched: set.Len(),
	}

	logger.Info("starting screening", zap.Int("tenders", set.Len()))

	screens := p.buildScreens(rs, classifier, logger)

	// The eligibility and score steps report their counts through the
	// step log; the summary tracks them via the probes below.
	eligible := screens[0]
	score := screens[1]

	set, err = screening.Run(ctx, logger, screens, set)
	if err != nil {
		return nil, fmt.Errorf("screening: %w", err)
	}

	summary.Eligible = probeLeft(eligible)
	summary.Scored = probeLeft(score)
	summary.Kept = set.Len()

	if p.config.DryRun {
		logger.Info("dry run: skipping persistence", zap.Int("kept", set.Len()))
		return summary, nil
	}

	ids := set.IDs()
	if err := p.store.MergeActive(ctx, rs.Client, ids); err != nil {
		return nil, fmt.Errorf("merging active set: %w", err)
	}
	summary.Merged = len(ids)

	path, err := p.writeRunArtifact(rs, summary, set)
	if err != nil {
		return nil, err
	}

	if err := p.store.RecordRun(ctx, store.Run{
		ID:     summary.RunID,
		Client: rs.Client,
		Path:   path,
	}); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}

	logger.Info("run complete",
		zap.String("run_id", summary.RunID),
		zap.Int("fetched", summary.Fetched),
		zap.Int("eligible", summary.Eligible),
		zap.Int("scored", summary.Scored),
		zap.Int("kept", summary.Kept),
		zap.String("artifact", path),
	)

	return summary, nil
}

// RunAll runs every client, isolating failures: one client's error is
// logged and counted, the rest proceed.
func (p *Pipeline) RunAll(ctx context.Context, clients []*rules.RuleSet, classifierFor func(*rules.RuleSet) ai.Classifier) []*RunSummary {
	summaries := make([]*RunSummary, 0, len(clients))
	for _, rs := range clients {
		var classifier ai.Classifier
		if classifierFor != nil {
			classifier = classifierFor(rs)
		}

		summary, err := p.Run(ctx, rs, classifier)
		if err != nil {
			p.logger.Error("client run failed",
				zap.String("client", rs.Client),
				zap.Error(err),
			)
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

func (p *Pipeline) buildScreens(rs *rules.RuleSet, classifier ai.Classifier, logger *zap.Logger) []screening.Screen {
	now := p.now

	oracle := screening.NewOracle(
		&screening.OracleConfig{
			Enabled:    classifier != nil,
			MaxWorkers: p.config.OracleWorkers,
		},
		&screening.OracleDeps{
			Logger:     logger,
			Classifier: classifier,
			Memory:     p.decisionMemory(),
			Client:     rs.Client,
			RulesHash:  rs.Hash(),
			Profile:    rs.Profile,
		},
	)
	if classifier == nil {
		oracle.Disable("no classifier configured")
	}

	return []screening.Screen{
		screening.NewEligibility(&screening.EligibilityDeps{
			Logger: logger,
			Rules:  rs,
			Now:    now,
		}),
		screening.NewScore(
			&screening.ScoreConfig{SampleDiscards: p.config.SampleDiscards},
			&screening.ScoreDeps{Logger: logger, Rules: rs, Now: now},
		),
		oracle,
	}
}

// decisionMemory returns the oracle memory. In dry runs verdicts are
// still read but never written.
func (p *Pipeline) decisionMemory() screening.DecisionStore {
	if p.config.DryRun {
		return readOnlyMemory{p.store}
	}
	return p.store
}

type readOnlyMemory struct {
	store *store.Store
}

func (m readOnlyMemory) Decisions(ctx context.Context, client, rulesHash string) (map[string]bool, error) {
	return m.store.Decisions(ctx, client, rulesHash)
}

func (m readOnlyMemory) RecordDecision(context.Context, string, string, string, bool) error {
	return nil
}

func (p *Pipeline) writeRunArtifact(rs *rules.RuleSet, summary *RunSummary, set *tender.Tenders) (string, error) {
	dir := filepath.Join(p.config.DataDir, "runs", strings.ToLower(rs.Client))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact dir: %w", err)
	}

	now := p.now()
	artifact := runArtifact{
		RunSummary: *summary,
		Generated:  now.Format("2006-01-02T15:04:05"),
		RulesHash:  rs.Hash(),
		Tenders:    set.Items,
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("run_%s.json", now.Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing run artifact: %w", err)
	}

	return path, nil
}

// probeLeft extracts the Left count from screens that expose their last
// step result.
func probeLeft(s screening.Screen) int {
	if probe, ok := s.(interface{ LastStep() screening.Step }); ok {
		return probe.LastStep().Left
	}
	return 0
}
