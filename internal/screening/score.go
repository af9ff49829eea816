package screening

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/rules"
	"github.com/jpavez/tender-scout/internal/scoring"
	"github.com/jpavez/tender-scout/internal/tender"
)

const defaultDiscardSample = 20

type scoreScreen struct {
	enabled bool
	reason  string
	config  *ScoreConfig
	deps    *ScoreDeps
	last    Step
}

type ScoreConfig struct {
	// MinScore overrides the rule set's threshold when positive.
	MinScore float64
	// SampleDiscards logs a random sample of discarded tenders for
	// threshold tuning.
	SampleDiscards bool
	SampleCount    int
}

type ScoreDeps struct {
	Logger *zap.Logger
	Rules  *rules.RuleSet
	Now    func() time.Time
}

// NewScore creates the scoring step: attaches the four sub-scores and
// the composite to every tender, keeping only those at or above the
// client's minimum score.
func NewScore(cfg *ScoreConfig, deps *ScoreDeps) Screen {
	if cfg == nil {
		cfg = &ScoreConfig{}
	}
	return &scoreScreen{enabled: true, config: cfg, deps: deps}
}

func (s *scoreScreen) Name() string { return "score" }

func (s *scoreScreen) Disable(reason string) {
	s.enabled = false
	s.reason = reason
}

func (s *scoreScreen) IsEnabled() bool { return s.enabled }

func (s *scoreScreen) Validate() error {
	if s.deps == nil || s.deps.Rules == nil {
		return fmt.Errorf("rule set is required")
	}
	return nil
}

func (s *scoreScreen) Apply(_ context.Context, ts *tender.Tenders) (*tender.Tenders, Step, error) {
	initial := ts.Len()
	now := time.Now()
	if s.deps.Now != nil {
		now = s.deps.Now()
	}

	minScore := s.deps.Rules.MinScore
	if s.config.MinScore > 0 {
		minScore = s.config.MinScore
	}

	engine := scoring.NewEngine(s.deps.Rules)

	kept := make([]*tender.Tender, 0, initial)
	var discarded []*tender.Tender
	for _, t := range ts.Items {
		result := engine.Score(t, now)
		scores := result.Scores
		t.Scores = &scores

		if scores.Composite >= minScore {
			kept = append(kept, t)
		} else {
			discarded = append(discarded, t)
		}
	}

	s.logDiscardSample(discarded, minScore)

	ts.Items = kept

	s.last = Step{Initial: initial, Dropped: initial - len(kept), Left: len(kept)}
	return ts, s.last, nil
}

// LastStep reports the most recent Apply result.
func (s *scoreScreen) LastStep() Step { return s.last }

func (s *scoreScreen) logDiscardSample(discarded []*tender.Tender, minScore float64) {
	if !s.config.SampleDiscards || len(discarded) == 0 || s.deps.Logger == nil {
		return
	}

	count := s.config.SampleCount
	if count <= 0 {
		count = defaultDiscardSample
	}
	if count > len(discarded) {
		count = len(discarded)
	}

	rand.Shuffle(len(discarded), func(i, j int) {
		discarded[i], discarded[j] = discarded[j], discarded[i]
	})

	for _, t := range discarded[:count] {
		s.deps.Logger.Info("discarded below score threshold",
			zap.String("tender_id", t.ID),
			zap.Float64("composite", t.Scores.Composite),
			zap.Float64("min_score", minScore),
			zap.String("name", t.Name),
		)
	}
}
