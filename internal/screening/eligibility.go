package screening

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/filter"
	"github.com/jpavez/tender-scout/internal/rules"
	"github.com/jpavez/tender-scout/internal/tender"
)

type eligibilityScreen struct {
	enabled bool
	reason  string
	deps    *EligibilityDeps
	last    Step
}

type EligibilityDeps struct {
	Logger *zap.Logger
	Rules  *rules.RuleSet
	// Now allows tests to pin the clock. Defaults to time.Now.
	Now func() time.Time
}

// NewEligibility creates the hard-filter step: the boolean gate every
// tender must pass before any scoring happens.
func NewEligibility(deps *EligibilityDeps) Screen {
	return &eligibilityScreen{enabled: true, deps: deps}
}

func (s *eligibilityScreen) Name() string { return "eligibility" }

func (s *eligibilityScreen) Disable(reason string) {
	s.enabled = false
	s.reason = reason
}

func (s *eligibilityScreen) IsEnabled() bool { return s.enabled }

func (s *eligibilityScreen) Validate() error {
	if s.deps == nil || s.deps.Rules == nil {
		return fmt.Errorf("rule set is required")
	}
	return nil
}

func (s *eligibilityScreen) Apply(_ context.Context, ts *tender.Tenders) (*tender.Tenders, Step, error) {
	initial := ts.Len()
	now := time.Now()
	if s.deps.Now != nil {
		now = s.deps.Now()
	}

	kept := make([]*tender.Tender, 0, initial)
	for _, t := range ts.Items {
		ok, reason := filter.Eligible(t, s.deps.Rules, now)
		if !ok {
			if s.deps.Logger != nil {
				s.deps.Logger.Debug("tender rejected by hard filter",
					zap.String("tender_id", t.ID),
					zap.String("reason", reason),
				)
			}
			continue
		}
		kept = append(kept, t)
	}

	ts.Items = kept

	s.last = Step{Initial: initial, Dropped: initial - len(kept), Left: len(kept)}
	return ts, s.last, nil
}

// LastStep reports the most recent Apply result.
func (s *eligibilityScreen) LastStep() Step { return s.last }
