package screening

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/ai"
	"github.com/jpavez/tender-scout/internal/tender"
	"github.com/jpavez/tender-scout/internal/utils"
)

const (
	defaultOracleWorkers = 3
	defaultOraclePause   = 300 * time.Millisecond
)

// DecisionStore is the decision-memory surface the oracle step needs.
type DecisionStore interface {
	Decisions(ctx context.Context, client, rulesHash string) (map[string]bool, error)
	RecordDecision(ctx context.Context, client, rulesHash, tenderID string, relevant bool) error
}

type oracleScreen struct {
	enabled bool
	reason  string
	config  *OracleConfig
	deps    *OracleDeps
}

type OracleConfig struct {
	Enabled bool
	// MaxWorkers bounds concurrent classifier calls.
	MaxWorkers int
	// Pause is the per-worker delay between calls.
	Pause time.Duration
}

type OracleDeps struct {
	Logger     *zap.Logger
	Classifier ai.Classifier
	Memory     DecisionStore
	Client     string
	RulesHash  string
	Profile    string
}

// NewOracle creates the relevance-oracle step. Tenders with a cached
// decision under the current rule-set hash never reach the classifier;
// the rest are classified concurrently and their verdicts memoized.
func NewOracle(cfg *OracleConfig, deps *OracleDeps) Screen {
	if cfg == nil {
		cfg = &OracleConfig{}
	}
	return &oracleScreen{enabled: cfg.Enabled, config: cfg, deps: deps}
}

func (s *oracleScreen) Name() string { return "oracle" }

func (s *oracleScreen) Disable(reason string) {
	s.enabled = false
	s.reason = reason
}

func (s *oracleScreen) IsEnabled() bool { return s.enabled }

func (s *oracleScreen) Validate() error {
	if s.deps == nil {
		return fmt.Errorf("deps are not initialized: screen is not usable")
	}
	if s.deps.Classifier == nil {
		return fmt.Errorf("classifier is required when the oracle screen is enabled")
	}
	if s.deps.Memory == nil {
		return fmt.Errorf("decision memory is required when the oracle screen is enabled")
	}
	if s.deps.Client == "" || s.deps.RulesHash == "" {
		return fmt.Errorf("client and rules hash are required")
	}
	return nil
}

func (s *oracleScreen) Apply(ctx context.Context, ts *tender.Tenders) (*tender.Tenders, Step, error) {
	initial := ts.Len()

	cached, err := s.deps.Memory.Decisions(ctx, s.deps.Client, s.deps.RulesHash)
	if err != nil {
		return ts, Step{}, fmt.Errorf("loading decision memory: %w", err)
	}

	var pending []*tender.Tender
	for _, t := range ts.Items {
		if t.ID == "" {
			continue
		}
		if relevant, ok := cached[t.ID]; ok {
			t.AI = &tender.AIDecision{Relevant: relevant, Cached: true}
			continue
		}
		pending = append(pending, t)
	}

	s.deps.Logger.Info("consulting relevance oracle",
		zap.Int("total", initial),
		zap.Int("pending", len(pending)),
		zap.Int("from_memory", initial-len(pending)),
	)

	s.classify(ctx, pending)

	kept := make([]*tender.Tender, 0, initial)
	for _, t := range ts.Items {
		if t.AI != nil && t.AI.Relevant {
			kept = append(kept, t)
		}
	}

	ts.Items = kept

	return ts, Step{Initial: initial, Dropped: initial - len(kept), Left: len(kept)}, nil
}

// classify runs the pending tenders through the classifier with a
// bounded worker pool. A failed call defaults to "not relevant" and is
// logged, never aborting the batch; the failure is not memoized so the
// tender is retried next run.
func (s *oracleScreen) classify(ctx context.Context, pending []*tender.Tender) {
	if len(pending) == 0 {
		return
	}

	workers := s.config.MaxWorkers
	if workers <= 0 {
		workers = defaultOracleWorkers
	}
	pause := s.config.Pause
	if pause <= 0 {
		pause = defaultOraclePause
	}

	jobs := make(chan *tender.Tender)
	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				s.classifyOne(ctx, t)
				if utils.WaitFor(ctx, pause) != nil {
					return
				}
			}
		}()
	}

dispatch:
	for _, t := range pending {
		select {
		case jobs <- t:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)

	wg.Wait()
}

func (s *oracleScreen) classifyOne(ctx context.Context, t *tender.Tender) {
	decision, err := s.deps.Classifier.Classify(ctx, t, s.deps.Profile)
	if err != nil {
		s.deps.Logger.Warn("oracle classification failed",
			zap.String("tender_id", t.ID),
			zap.Error(err),
		)
		t.AI = &tender.AIDecision{Relevant: false, Error: err.Error()}
		return
	}

	t.AI = &tender.AIDecision{Relevant: decision.Relevant}

	if err := s.deps.Memory.RecordDecision(ctx, s.deps.Client, s.deps.RulesHash, t.ID, decision.Relevant); err != nil {
		s.deps.Logger.Warn("recording oracle decision failed",
			zap.String("tender_id", t.ID),
			zap.Error(err),
		)
	}
}
