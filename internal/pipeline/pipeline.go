package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/mercado"
	"github.com/jpavez/tender-scout/internal/rules"
	"github.com/jpavez/tender-scout/internal/store"
	"github.com/jpavez/tender-scout/internal/tender"
)

const dayLayout = "2006-01-02"

// Source is the remote tender source consumed by the pipeline.
type Source interface {
	ListChangedDays() ([]mercado.CatalogDay, error)
	FetchDay(date string) (*tender.Tenders, error)
	FetchStatus(id string) (int, error)
}

// Config tunes pipeline behavior shared across clients.
type Config struct {
	// DataDir is the root for run and report artifacts.
	DataDir string
	// MaxDaysBack caps how far back sync mirrors the remote catalog.
	MaxDaysBack int
	// DryRun computes everything but persists no artifacts, decisions,
	// or active-set changes.
	DryRun bool
	// OracleWorkers bounds concurrent classifier calls.
	OracleWorkers int
	// SampleDiscards logs a random sample of tenders dropped by the
	// score threshold.
	SampleDiscards bool
}

// Pipeline sequences the stages: sync, per-client screening run, status
// revalidation and report assembly. Stages are fail-fast; clients are
// isolated from each other's failures.
type Pipeline struct {
	logger *zap.Logger
	store  *store.Store
	source Source
	config *Config

	// now and statusPause are swappable for tests.
	now         func() time.Time
	statusPause time.Duration
}

func New(logger *zap.Logger, st *store.Store, source Source, cfg *Config) *Pipeline {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Pipeline{
		logger:      logger,
		store:       st,
		source:      source,
		config:      cfg,
		now:         time.Now,
		statusPause: revalidatePause,
	}
}

// workingSet assembles a client's candidate tenders from local snapshots
// within its look-back window, newest day first so the freshest version
// of a republished tender wins the duplicate check.
func (p *Pipeline) workingSet(ctx context.Context, rs *rules.RuleSet) (*tender.Tenders, error) {
	now := p.now()
	from := now.AddDate(0, 0, -rs.MaxDaysBack).Format(dayLayout)
	to := now.Format(dayLayout)

	days, err := p.store.Days(ctx, from, to)
	if err != nil {
		return nil, err
	}

	set := &tender.Tenders{}
	for _, day := range days {
		tenders, err := p.store.Day(ctx, day)
		if err != nil {
			return nil, err
		}
		set.Merge(tenders)
	}

	return set, nil
}
