package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/report"
	"github.com/jpavez/tender-scout/internal/rules"
	"github.com/jpavez/tender-scout/internal/store"
)

// Report resolves a client's active set against recent snapshots and
// writes the renderer payload, stamped with the client's latest run id.
// Returns the artifact path.
func (p *Pipeline) Report(ctx context.Context, rs *rules.RuleSet) (string, error) {
	logger := p.logger.With(zap.String("client", rs.Client))

	active, err := p.store.ActiveIDs(ctx, rs.Client)
	if err != nil {
		return "", fmt.Errorf("reading active set: %w", err)
	}

	if len(active) == 0 {
		logger.Info("active set is empty, nothing to report")
		return "", nil
	}

	builder := report.NewBuilder(p.store, logger)
	payload, err := builder.Build(ctx, rs.Client, active, p.now())
	if err != nil {
		return "", err
	}

	if run, err := p.store.LatestRun(ctx, rs.Client); err == nil {
		payload.RunID = run.ID
	} else if !errors.Is(err, store.ErrNoRuns) {
		return "", fmt.Errorf("reading latest run: %w", err)
	}

	if p.config.DryRun {
		logger.Info("dry run: report not written",
			zap.Int("found", payload.Resolved),
			zap.Int("not_found", len(payload.NotFound)),
		)
		return "", nil
	}

	dir := filepath.Join(p.config.DataDir, "reports", strings.ToLower(rs.Client))
	path, err := report.Write(payload, dir, p.now())
	if err != nil {
		return "", err
	}

	logger.Info("report written", zap.String("path", path))

	return path, nil
}
