package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/rules"
	"github.com/jpavez/tender-scout/internal/utils"
)

// Pause between status lookups; the registry throttles aggressively.
const revalidatePause = 2500 * time.Millisecond

// RevalidateSummary reports one status-revalidation cycle for a client.
type RevalidateSummary struct {
	Client    string
	Checked   int
	Vigent    int
	Pruned    int
	Unreached int
}

// Revalidate re-checks each active tender against the live status source.
// Only ids whose non-vigency is explicitly confirmed are pruned; ids the
// source could not answer for are left untouched this cycle.
func (p *Pipeline) Revalidate(ctx context.Context, rs *rules.RuleSet) (*RevalidateSummary, error) {
	logger := p.logger.With(zap.String("client", rs.Client))

	active, err := p.store.ActiveIDs(ctx, rs.Client)
	if err != nil {
		return nil, fmt.Errorf("reading active set: %w", err)
	}

	summary := &RevalidateSummary{Client: rs.Client, Checked: len(active)}
	if len(active) == 0 {
		logger.Info("active set is empty, nothing to revalidate")
		return summary, nil
	}

	logger.Info("revalidating active set", zap.Int("tenders", len(active)))

	var expired []string
	for _, id := range active {
		status, err := p.source.FetchStatus(id)
		if err != nil {
			logger.Warn("status unreachable, keeping tender this cycle",
				zap.String("tender_id", id),
				zap.Error(err),
			)
			summary.Unreached++
			continue
		}

		if !p.config.DryRun {
			if err := p.store.UpdateStatus(ctx, id, status); err != nil {
				logger.Warn("status refresh failed", zap.String("tender_id", id), zap.Error(err))
			}
		}

		if rs.AcceptsStatus(status) {
			summary.Vigent++
		} else {
			logger.Info("tender no longer vigent",
				zap.String("tender_id", id),
				zap.Int("status", status),
			)
			expired = append(expired, id)
		}

		if err := utils.WaitFor(ctx, p.statusPause); err != nil {
			return nil, err
		}
	}

	if !p.config.DryRun {
		if err := p.store.PruneActive(ctx, rs.Client, expired); err != nil {
			return nil, fmt.Errorf("pruning active set: %w", err)
		}
	}
	summary.Pruned = len(expired)

	logger.Info("revalidation complete",
		zap.Int("checked", summary.Checked),
		zap.Int("vigent", summary.Vigent),
		zap.Int("pruned", summary.Pruned),
		zap.Int("unreached", summary.Unreached),
	)

	return summary, nil
}
