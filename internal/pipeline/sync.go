package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// SyncSummary reports what one sync cycle did.
type SyncSummary struct {
	RemoteDays  int
	ChangedDays int
	SyncedDays  int
	Errors      int
}

// Sync mirrors changed catalog days into local state. A failed catalog
// fetch aborts the cycle with prior state intact; a failed day is logged
// and skipped, leaving its stale ledger entry so the next cycle retries
// it. Days are fetched oldest first.
func (p *Pipeline) Sync(ctx context.Context) (*SyncSummary, error) {
	remote, err := p.source.ListChangedDays()
	if err != nil {
		return nil, fmt.Errorf("source unavailable: %w", err)
	}

	local, err := p.store.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading local ledger: %w", err)
	}

	summary := &SyncSummary{RemoteDays: len(remote)}

	cutoff := ""
	if p.config.MaxDaysBack > 0 {
		cutoff = p.now().AddDate(0, 0, -p.config.MaxDaysBack).Format(dayLayout)
	}

	type changedDay struct {
		date     string
		checksum string
	}
	var changed []changedDay
	for _, d := range remote {
		if cutoff != "" && d.Date < cutoff {
			continue
		}
		if local[d.Date] == d.Checksum {
			continue
		}
		changed = append(changed, changedDay{date: d.Date, checksum: d.Checksum})
	}

	sort.Slice(changed, func(i, j int) bool { return changed[i].date < changed[j].date })
	summary.ChangedDays = len(changed)

	if len(changed) == 0 {
		p.logger.Info("local mirror is up to date", zap.Int("remote_days", len(remote)))
		return summary, nil
	}

	p.logger.Info("syncing changed days", zap.Int("count", len(changed)))

	start := time.Now()
	for i, day := range changed {
		p.logger.Info("downloading day",
			zap.String("date", day.date),
			zap.Int("position", i+1),
			zap.Int("total", len(changed)),
			zap.Duration("elapsed", time.Since(start)),
		)

		tenders, err := p.source.FetchDay(day.date)
		if err != nil {
			p.logger.Warn("day fetch failed", zap.String("date", day.date), zap.Error(err))
			summary.Errors++
			continue
		}

		if err := p.store.SaveDay(ctx, day.date, day.checksum, tenders); err != nil {
			p.logger.Warn("day save failed", zap.String("date", day.date), zap.Error(err))
			summary.Errors++
			continue
		}

		summary.SyncedDays++
		p.logger.Info("day synced", zap.String("date", day.date), zap.Int("tenders", tenders.Len()))
	}

	return summary, nil
}
