package screening

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/tender"
)

// Screen is a single step of the per-client screening chain applied to
// the working set of tenders.
type Screen interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate() error
	Apply(ctx context.Context, ts *tender.Tenders) (*tender.Tenders, Step, error)
}

// Step describes the result of executing one screening step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// DisableByName marks a screen with the provided name as disabled while
// keeping it in the chain.
func DisableByName(screens []Screen, name, reason string) {
	for _, screen := range screens {
		if screen.Name() == name {
			screen.Disable(reason)
		}
	}
}

// Run validates all enabled screens up front, then executes them in
// order, logging per-step drop counts.
func Run(ctx context.Context, logger *zap.Logger, screens []Screen, ts *tender.Tenders) (*tender.Tenders, error) {
	for _, screen := range screens {
		if !screen.IsEnabled() {
			continue
		}
		if err := screen.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", screen.Name(), err)
		}
	}

	for _, screen := range screens {
		if !screen.IsEnabled() {
			if logger != nil {
				logger.Info("screen disabled", zap.String("name", screen.Name()))
			}
			continue
		}

		next, info, err := screen.Apply(ctx, ts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", screen.Name(), err)
		}

		if logger != nil {
			logger.Info("screening step",
				zap.String("name", screen.Name()),
				zap.Int("initial", info.Initial),
				zap.Int("dropped", info.Dropped),
				zap.Int("left", info.Left),
			)
		}

		ts = next
	}

	return ts, nil
}
