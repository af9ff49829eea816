package ai

import (
	"context"

	"github.com/jpavez/tender-scout/internal/tender"
)

// Decision is the oracle verdict for one tender.
type Decision struct {
	Relevant bool
	Raw      string
}

// Classifier decides whether a tender belongs to a client's line of work.
// Implementations may fail; callers treat failures as "not relevant".
type Classifier interface {
	Classify(ctx context.Context, t *tender.Tender, profile string) (*Decision, error)
}
