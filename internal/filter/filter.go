package filter

import (
	"fmt"
	"time"

	"github.com/jpavez/tender-scout/internal/rules"
	"github.com/jpavez/tender-scout/internal/tender"
)

// Eligible is the hard eligibility gate. Pure function: checks run in a
// fixed order and short-circuit on the first failure, returning a
// human-readable reason for diagnostics.
func Eligible(t *tender.Tender, rs *rules.RuleSet, now time.Time) (bool, string) {
	if !rs.AcceptsStatus(t.StatusCode) {
		return false, fmt.Sprintf("status %d not acceptable", t.StatusCode)
	}

	if t.Type != "" && !rs.AcceptsType(t.Type) {
		return false, fmt.Sprintf("type %q not acceptable", t.Type)
	}

	if t.Currency != "" && !rs.AcceptsCurrency(t.Currency) {
		return false, fmt.Sprintf("currency %q not acceptable", t.Currency)
	}

	if t.EstimatedAmount > 0 {
		if t.EstimatedAmount < rs.MinAmount || t.EstimatedAmount > rs.MaxAmount {
			return false, fmt.Sprintf("amount %.0f outside [%.0f, %.0f]",
				t.EstimatedAmount, rs.MinAmount, rs.MaxAmount)
		}
	}

	if days, ok := t.DaysUntilClosing(now); ok && days < rs.MinPreparationDays {
		return false, fmt.Sprintf("closes in %d days, need %d", days, rs.MinPreparationDays)
	}

	if t.ID == "" || t.Name == "" {
		return false, "missing id or name"
	}

	return true, ""
}
