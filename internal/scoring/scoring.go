package scoring

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jpavez/tender-scout/internal/rules"
	"github.com/jpavez/tender-scout/internal/tender"
)

// Taxonomy depth weights for matching category-code prefixes of length
// 8, 6, 4 and 2. Codes shorter than 8 digits are never compared.
var depthWeights = []struct {
	prefix int
	weight float64
}{
	{8, 1.0},
	{6, 0.8},
	{4, 0.6},
	{2, 0.4},
}

// Engine scores tenders against one client rule set. Keyword patterns
// are compiled once per rule set, not per tender.
type Engine struct {
	rules    *rules.RuleSet
	positive []keyword
	negative []keyword
}

type keyword struct {
	word string
	re   *regexp.Regexp
}

func NewEngine(rs *rules.RuleSet) *Engine {
	return &Engine{
		rules:    rs,
		positive: compileKeywords(rs.PositiveKeywords),
		negative: compileKeywords(rs.NegativeKeywords),
	}
}

// Word boundaries are spelled out over Unicode letters and digits:
// RE2's \b is ASCII-only, so keywords starting or ending with an
// accented letter (café, ítem) would never match with it.
const (
	boundaryBefore = `(?:^|[^\p{L}\p{N}_])`
	boundaryAfter  = `(?:$|[^\p{L}\p{N}_])`
)

func compileKeywords(words []string) []keyword {
	out := make([]keyword, 0, len(words))
	for _, w := range words {
		lw := strings.ToLower(strings.TrimSpace(w))
		if lw == "" {
			continue
		}
		out = append(out, keyword{
			word: lw,
			re:   regexp.MustCompile(boundaryBefore + regexp.QuoteMeta(lw) + boundaryAfter),
		})
	}
	return out
}

// TaxonomyHit records which relevant code matched a tender code and at
// what depth, for the explanation payload.
type TaxonomyHit struct {
	Code    string  `json:"code"`
	Matched string  `json:"matched"`
	Depth   float64 `json:"depth"`
}

// Explanation carries the intermediate values behind a score, for
// diagnostics and report rendering. Not used for control flow.
type Explanation struct {
	TaxonomyBest  float64       `json:"taxonomy_best"`
	TaxonomyHits  []TaxonomyHit `json:"taxonomy_hits,omitempty"`
	Keywords      []string      `json:"keywords,omitempty"`
	KeywordScore  float64       `json:"keyword_score"`
	Penalties     []string      `json:"penalties,omitempty"`
	Balance       float64       `json:"balance"`
	ThematicBase  float64       `json:"thematic_base"`
	Amount        float64       `json:"amount,omitempty"`
	DaysToClosing int           `json:"days_to_closing"`
	DaysResolved  bool          `json:"days_resolved"`
	Region        string        `json:"region,omitempty"`
}

// Result is the full evaluation of one tender.
type Result struct {
	Scores      tender.Scores `json:"scores"`
	Explanation Explanation   `json:"explanation"`
}

// Score computes the four sub-scores and the weighted composite, all in
// [0,100]. Sub-scores are rounded to two decimals before combining so
// the composite matches what the explanation shows.
func (e *Engine) Score(t *tender.Tender, now time.Time) Result {
	var exp Explanation

	thematic := e.thematic(t, &exp)
	financial := e.financial(t, &exp)
	temporal := e.temporal(t, now, &exp)
	geographic := e.geographic(t, &exp)

	s := tender.Scores{
		Thematic:   round2(thematic),
		Financial:  round2(financial),
		Temporal:   round2(temporal),
		Geographic: round2(geographic),
	}

	w := e.rules.Weights
	s.Composite = round2((w.Thematic*s.Thematic +
		w.Financial*s.Financial +
		w.Temporal*s.Temporal +
		w.Geographic*s.Geographic) / 100)

	return Result{Scores: s, Explanation: exp}
}

func (e *Engine) thematic(t *tender.Tender, exp *Explanation) float64 {
	best := 0.0
	for _, code := range t.CategoryCodes() {
		local, with := 0.0, ""
		for _, rel := range e.rules.RelevantCategories {
			if d := depthMatch(code, rel); d > local {
				local, with = d, rel
			}
		}
		if local > best {
			best = local
		}
		if with != "" {
			exp.TaxonomyHits = append(exp.TaxonomyHits, TaxonomyHit{
				Code: code, Matched: with, Depth: local,
			})
		}
	}
	exp.TaxonomyBest = best

	body := t.SearchText()
	positives := matchKeywords(e.positive, body)
	nPos := len(positives)
	exp.Keywords = positives

	var kwScore float64
	if e.rules.MinKeywordMatch <= 0 {
		if nPos > 0 {
			kwScore = 1.0
		}
	} else {
		kwScore = math.Min(float64(nPos)/float64(e.rules.MinKeywordMatch), 1.0)
	}
	exp.KeywordScore = kwScore

	base := clamp01(e.rules.TaxonomyWeight*best+e.rules.KeywordWeight*kwScore) * 100
	exp.ThematicBase = round2(base)

	negatives := matchKeywords(e.negative, body)
	nNeg := len(negatives)
	exp.Penalties = negatives

	// Balance in roughly [-1,+1]; the +1 in the denominator avoids a
	// division by zero when nothing matched either list.
	balance := (float64(nPos) - float64(nNeg)*e.rules.NegativeWeight) /
		float64(nPos+nNeg+1)
	exp.Balance = balance

	adjusted := base * (1 + balance*e.rules.AdjustmentFactor)
	return math.Max(0, math.Min(adjusted, 100))
}

func depthMatch(code, relevant string) float64 {
	if len(code) < 8 || len(relevant) < 8 {
		return 0
	}
	for _, dw := range depthWeights {
		if code[:dw.prefix] == relevant[:dw.prefix] {
			return dw.weight
		}
	}
	return 0
}

func matchKeywords(kws []keyword, body string) []string {
	seen := make(map[string]bool)
	for _, kw := range kws {
		if kw.re.MatchString(body) {
			seen[kw.word] = true
		}
	}
	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// financial scores the estimated amount against the optimal range. An
// absent or withheld amount is neutral (50), never disqualifying.
func (e *Engine) financial(t *tender.Tender, exp *Explanation) float64 {
	amount := t.EstimatedAmount
	exp.Amount = amount

	if amount == 0 {
		return 50
	}
	if amount < 0 {
		return 0
	}

	optMin, optMax := e.rules.OptimalAmountMin, e.rules.OptimalAmountMax
	if amount >= optMin && amount <= optMax {
		return 100
	}
	if amount < optMin {
		lo := e.rules.MinAmount
		if optMin == lo {
			return 0
		}
		return clamp01((amount-lo)/(optMin-lo)) * 100
	}
	hi := e.rules.MaxAmount
	if hi == optMax {
		return 0
	}
	return clamp01((hi-amount)/(hi-optMax)) * 100
}

func (e *Engine) temporal(t *tender.Tender, now time.Time, exp *Explanation) float64 {
	days, ok := t.DaysUntilClosing(now)
	exp.DaysToClosing, exp.DaysResolved = days, ok
	if !ok {
		return 0
	}
	if days <= e.rules.MinPreparationDays {
		return 0
	}
	if days >= e.rules.OptimalDays {
		return 100
	}
	span := float64(e.rules.OptimalDays - e.rules.MinPreparationDays)
	return clamp01(float64(days-e.rules.MinPreparationDays)/span) * 100
}

func (e *Engine) geographic(t *tender.Tender, exp *Explanation) float64 {
	region := t.Buyer.Region
	exp.Region = region
	if region != "" && e.rules.IsPriorityRegion(region) {
		return 100
	}
	return 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
