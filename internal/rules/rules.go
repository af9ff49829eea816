package rules

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a rule file omits the tuning knobs. The balance
// parameters are deliberate constants of the scoring formula; changing
// them changes every historical score.
const (
	defaultTaxonomyWeight   = 0.6
	defaultKeywordWeight    = 0.4
	defaultNegativeWeight   = 1.5
	defaultAdjustmentFactor = 0.5
	defaultMaxDaysBack      = 30
)

// Weights are the per-factor composite weights. They must sum to 100.
type Weights struct {
	Thematic   float64 `yaml:"thematic"`
	Financial  float64 `yaml:"financial"`
	Temporal   float64 `yaml:"temporal"`
	Geographic float64 `yaml:"geographic"`
}

func (w Weights) Sum() float64 {
	return w.Thematic + w.Financial + w.Temporal + w.Geographic
}

// RuleSet is the declarative per-client configuration. A rule set is
// immutable once loaded and versioned by the content hash of its file:
// editing the file invalidates all cached oracle decisions for the client.
type RuleSet struct {
	Client  string `yaml:"client"`
	Profile string `yaml:"profile"`

	AcceptableStatuses   []int    `yaml:"acceptable-statuses"`
	AcceptableTypes      []string `yaml:"acceptable-types"`
	AcceptableCurrencies []string `yaml:"acceptable-currencies"`

	MinAmount          float64 `yaml:"min-amount"`
	MaxAmount          float64 `yaml:"max-amount"`
	OptimalAmountMin   float64 `yaml:"optimal-amount-min"`
	OptimalAmountMax   float64 `yaml:"optimal-amount-max"`
	MinPreparationDays int     `yaml:"min-preparation-days"`
	OptimalDays        int     `yaml:"optimal-preparation-days"`
	MaxBenefitDays     int     `yaml:"max-benefit-days"`

	RelevantCategories []string `yaml:"relevant-categories"`
	PositiveKeywords   []string `yaml:"positive-keywords"`
	NegativeKeywords   []string `yaml:"negative-keywords"`
	MinKeywordMatch    int      `yaml:"min-keyword-match"`
	TaxonomyWeight     float64  `yaml:"taxonomy-weight"`
	KeywordWeight      float64  `yaml:"keyword-weight"`
	NegativeWeight     float64  `yaml:"negative-weight"`
	AdjustmentFactor   float64  `yaml:"adjustment-factor"`

	PriorityRegions []string `yaml:"priority-regions"`
	Weights         Weights  `yaml:"weights"`
	MinScore        float64  `yaml:"min-score"`
	MaxDaysBack     int      `yaml:"max-days-back"`

	hash       string
	statuses   map[int]bool
	types      map[string]bool
	currencies map[string]bool
	regions    map[string]bool
}

// Load reads and validates a single rule file. Validation failures are
// configuration errors: the caller skips the client, never the run.
func Load(path string) (*RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}

	var rs RuleSet
	if err := yaml.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("parsing rule file %s: %w", path, err)
	}

	// Zero is a valid setting for the balance knobs, so presence is
	// detected separately: only genuinely absent keys get defaults.
	var set struct {
		NegativeWeight   *float64 `yaml:"negative-weight"`
		AdjustmentFactor *float64 `yaml:"adjustment-factor"`
	}
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("parsing rule file %s: %w", path, err)
	}

	rs.applyDefaults(set.NegativeWeight == nil, set.AdjustmentFactor == nil)
	if err := rs.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	sum := sha256.Sum256(raw)
	rs.hash = fmt.Sprintf("%x", sum[:])[:10]
	rs.index()

	return &rs, nil
}

// Hash is the short content hash identifying this rule-set version.
func (rs *RuleSet) Hash() string { return rs.hash }

func (rs *RuleSet) applyDefaults(negativeAbsent, adjustmentAbsent bool) {
	if rs.TaxonomyWeight == 0 && rs.KeywordWeight == 0 {
		rs.TaxonomyWeight = defaultTaxonomyWeight
		rs.KeywordWeight = defaultKeywordWeight
	}
	if negativeAbsent {
		rs.NegativeWeight = defaultNegativeWeight
	}
	if adjustmentAbsent {
		rs.AdjustmentFactor = defaultAdjustmentFactor
	}
	if rs.MaxDaysBack <= 0 {
		rs.MaxDaysBack = defaultMaxDaysBack
	}
}

func (rs *RuleSet) validate() error {
	if strings.TrimSpace(rs.Client) == "" {
		return fmt.Errorf("client name is required")
	}
	if len(rs.AcceptableStatuses) == 0 {
		return fmt.Errorf("acceptable-statuses must not be empty")
	}
	if len(rs.AcceptableTypes) == 0 {
		return fmt.Errorf("acceptable-types must not be empty")
	}
	if len(rs.AcceptableCurrencies) == 0 {
		return fmt.Errorf("acceptable-currencies must not be empty")
	}
	if rs.MaxAmount < rs.MinAmount {
		return fmt.Errorf("max-amount (%v) is below min-amount (%v)", rs.MaxAmount, rs.MinAmount)
	}
	if rs.OptimalAmountMax < rs.OptimalAmountMin {
		return fmt.Errorf("optimal-amount-max (%v) is below optimal-amount-min (%v)", rs.OptimalAmountMax, rs.OptimalAmountMin)
	}
	if rs.OptimalDays < rs.MinPreparationDays {
		return fmt.Errorf("optimal-preparation-days (%d) is below min-preparation-days (%d)", rs.OptimalDays, rs.MinPreparationDays)
	}
	if sum := rs.Weights.Sum(); sum != 100 {
		return fmt.Errorf("weights must sum to 100, got %v", sum)
	}
	if rs.MinScore < 0 || rs.MinScore > 100 {
		return fmt.Errorf("min-score must be within [0,100], got %v", rs.MinScore)
	}
	return nil
}

func (rs *RuleSet) index() {
	rs.statuses = make(map[int]bool, len(rs.AcceptableStatuses))
	for _, s := range rs.AcceptableStatuses {
		rs.statuses[s] = true
	}

	rs.types = upperSet(rs.AcceptableTypes)
	rs.currencies = upperSet(rs.AcceptableCurrencies)

	rs.regions = make(map[string]bool, len(rs.PriorityRegions))
	for _, r := range rs.PriorityRegions {
		rs.regions[strings.TrimSpace(r)] = true
	}
}

func upperSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToUpper(strings.TrimSpace(v))] = true
	}
	return set
}

func (rs *RuleSet) AcceptsStatus(code int) bool {
	return rs.statuses[code]
}

func (rs *RuleSet) AcceptsType(t string) bool {
	return rs.types[strings.ToUpper(strings.TrimSpace(t))]
}

func (rs *RuleSet) AcceptsCurrency(c string) bool {
	return rs.currencies[strings.ToUpper(strings.TrimSpace(c))]
}

func (rs *RuleSet) IsPriorityRegion(region string) bool {
	return rs.regions[strings.TrimSpace(region)]
}
