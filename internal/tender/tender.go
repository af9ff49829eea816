package tender

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Tender is a single procurement opportunity as published by the source
// API. Field names follow the upstream schema so the same tags serve both
// JSON snapshots and mapstructure decoding of API payloads.
type Tender struct {
	ID          string `json:"CodigoExterno,omitempty" mapstructure:"CodigoExterno"`
	Name        string `json:"Nombre,omitempty" mapstructure:"Nombre"`
	Description string `json:"Descripcion,omitempty" mapstructure:"Descripcion"`
	StatusCode  int    `json:"CodigoEstado,omitempty" mapstructure:"CodigoEstado"`
	Type        string `json:"Tipo,omitempty" mapstructure:"Tipo"`
	Currency    string `json:"Moneda,omitempty" mapstructure:"Moneda"`
	// EstimatedAmount of zero with suppressed visibility means "amount
	// withheld by the source", which is not the same as a free tender.
	EstimatedAmount  float64 `json:"MontoEstimado,omitempty" mapstructure:"MontoEstimado"`
	AmountVisibility *int    `json:"VisibilidadMonto,omitempty" mapstructure:"VisibilidadMonto"`
	// ClosingDays is kept as the raw source value: the API emits it as a
	// number, a numeric string, or an empty string depending on the day.
	ClosingDays string `json:"DiasCierreLicitacion,omitempty" mapstructure:"DiasCierreLicitacion"`
	Dates       struct {
		Closing string `json:"FechaCierre,omitempty" mapstructure:"FechaCierre"`
	} `json:"Fechas,omitempty" mapstructure:"Fechas"`
	Buyer struct {
		Agency  string `json:"NombreOrganismo,omitempty" mapstructure:"NombreOrganismo"`
		Region  string `json:"RegionUnidad,omitempty" mapstructure:"RegionUnidad"`
		Commune string `json:"ComunaUnidad,omitempty" mapstructure:"ComunaUnidad"`
	} `json:"Comprador,omitempty" mapstructure:"Comprador"`
	Items struct {
		Listing []Item `json:"Listado,omitempty" mapstructure:"Listado"`
	} `json:"Items,omitempty" mapstructure:"Items"`

	Scores *Scores     `json:"scores,omitempty" mapstructure:"-"`
	AI     *AIDecision `json:"ai,omitempty" mapstructure:"-"`
}

// Item is one line of a tender's item listing.
type Item struct {
	CategoryCode string `json:"CodigoCategoria,omitempty" mapstructure:"CodigoCategoria"`
}

// Scores holds the evaluation attached to a tender after the scoring step.
type Scores struct {
	Thematic   float64 `json:"thematic"`
	Financial  float64 `json:"financial"`
	Temporal   float64 `json:"temporal"`
	Geographic float64 `json:"geographic"`
	Composite  float64 `json:"composite"`
}

// AIDecision records the outcome of the relevance oracle for a tender.
type AIDecision struct {
	Relevant bool   `json:"relevant"`
	Cached   bool   `json:"cached,omitempty"`
	Error    string `json:"error,omitempty"`
}

const closingLayout = "2006-01-02T15:04:05"

// DaysUntilClosing resolves the days left before the tender closes. A
// supplied non-negative day count wins; otherwise the closing timestamp is
// compared against now, flooring to whole days. The second return reports
// whether a value could be resolved at all.
func (t *Tender) DaysUntilClosing(now time.Time) (int, bool) {
	if raw := strings.TrimSpace(t.ClosingDays); raw != "" {
		if d, err := strconv.Atoi(raw); err == nil && d >= 0 {
			return d, true
		}
	}

	closing := parseClosing(t.Dates.Closing)
	if closing.IsZero() {
		return 0, false
	}

	days := int(math.Floor(closing.Sub(now).Hours() / 24))
	return days, true
}

func parseClosing(raw string) time.Time {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "Z")
	if idx := strings.Index(raw, "."); idx != -1 {
		raw = raw[:idx]
	}
	raw = strings.Replace(raw, " ", "T", 1)

	ts, err := time.Parse(closingLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// CategoryCodes returns the tender's taxonomy codes, digit strings only.
func (t *Tender) CategoryCodes() []string {
	codes := make([]string, 0, len(t.Items.Listing))
	for _, item := range t.Items.Listing {
		code := strings.TrimSpace(item.CategoryCode)
		if code == "" || !isDigits(code) {
			continue
		}
		codes = append(codes, code)
	}
	return codes
}

// SearchText is the lowercased haystack used for keyword matching.
func (t *Tender) SearchText() string {
	return strings.ToLower(t.Name + " " + t.Description)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Tenders is a working set of tenders flowing through the screening chain.
type Tenders struct {
	Items []*Tender
}

func (t *Tenders) Len() int {
	return len(t.Items)
}

func (t *Tenders) IDs() []string {
	ids := make([]string, 0, len(t.Items))
	for _, item := range t.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

func (t *Tenders) FindByID(id string) *Tender {
	for _, item := range t.Items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// Merge appends tenders from other that are not already present by id.
func (t *Tenders) Merge(other *Tenders) {
	if other == nil {
		return
	}

	seen := make(map[string]bool, len(t.Items))
	for _, item := range t.Items {
		seen[item.ID] = true
	}

	for _, item := range other.Items {
		if item.ID == "" || seen[item.ID] {
			continue
		}
		t.Items = append(t.Items, item)
		seen[item.ID] = true
	}
}

// ExcludeIDs removes the listed ids from the set, returning the ids that
// were actually present. Order is not preserved.
func (t *Tenders) ExcludeIDs(ids []string) []string {
	var excluded []string
	for _, id := range ids {
		for idx, item := range t.Items {
			if item.ID == id {
				t.RemoveByIndex(idx)
				excluded = append(excluded, id)
				break
			}
		}
	}
	return excluded
}

// RemoveByIndex removes a tender by index. Does not preserve order.
func (t *Tenders) RemoveByIndex(idx int) {
	t.Items[idx] = t.Items[len(t.Items)-1]
	t.Items = t.Items[:len(t.Items)-1]
}
