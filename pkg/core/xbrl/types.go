// Package xbrl holds a filing's tagged facts and their contexts, resolves
// period aliases to context ids and picks the best fact for a concept.
package xbrl

import (
	"sort"
	"strings"
	"time"
)

// PeriodType is "instant" or "duration"; empty when the context omitted it.
type PeriodType string

const (
	PeriodInstant  PeriodType = "instant"
	PeriodDuration PeriodType = "duration"
)

// Fact is a single tagged value from a filing. Value is nil for non-numeric
// facts, which carry only Raw.
type Fact struct {
	Tag        string   `json:"tag"`                      // e.g., "us-gaap:Revenues"
	ContextRef string   `json:"contextRef"`               // owning context id
	UnitRef    string   `json:"unitRef,omitempty"`        // e.g., "usd"
	Decimals   string   `json:"decimals,omitempty"`       // decimals attribute, as disclosed
	Raw        string   `json:"raw_value,omitempty"`      // disclosed text
	Value      *float64 `json:"numeric_value"`            // parsed number
	Statement  string   `json:"statement_type,omitempty"` // "IncomeStatement", "BalanceSheet", ...
	Role       string   `json:"role,omitempty"`           // presentation role, e.g. "StatementOfIncome"
	Concept    string   `json:"concept,omitempty"`        // resolved canonical concept
}

// HasValue reports whether the fact carries a numeric value.
func (f Fact) HasValue() bool { return f.Value != nil }

// Context describes when, and for which entity scope, a fact applies.
type Context struct {
	ID         string            `json:"id"`
	PeriodType PeriodType        `json:"period_type"`
	Start      *time.Time        `json:"period_start,omitempty"`
	End        *time.Time        `json:"period_end,omitempty"`
	Instant    *time.Time        `json:"period_instant,omitempty"`
	Segment    string            `json:"segment,omitempty"`
	Dimensions map[string]string `json:"dimensions,omitempty"`
}

// Consolidated is true when the context has no segment or dimension qualifiers.
func (c Context) Consolidated() bool {
	return strings.TrimSpace(c.Segment) == "" && len(c.Dimensions) == 0
}

// IsDuration reports whether the context covers a period of time.
func (c Context) IsDuration() bool {
	return strings.EqualFold(string(c.PeriodType), string(PeriodDuration))
}

// IsInstant reports whether the context is a point in time.
func (c Context) IsInstant() bool {
	return strings.EqualFold(string(c.PeriodType), string(PeriodInstant))
}

// EndDate is the instant for instant contexts, otherwise the end date with
// the instant as fallback.
func (c Context) EndDate() *time.Time {
	if c.IsInstant() {
		return c.Instant
	}
	if c.End != nil {
		return c.End
	}
	return c.Instant
}

// SortDate is EndDate falling back to the start date.
func (c Context) SortDate() *time.Time {
	if d := c.EndDate(); d != nil {
		return d
	}
	return c.Start
}

// DurationDays is end - start in whole days.
func (c Context) DurationDays() (int, bool) {
	if c.Start == nil || c.End == nil {
		return 0, false
	}
	return int(c.End.Sub(*c.Start).Hours() / 24), true
}

// FilingMeta identifies the filing a fact set came from.
type FilingMeta struct {
	CIK             string `json:"cik"`
	Ticker          string `json:"ticker"`
	CompanyName     string `json:"company_name"`
	AccessionNumber string `json:"accession_number"`
	FilingDate      string `json:"filing_date"`
	Form            string `json:"form"` // "10-K", "10-K/A", "10-Q"
	FiscalYear      int    `json:"fiscal_year"`
}

// IsAmended reports a 10-K/A or 10-Q/A.
func (m FilingMeta) IsAmended() bool {
	return strings.HasSuffix(strings.ToUpper(m.Form), "/A")
}

// Filing is the in-memory fact/context store for one filing. It is built
// once per load and not mutated afterwards.
type Filing struct {
	Meta     FilingMeta         `json:"meta"`
	Facts    []Fact             `json:"all_facts"`
	Contexts map[string]Context `json:"contexts"`
}

// NewFiling builds a filing, filling in context ids from map keys.
func NewFiling(meta FilingMeta, facts []Fact, contexts map[string]Context) *Filing {
	if contexts == nil {
		contexts = make(map[string]Context)
	}
	for id, c := range contexts {
		if c.ID == "" {
			c.ID = id
			contexts[id] = c
		}
	}
	return &Filing{Meta: meta, Facts: facts, Contexts: contexts}
}

// Empty returns a filing with zero facts; used when a document cannot be parsed.
func Empty(meta FilingMeta) *Filing {
	return NewFiling(meta, nil, nil)
}

// ContextOf returns the context a fact points to.
func (f *Filing) ContextOf(fact Fact) (Context, bool) {
	c, ok := f.Contexts[fact.ContextRef]
	return c, ok
}

// Tags returns the distinct raw tags present in the filing, sorted.
func (f *Filing) Tags() []string {
	seen := make(map[string]struct{}, len(f.Facts))
	var tags []string
	for _, fact := range f.Facts {
		if fact.Tag == "" {
			continue
		}
		if _, ok := seen[fact.Tag]; ok {
			continue
		}
		seen[fact.Tag] = struct{}{}
		tags = append(tags, fact.Tag)
	}
	sort.Strings(tags)
	return tags
}

// FactsByTag returns facts whose tag equals any of the given tags, ignoring case.
func (f *Filing) FactsByTag(tags ...string) []Fact {
	want := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		want[strings.ToLower(t)] = struct{}{}
	}
	var out []Fact
	for _, fact := range f.Facts {
		if _, ok := want[strings.ToLower(fact.Tag)]; ok {
			out = append(out, fact)
		}
	}
	return out
}

// ParseDate accepts "2006-01-02", "20060102" and RFC3339-style timestamps,
// with or without a trailing "Z". Returns nil for anything else.
func ParseDate(s string) *time.Time {
	clean := strings.TrimSuffix(strings.TrimSpace(s), "Z")
	if clean == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02", "20060102"} {
		candidate := clean
		if len(candidate) > len(layout) {
			candidate = candidate[:len(layout)]
		}
		if t, err := time.Parse(layout, candidate); err == nil {
			return &t
		}
	}
	return nil
}
