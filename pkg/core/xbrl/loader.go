package xbrl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"unit_economics/pkg/core/errors"
	"unit_economics/pkg/core/logging"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
)

// ===== WIRE FORMAT =====
// Fact dumps use the extractor's field names: "all_facts" (or "facts") and
// "contexts" keyed by id, dates as ISO strings.

type wireFiling struct {
	Meta     FilingMeta             `json:"meta"`
	AllFacts []wireFact             `json:"all_facts,omitempty"`
	Facts    []wireFact             `json:"facts,omitempty"`
	Contexts map[string]wireContext `json:"contexts"`
}

type wireFact struct {
	Tag          string `json:"tag"`
	Name         string `json:"name,omitempty"`
	ContextRef   string `json:"contextRef"`
	Context      string `json:"context,omitempty"`
	UnitRef      string `json:"unitRef,omitempty"`
	Decimals     any    `json:"decimals,omitempty"`
	RawValue     string `json:"raw_value,omitempty"`
	Value        any    `json:"value,omitempty"`
	NumericValue any    `json:"numeric_value"`
	Statement    string `json:"statement_type,omitempty"`
	Role         string `json:"role,omitempty"`
}

type wireContext struct {
	ID            string          `json:"id,omitempty"`
	PeriodType    string          `json:"period_type"`
	PeriodStart   string          `json:"period_start,omitempty"`
	PeriodEnd     string          `json:"period_end,omitempty"`
	PeriodInstant string          `json:"period_instant,omitempty"`
	Segment       json.RawMessage `json:"segment,omitempty"`
	Dimensions    json.RawMessage `json:"dimensions,omitempty"`
}

// LoadJSON parses a fact dump. Malformed JSON goes through json-repair first;
// anything still unreadable yields an empty filing, never an error.
func LoadJSON(data []byte) *Filing {
	f, err := DecodeJSON(data)
	if err == nil {
		return f
	}

	repaired, repairErr := jsonrepair.RepairJSON(string(data))
	if repairErr == nil {
		if f, err2 := DecodeJSON([]byte(repaired)); err2 == nil {
			logging.Logger.Warnw("[LOADER] fact dump needed repair", "error", err.Error(), "facts", len(f.Facts))
			return f
		}
	}
	logging.Logger.Warnw("[LOADER] unreadable fact dump, continuing with zero facts", "error", err.Error())
	return Empty(FilingMeta{})
}

// DecodeJSON is the strict form of LoadJSON.
func DecodeJSON(data []byte) (*Filing, error) {
	var w wireFiling
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrap(err, "decode fact dump")
	}
	return w.toFiling(), nil
}

// MarshalJSON writes the wire format so cached filings reload with DecodeJSON.
func (f *Filing) MarshalJSON() ([]byte, error) {
	w := wireFiling{Meta: f.Meta, Contexts: make(map[string]wireContext, len(f.Contexts))}
	for _, fact := range f.Facts {
		wf := wireFact{
			Tag:        fact.Tag,
			ContextRef: fact.ContextRef,
			UnitRef:    fact.UnitRef,
			RawValue:   fact.Raw,
			Statement:  fact.Statement,
			Role:       fact.Role,
		}
		if fact.Decimals != "" {
			wf.Decimals = fact.Decimals
		}
		if fact.Value != nil {
			wf.NumericValue = *fact.Value
		}
		w.AllFacts = append(w.AllFacts, wf)
	}
	for id, c := range f.Contexts {
		wc := wireContext{
			ID:            id,
			PeriodType:    string(c.PeriodType),
			PeriodStart:   formatDate(c.Start),
			PeriodEnd:     formatDate(c.End),
			PeriodInstant: formatDate(c.Instant),
		}
		if c.Segment != "" {
			wc.Segment, _ = json.Marshal(c.Segment)
		}
		if len(c.Dimensions) > 0 {
			wc.Dimensions, _ = json.Marshal(c.Dimensions)
		}
		w.Contexts[id] = wc
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the wire format.
func (f *Filing) UnmarshalJSON(data []byte) error {
	var w wireFiling
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*f = *w.toFiling()
	return nil
}

func (w wireFiling) toFiling() *Filing {
	raw := w.AllFacts
	if len(raw) == 0 {
		raw = w.Facts
	}
	facts := make([]Fact, 0, len(raw))
	for _, wf := range raw {
		facts = append(facts, wf.toFact())
	}
	contexts := make(map[string]Context, len(w.Contexts))
	for id, wc := range w.Contexts {
		contexts[id] = wc.toContext(id)
	}
	return NewFiling(w.Meta, facts, contexts)
}

func (wf wireFact) toFact() Fact {
	tag := wf.Tag
	if tag == "" {
		tag = wf.Name
	}
	ref := wf.ContextRef
	if ref == "" {
		ref = wf.Context
	}
	raw := wf.RawValue
	if raw == "" && wf.Value != nil {
		raw = fmt.Sprint(wf.Value)
	}
	fact := Fact{
		Tag:        tag,
		ContextRef: ref,
		UnitRef:    wf.UnitRef,
		Raw:        raw,
		Statement:  wf.Statement,
		Role:       wf.Role,
	}
	if wf.Decimals != nil {
		fact.Decimals = fmt.Sprint(wf.Decimals)
	}
	fact.Value = coerceNumber(wf.NumericValue)
	if fact.Value == nil {
		fact.Value = coerceNumber(wf.Value)
	}
	return fact
}

func (wc wireContext) toContext(id string) Context {
	c := Context{
		ID:         id,
		PeriodType: PeriodType(strings.ToLower(strings.TrimSpace(wc.PeriodType))),
		Start:      ParseDate(wc.PeriodStart),
		End:        ParseDate(wc.PeriodEnd),
		Instant:    ParseDate(wc.PeriodInstant),
		Segment:    rawText(wc.Segment),
		Dimensions: rawDimensions(wc.Dimensions),
	}
	if c.PeriodType == "" {
		switch {
		case c.Instant != nil:
			c.PeriodType = PeriodInstant
		case c.Start != nil || c.End != nil:
			c.PeriodType = PeriodDuration
		}
	}
	return c
}

func coerceNumber(v any) *float64 {
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		return &n
	case string:
		if f, ok := ParseNumber(n); ok {
			return &f
		}
	}
	return nil
}

// rawText flattens a segment of any JSON shape; null, "", {} and [] are empty.
func rawText(msg json.RawMessage) string {
	s := strings.TrimSpace(string(msg))
	switch s {
	case "", "null", `""`, "{}", "[]":
		return ""
	}
	var str string
	if err := json.Unmarshal(msg, &str); err == nil {
		return str
	}
	return s
}

func rawDimensions(msg json.RawMessage) map[string]string {
	if rawText(msg) == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(msg, &m); err == nil {
		out := make(map[string]string, len(m))
		for k, v := range m {
			out[k] = fmt.Sprint(v)
		}
		return out
	}
	var list []any
	if err := json.Unmarshal(msg, &list); err == nil && len(list) > 0 {
		out := make(map[string]string, len(list))
		for i, v := range list {
			out[strconv.Itoa(i)] = fmt.Sprint(v)
		}
		return out
	}
	return map[string]string{"raw": string(msg)}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// ParseNumber reads a disclosed figure: commas, "$" and spaces are dropped,
// parentheses mean negative, and a lone dash is zero.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")

	switch s {
	case "":
		return 0, false
	case "-", "—", "–":
		return 0, true
	}

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + s[1:len(s)-1]
	}

	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return val, true
}

// SortedContextIDs returns context ids in ascending order.
func (f *Filing) SortedContextIDs() []string {
	ids := make([]string, 0, len(f.Contexts))
	for id := range f.Contexts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
