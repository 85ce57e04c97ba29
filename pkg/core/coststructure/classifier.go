package coststructure

import (
	"sort"
	"strings"

	"unit_economics/pkg/core/concept"
)

// Classification of a cost line item.
type Classification string

const (
	Variable Classification = "variable"
	Fixed    Classification = "fixed"
)

var variableKeywords = []string{
	"payment processing",
	"processing fee",
	"transaction fee",
	"revenue share",
	"commission",
	"shipping",
	"freight",
	"delivery",
	"fulfillment",
	"packaging",
	"hosting",
	"cloud infrastructure",
	"cost of goods",
	"cost of revenue",
	"inventory",
	"sales commission",
	"customer acquisition cost",
	"cac",
	"marketing",
}

var fixedKeywords = []string{
	"rent",
	"lease",
	"depreciation",
	"amortization",
	"stock-based compensation",
	"stock based",
	"sbc",
	"share-based",
	"share based",
	"salaries",
	"wages",
	"general and administrative",
	"g&a",
	"overhead",
	"corporate",
	"research and development",
	"r&d",
	"engineering",
	"audit",
	"legal",
	"insurance",
}

// normalizeLabel lower-cases a label and appends its CamelCase words, so
// "us-gaap:CostOfRevenue" also reads "us gaap cost of revenue".
func normalizeLabel(label string) string {
	plain := strings.ToLower(strings.ReplaceAll(label, "_", " "))
	words := strings.ToLower(strings.Join(concept.Tokenize(label), " "))
	if words == "" || words == plain {
		return plain
	}
	return plain + " " + words
}

// Classify tags a cost label as variable or fixed. Variable keywords are
// checked first, but anything stock- or share-based is fixed. Labels no rule
// covers are fixed.
func Classify(label string) Classification {
	n := normalizeLabel(label)
	squashed := strings.ReplaceAll(strings.ToLower(label), " ", "")

	for _, kw := range variableKeywords {
		if strings.Contains(n, kw) {
			if strings.Contains(n, "stock") || strings.Contains(n, "share-based") || strings.Contains(n, "share based") {
				return Fixed
			}
			return Variable
		}
	}
	for _, kw := range fixedKeywords {
		if strings.Contains(n, kw) {
			return Fixed
		}
	}
	switch {
	case strings.Contains(squashed, "costofrevenue"), strings.Contains(squashed, "costofgoodssold"):
		return Variable
	case strings.Contains(squashed, "operatingexpense"):
		return Fixed
	}
	return Fixed
}

// VariablePortion is the value for a variable line item and 0 otherwise.
func VariablePortion(label string, value float64) float64 {
	if Classify(label) == Variable {
		return value
	}
	return 0
}

// LineItem is one classified cost line.
type LineItem struct {
	Tag            string         `json:"tag"`
	Value          float64        `json:"value"`
	Class          Classification `json:"class"`
	VariableAmount float64        `json:"variable_amount"`
}

// ClassifyLineItems classifies each tag and returns the items sorted by tag.
func ClassifyLineItems(items map[string]float64) []LineItem {
	out := make([]LineItem, 0, len(items))
	for tag, v := range items {
		c := Classify(tag)
		li := LineItem{Tag: tag, Value: v, Class: c}
		if c == Variable {
			li.VariableAmount = v
		}
		out = append(out, li)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}
