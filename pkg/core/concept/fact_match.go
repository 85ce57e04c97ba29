package concept

import (
	"context"
	"math"
	"strings"

	"unit_economics/pkg/core/embed"
)

// Category is a coarse financial grouping used as a prior when matching a
// query against a filing's own tags.
type Category string

const (
	CategoryTax       Category = "Tax"
	CategoryRevenue   Category = "Revenue"
	CategoryCOGS      Category = "COGS"
	CategoryOperating Category = "Operating"
	CategoryFinancing Category = "Financing"
	CategoryEPS       Category = "EPS"
	CategoryOther     Category = "Other"
)

// FactMatchThreshold is the minimum hybrid score for ResolveToFact.
const FactMatchThreshold = 0.40

// Hybrid score weights.
const (
	weightSimilarity = 0.60
	weightOverlap    = 0.25
	categoryBonus    = 0.15
)

// Classify assigns text to a category; the first rule that matches wins.
func Classify(text string) Category {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "tax"):
		return CategoryTax
	case strings.Contains(t, "revenue"), strings.Contains(t, "sales"):
		return CategoryRevenue
	case strings.Contains(t, "cost of"), strings.Contains(t, "cogs"):
		return CategoryCOGS
	case strings.Contains(t, "operating"), strings.Contains(t, "ebit"):
		return CategoryOperating
	case strings.Contains(t, "interest"), strings.Contains(t, "debt"):
		return CategoryFinancing
	case strings.Contains(t, "share"), strings.Contains(t, "eps"):
		return CategoryEPS
	case strings.Contains(t, "income"), strings.Contains(t, "loss"),
		strings.Contains(t, "profit"), strings.Contains(t, "earnings"):
		return CategoryOperating
	}
	return CategoryOther
}

// Tokenize splits CamelCase text into words. A word is an optional capital
// followed by lower-case letters; a run of capitals is one word when it ends
// the text, otherwise its last capital starts the next word. Anything that
// is not an ASCII letter separates words.
func Tokenize(text string) []string {
	isUpper := func(b byte) bool { return b >= 'A' && b <= 'Z' }
	isLower := func(b byte) bool { return b >= 'a' && b <= 'z' }

	var out []string
	for i := 0; i < len(text); {
		j := i
		if isUpper(text[j]) {
			j++
		}
		if j < len(text) && isLower(text[j]) {
			for j < len(text) && isLower(text[j]) {
				j++
			}
			out = append(out, text[i:j])
			i = j
			continue
		}
		if !isUpper(text[i]) {
			i++
			continue
		}
		end := i
		for end < len(text) && isUpper(text[end]) {
			end++
		}
		switch {
		case end == len(text):
			out = append(out, text[i:end])
			i = end
		case end-1 > i:
			out = append(out, text[i:end-1])
			i = end - 1
		default:
			i++
		}
	}
	return out
}

// KeywordOverlap is |query ∩ candidate| / |query| over lower-cased
// CamelCase token sets.
func KeywordOverlap(query, candidate string) float64 {
	q := tokenSet(query)
	if len(q) == 0 {
		return 0
	}
	f := tokenSet(candidate)
	n := 0
	for t := range q {
		if _, ok := f[t]; ok {
			n++
		}
	}
	return float64(n) / float64(len(q))
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokenize(s) {
		set[strings.ToLower(t)] = struct{}{}
	}
	return set
}

// FactMatch is a scored candidate from ResolveToFact.
type FactMatch struct {
	Tag        string
	Score      float64
	Similarity float64
	Overlap    float64
	Prior      float64
	Penalty    float64
}

// ResolveToFact matches a query against the raw tags present in one filing
// when the canonical concept found nothing. It returns the best tag when its
// hybrid score reaches FactMatchThreshold.
func (c *Canonicalizer) ResolveToFact(ctx context.Context, query string, tags []string) (string, bool) {
	best, ok := c.ScoreFacts(ctx, query, tags)
	if !ok || best.Score < FactMatchThreshold {
		return "", false
	}
	return best.Tag, true
}

// ScoreFacts returns the highest-scoring tag regardless of threshold.
// Similarity is 0 for every candidate when the embedding backend is absent.
func (c *Canonicalizer) ScoreFacts(ctx context.Context, query string, tags []string) (FactMatch, bool) {
	queryBase := StripPrefix(strings.TrimSpace(query))
	queryCat := Classify(queryBase)
	qLow := strings.ToLower(queryBase)

	seen := make(map[string]struct{}, len(tags))
	best := FactMatch{Score: math.Inf(-1)}
	found := false
	embeddingsOn := true

	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}

		nameBase := StripPrefix(tag)
		nLow := strings.ToLower(nameBase)
		m := FactMatch{Tag: tag}

		if embeddingsOn {
			sim, err := embed.Similarity(ctx, c.embedder, queryBase, nameBase)
			if err != nil {
				embeddingsOn = !embed.IsUnavailable(err)
			} else {
				m.Similarity = sim
			}
		}
		m.Overlap = KeywordOverlap(queryBase, nameBase)
		m.Prior = categoryPrior(queryCat, Classify(nameBase))

		if strings.Contains(qLow, "operat") && strings.Contains(nLow, "tax") {
			m.Penalty += 0.20
		}
		if strings.Contains(qLow, "tax") && strings.Contains(nLow, "operat") {
			m.Penalty += 0.20
		}
		if strings.Contains(qLow, "revenue") && strings.Contains(nLow, "net income") {
			m.Penalty += 0.10
		}
		if strings.Contains(qLow, "net income") && strings.Contains(nLow, "revenue") {
			m.Penalty += 0.10
		}

		m.Score = weightSimilarity*m.Similarity + weightOverlap*m.Overlap + m.Prior - m.Penalty
		if m.Score > best.Score {
			best = m
			found = true
		}
	}
	return best, found
}

func categoryPrior(query, candidate Category) float64 {
	switch {
	case query == candidate && query != CategoryOther:
		return categoryBonus
	case query == CategoryOperating && candidate == CategoryTax,
		query == CategoryTax && candidate == CategoryOperating:
		return -categoryBonus
	}
	return 0
}
