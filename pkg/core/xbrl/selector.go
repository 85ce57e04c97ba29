package xbrl

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Canonicalizer maps a raw tag or query to its canonical concept name.
type Canonicalizer interface {
	Canonicalize(nameOrQuery string) string
}

// Index groups a filing's facts by canonical concept. The tag→concept map is
// computed once; lookups are read-only afterwards.
type Index struct {
	filing     *Filing
	canon      Canonicalizer
	tagConcept map[string]string // raw tag -> lower-cased canonical concept
}

// NewIndex canonicalizes every distinct tag in the filing. A nil
// canonicalizer matches on raw tag equality.
func NewIndex(f *Filing, c Canonicalizer) *Index {
	ix := &Index{filing: f, canon: c, tagConcept: make(map[string]string)}
	for _, tag := range f.Tags() {
		ix.tagConcept[tag] = strings.ToLower(ix.canonicalize(tag))
	}
	return ix
}

// Filing returns the underlying store.
func (ix *Index) Filing() *Filing { return ix.filing }

func (ix *Index) canonicalize(s string) string {
	if ix.canon == nil {
		return s
	}
	return ix.canon.Canonicalize(s)
}

// Facts returns every fact whose tag canonicalizes to the same concept as
// the query, with Concept filled in. Filing order is preserved.
func (ix *Index) Facts(concept string) []Fact {
	target := ix.canonicalize(concept)
	want := strings.ToLower(target)
	var out []Fact
	for _, fact := range ix.filing.Facts {
		if ix.tagConcept[fact.Tag] != want {
			continue
		}
		fact.Concept = target
		out = append(out, fact)
	}
	return out
}

// inPeriod filters facts to the contexts an alias resolves to. The second
// return is false when a period was given and nothing survived.
func (ix *Index) inPeriod(facts []Fact, period string) ([]Fact, bool) {
	if strings.TrimSpace(period) == "" {
		return facts, len(facts) > 0
	}
	allowed := make(map[string]struct{})
	for _, id := range ix.filing.ResolvePeriod(period) {
		allowed[id] = struct{}{}
	}
	var out []Fact
	for _, fact := range facts {
		if _, ok := allowed[fact.ContextRef]; ok {
			out = append(out, fact)
		}
	}
	return out, len(out) > 0
}

// Select returns the best fact for a concept and optional period alias, or
// nil. Ranking: numeric before non-numeric, the alias's preferred period type
// first, then newest date.
func (ix *Index) Select(concept, period string) *Fact {
	candidates, ok := ix.inPeriod(ix.Facts(concept), period)
	if !ok {
		return nil
	}
	preferred := PreferredPeriodType(period)
	keys := make([]rankKey, len(candidates))
	for i, fact := range candidates {
		keys[i] = ix.selectKey(fact, preferred)
	}
	return &candidates[argmin(keys)]
}

// Value is Select followed by the numeric value.
func (ix *Index) Value(concept, period string) *float64 {
	fact := ix.Select(concept, period)
	if fact == nil {
		return nil
	}
	return fact.Value
}

func (ix *Index) selectKey(fact Fact, preferred PeriodType) rankKey {
	ctx, hasCtx := ix.filing.ContextOf(fact)
	numeric := 1.0
	if fact.HasValue() {
		numeric = 0
	}
	periodRank := 0.0
	if preferred != "" && !(hasCtx && strings.EqualFold(string(ctx.PeriodType), string(preferred))) {
		periodRank = 1
	}
	return rankKey{numeric, periodRank, dateRank(ctx.SortDate())}
}

// rankKey is compared lexicographically, smaller first.
type rankKey []float64

func (k rankKey) less(o rankKey) bool {
	for i := range k {
		if i >= len(o) {
			return false
		}
		if k[i] != o[i] {
			return k[i] < o[i]
		}
	}
	return len(k) < len(o)
}

// argmin returns the first index holding the smallest key, so equal keys
// keep filing order.
func argmin(keys []rankKey) int {
	best := 0
	for i := 1; i < len(keys); i++ {
		if keys[i].less(keys[best]) {
			best = i
		}
	}
	return best
}

// sortByKey orders facts by their keys, stable on ties.
func sortByKey(facts []Fact, keys []rankKey) {
	idx := make([]int, len(facts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]].less(keys[idx[b]]) })
	sorted := make([]Fact, len(facts))
	for i, j := range idx {
		sorted[i] = facts[j]
	}
	copy(facts, sorted)
}

// dateRank puts newer dates first and undated contexts last.
func dateRank(d *time.Time) float64 {
	if d == nil {
		return math.Inf(1)
	}
	return -float64(d.Unix())
}
