package xbrl

import (
	"math"
	"strings"
)

// Concepts whose primary line is a flow, so duration contexts win.
var durationConcepts = map[string]bool{
	"revenue":         true,
	"operatingincome": true,
	"grossprofit":     true,
	"netincome":       true,
}

var statementRank = map[string]float64{
	"incomestatement":   0,
	"cashflowstatement": 1,
	"balancesheet":      2,
}

var roleRank = map[string]float64{
	"statementofincome":                     0,
	"statementofcashflows":                  1,
	"statementofchangesinfinancialposition": 1,
	"statementofchangesinownersequity":      2,
	"balancesheet":                          2,
	"statementsoffinancialposition":         2,
	"footnotes":                             3,
}

func squash(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

// SelectSemantic picks among every line item resolving to the concept using
// the broader ranking: consolidated scope, preferred period type, longer
// duration, statement section, disclosure role, recency, then larger
// magnitude.
func (ix *Index) SelectSemantic(concept, period string) *Fact {
	ranked := ix.RankSemantic(concept, period)
	if len(ranked) == 0 {
		return nil
	}
	return &ranked[0]
}

// RankSemantic returns all candidates in semantic order.
func (ix *Index) RankSemantic(concept, period string) []Fact {
	candidates, ok := ix.inPeriod(ix.Facts(concept), period)
	if !ok {
		return nil
	}
	preferDuration := durationConcepts[squash(ix.canonicalize(concept))] ||
		PreferredPeriodType(period) == PeriodDuration
	keys := make([]rankKey, len(candidates))
	for i, fact := range candidates {
		keys[i] = semanticKey(fact, ix.filing.Contexts[fact.ContextRef], preferDuration)
	}
	sortByKey(candidates, keys)
	return candidates
}

// PickBest orders arbitrary candidates with the semantic key and no period
// preference.
func PickBest(facts []Fact, contexts map[string]Context) *Fact {
	if len(facts) == 0 {
		return nil
	}
	keys := make([]rankKey, len(facts))
	for i, fact := range facts {
		keys[i] = semanticKey(fact, contexts[fact.ContextRef], false)
	}
	best := facts[argmin(keys)]
	return &best
}

func semanticKey(fact Fact, ctx Context, preferDuration bool) rankKey {
	consolidated := 1.0
	if ctx.Consolidated() {
		consolidated = 0
	}

	period := 0.0
	if preferDuration {
		switch {
		case ctx.IsDuration():
			period = 0
		case ctx.IsInstant():
			period = 1
		default:
			period = 2
		}
	}

	duration := math.Inf(1)
	if days, ok := ctx.DurationDays(); ok {
		duration = -float64(days)
	}

	stmt, ok := statementRank[squash(fact.Statement)]
	if !ok {
		stmt = 3
	}
	role, ok := roleRank[squash(fact.Role)]
	if !ok {
		role = 4
	}

	magnitude := math.Inf(1)
	if fact.Value != nil {
		magnitude = -math.Abs(*fact.Value)
	}

	return rankKey{consolidated, period, duration, stmt, role, dateRank(ctx.EndDate()), magnitude}
}
