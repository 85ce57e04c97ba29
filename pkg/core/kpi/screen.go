package kpi

import (
	"regexp"
	"strconv"
	"strings"

	"unit_economics/pkg/core/errors"
)

// Clause is one `<KPI> <op> <number>` comparison.
type Clause struct {
	KPI       string
	Op        string
	Threshold float64
}

var (
	andRe    = regexp.MustCompile(`(?i)\s+and\s+|\n`)
	clauseRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_]*)\s*(>=|<=|==|!=|>|<)\s*(\S+)$`)
)

// ParseScreen compiles an expression such as
//
//	ROIC_True > 0.12 AND RevenueCAGR3Y >= 0.05
//
// Clauses are joined by AND (any case) or newlines. Unknown KPI names,
// missing operators and non-numeric thresholds are errors.
func ParseScreen(expr string) ([]Clause, error) {
	var out []Clause
	for _, part := range andRe.Split(expr, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m := clauseRe.FindStringSubmatch(part)
		if m == nil {
			return nil, errors.Newf("malformed clause %q", part)
		}
		if !Known(m[1]) {
			return nil, errors.WithHint(errors.Newf("unknown KPI %q", m[1]), "run `atlas kpi` to list KPI names")
		}
		v, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "threshold in %q", part)
		}
		out = append(out, Clause{KPI: m[1], Op: m[2], Threshold: v})
	}
	if len(out) == 0 {
		return nil, errors.New("empty screen expression")
	}
	return out, nil
}

// Eval applies the clause to a report. A nil KPI never passes.
func (c Clause) Eval(r Report) bool {
	v := r.Get(c.KPI)
	if v == nil {
		return false
	}
	switch c.Op {
	case ">":
		return *v > c.Threshold
	case ">=":
		return *v >= c.Threshold
	case "<":
		return *v < c.Threshold
	case "<=":
		return *v <= c.Threshold
	case "==":
		return *v == c.Threshold
	case "!=":
		return *v != c.Threshold
	}
	return false
}

// Screen reports whether every clause of expr holds for the report.
func Screen(expr string, r Report) (bool, error) {
	clauses, err := ParseScreen(expr)
	if err != nil {
		return false, err
	}
	for _, c := range clauses {
		if !c.Eval(r) {
			return false, nil
		}
	}
	return true, nil
}
