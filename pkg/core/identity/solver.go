package identity

import (
	"fmt"
	"math"

	"unit_economics/pkg/core/errors"
	"unit_economics/pkg/core/logging"
)

// SolveError reports that an identity could not be isolated for a target.
type SolveError struct {
	Identity string
	Target   string
	Reason   string
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("solve %s for %s: %s", e.Identity, e.Target, e.Reason)
}

// IdentityError reports a fully-known identity whose residual exceeds the
// tolerance.
type IdentityError struct {
	Name string
	Diff float64
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("identity %s violated (diff=%.4f)", e.Name, e.Diff)
}

// Check substitutes values into the identity. checked is false when the
// identity is unknown or a variable is missing; ok is |lhs-rhs| < tol.
func Check(name string, values Values, tol float64) (checked, ok bool) {
	id, found := byName[name]
	if !found || !values.Has(id.Vars...) {
		return false, false
	}
	d := id.residual(values)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return true, false
	}
	return true, math.Abs(d) < tol
}

// Diff evaluates lhs - rhs for a fully-known identity.
func Diff(name string, values Values) (float64, error) {
	id, found := byName[name]
	if !found {
		return 0, errors.Newf("unknown identity %q", name)
	}
	if !values.Has(id.Vars...) {
		return 0, errors.Newf("identity %s: missing variables", name)
	}
	return id.residual(values), nil
}

// SolveFor isolates target in the named identity and substitutes the other
// variables from known.
func SolveFor(name string, known Values, target string) (float64, error) {
	id, found := byName[name]
	if !found {
		return 0, &SolveError{Identity: name, Target: target, Reason: "unknown identity"}
	}
	solve, ok := id.solve[target]
	if !ok {
		return 0, &SolveError{Identity: name, Target: target, Reason: "variable not in identity"}
	}
	for _, v := range id.Vars {
		if v == target {
			continue
		}
		if _, ok := known[v]; !ok {
			return 0, &SolveError{Identity: name, Target: target, Reason: "missing " + v}
		}
	}

	x, err := solve(known)
	if err != nil {
		return 0, &SolveError{Identity: name, Target: target, Reason: err.Error()}
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, &SolveError{Identity: name, Target: target, Reason: "no real solution"}
	}

	// A degenerate substitution can isolate a value the original equation
	// cannot hold, e.g. any RetentionMarketing when GrossNewCustomers is 0.
	trial := known.Clone()
	trial[target] = x
	if r := id.residual(trial); math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, &SolveError{Identity: name, Target: target, Reason: "no real solution"}
	}
	return x, nil
}

// ===== Fixpoint propagation =====

// Rule solves Identity for Target once every variable in Requires is known.
type Rule struct {
	Identity string
	Target   string
	Requires []string
}

// Rules is the priority-ordered solve table. When a target has several
// rules the first one satisfied wins.
var Rules = []Rule{
	{ChurnedCustomersIdentity, ChurnedCustomers, []string{CustomersStart, ChurnRate}},
	{GrossNewCustomersIdentity, GrossNewCustomers, []string{DeltaCustomers, ChurnedCustomers}},
	{CACIdentity, CAC, []string{SalesMarketing, RetentionMarketing, GrossNewCustomers}},
	{CACIdentity, GrossNewCustomers, []string{SalesMarketing, RetentionMarketing, CAC}},

	{UnitRevenueIdentity, RevenuePerUnit, []string{Revenue, VolumeDriver}},
	{VariableCostPerUnitIdentity, VariableCostPerUnit, []string{COGSVariable, VolumeDriver}},
	{ContributionMarginIdentity, ContributionMarginPerUnit, []string{Revenue, COGSVariable, VolumeDriver}},
	{ContributionMarginCheck, ContributionMarginPerUnit, []string{RevenuePerUnit, VariableCostPerUnit}},

	{NOPATIdentity, NOPAT, []string{OperatingIncome, TaxRate}},
	{InvestedCapitalIdentity, InvestedCapital, []string{PPE, NetWorkingCapital, Goodwill, AcquiredIntangibles}},
	{ROICIdentity, ROIC, []string{NOPAT, InvestedCapital}},

	{ReinvestmentRateIdentity, ReinvestmentRate, []string{Capex, DeltaWorkingCapital, RnD, NOPAT}},
}

// Infer repeatedly fires rules whose target is unknown and whose inputs
// are known until a pass adds nothing. Known values are never overwritten.
// Solve failures leave the target unknown.
func Infer(values Values) Values {
	return InferWith(Rules, values)
}

// InferWith is Infer over a caller-supplied rule table.
func InferWith(rules []Rule, values Values) Values {
	out := values.Clone()

	vars := make(map[string]struct{})
	for _, r := range rules {
		vars[r.Target] = struct{}{}
		for _, v := range r.Requires {
			vars[v] = struct{}{}
		}
	}
	maxPasses := len(rules)*len(vars) + 1

	for pass := 0; pass < maxPasses; pass++ {
		changed := false
		for _, r := range rules {
			if _, known := out[r.Target]; known || !out.Has(r.Requires...) {
				continue
			}
			x, err := SolveFor(r.Identity, out, r.Target)
			if err != nil {
				logging.Logger.Debugw("[SOLVER] rule skipped",
					logging.FieldIdentity, r.Identity, "target", r.Target, "error", err.Error())
				continue
			}
			out[r.Target] = x
			changed = true
		}
		if !changed {
			break
		}
	}
	return out
}

// Violations returns every fully-known identity whose residual is not
// within tol, in declaration order.
func Violations(values Values, tol float64) []*IdentityError {
	var out []*IdentityError
	for _, id := range identities {
		checked, ok := Check(id.Name, values, tol)
		if checked && !ok {
			out = append(out, &IdentityError{Name: id.Name, Diff: id.residual(values)})
		}
	}
	return out
}

// EnforceAll returns the first violated fully-known identity, or nil.
func EnforceAll(values Values, tol float64) error {
	if v := Violations(values, tol); len(v) > 0 {
		return v[0]
	}
	return nil
}
