// Package unitecon assembles a filing's unit-economics model: it resolves
// the solver inputs from canonical concepts, runs identity inference and
// folds in the cost-structure breakdown.
package unitecon

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"unit_economics/pkg/core/atlas"
	"unit_economics/pkg/core/concept"
	"unit_economics/pkg/core/coststructure"
	"unit_economics/pkg/core/drivers"
	"unit_economics/pkg/core/identity"
	"unit_economics/pkg/core/logging"
	"unit_economics/pkg/core/series"
)

// Heuristics used when inputs are not disclosed directly.
const (
	DefaultTaxRate = 0.21
	MaxTaxRate     = 0.5

	// share of a combined S&M line spent on acquisition vs retention
	AcquisitionShare = 0.8
	RetentionShare   = 0.2

	// coarser proxy from SG&A when S&M is not broken out
	SGAAcquisitionShare = 0.4
	SGARetentionShare   = 0.1

	DefaultTolerance = 1e-6
)

// cogsFallbackTag is read directly when CostOfRevenue resolves nothing.
const cogsFallbackTag = "us-gaap:CostOfGoodsAndServicesSold"

// zeroFilled are additive inputs that default to 0 before solving.
var zeroFilled = []string{
	identity.PPE,
	identity.Goodwill,
	identity.AcquiredIntangibles,
	identity.Capex,
	identity.RnD,
	identity.DeltaWorkingCapital,
}

// Options tunes a computation.
type Options struct {
	// Ticker overrides the filing's ticker for driver lookup.
	Ticker string
	// Tolerance for the post-solve consistency check; 0 means DefaultTolerance.
	Tolerance float64
	// Enforce turns identity violations into an error.
	Enforce bool
}

// Result is the consolidated per-filing model.
type Result struct {
	RunID  string `json:"run_id"`
	Ticker string `json:"ticker"`
	Year   int    `json:"year"`

	Driver            drivers.Choice `json:"volume_driver"`
	VolumeDriverValue *float64       `json:"volume_driver_value"`
	TaxRate           float64        `json:"tax_rate"`

	RevenuePerUnit            *float64 `json:"revenue_per_unit"`
	VariableCostPerUnit       *float64 `json:"variable_cost_per_unit"`
	ContributionMarginPerUnit *float64 `json:"contribution_margin_per_unit"`
	CAC                       *float64 `json:"cac"`
	ChurnRate                 *float64 `json:"churn_rate"`
	NOPAT                     *float64 `json:"nopat"`
	InvestedCapital           *float64 `json:"invested_capital"`
	ROIC                      *float64 `json:"roic"`
	ReinvestmentRate          *float64 `json:"reinvestment_rate"`

	MaintenanceCapex *float64 `json:"maintenance_capex"`
	NOPATTrue        *float64 `json:"nopat_true"`

	FixedCosts             *float64 `json:"fixed_costs"`
	VariableCostShare      *float64 `json:"variable_cost_share"`
	FixedCostShare         *float64 `json:"fixed_cost_share"`
	MarginalCost           *float64 `json:"marginal_cost"`
	BreakEvenRevenue       *float64 `json:"break_even_revenue"`
	ContributionMarginTrue *float64 `json:"contribution_margin_true"`

	CostStructure *coststructure.Result     `json:"cost_structure"`
	Model         identity.Values           `json:"model"`
	Violations    []*identity.IdentityError `json:"violations,omitempty"`
}

// Compute builds the model for the filing behind a. The error is non-nil
// only when opts.Enforce is set and the solved model violates an identity;
// the result is returned either way.
func Compute(ctx context.Context, a *atlas.Atlas, opts Options) (*Result, error) {
	ticker := opts.Ticker
	if ticker == "" {
		ticker = a.Ticker()
	}
	tol := opts.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}

	res := &Result{
		RunID:  uuid.New().String(),
		Ticker: strings.ToUpper(ticker),
		Year:   a.LatestYear(),
	}
	log := logging.Logger.With(logging.FieldRunID, res.RunID, logging.FieldTicker, res.Ticker)
	get := func(c string) *float64 { return a.Get(ctx, c, 0) }
	getAt := func(c string, year int) *float64 { return a.Get(ctx, c, year) }

	in := identity.Values{}
	set := func(name string, v *float64) {
		if v != nil {
			in[name] = *v
		}
	}

	// ===== P&L and tax =====
	set(identity.Revenue, get(concept.Revenue))
	set(identity.OperatingIncome, get(concept.OperatingIncome))
	res.TaxRate = taxRate(get(concept.IncomeTaxExpense), get(concept.PreTaxIncome))
	in[identity.TaxRate] = res.TaxRate

	// ===== Volume driver =====
	res.Driver = drivers.Infer(ticker, a)
	res.VolumeDriverValue = get(res.Driver.Name)
	set(identity.VolumeDriver, res.VolumeDriverValue)

	cogs := get(concept.CostOfRevenue)
	if cogs == nil {
		cogs = a.Get(ctx, cogsFallbackTag, 0)
	}
	if cogs != nil {
		in[identity.COGSVariable] = *cogs
	} else {
		in[identity.COGSVariable] = 0
	}

	// ===== Marketing split =====
	if sm := get(concept.SalesMarketing); sm != nil && *sm != 0 {
		in[identity.SalesMarketing] = *sm * AcquisitionShare
		in[identity.RetentionMarketing] = *sm * RetentionShare
	} else if sga := get(concept.GeneralAndAdministrative); sga != nil && *sga != 0 {
		in[identity.SalesMarketing] = *sga * SGAAcquisitionShare
		in[identity.RetentionMarketing] = *sga * SGARetentionShare
	}

	// ===== Reinvestment =====
	set(identity.Capex, get(concept.CapitalExpenditures))
	set(identity.RnD, get(concept.ResearchAndDevelopment))

	prev := res.Year - 1
	if res.Year > 0 {
		in[identity.DeltaWorkingCapital] = 0
		cur, old := getAt(concept.WorkingCapital, res.Year), getAt(concept.WorkingCapital, prev)
		if cur != nil && old != nil {
			in[identity.DeltaWorkingCapital] = *cur - *old
		}
	}

	// maintenance capex = max(0, D&A − ΔPPE)
	ppe := get(concept.PPE)
	if res.Year > 0 {
		dep, ppePrev := get(concept.DepreciationAmortization), getAt(concept.PPE, prev)
		if dep != nil && ppe != nil && ppePrev != nil {
			m := *dep - (*ppe - *ppePrev)
			if m < 0 {
				m = 0
			}
			res.MaintenanceCapex = &m
		}
	}

	// ===== Invested capital =====
	set(identity.PPE, ppe)
	set(identity.Goodwill, get(concept.Goodwill))
	set(identity.AcquiredIntangibles, get(concept.Intangibles))
	in[identity.NetWorkingCapital] = 0
	if wc, cash := get(concept.WorkingCapital), get(concept.Cash); wc != nil && cash != nil && *wc != 0 && *cash != 0 {
		in[identity.NetWorkingCapital] = *wc - *cash
	}
	for _, k := range zeroFilled {
		if _, ok := in[k]; !ok {
			in[k] = 0
		}
	}

	// ===== Solve =====
	model := identity.Infer(in)
	res.Model = model
	res.Violations = identity.Violations(model, tol)
	for _, v := range res.Violations {
		log.Debugw("[UNITECON] identity violated", logging.FieldIdentity, v.Name, "diff", v.Diff)
	}

	res.RevenuePerUnit = model.Get(identity.RevenuePerUnit)
	res.VariableCostPerUnit = model.Get(identity.VariableCostPerUnit)
	res.ContributionMarginPerUnit = model.Get(identity.ContributionMarginPerUnit)
	res.CAC = model.Get(identity.CAC)
	res.ChurnRate = model.Get(identity.ChurnRate)
	res.NOPAT = model.Get(identity.NOPAT)
	res.InvestedCapital = model.Get(identity.InvestedCapital)
	res.ROIC = model.Get(identity.ROIC)
	res.ReinvestmentRate = model.Get(identity.ReinvestmentRate)

	if oi := model.Get(identity.OperatingIncome); oi != nil {
		n := *oi * (1 - res.TaxRate)
		if res.MaintenanceCapex != nil {
			n -= *res.MaintenanceCapex
		}
		res.NOPATTrue = &n
	}

	// ===== Cost structure =====
	cs := costStructure(a, res.Driver)
	res.CostStructure = cs
	res.FixedCosts = cs.LatestFixedCost
	res.VariableCostShare = cs.LatestVariableShare
	if cs.LatestVariableShare != nil {
		f := 1 - *cs.LatestVariableShare
		res.FixedCostShare = &f
	}
	res.MarginalCost = cs.LatestMarginalCost
	res.BreakEvenRevenue = cs.BreakEvenRevenue
	res.ContributionMarginTrue = cs.LatestContributionMargin

	log.Infow("[UNITECON] model computed",
		"year", res.Year,
		"driver", res.Driver.Name,
		"driver_method", res.Driver.Method,
		"inputs", len(in),
		"solved", len(model)-len(in),
		"violations", len(res.Violations))

	if opts.Enforce && len(res.Violations) > 0 {
		return res, res.Violations[0]
	}
	return res, nil
}

// taxRate is provision / pre-tax income clamped to [0, MaxTaxRate], or the
// default when pre-tax income is not positive or either figure is missing.
func taxRate(provision, pretax *float64) float64 {
	if provision == nil || pretax == nil || *provision == 0 || *pretax <= 0 {
		return DefaultTaxRate
	}
	r := *provision / *pretax
	switch {
	case r < 0:
		return 0
	case r > MaxTaxRate:
		return MaxTaxRate
	}
	return r
}

// costStructure resolves the four buckets and runs the engine against the
// inferred driver's series, or revenue when the driver is the fallback.
func costStructure(a *atlas.Atlas, driver drivers.Choice) *coststructure.Result {
	cogs := a.Series(concept.CostOfRevenue)
	if len(cogs) == 0 {
		cogs = series.Build(a.Filing().FactsByTag(cogsFallbackTag), a.Filing().Contexts)
	}
	buckets := map[string]series.Series{
		coststructure.COGS:           cogs,
		coststructure.RnD:            a.Series(concept.ResearchAndDevelopment),
		coststructure.SalesMarketing: a.Series(concept.SalesMarketing),
		coststructure.GandA:          a.Series(concept.GeneralAndAdministrative),
	}

	var volume series.Series
	name := ""
	if driver.Method != drivers.MethodFallback {
		volume, name = a.Series(driver.Name), driver.Name
	}
	cs := coststructure.Compute(buckets, volume, a.Series(concept.Revenue), name)
	cs.LineItems = coststructure.ClassifyLineItems(costLines(a))
	return cs
}

// costLines collects the latest consolidated value of every cost or expense
// tag in the filing.
func costLines(a *atlas.Atlas) map[string]float64 {
	year := a.LatestYear()
	f := a.Filing()
	out := make(map[string]float64)
	for _, fact := range f.Facts {
		if fact.Value == nil {
			continue
		}
		lower := strings.ToLower(fact.Tag)
		if !strings.Contains(lower, "cost") && !strings.Contains(lower, "expense") {
			continue
		}
		ctx, ok := f.ContextOf(fact)
		if !ok || !ctx.Consolidated() || !ctx.IsDuration() {
			continue
		}
		if end := ctx.EndDate(); end == nil || end.Year() != year {
			continue
		}
		if _, seen := out[fact.Tag]; !seen {
			out[fact.Tag] = *fact.Value
		}
	}
	return out
}
