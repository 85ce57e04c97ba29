// Package kpi derives the named financial ratios reported for a filing and
// screens reports against simple threshold expressions.
package kpi

import (
	"context"
	"math"
	"sort"

	"unit_economics/pkg/core/atlas"
	"unit_economics/pkg/core/concept"
	"unit_economics/pkg/core/logging"
	"unit_economics/pkg/core/series"
	"unit_economics/pkg/core/unitecon"
)

// KPI names. Ratios are fractions, not percentages.
const (
	RevenueGrowth     = "RevenueGrowth"
	RevenueCAGR3Y     = "RevenueCAGR3Y"
	GrowthStability   = "GrowthStability"
	OperatingMargin   = "OperatingMargin"
	NetMargin         = "NetMargin"
	GrossMargin       = "GrossMargin"
	ROE               = "ROE"
	ROA               = "ROA"
	FreeCashFlow      = "FreeCashFlow"
	FCFMargin         = "FCFMargin"
	FCFConversion     = "FCFConversion"
	EBITDA            = "EBITDA"
	OperatingLeverage = "OperatingLeverage"
	IncrementalMargin = "IncrementalMargin"
	CapexIntensity    = "CapexIntensity"
	FCFYield          = "FCFYield"
	EarningsYield     = "EarningsYield"
	Leverage          = "Leverage"
	DebtToFCF         = "DebtToFCF"
	EVToEBIT          = "EVToEBIT"
	EVToEBITDA        = "EVToEBITDA"
	EVToSales         = "EVToSales"
	PE                = "PE"
	PS                = "PS"

	RevenuePerUnit            = "RevenuePerUnit"
	VariableCostPerUnit       = "VariableCostPerUnit"
	ContributionMarginPerUnit = "ContributionMarginPerUnit"
	CAC                       = "CAC"
	ChurnRate                 = "ChurnRate"
	ROIC                      = "ROIC"
	ROICTrue                  = "ROIC_True"
	ReinvestmentRate          = "ReinvestmentRate"
	NOPATTrue                 = "NOPAT_True"
	EPV                       = "EPV"
	EPVPerShare               = "EPVPerShare"
	VariableCostShare         = "VariableCostShare"
	FixedCostShare            = "FixedCostShare"
	MarginalCost              = "MarginalCost"
	BreakEvenRevenue          = "BreakEvenRevenue"
	ContributionMarginTrue    = "ContributionMargin_True"
)

// DefaultWACC discounts adjusted NOPAT for EPV when none is configured.
const DefaultWACC = 0.08

// Options tunes Compute.
type Options struct {
	WACC float64
}

// Report is every KPI for one filing. A nil value means not computable.
type Report struct {
	Ticker string              `json:"ticker"`
	Year   int                 `json:"year"`
	Values map[string]*float64 `json:"kpis"`
}

// Get returns a KPI value, nil when unknown or not computable.
func (r Report) Get(name string) *float64 { return r.Values[name] }

// Names lists the report's KPIs in name order.
func (r Report) Names() []string {
	out := make([]string, 0, len(r.Values))
	for k := range r.Values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Known reports whether name is a KPI this package computes.
func Known(name string) bool {
	_, ok := known[name]
	return ok
}

var known = func() map[string]struct{} {
	m := make(map[string]struct{})
	for _, n := range []string{
		RevenueGrowth, RevenueCAGR3Y, GrowthStability, OperatingMargin, NetMargin,
		GrossMargin, ROE, ROA, FreeCashFlow, FCFMargin, FCFConversion, EBITDA,
		OperatingLeverage, IncrementalMargin, CapexIntensity, FCFYield,
		EarningsYield, Leverage, DebtToFCF, EVToEBIT, EVToEBITDA, EVToSales, PE, PS,
		RevenuePerUnit, VariableCostPerUnit, ContributionMarginPerUnit, CAC,
		ChurnRate, ROIC, ROICTrue, ReinvestmentRate, NOPATTrue, EPV, EPVPerShare,
		VariableCostShare, FixedCostShare, MarginalCost, BreakEvenRevenue,
		ContributionMarginTrue,
	} {
		m[n] = struct{}{}
	}
	return m
}()

// Compute derives every KPI for the filing behind a. ue may be nil, in
// which case unit-economics KPIs are nil.
func Compute(ctx context.Context, a *atlas.Atlas, ue *unitecon.Result, opts Options) Report {
	wacc := opts.WACC
	if wacc <= 0 {
		wacc = DefaultWACC
	}
	year := a.LatestYear()
	if ue != nil && ue.Year != 0 {
		year = ue.Year
	}
	get := func(c string) *float64 { return a.Get(ctx, c, year) }

	r := Report{Ticker: a.Ticker(), Year: year, Values: make(map[string]*float64, len(known))}
	for n := range known {
		r.Values[n] = nil
	}
	set := func(name string, v *float64) {
		if v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) {
			r.Values[name] = v
		}
	}

	// ===== Growth =====
	rev := a.Series(concept.Revenue)
	oi := a.Series(concept.OperatingIncome)
	revYoY := rev.YoY()
	if n := len(revYoY); n > 0 {
		set(RevenueGrowth, revYoY[n-1].Value)
	}
	if n := len(rev); n >= 3 {
		set(RevenueCAGR3Y, rev[n-3:].CAGR())
	}
	set(GrowthStability, revYoY.StdDev())
	set(OperatingLeverage, meanRatio(oi.YoY(), revYoY))
	set(IncrementalMargin, incremental(oi, rev))

	// ===== Margins and returns =====
	revenue := get(concept.Revenue)
	opInc := get(concept.OperatingIncome)
	netInc := get(concept.NetIncome)
	gross := get(concept.GrossProfit)
	if gross == nil {
		if cogs := get(concept.CostOfRevenue); revenue != nil && cogs != nil {
			gross = ptr(*revenue - *cogs)
		}
	}
	equity := get(concept.StockholdersEquity)
	assets := get(concept.TotalAssets)
	liabilities := get(concept.TotalLiabilities)

	set(OperatingMargin, ratio(opInc, revenue))
	set(NetMargin, ratio(netInc, revenue))
	set(GrossMargin, ratio(gross, revenue))
	set(ROE, ratio(netInc, equity))
	set(ROA, ratio(netInc, assets))
	set(Leverage, ratio(liabilities, equity))

	// ===== Cash flow =====
	capex := get(concept.CapitalExpenditures)
	var fcf *float64
	if ocf := get(concept.OperatingCashFlow); ocf != nil {
		spent := 0.0
		if capex != nil {
			spent = math.Abs(*capex)
		}
		fcf = ptr(*ocf - spent)
	}
	var ebitda *float64
	if opInc != nil {
		e := *opInc
		if da := get(concept.DepreciationAmortization); da != nil {
			e += *da
		}
		ebitda = &e
	}
	set(FreeCashFlow, fcf)
	set(FCFMargin, ratio(fcf, revenue))
	set(FCFConversion, ratio(fcf, netInc))
	set(EBITDA, ebitda)
	if capex != nil {
		set(CapexIntensity, ratio(ptr(math.Abs(*capex)), revenue))
	}
	set(DebtToFCF, ratio(liabilities, fcf))

	// ===== Valuation =====
	mc := a.Get(ctx, atlas.MarketCap, 0)
	ev := a.Get(ctx, atlas.EnterpriseValue, year)
	set(FCFYield, ratio(fcf, mc))
	set(EarningsYield, ratio(netInc, mc))
	set(EVToEBIT, ratio(ev, opInc))
	set(EVToEBITDA, ratio(ev, ebitda))
	set(EVToSales, ratio(ev, revenue))
	set(PE, ratio(a.Get(ctx, atlas.Price, 0), get(concept.EPS)))
	set(PS, ratio(mc, revenue))

	// ===== Unit economics =====
	if ue != nil {
		set(RevenuePerUnit, ue.RevenuePerUnit)
		set(VariableCostPerUnit, ue.VariableCostPerUnit)
		set(ContributionMarginPerUnit, ue.ContributionMarginPerUnit)
		set(CAC, ue.CAC)
		set(ChurnRate, ue.ChurnRate)
		set(ROIC, ue.ROIC)
		set(ReinvestmentRate, ue.ReinvestmentRate)
		set(NOPATTrue, ue.NOPATTrue)
		set(ROICTrue, ratio(ue.NOPATTrue, ue.InvestedCapital))
		if ue.NOPATTrue != nil {
			epv := *ue.NOPATTrue / wacc
			set(EPV, &epv)
			set(EPVPerShare, ratio(&epv, a.SharesOutstanding(ctx, 0)))
		}
		set(VariableCostShare, ue.VariableCostShare)
		set(FixedCostShare, ue.FixedCostShare)
		set(MarginalCost, ue.MarginalCost)
		set(BreakEvenRevenue, ue.BreakEvenRevenue)
		set(ContributionMarginTrue, ue.ContributionMarginTrue)
	}

	computed := 0
	for _, v := range r.Values {
		if v != nil {
			computed++
		}
	}
	logging.Logger.Debugw("[KPI] report computed",
		logging.FieldTicker, r.Ticker, "year", year, "computed", computed, "total", len(r.Values))
	return r
}

// ratio is num/den, nil when either is missing or den is zero.
func ratio(num, den *float64) *float64 {
	if num == nil || den == nil || *den == 0 {
		return nil
	}
	return ptr(*num / *den)
}

// meanRatio averages a[y]/b[y] over years where both growth rates are known
// and b[y] is non-zero.
func meanRatio(a, b series.Series) *float64 {
	bm := b.Map()
	sum, n := 0.0, 0
	for _, p := range a {
		den, ok := bm[p.Year]
		if p.Value == nil || !ok || den == 0 {
			continue
		}
		sum += *p.Value / den
		n++
	}
	if n == 0 {
		return nil
	}
	return ptr(sum / float64(n))
}

// incremental is ΔOperatingIncome / ΔRevenue over the last two years both
// series share.
func incremental(oi, rev series.Series) *float64 {
	om, rm := oi.Map(), rev.Map()
	var shared []int
	for _, y := range rev.Years() {
		if _, ok := om[y]; ok {
			shared = append(shared, y)
		}
	}
	if len(shared) < 2 {
		return nil
	}
	y0, y1 := shared[len(shared)-2], shared[len(shared)-1]
	dRev := rm[y1] - rm[y0]
	if dRev == 0 {
		return nil
	}
	return ptr((om[y1] - om[y0]) / dRev)
}

func ptr(v float64) *float64 { return &v }
