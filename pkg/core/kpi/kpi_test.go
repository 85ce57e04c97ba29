package kpi

import (
	"context"
	"math"
	"testing"

	"unit_economics/pkg/core/atlas"
	"unit_economics/pkg/core/marketdata"
	"unit_economics/pkg/core/unitecon"
	"unit_economics/pkg/core/xbrl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fy(y string) xbrl.Context {
	return xbrl.Context{PeriodType: xbrl.PeriodDuration, Start: xbrl.ParseDate(y + "-01-01"), End: xbrl.ParseDate(y + "-12-31")}
}

func testAtlas() *atlas.Atlas {
	contexts := map[string]xbrl.Context{
		"FY2021": fy("2021"), "FY2022": fy("2022"), "FY2023": fy("2023"),
		"I2023": {PeriodType: xbrl.PeriodInstant, Instant: xbrl.ParseDate("2023-12-31")},
	}
	fact := func(tag, ctx string, v float64) xbrl.Fact {
		return xbrl.Fact{Tag: tag, ContextRef: ctx, Value: ptr(v)}
	}
	facts := []xbrl.Fact{
		fact("us-gaap:Revenues", "FY2021", 100),
		fact("us-gaap:Revenues", "FY2022", 120),
		fact("us-gaap:Revenues", "FY2023", 150),
		fact("us-gaap:OperatingIncomeLoss", "FY2021", 10),
		fact("us-gaap:OperatingIncomeLoss", "FY2022", 15),
		fact("us-gaap:OperatingIncomeLoss", "FY2023", 24),
		fact("us-gaap:CostOfRevenue", "FY2023", 60),
		fact("us-gaap:NetIncomeLoss", "FY2023", 12),
		fact("us-gaap:NetCashProvidedByUsedInOperatingActivities", "FY2023", 30),
		fact("us-gaap:PaymentsToAcquirePropertyPlantAndEquipment", "FY2023", -10),
		fact("us-gaap:DepreciationDepletionAndAmortization", "FY2023", 5),
		fact("us-gaap:EarningsPerShareBasic", "FY2023", 1.2),
		fact("us-gaap:StockholdersEquity", "I2023", 100),
		fact("us-gaap:Assets", "I2023", 200),
		fact("us-gaap:Liabilities", "I2023", 100),
		fact("us-gaap:CashAndCashEquivalentsAtCarryingValue", "I2023", 20),
		fact("us-gaap:CommonStockSharesOutstanding", "I2023", 10),
	}
	f := xbrl.NewFiling(xbrl.FilingMeta{Ticker: "acme"}, facts, contexts)
	return atlas.New(f, nil, atlas.WithMarketData(marketdata.NewStatic(map[string]float64{"ACME": 300})))
}

func TestCompute_FilingKPIs(t *testing.T) {
	r := Compute(context.Background(), testAtlas(), nil, Options{})
	assert.Equal(t, 2023, r.Year)
	assert.Equal(t, "ACME", r.Ticker)

	want := map[string]float64{
		RevenueGrowth:     0.25,
		RevenueCAGR3Y:     math.Sqrt(1.5) - 1,
		GrowthStability:   0.05 / math.Sqrt2,
		OperatingLeverage: 2.45,
		IncrementalMargin: 0.3,
		OperatingMargin:   0.16,
		NetMargin:         0.08,
		GrossMargin:       0.6,
		ROE:               0.12,
		ROA:               0.06,
		Leverage:          1,
		FreeCashFlow:      20,
		FCFMargin:         20.0 / 150,
		FCFConversion:     20.0 / 12,
		EBITDA:            29,
		CapexIntensity:    10.0 / 150,
		DebtToFCF:         5,
		FCFYield:          20.0 / 300,
		EarningsYield:     12.0 / 300,
		EVToEBIT:          380.0 / 24,
		EVToEBITDA:        380.0 / 29,
		EVToSales:         380.0 / 150,
		PE:                25,
		PS:                2,
	}
	for name, v := range want {
		got := r.Get(name)
		if assert.NotNil(t, got, name) {
			assert.InDelta(t, v, *got, 1e-9, name)
		}
	}
	assert.Nil(t, r.Get(RevenuePerUnit), "no unit-economics result")
	assert.Nil(t, r.Get(EPV))
	assert.Len(t, r.Names(), len(known), "every KPI is reported, computable or not")
}

func TestCompute_UnitEconomicsKPIs(t *testing.T) {
	ue := &unitecon.Result{
		Year:            2023,
		RevenuePerUnit:  ptr(10),
		NOPATTrue:       ptr(20),
		InvestedCapital: ptr(200),
		ROIC:            ptr(0.11),
		FixedCostShare:  ptr(0.4),
	}
	r := Compute(context.Background(), testAtlas(), ue, Options{WACC: 0.1})

	assert.InDelta(t, 10, *r.Get(RevenuePerUnit), 1e-12)
	assert.InDelta(t, 0.1, *r.Get(ROICTrue), 1e-12)
	assert.InDelta(t, 0.11, *r.Get(ROIC), 1e-12)
	assert.InDelta(t, 200, *r.Get(EPV), 1e-9)
	assert.InDelta(t, 20, *r.Get(EPVPerShare), 1e-9)
	assert.Nil(t, r.Get(CAC))
}

func TestCompute_EmptyFiling(t *testing.T) {
	r := Compute(context.Background(), atlas.New(nil, nil), nil, Options{})
	for _, n := range r.Names() {
		assert.Nil(t, r.Get(n), n)
	}
}

func TestRatioHelpers(t *testing.T) {
	assert.Nil(t, ratio(ptr(1), ptr(0)))
	assert.Nil(t, ratio(nil, ptr(1)))
	assert.Equal(t, 0.5, *ratio(ptr(1), ptr(2)))
}

func report(values map[string]float64) Report {
	r := Report{Values: map[string]*float64{}}
	for k, v := range values {
		r.Values[k] = ptr(v)
	}
	return r
}

func TestScreen(t *testing.T) {
	r := report(map[string]float64{ROICTrue: 0.15, RevenueCAGR3Y: 0.07, PE: 18})

	tests := []struct {
		expr string
		want bool
	}{
		{"ROIC_True > 0.12", true},
		{"ROIC_True > 0.12 AND RevenueCAGR3Y >= 0.07", true},
		{"ROIC_True>0.12 and PE<15", false},
		{"PE == 18\nPE != 17", true},
		{"PE <= 18 AnD PE >= 18", true},
		{"EPV > 0", false},
		{"PE > -1e3", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Screen(tt.expr, r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseScreen_Errors(t *testing.T) {
	for _, expr := range []string{
		"",
		"ROIC_True",
		"ROIC_True => 1",
		"ROIC_True > abc",
		"Bogus > 1",
		"ROIC_True > 1 AND",
		"PE > 1 2",
	} {
		_, err := ParseScreen(expr)
		assert.Error(t, err, expr)
	}

	clauses, err := ParseScreen("  PE < 20 AND ROE >= 0.1 ")
	require.NoError(t, err)
	assert.Equal(t, []Clause{{KPI: PE, Op: "<", Threshold: 20}, {KPI: ROE, Op: ">=", Threshold: 0.1}}, clauses)
}
