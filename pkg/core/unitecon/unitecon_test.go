package unitecon

import (
	"context"
	"math"
	"testing"

	"unit_economics/pkg/core/atlas"
	"unit_economics/pkg/core/coststructure"
	"unit_economics/pkg/core/drivers"
	"unit_economics/pkg/core/identity"
	"unit_economics/pkg/core/xbrl"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func saasFiling() *xbrl.Filing {
	contexts := map[string]xbrl.Context{
		"FY2022": {PeriodType: xbrl.PeriodDuration, Start: xbrl.ParseDate("2022-01-01"), End: xbrl.ParseDate("2022-12-31")},
		"FY2023": {PeriodType: xbrl.PeriodDuration, Start: xbrl.ParseDate("2023-01-01"), End: xbrl.ParseDate("2023-12-31")},
		"I2022":  {PeriodType: xbrl.PeriodInstant, Instant: xbrl.ParseDate("2022-12-31")},
		"I2023":  {PeriodType: xbrl.PeriodInstant, Instant: xbrl.ParseDate("2023-12-31")},
	}
	fact := func(tag, ctx string, v float64) xbrl.Fact {
		return xbrl.Fact{Tag: tag, ContextRef: ctx, Value: ptr(v)}
	}
	facts := []xbrl.Fact{
		fact("us-gaap:Revenues", "FY2022", 1000),
		fact("us-gaap:Revenues", "FY2023", 1200),
		fact("us-gaap:CostOfRevenue", "FY2022", 400),
		fact("us-gaap:CostOfRevenue", "FY2023", 480),
		fact("us-gaap:OperatingIncomeLoss", "FY2023", 300),
		fact("us-gaap:IncomeTaxExpenseBenefit", "FY2023", 50),
		fact("us-gaap:IncomeLossFromContinuingOperationsBeforeIncomeTaxes", "FY2023", 250),
		fact("us-gaap:SellingAndMarketingExpense", "FY2023", 100),
		fact("us-gaap:ResearchAndDevelopmentExpense", "FY2023", 60),
		fact("us-gaap:PaymentsToAcquirePropertyPlantAndEquipment", "FY2023", 90),
		fact("us-gaap:DepreciationDepletionAndAmortization", "FY2023", 40),
		fact("us-gaap:PropertyPlantAndEquipmentNet", "I2022", 500),
		fact("us-gaap:PropertyPlantAndEquipmentNet", "I2023", 520),
		fact("us-gaap:Goodwill", "I2023", 100),
		fact("Subscribers", "FY2022", 100),
		fact("Subscribers", "FY2023", 120),
	}
	return xbrl.NewFiling(xbrl.FilingMeta{Ticker: "msft", Form: "10-K"}, facts, contexts)
}

func TestCompute_SaaSFiling(t *testing.T) {
	res, err := Compute(context.Background(), atlas.New(saasFiling(), nil), Options{})
	require.NoError(t, err)

	_, perr := uuid.Parse(res.RunID)
	assert.NoError(t, perr)
	assert.Equal(t, "MSFT", res.Ticker)
	assert.Equal(t, 2023, res.Year)
	assert.Equal(t, drivers.Choice{Name: "Subscribers", Industry: "SaaS", Method: drivers.MethodCandidate}, res.Driver)
	assert.Equal(t, 120.0, *res.VolumeDriverValue)
	assert.InDelta(t, 0.2, res.TaxRate, 1e-12)

	m := res.Model
	assert.Equal(t, 80.0, m[identity.SalesMarketing])
	assert.Equal(t, 20.0, m[identity.RetentionMarketing])
	assert.Equal(t, 0.0, m[identity.AcquiredIntangibles], "zero-filled")
	assert.Equal(t, 0.0, m[identity.DeltaWorkingCapital])

	assert.InDelta(t, 10, *res.RevenuePerUnit, 1e-9)
	assert.InDelta(t, 4, *res.VariableCostPerUnit, 1e-9)
	assert.InDelta(t, 6, *res.ContributionMarginPerUnit, 1e-9)
	assert.InDelta(t, 240, *res.NOPAT, 1e-9)
	assert.InDelta(t, 620, *res.InvestedCapital, 1e-9)
	assert.InDelta(t, 240.0/620, *res.ROIC, 1e-9)
	assert.InDelta(t, 150.0/240, *res.ReinvestmentRate, 1e-9)
	assert.Nil(t, res.CAC, "no new-customer count")

	require.NotNil(t, res.MaintenanceCapex)
	assert.InDelta(t, 20, *res.MaintenanceCapex, 1e-9)
	assert.InDelta(t, 220, *res.NOPATTrue, 1e-9)
	assert.Empty(t, res.Violations)

	cs := res.CostStructure
	require.NotNil(t, cs)
	assert.Equal(t, "Subscribers", cs.VolumeProxy)
	assert.InDelta(t, 530, cs.VariableCost[2023], 1e-9)
	assert.InDelta(t, 110, *res.FixedCosts, 1e-9)
	assert.InDelta(t, 530.0/120, *res.MarginalCost, 1e-9)
	assert.InDelta(t, 1-530.0/1200, *res.ContributionMarginTrue, 1e-9)
	assert.InDelta(t, 1, *res.VariableCostShare+*res.FixedCostShare, 1e-12)

	var classes = map[string]coststructure.Classification{}
	for _, li := range cs.LineItems {
		classes[li.Tag] = li.Class
	}
	assert.Equal(t, coststructure.Variable, classes["us-gaap:CostOfRevenue"])
	assert.Equal(t, coststructure.Fixed, classes["us-gaap:ResearchAndDevelopmentExpense"])
}

func TestCompute_EmptyFilingDegrades(t *testing.T) {
	res, err := Compute(context.Background(), atlas.New(nil, nil), Options{Enforce: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Year)
	assert.Equal(t, drivers.MethodFallback, res.Driver.Method)
	assert.Equal(t, DefaultTaxRate, res.TaxRate)
	assert.Nil(t, res.NOPATTrue)
	assert.Nil(t, res.ROIC)
	assert.Nil(t, res.BreakEvenRevenue)
	assert.Equal(t, 0.0, res.Model[identity.COGSVariable])
}

func TestCompute_SGAProxyAndTickerOverride(t *testing.T) {
	f := xbrl.NewFiling(xbrl.FilingMeta{Ticker: "zzz"},
		[]xbrl.Fact{{Tag: "us-gaap:SellingGeneralAndAdministrativeExpense", ContextRef: "FY2023", Value: ptr(200)}},
		map[string]xbrl.Context{"FY2023": {PeriodType: xbrl.PeriodDuration, Start: xbrl.ParseDate("2023-01-01"), End: xbrl.ParseDate("2023-12-31")}})

	res, err := Compute(context.Background(), atlas.New(f, nil), Options{Ticker: "xom"})
	require.NoError(t, err)
	assert.Equal(t, "XOM", res.Ticker)
	assert.Equal(t, "Energy", res.Driver.Industry)
	assert.InDelta(t, 80, res.Model[identity.SalesMarketing], 1e-9)
	assert.InDelta(t, 20, res.Model[identity.RetentionMarketing], 1e-9)
}

func TestTaxRate(t *testing.T) {
	tests := []struct {
		name      string
		prov, pre *float64
		want      float64
	}{
		{"effective", ptr(21), ptr(100), 0.21},
		{"clamped high", ptr(90), ptr(100), MaxTaxRate},
		{"benefit clamps to zero", ptr(-10), ptr(100), 0},
		{"pre-tax loss", ptr(10), ptr(-100), DefaultTaxRate},
		{"missing", nil, ptr(100), DefaultTaxRate},
		{"zero provision", ptr(0), ptr(100), DefaultTaxRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := taxRate(tt.prov, tt.pre)
			assert.False(t, math.IsNaN(got))
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}
