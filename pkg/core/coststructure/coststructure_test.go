package coststructure

import (
	"math"
	"testing"

	"unit_economics/pkg/core/series"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func one(year int, v float64) series.Series {
	return series.FromMap(map[int]float64{year: v})
}

func TestCompute_DefaultSharesFirstPeriod(t *testing.T) {
	buckets := map[string]series.Series{
		COGS:           one(2023, 600),
		RnD:            one(2023, 100),
		SalesMarketing: one(2023, 150),
		GandA:          one(2023, 50),
	}
	r := Compute(buckets, nil, one(2023, 2000), "")

	assert.Equal(t, RevenueProxy, r.VolumeProxy)
	assert.Equal(t, []int{2023}, r.Periods)
	assert.InDelta(t, 900, r.TotalCost[2023], 1e-9)
	assert.InDelta(t, 675, r.VariableCost[2023], 1e-9)
	assert.InDelta(t, 225, r.FixedCost[2023], 1e-9)
	require.NotNil(t, r.VariableShare[2023])
	assert.InDelta(t, 0.75, *r.VariableShare[2023], 1e-9)

	assert.Equal(t, 1.0, r.BucketShares[COGS][2023])
	assert.Equal(t, 0.0, r.BucketShares[RnD][2023])
	assert.Equal(t, 0.5, r.BucketShares[SalesMarketing][2023])
	assert.Equal(t, 0.0, r.BucketShares[GandA][2023])

	// single period: smoothed share is the raw share
	assert.InDelta(t, 0.75, *r.LatestVariableShare, 1e-9)

	// cm = 1 - 675/2000; break-even = 225 / cm
	cm := 1 - 675.0/2000
	assert.InDelta(t, cm, *r.LatestContributionMargin, 1e-9)
	assert.InDelta(t, 225/cm, *r.BreakEvenRevenue, 1e-9)
	assert.InDelta(t, 675.0/2000, *r.LatestMarginalCost, 1e-9, "revenue is the volume proxy")
}

func TestCompute_Elasticities(t *testing.T) {
	volume := series.FromMap(map[int]float64{2022: 100, 2023: 120})
	revenue := series.FromMap(map[int]float64{2022: 1000, 2023: 1200})
	buckets := map[string]series.Series{
		COGS:  series.FromMap(map[int]float64{2022: 400, 2023: 480}), // +20% on +20% volume
		GandA: series.FromMap(map[int]float64{2022: 100, 2023: 100}), // flat
		RnD:   series.FromMap(map[int]float64{2022: 50, 2023: 80}),   // +60%, clamps to 1
	}
	r := Compute(buckets, volume, revenue, "Subscribers")

	assert.Equal(t, "Subscribers", r.VolumeProxy)
	require.NotNil(t, r.Elasticities[COGS][2023])
	assert.InDelta(t, 1.0, *r.Elasticities[COGS][2023], 1e-9)
	assert.InDelta(t, 0.0, *r.Elasticities[GandA][2023], 1e-9)
	assert.InDelta(t, 3.0, *r.Elasticities[RnD][2023], 1e-9)
	assert.Equal(t, 1.0, r.BucketShares[RnD][2023])
	assert.Nil(t, r.Elasticities[COGS][2022], "first period has no transition")

	assert.InDelta(t, 480+80, r.VariableCost[2023], 1e-9)
	assert.InDelta(t, 100, r.FixedCost[2023], 1e-9)
	assert.InDelta(t, 560.0/120, *r.MarginalCost[2023], 1e-9)

	// 2022: defaults; COGS 400 variable of 550
	assert.InDelta(t, 400.0/550, *r.VariableShare[2022], 1e-9)

	alpha := 1 - math.Exp(-math.Ln2/3)
	want := alpha*(560.0/660) + (1-alpha)*(400.0/550)
	assert.InDelta(t, want, *r.SmoothedShare[2023], 1e-9)
}

func TestCompute_UndefinedElasticities(t *testing.T) {
	volume := series.FromMap(map[int]float64{2022: 100, 2023: 100}) // zero %Δ
	buckets := map[string]series.Series{
		COGS:           series.FromMap(map[int]float64{2022: 400, 2023: 480}),
		SalesMarketing: series.FromMap(map[int]float64{2022: 0, 2023: 50}), // zero prior
	}
	r := Compute(buckets, volume, nil, "Units")
	assert.Nil(t, r.Elasticities[COGS][2023])
	assert.Nil(t, r.Elasticities[SalesMarketing][2023])
	assert.Equal(t, 0.5, r.BucketShares[SalesMarketing][2023])
	assert.Nil(t, r.ContributionMargin[2023], "no revenue")
	assert.Nil(t, r.BreakEvenRevenue)
}

func TestCompute_BreakEvenNewestPositiveMargin(t *testing.T) {
	buckets := map[string]series.Series{
		COGS:  series.FromMap(map[int]float64{2022: 500, 2023: 1500}),
		GandA: series.FromMap(map[int]float64{2022: 100, 2023: 100}),
	}
	revenue := series.FromMap(map[int]float64{2022: 1000, 2023: 1000})
	r := Compute(buckets, nil, revenue, "")
	// 2023 elasticity: COGS +200% on 0% revenue change is undefined, so the
	// default applies and cm(2023) = 1 - 1500/1000 < 0; 2022 has cm 0.5.
	assert.InDelta(t, -0.5, *r.ContributionMargin[2023], 1e-9)
	assert.InDelta(t, 100/0.5, *r.BreakEvenRevenue, 1e-9)
}

func TestCompute_Empty(t *testing.T) {
	r := Compute(nil, nil, nil, "")
	assert.Equal(t, "Unknown", r.VolumeProxy)
	assert.Empty(t, r.Periods)
	assert.Nil(t, r.BreakEvenRevenue)
	assert.Nil(t, r.LatestVariableShare)
}

func TestEMA(t *testing.T) {
	in := []*float64{ptr(0.8), ptr(0.6), ptr(0.7), ptr(0.5)}
	out := EMA(in, 3)
	require.Len(t, out, len(in))
	assert.Equal(t, 0.8, *out[0], "first output equals first input")

	alpha := 1 - math.Exp(-math.Ln2/3)
	assert.InDelta(t, alpha*0.6+(1-alpha)*0.8, *out[1], 1e-12)
}

func TestEMA_CarriesForwardOverGaps(t *testing.T) {
	out := EMA([]*float64{nil, ptr(0.5), nil, ptr(0.9)}, 3)
	require.Len(t, out, 4)
	assert.Nil(t, out[0])
	assert.Equal(t, 0.5, *out[1])
	assert.Equal(t, 0.5, *out[2])

	alpha := 1 - math.Exp(-math.Ln2/3)
	assert.InDelta(t, alpha*0.9+(1-alpha)*0.5, *out[3], 1e-12)
	assert.Empty(t, EMA(nil, 3))
}

func TestClassify(t *testing.T) {
	tests := map[string]Classification{
		"us-gaap:CostOfRevenue":                              Variable,
		"CostOfGoodsAndServicesSold":                         Variable,
		"Payment processing fees":                            Variable,
		"SalesCommissions":                                   Variable,
		"SellingAndMarketingExpense":                         Variable,
		"Hosting":                                            Variable,
		"Stock-based commission plan":                        Fixed,
		"us-gaap:ShareBasedCompensation":                     Fixed,
		"ResearchAndDevelopmentExpense":                      Fixed,
		"GeneralAndAdministrativeExpense":                    Fixed,
		"G&A":                                                Fixed,
		"OperatingLeaseCost":                                 Fixed,
		"OperatingExpenses":                                  Fixed,
		"us-gaap:ProfessionalFees":                           Fixed,
		"shipping_and_handling":                              Variable,
		"us-gaap:DepreciationDepletionAndAmortization":       Fixed,
		"us-gaap:CostOfRevenueExcludingDepreciationExpenses": Variable,
	}
	for in, want := range tests {
		assert.Equal(t, want, Classify(in), in)
	}
}

func TestClassifyLineItems(t *testing.T) {
	items := ClassifyLineItems(map[string]float64{
		"us-gaap:CostOfRevenue":           600,
		"us-gaap:GeneralAndAdministrative": 50,
	})
	require.Len(t, items, 2)
	assert.Equal(t, "us-gaap:CostOfRevenue", items[0].Tag)
	assert.Equal(t, Variable, items[0].Class)
	assert.Equal(t, 600.0, items[0].VariableAmount)
	assert.Equal(t, Fixed, items[1].Class)
	assert.Zero(t, items[1].VariableAmount)

	assert.Equal(t, 10.0, VariablePortion("Shipping", 10))
	assert.Zero(t, VariablePortion("Rent", 10))
}
