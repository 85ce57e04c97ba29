package drivers

import (
	"testing"

	"unit_economics/pkg/core/concept"
	"unit_economics/pkg/core/series"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	values map[string]float64
	series map[string]series.Series
}

func (f fakeSource) Value(c string) *float64 {
	v, ok := f.values[c]
	if !ok {
		return nil
	}
	return &v
}

func (f fakeSource) Series(c string) series.Series { return f.series[c] }

func TestIndustryOf(t *testing.T) {
	assert.Equal(t, "Semiconductors", IndustryOf("NVDA"))
	assert.Equal(t, "PaymentNetworks", IndustryOf(" v "))
	assert.Equal(t, DefaultIndustry, IndustryOf("zzzz"))

	c := Candidates("meta")
	assert.Equal(t, []string{"MAUs", "DAUs", "Impressions", "UnitsSold", "Subscribers", "Customers", "Users"}, c)
	assert.Len(t, IndustryDrivers["Social"], 3, "Candidates must not alias the table")
}

func TestInfer_FirstPositiveCandidate(t *testing.T) {
	src := fakeSource{values: map[string]float64{
		"ARR":         0,
		"Subscribers": 1200,
		"MAUs":        5000,
		"Customers":   10,
	}}
	got := Infer("msft", src)
	assert.Equal(t, Choice{Name: "Subscribers", Industry: "SaaS", Method: MethodCandidate}, got)
}

func TestInfer_GenericFallback(t *testing.T) {
	src := fakeSource{values: map[string]float64{"Customers": 42}}
	got := Infer("xom", src)
	assert.Equal(t, "Customers", got.Name)
	assert.Equal(t, "Energy", got.Industry)
}

func TestInfer_Correlation(t *testing.T) {
	src := fakeSource{series: map[string]series.Series{
		concept.Revenue:           series.FromMap(map[int]float64{2020: 100, 2021: 150, 2022: 210, 2023: 260}),
		concept.Employees:         series.FromMap(map[int]float64{2020: 10, 2021: 9, 2022: 12, 2023: 11}),
		"Orders":                  series.FromMap(map[int]float64{2020: 1, 2021: 1.5, 2022: 2.1, 2023: 2.6}),
		concept.OperatingExpenses: series.FromMap(map[int]float64{2021: 5, 2022: 5, 2023: 5}), // constant
		concept.TotalAssets:       series.FromMap(map[int]float64{2022: 1, 2023: 2}),          // too short
	}}
	got := Infer("uber", src)
	assert.Equal(t, "Orders", got.Name)
	assert.Equal(t, MethodCorrelation, got.Method)
	require.NotNil(t, got.Correlation)
	assert.InDelta(t, 1.0, *got.Correlation, 1e-9)
}

func TestInfer_NegativeCorrelationCounts(t *testing.T) {
	src := fakeSource{series: map[string]series.Series{
		concept.Revenue: series.FromMap(map[int]float64{2021: 1, 2022: 2, 2023: 3}),
		"Barrels":       series.FromMap(map[int]float64{2021: 30, 2022: 20, 2023: 10}),
	}}
	got := Infer("cvx", src)
	assert.Equal(t, "Barrels", got.Name)
	assert.InDelta(t, -1.0, *got.Correlation, 1e-9)
}

func TestInfer_RevenueFallback(t *testing.T) {
	src := fakeSource{series: map[string]series.Series{
		concept.Revenue: series.FromMap(map[int]float64{2022: 1, 2023: 2}),
		"Orders":        series.FromMap(map[int]float64{2021: 1, 2022: 2, 2023: 3}),
	}}
	got := Infer("amzn", src)
	assert.Equal(t, Choice{Name: Fallback, Industry: "Ecommerce", Method: MethodFallback}, got)
}
