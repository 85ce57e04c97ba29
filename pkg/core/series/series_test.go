package series

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"unit_economics/pkg/core/xbrl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func yearEnd(y int) *time.Time {
	t := time.Date(y, 12, 31, 0, 0, 0, 0, time.UTC)
	return &t
}

func fyContexts(years ...int) map[string]xbrl.Context {
	out := make(map[string]xbrl.Context)
	for _, y := range years {
		start := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
		id := fmt.Sprintf("FY%d", y)
		out[id] = xbrl.Context{ID: id, PeriodType: xbrl.PeriodDuration, Start: &start, End: yearEnd(y)}
	}
	return out
}

func fact(ctx string, v float64) xbrl.Fact {
	return xbrl.Fact{Tag: "us-gaap:Revenues", ContextRef: ctx, Value: f(v)}
}

func TestBuild_SortedAndDeduplicated(t *testing.T) {
	contexts := fyContexts(2021, 2022, 2023)
	contexts["I2022"] = xbrl.Context{ID: "I2022", PeriodType: xbrl.PeriodInstant, Instant: yearEnd(2022)}

	facts := []xbrl.Fact{
		fact("FY2023", 90),
		fact("FY2021", 100),
		fact("FY2022", 110),
		fact("I2022", 120), // same year, later in filing order
		fact("missing", 999),
	}
	s := Build(facts, contexts)
	require.Len(t, s, 3)
	assert.Equal(t, []int{2021, 2022, 2023}, s.Years())
	assert.Equal(t, 120.0, *s.At(2022), "last write wins")
	assert.Nil(t, s.At(2030))
}

func TestBuild_TextFactDoesNotReplaceNumber(t *testing.T) {
	contexts := fyContexts(2022)
	facts := []xbrl.Fact{
		fact("FY2022", 110),
		{Tag: "us-gaap:Revenues", ContextRef: "FY2022", Raw: "see note 4"},
	}
	s := Build(facts, contexts)
	require.Len(t, s, 1)
	require.NotNil(t, s.At(2022))
	assert.Equal(t, 110.0, *s.At(2022))

	assert.Empty(t, Build([]xbrl.Fact{{Tag: "us-gaap:Revenues", ContextRef: "FY2022"}}, contexts))
}

func TestBuild_OrderIndependent(t *testing.T) {
	contexts := fyContexts(2018, 2019, 2020, 2021, 2022, 2023)
	var facts []xbrl.Fact
	for id := range contexts {
		facts = append(facts, fact(id, float64(len(id))))
	}
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		r.Shuffle(len(facts), func(a, b int) { facts[a], facts[b] = facts[b], facts[a] })
		s := Build(facts, contexts)
		for j := 1; j < len(s); j++ {
			assert.Less(t, s[j-1].Year, s[j].Year)
		}
		assert.Len(t, s, 6)
	}
}

func TestYoYAndCAGR(t *testing.T) {
	s := FromMap(map[int]float64{2021: 100, 2022: 120, 2023: 90})

	yoy := s.YoY()
	require.Len(t, yoy, 2)
	assert.Equal(t, 2022, yoy[0].Year)
	assert.InDelta(t, 0.20, *yoy[0].Value, 1e-9)
	assert.Equal(t, 2023, yoy[1].Year)
	assert.InDelta(t, -0.25, *yoy[1].Value, 1e-9)

	cagr := s.CAGR()
	require.NotNil(t, cagr)
	assert.InDelta(t, math.Pow(0.9, 0.5)-1, *cagr, 1e-9)
	assert.InDelta(t, -0.0513, *cagr, 1e-4)
}

func TestYoY_NilOnMissingOrZeroPrior(t *testing.T) {
	s := Series{
		{Year: 2019, Value: f(0)},
		{Year: 2020, Value: f(50)},
		{Year: 2021, Value: nil},
		{Year: 2022, Value: f(80)},
		{Year: 2023, Value: f(100)},
	}
	yoy := s.YoY()
	require.Len(t, yoy, len(s)-1)
	assert.Nil(t, yoy[0].Value, "prior is zero")
	assert.Nil(t, yoy[1].Value, "current missing")
	assert.Nil(t, yoy[2].Value, "prior missing")
	assert.InDelta(t, 0.25, *yoy[3].Value, 1e-9)

	assert.Empty(t, Series{}.YoY())
	assert.Empty(t, s[:1].YoY())
}

func TestCAGR_Undefined(t *testing.T) {
	assert.Nil(t, FromMap(map[int]float64{2023: 10}).CAGR())
	assert.Nil(t, FromMap(map[int]float64{2021: 0, 2023: 10}).CAGR())
	assert.Nil(t, FromMap(map[int]float64{2021: -5, 2023: 10}).CAGR())
}

func TestTrend(t *testing.T) {
	s := FromMap(map[int]float64{2020: 1, 2021: 2, 2022: 3})
	z := s.Trend()
	require.NotNil(t, z)
	// mean 2, sample stdev 1
	assert.InDelta(t, 1.0, *z, 1e-9)

	assert.Nil(t, FromMap(map[int]float64{2020: 5, 2021: 5}).Trend(), "zero stdev")
	assert.Nil(t, FromMap(map[int]float64{2020: 5}).Trend())
}

func TestTTM(t *testing.T) {
	s := FromMap(map[int]float64{2019: 1, 2020: 2, 2021: 3, 2022: 4, 2023: 5})
	require.NotNil(t, s.TTM())
	assert.Equal(t, 14.0, *s.TTM())

	assert.Nil(t, s[:3].TTM())
	s[3].Value = nil
	assert.Nil(t, s.TTM())
}

func TestFilterAndLatest(t *testing.T) {
	s := FromMap(map[int]float64{2021: 1, 2022: 2, 2023: 3})
	assert.Equal(t, []int{2021, 2023}, s.Filter(2021, 2023, 2030).Years())
	assert.Equal(t, 3.0, *s.Latest())
	assert.Nil(t, Series{}.Latest())
}

func TestCorrelation(t *testing.T) {
	rev := FromMap(map[int]float64{2020: 10, 2021: 20, 2022: 30, 2023: 40})
	units := FromMap(map[int]float64{2021: 2, 2022: 3, 2023: 4, 2024: 9})
	r := Correlation(rev, units, 3)
	require.NotNil(t, r)
	assert.InDelta(t, 1.0, *r, 1e-9)

	assert.Nil(t, Correlation(rev, FromMap(map[int]float64{2022: 1, 2023: 2}), 3), "two overlapping years")
	assert.Nil(t, Correlation(rev, FromMap(map[int]float64{2021: 7, 2022: 7, 2023: 7}), 3), "constant series")
}
