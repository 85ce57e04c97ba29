// Package series builds annual time series from resolved facts and derives
// growth views over them.
package series

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"unit_economics/pkg/core/xbrl"
)

// Point is one year of a series. Value is nil when the fact had no numeric
// value.
type Point struct {
	Year  int      `json:"year"`
	Value *float64 `json:"value"`
}

// Series is ordered by strictly increasing year.
type Series []Point

// Build keys every fact by the end year of its context (period end, else
// instant), keeps the last numeric fact seen for each year and sorts
// ascending. Non-numeric facts and facts whose context does not resolve are
// skipped.
func Build(facts []xbrl.Fact, contexts map[string]xbrl.Context) Series {
	byYear := make(map[int]*float64)
	for _, f := range facts {
		if f.Value == nil {
			continue
		}
		ctx, ok := contexts[f.ContextRef]
		if !ok {
			continue
		}
		end := ctx.EndDate()
		if end == nil {
			continue
		}
		byYear[end.Year()] = f.Value
	}
	out := make(Series, 0, len(byYear))
	for y, v := range byYear {
		out = append(out, Point{Year: y, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// Of builds the series of a canonical concept from an indexed filing.
func Of(ix *xbrl.Index, concept string) Series {
	return Build(ix.Facts(concept), ix.Filing().Contexts)
}

// FromMap turns a year -> value map into a series.
func FromMap(m map[int]float64) Series {
	out := make(Series, 0, len(m))
	for y, v := range m {
		out = append(out, Point{Year: y, Value: ptr(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// Years returns the years in order.
func (s Series) Years() []int {
	out := make([]int, len(s))
	for i, p := range s {
		out[i] = p.Year
	}
	return out
}

// Values returns the non-nil values in order.
func (s Series) Values() []float64 {
	out := make([]float64, 0, len(s))
	for _, p := range s {
		if p.Value != nil {
			out = append(out, *p.Value)
		}
	}
	return out
}

// Map returns the non-nil values keyed by year.
func (s Series) Map() map[int]float64 {
	out := make(map[int]float64, len(s))
	for _, p := range s {
		if p.Value != nil {
			out[p.Year] = *p.Value
		}
	}
	return out
}

// At returns the value for a year, or nil.
func (s Series) At(year int) *float64 {
	i := sort.Search(len(s), func(i int) bool { return s[i].Year >= year })
	if i < len(s) && s[i].Year == year {
		return s[i].Value
	}
	return nil
}

// Latest returns the last point's value, or nil for an empty series.
func (s Series) Latest() *float64 {
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1].Value
}

// Filter keeps only the given years.
func (s Series) Filter(years ...int) Series {
	want := make(map[int]struct{}, len(years))
	for _, y := range years {
		want[y] = struct{}{}
	}
	var out Series
	for _, p := range s {
		if _, ok := want[p.Year]; ok {
			out = append(out, p)
		}
	}
	return out
}

// YoY returns (v[i]-v[i-1])/v[i-1] for i >= 1, keyed by the later year.
// A point is nil when either value is missing or the prior is zero.
func (s Series) YoY() Series {
	if len(s) < 2 {
		return Series{}
	}
	out := make(Series, 0, len(s)-1)
	for i := 1; i < len(s); i++ {
		prev, cur := s[i-1].Value, s[i].Value
		p := Point{Year: s[i].Year}
		if prev != nil && *prev != 0 && cur != nil {
			p.Value = ptr((*cur - *prev) / *prev)
		}
		out = append(out, p)
	}
	return out
}

// CAGR is (last/first)^(1/Δyears) - 1 between the first and last points.
func (s Series) CAGR() *float64 {
	if len(s) < 2 {
		return nil
	}
	first, last := s[0], s[len(s)-1]
	if first.Value == nil || last.Value == nil || *first.Value <= 0 {
		return nil
	}
	years := last.Year - first.Year
	if years <= 0 {
		return nil
	}
	return finite(math.Pow(*last.Value / *first.Value, 1/float64(years)) - 1)
}

// Trend is the z-score of the last non-nil value against all non-nil
// values, using the sample standard deviation.
func (s Series) Trend() *float64 {
	vals := s.Values()
	if len(vals) < 2 {
		return nil
	}
	mean, sd := stat.MeanStdDev(vals, nil)
	if sd == 0 || math.IsNaN(sd) {
		return nil
	}
	return ptr((vals[len(vals)-1] - mean) / sd)
}

// TTM sums the last four points. It is nil with fewer than four points or
// when any of them lacks a value.
func (s Series) TTM() *float64 {
	if len(s) < 4 {
		return nil
	}
	sum := 0.0
	for _, p := range s[len(s)-4:] {
		if p.Value == nil {
			return nil
		}
		sum += *p.Value
	}
	return ptr(sum)
}

// StdDev is the sample standard deviation of the non-nil values.
func (s Series) StdDev() *float64 {
	vals := s.Values()
	if len(vals) < 2 {
		return nil
	}
	return finite(stat.StdDev(vals, nil))
}

// Align returns the values of a and b over the years both define.
func Align(a, b Series) (xs, ys []float64) {
	bm := b.Map()
	for _, p := range a {
		if p.Value == nil {
			continue
		}
		if v, ok := bm[p.Year]; ok {
			xs = append(xs, *p.Value)
			ys = append(ys, v)
		}
	}
	return xs, ys
}

// Correlation is the Pearson r of a and b over overlapping years. It is nil
// with fewer than minOverlap shared points or when either side is constant.
func Correlation(a, b Series, minOverlap int) *float64 {
	xs, ys := Align(a, b)
	if len(xs) < minOverlap || len(xs) < 2 {
		return nil
	}
	if constant(xs) || constant(ys) {
		return nil
	}
	return finite(stat.Correlation(xs, ys, nil))
}

func constant(v []float64) bool {
	for _, x := range v[1:] {
		if x != v[0] {
			return false
		}
	}
	return true
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func ptr(v float64) *float64 { return &v }
