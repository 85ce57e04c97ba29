// Package coststructure splits operating costs into variable and fixed parts
// from how each cost bucket moves against a volume proxy, and derives
// marginal cost, contribution margin and break-even revenue from the split.
package coststructure

import (
	"math"
	"sort"

	"unit_economics/pkg/core/logging"
	"unit_economics/pkg/core/series"
)

// Cost buckets
const (
	COGS           = "COGS"
	RnD            = "RnD"
	SalesMarketing = "SalesMarketing"
	GandA          = "GandA"
)

// BucketOrder is the order buckets are reported in.
var BucketOrder = []string{COGS, RnD, SalesMarketing, GandA}

// DefaultShares is the variable share used when a bucket's elasticity is
// undefined for a period.
var DefaultShares = map[string]float64{
	COGS:           1.0,
	RnD:            0.0,
	SalesMarketing: 0.5,
	GandA:          0.0,
}

// HalfLife of the variable-share smoothing, in periods.
const HalfLife = 3.0

// RevenueProxy names the volume proxy when no driver series is available.
const RevenueProxy = "Revenue"

// Result is the cost-structure breakdown. Per-period maps are keyed by year.
type Result struct {
	VolumeProxy string `json:"volume_proxy"`
	Periods     []int  `json:"periods"`

	Buckets      map[string]map[int]float64  `json:"buckets"`
	Elasticities map[string]map[int]*float64 `json:"elasticities"`
	BucketShares map[string]map[int]float64  `json:"bucket_variable_shares"`

	TotalCost     map[int]float64  `json:"total_cost"`
	VariableCost  map[int]float64  `json:"variable_cost"`
	FixedCost     map[int]float64  `json:"fixed_cost"`
	VariableShare map[int]*float64 `json:"variable_share"`
	SmoothedShare map[int]*float64 `json:"smoothed_variable_share"`

	MarginalCost       map[int]*float64 `json:"marginal_cost"`
	ContributionMargin map[int]*float64 `json:"contribution_margin"`

	LatestVariableShare      *float64 `json:"latest_variable_share"`
	LatestMarginalCost       *float64 `json:"latest_marginal_cost"`
	LatestContributionMargin *float64 `json:"latest_contribution_margin"`
	LatestFixedCost          *float64 `json:"latest_fixed_cost"`
	BreakEvenRevenue         *float64 `json:"break_even_revenue"`

	LineItems []LineItem `json:"line_items,omitempty"`
}

// Compute runs the full pipeline. An empty volume series falls back to
// revenue as the proxy.
func Compute(buckets map[string]series.Series, volume, revenue series.Series, volumeName string) *Result {
	if len(volume) == 0 {
		volume, volumeName = revenue, RevenueProxy
	}
	if len(volume) == 0 {
		volumeName = "Unknown"
	}

	r := &Result{
		VolumeProxy:        volumeName,
		Buckets:            make(map[string]map[int]float64),
		TotalCost:          make(map[int]float64),
		VariableCost:       make(map[int]float64),
		FixedCost:          make(map[int]float64),
		VariableShare:      make(map[int]*float64),
		SmoothedShare:      make(map[int]*float64),
		MarginalCost:       make(map[int]*float64),
		ContributionMargin: make(map[int]*float64),
	}
	for name, s := range buckets {
		r.Buckets[name] = s.Map()
	}

	r.Elasticities = elasticities(r.Buckets, volume)
	r.splitFixedVariable()

	shares := make([]*float64, len(r.Periods))
	for i, p := range r.Periods {
		shares[i] = r.VariableShare[p]
	}
	for i, v := range EMA(shares, HalfLife) {
		r.SmoothedShare[r.Periods[i]] = v
	}

	vol, rev := volume.Map(), revenue.Map()
	for _, p := range r.Periods {
		vc := r.VariableCost[p]
		r.MarginalCost[p] = safeDiv(vc, vol, p)
		if ratio := safeDiv(vc, rev, p); ratio != nil {
			r.ContributionMargin[p] = ptr(1 - *ratio)
		} else {
			r.ContributionMargin[p] = nil
		}
	}
	r.BreakEvenRevenue = r.breakEven()

	if n := len(r.Periods); n > 0 {
		last := r.Periods[n-1]
		r.LatestVariableShare = r.SmoothedShare[last]
		r.LatestMarginalCost = r.MarginalCost[last]
		r.LatestContributionMargin = r.ContributionMargin[last]
		r.LatestFixedCost = ptr(r.FixedCost[last])
	}

	logging.Logger.Debugw("[COST] cost structure computed",
		"volume_proxy", r.VolumeProxy, "periods", len(r.Periods), "break_even", r.BreakEvenRevenue)
	return r
}

// elasticities computes %Δcost / %Δvolume per bucket for each consecutive
// pair of volume periods, keyed by the later year.
func elasticities(buckets map[string]map[int]float64, volume series.Series) map[string]map[int]*float64 {
	out := make(map[string]map[int]*float64, len(buckets))
	for name := range buckets {
		out[name] = make(map[int]*float64)
	}
	for i := 1; i < len(volume); i++ {
		prev, cur := volume[i-1], volume[i]
		var volPct *float64
		if prev.Value != nil && *prev.Value != 0 && cur.Value != nil {
			volPct = ptr((*cur.Value - *prev.Value) / *prev.Value)
		}
		for name, costs := range buckets {
			c1, ok1 := costs[cur.Year]
			c0, ok0 := costs[prev.Year]
			if !ok0 || !ok1 || c0 == 0 || volPct == nil || *volPct == 0 {
				out[name][cur.Year] = nil
				continue
			}
			out[name][cur.Year] = ptr(((c1 - c0) / c0) / *volPct)
		}
	}
	return out
}

func (r *Result) splitFixedVariable() {
	seen := make(map[int]struct{})
	for _, costs := range r.Buckets {
		for p := range costs {
			seen[p] = struct{}{}
		}
	}
	for p := range seen {
		r.Periods = append(r.Periods, p)
	}
	sort.Ints(r.Periods)

	r.BucketShares = make(map[string]map[int]float64, len(r.Buckets))
	for name := range r.Buckets {
		r.BucketShares[name] = make(map[int]float64)
	}

	for _, p := range r.Periods {
		total, variable := 0.0, 0.0
		for _, name := range r.bucketNames() {
			cost, ok := r.Buckets[name][p]
			if !ok {
				continue
			}
			share := DefaultShares[name]
			if e := r.Elasticities[name][p]; e != nil {
				share = clamp(*e, 0, 1)
			}
			r.BucketShares[name][p] = share
			total += cost
			variable += cost * share
		}
		r.TotalCost[p] = total
		r.VariableCost[p] = variable
		r.FixedCost[p] = total - variable
		if total != 0 {
			r.VariableShare[p] = ptr(variable / total)
		} else {
			r.VariableShare[p] = nil
		}
	}
}

// bucketNames lists the standard buckets first, then any others by name.
func (r *Result) bucketNames() []string {
	var out, extra []string
	for _, name := range BucketOrder {
		if _, ok := r.Buckets[name]; ok {
			out = append(out, name)
		}
	}
	for name := range r.Buckets {
		if _, std := DefaultShares[name]; !std {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// breakEven scans newest-first for the first period with a positive
// contribution margin.
func (r *Result) breakEven() *float64 {
	for i := len(r.Periods) - 1; i >= 0; i-- {
		p := r.Periods[i]
		cm := r.ContributionMargin[p]
		if cm != nil && *cm > 0 {
			return ptr(r.FixedCost[p] / *cm)
		}
	}
	return nil
}

// EMA smooths values in order with α = 1 - exp(-ln2/halfLife). A nil input
// carries the previous smoothed value forward; the first defined input is
// taken as-is.
func EMA(values []*float64, halfLife float64) []*float64 {
	alpha := 1 - math.Exp(-math.Ln2/halfLife)
	out := make([]*float64, len(values))
	var cur *float64
	for i, v := range values {
		if v != nil {
			if cur == nil {
				cur = ptr(*v)
			} else {
				cur = ptr(alpha*(*v) + (1-alpha)*(*cur))
			}
		}
		out[i] = cur
	}
	return out
}

func safeDiv(num float64, den map[int]float64, p int) *float64 {
	d, ok := den[p]
	if !ok || d == 0 {
		return nil
	}
	return ptr(num / d)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func ptr(v float64) *float64 { return &v }
