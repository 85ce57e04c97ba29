// Package atlas is the per-filing query surface: canonical facts, annual
// series and valuation figures, with an optional unstructured source that
// fills or overrides structured values.
package atlas

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"unit_economics/pkg/core/concept"
	"unit_economics/pkg/core/logging"
	"unit_economics/pkg/core/marketdata"
	"unit_economics/pkg/core/series"
	"unit_economics/pkg/core/xbrl"
)

// Valuation concepts answered from market data rather than the filing.
const (
	MarketCap       = "MarketCap"
	Price           = "Price"
	EnterpriseValue = "EnterpriseValue"
)

// OverrideThreshold is the relative gap |(v - u) / u| above which an
// unstructured value replaces the structured one.
const OverrideThreshold = 0.7

// Tags tried for shares outstanding when the canonical concept is empty.
var sharesFallbackTags = []string{
	"us-gaap:CommonStockSharesOutstanding",
	"dei:EntityCommonStockSharesOutstanding",
	"CommonStockSharesOutstanding",
	"EntityCommonStockSharesOutstanding",
}

// Unstructured extracts year → value for a concept from a non-XBRL
// rendition of the filing.
type Unstructured interface {
	Extract(concept string) map[int]float64
}

// Atlas wraps one filing. It is safe for concurrent use; the only mutable
// state is the memo of unstructured extractions and the market cap.
type Atlas struct {
	filing *xbrl.Filing
	ix     *xbrl.Index
	canon  *concept.Canonicalizer

	unstructured Unstructured
	market       marketdata.Provider

	mu        sync.Mutex
	extracted map[string]map[int]float64
	capLoaded bool
	marketCap *float64
}

// Option configures an Atlas.
type Option func(*Atlas)

// WithUnstructured enables the unstructured fallback.
func WithUnstructured(u Unstructured) Option {
	return func(a *Atlas) { a.unstructured = u }
}

// WithMarketData sets the market-cap source for valuation concepts.
func WithMarketData(p marketdata.Provider) Option {
	return func(a *Atlas) { a.market = p }
}

// New indexes a filing. A nil canonicalizer means the default alias table
// without embeddings.
func New(f *xbrl.Filing, canon *concept.Canonicalizer, opts ...Option) *Atlas {
	if f == nil {
		f = xbrl.Empty(xbrl.FilingMeta{})
	}
	if canon == nil {
		canon = concept.New(nil)
	}
	a := &Atlas{
		filing:    f,
		ix:        xbrl.NewIndex(f, canon),
		canon:     canon,
		extracted: make(map[string]map[int]float64),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Atlas) Filing() *xbrl.Filing { return a.filing }

func (a *Atlas) Index() *xbrl.Index { return a.ix }

// Ticker is the filing's ticker, upper-cased.
func (a *Atlas) Ticker() string { return strings.ToUpper(a.filing.Meta.Ticker) }

func (a *Atlas) Meta() xbrl.FilingMeta { return a.filing.Meta }

// Fact is the selector's pick for a concept and optional period alias.
func (a *Atlas) Fact(c, period string) *xbrl.Fact { return a.ix.Select(c, period) }

// Numeric is Fact's numeric value.
func (a *Atlas) Numeric(c, period string) *float64 { return a.ix.Value(c, period) }

// Semantic is the semantic selector's pick.
func (a *Atlas) Semantic(c, period string) *xbrl.Fact { return a.ix.SelectSemantic(c, period) }

// conceptFacts returns the numeric facts for a concept, falling back to the
// filing's own best-matching tag when nothing canonicalizes to it.
func (a *Atlas) conceptFacts(ctx context.Context, c string) []xbrl.Fact {
	facts := numeric(a.ix.Facts(c))
	if len(facts) > 0 {
		return facts
	}
	tag, ok := a.canon.ResolveToFact(ctx, c, a.filing.Tags())
	if !ok {
		return nil
	}
	logging.Logger.Debugw("[ATLAS] resolved via filing tag", logging.FieldConcept, c, "tag", tag)
	return numeric(a.filing.FactsByTag(tag))
}

// Series is the concept's annual series.
func (a *Atlas) Series(c string) series.Series {
	return series.Build(a.conceptFacts(context.Background(), c), a.filing.Contexts)
}

// Value is the concept's latest structured value; it satisfies the driver
// inference source.
func (a *Atlas) Value(c string) *float64 {
	return a.structured(context.Background(), c, 0)
}

// ValueAt is the structured value for a fiscal year: that year, else the
// nearest year, else the latest. Year 0 means latest.
func (a *Atlas) ValueAt(c string, year int) *float64 {
	return a.structured(context.Background(), c, year)
}

func (a *Atlas) structured(ctx context.Context, c string, year int) *float64 {
	byYear := a.byYear(a.conceptFacts(ctx, c))
	if len(byYear) == 0 {
		return nil
	}
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	pick := years[len(years)-1]
	if year != 0 {
		if _, ok := byYear[year]; ok {
			pick = year
		} else {
			pick = nearest(years, year)
		}
	}
	best := xbrl.PickBest(byYear[pick], a.filing.Contexts)
	if best == nil {
		return nil
	}
	return best.Value
}

func (a *Atlas) byYear(facts []xbrl.Fact) map[int][]xbrl.Fact {
	out := make(map[int][]xbrl.Fact)
	for _, f := range facts {
		ctx, ok := a.filing.ContextOf(f)
		if !ok {
			continue
		}
		end := ctx.EndDate()
		if end == nil {
			continue
		}
		out[end.Year()] = append(out[end.Year()], f)
	}
	return out
}

// nearest returns the year closest to target; ties go to the later year.
// years must be sorted ascending.
func nearest(years []int, target int) int {
	best := years[0]
	for _, y := range years[1:] {
		if abs(y-target) <= abs(best-target) {
			best = y
		}
	}
	return best
}

// LatestYear is the newest fiscal year any numeric fact covers, or 0.
func (a *Atlas) LatestYear() int {
	latest := 0
	for _, f := range a.filing.Facts {
		if f.Value == nil {
			continue
		}
		if ctx, ok := a.filing.ContextOf(f); ok {
			if end := ctx.EndDate(); end != nil && end.Year() > latest {
				latest = end.Year()
			}
		}
	}
	return latest
}

// ===== Get =====

// Get resolves a concept (canonical name, raw tag or free text) for a year
// (0 = latest). Valuation concepts use market data; everything else is the
// structured value, filled or overridden by the unstructured source.
func (a *Atlas) Get(ctx context.Context, query string, year int) *float64 {
	canonical := query
	switch query {
	case MarketCap, Price, EnterpriseValue:
	default:
		canonical = a.canon.CanonicalizeContext(ctx, query)
	}

	switch canonical {
	case MarketCap:
		return a.MarketCap(ctx)
	case Price:
		return a.Price(ctx)
	case EnterpriseValue:
		return a.EnterpriseValue(ctx, year)
	case concept.SharesOutstanding:
		return a.SharesOutstanding(ctx, year)
	}

	val := a.structured(ctx, canonical, year)
	if a.unstructured == nil {
		return val
	}
	alt := a.fromUnstructured(canonical, year)
	if alt == nil {
		return val
	}
	if val == nil {
		logging.Logger.Debugw("[ATLAS] unstructured fallback",
			logging.FieldConcept, canonical, "year", year, "value", *alt)
		return alt
	}
	if *val != 0 && *alt != 0 {
		if diff := math.Abs((*val - *alt) / *alt); diff > OverrideThreshold {
			logging.Logger.Infow("[ATLAS] unstructured override",
				logging.FieldConcept, canonical, "structured", *val, "unstructured", *alt, "diff", diff)
			return alt
		}
	}
	return val
}

// fromUnstructured memoizes extraction per concept. With no year the
// newest extracted year is used.
func (a *Atlas) fromUnstructured(c string, year int) *float64 {
	a.mu.Lock()
	data, ok := a.extracted[c]
	if !ok {
		data = a.unstructured.Extract(c)
		a.extracted[c] = data
	}
	a.mu.Unlock()

	if len(data) == 0 {
		return nil
	}
	if year != 0 {
		v, ok := data[year]
		if !ok {
			return nil
		}
		return &v
	}
	latest := math.MinInt
	for y := range data {
		if y > latest {
			latest = y
		}
	}
	v := data[latest]
	return &v
}

// ===== Valuation =====

// MarketCap comes from the market-data provider and is fetched once.
func (a *Atlas) MarketCap(ctx context.Context) *float64 {
	if a.market == nil {
		return nil
	}
	a.mu.Lock()
	if a.capLoaded {
		v := a.marketCap
		a.mu.Unlock()
		return v
	}
	a.mu.Unlock()

	// The provider may go to the network; the lock is only held to memoize.
	v, err := a.market.MarketCap(ctx, a.Ticker())
	if err != nil {
		logging.Logger.Warnw("[ATLAS] market cap unavailable", logging.FieldTicker, a.Ticker(), "error", err)
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.capLoaded {
		a.capLoaded = true
		a.marketCap = v
	}
	return a.marketCap
}

// SharesOutstanding is the canonical concept, falling back to the common
// stock share-count tags.
func (a *Atlas) SharesOutstanding(ctx context.Context, year int) *float64 {
	if v := a.structured(ctx, concept.SharesOutstanding, year); v != nil {
		return v
	}
	for _, f := range numeric(a.filing.FactsByTag(sharesFallbackTags...)) {
		if year == 0 {
			return f.Value
		}
		if c, ok := a.filing.ContextOf(f); ok {
			if end := c.EndDate(); end != nil && end.Year() == year {
				return f.Value
			}
		}
	}
	return nil
}

// Price is MarketCap / SharesOutstanding.
func (a *Atlas) Price(ctx context.Context) *float64 {
	mc := a.MarketCap(ctx)
	shares := a.SharesOutstanding(ctx, 0)
	if mc == nil || shares == nil || *shares == 0 {
		return nil
	}
	p := *mc / *shares
	return &p
}

// EnterpriseValue is MarketCap + TotalLiabilities − Cash; a missing
// liabilities or cash figure is left out.
func (a *Atlas) EnterpriseValue(ctx context.Context, year int) *float64 {
	mc := a.MarketCap(ctx)
	if mc == nil {
		return nil
	}
	ev := *mc
	if debt := a.structured(ctx, concept.TotalLiabilities, year); debt != nil {
		ev += *debt
	}
	if cash := a.structured(ctx, concept.Cash, year); cash != nil {
		ev -= *cash
	}
	return &ev
}

func numeric(facts []xbrl.Fact) []xbrl.Fact {
	out := facts[:0:0]
	for _, f := range facts {
		if f.Value != nil {
			out = append(out, f)
		}
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
