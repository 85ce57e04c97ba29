// Package bundle processes several filings of one company and merges them
// into a single per-year record.
//
// Each filing is computed on its own (in parallel). The merge then applies:
//  1. Amendment dominance: a 10-K/A replaces a 10-K for the same fiscal year.
//  2. Recency: otherwise the later filing date wins.
//  3. Restatement detection: a later filing that changes a past value by more
//     than RestatementThreshold is logged.
package bundle

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"unit_economics/pkg/core/atlas"
	"unit_economics/pkg/core/concept"
	"unit_economics/pkg/core/errors"
	"unit_economics/pkg/core/kpi"
	"unit_economics/pkg/core/logging"
	"unit_economics/pkg/core/marketdata"
	"unit_economics/pkg/core/series"
	"unit_economics/pkg/core/unitecon"
	"unit_economics/pkg/core/xbrl"
)

// RestatementThreshold is the relative change that counts as a restatement.
const RestatementThreshold = 0.001

// TrackedConcepts are merged year by year from every filing's comparative
// columns.
var TrackedConcepts = []string{
	concept.Revenue,
	concept.CostOfRevenue,
	concept.OperatingIncome,
	concept.NetIncome,
	concept.OperatingCashFlow,
	concept.CapitalExpenditures,
	concept.TotalAssets,
	concept.TotalLiabilities,
	concept.StockholdersEquity,
	concept.Cash,
}

// Input is one filing plus its optional unstructured rendition.
type Input struct {
	Filing       *xbrl.Filing
	Unstructured atlas.Unstructured
}

// Options configures Run.
type Options struct {
	Workers   int
	Canon     *concept.Canonicalizer
	Market    marketdata.Provider
	WACC      float64
	Tolerance float64
	// Enforce fails the bundle when any filing's model violates an identity.
	Enforce bool
}

// computeUnitEconomics is swapped in tests.
var computeUnitEconomics = unitecon.Compute

// Source identifies the filing a year's values came from.
type Source struct {
	AccessionNumber string `json:"accession_number"`
	FilingDate      string `json:"filing_date"`
	Form            string `json:"form"`
	IsAmended       bool   `json:"is_amended"`
}

func sourceOf(m xbrl.FilingMeta) Source {
	return Source{AccessionNumber: m.AccessionNumber, FilingDate: m.FilingDate, Form: m.Form, IsAmended: m.IsAmended()}
}

// Entry is one processed filing.
type Entry struct {
	Source        Source           `json:"source"`
	Year          int              `json:"year"`
	UnitEconomics *unitecon.Result `json:"unit_economics"`
	KPIs          kpi.Report       `json:"kpis"`

	concepts map[int]map[string]float64
}

// YearRecord is the authoritative view of one fiscal year.
type YearRecord struct {
	Year     int                `json:"year"`
	Source   Source             `json:"source"`
	Concepts map[string]float64 `json:"concepts"`
	KPIs     map[string]float64 `json:"kpis"`
}

// Restatement records a value changed by a later filing.
type Restatement struct {
	Year         int       `json:"year"`
	Item         string    `json:"item"`
	OldValue     float64   `json:"old_value"`
	NewValue     float64   `json:"new_value"`
	DeltaPercent float64   `json:"delta_percent"`
	OldSource    string    `json:"old_source"`
	NewSource    string    `json:"new_source"`
	DetectedAt   time.Time `json:"detected_at"`
}

// Trend summarises one KPI across the merged years.
type Trend struct {
	Series series.Series `json:"series"`
	YoY    series.Series `json:"yoy"`
	ZScore *float64      `json:"zscore"`
}

// Bundle is the merged result.
type Bundle struct {
	ID           string              `json:"id"`
	Ticker       string              `json:"ticker"`
	Entries      []Entry             `json:"entries"`
	Timeline     map[int]*YearRecord `json:"timeline"`
	Restatements []Restatement       `json:"restatements"`
	Trends       map[string]Trend    `json:"trends"`
}

// Years returns the merged years in ascending order.
func (b *Bundle) Years() []int {
	out := make([]int, 0, len(b.Timeline))
	for y := range b.Timeline {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

// Run computes every filing with bounded parallelism, then merges.
func Run(ctx context.Context, inputs []Input, opts Options) (*Bundle, error) {
	if len(inputs) == 0 {
		return nil, errors.New("bundle: no filings")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	canon := opts.Canon
	if canon == nil {
		canon = concept.New(nil)
	}

	entries := make([]Entry, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if in.Filing == nil {
				return errors.Newf("bundle: filing %d is nil", i)
			}
			e, err := process(gctx, in, canon, opts)
			if err != nil {
				return errors.Wrapf(err, "filing %d", i)
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "bundle")
	}

	b := &Bundle{
		ID:       uuid.New().String(),
		Entries:  entries,
		Timeline: make(map[int]*YearRecord),
	}
	for _, e := range entries {
		if e.KPIs.Ticker != "" {
			b.Ticker = e.KPIs.Ticker
			break
		}
	}
	b.merge()
	b.Trends = trends(b)

	logging.Logger.Infow("[BUNDLE] merged filings",
		logging.FieldTicker, b.Ticker,
		"filings", len(entries),
		"years", len(b.Timeline),
		"restatements", len(b.Restatements))
	return b, nil
}

func process(ctx context.Context, in Input, canon *concept.Canonicalizer, opts Options) (Entry, error) {
	var aopts []atlas.Option
	if in.Unstructured != nil {
		aopts = append(aopts, atlas.WithUnstructured(in.Unstructured))
	}
	if opts.Market != nil {
		aopts = append(aopts, atlas.WithMarketData(opts.Market))
	}
	a := atlas.New(in.Filing, canon, aopts...)

	ue, err := computeUnitEconomics(ctx, a, unitecon.Options{Tolerance: opts.Tolerance, Enforce: opts.Enforce})
	if err != nil {
		return Entry{}, err
	}
	report := kpi.Compute(ctx, a, ue, kpi.Options{WACC: opts.WACC})

	concepts := make(map[int]map[string]float64)
	for _, c := range TrackedConcepts {
		for y, v := range a.Series(c).Map() {
			if concepts[y] == nil {
				concepts[y] = make(map[string]float64)
			}
			concepts[y][c] = v
		}
	}
	logging.Logger.Debugw("[BUNDLE] filing processed",
		logging.FieldAccession, in.Filing.Meta.AccessionNumber, "year", report.Year)

	return Entry{
		Source:        sourceOf(in.Filing.Meta),
		Year:          report.Year,
		UnitEconomics: ue,
		KPIs:          report,
		concepts:      concepts,
	}, nil
}

// ===== Merge =====

// merge walks filings oldest first so later filings overwrite earlier ones.
func (b *Bundle) merge() {
	ordered := make([]Entry, len(b.Entries))
	copy(ordered, b.Entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Source.FilingDate < ordered[j].Source.FilingDate
	})

	for _, e := range ordered {
		for year, rec := range e.slices() {
			existing, ok := b.Timeline[year]
			if ok && !supersedes(existing.Source, e.Source) {
				continue
			}
			if ok {
				b.detectRestatements(existing, rec)
			}
			b.Timeline[year] = rec
		}
	}
	sort.SliceStable(b.Restatements, func(i, j int) bool {
		if b.Restatements[i].Year != b.Restatements[j].Year {
			return b.Restatements[i].Year < b.Restatements[j].Year
		}
		return b.Restatements[i].Item < b.Restatements[j].Item
	})
}

// slices splits an entry into per-year records. KPIs attach to the
// entry's own fiscal year only.
func (e Entry) slices() map[int]*YearRecord {
	out := make(map[int]*YearRecord)
	rec := func(y int) *YearRecord {
		r, ok := out[y]
		if !ok {
			r = &YearRecord{Year: y, Source: e.Source, Concepts: map[string]float64{}, KPIs: map[string]float64{}}
			out[y] = r
		}
		return r
	}
	for y, vals := range e.concepts {
		r := rec(y)
		for k, v := range vals {
			r.Concepts[k] = v
		}
	}
	if e.Year != 0 {
		r := rec(e.Year)
		for name, v := range e.KPIs.Values {
			if v != nil {
				r.KPIs[name] = *v
			}
		}
	}
	return out
}

// supersedes: an amendment beats an original; otherwise the newer filing wins.
func supersedes(existing, incoming Source) bool {
	if incoming.IsAmended != existing.IsAmended {
		return incoming.IsAmended
	}
	return incoming.FilingDate > existing.FilingDate
}

func (b *Bundle) detectRestatements(old, new *YearRecord) {
	check := func(item string, ov float64, nv float64) {
		if ov == nv {
			return
		}
		delta := 0.0
		if ov != 0 {
			delta = (nv - ov) / ov
			if math.Abs(delta) <= RestatementThreshold {
				return
			}
		}
		r := Restatement{
			Year:         old.Year,
			Item:         item,
			OldValue:     ov,
			NewValue:     nv,
			DeltaPercent: delta * 100,
			OldSource:    old.Source.AccessionNumber,
			NewSource:    new.Source.AccessionNumber,
			DetectedAt:   time.Now(),
		}
		b.Restatements = append(b.Restatements, r)
		logging.Logger.Infow("[BUNDLE] restatement detected",
			"year", r.Year, "item", r.Item, "old", ov, "new", nv, "delta_pct", r.DeltaPercent,
			"old_source", r.OldSource, "new_source", r.NewSource)
	}
	for item, ov := range old.Concepts {
		if nv, ok := new.Concepts[item]; ok {
			check(item, ov, nv)
		}
	}
	for item, ov := range old.KPIs {
		if nv, ok := new.KPIs[item]; ok {
			check(item, ov, nv)
		}
	}
	// carry over what the newer filing no longer reports
	for item, ov := range old.Concepts {
		if _, ok := new.Concepts[item]; !ok {
			new.Concepts[item] = ov
		}
	}
	for item, ov := range old.KPIs {
		if _, ok := new.KPIs[item]; !ok {
			new.KPIs[item] = ov
		}
	}
}

// ===== Trends =====

func trends(b *Bundle) map[string]Trend {
	byKPI := make(map[string]map[int]float64)
	for y, rec := range b.Timeline {
		for name, v := range rec.KPIs {
			if byKPI[name] == nil {
				byKPI[name] = make(map[int]float64)
			}
			byKPI[name][y] = v
		}
	}
	out := make(map[string]Trend, len(byKPI))
	for name, m := range byKPI {
		s := series.FromMap(m)
		out[name] = Trend{Series: s, YoY: s.YoY(), ZScore: s.Trend()}
	}
	return out
}
