// Package drivers picks the volume driver (units, subscribers, orders, ...)
// that revenue and variable cost are expressed per.
package drivers

import (
	"math"
	"sort"
	"strings"

	"unit_economics/pkg/core/concept"
	"unit_economics/pkg/core/logging"
	"unit_economics/pkg/core/series"
)

// DefaultIndustry applies to tickers missing from TickerIndustry.
const DefaultIndustry = "SaaS"

// Fallback is the driver when nothing else qualifies.
const Fallback = "Revenue"

// MinOverlap is the number of shared years the correlation search needs.
const MinOverlap = 3

// IndustryDrivers lists candidate driver concepts per industry, most
// specific first.
var IndustryDrivers = map[string][]string{
	"SaaS":            {"ARR", "MRR", "Subscribers", "MAUs"},
	"Marketplaces":    {"GMV", "Orders", "ActiveBuyers"},
	"Social":          {"MAUs", "DAUs", "Impressions"},
	"Ecommerce":       {"Orders", "Shipments", "UnitsSold"},
	"Airlines":        {"ASMs", "RPMs", "Passengers", "Routes"},
	"Semiconductors":  {"WafersStarted", "DiePerWafer", "UnitsShipped"},
	"PaymentNetworks": {"TPV", "Transactions", "ActiveCards"},
	"Retail":          {"SameStoreSales", "FootTraffic", "Baskets"},
	"Energy":          {"Barrels", "BOE", "ProductionVolume"},
	"Manufacturing":   {"UnitsProduced", "LineHours", "CapacityUtilization"},
}

// TickerIndustry maps lower-case tickers to an IndustryDrivers key.
var TickerIndustry = map[string]string{
	"aapl": "Ecommerce",
	"amzn": "Ecommerce",
	"msft": "SaaS",
	"meta": "Social",
	"nflx": "SaaS",
	"uber": "Marketplaces",
	"cost": "Retail",
	"wmt":  "Retail",
	"unh":  "SaaS",
	"tsla": "Manufacturing",
	"tsm":  "Semiconductors",
	"nvda": "Semiconductors",
	"amd":  "Semiconductors",
	"jpm":  "PaymentNetworks",
	"ma":   "PaymentNetworks",
	"v":    "PaymentNetworks",
	"pypl": "PaymentNetworks",
	"xom":  "Energy",
	"cvx":  "Energy",
	"hd":   "Retail",
}

// GenericDrivers are tried after the industry list.
var GenericDrivers = []string{"UnitsSold", "Subscribers", "Customers", "Users"}

// Method records how a driver was chosen.
type Method string

const (
	MethodCandidate   Method = "candidate"
	MethodCorrelation Method = "correlation"
	MethodFallback    Method = "fallback"
)

// Choice is the selected volume driver.
type Choice struct {
	Name        string   `json:"name"`
	Industry    string   `json:"industry"`
	Method      Method   `json:"method"`
	Correlation *float64 `json:"correlation,omitempty"`
}

// Source resolves concepts for the filing being analysed.
type Source interface {
	// Value returns the latest value of a concept, or nil.
	Value(concept string) *float64
	// Series returns the concept's annual series.
	Series(concept string) series.Series
}

// IndustryOf returns the industry for a ticker.
func IndustryOf(ticker string) string {
	if ind, ok := TickerIndustry[strings.ToLower(strings.TrimSpace(ticker))]; ok {
		return ind
	}
	return DefaultIndustry
}

// Candidates is the ordered list tried for a ticker.
func Candidates(ticker string) []string {
	out := append([]string{}, IndustryDrivers[IndustryOf(ticker)]...)
	return append(out, GenericDrivers...)
}

// Infer picks the first candidate with a positive value, else the metric
// whose series correlates best with revenue, else Revenue.
func Infer(ticker string, src Source) Choice {
	industry := IndustryOf(ticker)

	for _, name := range Candidates(ticker) {
		if v := src.Value(name); v != nil && *v > 0 {
			return Choice{Name: name, Industry: industry, Method: MethodCandidate}
		}
	}

	if name, r, ok := correlated(src); ok {
		logging.Logger.Debugw("[DRIVERS] correlation fallback",
			logging.FieldTicker, ticker, "driver", name, "r", r)
		return Choice{Name: name, Industry: industry, Method: MethodCorrelation, Correlation: &r}
	}
	return Choice{Name: Fallback, Industry: industry, Method: MethodFallback}
}

// correlationCandidates is every driver plus a few scale proxies, sorted so
// ties resolve the same way on every run.
func correlationCandidates() []string {
	seen := map[string]struct{}{
		concept.Employees:         {},
		concept.TotalAssets:       {},
		concept.OperatingExpenses: {},
	}
	for _, list := range IndustryDrivers {
		for _, d := range list {
			seen[d] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		if d != Fallback {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

func correlated(src Source) (string, float64, bool) {
	rev := src.Series(concept.Revenue)
	if len(rev) < MinOverlap {
		return "", 0, false
	}
	best, bestAbs, bestR := "", 0.0, 0.0
	for _, name := range correlationCandidates() {
		s := src.Series(name)
		if len(s) < MinOverlap {
			continue
		}
		r := series.Correlation(rev, s, MinOverlap)
		if r == nil {
			continue
		}
		if a := math.Abs(*r); a > bestAbs {
			best, bestAbs, bestR = name, a, *r
		}
	}
	return best, bestR, best != ""
}
