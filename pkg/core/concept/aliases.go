// Package concept maps raw disclosure tags and free-text queries onto a
// closed vocabulary of canonical financial concepts.
package concept

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"unit_economics/pkg/core/errors"

	hjson "github.com/hjson/hjson-go/v4"
	"gopkg.in/yaml.v2"
)

// Canonical concept names.
const (
	Revenue                  = "Revenue"
	CostOfRevenue            = "CostOfRevenue"
	GrossProfit              = "GrossProfit"
	OperatingIncome          = "OperatingIncome"
	NetIncome                = "NetIncome"
	ResearchAndDevelopment   = "ResearchAndDevelopment"
	SalesMarketing           = "SalesMarketing"
	GeneralAndAdministrative = "GeneralAndAdministrative"
	OperatingExpenses        = "OperatingExpenses"
	PPE                      = "PPE"
	Goodwill                 = "Goodwill"
	Intangibles              = "Intangibles"
	Cash                     = "Cash"
	SharesOutstanding        = "SharesOutstanding"
	IncomeTaxExpense         = "IncomeTaxExpense"
	PreTaxIncome             = "PreTaxIncome"
	WorkingCapital           = "WorkingCapital"
	DepreciationAmortization = "DepreciationAmortization"
	CapitalExpenditures      = "CapitalExpenditures"
	OperatingCashFlow        = "OperatingCashFlow"
	TotalAssets              = "TotalAssets"
	TotalLiabilities         = "TotalLiabilities"
	StockholdersEquity       = "StockholdersEquity"
	CurrentAssets            = "CurrentAssets"
	CurrentLiabilities       = "CurrentLiabilities"
	TotalDebt                = "TotalDebt"
	InterestExpense          = "InterestExpense"
	EPS                      = "EPS"
	Employees                = "Employees"
)

// Cluster is one canonical concept and the spellings that mean it.
type Cluster struct {
	Canonical string
	Aliases   []string
}

// defaultClusters is the built-in alias table. Order matters: the fuzzy
// stages keep the first alias among equal scores.
var defaultClusters = []Cluster{
	{Revenue, []string{
		"RevenueFromContractWithCustomer",
		"RevenueFromContractWithCustomerExcludingAssessedTax",
		"SalesRevenueNet",
		"OperatingRevenue",
		"TotalRevenue",
		"Revenues",
		"us-gaap:RevenueFromContractWithCustomer",
		"ifrs-full:Revenue",
		"Total Revenue",
		"Net Sales",
	}},
	{CostOfRevenue, []string{
		"CostOfRevenue",
		"CostOfGoodsSold",
		"CostOfGoodsAndServicesSold",
		"CostOfProductsSold",
		"COGS",
		"us-gaap:CostOfRevenue",
		"us-gaap:CostOfGoodsSold",
		"Cost of Revenue",
		"Cost of Sales",
	}},
	{GrossProfit, []string{
		"GrossProfit",
		"GrossMargin",
		"Gross Profit",
	}},
	{OperatingIncome, []string{
		"OperatingIncome",
		"OperatingProfit",
		"IncomeFromOperations",
		"OperatingLoss",
		"OperatingIncomeLoss",
		"us-gaap:OperatingIncomeLoss",
		"EBIT",
		"EarningsBeforeInterestAndTaxes",
		"EarningsBeforeInterestTax",
		"EarningsBeforeInterestAndTax",
		"OperatingEarnings",
		"OperatingEarningsBeforeInterestAndTaxes",
		"IncomeBeforeInterestAndTaxes",
		"IncomeBeforeInterestTax",
		"Operating Income",
	}},
	{NetIncome, []string{
		"NetIncome",
		"NetIncomeLoss",
		"ProfitLoss",
		"NetEarnings",
		"us-gaap:NetIncomeLoss",
		"ifrs-full:ProfitLoss",
		"Net Income",
	}},
	{ResearchAndDevelopment, []string{
		"ResearchAndDevelopmentExpense",
		"ResearchAndDevelopment",
		"RDExpense",
		"R&D",
		"us-gaap:ResearchAndDevelopmentExpense",
		"Research and Development",
	}},
	{SalesMarketing, []string{
		"SellingAndMarketingExpense",
		"MarketingExpense",
		"SalesAndMarketing",
		"us-gaap:SellingAndMarketingExpense",
		"Sales and Marketing",
	}},
	{GeneralAndAdministrative, []string{
		"SellingGeneralAndAdministrative",
		"SellingGeneralAndAdministrativeExpense",
		"GeneralAndAdministrative",
		"GeneralAndAdministrativeExpense",
		"SG&A",
		"GandA",
		"us-gaap:SellingGeneralAndAdministrativeExpense",
		"General and Administrative",
	}},
	{OperatingExpenses, []string{
		"OperatingExpenses",
		"CostsAndExpenses",
		"OpEx",
		"Operating Expenses",
	}},
	{PPE, []string{
		"PropertyPlantAndEquipmentNet",
		"PropertyPlantEquipment",
		"FixedAssetsNet",
		"us-gaap:PropertyPlantAndEquipmentNet",
		"Property Plant and Equipment",
	}},
	{Goodwill, []string{
		"Goodwill",
		"us-gaap:Goodwill",
		"ifrs-full:Goodwill",
	}},
	{Intangibles, []string{
		"IntangibleAssetsNetExcludingGoodwill",
		"IntangibleAssetsNet",
		"IntangibleAssets",
		"FiniteLivedIntangibleAssetsNet",
		"us-gaap:IntangibleAssetsNetExcludingGoodwill",
	}},
	{Cash, []string{
		"CashAndCashEquivalents",
		"CashAndCashEquivalentsAtCarryingValue",
		"CashCashEquivalentsAndShortTermInvestments",
		"CashAndShortTermInvestments",
		"us-gaap:CashAndCashEquivalentsAtCarryingValue",
		"Cash and Cash Equivalents",
	}},
	{SharesOutstanding, []string{
		"WeightedAverageNumberOfSharesOutstandingBasic",
		"WeightedAverageSharesOutstanding",
		"CommonStockSharesOutstanding",
		"EntityCommonStockSharesOutstanding",
		"Shares Outstanding",
	}},
	{IncomeTaxExpense, []string{
		"IncomeTaxExpenseBenefit",
		"IncomeTaxExpense",
		"ProvisionForIncomeTaxes",
		"ifrs-full:IncomeTaxExpenseContinuingOperations",
		"Provision for Income Taxes",
	}},
	{PreTaxIncome, []string{
		"IncomeLossFromContinuingOperationsBeforeIncomeTaxesExtraordinaryItemsNoncontrollingInterest",
		"IncomeLossFromContinuingOperationsBeforeIncomeTaxes",
		"IncomeLossFromContinuingOperationsBeforeIncomeTaxesMinorityInterestAndIncomeLossFromEquityMethodInvestments",
		"IncomeBeforeIncomeTaxes",
		"PreTaxIncome",
		"ifrs-full:ProfitLossBeforeTax",
		"Income Before Income Taxes",
	}},
	{WorkingCapital, []string{
		"WorkingCapital",
		"NetWorkingCapital",
		"Working Capital",
	}},
	{DepreciationAmortization, []string{
		"DepreciationDepletionAndAmortization",
		"DepreciationAndAmortization",
		"DepreciationAmortizationAndAccretionNet",
		"Depreciation",
		"Depreciation and Amortization",
	}},
	{CapitalExpenditures, []string{
		"PaymentsToAcquirePropertyPlantAndEquipment",
		"CapitalExpenditures",
		"PaymentsToAcquireProductiveAssets",
		"Capex",
		"Capital Expenditures",
	}},
	{OperatingCashFlow, []string{
		"NetCashProvidedByUsedInOperatingActivities",
		"NetCashProvidedByOperatingActivities",
		"CashFlowFromOperations",
		"Operating Cash Flow",
	}},
	{TotalAssets, []string{
		"Assets",
		"TotalAssets",
		"Total Assets",
	}},
	{TotalLiabilities, []string{
		"Liabilities",
		"TotalLiabilities",
		"Total Liabilities",
	}},
	{StockholdersEquity, []string{
		"StockholdersEquity",
		"StockholdersEquityIncludingPortionAttributableToNoncontrollingInterest",
		"ifrs-full:Equity",
		"Total Stockholders Equity",
	}},
	{CurrentAssets, []string{
		"AssetsCurrent",
		"CurrentAssets",
		"Total Current Assets",
	}},
	{CurrentLiabilities, []string{
		"LiabilitiesCurrent",
		"CurrentLiabilities",
		"Total Current Liabilities",
	}},
	{TotalDebt, []string{
		"LongTermDebt",
		"LongTermDebtNoncurrent",
		"DebtInstrumentCarryingAmount",
		"TotalDebt",
		"Total Debt",
	}},
	{InterestExpense, []string{
		"InterestExpense",
		"InterestExpenseNonoperating",
		"Interest Expense",
	}},
	{EPS, []string{
		"EarningsPerShareBasic",
		"EarningsPerShareDiluted",
		"EarningsPerShare",
	}},
	{Employees, []string{
		"NumberOfEmployees",
		"EntityNumberOfEmployees",
		"Employees",
		"Headcount",
	}},
}

// AliasTable is the immutable alias→canonical lookup. Build one at startup
// and share it; nothing mutates it afterwards.
type AliasTable struct {
	clusters []Cluster
	lookup   map[string]string
	entries  []aliasEntry // flattened, table order
}

type aliasEntry struct {
	alias     string
	canonical string
}

// DefaultAliases returns the built-in table.
func DefaultAliases() *AliasTable {
	return NewAliasTable(defaultClusters)
}

// NewAliasTable builds a table from clusters. Every canonical name is also
// an alias of itself. When two clusters claim the same alias the first wins.
func NewAliasTable(clusters []Cluster) *AliasTable {
	t := &AliasTable{lookup: make(map[string]string)}
	add := func(alias, canonical string) {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			return
		}
		if _, dup := t.lookup[alias]; dup {
			return
		}
		t.lookup[alias] = canonical
		t.entries = append(t.entries, aliasEntry{alias: alias, canonical: canonical})
	}
	for _, c := range clusters {
		cp := Cluster{Canonical: c.Canonical, Aliases: append([]string(nil), c.Aliases...)}
		t.clusters = append(t.clusters, cp)
		for _, a := range c.Aliases {
			add(a, c.Canonical)
		}
		add(c.Canonical, c.Canonical)
	}
	return t
}

// Lookup is the exact-match stage.
func (t *AliasTable) Lookup(alias string) (string, bool) {
	c, ok := t.lookup[alias]
	return c, ok
}

// Clusters returns a copy of the table's clusters.
func (t *AliasTable) Clusters() []Cluster {
	out := make([]Cluster, len(t.clusters))
	for i, c := range t.clusters {
		out[i] = Cluster{Canonical: c.Canonical, Aliases: append([]string(nil), c.Aliases...)}
	}
	return out
}

// Aliases returns every alias of a canonical concept, including itself.
func (t *AliasTable) Aliases(canonical string) []string {
	var out []string
	for _, e := range t.entries {
		if e.canonical == canonical {
			out = append(out, e.alias)
		}
	}
	return out
}

// Len is the number of distinct aliases.
func (t *AliasTable) Len() int { return len(t.entries) }

// Extend returns a new table with extra clusters merged in: aliases for an
// existing canonical are appended to it, new canonicals are added at the end
// in name order.
func (t *AliasTable) Extend(extra map[string][]string) *AliasTable {
	clusters := t.Clusters()
	index := make(map[string]int, len(clusters))
	for i, c := range clusters {
		index[c.Canonical] = i
	}
	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if i, ok := index[name]; ok {
			clusters[i].Aliases = append(clusters[i].Aliases, extra[name]...)
			continue
		}
		clusters = append(clusters, Cluster{Canonical: name, Aliases: extra[name]})
	}
	return NewAliasTable(clusters)
}

// LoadAliasFile reads an override file mapping canonical names to alias
// lists and merges it into the defaults. ".yaml"/".yml" are parsed as YAML,
// anything else as HJSON (which also accepts plain JSON).
func LoadAliasFile(path string) (*AliasTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read alias file %s", path)
	}

	extra := make(map[string][]string)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &extra)
	default:
		err = hjson.Unmarshal(data, &extra)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse alias file %s", path)
	}
	return DefaultAliases().Extend(extra), nil
}
