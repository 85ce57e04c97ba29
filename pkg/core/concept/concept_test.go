package concept

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns fixed vectors; unknown text gets an orthogonal default.
type fakeEmbedder struct {
	vecs map[string][]float32
	fail bool
}

func (f fakeEmbedder) Name() string { return "fake" }

func (f fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("backend down")
	}
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return []float32{0, 1, 0}, nil
}

func TestCanonicalize_RevenueAliases(t *testing.T) {
	c := New(nil)
	for _, alias := range []string{"RevenueFromContractWithCustomer", "TotalRevenue", "Revenues"} {
		assert.Equal(t, Revenue, c.Canonicalize(alias), alias)
	}
}

func TestCanonicalize_EveryAliasMapsToItsCluster(t *testing.T) {
	c := New(nil)
	for _, cluster := range DefaultAliases().Clusters() {
		for _, alias := range cluster.Aliases {
			assert.Equal(t, cluster.Canonical, c.Canonicalize(alias), alias)
		}
		assert.Equal(t, cluster.Canonical, c.Canonicalize(cluster.Canonical))
	}
}

func TestCanonicalize_PrefixedTags(t *testing.T) {
	c := New(nil)
	tests := map[string]string{
		"us-gaap:Revenues":                       Revenue,
		"US-GAAP:CostOfGoodsAndServicesSold":     CostOfRevenue,
		"ifrs-full:ProfitLoss":                   NetIncome,
		"us-gaap:PropertyPlantAndEquipmentNet":   PPE,
		"us-gaap:IncomeTaxExpenseBenefit":        IncomeTaxExpense,
		"  us-gaap:SellingAndMarketingExpense  ": SalesMarketing,
	}
	for in, want := range tests {
		assert.Equal(t, want, c.Canonicalize(in), in)
	}
}

func TestCanonicalize_FallbackStripsPrefix(t *testing.T) {
	c := New(nil)
	for _, in := range []string{"us-gaap:AccretionExpenseZZZ", "ifrs-full:Xyzzy", "acme:Subscribers", "Subscribers"} {
		want := StripPrefix(in)
		got, stage := c.Explain(context.Background(), in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, "fallback", stage, in)
	}
}

func TestCanonicalize_TokenOverlap(t *testing.T) {
	c := New(nil)

	got, stage := c.Explain(context.Background(), "total revenue")
	assert.Equal(t, Revenue, got)
	assert.Equal(t, "token_overlap", stage)

	got, stage = c.Explain(context.Background(), "Net Income attributable")
	assert.Equal(t, NetIncome, got, "2 of 3 tokens overlap")
	assert.Equal(t, "token_overlap", stage)

	got, _ = c.Explain(context.Background(), "net income attributable to parent")
	assert.Equal(t, "net income attributable to parent", got, "2 of 5 tokens is below threshold")
}

func TestCanonicalize_EmbeddingStage(t *testing.T) {
	e := fakeEmbedder{vecs: map[string][]float32{
		"Turnover":  {1, 0.1, 0},
		"Revenues":  {1, 0, 0},
		"Unrelated": {0, 0, 1},
	}}
	c := New(nil, WithEmbedder(e))

	got, stage := c.Explain(context.Background(), "Turnover")
	assert.Equal(t, Revenue, got)
	assert.Equal(t, "embedding", stage)

	got, stage = c.Explain(context.Background(), "Unrelated")
	assert.Equal(t, "Unrelated", got, "orthogonal vectors never reach the threshold")
	assert.Equal(t, "fallback", stage)
}

func TestCanonicalize_EmbeddingFailureIsSkipped(t *testing.T) {
	c := New(nil, WithEmbedder(fakeEmbedder{fail: true}))
	assert.Equal(t, "Turnover", c.Canonicalize("Turnover"))
}

func TestSimpleSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, simpleSimilarity("Goodwill", "goodwill"))
	assert.InDelta(t, 2.0/3, simpleSimilarity("cost of goods", "Cost of Revenue"), 1e-9)
	assert.Zero(t, simpleSimilarity("", "Revenue"))
}

func TestClassify(t *testing.T) {
	tests := map[string]Category{
		"IncomeTaxExpenseBenefit":   CategoryTax,
		"SalesRevenueNet":           CategoryRevenue,
		"Cost of goods":             CategoryCOGS,
		"OperatingIncomeLoss":       CategoryOperating,
		"EBITDA":                    CategoryOperating,
		"InterestExpense":           CategoryFinancing,
		"LongTermDebt":              CategoryFinancing,
		"EarningsPerShareBasic":     CategoryEPS,
		"NetIncomeLoss":             CategoryOperating,
		"Goodwill":                  CategoryOther,
		"PropertyPlantAndEquipment": CategoryOther,
	}
	for in, want := range tests {
		assert.Equal(t, want, Classify(in), in)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"OperatingIncomeLoss", []string{"Operating", "Income", "Loss"}},
		{"RDExpense", []string{"RD", "Expense"}},
		{"EBITMargin", []string{"EBIT", "Margin"}},
		{"EBITDA", []string{"EBITDA"}},
		{"us-gaap:Revenues", []string{"us", "gaap", "Revenues"}},
		{"SG&A", []string{"S", "A"}},
		{"net income", []string{"net", "income"}},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Tokenize(tt.in), tt.in)
	}
}

func TestKeywordOverlap(t *testing.T) {
	assert.InDelta(t, 1.0, KeywordOverlap("OperatingIncome", "OperatingIncomeLoss"), 1e-9)
	assert.InDelta(t, 0.5, KeywordOverlap("OperatingIncome", "IncomeTaxExpense"), 1e-9)
	assert.Zero(t, KeywordOverlap("", "Revenue"))
}

var filingTags = []string{
	"us-gaap:IncomeTaxExpenseBenefit",
	"us-gaap:OperatingIncomeLoss",
	"us-gaap:Revenues",
	"us-gaap:NetIncomeLoss",
	"dei:EntityRegistrantName",
}

func TestResolveToFact_HeuristicsOnly(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	tag, ok := c.ResolveToFact(ctx, "OperatingIncomeLoss", filingTags)
	require.True(t, ok)
	assert.Equal(t, "us-gaap:OperatingIncomeLoss", tag)

	best, ok := c.ScoreFacts(ctx, "OperatingIncome", filingTags)
	require.True(t, ok)
	assert.Equal(t, "us-gaap:OperatingIncomeLoss", best.Tag)
	assert.InDelta(t, 0.40, best.Score, 1e-9)

	_, ok = c.ResolveToFact(ctx, "Subscribers", filingTags)
	assert.False(t, ok)

	_, ok = c.ResolveToFact(ctx, "Revenue", nil)
	assert.False(t, ok)
}

func TestResolveToFact_TaxPenalty(t *testing.T) {
	c := New(nil)
	scores := map[string]FactMatch{}
	for _, tag := range filingTags {
		m, ok := c.ScoreFacts(context.Background(), "Operating Taxes", []string{tag})
		require.True(t, ok)
		scores[tag] = m
	}
	assert.InDelta(t, 0.20, scores["us-gaap:IncomeTaxExpenseBenefit"].Penalty, 1e-9)
	assert.InDelta(t, 0.20, scores["us-gaap:OperatingIncomeLoss"].Penalty, 1e-9)
	assert.Zero(t, scores["us-gaap:Revenues"].Penalty)
}

func TestResolveToFact_WithEmbeddings(t *testing.T) {
	e := fakeEmbedder{vecs: map[string][]float32{
		"Paying Members":       {1, 0, 0},
		"acme:PaidMemberships": {0.9, 0.1, 0},
	}}
	c := New(nil, WithEmbedder(e))
	tag, ok := c.ResolveToFact(context.Background(), "Paying Members", append([]string{"acme:PaidMemberships"}, filingTags...))
	require.True(t, ok)
	assert.Equal(t, "acme:PaidMemberships", tag)
}

func TestAliasTableExtendAndLoad(t *testing.T) {
	base := DefaultAliases()
	ext := base.Extend(map[string][]string{
		Revenue:       {"Turnover"},
		"Subscribers": {"PaidSubscribers", "acme:Subscribers"},
	})
	assert.Greater(t, ext.Len(), base.Len())
	c := New(ext)
	assert.Equal(t, Revenue, c.Canonicalize("Turnover"))
	assert.Equal(t, "Subscribers", c.Canonicalize("acme:Subscribers"))
	_, ok := base.Lookup("Turnover")
	assert.False(t, ok, "Extend leaves the original untouched")

	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "aliases.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("Revenue:\n  - Turnover\nSubscribers:\n  - PaidSubscribers\n"), 0o644))
	table, err := LoadAliasFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "Subscribers", New(table).Canonicalize("PaidSubscribers"))

	hjsonPath := filepath.Join(dir, "aliases.hjson")
	require.NoError(t, os.WriteFile(hjsonPath, []byte("{\n  # driver spellings\n  Subscribers: [\"PaidSubscribers\"]\n}\n"), 0o644))
	table, err = LoadAliasFile(hjsonPath)
	require.NoError(t, err)
	assert.Equal(t, "Subscribers", New(table).Canonicalize("PaidSubscribers"))

	_, err = LoadAliasFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
