package textextract

import (
	"os"
	"path/filepath"
	"testing"

	"unit_economics/pkg/core/concept"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const incomeStatement = `
# Consolidated Statements of Operations

(in millions, except per share data)

| | Fiscal 2023 | Fiscal 2022 |
|---|---|---|
| Net sales | 1,200 | 1,000 |
| Cost of revenue | (700) | 600 |
| Operating income | 150 | — |

Some narrative text.

| Segment | Units |
|---|---|
| Americas | 10 |
`

func TestParse_YearColumnsAndScale(t *testing.T) {
	doc := Parse([]byte(incomeStatement), nil)
	require.Len(t, doc.Tables, 1, "table without year headers is skipped")

	tbl := doc.Tables[0]
	assert.Equal(t, 1e6, tbl.Scale)
	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, "Net sales", tbl.Rows[0].Label)
	assert.Equal(t, map[int]float64{2023: 1.2e9, 2022: 1e9}, tbl.Rows[0].Values)
	assert.Equal(t, -7e8, tbl.Rows[1].Values[2023])
	assert.Equal(t, 0.0, tbl.Rows[2].Values[2022])
}

func TestExtract_UsesAliases(t *testing.T) {
	doc := Parse([]byte(incomeStatement), concept.DefaultAliases())

	got := doc.Extract(concept.Revenue)
	assert.Equal(t, map[int]float64{2023: 1.2e9, 2022: 1e9}, got, "Net Sales is an alias of Revenue")

	got = doc.Extract(concept.CostOfRevenue)
	assert.Equal(t, -7e8, got[2023])

	assert.Nil(t, doc.Extract("Deferred tax assets"))
}

func TestMatch_Score(t *testing.T) {
	doc := Parse([]byte(incomeStatement), nil)
	row, score, ok := doc.Match("Operating Income")
	require.True(t, ok)
	assert.Equal(t, "Operating income", row.Label)
	assert.Equal(t, 1.0, score)
}

func TestLabelScore(t *testing.T) {
	assert.Equal(t, 1.0, labelScore("Total Revenue", "Total revenues"))
	assert.InDelta(t, 1.0/3, labelScore("Revenue", "Cost of revenue"), 1e-9)
	assert.Equal(t, 1.0, labelScore("OperatingExpenses", "Operating expense"))
	assert.Zero(t, labelScore("", "x"))
}

func TestDetectScale(t *testing.T) {
	assert.Equal(t, 1e3, detectScale([]string{"(In Thousands)"}))
	assert.Equal(t, 1e9, detectScale([]string{"USD in billions"}))
	assert.Equal(t, 1.0, detectScale([]string{"2023"}))
}

func TestCleanMarkdown(t *testing.T) {
	assert.Equal(t, "| a |", CleanMarkdown("```markdown\n| a |\n```"))
	assert.Equal(t, "plain", CleanMarkdown("  plain \n"))
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "10k.md")
	require.NoError(t, os.WriteFile(path, []byte(incomeStatement), 0o644))

	doc, err := Open(path, nil)
	require.NoError(t, err)
	assert.Len(t, doc.Tables, 1)

	_, err = Open(filepath.Join(t.TempDir(), "missing.md"), nil)
	assert.Error(t, err)
}
