package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"unit_economics/pkg/core/xbrl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func sampleFiling(accession, ticker, filed string) *xbrl.Filing {
	contexts := map[string]xbrl.Context{
		"FY2023": {PeriodType: xbrl.PeriodDuration, Start: xbrl.ParseDate("2023-01-01"), End: xbrl.ParseDate("2023-12-31")},
	}
	facts := []xbrl.Fact{{Tag: "us-gaap:Revenues", ContextRef: "FY2023", Value: ptr(150)}}
	meta := xbrl.FilingMeta{Ticker: ticker, AccessionNumber: accession, Form: "10-K", FilingDate: filed, FiscalYear: 2023}
	return xbrl.NewFiling(meta, facts, contexts)
}

func TestFileCache_SaveGetExists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := NewFilingCache(nil, dir)

	assert.False(t, c.Exists(ctx, "0000320193-23-000106"))
	got, err := c.Get(ctx, "0000320193-23-000106")
	require.NoError(t, err)
	assert.Nil(t, got, "miss is nil without error")

	require.NoError(t, c.Save(ctx, sampleFiling("0000320193-23-000106", "aapl", "2023-11-03")))
	assert.True(t, c.Exists(ctx, "0000320193-23-000106"))
	assert.FileExists(t, filepath.Join(dir, "000032019323000106.json"))

	got, err = c.Get(ctx, "0000320193-23-000106")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "aapl", got.Meta.Ticker)
	require.Len(t, got.Facts, 1)
	require.NotNil(t, got.Facts[0].Value)
	assert.Equal(t, 150.0, *got.Facts[0].Value)
	end := got.Contexts["FY2023"].EndDate()
	require.NotNil(t, end)
	assert.Equal(t, 2023, end.Year())
}

func TestFileCache_SaveErrors(t *testing.T) {
	c := NewFilingCache(nil, t.TempDir())
	assert.Error(t, c.Save(context.Background(), nil))
	assert.Error(t, c.Save(context.Background(), sampleFiling("", "x", "2024-01-01")))
}

func TestFileCache_ByTickerAndList(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := NewFilingCache(nil, dir)

	require.NoError(t, c.Save(ctx, sampleFiling("a-2", "acme", "2024-02-01")))
	require.NoError(t, c.Save(ctx, sampleFiling("a-1", "ACME", "2023-02-01")))
	require.NoError(t, c.Save(ctx, sampleFiling("b-1", "other", "2023-05-01")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.json"), []byte("{not json"), 0o644))

	entries, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "unreadable files are skipped")

	filings, err := c.ByTicker(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, filings, 2)
	assert.Equal(t, "a-1", filings[0].Meta.AccessionNumber)
	assert.Equal(t, "a-2", filings[1].Meta.AccessionNumber)
}

func TestFileCache_BareFactDump(t *testing.T) {
	dir := t.TempDir()
	dump := `{"meta": {"ticker": "msft", "accession_number": "x1"}, "all_facts": [], "contexts": {}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x1.json"), []byte(dump), 0o644))

	got, err := NewFilingCache(nil, dir).Get(context.Background(), "x1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "msft", got.Meta.Ticker)
}

func TestDBCache(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	require.NoError(t, InitDB(ctx, url))
	t.Cleanup(Close)
	require.NoError(t, Migrate(ctx, GetPool()))

	c := NewFilingCache(GetPool(), "")
	require.NoError(t, c.Save(ctx, sampleFiling("test-db-1", "dbco", "2024-01-01")))
	assert.True(t, c.Exists(ctx, "test-db-1"))

	got, err := c.Get(ctx, "test-db-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "dbco", got.Meta.Ticker)

	_, err = GetPool().Exec(ctx, `DELETE FROM filings WHERE accession_number = $1`, "test-db-1")
	require.NoError(t, err)
}
