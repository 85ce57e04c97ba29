// Package engine wires configuration into the components the commands and
// the HTTP API share: canonicalizer, market data, filing cache.
package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"unit_economics/pkg/core/atlas"
	"unit_economics/pkg/core/bundle"
	"unit_economics/pkg/core/concept"
	"unit_economics/pkg/core/config"
	"unit_economics/pkg/core/embed"
	"unit_economics/pkg/core/errors"
	"unit_economics/pkg/core/kpi"
	"unit_economics/pkg/core/logging"
	"unit_economics/pkg/core/marketdata"
	"unit_economics/pkg/core/store"
	"unit_economics/pkg/core/textextract"
	"unit_economics/pkg/core/unitecon"
	"unit_economics/pkg/core/xbrl"
)

// Engine holds the long-lived components built from a Config.
type Engine struct {
	Config *config.Config
	Canon  *concept.Canonicalizer
	Market marketdata.Provider
	Cache  *store.FilingCache
}

// New builds an Engine. A failing embedding backend degrades to the
// alias-only canonicalizer; a missing database degrades to the file cache.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: nil config")
	}

	aliases := concept.DefaultAliases()
	if cfg.Aliases.File != "" {
		loaded, err := concept.LoadAliasFile(cfg.Aliases.File)
		if err != nil {
			return nil, errors.Wrapf(err, "load alias file %s", cfg.Aliases.File)
		}
		aliases = loaded
	}

	opts := []concept.Option{concept.WithTimeout(cfg.Embed.Timeout())}
	emb, err := embed.New(ctx, cfg.Embed)
	if err != nil {
		logging.Logger.Warnw("[ENGINE] embedding backend unavailable, using aliases only",
			"backend", cfg.Embed.Backend, "error", err)
	} else {
		opts = append(opts, concept.WithEmbedder(emb))
	}

	e := &Engine{Config: cfg, Canon: concept.New(aliases, opts...)}

	if cfg.MarketData.File != "" {
		static, err := marketdata.LoadFile(cfg.MarketData.File)
		if err != nil {
			return nil, errors.Wrapf(err, "load market data %s", cfg.MarketData.File)
		}
		e.Market = static
	}

	if cfg.Database.URL != "" {
		if err := store.InitDB(ctx, cfg.Database.URL); err != nil {
			logging.Logger.Warnw("[ENGINE] database unavailable, using file cache", "error", err)
		} else if err := store.Migrate(ctx, store.GetPool()); err != nil {
			logging.Logger.Warnw("[ENGINE] migration failed, using file cache", "error", err)
		}
	}
	e.Cache = store.NewFilingCache(store.GetPool(), cfg.Cache.Dir)

	logging.Logger.Infow("[ENGINE] ready",
		"aliases", aliases.Len(),
		"embedder", e.Canon.Embedder().Name(),
		"market_data", e.Market != nil,
		"database", store.GetPool() != nil)
	return e, nil
}

// LoadFiling reads a filing from a path or, when no such file exists, from
// the cache by accession number. .htm/.html/.xhtml files are parsed as
// inline XBRL; anything else as a JSON fact dump.
func (e *Engine) LoadFiling(ctx context.Context, ref string) (*xbrl.Filing, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(err, "read %s", ref)
		}
		f, cerr := e.Cache.Get(ctx, ref)
		if cerr != nil {
			return nil, cerr
		}
		if f == nil {
			return nil, errors.WithHint(errors.Newf("filing %q not found", ref), "pass a file path or a cached accession number")
		}
		return f, nil
	}

	switch strings.ToLower(filepath.Ext(ref)) {
	case ".htm", ".html", ".xhtml":
		return xbrl.LoadIXBRL(bytes.NewReader(data), xbrl.FilingMeta{}), nil
	default:
		return xbrl.LoadJSON(data), nil
	}
}

// Atlas wraps a filing with the engine's canonicalizer and market data.
// markdown, when non-empty, is a path to the filing's markdown rendition.
func (e *Engine) Atlas(f *xbrl.Filing, markdown string) (*atlas.Atlas, error) {
	opts, err := e.atlasOptions(markdown)
	if err != nil {
		return nil, err
	}
	return atlas.New(f, e.Canon, opts...), nil
}

func (e *Engine) atlasOptions(markdown string) ([]atlas.Option, error) {
	var opts []atlas.Option
	if e.Market != nil {
		opts = append(opts, atlas.WithMarketData(e.Market))
	}
	if markdown != "" {
		doc, err := textextract.Open(markdown, e.Canon.Aliases())
		if err != nil {
			return nil, err
		}
		opts = append(opts, atlas.WithUnstructured(doc))
	}
	return opts, nil
}

// UnitEconomics runs the unit-economics model with the configured tolerance.
func (e *Engine) UnitEconomics(ctx context.Context, a *atlas.Atlas, ticker string, enforce bool) (*unitecon.Result, error) {
	return unitecon.Compute(ctx, a, unitecon.Options{
		Ticker:    ticker,
		Tolerance: e.Config.Solver.Tolerance,
		Enforce:   enforce,
	})
}

// KPIs computes the unit-economics model and the KPI report for a.
func (e *Engine) KPIs(ctx context.Context, a *atlas.Atlas) (kpi.Report, error) {
	ue, err := e.UnitEconomics(ctx, a, "", false)
	if err != nil {
		return kpi.Report{}, err
	}
	return kpi.Compute(ctx, a, ue, kpi.Options{WACC: e.Config.Valuation.WACC}), nil
}

// Bundle merges filings with the configured worker count.
func (e *Engine) Bundle(ctx context.Context, filings []*xbrl.Filing) (*bundle.Bundle, error) {
	inputs := make([]bundle.Input, len(filings))
	for i, f := range filings {
		inputs[i] = bundle.Input{Filing: f}
	}
	return bundle.Run(ctx, inputs, bundle.Options{
		Workers:   e.Config.Bundle.Workers,
		Canon:     e.Canon,
		Market:    e.Market,
		WACC:      e.Config.Valuation.WACC,
		Tolerance: e.Config.Solver.Tolerance,
	})
}
