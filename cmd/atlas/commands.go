package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"unit_economics/pkg/api/unitecon"
	"unit_economics/pkg/core/atlas"
	"unit_economics/pkg/core/engine"
	"unit_economics/pkg/core/errors"
	"unit_economics/pkg/core/kpi"
	"unit_economics/pkg/core/logging"
	"unit_economics/pkg/core/xbrl"
)

var (
	markdownPath string
	tickerFlag   string
	periodFlag   string
	semantic     bool
	enforce      bool
	fromCache    string
)

// loadAtlas resolves a filing argument and wraps it.
func loadAtlas(ctx context.Context, ref string) (*engine.Engine, *atlas.Atlas, error) {
	e, err := getEngine(ctx)
	if err != nil {
		return nil, nil, err
	}
	f, err := e.LoadFiling(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	a, err := e.Atlas(f, markdownPath)
	if err != nil {
		return nil, nil, err
	}
	return e, a, nil
}

var canonicalizeCmd = &cobra.Command{
	Use:   "canonicalize <text>...",
	Short: "Map tags or free text to canonical concepts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getEngine(cmd.Context())
		if err != nil {
			return err
		}
		for _, arg := range args {
			canonical, stage := e.Canon.Explain(cmd.Context(), arg)
			fmt.Printf("%-50s -> %-30s (%s)\n", arg, canonical, stage)
		}
		return nil
	},
}

var factCmd = &cobra.Command{
	Use:   "fact <filing> <concept>",
	Short: "Select the best fact for a concept",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, a, err := loadAtlas(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		var f *xbrl.Fact
		if semantic {
			f = a.Semantic(args[1], periodFlag)
		} else {
			f = a.Fact(args[1], periodFlag)
		}
		if f == nil {
			return errors.Newf("no fact for %q", args[1])
		}
		return printJSON(f)
	},
}

var seriesCmd = &cobra.Command{
	Use:   "series <filing> <concept>",
	Short: "Print a concept's annual series",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, a, err := loadAtlas(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		s := a.Series(args[1])
		if len(s) == 0 {
			return errors.Newf("no annual values for %q", args[1])
		}
		for _, p := range s {
			if p.Value == nil {
				fmt.Printf("%d\t-\n", p.Year)
				continue
			}
			fmt.Printf("%d\t%.2f\n", p.Year, *p.Value)
		}
		if z := s.Trend(); z != nil {
			fmt.Printf("trend z-score\t%.3f\n", *z)
		}
		return nil
	},
}

var unitEconomicsCmd = &cobra.Command{
	Use:   "unit-economics <filing>",
	Short: "Solve the unit-economics model for a filing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, a, err := loadAtlas(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		res, err := e.UnitEconomics(cmd.Context(), a, tickerFlag, enforce)
		if perr := printJSON(res); perr != nil {
			return perr
		}
		return err
	},
}

var kpiCmd = &cobra.Command{
	Use:   "kpi <filing>",
	Short: "Compute every KPI for a filing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, a, err := loadAtlas(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		report, err := e.KPIs(cmd.Context(), a)
		if err != nil {
			return err
		}
		fmt.Printf("%s FY%d\n", report.Ticker, report.Year)
		for _, name := range report.Names() {
			if v := report.Get(name); v != nil {
				fmt.Printf("  %-28s %14.4f\n", name, *v)
			} else {
				fmt.Printf("  %-28s %14s\n", name, "n/a")
			}
		}
		return nil
	},
}

var screenCmd = &cobra.Command{
	Use:   "screen <expr> <filing>...",
	Short: "Screen filings with an expression such as \"ROIC > 0.15 AND FCFYield >= 0.05\"",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		expr := args[0]
		if _, err := kpi.ParseScreen(expr); err != nil {
			return err
		}
		for _, ref := range args[1:] {
			e, a, err := loadAtlas(cmd.Context(), ref)
			if err != nil {
				return err
			}
			report, err := e.KPIs(cmd.Context(), a)
			if err != nil {
				return err
			}
			pass, err := kpi.Screen(expr, report)
			if err != nil {
				return err
			}
			verdict := "FAIL"
			if pass {
				verdict = "PASS"
			}
			fmt.Printf("%-6s FY%d  %s  %s\n", report.Ticker, report.Year, verdict, ref)
		}
		return nil
	},
}

var bundleCmd = &cobra.Command{
	Use:   "bundle [filing...]",
	Short: "Merge several filings of one company, detecting restatements",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getEngine(cmd.Context())
		if err != nil {
			return err
		}
		var filings []*xbrl.Filing
		if fromCache != "" {
			filings, err = e.Cache.ByTicker(cmd.Context(), fromCache)
			if err != nil {
				return err
			}
		}
		for _, ref := range args {
			f, err := e.LoadFiling(cmd.Context(), ref)
			if err != nil {
				return err
			}
			filings = append(filings, f)
		}
		if len(filings) == 0 {
			return errors.WithHint(errors.New("no filings"), "pass filing paths or --ticker for cached filings")
		}
		b, err := e.Bundle(cmd.Context(), filings)
		if err != nil {
			return err
		}
		return printJSON(b)
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the filing cache",
}

var cacheSaveCmd = &cobra.Command{
	Use:   "save <file>...",
	Short: "Parse filings and store them by accession number",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getEngine(cmd.Context())
		if err != nil {
			return err
		}
		for _, path := range args {
			f, err := e.LoadFiling(cmd.Context(), path)
			if err != nil {
				return err
			}
			if tickerFlag != "" && f.Meta.Ticker == "" {
				f.Meta.Ticker = tickerFlag
			}
			if err := e.Cache.Save(cmd.Context(), f); err != nil {
				return errors.Wrapf(err, "cache %s", path)
			}
			fmt.Printf("cached %s (%d facts)\n", f.Meta.AccessionNumber, len(f.Facts))
		}
		return nil
	},
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached filings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := getEngine(cmd.Context())
		if err != nil {
			return err
		}
		entries, err := e.Cache.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, en := range entries {
			fmt.Printf("%-24s %-6s %-6s FY%d  filed %s\n",
				en.AccessionNumber, en.Ticker, en.FormType, en.FiscalYear, en.FilingDate)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := getEngine(ctx)
		if err != nil {
			return err
		}
		return serve(ctx, e, cfg.Server.Addr)
	},
}

// serve runs the API until ctx is cancelled.
func serve(ctx context.Context, e *engine.Engine, addr string) error {
	srv := unitecon.NewServer(e, addr)
	errCh := make(chan error, 1)
	go func() {
		logging.Logger.Infow("[API] listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logging.Logger.Infow("[API] shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func init() {
	for _, c := range []*cobra.Command{factCmd, seriesCmd, unitEconomicsCmd, kpiCmd, screenCmd} {
		c.Flags().StringVar(&markdownPath, "markdown", "", "markdown rendition of the filing used to fill gaps")
	}
	factCmd.Flags().StringVar(&periodFlag, "period", "", "period alias: LATEST, MRQ, Q1..Q4, FY2023 or a context id")
	factCmd.Flags().BoolVar(&semantic, "semantic", false, "use the semantic selector")
	unitEconomicsCmd.Flags().StringVar(&tickerFlag, "ticker", "", "ticker override for driver lookup")
	unitEconomicsCmd.Flags().BoolVar(&enforce, "enforce", false, "fail when the solved model violates an identity")
	bundleCmd.Flags().StringVar(&fromCache, "ticker", "", "include every cached filing for this ticker")
	cacheSaveCmd.Flags().StringVar(&tickerFlag, "ticker", "", "ticker to record when the filing has none")

	cacheCmd.AddCommand(cacheSaveCmd, cacheListCmd)
	rootCmd.AddCommand(canonicalizeCmd, factCmd, seriesCmd, unitEconomicsCmd, kpiCmd, screenCmd, bundleCmd, cacheCmd, serveCmd)
}
