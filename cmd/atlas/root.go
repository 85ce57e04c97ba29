package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"unit_economics/pkg/core/config"
	"unit_economics/pkg/core/engine"
	"unit_economics/pkg/core/logging"
)

var (
	cfgFile string
	verbose bool
	jsonLog bool

	cfg *config.Config
	eng *engine.Engine
)

var rootCmd = &cobra.Command{
	Use:   "atlas",
	Short: "Fact resolution and unit economics over XBRL filings",
	Long: `atlas resolves free-text financial concepts against XBRL facts, builds
annual series, solves the unit-economics identity graph and derives KPIs.

A <filing> argument is a path to a JSON fact dump or an inline XBRL
(.htm/.html) document, or the accession number of a cached filing.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./atlas.yaml or $HOME/.atlas/atlas.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "log-json", false, "JSON log output")
}

// initConfig loads .env, then the config file and ATLAS_* variables.
func initConfig() {
	_ = godotenv.Load()

	v := config.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	}
	if verbose {
		v.Set("log.level", "debug")
	}
	if jsonLog {
		v.Set("log.json", true)
	}

	var err error
	cfg, err = config.LoadWithViper(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
	}
}

// getEngine builds the engine on first use so commands that do not need it
// (help, completion) stay cheap.
func getEngine(ctx context.Context) (*engine.Engine, error) {
	if eng != nil {
		return eng, nil
	}
	e, err := engine.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	eng = e
	return eng, nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
