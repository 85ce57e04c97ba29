// Package config loads runtime settings with Viper.
//
// Precedence: defaults < atlas.yaml (working directory or $HOME/.atlas) <
// ATLAS_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Embed      EmbedConfig      `mapstructure:"embed"`
	Aliases    AliasConfig      `mapstructure:"aliases"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Bundle     BundleConfig     `mapstructure:"bundle"`
	Valuation  ValuationConfig  `mapstructure:"valuation"`
	MarketData MarketDataConfig `mapstructure:"marketdata"`
	Server     ServerConfig     `mapstructure:"server"`
	Solver     SolverConfig     `mapstructure:"solver"`
}

type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// EmbedConfig selects the embedding backend used by the canonicalizer.
// Backend is one of "none", "gemini", "gemini-legacy", "openai".
type EmbedConfig struct {
	Backend        string `mapstructure:"backend"`
	Model          string `mapstructure:"model"`
	Dimension      int    `mapstructure:"dimension"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	APIKey         string `mapstructure:"api_key"`
}

// Timeout returns the per-call embedding timeout.
func (e EmbedConfig) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// AliasConfig optionally points at a YAML or HJSON alias table override.
type AliasConfig struct {
	File string `mapstructure:"file"`
}

type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type BundleConfig struct {
	Workers int `mapstructure:"workers"`
}

type ValuationConfig struct {
	WACC float64 `mapstructure:"wacc"`
}

type MarketDataConfig struct {
	File string `mapstructure:"file"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type SolverConfig struct {
	Tolerance float64 `mapstructure:"tolerance"`
}

// SetDefaults registers a default for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("embed.backend", "none")
	v.SetDefault("embed.model", "")
	v.SetDefault("embed.dimension", 768)
	v.SetDefault("embed.timeout_seconds", 10)
	v.SetDefault("embed.api_key", "")

	v.SetDefault("aliases.file", "")
	v.SetDefault("cache.dir", ".cache/filings")
	v.SetDefault("database.url", "")
	v.SetDefault("bundle.workers", 4)
	v.SetDefault("valuation.wacc", 0.08)
	v.SetDefault("marketdata.file", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("solver.tolerance", 1e-6)
}

// New returns a Viper instance with defaults, env binding and the optional
// atlas.yaml merged in.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// DATABASE_URL is the conventional name, honour it alongside ATLAS_DATABASE_URL
	_ = v.BindEnv("database.url", "ATLAS_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("embed.api_key", "ATLAS_EMBED_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY")

	SetDefaults(v)

	v.SetConfigName("atlas")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.atlas")
	_ = v.ReadInConfig() // optional

	return v
}

// Load builds a Config from a fresh Viper instance.
func Load() (*Config, error) {
	return LoadWithViper(New())
}

// LoadWithViper unmarshals configuration from the given Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Bundle.Workers <= 0 {
		cfg.Bundle.Workers = 1
	}
	if cfg.Valuation.WACC <= 0 {
		cfg.Valuation.WACC = 0.08
	}
	return &cfg, nil
}
