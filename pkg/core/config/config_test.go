package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithViper_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "none", cfg.Embed.Backend)
	assert.Equal(t, 768, cfg.Embed.Dimension)
	assert.Equal(t, 4, cfg.Bundle.Workers)
	assert.InDelta(t, 0.08, cfg.Valuation.WACC, 1e-12)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ".cache/filings", cfg.Cache.Dir)
}

func TestLoadWithViper_Overrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("embed.backend", "openai")
	v.Set("bundle.workers", 0)
	v.Set("valuation.wacc", -1)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Embed.Backend)
	assert.Equal(t, 1, cfg.Bundle.Workers, "non-positive worker count is clamped")
	assert.InDelta(t, 0.08, cfg.Valuation.WACC, 1e-12, "non-positive WACC falls back")
}

func TestEmbedTimeout(t *testing.T) {
	assert.Equal(t, int64(10), int64(EmbedConfig{}.Timeout().Seconds()))
	assert.Equal(t, int64(3), int64(EmbedConfig{TimeoutSeconds: 3}.Timeout().Seconds()))
}
