// Package marketdata supplies market capitalisation for valuation concepts.
package marketdata

import (
	"context"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"unit_economics/pkg/core/errors"
)

// Provider returns the market capitalisation for a ticker, or nil when it
// is unknown.
type Provider interface {
	MarketCap(ctx context.Context, ticker string) (*float64, error)
}

// Static is a fixed ticker → market cap table. Lookups ignore case.
type Static struct {
	caps map[string]float64
}

// NewStatic copies caps into a Static provider.
func NewStatic(caps map[string]float64) *Static {
	s := &Static{caps: make(map[string]float64, len(caps))}
	for k, v := range caps {
		s.caps[normalize(k)] = v
	}
	return s
}

// fileFormat is the on-disk layout:
//
//	market_caps:
//	  AAPL: 2.9e12
//	  MSFT: 3.1e12
type fileFormat struct {
	MarketCaps map[string]float64 `yaml:"market_caps"`
}

// LoadFile reads a YAML market-data file.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read market data %s", path)
	}
	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, errors.Wrapf(err, "parse market data %s", path)
	}
	return NewStatic(ff.MarketCaps), nil
}

// MarketCap implements Provider.
func (s *Static) MarketCap(ctx context.Context, ticker string) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.caps[normalize(ticker)]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// Len is the number of tickers held.
func (s *Static) Len() int { return len(s.caps) }

func normalize(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
