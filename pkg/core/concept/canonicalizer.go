package concept

import (
	"context"
	"regexp"
	"strings"
	"time"

	"unit_economics/pkg/core/embed"
	"unit_economics/pkg/core/logging"
)

// Acceptance thresholds for the fuzzy stages.
const (
	TokenOverlapThreshold = 0.6
	EmbeddingThreshold    = 0.55
)

var prefixRe = regexp.MustCompile(`(?i)^(us-gaap:|ifrs-full:)`)

// StripPrefix removes a leading us-gaap: or ifrs-full: namespace.
func StripPrefix(s string) string {
	return prefixRe.ReplaceAllString(s, "")
}

// stage is one matching strategy. It sees the raw (trimmed) input and the
// prefix-stripped base, and reports a canonical concept or no match.
type stage struct {
	name  string
	match func(ctx context.Context, raw, base string) (string, bool)
}

// Canonicalizer runs the staged match: exact alias, token overlap,
// embedding similarity, then passthrough of the stripped input.
// It is safe for concurrent use.
type Canonicalizer struct {
	aliases  *AliasTable
	embedder embed.Embedder
	timeout  time.Duration
	stages   []stage
}

// Option configures a Canonicalizer.
type Option func(*Canonicalizer)

// WithEmbedder enables the embedding stage.
func WithEmbedder(e embed.Embedder) Option {
	return func(c *Canonicalizer) {
		if e != nil {
			c.embedder = e
		}
	}
}

// WithTimeout bounds each embedding-backed call made without a caller context.
func WithTimeout(d time.Duration) Option {
	return func(c *Canonicalizer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New builds a Canonicalizer over an alias table (nil means the defaults).
func New(aliases *AliasTable, opts ...Option) *Canonicalizer {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	c := &Canonicalizer{
		aliases:  aliases,
		embedder: embed.Unavailable{},
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stages = []stage{
		{"exact", c.matchExact},
		{"token_overlap", c.matchTokenOverlap},
		{"embedding", c.matchEmbedding},
	}
	return c
}

// Aliases returns the table the canonicalizer was built with.
func (c *Canonicalizer) Aliases() *AliasTable { return c.aliases }

// Embedder returns the configured backend (Unavailable when none).
func (c *Canonicalizer) Embedder() embed.Embedder { return c.embedder }

// Canonicalize maps a tag or query to a canonical concept. It never fails:
// unmatched input comes back with its namespace prefix stripped.
func (c *Canonicalizer) Canonicalize(nameOrQuery string) string {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.CanonicalizeContext(ctx, nameOrQuery)
}

// CanonicalizeContext is Canonicalize with a caller-supplied context for the
// embedding stage.
func (c *Canonicalizer) CanonicalizeContext(ctx context.Context, nameOrQuery string) string {
	match, _ := c.Explain(ctx, nameOrQuery)
	return match
}

// Explain is CanonicalizeContext that also names the stage that matched
// ("exact", "token_overlap", "embedding" or "fallback").
func (c *Canonicalizer) Explain(ctx context.Context, nameOrQuery string) (string, string) {
	raw := strings.TrimSpace(nameOrQuery)
	base := StripPrefix(raw)
	for _, s := range c.stages {
		if canonical, ok := s.match(ctx, raw, base); ok {
			return canonical, s.name
		}
	}
	return base, "fallback"
}

func (c *Canonicalizer) matchExact(_ context.Context, raw, base string) (string, bool) {
	if canonical, ok := c.aliases.Lookup(raw); ok {
		return canonical, true
	}
	return c.aliases.Lookup(base)
}

func (c *Canonicalizer) matchTokenOverlap(_ context.Context, _, base string) (string, bool) {
	best, bestScore := "", 0.0
	for _, e := range c.aliases.entries {
		if s := simpleSimilarity(base, e.alias); s > bestScore {
			best, bestScore = e.canonical, s
		}
	}
	return best, bestScore >= TokenOverlapThreshold
}

func (c *Canonicalizer) matchEmbedding(ctx context.Context, _, base string) (string, bool) {
	if _, off := c.embedder.(embed.Unavailable); off || base == "" {
		return "", false
	}
	q, err := c.embedder.Embed(ctx, base)
	if err != nil {
		logging.Logger.Debugw("[CANON] embedding stage skipped", "error", err.Error())
		return "", false
	}
	best, bestScore := "", 0.0
	for _, e := range c.aliases.entries {
		v, err := c.embedder.Embed(ctx, e.alias)
		if err != nil {
			logging.Logger.Debugw("[CANON] embedding stage skipped", "alias", e.alias, "error", err.Error())
			return "", false
		}
		if s := embed.Cosine(q, v); s > bestScore {
			best, bestScore = e.canonical, s
		}
	}
	return best, bestScore >= EmbeddingThreshold
}

// simpleSimilarity scores whitespace-token overlap relative to the input's
// token count; case-insensitive equality scores 1.
func simpleSimilarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	aTokens := strings.Fields(a)
	bSet := make(map[string]struct{})
	for _, t := range strings.Fields(b) {
		bSet[t] = struct{}{}
	}
	seen := make(map[string]struct{})
	overlap := 0
	for _, t := range aTokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := bSet[t]; ok {
			overlap++
		}
	}
	n := len(aTokens)
	if n < 1 {
		n = 1
	}
	return float64(overlap) / float64(n)
}
