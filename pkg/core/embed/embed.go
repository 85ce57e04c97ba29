// Package embed provides text embedding backends for semantic concept
// matching. Every backend is optional: Unavailable stands in when no
// provider is configured, and callers treat its error as "skip this stage".
package embed

import (
	"context"
	"math"
	"strings"

	"unit_economics/pkg/core/config"
	"unit_economics/pkg/core/errors"
)

// ErrUnavailable is returned by backends that cannot produce vectors.
var ErrUnavailable = errors.New("embedding backend unavailable")

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Name identifies the backend and model; it namespaces memo cache keys.
	Name() string
}

// Unavailable is the no-op backend.
type Unavailable struct{}

var _ Embedder = Unavailable{}

func (Unavailable) Embed(context.Context, string) ([]float32, error) { return nil, ErrUnavailable }
func (Unavailable) Name() string                                   { return "none" }

// IsUnavailable reports whether err means the backend is absent rather than failing.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// New builds the configured backend wrapped in the process-wide memo cache.
// Backend "none" (or empty) returns Unavailable without error.
func New(ctx context.Context, cfg config.EmbedConfig) (Embedder, error) {
	var inner Embedder
	var err error

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return Unavailable{}, nil
	case "gemini":
		inner, err = NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.Dimension)
	case "gemini-legacy":
		inner, err = NewLegacyGemini(ctx, cfg.APIKey, cfg.Model)
	case "openai":
		inner, err = NewOpenAI(cfg.APIKey, cfg.Model, cfg.Dimension)
	default:
		return Unavailable{}, errors.Newf("unknown embedding backend %q", cfg.Backend)
	}
	if err != nil {
		return Unavailable{}, err
	}
	return Memoize(inner), nil
}

// Normalize scales v to unit length. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Cosine is the cosine similarity of two vectors; 0 on length mismatch or
// a zero vector.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Similarity embeds both texts and returns their cosine similarity.
func Similarity(ctx context.Context, e Embedder, a, b string) (float64, error) {
	va, err := e.Embed(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := e.Embed(ctx, b)
	if err != nil {
		return 0, err
	}
	return Cosine(va, vb), nil
}
