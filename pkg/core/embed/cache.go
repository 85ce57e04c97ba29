package embed

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
)

// vectors is the process-wide memo of normalized embeddings keyed by
// backend name and text. Entries never expire; concurrent fills of the same
// key store identical vectors.
var vectors = gocache.New(gocache.NoExpiration, 0)

// Memoized wraps an Embedder with the shared vector cache.
type Memoized struct {
	inner Embedder
}

var _ Embedder = (*Memoized)(nil)

// Memoize wraps e unless it is already memoized or unavailable.
func Memoize(e Embedder) Embedder {
	switch e.(type) {
	case *Memoized, Unavailable:
		return e
	}
	return &Memoized{inner: e}
}

func (m *Memoized) Name() string { return m.inner.Name() }

// Embed returns the cached unit vector for text, computing it on a miss.
// Errors are not cached.
func (m *Memoized) Embed(ctx context.Context, text string) ([]float32, error) {
	key := m.inner.Name() + "|" + text
	if v, ok := vectors.Get(key); ok {
		return v.([]float32), nil
	}
	vec, err := m.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	vec = Normalize(vec)
	vectors.SetDefault(key, vec)
	return vec, nil
}

// CachedCount reports how many vectors are memoized.
func CachedCount() int { return vectors.ItemCount() }

// ResetCache drops every memoized vector.
func ResetCache() { vectors.Flush() }
