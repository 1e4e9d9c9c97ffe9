package translate

import (
	"context"

	"github.com/Sumatoshi-tech/pseudostream/internal/cache"
)

// CachedEngine memoizes successful Parse results by chunk text. Validate is
// passed through.
type CachedEngine struct {
	Engine

	results *cache.LRU
}

// NewCachedEngine wraps engine with a result cache of maxBytes. A
// non-positive maxBytes returns engine unchanged.
func NewCachedEngine(engine Engine, maxBytes int64) Engine {
	if maxBytes <= 0 {
		return engine
	}

	return &CachedEngine{Engine: engine, results: cache.NewLRU(maxBytes)}
}

// Parse returns the cached translation of chunk or parses and caches it.
func (e *CachedEngine) Parse(ctx context.Context, chunk string) (string, error) {
	if out, ok := e.results.Get(chunk); ok {
		return out, nil
	}

	out, err := e.Engine.Parse(ctx, chunk)
	if err != nil {
		return "", err
	}

	e.results.Put(chunk, out)

	return out, nil
}

// Stats returns the result cache counters.
func (e *CachedEngine) Stats() cache.Stats {
	return e.results.Stats()
}
