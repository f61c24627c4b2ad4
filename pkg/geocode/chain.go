package geocode

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// step is one rung of the fallback ladder: a provider tier paired with a
// query variant.
type step struct {
	tier    string // "free" or "paid"
	variant Variant
}

var (
	allSteps = []step{
		{tierFree, VariantFull},
		{tierFree, VariantSimplified},
		{tierPaid, VariantFull},
		{tierPaid, VariantSimplified},
	}
	paidSteps = allSteps[2:]
)

const (
	tierFree = "free"
	tierPaid = "paid"
)

// ChainStats counts what the chain did during a run. All counters are
// cumulative across cities.
type ChainStats struct {
	CacheHits     int            `json:"cache_hits"`
	ProviderCalls map[string]int `json:"provider_calls"`
	Matches       map[string]int `json:"matches"`
	OutOfBounds   int            `json:"out_of_bounds"`
	Transient     int            `json:"transient"`
}

// Chain resolves queries by walking providers from free to paid, consulting
// the persistent cache before every provider call. A Chain is safe for
// concurrent use; identical in-flight lookups are collapsed into one call.
type Chain struct {
	free     Provider
	freeGate Gate
	paid     Provider
	paidGate Gate
	cache    *Cache

	group singleflight.Group

	mu    sync.Mutex
	stats ChainStats
}

// NewChain wires the fallback chain. paid may be nil, in which case the paid
// rungs are skipped.
func NewChain(free Provider, freeGate Gate, paid Provider, paidGate Gate, cache *Cache) *Chain {
	return &Chain{
		free:     free,
		freeGate: freeGate,
		paid:     paid,
		paidGate: paidGate,
		cache:    cache,
		stats: ChainStats{
			ProviderCalls: make(map[string]int),
			Matches:       make(map[string]int),
		},
	}
}

// Resolve walks the full ladder: free provider with both query variants,
// then the paid provider with both. It stops at the first usable match.
func (c *Chain) Resolve(ctx context.Context, qs Queries) Result {
	return c.resolve(ctx, qs, allSteps)
}

// ResolvePaid walks only the paid rungs. Used for retry passes over records
// the free provider already failed on.
func (c *Chain) ResolvePaid(ctx context.Context, qs Queries) Result {
	return c.resolve(ctx, qs, paidSteps)
}

func (c *Chain) resolve(ctx context.Context, qs Queries, steps []step) Result {
	last := Result{Kind: KindNoMatch, At: time.Now()}
	for _, s := range steps {
		provider, gate := c.free, c.freeGate
		if s.tier == tierPaid {
			provider, gate = c.paid, c.paidGate
		}
		if provider == nil {
			continue
		}
		q := qs.Primary
		if s.variant == VariantSimplified {
			q = qs.Simplified
			// A record with no street address has identical variants.
			if q.Key() == qs.Primary.Key() {
				continue
			}
		}

		res := c.lookup(ctx, provider, gate, q)
		if res.Kind == KindMatch {
			return res
		}
		if ctx.Err() != nil {
			return res
		}
		last = res
	}
	return last
}

// lookup resolves one provider/query pair: cache first, then a gated
// provider call deduplicated across concurrent callers.
func (c *Chain) lookup(ctx context.Context, provider Provider, gate Gate, q Query) Result {
	if entry, ok := c.cache.Get(provider.Name(), q); ok {
		c.mu.Lock()
		c.stats.CacheHits++
		c.mu.Unlock()
		res := Result{
			Kind:     entry.Kind,
			Lon:      entry.Lon,
			Lat:      entry.Lat,
			Provider: entry.Provider,
			At:       time.Now(),
		}
		// Cache files written before the envelope check may hold bad matches.
		if res.Kind == KindMatch && !ValidCoordinates(res.Lon, res.Lat) {
			res = Result{Kind: KindNoMatch, Provider: res.Provider, Detail: "outside brazil", At: res.At}
		}
		return res
	}

	key := provider.Name() + "|" + q.Key()
	v, _, _ := c.group.Do(key, func() (any, error) {
		return c.call(ctx, provider, gate, q), nil
	})
	return v.(Result)
}

func (c *Chain) call(ctx context.Context, provider Provider, gate Gate, q Query) Result {
	if err := gate.Acquire(ctx); err != nil {
		return failure(provider.Name(), err)
	}
	res := provider.Geocode(ctx, q)
	gate.Release()

	// A match outside Brazil is a mislocated hit, not a usable answer.
	if res.Kind == KindMatch && !ValidCoordinates(res.Lon, res.Lat) {
		zap.L().Debug("match outside brazil discarded",
			zap.String("provider", provider.Name()),
			zap.String("query", q.Text),
			zap.Float64("lon", res.Lon),
			zap.Float64("lat", res.Lat),
		)
		res = Result{Kind: KindNoMatch, Provider: res.Provider, Detail: "outside brazil", At: res.At}
		c.mu.Lock()
		c.stats.OutOfBounds++
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.stats.ProviderCalls[provider.Name()]++
	if res.Kind == KindMatch {
		c.stats.Matches[provider.Name()]++
	}
	if res.Kind == KindTransient {
		c.stats.Transient++
	}
	c.mu.Unlock()

	c.cache.Put(provider.Name(), q, res)
	return res
}

// Stats returns a copy of the chain's counters.
func (c *Chain) Stats() ChainStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := ChainStats{
		CacheHits:     c.stats.CacheHits,
		ProviderCalls: make(map[string]int, len(c.stats.ProviderCalls)),
		Matches:       make(map[string]int, len(c.stats.Matches)),
		OutOfBounds:   c.stats.OutOfBounds,
		Transient:     c.stats.Transient,
	}
	for k, v := range c.stats.ProviderCalls {
		out.ProviderCalls[k] = v
	}
	for k, v := range c.stats.Matches {
		out.Matches[k] = v
	}
	return out
}

// Close flushes the cache to disk.
func (c *Chain) Close() error {
	return c.cache.Flush()
}
