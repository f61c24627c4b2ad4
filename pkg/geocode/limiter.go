package geocode

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Gate is per-provider admission control. Acquire blocks until the provider
// may be called; Release must be invoked once the request has completed.
type Gate interface {
	Acquire(ctx context.Context) error
	Release()
}

// IntervalGate enforces a minimum interval between requests, shared across
// all workers touching the provider. Nominatim's usage policy requires at
// most one request per second.
type IntervalGate struct {
	lim *rate.Limiter
}

// NewIntervalGate creates a gate that admits one request per minInterval.
func NewIntervalGate(minInterval time.Duration) *IntervalGate {
	return &IntervalGate{lim: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// Acquire blocks until the interval has elapsed since the previous grant.
func (g *IntervalGate) Acquire(ctx context.Context) error {
	return eris.Wrap(g.lim.Wait(ctx), "geocode: interval gate")
}

// Release implements Gate. Interval gates have nothing to release.
func (g *IntervalGate) Release() {}

// ConcurrencyGate bounds simultaneous in-flight requests with a counting
// semaphore. Used for paid providers that tolerate parallel calls.
type ConcurrencyGate struct {
	sem *semaphore.Weighted
}

// NewConcurrencyGate creates a gate admitting up to n concurrent requests.
func NewConcurrencyGate(n int64) *ConcurrencyGate {
	if n <= 0 {
		n = 1
	}
	return &ConcurrencyGate{sem: semaphore.NewWeighted(n)}
}

// Acquire blocks until an in-flight slot is free.
func (g *ConcurrencyGate) Acquire(ctx context.Context) error {
	return eris.Wrap(g.sem.Acquire(ctx, 1), "geocode: concurrency gate")
}

// Release frees the slot taken by Acquire.
func (g *ConcurrencyGate) Release() { g.sem.Release(1) }
