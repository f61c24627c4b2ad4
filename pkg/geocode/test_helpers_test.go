package geocode

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stubProvider answers queries from a canned function and counts calls.
type stubProvider struct {
	name  string
	calls atomic.Int32
	fn    func(q Query) Result
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Geocode(_ context.Context, q Query) Result {
	s.calls.Add(1)
	r := s.fn(q)
	if r.Provider == "" {
		r.Provider = s.name
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	return r
}

// noopGate admits everything immediately.
type noopGate struct{}

func (noopGate) Acquire(context.Context) error { return nil }

func (noopGate) Release() {}

func match(lon, lat float64) func(Query) Result {
	return func(Query) Result {
		return Result{Kind: KindMatch, Lon: lon, Lat: lat}
	}
}

func noMatch() func(Query) Result {
	return func(Query) Result {
		return Result{Kind: KindNoMatch}
	}
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := NewCache(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, err)
	return c
}
