package geocode

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// cacheFlushEvery is how many new entries accumulate before the cache is
// flushed to disk automatically. A final Flush still runs at shutdown.
const cacheFlushEvery = 25

// CacheEntry is one persisted geocoding outcome. Entries are keyed by
// provider name and normalized query text, so a match from the free provider
// never shadows a miss recorded for the paid one.
type CacheEntry struct {
	Kind     Kind    `json:"kind"`
	Lon      float64 `json:"lon,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Provider string  `json:"provider"`
}

// Cache is a persistent lookup table of geocoding outcomes. All methods are
// safe for concurrent use. Entries are never evicted; the dataset is small
// and a stale match is preferable to a repeated provider call.
type Cache struct {
	path string

	mu      sync.Mutex
	entries map[string]CacheEntry
	pending int
}

// NewCache loads the cache file at path, or starts empty when the file does
// not exist yet. A corrupt file is discarded rather than aborting the run.
func NewCache(path string) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[string]CacheEntry)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, eris.Wrap(err, "geocode: read cache")
	}
	if err := json.Unmarshal(raw, &c.entries); err != nil {
		zap.L().Warn("discarding corrupt geocode cache", zap.String("path", path), zap.Error(err))
		c.entries = make(map[string]CacheEntry)
	}
	return c, nil
}

func cacheKey(provider string, q Query) string {
	return provider + "|" + q.Key()
}

// Get returns the cached outcome for a provider/query pair.
func (c *Cache) Get(provider string, q Query) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(provider, q)]
	return e, ok
}

// Put records an outcome. Transient outcomes are not stored: a timeout today
// says nothing about what the provider will answer tomorrow.
func (c *Cache) Put(provider string, q Query, res Result) {
	if res.Kind == KindTransient {
		return
	}
	e := CacheEntry{Kind: res.Kind, Provider: provider}
	if res.Kind == KindMatch {
		e.Lon, e.Lat = res.Lon, res.Lat
	}

	c.mu.Lock()
	c.entries[cacheKey(provider, q)] = e
	c.pending++
	flush := c.pending >= cacheFlushEvery
	if flush {
		c.pending = 0
	}
	c.mu.Unlock()

	if flush {
		if err := c.Flush(); err != nil {
			zap.L().Warn("geocode cache flush failed", zap.Error(err))
		}
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Flush writes the cache to disk. The snapshot is taken under the lock but
// marshaling and IO happen outside it, and the file is replaced atomically
// so a crash mid-write never corrupts the previous copy.
func (c *Cache) Flush() error {
	c.mu.Lock()
	snapshot := make(map[string]CacheEntry, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.pending = 0
	c.mu.Unlock()

	raw, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return eris.Wrap(err, "geocode: marshal cache")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return eris.Wrap(err, "geocode: cache dir")
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return eris.Wrap(err, "geocode: write cache")
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return eris.Wrap(err, "geocode: replace cache")
	}
	return nil
}
