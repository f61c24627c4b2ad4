// Package store persists per-city GeoJSON FeatureCollections and answers
// which events are already resolved.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/carnamapa/carnamapa/internal/model"
)

// Store reads and writes the output directory. One file per city slug.
type Store struct {
	dir string
}

// New creates a store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the output file for a city slug.
func (s *Store) Path(slug string) string {
	return filepath.Join(s.dir, slug+".json")
}

// Load reads a city's collection. A missing file returns (nil, nil).
func (s *Store) Load(slug string) (*model.Collection, error) {
	raw, err := os.ReadFile(s.Path(slug))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: read %s", slug)
	}
	var col model.Collection
	if err := json.Unmarshal(raw, &col); err != nil {
		return nil, eris.Wrapf(err, "store: decode %s", slug)
	}
	return &col, nil
}

// ResolvedIDs returns the event IDs that already carry coordinates, so the
// scraper can skip their detail pages. Missing or unreadable files yield an
// empty set; a broken output file should never block a fresh scrape.
func (s *Store) ResolvedIDs(slug string) map[string]struct{} {
	ids := make(map[string]struct{})
	col, err := s.Load(slug)
	if err != nil {
		zap.L().Warn("ignoring unreadable city file", zap.String("slug", slug), zap.Error(err))
		return ids
	}
	if col == nil {
		return ids
	}
	for _, e := range col.Features {
		if e.HasCoordinates() {
			ids[e.ID] = struct{}{}
		}
	}
	return ids
}

// Save writes a city's collection atomically: temp file then rename, so a
// crash mid-write leaves the previous file intact.
func (s *Store) Save(cityName, slug string, events []*model.Event) error {
	col := model.NewCollection(cityName, slug, events)
	raw, err := json.MarshalIndent(col, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "store: marshal %s", slug)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return eris.Wrap(err, "store: output dir")
	}
	tmp := s.Path(slug) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return eris.Wrapf(err, "store: write %s", slug)
	}
	if err := os.Rename(tmp, s.Path(slug)); err != nil {
		return eris.Wrapf(err, "store: replace %s", slug)
	}
	return nil
}

// Merge folds freshly scraped events into the city's existing records and
// saves the result. Existing records keep their position; an incoming event
// with a known ID replaces the old record, new IDs append. The merged slice
// is returned in saved order.
func (s *Store) Merge(cityName, slug string, events []*model.Event) ([]*model.Event, error) {
	existing, err := s.Load(slug)
	if err != nil {
		return nil, err
	}

	var merged []*model.Event
	index := make(map[string]int)
	if existing != nil {
		for _, e := range existing.Features {
			index[e.ID] = len(merged)
			merged = append(merged, e)
		}
	}
	for _, e := range events {
		if i, ok := index[e.ID]; ok {
			merged[i] = e
			continue
		}
		index[e.ID] = len(merged)
		merged = append(merged, e)
	}

	if err := s.Save(cityName, slug, merged); err != nil {
		return nil, err
	}
	return merged, nil
}
