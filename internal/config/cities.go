package config

import (
	_ "embed"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed cities.yaml
var defaultCitiesYAML []byte

// City is one scrapable city.
type City struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	ListingPath string `yaml:"listing_path"`
}

// CityRegistry maps slugs to cities.
type CityRegistry struct {
	cities map[string]City
	order  []string
}

type citiesFile struct {
	Cities []City `yaml:"cities"`
}

// LoadCities reads the registry from path, or the built-in registry when
// path is empty.
func LoadCities(path string) (*CityRegistry, error) {
	raw := defaultCitiesYAML
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "config: read cities file")
		}
	}

	var f citiesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrap(err, "config: parse cities file")
	}
	if len(f.Cities) == 0 {
		return nil, eris.New("config: cities file lists no cities")
	}

	r := &CityRegistry{cities: make(map[string]City, len(f.Cities))}
	for _, c := range f.Cities {
		if c.Slug == "" || c.Name == "" || c.ListingPath == "" {
			return nil, eris.Errorf("config: city %q missing slug, name or listing_path", c.Slug)
		}
		if _, dup := r.cities[c.Slug]; dup {
			return nil, eris.Errorf("config: duplicate city slug %q", c.Slug)
		}
		r.cities[c.Slug] = c
		r.order = append(r.order, c.Slug)
	}
	return r, nil
}

// Get looks up a city by slug.
func (r *CityRegistry) Get(slug string) (City, bool) {
	c, ok := r.cities[slug]
	return c, ok
}

// All returns cities in registry order.
func (r *CityRegistry) All() []City {
	out := make([]City, 0, len(r.order))
	for _, slug := range r.order {
		out = append(out, r.cities[slug])
	}
	return out
}

// Slugs returns all slugs sorted alphabetically.
func (r *CityRegistry) Slugs() []string {
	out := make([]string, 0, len(r.cities))
	for slug := range r.cities {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// Select resolves the requested slugs, or every city when none are given.
func (r *CityRegistry) Select(slugs []string) ([]City, error) {
	if len(slugs) == 0 {
		return r.All(), nil
	}
	out := make([]City, 0, len(slugs))
	for _, slug := range slugs {
		c, ok := r.Get(slug)
		if !ok {
			return nil, eris.Errorf("config: unknown city %q", slug)
		}
		out = append(out, c)
	}
	return out, nil
}
