// Package model holds the carnival event records and the GeoJSON shapes they
// are persisted in.
package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	geom "github.com/twpayne/go-geom"
)

// collectionSource identifies where the records were scraped from.
const collectionSource = "blocosderua.com"

// Event is one street-carnival block listing. Location is nil until
// geocoding resolves it; such records are persisted with a null-coordinate
// Point geometry so later runs can pick them up again.
type Event struct {
	ID             string
	Name           string
	Date           string // YYYY-MM-DD
	Time           string // HH:MM
	DateTime       string // ISO 8601 with UTC offset
	City           string
	Neighborhood   string
	Address        string
	Price          *float64
	PriceFormatted string
	IsFree         bool
	Description    string
	SourceURL      string
	NeedsGeocoding bool
	GeocodingQuery string
	Location       *geom.Point
}

// HasCoordinates reports whether the event has been resolved to a point.
func (e *Event) HasCoordinates() bool { return e.Location != nil }

// SetCoordinates marks the event as resolved at lon/lat.
func (e *Event) SetCoordinates(lon, lat float64) {
	e.Location = geom.NewPointFlat(geom.XY, []float64{lon, lat})
	e.NeedsGeocoding = false
	e.GeocodingQuery = ""
}

// MarkUnresolved flags the event for a later geocoding pass, remembering the
// query that should be retried.
func (e *Event) MarkUnresolved(query string) {
	e.Location = nil
	e.NeedsGeocoding = true
	e.GeocodingQuery = query
}

type featureJSON struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Geometry   geometryJSON   `json:"geometry"`
	Properties propertiesJSON `json:"properties"`
}

// geometryJSON always carries type Point; coordinates are null for
// unresolved records, which is what downstream consumers key on.
type geometryJSON struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type propertiesJSON struct {
	Name           string   `json:"name"`
	Date           *string  `json:"date"`
	Time           *string  `json:"time"`
	DateTime       *string  `json:"datetime"`
	City           string   `json:"city"`
	Neighborhood   string   `json:"neighborhood"`
	Address        *string  `json:"address"`
	Price          *float64 `json:"price"`
	PriceFormatted *string  `json:"price_formatted"`
	IsFree         bool     `json:"is_free"`
	Description    *string  `json:"description"`
	SourceURL      string   `json:"source_url"`
	NeedsGeocoding bool     `json:"needs_geocoding"`
	GeocodingQuery *string  `json:"geocoding_query"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// MarshalJSON encodes the event as a GeoJSON Feature.
func (e *Event) MarshalJSON() ([]byte, error) {
	f := featureJSON{
		Type: "Feature",
		ID:   e.ID,
		Geometry: geometryJSON{
			Type: "Point",
		},
		Properties: propertiesJSON{
			Name:           e.Name,
			Date:           nullable(e.Date),
			Time:           nullable(e.Time),
			DateTime:       nullable(e.DateTime),
			City:           e.City,
			Neighborhood:   e.Neighborhood,
			Address:        nullable(e.Address),
			Price:          e.Price,
			PriceFormatted: nullable(e.PriceFormatted),
			IsFree:         e.IsFree,
			Description:    nullable(e.Description),
			SourceURL:      e.SourceURL,
			NeedsGeocoding: e.NeedsGeocoding,
			GeocodingQuery: nullable(e.GeocodingQuery),
		},
	}
	if e.Location != nil {
		f.Geometry.Coordinates = []float64{e.Location.X(), e.Location.Y()}
	}
	return json.Marshal(f)
}

// UnmarshalJSON decodes a GeoJSON Feature back into an event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var f featureJSON
	if err := json.Unmarshal(data, &f); err != nil {
		return eris.Wrap(err, "model: decode feature")
	}
	*e = Event{
		ID:             f.ID,
		Name:           f.Properties.Name,
		Date:           deref(f.Properties.Date),
		Time:           deref(f.Properties.Time),
		DateTime:       deref(f.Properties.DateTime),
		City:           f.Properties.City,
		Neighborhood:   f.Properties.Neighborhood,
		Address:        deref(f.Properties.Address),
		Price:          f.Properties.Price,
		PriceFormatted: deref(f.Properties.PriceFormatted),
		IsFree:         f.Properties.IsFree,
		Description:    deref(f.Properties.Description),
		SourceURL:      f.Properties.SourceURL,
		NeedsGeocoding: f.Properties.NeedsGeocoding,
		GeocodingQuery: deref(f.Properties.GeocodingQuery),
	}
	if len(f.Geometry.Coordinates) == 2 {
		e.Location = geom.NewPointFlat(geom.XY, []float64{f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]})
	}
	return nil
}

// Collection is the per-city GeoJSON FeatureCollection written to disk.
type Collection struct {
	Type     string             `json:"type"`
	Metadata CollectionMetadata `json:"metadata"`
	Features []*Event           `json:"features"`
}

// CollectionMetadata describes the collection for downstream consumers.
type CollectionMetadata struct {
	City        string `json:"city"`
	CitySlug    string `json:"city_slug"`
	GeneratedAt string `json:"generated_at"`
	TotalBlocks int    `json:"total_blocks"`
	Source      string `json:"source"`
}

// NewCollection assembles a FeatureCollection for one city.
func NewCollection(cityName, citySlug string, events []*Event) *Collection {
	return &Collection{
		Type: "FeatureCollection",
		Metadata: CollectionMetadata{
			City:        cityName,
			CitySlug:    citySlug,
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
			TotalBlocks: len(events),
			Source:      collectionSource,
		},
		Features: events,
	}
}
