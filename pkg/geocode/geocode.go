// Package geocode resolves Brazilian street addresses to coordinates via
// Nominatim (free, rate-limited) with Google Geocoding as a paid fallback.
package geocode

import (
	"context"
	"time"

	geom "github.com/twpayne/go-geom"
)

// Variant tags which form of the address a query carries.
type Variant string

const (
	// VariantFull is the normalized full street address.
	VariantFull Variant = "full-address"
	// VariantSimplified collapses the address to neighborhood + city + country.
	VariantSimplified Variant = "simplified"
)

// Query is a single geocodable address string with its variant tag.
type Query struct {
	Text    string
	Variant Variant
}

// Kind classifies a geocoding outcome so callers branch on it instead of
// inspecting errors.
type Kind string

const (
	// KindMatch is a successful, bounds-valid resolution.
	KindMatch Kind = "match"
	// KindNoMatch means the provider answered but found nothing usable.
	KindNoMatch Kind = "no_match"
	// KindTransient is a timeout, 5xx or rate-limit rejection; safe to retry.
	KindTransient Kind = "transient"
	// KindPermanent is a rejected query or exhausted quota; escalate instead
	// of retrying.
	KindPermanent Kind = "permanent"
)

// Result is the outcome of one provider attempt for one query.
type Result struct {
	Kind     Kind
	Lon      float64
	Lat      float64
	Provider string
	Detail   string
	At       time.Time
}

// Matched reports whether the result carries usable coordinates.
func (r Result) Matched() bool { return r.Kind == KindMatch }

// Failed reports whether the attempt is exhausted for fallback purposes.
// Transient results are not final: the caller may retry them.
func (r Result) Failed() bool { return r.Kind == KindNoMatch || r.Kind == KindPermanent }

// Provider is a single geocoding backend.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, q Query) Result
}

// brazilBounds is the accepted coordinate envelope. Provider matches outside
// it are downgraded to no-match.
var brazilBounds = geom.NewBounds(geom.XY).Set(-73.99, -33.77, -32.39, 5.27)

// ValidCoordinates reports whether lon/lat fall inside Brazil's envelope.
func ValidCoordinates(lon, lat float64) bool {
	return brazilBounds.OverlapsPoint(geom.XY, geom.Coord{lon, lat})
}
