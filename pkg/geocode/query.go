package geocode

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Queries holds the two fallback query variants derived from one event.
type Queries struct {
	Primary    Query
	Simplified Query
}

var (
	reParens     = regexp.MustCompile(`\([^)]*\)`)
	reZipCode    = regexp.MustCompile(`\b\d{5}[-\s]?\d{3}\b`)
	reZipCompact = regexp.MustCompile(`\b\d{8}\b`)
	reBrasil     = regexp.MustCompile(`(?i),?\s*Brasil\s*$`)
	reNoNumber   = regexp.MustCompile(`(?i)\b(s/n|s\.n\.?|sem\s+n[úu]mero)\b`)
	reCentroHist = regexp.MustCompile(`(?i)\bCentro\s+Hist[óo]rico\b`)
	reStateCode  = regexp.MustCompile(`,\s*[A-Z]{2}\s*(,|$)`)
	reNoise      = regexp.MustCompile(`(?i)\b(pr[óo]ximo|perto|ao lado|em frente|esquina)\s+(de?|ao?|da?|do?)?\s*`)
	reDupComma   = regexp.MustCompile(`,\s*,`)
	reSpaces     = regexp.MustCompile(`\s+`)
	reTailComma  = regexp.MustCompile(`,\s*$`)
	reHeadComma  = regexp.MustCompile(`^\s*,`)
)

// NormalizeAddress cleans a raw Brazilian street address for geocoding:
// parenthetical notes, postal codes, "no number" markers, state codes and
// locational noise words are stripped.
func NormalizeAddress(address string) string {
	s := reParens.ReplaceAllString(address, "")
	s = reZipCode.ReplaceAllString(s, "")
	s = reZipCompact.ReplaceAllString(s, "")
	s = reBrasil.ReplaceAllString(s, "")
	s = reNoNumber.ReplaceAllString(s, "")
	// "Centro Histórico" geocodes worse than plain "Centro".
	s = reCentroHist.ReplaceAllString(s, "Centro")
	s = reStateCode.ReplaceAllString(s, "$1")
	s = reNoise.ReplaceAllString(s, "")
	s = reDupComma.ReplaceAllString(s, ",")
	s = reSpaces.ReplaceAllString(s, " ")
	s = reTailComma.ReplaceAllString(s, "")
	s = reHeadComma.ReplaceAllString(s, "")
	return strings.Trim(strings.TrimSpace(s), ",")
}

// BuildQueries derives the fallback query pair for an event location.
// The primary query uses the full street address when present, otherwise
// neighborhood + city; the simplified query always collapses to
// "neighborhood, city, Brazil".
func BuildQueries(address, neighborhood, city string) Queries {
	simplified := joinParts(neighborhood, city, "Brazil")

	primary := simplified
	if normalized := NormalizeAddress(address); normalized != "" {
		primary = joinParts(normalized, city, "Brazil")
	}

	return Queries{
		Primary:    Query{Text: primary, Variant: VariantFull},
		Simplified: Query{Text: simplified, Variant: VariantSimplified},
	}
}

func joinParts(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}

// foldAccents strips combining marks, so "São Paulo" and "Sao Paulo" share
// one cache key.
var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Key returns the canonical cache-key form of the query text: lowercase,
// accent-folded, whitespace-collapsed.
func (q Query) Key() string {
	folded, _, err := transform.String(foldAccents, q.Text)
	if err != nil {
		folded = q.Text
	}
	folded = strings.ToLower(strings.TrimSpace(folded))
	return reSpaces.ReplaceAllString(folded, " ")
}
