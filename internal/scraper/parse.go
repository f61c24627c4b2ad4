package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// brtOffset is the timezone suffix for event datetimes. Carnival cities all
// observe BRT.
const brtOffset = "-03:00"

const maxDescriptionLen = 500

var (
	reH1       = regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`)
	reTag      = regexp.MustCompile(`<[^>]+>`)
	reFallDate = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`)
	reFallTime = regexp.MustCompile(`\d{1,2}:\d{2}`)
)

// splitStartDate breaks a schema.org startDate like "2026-03-14T20:00-03:00"
// into its date and HH:MM parts.
func splitStartDate(startDate string) (date, tm string) {
	if startDate == "" {
		return "", ""
	}
	parts := strings.SplitN(startDate, "T", 2)
	date = parts[0]
	if len(parts) == 2 && len(parts[1]) >= 5 {
		tm = parts[1][:5]
	}
	return date, tm
}

// datetimeISO assembles the ISO 8601 datetime stored on each event.
func datetimeISO(date, tm string) string {
	if date == "" || tm == "" {
		return ""
	}
	return date + "T" + tm + ":00" + brtOffset
}

// formatPrice renders a price in the Brazilian convention: "R$ 140,00".
func formatPrice(price float64) string {
	return strings.Replace(fmt.Sprintf("R$ %.2f", price), ".", ",", 1)
}

// truncateDescription caps long descriptions, cutting on runes so multi-byte
// Portuguese characters survive.
func truncateDescription(s string) string {
	r := []rune(s)
	if len(r) <= maxDescriptionLen {
		return s
	}
	return string(r[:maxDescriptionLen-3]) + "..."
}

// htmlTitle extracts the first h1 text from a page, tags stripped.
func htmlTitle(html string) string {
	m := reH1.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(reTag.ReplaceAllString(m[1], ""))
}

// fallbackDate finds a DD/MM/YYYY date in page text and converts it to ISO.
func fallbackDate(html string) string {
	m := reFallDate.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	return fmt.Sprintf("%s-%02d-%02d", m[3], month, day)
}

// fallbackTime finds the first HH:MM occurrence in page text.
func fallbackTime(html string) string {
	return reFallTime.FindString(html)
}
