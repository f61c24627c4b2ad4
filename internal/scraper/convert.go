package scraper

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/carnamapa/carnamapa/internal/model"
	"github.com/carnamapa/carnamapa/pkg/blocosderua"
)

// defaultNeighborhood is used when the page names none. Carnival listings
// without a neighborhood are almost always downtown blocks.
const defaultNeighborhood = "Centro"

// eventFromPage converts a fetched detail page into an event record. The
// JSON-LD payload is preferred; pages without one fall back to scraping the
// raw HTML for a title, date and time.
func eventFromPage(page *blocosderua.EventPage, cityName string) (*model.Event, error) {
	if page.ID == "" {
		return nil, eris.Errorf("scraper: no event id in url %s", page.URL)
	}

	e := &model.Event{
		ID:        page.ID,
		City:      cityName,
		SourceURL: page.URL,
	}

	if page.Schema != nil {
		fromSchema(e, page.Schema)
	} else if err := fromHTML(e, page.HTML); err != nil {
		return nil, err
	}

	if e.Name == "" || e.Date == "" {
		return nil, eris.Errorf("scraper: event %s missing name or date", page.ID)
	}

	query := e.Address
	if query == "" {
		query = e.Neighborhood
	}
	e.MarkUnresolved(query)
	return e, nil
}

func fromSchema(e *model.Event, s *blocosderua.SchemaEvent) {
	e.Name = strings.TrimSpace(s.Name)
	e.Date, e.Time = splitStartDate(s.StartDate)
	if s.StartDate != "" {
		e.DateTime = s.StartDate
	}

	e.Neighborhood = s.Location.Address.AddressRegion
	if e.Neighborhood == "" {
		e.Neighborhood = defaultNeighborhood
	}
	e.Address = s.Location.Address.StreetAddress

	if price, ok := s.Price(); ok && price > 0 {
		p := price
		e.Price = &p
		e.PriceFormatted = formatPrice(price)
		e.IsFree = false
	} else {
		e.PriceFormatted = "Gratuito"
		e.IsFree = true
	}

	if desc := strings.TrimSpace(s.Description); desc != "" {
		e.Description = truncateDescription(desc)
	}
}

func fromHTML(e *model.Event, html string) error {
	e.Name = htmlTitle(html)
	if e.Name == "" {
		return eris.Errorf("scraper: no title on page %s", e.SourceURL)
	}

	e.Date = fallbackDate(html)
	if e.Date == "" {
		return eris.Errorf("scraper: no date on page %s", e.SourceURL)
	}
	e.Time = fallbackTime(html)
	if e.Time == "" {
		e.Time = "00:00"
	}
	e.DateTime = datetimeISO(e.Date, e.Time)

	e.Neighborhood = defaultNeighborhood
	e.IsFree = true
	lower := strings.ToLower(html)
	if strings.Contains(lower, "gratuito") || strings.Contains(lower, "grátis") {
		e.PriceFormatted = "Gratuito"
	}
	return nil
}
