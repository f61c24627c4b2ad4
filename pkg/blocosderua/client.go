// Package blocosderua fetches carnival block listings from blocosderua.com.
// Listing pages are paginated HTML; event detail pages embed their data in a
// schema.org Event JSON-LD block.
package blocosderua

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"

	"github.com/carnamapa/carnamapa/internal/resilience"
)

// BaseURL is the production site root.
const BaseURL = "https://www.blocosderua.com"

var (
	// Listing cards: <a class="card-programacao" href="/programacao/...">.
	reCardLink = regexp.MustCompile(`(?is)<a[^>]+class="[^"]*card-programacao[^"]*"[^>]*href="([^"]+)"|<a[^>]+href="([^"]+)"[^>]*class="[^"]*card-programacao[^"]*"`)
	// Pagination emits a "Próximos" link while more pages exist.
	reNextLink = regexp.MustCompile(`(?is)<a[^>]*>[^<]*Pr[óo]ximos[^<]*</a>`)
	// JSON-LD payload on event detail pages.
	reJSONLD = regexp.MustCompile(`(?is)<script[^>]+type="application/ld\+json"[^>]*>(.*?)</script>`)
	// Event IDs are the final path segment of detail URLs.
	reEventID = regexp.MustCompile(`/programacao/([^/]+)/?$`)
)

// Listing is one page of a city's event listing.
type Listing struct {
	EventURLs []string
	HasNext   bool
}

// SchemaEvent is the subset of the schema.org Event JSON-LD the site embeds.
type SchemaEvent struct {
	Name        string          `json:"name"`
	StartDate   string          `json:"startDate"`
	Description string          `json:"description"`
	Location    SchemaLocation  `json:"location"`
	Offers      json.RawMessage `json:"offers"`
}

// SchemaLocation carries the venue address.
type SchemaLocation struct {
	Address SchemaAddress `json:"address"`
}

// SchemaAddress is the postal address block. AddressRegion holds the
// neighborhood on this site, not the state.
type SchemaAddress struct {
	StreetAddress string `json:"streetAddress"`
	AddressRegion string `json:"addressRegion"`
}

type schemaOffer struct {
	Price json.Number `json:"price"`
}

// Price returns the offer price in reais. ok is false when the event has no
// parseable offer, which the site uses for free blocks.
func (e *SchemaEvent) Price() (float64, bool) {
	if len(e.Offers) == 0 {
		return 0, false
	}
	var offer schemaOffer
	if err := json.Unmarshal(e.Offers, &offer); err != nil {
		return 0, false
	}
	if offer.Price == "" {
		return 0, false
	}
	p, err := offer.Price.Float64()
	if err != nil {
		return 0, false
	}
	return p, true
}

// EventPage is a fetched event detail page.
type EventPage struct {
	URL    string
	ID     string
	Schema *SchemaEvent // nil when the page has no JSON-LD block
	HTML   string
}

// Client talks to blocosderua.com.
type Client struct {
	http    *resty.Client
	baseURL string
	retry   resilience.RetryConfig
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL points the client at a different site root, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
		c.http.SetBaseURL(c.baseURL)
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// New creates a site client identifying itself with userAgent.
func New(userAgent string, opts ...Option) *Client {
	c := &Client{
		baseURL: BaseURL,
		retry:   resilience.DefaultRetryConfig(),
	}
	c.http = resty.New().
		SetBaseURL(c.baseURL).
		SetHeader("User-Agent", userAgent).
		SetTimeout(30 * time.Second)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListingPage fetches page n (1-based) of a city listing. The first page
// lives at the listing path itself; later pages append /page/N/.
func (c *Client) ListingPage(ctx context.Context, listingPath string, page int) (*Listing, error) {
	path := listingPath
	if page > 1 {
		path = fmt.Sprintf("%s/page/%d/", strings.TrimRight(listingPath, "/"), page)
	}

	html, err := c.fetch(ctx, path)
	if err != nil {
		return nil, eris.Wrapf(err, "blocosderua: listing page %d", page)
	}

	listing := &Listing{HasNext: reNextLink.MatchString(html)}
	for _, m := range reCardLink.FindAllStringSubmatch(html, -1) {
		href := m[1]
		if href == "" {
			href = m[2]
		}
		if strings.HasPrefix(href, "/") {
			href = c.baseURL + href
		}
		listing.EventURLs = append(listing.EventURLs, href)
	}
	return listing, nil
}

// EventPage fetches one event detail page and extracts its JSON-LD payload.
func (c *Client) EventPage(ctx context.Context, eventURL string) (*EventPage, error) {
	html, err := c.fetch(ctx, eventURL)
	if err != nil {
		return nil, eris.Wrap(err, "blocosderua: event page")
	}

	page := &EventPage{URL: eventURL, ID: ExtractEventID(eventURL), HTML: html}
	if m := reJSONLD.FindStringSubmatch(html); m != nil {
		var schema SchemaEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &schema); err != nil {
			return nil, eris.Wrap(err, "blocosderua: parse json-ld")
		}
		page.Schema = &schema
	}
	return page, nil
}

func (c *Client) fetch(ctx context.Context, pathOrURL string) (string, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (string, error) {
		resp, err := c.http.R().SetContext(ctx).Get(pathOrURL)
		if err != nil {
			return "", resilience.Transient(eris.Wrap(err, "blocosderua: request"))
		}
		if resp.IsError() {
			err := eris.Errorf("blocosderua: status %d for %s", resp.StatusCode(), pathOrURL)
			if resilience.RetryableStatus(resp.StatusCode()) {
				return "", resilience.Transient(err)
			}
			return "", err
		}
		return resp.String(), nil
	})
}

// ExtractEventID pulls the block identifier out of a detail URL. Returns ""
// when the URL is not an event page.
func ExtractEventID(eventURL string) string {
	if m := reEventID.FindStringSubmatch(eventURL); m != nil {
		return m[1]
	}
	return ""
}
