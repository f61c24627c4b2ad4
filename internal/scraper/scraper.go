// Package scraper walks a city's paginated listing on blocosderua.com and
// fetches its event detail pages concurrently.
package scraper

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/carnamapa/carnamapa/internal/model"
	"github.com/carnamapa/carnamapa/pkg/blocosderua"
)

const (
	// defaultWorkers bounds concurrent detail-page fetches per city.
	defaultWorkers = 5
	// maxPages is a safety stop against a pagination loop that never ends.
	maxPages = 100
)

// Stats counts what one city scrape did.
type Stats struct {
	Pages   int
	Found   int
	Skipped int
	Scraped int
	Errors  int
}

// CityScraper scrapes one city. Detail pages that fail to fetch or parse are
// counted and skipped so one broken page never sinks the city.
type CityScraper struct {
	client      *blocosderua.Client
	cityName    string
	citySlug    string
	listingPath string
	workers     int
	skip        func(id string) bool
}

// Option configures a CityScraper.
type Option func(*CityScraper)

// WithWorkers sets the number of concurrent detail-page fetches.
func WithWorkers(n int) Option {
	return func(s *CityScraper) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithSkipFunc installs a predicate for event IDs that are already resolved
// and need no re-scrape.
func WithSkipFunc(fn func(id string) bool) Option {
	return func(s *CityScraper) {
		s.skip = fn
	}
}

// New creates a scraper for one city's listing.
func New(client *blocosderua.Client, cityName, citySlug, listingPath string, opts ...Option) *CityScraper {
	s := &CityScraper{
		client:      client,
		cityName:    cityName,
		citySlug:    citySlug,
		listingPath: listingPath,
		workers:     defaultWorkers,
		skip:        func(string) bool { return false },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrape walks the listing and returns the events that needed scraping.
// A failure on the first listing page fails the city; later listing pages
// failing truncate pagination but keep what was already collected.
func (s *CityScraper) Scrape(ctx context.Context) ([]*model.Event, Stats, error) {
	log := zap.L().With(zap.String("city", s.citySlug))
	var stats Stats

	urls, pages, err := s.collectEventURLs(ctx, log)
	stats.Pages = pages
	stats.Found = len(urls)
	if err != nil {
		return nil, stats, err
	}

	var toScrape []string
	for _, u := range urls {
		if id := blocosderua.ExtractEventID(u); id != "" && s.skip(id) {
			stats.Skipped++
			continue
		}
		toScrape = append(toScrape, u)
	}
	if stats.Skipped > 0 {
		log.Info("skipping already-resolved events", zap.Int("skipped", stats.Skipped))
	}
	if len(toScrape) == 0 {
		return nil, stats, nil
	}

	var (
		mu     sync.Mutex
		events []*model.Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, u := range toScrape {
		g.Go(func() error {
			page, err := s.client.EventPage(gctx, u)
			if err == nil {
				var convErr error
				var e *model.Event
				e, convErr = eventFromPage(page, s.cityName)
				if convErr != nil {
					err = convErr
				} else {
					mu.Lock()
					events = append(events, e)
					stats.Scraped++
					mu.Unlock()
					return nil
				}
			}
			log.Warn("event page failed", zap.String("url", u), zap.Error(err))
			mu.Lock()
			stats.Errors++
			mu.Unlock()
			// Collect partial results instead of failing the city.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return events, stats, eris.Wrap(err, "scraper: event fan-out")
	}

	log.Info("city scrape complete",
		zap.Int("found", stats.Found),
		zap.Int("scraped", stats.Scraped),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
	)
	return events, stats, nil
}

func (s *CityScraper) collectEventURLs(ctx context.Context, log *zap.Logger) ([]string, int, error) {
	var urls []string
	pages := 0
	for page := 1; page <= maxPages; page++ {
		listing, err := s.client.ListingPage(ctx, s.listingPath, page)
		if err != nil {
			if page == 1 {
				return nil, pages, eris.Wrapf(err, "scraper: listing for %s", s.citySlug)
			}
			log.Warn("listing page failed, stopping pagination",
				zap.Int("page", page), zap.Error(err))
			break
		}
		pages++
		if len(listing.EventURLs) == 0 {
			break
		}
		urls = append(urls, listing.EventURLs...)
		log.Debug("listing page scanned",
			zap.Int("page", page), zap.Int("events", len(listing.EventURLs)))
		if !listing.HasNext {
			break
		}
	}
	return urls, pages, nil
}
