// Package pipeline orchestrates a run: scrape each city, geocode what came
// back, merge into the per-city output files and write a run report.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/carnamapa/carnamapa/internal/config"
	"github.com/carnamapa/carnamapa/internal/model"
	"github.com/carnamapa/carnamapa/internal/scraper"
	"github.com/carnamapa/carnamapa/internal/store"
	"github.com/carnamapa/carnamapa/pkg/blocosderua"
	"github.com/carnamapa/carnamapa/pkg/geocode"
)

// Options selects what a run covers.
type Options struct {
	Cities []config.City
	// DryRun scrapes and geocodes but writes no output files.
	DryRun bool
	// ForceRefresh re-scrapes events that are already resolved.
	ForceRefresh bool
}

// Pipeline wires the site client, the geocoding chain and the output store.
type Pipeline struct {
	site         *blocosderua.Client
	chain        *geocode.Chain
	store        *store.Store
	reportPath   string
	eventWorkers int
	// geoSlots bounds geocoding concurrency across all cities.
	geoSlots *semaphore.Weighted
}

// New builds a pipeline from configuration.
func New(cfg *config.Config) (*Pipeline, error) {
	site := blocosderua.New(cfg.Site.UserAgent,
		blocosderua.WithBaseURL(cfg.Site.BaseURL),
		blocosderua.WithTimeout(cfg.Site.Timeout()),
	)

	cache, err := geocode.NewCache(cfg.Geocode.CachePath)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: geocode cache")
	}

	free := geocode.NewNominatim(cfg.Site.UserAgent,
		geocode.WithNominatimBaseURL(cfg.Geocode.NominatimBaseURL))
	freeGate := geocode.NewIntervalGate(cfg.Geocode.NominatimInterval())

	var paid geocode.Provider
	var paidGate geocode.Gate
	if cfg.Geocode.GoogleAPIKey != "" {
		paid = geocode.NewGoogle(cfg.Geocode.GoogleAPIKey,
			geocode.WithGoogleBaseURL(cfg.Geocode.GoogleBaseURL))
		paidGate = geocode.NewConcurrencyGate(cfg.Geocode.PaidConcurrency)
	} else {
		zap.L().Info("no google api key configured, running free tier only")
	}

	workers := cfg.Geocode.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pipeline{
		site:         site,
		chain:        geocode.NewChain(free, freeGate, paid, paidGate, cache),
		store:        store.New(cfg.Output.Dir),
		reportPath:   cfg.Output.ReportPath,
		eventWorkers: cfg.Scrape.EventWorkers,
		geoSlots:     semaphore.NewWeighted(int64(workers)),
	}, nil
}

// Close flushes the geocode cache.
func (p *Pipeline) Close() error {
	return p.chain.Close()
}

// Run scrapes and geocodes the selected cities. Cities run concurrently and
// fail independently; the error return covers only infrastructure faults
// like context cancellation.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*model.RunReport, error) {
	report := model.NewRunReport("scrape")
	report.DryRun = opts.DryRun

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, city := range opts.Cities {
		g.Go(func() error {
			stats := p.runCity(gctx, city, opts)
			mu.Lock()
			report.Add(stats)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, eris.Wrap(err, "pipeline: run")
	}

	report.Finish(p.chain.Stats())
	if err := p.writeReport(report, opts.DryRun); err != nil {
		return report, err
	}
	return report, ctx.Err()
}

func (p *Pipeline) runCity(ctx context.Context, city config.City, opts Options) model.CityRunStats {
	start := time.Now()
	log := zap.L().With(zap.String("city", city.Slug))
	stats := model.CityRunStats{City: city.Name, Slug: city.Slug}

	skip := func(string) bool { return false }
	if !opts.ForceRefresh {
		resolved := p.store.ResolvedIDs(city.Slug)
		skip = func(id string) bool {
			_, ok := resolved[id]
			return ok
		}
	}

	s := scraper.New(p.site, city.Name, city.Slug, city.ListingPath,
		scraper.WithWorkers(p.eventWorkers),
		scraper.WithSkipFunc(skip),
	)
	events, sstats, err := s.Scrape(ctx)
	stats.Pages = sstats.Pages
	stats.Found = sstats.Found
	stats.Skipped = sstats.Skipped
	stats.New = sstats.Scraped
	stats.Errors = sstats.Errors
	if err != nil {
		log.Error("city scrape failed", zap.Error(err))
		stats.Error = err.Error()
		stats.Duration = time.Since(start)
		return stats
	}

	geocoded, unresolvedIDs := p.geocodeEvents(ctx, events, p.chain.Resolve)
	stats.Geocoded = geocoded
	stats.Unresolved = len(unresolvedIDs)
	stats.UnresolvedIDs = unresolvedIDs

	if opts.DryRun {
		log.Info("dry run, skipping output write", zap.Int("events", len(events)))
	} else if len(events) > 0 {
		if _, err := p.store.Merge(city.Name, city.Slug, events); err != nil {
			log.Error("saving city output failed", zap.Error(err))
			stats.Error = err.Error()
		}
	}

	stats.Duration = time.Since(start)
	return stats
}

// geocodeEvents resolves each event through the chain, bounded by the shared
// worker pool. Events that stay unresolved keep the query a later retry pass
// should attempt; their ids are returned for the run report.
func (p *Pipeline) geocodeEvents(ctx context.Context, events []*model.Event, resolve func(context.Context, geocode.Queries) geocode.Result) (geocoded int, unresolvedIDs []string) {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, e := range events {
		if e.HasCoordinates() {
			continue
		}
		if err := p.geoSlots.Acquire(ctx, 1); err != nil {
			mu.Lock()
			unresolvedIDs = append(unresolvedIDs, e.ID)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.geoSlots.Release(1)

			qs := geocode.BuildQueries(e.Address, e.Neighborhood, e.City)
			res := resolve(ctx, qs)

			mu.Lock()
			defer mu.Unlock()
			if res.Matched() {
				e.SetCoordinates(res.Lon, res.Lat)
				geocoded++
			} else {
				e.MarkUnresolved(qs.Simplified.Text)
				unresolvedIDs = append(unresolvedIDs, e.ID)
			}
		}()
	}
	wg.Wait()
	sort.Strings(unresolvedIDs)
	return geocoded, unresolvedIDs
}

// RetryFailed re-runs geocoding for records whose coordinates are still
// null, going straight to the paid tier since the free tier already failed
// them once.
func (p *Pipeline) RetryFailed(ctx context.Context, opts Options) (*model.RunReport, error) {
	report := model.NewRunReport("retry")
	report.DryRun = opts.DryRun

	for _, city := range opts.Cities {
		stats := p.retryCity(ctx, city, opts)
		report.Add(stats)
		if ctx.Err() != nil {
			break
		}
	}

	report.Finish(p.chain.Stats())
	if err := p.writeReport(report, opts.DryRun); err != nil {
		return report, err
	}
	return report, ctx.Err()
}

func (p *Pipeline) retryCity(ctx context.Context, city config.City, opts Options) model.CityRunStats {
	start := time.Now()
	log := zap.L().With(zap.String("city", city.Slug))
	stats := model.CityRunStats{City: city.Name, Slug: city.Slug}

	col, err := p.store.Load(city.Slug)
	if err != nil {
		stats.Error = err.Error()
		stats.Duration = time.Since(start)
		return stats
	}
	if col == nil {
		log.Info("no output file yet, nothing to retry")
		stats.Duration = time.Since(start)
		return stats
	}

	stats.Found = len(col.Features)
	var pending []*model.Event
	for _, e := range col.Features {
		if !e.HasCoordinates() {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		log.Info("all records already resolved")
		stats.Duration = time.Since(start)
		return stats
	}
	log.Info("retrying unresolved records", zap.Int("pending", len(pending)))

	geocoded, unresolvedIDs := p.geocodeEvents(ctx, pending, p.chain.ResolvePaid)
	stats.Geocoded = geocoded
	stats.Unresolved = len(unresolvedIDs)
	stats.UnresolvedIDs = unresolvedIDs

	if opts.DryRun {
		log.Info("dry run, skipping output write")
	} else if err := p.store.Save(city.Name, city.Slug, col.Features); err != nil {
		log.Error("saving city output failed", zap.Error(err))
		stats.Error = err.Error()
	}

	stats.Duration = time.Since(start)
	return stats
}
