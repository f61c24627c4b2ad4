package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carnamapa/carnamapa/internal/config"
	"github.com/carnamapa/carnamapa/internal/pipeline"
)

var (
	scrapeDryRun         bool
	scrapeForceRefresh   bool
	scrapeGeocodeWorkers int
	scrapePaidConc       int64
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [city-slug...]",
	Short: "Scrape and geocode carnival blocks",
	Long:  "Scrapes the listed cities (all cities when none are given), geocodes new events and merges them into the per-city output files.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("geocode-workers") {
			cfg.Geocode.Workers = scrapeGeocodeWorkers
		}
		if cmd.Flags().Changed("paid-concurrency") {
			cfg.Geocode.PaidConcurrency = scrapePaidConc
		}

		cities, err := selectCities(args)
		if err != nil {
			return err
		}

		p, err := pipeline.New(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := p.Close(); err != nil {
				zap.L().Warn("closing pipeline", zap.Error(err))
			}
		}()

		report, err := p.Run(ctx, pipeline.Options{
			Cities:       cities,
			DryRun:       scrapeDryRun,
			ForceRefresh: scrapeForceRefresh,
		})
		if err != nil {
			return eris.Wrap(err, "scrape run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return eris.Wrap(err, "encode report")
		}
		if report.Totals.Failures > 0 {
			return eris.Errorf("%d of %d cities failed", report.Totals.Failures, report.Totals.Cities)
		}
		return nil
	},
}

// selectCities resolves slug arguments against the configured registry.
func selectCities(slugs []string) ([]config.City, error) {
	registry, err := config.LoadCities(cfg.Site.CitiesFile)
	if err != nil {
		return nil, err
	}
	return registry.Select(slugs)
}

func init() {
	scrapeCmd.Flags().BoolVar(&scrapeDryRun, "dry-run", false, "scrape and geocode without writing output files")
	scrapeCmd.Flags().BoolVar(&scrapeForceRefresh, "force-refresh", false, "re-scrape events that already have coordinates")
	scrapeCmd.Flags().IntVar(&scrapeGeocodeWorkers, "geocode-workers", 0, "concurrent geocoding lookups across all cities")
	scrapeCmd.Flags().Int64Var(&scrapePaidConc, "paid-concurrency", 0, "concurrent requests to the paid geocoder")
	rootCmd.AddCommand(scrapeCmd)
}
