package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carnamapa/carnamapa/internal/pipeline"
)

var retryDryRun bool

var retryCmd = &cobra.Command{
	Use:   "retry [city-slug...]",
	Short: "Retry geocoding for unresolved records",
	Long:  "Re-reads the per-city output files and retries records whose coordinates are still null, going straight to the paid geocoder.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

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

		report, err := p.RetryFailed(ctx, pipeline.Options{
			Cities: cities,
			DryRun: retryDryRun,
		})
		if err != nil {
			return eris.Wrap(err, "retry run")
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

func init() {
	retryCmd.Flags().BoolVar(&retryDryRun, "dry-run", false, "retry geocoding without writing output files")
	rootCmd.AddCommand(retryCmd)
}
