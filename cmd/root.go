package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carnamapa/carnamapa/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "carnamapa",
	Short: "Carnival street-block scraper and geocoder",
	Long:  "Scrapes carnival block listings from blocosderua.com, geocodes them through Nominatim with a paid Google fallback, and writes per-city GeoJSON files.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
