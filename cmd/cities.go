package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carnamapa/carnamapa/internal/config"
)

var citiesCmd = &cobra.Command{
	Use:   "cities",
	Short: "List the configured cities",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := config.LoadCities(cfg.Site.CitiesFile)
		if err != nil {
			return err
		}
		for _, c := range registry.All() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", c.Slug, c.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(citiesCmd)
}
