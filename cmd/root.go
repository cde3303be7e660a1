package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reachmaps/reach-cli/internal/config"
)

var cfg *config.Config

var flagMode string

var rootCmd = &cobra.Command{
	Use:   "reach-cli",
	Short: "Travel-time map pipeline",
	Long:  "Geocodes center and point-of-interest files, fetches drive-time isochrones from a routing service, and persists them to a flat-file tree or a PostGIS database.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if flagMode != "" {
			cfg.Store.Mode = flagMode
		}

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagMode, "mode", "",
		"persistence mode: use-local or use-db (default from config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
