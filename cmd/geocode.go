package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reachmaps/reach-cli/internal/model"
	"github.com/reachmaps/reach-cli/internal/pipeline"
	"github.com/reachmaps/reach-cli/internal/store"
	"github.com/reachmaps/reach-cli/pkg/geocode"
)

var (
	geocodeCenters   string
	geocodeLocations string
	geocodeDryRun    bool
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Resolve center and location files to coordinates",
	Long:  "Reads CSV files of places, resolves each row through the geocoding service, and writes the geocoded rows back to the store. Rows that already carry clean coordinates are skipped, so re-running only fills the gaps.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if geocodeCenters == "" && geocodeLocations == "" {
			return eris.New("at least one of --centers or --locations is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		pl := pipeline.New(pipeline.Params{
			Store:    st,
			Resolver: initGeocoder(),
			Mode:     cfg.Store.Mode,
			DryRun:   geocodeDryRun,
		})

		if geocodeCenters != "" {
			if err := geocodeFile(ctx, pl.ResolveCenters, geocodeCenters, "centers"); err != nil {
				return err
			}
		}
		if geocodeLocations != "" {
			if err := geocodeFile(ctx, pl.ResolveLocations, geocodeLocations, "locations"); err != nil {
				return err
			}
		}
		return nil
	},
}

func geocodeFile(ctx context.Context, resolve func(context.Context, []model.Location) (geocode.Stats, error), path, kind string) error {
	rows, err := store.ReadLocationCSV(path)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return eris.Errorf("no rows in %s", path)
	}

	stats, err := resolve(ctx, rows)
	if err != nil {
		return err
	}
	zap.L().Info("geocode pass complete",
		zap.String("file", path),
		zap.String("kind", kind),
		zap.Int("resolved", stats.Resolved),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
	)
	return nil
}

func init() {
	geocodeCmd.Flags().StringVar(&geocodeCenters, "centers", "", "CSV of centers to geocode")
	geocodeCmd.Flags().StringVar(&geocodeLocations, "locations", "", "CSV of points of interest to geocode")
	geocodeCmd.Flags().BoolVar(&geocodeDryRun, "dry-run", false, "log writes instead of performing them")
	rootCmd.AddCommand(geocodeCmd)
}
