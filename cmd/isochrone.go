package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/reachmaps/reach-cli/internal/model"
)

var isochroneDryRun bool

var isochroneCmd = &cobra.Command{
	Use:   "isochrone",
	Short: "Generate isochrones for stored geocoded centers",
	Long:  "Fetches isochrones at every configured threshold for each center already in the store. Centers with clean coordinates skip the geocoding service entirely; centers that previously failed resolution are retried.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, isochroneDryRun, false)
		if err != nil {
			return err
		}
		defer env.Close()

		centers, err := env.Store.ListCenters(ctx)
		if err != nil {
			return err
		}
		if len(centers) == 0 {
			return eris.New("no centers in store; run geocode first")
		}

		manifest, err := env.Pipeline.Run(ctx, centers)
		if err != nil {
			return err
		}
		return printManifest(manifest)
	},
}

func printManifest(m *model.Manifest) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func init() {
	isochroneCmd.Flags().BoolVar(&isochroneDryRun, "dry-run", false, "log writes instead of performing them")
	rootCmd.AddCommand(isochroneCmd)
}
