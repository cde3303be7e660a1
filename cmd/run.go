package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/reachmaps/reach-cli/internal/store"
)

var (
	runDryRun bool
	runForce  bool
)

var runCmd = &cobra.Command{
	Use:   "run <centers.csv>",
	Short: "Geocode centers and generate isochrones in one pass",
	Long:  "Reads a centers file, resolves each row to coordinates, fetches isochrones at every configured threshold, and persists the results. Prints the run manifest as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		centers, err := store.ReadLocationCSV(args[0])
		if err != nil {
			return err
		}
		if len(centers) == 0 {
			return eris.Errorf("no rows in %s", args[0])
		}

		env, err := initPipeline(ctx, runDryRun, runForce)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.Migrate(ctx); err != nil {
			return err
		}

		manifest, err := env.Pipeline.Run(ctx, centers)
		if err != nil {
			return err
		}
		return printManifest(manifest)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "log writes instead of performing them")
	runCmd.Flags().BoolVar(&runForce, "force", false, "let failed resolutions overwrite stored coordinates")
	rootCmd.AddCommand(runCmd)
}
