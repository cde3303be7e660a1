package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reachmaps/reach-cli/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <out.shp>",
	Short: "Export stored isochrones to a shapefile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := export.Shapefile(ctx, st, args[0])
		if err != nil {
			return err
		}
		zap.L().Info("export complete", zap.String("path", args[0]), zap.Int("polygons", n))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
