package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report stored record counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.Counts(ctx)
		if err != nil {
			return err
		}

		out := struct {
			Mode       string `json:"mode"`
			Centers    int    `json:"centers"`
			Locations  int    `json:"locations"`
			Isochrones int    `json:"isochrones"`
		}{cfg.Store.Mode, counts.Centers, counts.Locations, counts.Isochrones}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
