package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reachmaps/reach-cli/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the storage schema",
	Long:  "In use-db mode, applies the PostGIS schema: tables, indexes, and the modified_at triggers. In use-local mode, creates the data directory tree.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}
		if cfg.Store.Mode == config.ModeDB {
			zap.L().Info("schema migrated")
		} else {
			zap.L().Info("data directory ready", zap.String("dir", cfg.Store.DataDir))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
