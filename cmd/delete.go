package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reachmaps/reach-cli/internal/model"
)

var (
	deleteState string
	deleteZip   string
)

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a center and all of its isochrones",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if deleteState == "" || deleteZip == "" {
			return eris.New("--state and --zip are required; a center's identity is (name, state, zip)")
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		id := model.Identity{Name: args[0], State: deleteState, ZipCode: deleteZip}
		if err := st.DeleteCenter(ctx, id); err != nil {
			return err
		}
		zap.L().Info("center deleted", zap.String("center", id.String()))
		return nil
	},
}

func init() {
	deleteCmd.Flags().StringVar(&deleteState, "state", "", "center state")
	deleteCmd.Flags().StringVar(&deleteZip, "zip", "", "center zip code")
	rootCmd.AddCommand(deleteCmd)
}
