package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/placard/internal/platform"
	"github.com/aretw0/placard/pkg/core"
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the place",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd.Context(), func(_ *platform.Service, ctrl *core.Controller) error {
			_, err := runTransaction(cmd.Context(), ctrl, "delete "+env.Key, func(tx *core.Transaction) error {
				return tx.Delete()
			})
			if err != nil {
				return fmt.Errorf("failed to delete: %w", err)
			}
			fmt.Printf("Place '%s' deleted.\n", env.Key)
			return nil
		}, platform.WithMustExist(true))
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	addCommitFlags(deleteCmd)
}
