package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/placard/internal/platform"
	"github.com/aretw0/placard/pkg/core"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Move the place to a random coordinate and clear its title",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd.Context(), func(_ *platform.Service, ctrl *core.Controller) error {
			snap, err := runTransaction(cmd.Context(), ctrl, "reset "+env.Key, func(tx *core.Transaction) error {
				draft, err := tx.Edit(cmd.Context())
				if err != nil {
					return err
				}
				draft.Reset(nil)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to reset: %w", err)
			}
			fmt.Printf("%s v%d: %s\n", snap.Key, snap.Version, snap.Place)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
	addCommitFlags(resetCmd)
}
