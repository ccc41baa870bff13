package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/placard/internal/platform"
	"github.com/aretw0/placard/pkg/core"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the store and create the place",
	Long: `Initialize the store (directory, git repository or database) and create the
place with a random coordinate if it does not exist yet.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd.Context(), func(_ *platform.Service, ctrl *core.Controller) error {
			snap, err := ctrl.EnsureCreated(cmd.Context(), nil)
			if err != nil {
				return fmt.Errorf("failed to create place: %w", err)
			}
			fmt.Printf("Initialized %s in %s: %s (v%d)\n", env.Key, env.Path, snap.Place, snap.Version)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
