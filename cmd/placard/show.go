package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/placard/internal/platform"
	"github.com/aretw0/placard/pkg/core"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the place",
	Long:  `Show the committed snapshot of the place. Outputs text by default, or a JSON object with --json.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(cmd.Context(), func(_ *platform.Service, ctrl *core.Controller) error {
			snap := ctrl.CurrentSnapshot()
			if !snap.Exists() {
				return fmt.Errorf("%s: %w", env.Key, core.ErrNotFound)
			}

			if showJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(snap)
			}

			fmt.Printf("%s v%d\n", snap.Key, snap.Version)
			fmt.Printf("  latitude:  %.6f\n", snap.Place.Latitude)
			fmt.Printf("  longitude: %.6f\n", snap.Place.Longitude)
			fmt.Printf("  title:     %s\n", snap.Place.Title)
			fmt.Printf("  subtitle:  %s\n", snap.Place.Subtitle)
			return nil
		}, platform.WithMustExist(true))
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
}
