package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/placard/internal/platform"
	"github.com/aretw0/placard/pkg/core"
)

var (
	setLat      float64
	setLon      float64
	setTitle    string
	setSubtitle string
	setCreate   bool
)

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Change fields of the place",
	Long: `Change one or more fields of the place in a single transaction.
Only the flags given are written; other fields keep their latest values.`,
	Example: `  placard set --lat 38.72 --lon -9.14
  placard set --title Home --mode async -t feat -m "name home"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if !flags.Changed("lat") && !flags.Changed("lon") && !flags.Changed("title") && !flags.Changed("subtitle") {
			return errors.New("nothing to set: use --lat, --lon, --title or --subtitle")
		}

		return withController(cmd.Context(), func(_ *platform.Service, ctrl *core.Controller) error {
			stage := func(tx *core.Transaction) error {
				draft, err := tx.Edit(cmd.Context())
				if errors.Is(err, core.ErrNotFound) && setCreate {
					draft, err = tx.Create()
				}
				if err != nil {
					return err
				}
				if flags.Changed("lat") {
					draft.SetLatitude(setLat)
				}
				if flags.Changed("lon") {
					draft.SetLongitude(setLon)
				}
				if flags.Changed("title") {
					draft.SetTitle(setTitle)
				}
				if flags.Changed("subtitle") {
					draft.SetSubtitle(setSubtitle)
				}
				return nil
			}

			snap, err := runTransaction(cmd.Context(), ctrl, "update "+env.Key, stage)
			if err != nil {
				return fmt.Errorf("failed to commit: %w", err)
			}
			fmt.Printf("%s v%d: %s\n", snap.Key, snap.Version, snap.Place)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(setCmd)
	setCmd.Flags().Float64Var(&setLat, "lat", 0, "Latitude in degrees")
	setCmd.Flags().Float64Var(&setLon, "lon", 0, "Longitude in degrees")
	setCmd.Flags().StringVar(&setTitle, "title", "", "Title")
	setCmd.Flags().StringVar(&setSubtitle, "subtitle", "", "Subtitle")
	setCmd.Flags().BoolVar(&setCreate, "create", false, "Create the place if it does not exist")
	addCommitFlags(setCmd)
}
