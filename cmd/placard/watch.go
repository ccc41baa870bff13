package main

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/aretw0/placard/internal/platform"
	"github.com/aretw0/placard/pkg/adapters/lifecycle"
	"github.com/aretw0/placard/pkg/core"
	"github.com/aretw0/placard/pkg/geocode"
)

var (
	watchGeocode bool
	watchFields  []string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print every change of the place until interrupted",
	Long: `Print every committed change of the place. With the fs adapter, edits made
to the record file by other processes are picked up as well.
With --geocode, coordinate changes are named by the offline grid lookup.
With --fields, modifications touching none of the listed fields are skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		fields, err := parseFields(watchFields)
		if err != nil {
			return err
		}
		return withController(ctx, func(svc *platform.Service, ctrl *core.Controller) error {
			source := lifecycle.NewSource(ctrl, fields...)
			if err := source.Start(ctx); err != nil {
				return err
			}

			if w, ok := svc.Store.(core.Watchable); ok {
				go func() {
					if err := ctrl.Follow(ctx, w); err != nil {
						slog.Warn("stopped following external changes", "error", err)
					}
				}()
			}

			if watchGeocode {
				wf := geocode.NewWorkflow(ctrl, geocode.GridLookup{},
					geocode.WithLogger(slog.Default()),
					geocode.WithRateLimit(rate.Every(time.Second), 1))
				sub := wf.Attach()
				defer func() {
					sub.Detach()
					wf.Close()
				}()
			}

			fmt.Printf("Watching %s (Ctrl+C to stop)\n", env.Key)
			for ev := range source.Events() {
				e, ok := ev.(core.Event)
				if !ok {
					continue
				}
				fmt.Printf("[%s] %s %s\n", time.Unix(e.Timestamp, 0).Format(time.TimeOnly), e, ctrl.CurrentSnapshot().Place)
			}
			return nil
		}, platform.WithEventBuffer(256))
	},
}

func parseFields(names []string) ([]core.Field, error) {
	fields := make([]core.Field, 0, len(names))
	for _, name := range names {
		f := core.Field(name)
		if !slices.Contains(core.Fields, f) {
			return nil, fmt.Errorf("unknown field %q (want one of %v)", name, core.Fields)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchGeocode, "geocode", false, "Name the place after coordinate changes")
	watchCmd.Flags().StringSliceVar(&watchFields, "fields", nil, "Only print modifications of these fields (e.g. latitude,longitude)")
}
