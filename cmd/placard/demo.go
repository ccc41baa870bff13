package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/aretw0/placard/internal/platform"
	"github.com/aretw0/placard/pkg/core"
	"github.com/aretw0/placard/pkg/geocode"
	"github.com/aretw0/placard/pkg/metrics"
)

var (
	demoMoves       int
	demoInterval    time.Duration
	demoLatency     time.Duration
	demoMetricsAddr string
	demoHold        bool
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Move the place around and watch it being named",
	Long: `Run the transactions demo: the place is moved by asynchronous transactions
(like long-presses on a map), reset by synchronous ones, and named by a detached
reverse-geocoding transaction after every move. A newer move cancels the lookup
of the previous one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rec := metrics.NewRecorder()

		addr := demoMetricsAddr
		if addr == "" {
			addr = env.MetricsAddr
		}
		if addr != "" {
			stop := serveMetrics(addr, rec)
			defer stop()
		}

		return withController(ctx, func(_ *platform.Service, ctrl *core.Controller) error {
			return runDemo(ctx, ctrl)
		}, platform.WithMetrics(rec))
	},
}

func runDemo(ctx context.Context, ctrl *core.Controller) error {
	snap, err := ctrl.EnsureCreated(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to create place: %w", err)
	}
	fmt.Printf("start  v%d %s\n", snap.Version, snap.Place)

	sub := ctrl.Attach(core.ObserverFuncs{
		OnWasUpdated: func(current core.Snapshot, changed core.FieldSet) {
			fmt.Printf("update v%d %s %s\n", current.Version, changed, current.Place)
		},
		OnWasDeleted: func(last core.Snapshot) {
			fmt.Printf("delete v%d\n", last.Version)
		},
	})
	defer sub.Detach()

	wf := geocode.NewWorkflow(ctrl, geocode.GridLookup{Latency: demoLatency},
		geocode.WithLogger(slog.Default()),
		geocode.WithRateLimit(rate.Every(demoLatency/2+time.Millisecond), 2))
	wf.Attach()
	defer wf.Close()

	var wg sync.WaitGroup
	for i := range demoMoves {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && i%5 == 0 {
			if err := resetPlace(ctx, ctrl); err != nil {
				return err
			}
		} else if err := movePlace(ctx, ctrl, &wg); err != nil {
			return err
		}
		time.Sleep(demoInterval)
	}
	wg.Wait()

	// Let the last lookup land before reporting.
	time.Sleep(demoLatency + 50*time.Millisecond)
	fmt.Printf("final  v%d %s\n", ctrl.CurrentSnapshot().Version, ctrl.CurrentSnapshot().Place)

	if demoHold {
		fmt.Println("Holding for metrics scrapes (Ctrl+C to stop)")
		<-ctx.Done()
	}
	return nil
}

// movePlace drops the pin somewhere else, as a long-press on the map would.
func movePlace(ctx context.Context, ctrl *core.Controller, wg *sync.WaitGroup) error {
	tx, err := ctrl.BeginAsynchronous(ctx)
	if err != nil {
		return err
	}
	draft, err := tx.Edit(ctx)
	if err != nil {
		return err
	}
	draft.SetCoordinate(rand.Float64()*180-90, rand.Float64()*360-180)

	wg.Add(1)
	err = tx.CommitAsync(func(_ core.Snapshot, err error) {
		defer wg.Done()
		if err != nil {
			slog.Warn("move failed", "error", err)
		}
	})
	if err != nil {
		wg.Done()
	}
	return err
}

// resetPlace restores random initial values, as the refresh button would.
func resetPlace(ctx context.Context, ctrl *core.Controller) error {
	tx, err := ctrl.BeginSynchronous(ctx)
	if err != nil {
		return err
	}
	draft, err := tx.Edit(ctx)
	if err != nil {
		return err
	}
	draft.Reset(nil)
	_, err = tx.Commit(ctx)
	return err
}

func serveMetrics(addr string, rec *metrics.Recorder) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr, "path", "/metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().IntVar(&demoMoves, "moves", 12, "Number of transactions to run")
	demoCmd.Flags().DurationVar(&demoInterval, "interval", 150*time.Millisecond, "Pause between transactions")
	demoCmd.Flags().DurationVar(&demoLatency, "latency", 300*time.Millisecond, "Simulated reverse-geocoding latency")
	demoCmd.Flags().StringVar(&demoMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	demoCmd.Flags().BoolVar(&demoHold, "hold", false, "Keep running after the demo until interrupted")
}
