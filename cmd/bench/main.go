package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/placard/internal/platform"
	"github.com/aretw0/placard/pkg/core"
	"github.com/aretw0/placard/pkg/metrics"
)

func main() {
	count := flag.Int("count", 500, "Number of concurrent asynchronous commits per adapter")
	adapters := flag.String("adapters", "memory,sqlite,fs", "Comma separated adapters to bench")
	keep := flag.Bool("keep", false, "Keep the benchmark directory after running")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	benchDir, err := os.MkdirTemp("", "placard_bench_")
	if err != nil {
		panic(err)
	}
	defer func() {
		if !*keep {
			os.RemoveAll(benchDir)
		} else {
			fmt.Printf("Keeping bench dir: %s\n", benchDir)
		}
	}()

	ctx := context.Background()
	for _, adapter := range strings.Split(*adapters, ",") {
		uri := filepath.Join(benchDir, adapter)
		if adapter == platform.AdapterSQLite {
			uri = filepath.Join(benchDir, "places.db")
		}
		if err := run(ctx, adapter, uri, *count, logger); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", adapter, err)
			os.Exit(1)
		}
	}
}

func run(ctx context.Context, adapter, uri string, count int, logger *slog.Logger) error {
	rec := metrics.NewRecorder()
	svc, err := platform.New(uri,
		platform.WithAdapter(adapter),
		platform.WithLogger(logger),
		platform.WithMetrics(rec),
		platform.WithAutoInit(true),
		platform.WithVersioning(false), // git would dominate the numbers
		platform.WithDevSafety(false),
	)
	if err != nil {
		return err
	}
	defer svc.Close(ctx)

	ctrl, release, err := svc.Acquire(ctx, "bench")
	if err != nil {
		return err
	}
	defer release()

	if _, err := ctrl.EnsureCreated(ctx, nil); err != nil {
		return err
	}

	var (
		wg        sync.WaitGroup
		failed    atomic.Int64
		committed atomic.Int64
	)

	start := time.Now()
	for i := range count {
		tx, err := ctrl.BeginAsynchronous(ctx)
		if err != nil {
			return err
		}
		draft, err := tx.Edit(ctx)
		if err != nil {
			return err
		}
		lat := -80 + 160*float64(i)/float64(count)
		draft.SetCoordinate(lat, 0)

		wg.Add(1)
		err = tx.CommitAsync(func(_ core.Snapshot, err error) {
			defer wg.Done()
			if err != nil {
				failed.Add(1)
				return
			}
			committed.Add(1)
		})
		if err != nil {
			wg.Done()
			return err
		}
	}
	wg.Wait()
	elapsed := time.Since(start)

	// Admission is FIFO, so the last ticket's coordinate wins.
	final := ctrl.CurrentSnapshot()
	fmt.Printf("%-7s %5d commits in %-12v %8.0f commits/s  failed=%d final=v%d lat=%.2f\n",
		adapter, committed.Load(), elapsed.Round(time.Microsecond),
		float64(committed.Load())/elapsed.Seconds(),
		failed.Load(), final.Version, final.Place.Latitude)
	return nil
}
