package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/placard/internal/platform"
	"github.com/aretw0/placard/pkg/core"
)

var (
	verbose  bool
	adapter  string
	storeURI string
	key      string
	format   string
	gitless  bool

	env platform.Env
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "placard",
	Short: "A transactional, observable store for a single place",
	Long: `Placard keeps one place (a coordinate with a title and subtitle) in a
pluggable store and commits every change through ordered transactions.

Defaults come from PLACARD_* environment variables; flags override them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		var err error
		env, err = platform.ParseEnv()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("adapter") {
			env.Adapter = adapter
		}
		if flags.Changed("path") {
			env.Path = storeURI
		}
		if flags.Changed("key") {
			env.Key = key
		}
		if flags.Changed("format") {
			env.Format = format
		}
		if flags.Changed("gitless") {
			env.Versioning = !gitless
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVar(&adapter, "adapter", platform.AdapterFS, "Storage adapter (fs, sqlite, memory)")
	flags.StringVarP(&storeURI, "path", "p", ".", "Store location (directory for fs, database file for sqlite)")
	flags.StringVarP(&key, "key", "k", "place", "Key of the place")
	flags.StringVar(&format, "format", "yaml", "File format of new fs records (yaml, json)")
	flags.BoolVar(&gitless, "gitless", false, "Disable Git versioning of the fs adapter")
}

// openService opens the configured store.
func openService(extra ...platform.Option) (*platform.Service, error) {
	opts := append(env.Options(), platform.WithLogger(slog.Default()))
	return platform.New(env.Path, append(opts, extra...)...)
}

// withController runs fn with the controller of the configured key.
func withController(ctx context.Context, fn func(*platform.Service, *core.Controller) error, extra ...platform.Option) error {
	svc, err := openService(extra...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := svc.Close(context.Background()); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}()

	ctrl, release, err := svc.Acquire(ctx, env.Key)
	if err != nil {
		return err
	}
	defer release()
	return fn(svc, ctrl)
}
