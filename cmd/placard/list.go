package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/placard/pkg/adapters/fs"
	"github.com/aretw0/placard/pkg/adapters/memory"
	"github.com/aretw0/placard/pkg/adapters/sqlite"
	"github.com/aretw0/placard/pkg/core"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the keys of every place in the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer svc.Close(context.Background())

		keys, err := storeKeys(cmd.Context(), svc.Store)
		if err != nil {
			return err
		}

		if listJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(keys)
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

func storeKeys(ctx context.Context, store core.Store) ([]string, error) {
	switch s := store.(type) {
	case *fs.Store:
		return s.Keys()
	case *sqlite.Store:
		return s.Keys(ctx)
	case *memory.Store:
		return s.Keys(), nil
	}
	return nil, fmt.Errorf("store %T cannot list keys", store)
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
}
