package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/placard"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of placard",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("placard version %s\n", strings.TrimSpace(placard.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
