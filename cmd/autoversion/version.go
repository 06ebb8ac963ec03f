package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/autoversion"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of autoversion",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("autoversion version %s\n", strings.TrimSpace(autoversion.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
