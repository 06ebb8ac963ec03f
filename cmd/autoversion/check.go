package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// checkCmd prints the settings and the exclusions as the engine resolved them.
var checkCmd = &cobra.Command{
	Use:          "check",
	Short:        "Print the resolved settings and exclusions",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, cleanup, err := openEngine(context.Background(), false)
		if err != nil {
			return fmt.Errorf("failed to open vault: %w", err)
		}
		defer cleanup()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(engine.State()); err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
