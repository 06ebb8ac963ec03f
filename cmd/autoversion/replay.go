package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/autoversion/internal/replay"
)

var replayInit bool

// replayCmd applies a script of transactions to the vault.
var replayCmd = &cobra.Command{
	Use:   "replay <script.yaml>",
	Short: "Apply a script of transactions to the vault",
	Long: `Apply the transactions of a YAML script in order. Each transaction is
committed on its own and reported to the versioning policy; the head
version of every touched node is printed at the end.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		script, err := replay.Load(args[0])
		if err != nil {
			return fmt.Errorf("failed to load script: %w", err)
		}

		engine, cleanup, err := openEngine(ctx, replayInit)
		if err != nil {
			return fmt.Errorf("failed to open vault: %w", err)
		}
		defer cleanup()

		touched, err := replay.Run(ctx, engine, engine.Schema, script)
		if err != nil {
			return fmt.Errorf("replay failed: %w", err)
		}

		for _, ref := range touched {
			history, err := engine.History(ctx, ref)
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}
			if len(history) == 0 {
				fmt.Printf("%s\t-\n", ref)
				continue
			}
			head := history[len(history)-1]
			fmt.Printf("%s\t%s\t%d version(s)\n", ref, head.Label, len(history))
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().BoolVar(&replayInit, "init", false, "Create the vault if it does not exist")
	rootCmd.AddCommand(replayCmd)
}
