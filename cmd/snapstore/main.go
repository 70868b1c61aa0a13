package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "snapstore",
		Short: "A content-addressed snapshot store for large worktrees",
		Long: `snapstore stores, packs, and extracts full-worktree snapshots by
content hash, sharing storage across snapshots that mostly overlap.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newStoreCommand(),
		newPackCommand(),
		newExtractCommand(),
		newStatusCommand(),
		newLoosenCommand(),
		newListCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
