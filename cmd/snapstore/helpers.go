package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fenilsonani/snapstore/pkg/snapstore"
	"github.com/spf13/cobra"
)

func openRepo(cmd *cobra.Command, root string) (*snapstore.Repository, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve repository root: %w", err)
	}
	repo, err := snapstore.Open(absRoot)
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", absRoot, err)
	}
	return repo, nil
}

// progressFlag returns a progress callback that prints one line per
// phase transition rather than per-file, keeping CLI output usable on
// large worktrees. It returns nil when --quiet is set.
func progressFlag(cmd *cobra.Command) func(phase string, done, total int) {
	quiet, _ := cmd.Flags().GetBool("quiet")
	if quiet {
		return nil
	}
	last := ""
	return func(phase string, done, total int) {
		if phase != last {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d\n", phase, done, total)
			last = phase
		}
	}
}

func lockTimeoutFlag(cmd *cobra.Command) time.Duration {
	secs, _ := cmd.Flags().GetFloat64("lock-timeout")
	return time.Duration(secs * float64(time.Second))
}
