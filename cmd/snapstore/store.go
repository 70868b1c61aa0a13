package main

import (
	"fmt"

	"github.com/fenilsonani/snapstore/pkg/snapstore"
	"github.com/spf13/cobra"
)

func newStoreCommand() *cobra.Command {
	var root string
	var quiet bool
	var lockTimeout float64

	cmd := &cobra.Command{
		Use:   "store <tag> [paths...]",
		Short: "Hash files into the loose object store and tag them as a snapshot",
		Long: `Store hashes the named paths (or every file under the worktree, if
none are given) into the loose object store and records them under tag
as a new, immutable snapshot.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo(cmd, root)
			if err != nil {
				return err
			}

			tag := args[0]
			paths := args[1:]

			result, err := repo.Store(cmd.Context(), tag, paths,
				snapstore.WithProgress(progressFlag(cmd)),
				snapstore.WithLockTimeout(lockTimeoutFlag(cmd)),
			)
			if err != nil {
				return err
			}

			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "stored %d files as %q\n", result.FileCount, tag)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "worktree root")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress and summary output")
	cmd.Flags().Float64Var(&lockTimeout, "lock-timeout", 0, "seconds to wait for the repository lock (0 = fail immediately)")

	return cmd
}
