package main

import (
	"fmt"

	"github.com/fenilsonani/snapstore/pkg/snapstore"
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	var root string
	var lockTimeout float64

	cmd := &cobra.Command{
		Use:   "status <ref>",
		Short: "List paths where the worktree differs from a snapshot",
		Long: `Status compares the worktree against ref and prints the sorted list
of paths that differ, including files present in the worktree but not
in the snapshot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo(cmd, root)
			if err != nil {
				return err
			}

			paths, err := repo.Status(cmd.Context(), args[0],
				snapstore.WithLockTimeout(lockTimeoutFlag(cmd)),
			)
			if err != nil {
				return err
			}

			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "worktree root")
	cmd.Flags().Float64Var(&lockTimeout, "lock-timeout", 0, "seconds to wait for the repository lock (0 = fail immediately)")

	return cmd
}
