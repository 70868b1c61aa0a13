package main

import (
	"fmt"

	"github.com/fenilsonani/snapstore/pkg/snapstore"
	"github.com/spf13/cobra"
)

func newLoosenCommand() *cobra.Command {
	var root string
	var quiet bool
	var workers int
	var lockTimeout float64

	cmd := &cobra.Command{
		Use:   "loosen <pack>",
		Short: "Explode a sealed pack back into loose objects",
		Long: `Loosen decompresses every object in the named sealed pack into the
loose object store and merges its snapshots into the loose index, the
inverse of pack.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo(cmd, root)
			if err != nil {
				return err
			}

			err = repo.Loosen(cmd.Context(), args[0],
				snapstore.WithWorkers(workers),
				snapstore.WithProgress(progressFlag(cmd)),
				snapstore.WithLockTimeout(lockTimeoutFlag(cmd)),
			)
			if err != nil {
				return err
			}

			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "loosened %q\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "worktree root")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress and summary output")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker-pool size (0 = one per frame)")
	cmd.Flags().Float64Var(&lockTimeout, "lock-timeout", 0, "seconds to wait for the repository lock (0 = fail immediately)")

	return cmd
}
