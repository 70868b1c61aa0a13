package main

import (
	"fmt"

	"github.com/fenilsonani/snapstore/pkg/snapstore"
	"github.com/spf13/cobra"
)

func newExtractCommand() *cobra.Command {
	var root string
	var quiet bool
	var reset bool
	var force bool
	var verify bool
	var workers int
	var lockTimeout float64

	cmd := &cobra.Command{
		Use:   "extract <ref>",
		Short: "Move the worktree to a snapshot",
		Long: `Extract moves the worktree from its current HEAD to ref, writing only
the paths that changed. ref is either a bare tag (resolved across
every pack) or "<pack>:<tag>".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo(cmd, root)
			if err != nil {
				return err
			}

			opts := []snapstore.Option{
				snapstore.WithWorkers(workers),
				snapstore.WithProgress(progressFlag(cmd)),
				snapstore.WithLockTimeout(lockTimeoutFlag(cmd)),
			}
			if reset {
				opts = append(opts, snapstore.WithReset())
			}
			if force {
				opts = append(opts, snapstore.WithForce())
			}
			if verify {
				opts = append(opts, snapstore.WithVerify())
			}

			result, err := repo.Extract(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}

			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "extracted %s: +%d ~%d -%d\n",
					args[0], result.Added, result.Modified, result.Removed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "worktree root")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress and summary output")
	cmd.Flags().BoolVar(&reset, "reset", false, "treat HEAD as empty, fully materializing the target snapshot")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the pre-overwrite drift check against HEAD")
	cmd.Flags().BoolVar(&verify, "verify", false, "recompute and check each written file's hash after writing")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker-pool size (0 = one per object for the loose pack, one per frame for a sealed pack)")
	cmd.Flags().Float64Var(&lockTimeout, "lock-timeout", 0, "seconds to wait for the repository lock (0 = fail immediately)")

	return cmd
}
