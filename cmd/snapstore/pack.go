package main

import (
	"fmt"

	"github.com/fenilsonani/snapstore/pkg/snapstore"
	"github.com/spf13/cobra"
)

func newPackCommand() *cobra.Command {
	var root string
	var quiet bool
	var level int
	var frames int
	var workers int
	var lockTimeout float64

	cmd := &cobra.Command{
		Use:   "pack <name> [additional-sealed-packs...]",
		Short: "Consolidate packs into a single compressed sealed pack",
		Long: `Pack merges the loose pack and any named additional sealed packs into
one new sealed pack, deduplicating objects by content hash and
compressing them with zstd. The loose pack is always included.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo(cmd, root)
			if err != nil {
				return err
			}

			name := args[0]
			inputs := args[1:]

			result, err := repo.Pack(cmd.Context(), name, inputs,
				snapstore.WithCompressionLevel(level),
				snapstore.WithFrames(frames),
				snapstore.WithWorkers(workers),
				snapstore.WithProgress(progressFlag(cmd)),
				snapstore.WithLockTimeout(lockTimeoutFlag(cmd)),
			)
			if err != nil {
				return err
			}

			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "packed %d snapshots, %d objects into %d frames as %q\n",
					result.SnapshotCount, result.ObjectCount, result.FrameCount, name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "worktree root")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress and summary output")
	cmd.Flags().IntVar(&level, "level", 19, "zstd compression level (1-22)")
	cmd.Flags().IntVar(&frames, "frames", 0, "number of compression frames (0 = auto-detect from object size)")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker-pool size (0 = one per frame)")
	cmd.Flags().Float64Var(&lockTimeout, "lock-timeout", 0, "seconds to wait for the repository lock (0 = fail immediately)")

	return cmd
}
