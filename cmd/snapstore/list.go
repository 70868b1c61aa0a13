package main

import (
	"fmt"

	"github.com/fenilsonani/snapstore/pkg/snapstore"
	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	var root string
	var packFilter string
	var lockTimeout float64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every known (pack, tag) snapshot",
		Long:  `List prints every snapshot known to the repository, sorted by pack then tag.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo(cmd, root)
			if err != nil {
				return err
			}

			refs, err := repo.List(cmd.Context(), packFilter,
				snapstore.WithLockTimeout(lockTimeoutFlag(cmd)),
			)
			if err != nil {
				return err
			}

			for _, ref := range refs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", ref.Pack, ref.Tag)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "worktree root")
	cmd.Flags().StringVar(&packFilter, "pack", "", "limit output to one pack's snapshots")
	cmd.Flags().Float64Var(&lockTimeout, "lock-timeout", 0, "seconds to wait for the repository lock (0 = fail immediately)")

	return cmd
}
