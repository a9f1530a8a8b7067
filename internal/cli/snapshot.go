package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcp-tool-shop-org/code-batch/internal/snapshot"
)

var (
	snapIncludeHidden  bool
	snapFollowSymlinks bool
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <dir>",
	Short: "Build an immutable snapshot of a source tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshot,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every snapshot id in the store",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotList,
}

func init() {
	snapshotCmd.Flags().BoolVar(&snapIncludeHidden, "include-hidden", false, "include dotfiles and dot-directories")
	snapshotCmd.Flags().BoolVar(&snapFollowSymlinks, "follow-symlinks", false, "follow symlinked files (symlinked directories are not descended into)")
	snapshotCmd.AddCommand(snapshotListCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	id, err := a.Snapshots.Build(args[0], snapshot.Options{
		IncludeHidden:  snapIncludeHidden,
		FollowSymlinks: snapFollowSymlinks,
		Now:            time.Now,
	})
	if err != nil {
		return err
	}
	if jsonOut {
		printJSON(cmd.OutOrStdout(), map[string]any{"snapshot_id": id})
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	ids, err := a.Snapshots.List()
	if err != nil {
		return err
	}
	if jsonOut {
		printJSON(cmd.OutOrStdout(), map[string]any{"snapshots": ids})
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}
