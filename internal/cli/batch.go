package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	batchSnapshotID string
	batchPipeline   string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Materialize or list batches",
}

var batchInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Materialize a new batch from a pipeline template over a snapshot",
	Args:  cobra.NoArgs,
	RunE:  runBatchInit,
}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every batch id in the store",
	Args:  cobra.NoArgs,
	RunE:  runBatchList,
}

func init() {
	batchInitCmd.Flags().StringVar(&batchSnapshotID, "snapshot", "", "snapshot id to batch over (required)")
	batchInitCmd.Flags().StringVar(&batchPipeline, "pipeline", "full", "pipeline template name")
	_ = batchInitCmd.MarkFlagRequired("snapshot")
	batchCmd.AddCommand(batchInitCmd)
	batchCmd.AddCommand(batchListCmd)
}

func runBatchInit(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	meta, _, err := a.Batches.InitBatch(batchSnapshotID, batchPipeline, registeredTypes(), nil)
	if err != nil {
		return err
	}
	if jsonOut {
		printJSON(cmd.OutOrStdout(), meta)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), meta.BatchID)
	return nil
}

func runBatchList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	ids, err := a.Batches.List()
	if err != nil {
		return err
	}
	if jsonOut {
		printJSON(cmd.OutOrStdout(), map[string]any{"batches": ids})
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}
