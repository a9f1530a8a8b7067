package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	runBatchID string
	runTaskID  string
	runShardID string
	runWorkers int
)

var runShardCmd = &cobra.Command{
	Use:   "run-shard",
	Short: "Execute one shard of one task",
	Args:  cobra.NoArgs,
	RunE:  runRunShard,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive every shard of a batch to completion, honoring task deps",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a batch, skipping shards already done",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

func init() {
	runShardCmd.Flags().StringVar(&runBatchID, "batch", "", "batch id (required)")
	runShardCmd.Flags().StringVar(&runTaskID, "task", "", "task id (required)")
	runShardCmd.Flags().StringVar(&runShardID, "shard", "", "shard id, e.g. \"00\" (required)")
	_ = runShardCmd.MarkFlagRequired("batch")
	_ = runShardCmd.MarkFlagRequired("task")
	_ = runShardCmd.MarkFlagRequired("shard")

	runCmd.Flags().StringVar(&runBatchID, "batch", "", "batch id (required)")
	runCmd.Flags().IntVar(&runWorkers, "workers", 4, "max concurrent shards per task")
	_ = runCmd.MarkFlagRequired("batch")

	resumeCmd.Flags().StringVar(&runBatchID, "batch", "", "batch id (required)")
	resumeCmd.Flags().IntVar(&runWorkers, "workers", 4, "max concurrent shards per task")
	_ = resumeCmd.MarkFlagRequired("batch")
}

func runRunShard(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.Runner.RunShard(ctx, runBatchID, runTaskID, runShardID); err != nil {
		return err
	}
	if jsonOut {
		printJSON(cmd.OutOrStdout(), map[string]any{"batch_id": runBatchID, "task_id": runTaskID, "shard_id": runShardID, "state": "done"})
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "shard %s/%s/%s done\n", runBatchID, runTaskID, runShardID)
	return nil
}

// runRun backs both "run" and "resume": RunShard is idempotent on an
// already-Done shard, so re-invoking Run after a partial run resumes
// exactly where it left off.
func runRun(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.Runner.Run(ctx, runBatchID, runWorkers); err != nil {
		return err
	}
	if jsonOut {
		printJSON(cmd.OutOrStdout(), map[string]any{"batch_id": runBatchID, "state": "complete"})
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "batch %s complete\n", runBatchID)
	return nil
}
