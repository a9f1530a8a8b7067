package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcp-tool-shop-org/code-batch/internal/batch"
)

var statusBatchID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize every task's shard states for a batch",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusBatchID, "batch", "", "batch id (required)")
	_ = statusCmd.MarkFlagRequired("batch")
}

type taskStatus struct {
	TaskID string         `json:"task_id"`
	Type   string         `json:"type"`
	Counts map[string]int `json:"counts"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	p, err := a.Batches.LoadPlan(statusBatchID)
	if err != nil {
		return err
	}

	var statuses []taskStatus
	for _, t := range p.Tasks {
		states, err := a.Batches.ListShardStates(statusBatchID, t.TaskID)
		if err != nil {
			return err
		}
		counts := map[string]int{
			batch.StatePending: 0, batch.StateRunning: 0, batch.StateDone: 0, batch.StateFailed: 0,
		}
		for _, s := range states {
			counts[s.State]++
		}
		statuses = append(statuses, taskStatus{TaskID: t.TaskID, Type: t.Type, Counts: counts})
	}

	if jsonOut {
		printJSON(cmd.OutOrStdout(), map[string]any{"batch_id": statusBatchID, "tasks": statuses})
		return nil
	}
	for _, s := range statuses {
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\tpending=%d running=%d done=%d failed=%d\n",
			s.TaskID, s.Type, s.Counts[batch.StatePending], s.Counts[batch.StateRunning],
			s.Counts[batch.StateDone], s.Counts[batch.StateFailed])
	}
	return nil
}
