package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcp-tool-shop-org/code-batch/internal/diffengine"
	"github.com/mcp-tool-shop-org/code-batch/internal/query"
)

var (
	diffBatchA string
	diffBatchB string
	diffTaskID string
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Compare one task's output records across two batches (C10)",
	Args:  cobra.NoArgs,
	RunE:  runDiff,
}

func init() {
	diffCmd.Flags().StringVar(&diffBatchA, "batch-a", "", "earlier batch id (required)")
	diffCmd.Flags().StringVar(&diffBatchB, "batch-b", "", "later batch id (required)")
	diffCmd.Flags().StringVar(&diffTaskID, "task", "", "task id (required)")
	_ = diffCmd.MarkFlagRequired("batch-a")
	_ = diffCmd.MarkFlagRequired("batch-b")
	_ = diffCmd.MarkFlagRequired("task")
}

func runDiff(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	before, _, err := a.Router.Outputs(diffBatchA, diffTaskID, query.Filter{})
	if err != nil {
		return wrap(err)
	}
	after, _, err := a.Router.Outputs(diffBatchB, diffTaskID, query.Filter{})
	if err != nil {
		return wrap(err)
	}
	res := diffengine.Compare(before, after)

	if jsonOut {
		printJSON(cmd.OutOrStdout(), res)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added: %d  removed: %d  changed: %d  regressions: %d  improvements: %d\n",
		len(res.Added), len(res.Removed), len(res.Changed), len(res.Regressions), len(res.Improvements))
	for _, r := range res.Added {
		fmt.Fprintf(cmd.OutOrStdout(), "+ %s %s\n", r.Kind, r.Path)
	}
	for _, r := range res.Removed {
		fmt.Fprintf(cmd.OutOrStdout(), "- %s %s\n", r.Kind, r.Path)
	}
	for _, c := range res.Changed {
		fmt.Fprintf(cmd.OutOrStdout(), "~ %s %s\n", c.Before.Kind, c.Before.Path)
	}
	return nil
}
