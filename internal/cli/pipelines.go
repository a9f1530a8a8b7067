package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcp-tool-shop-org/code-batch/internal/plan"
)

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "List the built-in pipeline templates a batch can be initialized from",
	Args:  cobra.NoArgs,
	RunE:  runPipelines,
}

func runPipelines(cmd *cobra.Command, args []string) error {
	names := plan.SortedTemplateNames()
	if jsonOut {
		out := make([]map[string]any, 0, len(names))
		for _, n := range names {
			t := plan.Templates[n]
			tasks := make([]string, len(t.Tasks))
			for i, tt := range t.Tasks {
				tasks[i] = tt.TaskID
			}
			out = append(out, map[string]any{"name": t.Name, "description": t.Description, "tasks": tasks})
		}
		printJSON(cmd.OutOrStdout(), map[string]any{"pipelines": out})
		return nil
	}
	for _, n := range names {
		t := plan.Templates[n]
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t.Name, t.Description)
	}
	return nil
}
