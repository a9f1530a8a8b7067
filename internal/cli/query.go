package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcp-tool-shop-org/code-batch/internal/output"
	"github.com/mcp-tool-shop-org/code-batch/internal/query"
)

var (
	queryBatchID string
	queryTaskID  string
	queryKind    string
	queryPath    string
	querySev     string
	queryCode    string
	queryStrict  bool
	queryGroupBy string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query a batch's outputs, diagnostics, or stats, transparently via cache or scan",
}

var queryOutputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "Query raw output records",
	Args:  cobra.NoArgs,
	RunE:  runQueryOutputs,
}

var queryDiagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Query diagnostic records",
	Args:  cobra.NoArgs,
	RunE:  runQueryDiagnostics,
}

var queryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query aggregate counts, grouped by kind or by severity+code",
	Args:  cobra.NoArgs,
	RunE:  runQueryStats,
}

func init() {
	for _, c := range []*cobra.Command{queryOutputsCmd, queryDiagnosticsCmd, queryStatsCmd} {
		c.Flags().StringVar(&queryBatchID, "batch", "", "batch id (required)")
		c.Flags().StringVar(&queryTaskID, "task", "", "task id")
		c.Flags().StringVar(&queryPath, "path", "", "filter: path substring")
		_ = c.MarkFlagRequired("batch")
	}
	queryOutputsCmd.Flags().StringVar(&queryKind, "kind", "", "filter: output kind")
	queryOutputsCmd.Flags().StringVar(&querySev, "severity", "", "filter: severity (diagnostics only)")
	queryOutputsCmd.Flags().StringVar(&queryCode, "code", "", "filter: diagnostic code")
	queryOutputsCmd.Flags().BoolVar(&queryStrict, "strict", false, "exit 1 if no records match")

	queryDiagnosticsCmd.Flags().StringVar(&querySev, "severity", "", "filter: severity")
	queryDiagnosticsCmd.Flags().StringVar(&queryCode, "code", "", "filter: diagnostic code")
	queryDiagnosticsCmd.Flags().BoolVar(&queryStrict, "strict", false, "exit 1 if no records match")

	queryStatsCmd.Flags().StringVar(&queryGroupBy, "group-by", "kind", "\"kind\" or \"severity_code\"")

	queryCmd.AddCommand(queryOutputsCmd)
	queryCmd.AddCommand(queryDiagnosticsCmd)
	queryCmd.AddCommand(queryStatsCmd)
}

func runQueryOutputs(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	filter := query.Filter{Kind: queryKind, PathSubstr: queryPath, Severity: querySev, Code: queryCode}
	records, src, err := a.Router.Outputs(queryBatchID, queryTaskID, filter)
	if err != nil {
		return wrap(err)
	}
	return renderRecords(cmd, records, string(src), queryStrict)
}

func runQueryDiagnostics(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	records, src, err := a.Router.Diagnostics(queryBatchID, queryTaskID, querySev, queryCode, queryPath)
	if err != nil {
		return wrap(err)
	}
	return renderRecords(cmd, records, string(src), queryStrict)
}

func renderRecords(cmd *cobra.Command, records []output.Record, source string, strict bool) error {
	if strict && len(records) == 0 {
		return &strictEmptyError{}
	}
	if jsonOut {
		printJSON(cmd.OutOrStdout(), map[string]any{"source": source, "count": len(records), "records": records})
		return nil
	}
	for _, r := range records {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", r.Path, r.Kind, r.TS)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d record(s) via %s\n", len(records), source)
	return nil
}

func runQueryStats(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	var stats query.Stats
	var src any
	switch queryGroupBy {
	case "severity_code":
		s, sv, err := a.Router.StatsBySeverityCode(queryBatchID, queryTaskID)
		if err != nil {
			return wrap(err)
		}
		stats, src = s, sv
	default:
		s, sv, err := a.Router.StatsByKind(queryBatchID, queryTaskID)
		if err != nil {
			return wrap(err)
		}
		stats, src = s, sv
	}
	if jsonOut {
		printJSON(cmd.OutOrStdout(), map[string]any{"source": src, "group_by": stats.GroupBy, "counts": stats.Counts})
		return nil
	}
	for _, k := range query.SortedKeys(stats) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", k, stats.Counts[k])
	}
	return nil
}

// strictEmptyError signals an empty --strict query result, surfaced as
// exit 1 with no structured error envelope: an empty result is expected,
// not a failure worth a code/hints/details payload.
type strictEmptyError struct{}

func (e *strictEmptyError) Error() string { return "no records matched" }
