package executors

import (
	"encoding/json"

	"github.com/mcp-tool-shop-org/code-batch/internal/executor"
)

// Analyze is the "analyze" task type: per-file metrics derived from
// 01_parse's ast output. Unlike the original implementation's Phase-2
// stub (which emits nothing), this is implemented per SPEC_FULL.md's
// supplemented-features list, with the three metrics spec's own E2E
// scenario names.
func Analyze(config json.RawMessage, files []executor.FileInput, ctx executor.Context) ([]executor.Record, error) {
	var out []executor.Record
	for _, f := range files {
		ast, ok, err := loadAST(ctx, f.Path)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		complexity := ast.Branches + len(ast.Functions)
		out = append(out,
			metricRecord(f.Path, "complexity", complexity),
			metricRecord(f.Path, "function_count", len(ast.Functions)),
			metricRecord(f.Path, "import_count", len(ast.Imports)),
		)
	}
	return out, nil
}

func metricRecord(path, metric string, value int) executor.Record {
	return executor.Record{
		Path: path, Kind: "metric",
		Fields: map[string]any{"metric": metric, "value": value},
	}
}
