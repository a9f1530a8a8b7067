package executors

import (
	"encoding/json"

	"github.com/mcp-tool-shop-org/code-batch/internal/executor"
)

// Symbols is the "symbols" task type: turns 01_parse's ast summary into
// symbol and edge records, grounded on original_source/tasks/symbols.py's
// function/variable/import extraction (simplified to this package's flat
// line-based AST model rather than a real Python AST).
func Symbols(config json.RawMessage, files []executor.FileInput, ctx executor.Context) ([]executor.Record, error) {
	var out []executor.Record
	for _, f := range files {
		ast, ok, err := loadAST(ctx, f.Path)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		for _, fn := range ast.Functions {
			out = append(out, executor.Record{
				Path: f.Path, Kind: "symbol",
				Fields: map[string]any{"name": fn.Name, "symbol_type": "function", "line": fn.Line, "scope": "module"},
			})
		}
		for _, a := range ast.Assignments {
			out = append(out, executor.Record{
				Path: f.Path, Kind: "symbol",
				Fields: map[string]any{"name": a.Name, "symbol_type": "variable", "line": a.Line, "scope": a.Scope},
			})
		}
		for _, imp := range ast.Imports {
			out = append(out, executor.Record{
				Path: f.Path, Kind: "edge",
				Fields: map[string]any{"edge_type": "imports", "target": imp.Name, "line": imp.Line},
			})
		}
	}
	return out, nil
}
