package executors

import (
	"encoding/json"

	"github.com/mcp-tool-shop-org/code-batch/internal/executor"
)

const parseTaskID = "01_parse"

// loadAST returns the "01_parse" ast record for path, decoded, or ok=false
// if 01_parse never produced one (a non-Python file, or a syntax it could
// not summarize).
func loadAST(ctx executor.Context, path string) (AST, bool, error) {
	records, err := ctx.IterPriorOutputs(parseTaskID, "ast")
	if err != nil {
		return AST{}, false, err
	}
	for _, r := range records {
		if r.Path != path {
			continue
		}
		if r.Object == "" {
			return AST{}, false, nil
		}
		raw, err := ctx.GetObject(r.Object)
		if err != nil {
			return AST{}, false, err
		}
		var ast AST
		if err := json.Unmarshal(raw, &ast); err != nil {
			return AST{}, false, err
		}
		if ast.SchemaName != ASTSchemaName {
			return AST{}, false, nil
		}
		return ast, true, nil
	}
	return AST{}, false, nil
}
