package executors

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcp-tool-shop-org/code-batch/internal/executor"
)

const maxLineLength = 120

var todoPatterns = []string{"TODO", "FIXME", "XXX", "HACK"}

// Lint is the "lint" task type: the original's Phase-1 text rules
// (L001-L005) plus the Phase-8 AST-aware rules (L101 unused import, L102
// unused variable), grounded on original_source/tasks/lint.py.
func Lint(config json.RawMessage, files []executor.FileInput, ctx executor.Context) ([]executor.Record, error) {
	var out []executor.Record
	for _, f := range files {
		content, err := ctx.GetObject(f.Object)
		if err != nil {
			return nil, err
		}
		out = append(out, lintTextRules(f.Path, string(content))...)

		if f.LangHint != "python" {
			continue
		}
		ast, ok, err := loadAST(ctx, f.Path)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, lintUnusedImports(f.Path, ast)...)
		out = append(out, lintUnusedVariables(f.Path, ast)...)
	}
	return out, nil
}

func lintUnusedImports(path string, ast AST) []executor.Record {
	var out []executor.Record
	for _, imp := range ast.Imports {
		if ast.WordCounts[imp.Name] > 1 {
			continue
		}
		out = append(out, diagnostic(path, "warning", "L101",
			fmt.Sprintf("Unused import %q", imp.Name), imp.Line, 1))
	}
	return out
}

func lintUnusedVariables(path string, ast AST) []executor.Record {
	var out []executor.Record
	for _, a := range ast.Assignments {
		if ast.WordCounts[a.Name] > 1 {
			continue
		}
		out = append(out, diagnostic(path, "warning", "L102",
			fmt.Sprintf("Unused variable %q", a.Name), a.Line, 1))
	}
	return out
}

func lintTextRules(path, content string) []executor.Record {
	var out []executor.Record
	lines := strings.Split(content, "\n")

	for i, line := range lines {
		lineNo := i + 1
		trimmedEnd := strings.TrimRight(line, "\r\n")
		if trimmedEnd != strings.TrimRight(trimmedEnd, " \t") {
			out = append(out, diagnostic(path, "warning", "L001", "Trailing whitespace", lineNo, len(strings.TrimRight(trimmedEnd, " \t"))+1))
		}
		if len(trimmedEnd) > maxLineLength {
			out = append(out, diagnostic(path, "warning", "L002",
				fmt.Sprintf("Line too long (%d > %d)", len(trimmedEnd), maxLineLength), lineNo, maxLineLength+1))
		}
		if upper := strings.ToUpper(line); true {
			for _, p := range todoPatterns {
				if idx := strings.Index(upper, p); idx >= 0 {
					out = append(out, diagnostic(path, "info", "L003", fmt.Sprintf("Found %s comment", p), lineNo, idx+1))
					break
				}
			}
		}
		if strings.HasPrefix(line, "\t") {
			out = append(out, diagnostic(path, "warning", "L004", "Tab indentation (prefer spaces)", lineNo, 1))
		}
	}

	if content != "" && !strings.HasSuffix(content, "\n") {
		lastLine := lines[len(lines)-1]
		out = append(out, diagnostic(path, "warning", "L005", "Missing newline at end of file", len(lines), len(lastLine)+1))
	}
	return out
}

func diagnostic(path, severity, code, message string, line, column int) executor.Record {
	return executor.Record{
		Path: path, Kind: "diagnostic",
		Fields: map[string]any{
			"severity": severity, "code": code, "message": message,
			"line": line, "column": column,
		},
	}
}
