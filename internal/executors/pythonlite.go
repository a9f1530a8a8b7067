// Package executors provides the concrete parse/analyze/symbols/lint task
// types: a deterministic, regex-based Python-subset model (not a full AST)
// sufficient to exercise the shard runner, output index, and query/cache/
// diff layers end to end.
package executors

import (
	"regexp"
	"strings"
)

// FuncDef is one top-level or nested function definition found by the
// line-based scanner.
type FuncDef struct {
	Name string `json:"name"`
	Line int    `json:"line"`
}

// ImportDef is one `import x` or `from x import y` statement.
type ImportDef struct {
	Name string `json:"name"`
	Line int    `json:"line"`
}

// AssignDef is one simple `name = expr` assignment inside a function body.
type AssignDef struct {
	Name  string `json:"name"`
	Line  int    `json:"line"`
	Scope string `json:"scope"`
}

// AST is the parse executor's output payload: a compact, word-count-backed
// summary good enough to drive unused-import/unused-variable lint rules
// and basic metrics without a real Python parser.
type AST struct {
	SchemaName  string            `json:"schema_name"`
	Lang        string            `json:"lang"`
	Functions   []FuncDef         `json:"functions"`
	Imports     []ImportDef       `json:"imports"`
	Assignments []AssignDef       `json:"assignments"`
	Branches    int               `json:"branches"`
	WordCounts  map[string]int    `json:"word_counts"`
}

const ASTSchemaName = "codebatch.pylite_ast"

var (
	importRe     = regexp.MustCompile(`^import\s+(\w+)`)
	fromImportRe = regexp.MustCompile(`^from\s+\S+\s+import\s+(\w+)`)
	defRe        = regexp.MustCompile(`^\s*def\s+(\w+)\s*\(`)
	assignRe     = regexp.MustCompile(`^\s+(\w+)\s*=[^=]`)
	branchRe     = regexp.MustCompile(`^\s*(if|elif|for|while|except)\b`)
	wordRe       = regexp.MustCompile(`[A-Za-z_]\w*`)
)

// analyzePython scans Python source line by line, building a flat symbol
// table and a whole-file identifier frequency table used to approximate
// "is this name ever referenced again" without real scope resolution.
func analyzePython(content string) AST {
	lines := strings.Split(content, "\n")
	ast := AST{SchemaName: ASTSchemaName, Lang: "python", WordCounts: map[string]int{}}

	currentScope := ""
	for i, line := range lines {
		lineNo := i + 1
		if m := defRe.FindStringSubmatch(line); m != nil {
			ast.Functions = append(ast.Functions, FuncDef{Name: m[1], Line: lineNo})
			currentScope = m[1]
			continue
		}
		if m := importRe.FindStringSubmatch(line); m != nil {
			ast.Imports = append(ast.Imports, ImportDef{Name: m[1], Line: lineNo})
			continue
		}
		if m := fromImportRe.FindStringSubmatch(line); m != nil {
			ast.Imports = append(ast.Imports, ImportDef{Name: m[1], Line: lineNo})
			continue
		}
		if branchRe.MatchString(line) {
			ast.Branches++
		}
		if strings.TrimSpace(line) == "" {
			currentScope = ""
		}
		if m := assignRe.FindStringSubmatch(line); m != nil {
			ast.Assignments = append(ast.Assignments, AssignDef{Name: m[1], Line: lineNo, Scope: currentScope})
		}
	}

	for _, w := range wordRe.FindAllString(content, -1) {
		ast.WordCounts[w]++
	}
	return ast
}
