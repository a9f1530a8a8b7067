package executors

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/mcp-tool-shop-org/code-batch/internal/executor"
)

// ParseConfig mirrors the "parse" template's task configuration.
type ParseConfig struct {
	Languages       []string `json:"languages"`
	EmitAST         bool     `json:"emit_ast"`
	EmitDiagnostics bool     `json:"emit_diagnostics"`
}

// Parse is the "parse" task type: for Python-lang-hinted files it emits a
// kind=ast record carrying the pythonlite.AST summary; other files get a
// minimal text-stats ast record so downstream tasks never see a hole.
func Parse(config json.RawMessage, files []executor.FileInput, ctx executor.Context) ([]executor.Record, error) {
	var cfg ParseConfig
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, err
		}
	}

	var out []executor.Record
	for _, f := range files {
		content, err := ctx.GetObject(f.Object)
		if err != nil {
			return nil, err
		}

		if f.LangHint == "python" {
			ast := analyzePython(string(content))
			payload, err := json.Marshal(ast)
			if err != nil {
				return nil, err
			}
			obj, err := ctx.PutObject(payload)
			if err != nil {
				return nil, err
			}
			out = append(out, executor.Record{
				Path: f.Path, Kind: "ast", Object: obj, Format: "json",
				Fields: map[string]any{"lang": "python"},
			})
			continue
		}

		out = append(out, textStatsRecord(f, content))
	}
	return out, nil
}

func textStatsRecord(f executor.FileInput, content []byte) executor.Record {
	text := string(content)
	lines := strings.Split(text, "\n")
	return executor.Record{
		Path: f.Path, Kind: "ast",
		Fields: map[string]any{
			"lang":  nonEmpty(f.LangHint, filepath.Ext(f.Path)),
			"lines": len(lines),
			"bytes": len(content),
		},
	}
}

func nonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
