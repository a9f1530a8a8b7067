package executors

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/mcp-tool-shop-org/code-batch/internal/executor"
)

type fakeContext struct {
	objects map[string][]byte
	prior   map[string][]executor.Record
}

func newFakeContext() *fakeContext {
	return &fakeContext{objects: map[string][]byte{}, prior: map[string][]executor.Record{}}
}

func (c *fakeContext) PutObject(b []byte) (string, error) {
	sum := sha256.Sum256(b)
	h := hex.EncodeToString(sum[:])
	c.objects[h] = b
	return h, nil
}

func (c *fakeContext) GetObject(hash string) ([]byte, error) {
	b, ok := c.objects[hash]
	if !ok {
		return nil, errors.New("object not found")
	}
	return b, nil
}

func (c *fakeContext) IterPriorOutputs(taskID, kind string) ([]executor.Record, error) {
	recs := c.prior[taskID]
	if kind == "" {
		return recs, nil
	}
	var out []executor.Record
	for _, r := range recs {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *fakeContext) put(content string) string {
	h, _ := c.PutObject([]byte(content))
	return h
}

func fieldInt(r executor.Record, key string) int {
	v, ok := r.Fields[key]
	if !ok {
		return -1
	}
	i, _ := v.(int)
	return i
}

func fieldStr(r executor.Record, key string) string {
	s, _ := r.Fields[key].(string)
	return s
}

// TestFullPipelineMatchesSpecScenario2 reproduces the fixture and expected
// outputs from spec §8's E2E scenario 2 end to end through
// parse -> {analyze, lint, symbols}.
func TestFullPipelineMatchesSpecScenario2(t *testing.T) {
	const fixture = "import sys\ndef f():\n  x=1\n  return 42\n"
	ctx := newFakeContext()
	hash := ctx.put(fixture)
	files := []executor.FileInput{{Path: "fx.py", Object: hash, LangHint: "python"}}

	parseRecords, err := Parse(nil, files, ctx)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parseRecords) != 1 || parseRecords[0].Kind != "ast" {
		t.Fatalf("expected one ast record, got %+v", parseRecords)
	}
	ctx.prior["01_parse"] = parseRecords

	lintRecords, err := Lint(nil, files, ctx)
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	if len(lintRecords) != 2 {
		t.Fatalf("expected exactly 2 diagnostics, got %d: %+v", len(lintRecords), lintRecords)
	}
	var sawL101, sawL102 bool
	for _, r := range lintRecords {
		switch fieldStr(r, "code") {
		case "L101":
			sawL101 = true
			if fieldInt(r, "line") != 1 {
				t.Fatalf("expected L101 on line 1, got %+v", r)
			}
		case "L102":
			sawL102 = true
			if fieldInt(r, "line") != 3 {
				t.Fatalf("expected L102 on line 3, got %+v", r)
			}
		default:
			t.Fatalf("unexpected diagnostic code %+v", r)
		}
	}
	if !sawL101 || !sawL102 {
		t.Fatalf("expected both L101 and L102, got %+v", lintRecords)
	}

	analyzeRecords, err := Analyze(nil, files, ctx)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	metrics := map[string]int{}
	for _, r := range analyzeRecords {
		metrics[fieldStr(r, "metric")] = fieldInt(r, "value")
	}
	if metrics["complexity"] != 1 || metrics["function_count"] != 1 || metrics["import_count"] != 1 {
		t.Fatalf("expected complexity=1 function_count=1 import_count=1, got %+v", metrics)
	}

	symbolRecords, err := Symbols(nil, files, ctx)
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	var sawFunc, sawVar, sawEdge bool
	for _, r := range symbolRecords {
		switch r.Kind {
		case "symbol":
			if fieldStr(r, "name") == "f" && fieldStr(r, "symbol_type") == "function" {
				sawFunc = true
			}
			if fieldStr(r, "name") == "x" && fieldStr(r, "symbol_type") == "variable" {
				sawVar = true
			}
		case "edge":
			if fieldStr(r, "target") == "sys" && fieldStr(r, "edge_type") == "imports" {
				sawEdge = true
			}
		}
	}
	if !sawFunc || !sawVar || !sawEdge {
		t.Fatalf("expected function f, variable x, and imports edge sys, got %+v", symbolRecords)
	}
}

func TestParseNonPythonEmitsTextStats(t *testing.T) {
	ctx := newFakeContext()
	hash := ctx.put("hello world\nfoo\n")
	files := []executor.FileInput{{Path: "readme.txt", Object: hash, LangHint: "text"}}

	records, err := Parse(nil, files, ctx)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(records) != 1 || records[0].Kind != "ast" || fieldInt(records[0], "lines") != 3 {
		t.Fatalf("expected a text-stats ast record with 3 split segments, got %+v", records)
	}
}

func TestAnalyzeSkipsFilesWithoutPriorAST(t *testing.T) {
	ctx := newFakeContext()
	files := []executor.FileInput{{Path: "missing.py", LangHint: "python"}}
	records, err := Analyze(nil, files, ctx)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no metrics without a prior ast record, got %+v", records)
	}
}
