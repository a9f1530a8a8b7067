package query

import (
	"testing"
	"time"

	"github.com/mcp-tool-shop-org/code-batch/internal/batch"
	"github.com/mcp-tool-shop-org/code-batch/internal/output"
)

func fixedNow() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func setupBatch(t *testing.T) (*batch.Manager, string) {
	t.Helper()
	dir := t.TempDir()
	mgr := batch.NewManager(dir)
	registered := map[string]bool{"parse": true, "analyze": true, "symbols": true, "lint": true}
	meta, _, err := mgr.InitBatch("snap-1", "full", registered, fixedNow)
	if err != nil {
		t.Fatalf("InitBatch: %v", err)
	}
	return mgr, meta.BatchID
}

func rec(path, kind string, fields map[string]any) output.Record {
	return output.Record{
		SchemaVersion: output.SchemaVersion, SnapshotID: "snap-1", BatchID: "b", TaskID: "04_lint",
		ShardID: "00", Path: path, Kind: kind, TS: "2026-01-02T03:04:05Z", Fields: fields,
	}
}

func TestScanFiltersAndOrdersCanonically(t *testing.T) {
	mgr, batchID := setupBatch(t)
	taskID := "04_lint"

	shardA := mgr.OutputsIndexPath(batchID, taskID, "00")
	shardB := mgr.OutputsIndexPath(batchID, taskID, "01")

	if err := output.WriteIndex(shardA, []output.Record{
		rec("b.py", "diagnostic", map[string]any{"severity": "error", "code": "L101", "line": 5}),
		rec("a.py", "diagnostic", map[string]any{"severity": "warning", "code": "L102", "line": 1}),
	}); err != nil {
		t.Fatalf("WriteIndex a: %v", err)
	}
	if err := output.WriteIndex(shardB, []output.Record{
		rec("a.py", "metric", map[string]any{"metric": "complexity", "value": 1}),
	}); err != nil {
		t.Fatalf("WriteIndex b: %v", err)
	}

	all, err := Scan(mgr, batchID, taskID, Filter{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records across shards, got %d", len(all))
	}
	// canonical order: path_key ASC first, so a.py's two records precede b.py's.
	if all[0].Path != "a.py" || all[1].Path != "a.py" || all[2].Path != "b.py" {
		t.Fatalf("unexpected canonical order: %+v", all)
	}
	// within a.py, kind ASC: "diagnostic" < "metric".
	if all[0].Kind != "diagnostic" || all[1].Kind != "metric" {
		t.Fatalf("unexpected kind order within a.py: %+v", all[:2])
	}

	diags, err := Diagnostics(mgr, batchID, taskID, "", "", "")
	if err != nil {
		t.Fatalf("Diagnostics: %v", err)
	}
	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", len(diags))
	}

	errOnly, err := Diagnostics(mgr, batchID, taskID, "error", "", "")
	if err != nil {
		t.Fatalf("Diagnostics severity filter: %v", err)
	}
	if len(errOnly) != 1 || errOnly[0].Path != "b.py" {
		t.Fatalf("expected one error diagnostic on b.py, got %+v", errOnly)
	}
}

func TestScanMissingShardIsEmptyNotError(t *testing.T) {
	mgr, batchID := setupBatch(t)
	records, err := Scan(mgr, batchID, "04_lint", Filter{})
	if err != nil {
		t.Fatalf("Scan over untouched shards: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %+v", records)
	}
}

func TestStatsByKindAndSeverityCode(t *testing.T) {
	mgr, batchID := setupBatch(t)
	taskID := "04_lint"
	path := mgr.OutputsIndexPath(batchID, taskID, "00")
	if err := output.WriteIndex(path, []output.Record{
		rec("a.py", "diagnostic", map[string]any{"severity": "error", "code": "L101"}),
		rec("a.py", "diagnostic", map[string]any{"severity": "error", "code": "L101"}),
		rec("a.py", "diagnostic", map[string]any{"severity": "warning", "code": "L102"}),
		rec("a.py", "metric", map[string]any{"metric": "complexity", "value": 1}),
	}); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}

	byKind, err := StatsByKind(mgr, batchID, taskID)
	if err != nil {
		t.Fatalf("StatsByKind: %v", err)
	}
	if byKind.Counts["diagnostic"] != 3 || byKind.Counts["metric"] != 1 {
		t.Fatalf("unexpected kind counts: %+v", byKind.Counts)
	}

	bySevCode, err := StatsBySeverityCode(mgr, batchID, taskID)
	if err != nil {
		t.Fatalf("StatsBySeverityCode: %v", err)
	}
	if bySevCode.Counts["error\x1fL101"] != 2 || bySevCode.Counts["warning\x1fL102"] != 1 {
		t.Fatalf("unexpected severity/code counts: %+v", bySevCode.Counts)
	}
	keys := SortedKeys(bySevCode)
	if len(keys) != 2 || keys[0] != "error\x1fL101" {
		t.Fatalf("expected sorted keys starting with error\x1fL101, got %+v", keys)
	}
}
