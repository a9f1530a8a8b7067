package cacheidx

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcp-tool-shop-org/code-batch/internal/batch"
	"github.com/mcp-tool-shop-org/code-batch/internal/output"
	"github.com/mcp-tool-shop-org/code-batch/internal/snapshot"
)

func fixedNow() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func setupBatch(t *testing.T) (string, *batch.Manager, string) {
	t.Helper()
	storeDir := t.TempDir()
	mgr := batch.NewManager(storeDir)
	registered := map[string]bool{"parse": true, "lint": true, "analyze": true, "symbols": true}
	meta, _, err := mgr.InitBatch("snap-1", "full", registered, fixedNow)
	if err != nil {
		t.Fatalf("InitBatch: %v", err)
	}
	return storeDir, mgr, meta.BatchID
}

func writeFilesIndex(t *testing.T, dir string) (string, []snapshot.FileRecord) {
	t.Helper()
	records := []snapshot.FileRecord{
		{SchemaVersion: 1, Path: "a.py", PathKey: "a.py", Object: "deadbeef", Size: 10, LangHint: "python"},
	}
	path := filepath.Join(dir, "files.index.jsonl")
	var buf []byte
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal file record: %v", err)
		}
		buf = append(buf, b...)
		buf = append(buf, '\n')
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("writeFilesIndex: %v", err)
	}
	return path, records
}

func TestBuildAndFingerprintAreDeterministic(t *testing.T) {
	storeDir, mgr, batchID := setupBatch(t)
	p, err := mgr.LoadPlan(batchID)
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	filesPath, records := writeFilesIndex(t, storeDir)

	if err := output.WriteIndex(mgr.OutputsIndexPath(batchID, "04_lint", "00"), []output.Record{
		{SchemaVersion: 1, SnapshotID: "snap-1", BatchID: batchID, TaskID: "04_lint", ShardID: "00",
			Path: "a.py", Kind: "diagnostic", TS: "2026-01-02T03:04:05Z",
			Fields: map[string]any{"severity": "error", "code": "L101", "line": 1}},
	}); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}

	dbPath := filepath.Join(storeDir, "cache.db")
	metaPath := filepath.Join(storeDir, "cache_meta.json")

	fp1, err := Build(dbPath, metaPath, filesPath, records, mgr, batchID, "snap-1", p, fixedNow)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if fp1 == "" {
		t.Fatalf("expected non-empty fingerprint")
	}

	fp2, err := Fingerprint(filesPath, mgr, batchID, p)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fp1 != fp2 {
		t.Fatalf("Build's fingerprint %q does not match a recomputed Fingerprint %q", fp1, fp2)
	}

	meta, err := ReadMeta(metaPath)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta == nil || meta.Fingerprint != fp1 {
		t.Fatalf("expected cache_meta.json to record fingerprint %q, got %+v", fp1, meta)
	}

	reader, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	if reader.Fingerprint() != fp1 {
		t.Fatalf("reader fingerprint %q != build fingerprint %q", reader.Fingerprint(), fp1)
	}

	diags, err := reader.Diagnostics("04_lint", "", "", "")
	if err != nil {
		t.Fatalf("Diagnostics: %v", err)
	}
	if len(diags) != 1 || diags[0].Path != "a.py" {
		t.Fatalf("expected one diagnostic on a.py, got %+v", diags)
	}

	byKind, err := reader.StatsByKind("04_lint")
	if err != nil {
		t.Fatalf("StatsByKind: %v", err)
	}
	if byKind["diagnostic"] != 1 {
		t.Fatalf("expected 1 diagnostic in stats, got %+v", byKind)
	}
}

func TestFingerprintChangesWhenOutputsChange(t *testing.T) {
	storeDir, mgr, batchID := setupBatch(t)
	p, err := mgr.LoadPlan(batchID)
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	filesPath, _ := writeFilesIndex(t, storeDir)

	fpBefore, err := Fingerprint(filesPath, mgr, batchID, p)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	if err := output.WriteIndex(mgr.OutputsIndexPath(batchID, "04_lint", "00"), []output.Record{
		{SchemaVersion: 1, SnapshotID: "snap-1", BatchID: batchID, TaskID: "04_lint", ShardID: "00",
			Path: "a.py", Kind: "diagnostic", TS: "2026-01-02T03:04:05Z",
			Fields: map[string]any{"severity": "error", "code": "L101", "line": 1}},
	}); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}

	fpAfter, err := Fingerprint(filesPath, mgr, batchID, p)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fpBefore == fpAfter {
		t.Fatalf("expected fingerprint to change once a shard's outputs changed")
	}
}
