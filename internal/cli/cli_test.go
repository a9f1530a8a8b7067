package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// run executes the root command with args, capturing stdout, and returns
// the command's own output plus the process exit code Execute() computed.
func run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	code := Execute()
	return out.String(), code
}

func writeSourceTree(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "a.py"), []byte("import os\nx = 1\n"), 0o644); err != nil {
		t.Fatalf("write a.py: %v", err)
	}
}

func TestCLIEndToEnd(t *testing.T) {
	storeDir := filepath.Join(t.TempDir(), "store")
	srcDir := t.TempDir()
	writeSourceTree(t, srcDir)

	if out, code := run(t, "init", storeDir); code != 0 {
		t.Fatalf("init failed (%d): %s", code, out)
	}

	snapOut, code := run(t, "--store", storeDir, "--json", "snapshot", srcDir)
	if code != 0 {
		t.Fatalf("snapshot failed (%d): %s", code, snapOut)
	}
	var snapResult struct {
		SnapshotID string `json:"snapshot_id"`
	}
	if err := json.Unmarshal([]byte(snapOut), &snapResult); err != nil {
		t.Fatalf("decode snapshot output: %v\n%s", err, snapOut)
	}
	if snapResult.SnapshotID == "" {
		t.Fatalf("empty snapshot_id")
	}

	batchOut, code := run(t, "--store", storeDir, "--json", "batch", "init",
		"--snapshot", snapResult.SnapshotID, "--pipeline", "parse")
	if code != 0 {
		t.Fatalf("batch init failed (%d): %s", code, batchOut)
	}
	var batchMeta struct {
		BatchID string `json:"batch_id"`
	}
	if err := json.Unmarshal([]byte(batchOut), &batchMeta); err != nil {
		t.Fatalf("decode batch init output: %v\n%s", err, batchOut)
	}

	if out, code := run(t, "--store", storeDir, "run", "--batch", batchMeta.BatchID); code != 0 {
		t.Fatalf("run failed (%d): %s", code, out)
	}

	scanOut, code := run(t, "--store", storeDir, "--json", "query", "outputs",
		"--batch", batchMeta.BatchID, "--task", "01_parse")
	if code != 0 {
		t.Fatalf("query outputs failed (%d): %s", code, scanOut)
	}
	var scanResult struct {
		Source string `json:"source"`
		Count  int    `json:"count"`
	}
	if err := json.Unmarshal([]byte(scanOut), &scanResult); err != nil {
		t.Fatalf("decode query outputs: %v\n%s", err, scanOut)
	}
	if scanResult.Source != "scan" {
		t.Fatalf("expected scan before any index-build, got %q", scanResult.Source)
	}
	if scanResult.Count == 0 {
		t.Fatalf("expected at least one output record for a.py")
	}

	if out, code := run(t, "--store", storeDir, "index-build", "--batch", batchMeta.BatchID); code != 0 {
		t.Fatalf("index-build failed (%d): %s", code, out)
	}

	cacheOut, code := run(t, "--store", storeDir, "--json", "query", "outputs",
		"--batch", batchMeta.BatchID, "--task", "01_parse")
	if code != 0 {
		t.Fatalf("query outputs (cached) failed (%d): %s", code, cacheOut)
	}
	if err := json.Unmarshal([]byte(cacheOut), &scanResult); err != nil {
		t.Fatalf("decode cached query outputs: %v\n%s", err, cacheOut)
	}
	if scanResult.Source != "cache" {
		t.Fatalf("expected cache right after index-build, got %q", scanResult.Source)
	}

	if out, code := run(t, "--store", storeDir, "query", "diagnostics",
		"--batch", batchMeta.BatchID, "--task", "01_parse", "--severity", "nonexistent", "--strict"); code != 1 {
		t.Fatalf("expected exit 1 for an empty --strict query, got %d: %s", code, out)
	}

	statusOut, code := run(t, "--store", storeDir, "status", "--batch", batchMeta.BatchID)
	if code != 0 {
		t.Fatalf("status failed (%d): %s", code, statusOut)
	}
	if !strings.Contains(statusOut, "01_parse") {
		t.Fatalf("expected status to mention 01_parse, got %s", statusOut)
	}
}

func TestCLIMissingStoreIsExitCode2(t *testing.T) {
	out, code := run(t, "snapshot", t.TempDir())
	if code != 2 {
		t.Fatalf("expected exit 2 without --store/$CODEBATCH_STORE, got %d: %s", code, out)
	}
}

func TestCLIPipelinesListsBuiltins(t *testing.T) {
	out, code := run(t, "pipelines")
	if code != 0 {
		t.Fatalf("pipelines failed (%d): %s", code, out)
	}
	if !strings.Contains(out, "full") || !strings.Contains(out, "parse") {
		t.Fatalf("expected built-in template names in output, got %s", out)
	}
}
