package shard

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcp-tool-shop-org/code-batch/internal/batch"
	"github.com/mcp-tool-shop-org/code-batch/internal/cberrors"
	"github.com/mcp-tool-shop-org/code-batch/internal/executor"
	"github.com/mcp-tool-shop-org/code-batch/internal/objstore"
	"github.com/mcp-tool-shop-org/code-batch/internal/output"
	"github.com/mcp-tool-shop-org/code-batch/internal/snapshot"
)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestIDForIsStableAndTwoHexChars(t *testing.T) {
	a := IDFor("a.py")
	b := IDFor("a.py")
	if a != b {
		t.Fatalf("IDFor not stable: %q vs %q", a, b)
	}
	if len(a) != 2 {
		t.Fatalf("expected 2 hex chars, got %q", a)
	}
}

func buildHarness(t *testing.T, template string, fixture map[string]string, executors map[string]executor.Executor) (*Runner, *batch.Manager, string, string) {
	t.Helper()
	root := t.TempDir()
	store, err := objstore.Open(root)
	if err != nil {
		t.Fatalf("objstore.Open: %v", err)
	}
	builder := snapshot.NewBuilder(root, store)

	srcDir := t.TempDir()
	for name, content := range fixture {
		if err := os.WriteFile(filepath.Join(srcDir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	snapID, err := builder.Build(srcDir, snapshot.Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	registered := map[string]bool{}
	for typ := range executors {
		registered[typ] = true
	}
	batches := batch.NewManager(root)
	meta, _, err := batches.InitBatch(snapID, template, registered, fixedNow)
	if err != nil {
		t.Fatalf("InitBatch: %v", err)
	}

	runner := New(store, builder, batches, executors)
	return runner, batches, meta.BatchID, snapID
}

func onlyParse(exec executor.Executor) map[string]executor.Executor {
	return map[string]executor.Executor{"parse": exec}
}

func echoExecutor(config json.RawMessage, files []executor.FileInput, ctx executor.Context) ([]executor.Record, error) {
	var out []executor.Record
	for _, f := range files {
		out = append(out, executor.Record{
			Path: f.Path, Kind: "diagnostic",
			Fields: map[string]any{"severity": "error", "code": "L1", "message": "x", "line": 1},
		})
	}
	return out, nil
}

func TestRunShardWritesOutputsForMatchingShardOnly(t *testing.T) {
	runner, batches, batchID, _ := buildHarness(t, "parse", map[string]string{"a.py": "x=1\n"}, onlyParse(executor.Func(echoExecutor)))

	if err := runner.Run(context.Background(), batchID, 4); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ownerShard := IDFor("a.py")
	records, err := output.ReadIndex(batches.OutputsIndexPath(batchID, "01_parse", ownerShard))
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if len(records) != 1 || records[0].Path != "a.py" {
		t.Fatalf("expected one record for a.py in shard %s, got %+v", ownerShard, records)
	}

	states, err := batches.ListShardStates(batchID, "01_parse")
	if err != nil {
		t.Fatalf("ListShardStates: %v", err)
	}
	for _, s := range states {
		if s.State != batch.StateDone {
			t.Fatalf("expected all 256 shards Done, shard %s is %s", s.ShardID, s.State)
		}
	}
}

func TestRunShardSkipsAlreadyDone(t *testing.T) {
	calls := 0
	counting := executor.Func(func(config json.RawMessage, files []executor.FileInput, ctx executor.Context) ([]executor.Record, error) {
		calls++
		return nil, nil
	})
	runner, _, batchID, _ := buildHarness(t, "parse", map[string]string{"a.py": "x=1\n"}, onlyParse(counting))

	shardID := IDFor("a.py")
	if err := runner.RunShard(context.Background(), batchID, "01_parse", shardID); err != nil {
		t.Fatalf("first RunShard: %v", err)
	}
	firstCalls := calls
	if err := runner.RunShard(context.Background(), batchID, "01_parse", shardID); err != nil {
		t.Fatalf("second RunShard: %v", err)
	}
	if calls != firstCalls {
		t.Fatalf("expected no further executor invocation once Done, calls went from %d to %d", firstCalls, calls)
	}
}

func TestRunShardFailsOnUnsatisfiedDeps(t *testing.T) {
	executors := map[string]executor.Executor{
		"parse":   executor.Func(echoExecutor),
		"analyze": executor.Func(echoExecutor),
		"symbols": executor.Func(echoExecutor),
		"lint":    executor.Func(echoExecutor),
	}
	runner, _, batchID, _ := buildHarness(t, "full", map[string]string{"a.py": "x=1\n"}, executors)
	shardID := IDFor("a.py")

	err := runner.RunShard(context.Background(), batchID, "02_analyze", shardID)
	if err == nil {
		t.Fatalf("expected DEPS_UNSATISFIED before 01_parse runs")
	}
	cbe, ok := err.(*cberrors.Error)
	if !ok || cbe.Code != cberrors.DepsUnsatisfied {
		t.Fatalf("expected DEPS_UNSATISFIED, got %v", err)
	}

	if err := runner.RunShard(context.Background(), batchID, "01_parse", shardID); err != nil {
		t.Fatalf("RunShard 01_parse: %v", err)
	}
	if err := runner.RunShard(context.Background(), batchID, "02_analyze", shardID); err != nil {
		t.Fatalf("expected 02_analyze to proceed once 01_parse is done, got %v", err)
	}
}

func TestResetShardOnlyAppliesToFailed(t *testing.T) {
	failing := executor.Func(func(config json.RawMessage, files []executor.FileInput, ctx executor.Context) ([]executor.Record, error) {
		if len(files) > 0 {
			return nil, errFailing
		}
		return nil, nil
	})
	runner, batches, batchID, _ := buildHarness(t, "parse", map[string]string{"a.py": "x=1\n"}, onlyParse(failing))

	shardID := IDFor("a.py")
	if err := runner.RunShard(context.Background(), batchID, "01_parse", shardID); err == nil {
		t.Fatalf("expected shard to fail")
	}
	state, err := batches.LoadShardState(batchID, "01_parse", shardID)
	if err != nil {
		t.Fatalf("LoadShardState: %v", err)
	}
	if state.State != batch.StateFailed {
		t.Fatalf("expected Failed, got %s", state.State)
	}

	if err := runner.ResetShard(batchID, "01_parse", shardID, fixedNow); err != nil {
		t.Fatalf("ResetShard: %v", err)
	}
	state, err = batches.LoadShardState(batchID, "01_parse", shardID)
	if err != nil {
		t.Fatalf("LoadShardState: %v", err)
	}
	if state.State != batch.StatePending {
		t.Fatalf("expected reset to Pending, got %s", state.State)
	}

	emptyShard := "00"
	if emptyShard == shardID {
		emptyShard = "01"
	}
	if err := runner.ResetShard(batchID, "01_parse", emptyShard, fixedNow); err == nil {
		t.Fatalf("expected reset of a non-Failed shard to error")
	} else if cbe, ok := err.(*cberrors.Error); !ok || cbe.Code != cberrors.CommandError {
		t.Fatalf("expected COMMAND_ERROR, got %v", err)
	}
}

var errFailing = &cberrors.Error{Code: cberrors.ExecutorFailed, Message: "boom"}
