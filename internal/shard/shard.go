// Package shard implements the shard state machine and the bounded worker
// pool that drives a batch's shards to completion: state.json transitions,
// executor invocation, and the atomic outputs.index.jsonl commit.
package shard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mcp-tool-shop-org/code-batch/internal/batch"
	"github.com/mcp-tool-shop-org/code-batch/internal/cberrors"
	"github.com/mcp-tool-shop-org/code-batch/internal/executor"
	"github.com/mcp-tool-shop-org/code-batch/internal/logx"
	"github.com/mcp-tool-shop-org/code-batch/internal/objstore"
	"github.com/mcp-tool-shop-org/code-batch/internal/output"
	"github.com/mcp-tool-shop-org/code-batch/internal/snapshot"
)

// IDFor returns the shard id (first two hex chars of SHA-256(path_key))
// that owns pathKey, per §3/§4.8's REDESIGNED path_key-based sharding.
func IDFor(pathKey string) string {
	sum := sha256.Sum256([]byte(pathKey))
	return hex.EncodeToString(sum[:1])
}

// Runner drives shards: it owns the object store, snapshot loader, batch
// metadata manager, and the registry of task-type executors.
type Runner struct {
	Store     *objstore.Store
	Snapshots *snapshot.Builder
	Batches   *batch.Manager
	Executors map[string]executor.Executor
	Logger    zerolog.Logger
}

// New returns a Runner wired against the given components.
func New(store *objstore.Store, snapshots *snapshot.Builder, batches *batch.Manager, executors map[string]executor.Executor) *Runner {
	return &Runner{Store: store, Snapshots: snapshots, Batches: batches, Executors: executors, Logger: logx.Component(logx.New(), "shard")}
}

// shardContext is the executor.Context implementation scoped to one
// shard's task dependencies and the current shard id only: prior-output
// access is a tree, not a graph (§9).
type shardContext struct {
	store   *objstore.Store
	batches *batch.Manager
	batchID string
	shardID string
	deps    []string
}

func (c *shardContext) IterPriorOutputs(taskID, kind string) ([]executor.Record, error) {
	allowed := false
	for _, d := range c.deps {
		if d == taskID {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("task %s is not a dependency of the current task; prior-output access is scoped to deps", taskID)
	}
	records, err := output.ReadIndex(c.batches.OutputsIndexPath(c.batchID, taskID, c.shardID))
	if err != nil {
		return nil, err
	}
	out := make([]executor.Record, 0, len(records))
	for _, r := range records {
		if kind != "" && r.Kind != kind {
			continue
		}
		out = append(out, executor.Record{Path: r.Path, Kind: r.Kind, Object: r.Object, Format: r.Format, Fields: r.Fields})
	}
	return out, nil
}

func (c *shardContext) PutObject(b []byte) (string, error) {
	return c.store.Put(b)
}

func (c *shardContext) GetObject(hash string) ([]byte, error) {
	return c.store.Get(hash)
}

// filesForShard returns the snapshot's files whose path_key hashes into
// shardID, preserving canonical order.
func filesForShard(index []snapshot.FileRecord, shardID string) []snapshot.FileRecord {
	var files []snapshot.FileRecord
	for _, f := range index {
		if IDFor(f.PathKey) == shardID {
			files = append(files, f)
		}
	}
	return files
}

// depsSatisfied reports whether every dep task's shard with the same shard
// id is in StateDone.
func (r *Runner) depsSatisfied(batchID, shardID string, deps []string) (bool, error) {
	for _, dep := range deps {
		s, err := r.Batches.LoadShardState(batchID, dep, shardID)
		if err != nil {
			return false, err
		}
		if s.State != batch.StateDone {
			return false, nil
		}
	}
	return true, nil
}

// RunShard executes one shard through the state machine described in §4.5.
// It is idempotent: a shard already Done returns immediately. A shard
// whose deps are unsatisfied returns a DEPS_UNSATISFIED error the caller
// (the wavefront driver, or an operator re-running run-shard directly) may
// treat as retryable.
func (r *Runner) RunShard(ctx context.Context, batchID, taskID, shardID string) error {
	log := r.Logger.With().Str("batch_id", batchID).Str("task_id", taskID).Str("shard_id", shardID).Logger()

	state, err := r.Batches.LoadShardState(batchID, taskID, shardID)
	if err != nil {
		return err
	}
	if state.State == batch.StateDone {
		return nil
	}

	task, err := r.Batches.LoadTaskMeta(batchID, taskID)
	if err != nil {
		return err
	}

	ok, err := r.depsSatisfied(batchID, shardID, task.Deps)
	if err != nil {
		return err
	}
	if !ok {
		return cberrors.DepsUnsatisfiedErr(taskID, "one or more dependency shards are not done")
	}

	exec, ok := r.Executors[task.Type]
	if !ok {
		return cberrors.Command(fmt.Sprintf("no executor registered for task type %q", task.Type), nil)
	}

	now := time.Now
	state.State = batch.StateRunning
	state.Attempt++
	state.UpdatedAt = now().UTC().Format(time.RFC3339)
	state.ErrorCode, state.ErrorMessage = "", ""
	if err := r.Batches.SaveShardState(batchID, taskID, *state); err != nil {
		return err
	}
	_ = r.Batches.AppendEvent(batchID, taskID, shardID, "shard_started", map[string]any{"attempt": state.Attempt}, now)
	log.Info().Int("attempt", state.Attempt).Msg("shard started")

	if ctx.Err() != nil {
		return r.failShard(batchID, taskID, *state, "CANCELLED", ctx.Err().Error(), now)
	}

	batchMeta, err := r.Batches.LoadMeta(batchID)
	if err != nil {
		return r.failShard(batchID, taskID, *state, cberrors.InternalError, err.Error(), now)
	}
	fileIndex, err := r.Snapshots.LoadFileIndex(batchMeta.SnapshotID)
	if err != nil {
		return r.failShard(batchID, taskID, *state, cberrors.InternalError, err.Error(), now)
	}
	shardFiles := filesForShard(fileIndex, shardID)

	files := make([]executor.FileInput, len(shardFiles))
	for i, f := range shardFiles {
		files[i] = executor.FileInput{Path: f.Path, PathKey: f.PathKey, Object: f.Object, Size: f.Size, LangHint: f.LangHint}
	}

	execCtx := &shardContext{store: r.Store, batches: r.Batches, batchID: batchID, shardID: shardID, deps: task.Deps}
	records, err := exec.Run(task.Config, files, execCtx)
	if err != nil {
		return r.failShard(batchID, taskID, *state, cberrors.ExecutorFailed, err.Error(), now)
	}

	if ctx.Err() != nil {
		return r.failShard(batchID, taskID, *state, "CANCELLED", ctx.Err().Error(), now)
	}

	ts := now().UTC().Format(time.RFC3339)
	outRecords := make([]output.Record, len(records))
	for i, rec := range records {
		o := output.Record{
			SchemaVersion: output.SchemaVersion,
			SnapshotID:    batchMeta.SnapshotID,
			BatchID:       batchID,
			TaskID:        taskID,
			ShardID:       shardID,
			Path:          rec.Path,
			Kind:          rec.Kind,
			TS:            ts,
			Object:        rec.Object,
			Format:        rec.Format,
			Fields:        rec.Fields,
		}
		if err := o.RequiredFieldsPresent(); err != nil {
			return r.failShard(batchID, taskID, *state, cberrors.SchemaError, err.Error(), now)
		}
		outRecords[i] = o
	}

	if err := output.WriteIndex(r.Batches.OutputsIndexPath(batchID, taskID, shardID), outRecords); err != nil {
		return r.failShard(batchID, taskID, *state, cberrors.InternalError, err.Error(), now)
	}

	state.State = batch.StateDone
	state.UpdatedAt = now().UTC().Format(time.RFC3339)
	if err := r.Batches.SaveShardState(batchID, taskID, *state); err != nil {
		return err
	}
	_ = r.Batches.AppendEvent(batchID, taskID, shardID, "shard_completed", map[string]any{
		"files_processed": len(files), "outputs_written": len(outRecords),
	}, now)
	log.Info().Int("files_processed", len(files)).Int("outputs_written", len(outRecords)).Msg("shard completed")
	return nil
}

func (r *Runner) failShard(batchID, taskID string, state batch.ShardState, code, message string, now func() time.Time) error {
	state.State = batch.StateFailed
	state.ErrorCode = code
	state.ErrorMessage = message
	state.UpdatedAt = now().UTC().Format(time.RFC3339)
	_ = r.Batches.SaveShardState(batchID, taskID, state)
	_ = r.Batches.AppendEvent(batchID, taskID, state.ShardID, "shard_failed", map[string]any{"error_code": code, "error_message": message}, now)
	r.Logger.Error().Str("batch_id", batchID).Str("task_id", taskID).Str("shard_id", state.ShardID).Str("code", code).Msg(message)
	return cberrors.ExecutorFailedErr(state.ShardID, taskID, message)
}

// ResetShard moves a Failed shard back to Pending, preserving its attempt
// count, per the operator-triggered "reset" transition in §4.5.
func (r *Runner) ResetShard(batchID, taskID, shardID string, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	state, err := r.Batches.LoadShardState(batchID, taskID, shardID)
	if err != nil {
		return err
	}
	if state.State != batch.StateFailed {
		return cberrors.Command(fmt.Sprintf("shard %s is %s, not failed; reset only applies to failed shards", shardID, state.State), nil)
	}
	state.State = batch.StatePending
	state.ErrorCode, state.ErrorMessage = "", ""
	state.UpdatedAt = now().UTC().Format(time.RFC3339)
	return r.Batches.SaveShardState(batchID, taskID, *state)
}

// Run drives every non-Done shard of batchID to completion, task by task in
// plan order (a valid wavefront since deps only ever reference earlier
// tasks), with up to workers shards of the current task running at once.
// It is also the implementation of the "resume" command: a shard already
// Done is a no-op in RunShard, so re-invoking Run after a partial run
// resumes exactly where it left off.
func (r *Runner) Run(ctx context.Context, batchID string, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	p, err := r.Batches.LoadPlan(batchID)
	if err != nil {
		return err
	}

	for _, task := range p.Tasks {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, shardID := range batch.ShardIDs() {
			shardID := shardID
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				err := r.RunShard(ctx, batchID, task.TaskID, shardID)
				if cbe, ok := err.(*cberrors.Error); ok && cbe.Code == cberrors.DepsUnsatisfied {
					return nil
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}
