// Package batch materializes and loads one execution attempt bound to a
// snapshot: batch.json, plan.json, the events.jsonl observability stream,
// and the tasks/<tid>/shards/<sid> subtree each shard runs inside.
package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/mcp-tool-shop-org/code-batch/internal/cberrors"
	"github.com/mcp-tool-shop-org/code-batch/internal/plan"
	"github.com/mcp-tool-shop-org/code-batch/internal/sortutil"
)

const (
	SchemaName    = "codebatch.batch"
	SchemaVersion = 1

	TaskSchemaName  = "codebatch.task"
	ShardSchemaName = "codebatch.shard_state"

	batchMetaFileName  = "batch.json"
	planFileName       = "plan.json"
	eventsFileName     = "events.jsonl"
	tasksDirName       = "tasks"
	taskMetaFileName   = "task.json"
	shardsDirName      = "shards"
	shardStateFileName = "state.json"
	outputsIndexName   = "outputs.index.jsonl"
)

// Shard states, per spec §4.5. Reset returns to StatePending, not the
// original implementation's "ready" — spec.md's state machine is explicit
// and authoritative here.
const (
	StatePending = "pending"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// Meta is the persisted batch.json document.
type Meta struct {
	SchemaName    string `json:"schema_name"`
	SchemaVersion int    `json:"schema_version"`
	BatchID       string `json:"batch_id"`
	SnapshotID    string `json:"snapshot_id"`
	Pipeline      string `json:"pipeline"`
	CreatedAt     string `json:"created_at"`
}

// TaskMeta is the persisted tasks/<tid>/task.json document.
type TaskMeta struct {
	SchemaName    string          `json:"schema_name"`
	SchemaVersion int             `json:"schema_version"`
	TaskID        string          `json:"task_id"`
	Type          string          `json:"type"`
	Deps          []string        `json:"deps,omitempty"`
	Config        json.RawMessage `json:"config,omitempty"`
}

// ShardState is the persisted shards/<sid>/state.json document.
type ShardState struct {
	SchemaName    string `json:"schema_name"`
	SchemaVersion int    `json:"schema_version"`
	ShardID       string `json:"shard_id"`
	State         string `json:"state"`
	Attempt       int    `json:"attempt"`
	UpdatedAt     string `json:"updated_at"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// Event is one non-authoritative line of an events.jsonl stream.
type Event struct {
	TS      string         `json:"ts"`
	Type    string         `json:"type"`
	TaskID  string         `json:"task_id,omitempty"`
	ShardID string         `json:"shard_id,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// GenerateBatchID mints a batch id following the original implementation's
// batch-<timestamp>-<uuid8> convention; spec.md does not constrain the
// format, so it is kept unchanged.
func GenerateBatchID(now time.Time) string {
	return fmt.Sprintf("batch-%s-%s", now.UTC().Format("20060102T150405Z"), uuid.New().String()[:8])
}

// Manager materializes and loads batches under a store root's batches/ dir.
type Manager struct {
	dir string
}

// NewManager returns a Manager rooted at <storeRoot>/batches.
func NewManager(storeRoot string) *Manager {
	return &Manager{dir: filepath.Join(storeRoot, "batches")}
}

func (m *Manager) batchDir(batchID string) string   { return filepath.Join(m.dir, batchID) }
func (m *Manager) taskDir(batchID, taskID string) string {
	return filepath.Join(m.batchDir(batchID), tasksDirName, taskID)
}
func (m *Manager) shardDir(batchID, taskID, shardID string) string {
	return filepath.Join(m.taskDir(batchID, taskID), shardsDirName, shardID)
}

// OutputsIndexPath returns a shard's outputs.index.jsonl path.
func (m *Manager) OutputsIndexPath(batchID, taskID, shardID string) string {
	return filepath.Join(m.shardDir(batchID, taskID, shardID), outputsIndexName)
}

// InitBatch builds a plan from templateName, validates it, and materializes
// the full batches/<id> subtree with every shard's state.json at "pending".
func (m *Manager) InitBatch(snapshotID, templateName string, registeredTypes map[string]bool, now func() time.Time) (*Meta, *plan.Plan, error) {
	if now == nil {
		now = time.Now
	}
	batchID := GenerateBatchID(now())

	p, err := plan.Build(batchID, templateName)
	if err != nil {
		return nil, nil, cberrors.PipelineNotFoundErr(templateName)
	}
	if err := plan.Validate(p, registeredTypes); err != nil {
		return nil, nil, cberrors.DepsUnsatisfiedErr(batchID, err.Error())
	}

	bdir := m.batchDir(batchID)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return nil, nil, cberrors.Internal(err.Error(), nil)
	}

	meta := Meta{
		SchemaName: SchemaName, SchemaVersion: SchemaVersion,
		BatchID: batchID, SnapshotID: snapshotID, Pipeline: templateName,
		CreatedAt: now().UTC().Format(time.RFC3339),
	}
	if err := writeJSONAtomic(filepath.Join(bdir, batchMetaFileName), meta); err != nil {
		return nil, nil, cberrors.Internal(err.Error(), nil)
	}
	if err := writeJSONAtomic(filepath.Join(bdir, planFileName), p); err != nil {
		return nil, nil, cberrors.Internal(err.Error(), nil)
	}
	if err := touchFile(filepath.Join(bdir, eventsFileName)); err != nil {
		return nil, nil, cberrors.Internal(err.Error(), nil)
	}

	for _, t := range p.Tasks {
		tdir := m.taskDir(batchID, t.TaskID)
		if err := os.MkdirAll(tdir, 0o755); err != nil {
			return nil, nil, cberrors.Internal(err.Error(), nil)
		}
		tm := TaskMeta{
			SchemaName: TaskSchemaName, SchemaVersion: SchemaVersion,
			TaskID: t.TaskID, Type: t.Type, Deps: t.Deps, Config: t.Config,
		}
		if err := writeJSONAtomic(filepath.Join(tdir, taskMetaFileName), tm); err != nil {
			return nil, nil, cberrors.Internal(err.Error(), nil)
		}
		if err := touchFile(filepath.Join(tdir, eventsFileName)); err != nil {
			return nil, nil, cberrors.Internal(err.Error(), nil)
		}
		for i := 0; i < plan.ShardCount; i++ {
			shardID := fmt.Sprintf("%02x", i)
			sdir := m.shardDir(batchID, t.TaskID, shardID)
			if err := os.MkdirAll(sdir, 0o755); err != nil {
				return nil, nil, cberrors.Internal(err.Error(), nil)
			}
			state := ShardState{
				SchemaName: ShardSchemaName, SchemaVersion: SchemaVersion,
				ShardID: shardID, State: StatePending, Attempt: 0,
				UpdatedAt: now().UTC().Format(time.RFC3339),
			}
			if err := writeJSONAtomic(filepath.Join(sdir, shardStateFileName), state); err != nil {
				return nil, nil, cberrors.Internal(err.Error(), nil)
			}
		}
	}
	return &meta, p, nil
}

// LoadMeta reads a batch's batch.json.
func (m *Manager) LoadMeta(batchID string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(m.batchDir(batchID), batchMetaFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cberrors.BatchNotFoundErr(batchID, "")
		}
		return nil, cberrors.Internal(err.Error(), nil)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, cberrors.Internal(err.Error(), nil)
	}
	return &meta, nil
}

// LoadPlan reads a batch's plan.json.
func (m *Manager) LoadPlan(batchID string) (*plan.Plan, error) {
	data, err := os.ReadFile(filepath.Join(m.batchDir(batchID), planFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cberrors.BatchNotFoundErr(batchID, "")
		}
		return nil, cberrors.Internal(err.Error(), nil)
	}
	var p plan.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, cberrors.Internal(err.Error(), nil)
	}
	return &p, nil
}

// LoadTaskMeta reads a task's task.json.
func (m *Manager) LoadTaskMeta(batchID, taskID string) (*TaskMeta, error) {
	data, err := os.ReadFile(filepath.Join(m.taskDir(batchID, taskID), taskMetaFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cberrors.TaskNotFoundErr(taskID)
		}
		return nil, cberrors.Internal(err.Error(), nil)
	}
	var tm TaskMeta
	if err := json.Unmarshal(data, &tm); err != nil {
		return nil, cberrors.Internal(err.Error(), nil)
	}
	return &tm, nil
}

// LoadShardState reads a shard's state.json.
func (m *Manager) LoadShardState(batchID, taskID, shardID string) (*ShardState, error) {
	data, err := os.ReadFile(filepath.Join(m.shardDir(batchID, taskID, shardID), shardStateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cberrors.ShardNotFoundErr(shardID)
		}
		return nil, cberrors.Internal(err.Error(), nil)
	}
	var s ShardState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, cberrors.Internal(err.Error(), nil)
	}
	return &s, nil
}

// SaveShardState writes state.json atomically via tmp-rename, the sole
// transition mechanism for a shard's state machine.
func (m *Manager) SaveShardState(batchID, taskID string, state ShardState) error {
	path := filepath.Join(m.shardDir(batchID, taskID, state.ShardID), shardStateFileName)
	return writeJSONAtomic(path, state)
}

// ShardIDs returns the full deterministic shard id space, "00".."ff".
func ShardIDs() []string {
	ids := make([]string, plan.ShardCount)
	for i := range ids {
		ids[i] = fmt.Sprintf("%02x", i)
	}
	return ids
}

// ListShardStates reads every shard's state for a task, sorted by shard id.
func (m *Manager) ListShardStates(batchID, taskID string) ([]ShardState, error) {
	var states []ShardState
	for _, id := range ShardIDs() {
		s, err := m.LoadShardState(batchID, taskID, id)
		if err != nil {
			return nil, err
		}
		states = append(states, *s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ShardID < states[j].ShardID })
	return states, nil
}

// AppendEvent appends one non-authoritative event to both the task's and
// the batch's events.jsonl, mirroring the original runner's dual writes.
func (m *Manager) AppendEvent(batchID, taskID, shardID, eventType string, fields map[string]any, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	ev := Event{TS: now().UTC().Format(time.RFC3339), Type: eventType, TaskID: taskID, ShardID: shardID, Fields: fields}
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	batchEvents := filepath.Join(m.batchDir(batchID), eventsFileName)
	paths := []string{batchEvents}
	if taskID != "" {
		paths = append(paths, filepath.Join(m.taskDir(batchID, taskID), eventsFileName))
	}
	for _, p := range paths {
		if err := appendLine(p, line); err != nil {
			return err
		}
	}
	return m.rotateEventsIfLarge(batchEvents, now())
}

// eventsRotateThreshold is the batch-level events.jsonl size, past which the
// next AppendEvent call rotates the current contents into a gzip segment.
const eventsRotateThreshold = 8 * 1024 * 1024

// rotateEventsIfLarge gzip-compresses path into a timestamped
// "events.jsonl.<ts>.gz" segment and truncates path back to empty once it
// crosses eventsRotateThreshold. events.jsonl is explicitly non-authoritative
// (spec §3), so compressing or losing a segment to a crash mid-rotation never
// affects a batch's recoverable state.
func (m *Manager) rotateEventsIfLarge(path string, ts time.Time) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < eventsRotateThreshold {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	segPath := path + "." + ts.UTC().Format("20060102T150405Z") + ".gz"
	tmp := segPath + ".tmp"
	if err := writeGzipFile(tmp, data); err != nil {
		return err
	}
	if err := os.Rename(tmp, segPath); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.WriteFile(path, nil, 0o644)
}

func writeGzipFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(f)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		f.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// List returns every batch id with a written batch.json.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.dir, e.Name(), batchMetaFileName)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	return sortutil.StablePathSort(ids), nil
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func touchFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if _, err := w.Write(line); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
