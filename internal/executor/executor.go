// Package executor defines the interface every task type implements: a
// pure, deterministic function over a shard's files and prior outputs.
package executor

import "encoding/json"

// FileInput is one file of a shard's input set, as seen by an executor.
type FileInput struct {
	Path     string
	PathKey  string
	Object   string
	Size     int64
	LangHint string
}

// Record is one output record an executor emits. The runner stamps
// schema_version, snapshot_id, batch_id, task_id, shard_id, and ts after
// the executor returns; the executor supplies everything else.
type Record struct {
	Path    string
	Kind    string
	Object  string
	Format  string
	Fields  map[string]any
}

// Context is the scoped view of the store an executor may consult. It
// never exposes anything outside the current shard's task/kind scope or
// the object store.
type Context interface {
	// IterPriorOutputs streams records from an earlier task in this batch,
	// restricted to the current shard's path set. kind == "" means all kinds.
	IterPriorOutputs(taskID, kind string) ([]Record, error)
	// PutObject stores bytes in the content-addressed store and returns its hash.
	PutObject(b []byte) (string, error)
	// GetObject reads back bytes previously stored at hash, the mechanism
	// an executor uses to read a FileInput's content via its Object hash.
	GetObject(hash string) ([]byte, error)
}

// Executor is the pure function every task type implements.
type Executor interface {
	// Run processes files and returns the records it produces. config is the
	// task's resolved JSON configuration, decoded by the executor itself.
	Run(config json.RawMessage, files []FileInput, ctx Context) ([]Record, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(config json.RawMessage, files []FileInput, ctx Context) ([]Record, error)

func (f Func) Run(config json.RawMessage, files []FileInput, ctx Context) ([]Record, error) {
	return f(config, files, ctx)
}
