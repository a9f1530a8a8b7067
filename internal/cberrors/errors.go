// Package cberrors provides the structured error envelope shared by every
// CLI command: a machine-readable code, a human message, actionable hints,
// and free-form details.
package cberrors

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Error codes. Store/batch/snapshot/pipeline/task/shard/gate errors mirror
// the original Python CLI's code table; CAS/dependency/cache codes are
// added for the substrate's own components.
const (
	StoreNotFound    = "STORE_NOT_FOUND"
	StoreInvalid     = "STORE_INVALID"
	StoreExists      = "STORE_EXISTS"
	BatchNotFound    = "BATCH_NOT_FOUND"
	BatchInvalid     = "BATCH_INVALID"
	SnapshotNotFound = "SNAPSHOT_NOT_FOUND"
	SnapshotInvalid  = "SNAPSHOT_INVALID"
	PipelineNotFound = "PIPELINE_NOT_FOUND"
	TaskNotFound     = "TASK_NOT_FOUND"
	ShardNotFound    = "SHARD_NOT_FOUND"
	GateNotFound     = "GATE_NOT_FOUND"
	InvalidArgument  = "INVALID_ARGUMENT"
	SchemaError      = "SCHEMA_ERROR"
	FileNotFound     = "FILE_NOT_FOUND"
	PathCollision    = "PATH_COLLISION"
	CASCorrupt       = "CAS_CORRUPT"
	DepsUnsatisfied  = "DEPS_UNSATISFIED"
	ExecutorFailed   = "EXECUTOR_FAILED"
	CacheStale       = "CACHE_STALE"
	CommandError     = "COMMAND_ERROR"
	InternalError    = "INTERNAL_ERROR"
)

// Error is the structured envelope rendered by both the --json and text
// paths of the CLI. It implements the error interface so it can flow
// through ordinary Go error handling up to the command layer.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hints   []string       `json:"hints"`
	Details map[string]any `json:"details"`
}

func (e *Error) Error() string {
	return e.Message
}

type envelope struct {
	Error *Error `json:"error"`
}

// JSON renders the error envelope as indented JSON.
func (e *Error) JSON() ([]byte, error) {
	return json.MarshalIndent(envelope{Error: e}, "", "  ")
}

// PrintJSON writes the JSON envelope to w (defaults to stderr when w is nil).
func (e *Error) PrintJSON(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	b, err := e.JSON()
	if err != nil {
		fmt.Fprintf(w, `{"error":{"code":%q,"message":"failed to render error"}}`+"\n", e.Code)
		return
	}
	fmt.Fprintln(w, string(b))
}

// PrintText writes a human-readable rendering to w (defaults to stderr).
func (e *Error) PrintText(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "Error: %s\n", e.Message)
	for _, h := range e.Hints {
		fmt.Fprintf(w, "  Hint: %s\n", h)
	}
}

// Print renders err in JSON or text form depending on jsonMode. Non-*Error
// values are wrapped as an internal error first.
func Print(err error, jsonMode bool, w io.Writer) {
	cbe, ok := err.(*Error)
	if !ok {
		cbe = Internal(err.Error(), nil)
	}
	if jsonMode {
		cbe.PrintJSON(w)
	} else {
		cbe.PrintText(w)
	}
}

func details(kv ...any) map[string]any {
	d := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		d[key] = kv[i+1]
	}
	return d
}

// StoreNotFoundErr reports a missing store root.
func StoreNotFoundErr(path string) *Error {
	return &Error{
		Code:    StoreNotFound,
		Message: fmt.Sprintf("Store does not exist: %s", path),
		Hints: []string{
			fmt.Sprintf("Run: codebatch init %s", path),
			"Check that the path is correct",
		},
		Details: details("path", path),
	}
}

// StoreInvalidErr reports a store root that exists but fails validation.
func StoreInvalidErr(path, reason string) *Error {
	msg := fmt.Sprintf("Invalid store: %s", path)
	if reason != "" {
		msg += fmt.Sprintf(" (%s)", reason)
	}
	return &Error{
		Code:    StoreInvalid,
		Message: msg,
		Hints: []string{
			"Ensure the store was initialized with 'codebatch init'",
			"Check store.json exists and is valid",
		},
		Details: details("path", path, "reason", reason),
	}
}

// StoreExistsErr reports that init was run against an already-initialized root.
func StoreExistsErr(path string) *Error {
	return &Error{
		Code:    StoreExists,
		Message: fmt.Sprintf("Store already exists: %s", path),
		Hints: []string{
			"Use a different path",
			"Remove existing store if you want to reinitialize",
		},
		Details: details("path", path),
	}
}

// BatchNotFoundErr reports an unknown batch id.
func BatchNotFoundErr(batchID, store string) *Error {
	hint := "Run: codebatch batch list --store <path>"
	d := details("batch_id", batchID)
	if store != "" {
		hint = fmt.Sprintf("Run: codebatch batch list --store %s", store)
		d["store"] = store
	}
	return &Error{
		Code:    BatchNotFound,
		Message: fmt.Sprintf("Batch not found: %s", batchID),
		Hints:   []string{hint},
		Details: d,
	}
}

// SnapshotNotFoundErr reports an unknown snapshot id.
func SnapshotNotFoundErr(snapshotID, store string) *Error {
	hint := "Run: codebatch snapshot list --store <path>"
	d := details("snapshot_id", snapshotID)
	if store != "" {
		hint = fmt.Sprintf("Run: codebatch snapshot list --store %s", store)
		d["store"] = store
	}
	return &Error{
		Code:    SnapshotNotFound,
		Message: fmt.Sprintf("Snapshot not found: %s", snapshotID),
		Hints:   []string{hint},
		Details: d,
	}
}

// PipelineNotFoundErr reports an unregistered pipeline template name.
func PipelineNotFoundErr(name string) *Error {
	return &Error{
		Code:    PipelineNotFound,
		Message: fmt.Sprintf("Pipeline not found: %s", name),
		Hints: []string{
			"Run: codebatch pipelines --json",
			"Check the pipeline name spelling",
		},
		Details: details("pipeline", name),
	}
}

// TaskNotFoundErr reports an unknown task id within a batch.
func TaskNotFoundErr(taskID string) *Error {
	return &Error{
		Code:    TaskNotFound,
		Message: fmt.Sprintf("Task not found: %s", taskID),
		Hints:   []string{"Run: codebatch status --batch <batch_id> --store <path>"},
		Details: details("task_id", taskID),
	}
}

// ShardNotFoundErr reports an unknown shard id within a task.
func ShardNotFoundErr(shardID string) *Error {
	return &Error{
		Code:    ShardNotFound,
		Message: fmt.Sprintf("Shard not found: %s", shardID),
		Hints:   []string{"Run: codebatch status --batch <batch_id> --store <path>"},
		Details: details("shard_id", shardID),
	}
}

// GateNotFoundErr reports an unknown gate id.
func GateNotFoundErr(gateID string) *Error {
	return &Error{
		Code:    GateNotFound,
		Message: fmt.Sprintf("Gate not found: %s", gateID),
		Hints: []string{
			"Check the gate ID spelling",
		},
		Details: details("gate_id", gateID),
	}
}

// InvalidArgumentErr reports a malformed or out-of-range CLI argument.
func InvalidArgumentErr(name, value, reason string) *Error {
	msg := fmt.Sprintf("Invalid argument '%s': %s", name, value)
	if reason != "" {
		msg += fmt.Sprintf(" (%s)", reason)
	}
	return &Error{
		Code:    InvalidArgument,
		Message: msg,
		Hints: []string{
			"Check the argument value",
			"Run: codebatch <command> --help",
		},
		Details: details("argument", name, "value", value, "reason", reason),
	}
}

// FileNotFoundErr reports a missing filesystem path supplied by the caller.
func FileNotFoundErr(path string) *Error {
	return &Error{
		Code:    FileNotFound,
		Message: fmt.Sprintf("File not found: %s", path),
		Hints:   []string{"Check that the file path is correct"},
		Details: details("path", path),
	}
}

// PathCollisionErr reports two distinct source paths normalizing to the
// same path_key within a snapshot (e.g. case-only collisions).
func PathCollisionErr(pathKey, a, b string) *Error {
	return &Error{
		Code:    PathCollision,
		Message: fmt.Sprintf("Path collision on %s: %s and %s normalize to the same key", pathKey, a, b),
		Hints:   []string{"Rename one of the colliding paths before snapshotting"},
		Details: details("path_key", pathKey, "path_a", a, "path_b", b),
	}
}

// CASCorruptErr reports an object store entry whose recomputed hash does
// not match its address.
func CASCorruptErr(hash string) *Error {
	return &Error{
		Code:    CASCorrupt,
		Message: fmt.Sprintf("Object store entry corrupt: %s", hash),
		Hints:   []string{"The store may have been modified outside of codebatch"},
		Details: details("hash", hash),
	}
}

// DepsUnsatisfiedErr reports a plan whose task graph cannot be scheduled
// (missing or cyclic dependency).
func DepsUnsatisfiedErr(taskID string, reason string) *Error {
	return &Error{
		Code:    DepsUnsatisfied,
		Message: fmt.Sprintf("Dependencies unsatisfied for task %s: %s", taskID, reason),
		Hints:   []string{"Run: codebatch pipelines --json to inspect the task graph"},
		Details: details("task_id", taskID, "reason", reason),
	}
}

// ExecutorFailedErr reports a shard whose executor returned an error.
func ExecutorFailedErr(shardID, taskType, reason string) *Error {
	return &Error{
		Code:    ExecutorFailed,
		Message: fmt.Sprintf("Executor failed for shard %s (%s): %s", shardID, taskType, reason),
		Hints:   []string{"Run: codebatch status --batch <batch_id> --store <path>"},
		Details: details("shard_id", shardID, "task_type", taskType, "reason", reason),
	}
}

// CacheStaleErr reports a fingerprint mismatch between the query cache and
// its authoritative source; callers should fall back to a scan.
func CacheStaleErr(batchID string) *Error {
	return &Error{
		Code:    CacheStale,
		Message: fmt.Sprintf("Cache is stale for batch %s, falling back to scan", batchID),
		Hints:   []string{"Run: codebatch index-build --batch <batch_id> --store <path> to refresh"},
		Details: details("batch_id", batchID),
	}
}

// Command wraps a generic command-level failure.
func Command(message string, d map[string]any) *Error {
	if d == nil {
		d = map[string]any{}
	}
	return &Error{Code: CommandError, Message: message, Hints: nil, Details: d}
}

// Internal wraps an unexpected failure that should be reported upstream.
func Internal(message string, d map[string]any) *Error {
	if d == nil {
		d = map[string]any{}
	}
	return &Error{
		Code:    InternalError,
		Message: fmt.Sprintf("Internal error: %s", message),
		Hints:   []string{"Please report this issue"},
		Details: d,
	}
}

// ExitCode maps an error code to the process exit code named by §7: 2 for a
// bad store or arguments, 3 for anything internal, 1 for every other
// structured failure (missing snapshot/batch, path collisions, a CAS
// verify failure, ...).
func ExitCode(code string) int {
	switch code {
	case StoreNotFound, StoreInvalid, StoreExists, InvalidArgument:
		return 2
	case InternalError:
		return 3
	default:
		return 1
	}
}
