// Package output defines the output record written to a shard's
// outputs.index.jsonl, the chunk manifest used for oversized payloads, and
// the JSONL read/write helpers shared by the runner, query engine, and
// cache builder.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mcp-tool-shop-org/code-batch/internal/objstore"
)

const (
	SchemaName    = "codebatch.output"
	SchemaVersion = 1

	ChunkSchemaName = "codebatch.chunks"
	ChunkThreshold  = 1 << 20 // 1 MiB
	ChunkSize       = 1 << 20
)

// Record is one line of a shard's outputs.index.jsonl. Header fields are
// always present; Fields carries kind-specific payload (severity, code,
// message, line, column, name, symbol_type, scope, metric, value,
// edge_type, target, ...).
type Record struct {
	SchemaVersion int            `json:"schema_version"`
	SnapshotID    string         `json:"snapshot_id"`
	BatchID       string         `json:"batch_id"`
	TaskID        string         `json:"task_id"`
	ShardID       string         `json:"shard_id"`
	Path          string         `json:"path"`
	Kind          string         `json:"kind"`
	TS            string         `json:"ts"`
	Object        string         `json:"object,omitempty"`
	Format        string         `json:"format,omitempty"`
	Fields        map[string]any `json:"-"`
}

// MarshalJSON flattens Fields alongside the header so the wire format is a
// single flat object, matching the record shapes described for diagnostics,
// metrics, symbols, ast, and edges.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+9)
	for k, v := range r.Fields {
		m[k] = v
	}
	m["schema_version"] = r.SchemaVersion
	m["snapshot_id"] = r.SnapshotID
	m["batch_id"] = r.BatchID
	m["task_id"] = r.TaskID
	m["shard_id"] = r.ShardID
	m["path"] = r.Path
	m["kind"] = r.Kind
	m["ts"] = r.TS
	if r.Object != "" {
		m["object"] = r.Object
	}
	if r.Format != "" {
		m["format"] = r.Format
	}
	return json.Marshal(m)
}

var headerKeys = map[string]bool{
	"schema_version": true, "snapshot_id": true, "batch_id": true, "task_id": true,
	"shard_id": true, "path": true, "kind": true, "ts": true, "object": true, "format": true,
}

// UnmarshalJSON splits the flat wire object back into header fields and
// the kind-specific Fields map, tolerating unknown fields per §6.
func (r *Record) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	r.Fields = make(map[string]any)
	for k, v := range m {
		switch k {
		case "schema_version":
			if f, ok := v.(float64); ok {
				r.SchemaVersion = int(f)
			}
		case "snapshot_id":
			r.SnapshotID, _ = v.(string)
		case "batch_id":
			r.BatchID, _ = v.(string)
		case "task_id":
			r.TaskID, _ = v.(string)
		case "shard_id":
			r.ShardID, _ = v.(string)
		case "path":
			r.Path, _ = v.(string)
		case "kind":
			r.Kind, _ = v.(string)
		case "ts":
			r.TS, _ = v.(string)
		case "object":
			r.Object, _ = v.(string)
		case "format":
			r.Format, _ = v.(string)
		default:
			r.Fields[k] = v
		}
	}
	return nil
}

// RequiredFieldsPresent validates the header fields every record must carry
// before it is serialized.
func (r Record) RequiredFieldsPresent() error {
	missing := []string{}
	if r.SnapshotID == "" {
		missing = append(missing, "snapshot_id")
	}
	if r.BatchID == "" {
		missing = append(missing, "batch_id")
	}
	if r.TaskID == "" {
		missing = append(missing, "task_id")
	}
	if r.ShardID == "" {
		missing = append(missing, "shard_id")
	}
	if r.Path == "" {
		missing = append(missing, "path")
	}
	if r.Kind == "" {
		missing = append(missing, "kind")
	}
	if r.TS == "" {
		missing = append(missing, "ts")
	}
	if len(missing) > 0 {
		return fmt.Errorf("output record missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ChunkManifest is the CAS object a record's `object` points at when its
// payload exceeded ChunkThreshold at write time.
type ChunkManifest struct {
	SchemaName    string   `json:"schema_name"`
	SchemaVersion int      `json:"schema_version"`
	Kind          string   `json:"kind"`
	Format        string   `json:"format"`
	Chunks        []string `json:"chunks"`
	TotalBytes    int64    `json:"total_bytes"`
}

// PutPayload stores payload bytes for a record, chunking when it exceeds
// ChunkThreshold. Returns the object hash to set on the record and the
// format string (the caller's format unchanged for a direct object,
// "chunks/v1" for a manifest).
func PutPayload(store *objstore.Store, kind, format string, payload []byte) (object, recordFormat string, err error) {
	if len(payload) <= ChunkThreshold {
		hash, err := store.Put(payload)
		if err != nil {
			return "", "", err
		}
		return hash, format, nil
	}

	var chunkHashes []string
	for off := 0; off < len(payload); off += ChunkSize {
		end := off + ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		h, err := store.Put(payload[off:end])
		if err != nil {
			return "", "", err
		}
		chunkHashes = append(chunkHashes, h)
	}

	manifest := ChunkManifest{
		SchemaName:    ChunkSchemaName,
		SchemaVersion: 1,
		Kind:          kind,
		Format:        format,
		Chunks:        chunkHashes,
		TotalBytes:    int64(len(payload)),
	}
	b, err := json.Marshal(manifest)
	if err != nil {
		return "", "", err
	}
	hash, err := store.Put(b)
	if err != nil {
		return "", "", err
	}
	return hash, "chunks/v1", nil
}

// GetPayload reads back the bytes referenced by object, reassembling a
// chunk manifest's children in order if recordFormat indicates one.
func GetPayload(store *objstore.Store, object, recordFormat string) ([]byte, error) {
	if recordFormat != "chunks/v1" {
		return store.Get(object)
	}
	raw, err := store.Get(object)
	if err != nil {
		return nil, err
	}
	var manifest ChunkManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, err
	}
	if manifest.SchemaName != ChunkSchemaName {
		return raw, nil
	}
	var buf []byte
	for _, h := range manifest.Chunks {
		chunk, err := store.Get(h)
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
	}
	return buf, nil
}

// WriteIndex serializes records as a complete replacement of path via
// tmp-rename: the only commit mechanism an outputs.index.jsonl ever sees.
func WriteIndex(path string, records []Record) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return err
		}
		if _, err := w.Write(line); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadIndex loads every record from an outputs.index.jsonl. Missing files
// are treated as an empty index (a shard that matched no files).
func ReadIndex(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CanonicalOrder sorts records per §4.7: (path_key ASC, kind ASC, line ASC,
// column ASC, code ASC). pathKeyOf resolves a record's path to its
// comparison key (typically the lowercase of Path).
func CanonicalOrder(records []Record, pathKeyOf func(path string) string) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		ak, bk := pathKeyOf(a.Path), pathKeyOf(b.Path)
		if ak != bk {
			return ak < bk
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if al, bl := intField(a, "line"), intField(b, "line"); al != bl {
			return al < bl
		}
		if ac, bc := intField(a, "column"), intField(b, "column"); ac != bc {
			return ac < bc
		}
		return strField(a, "code") < strField(b, "code")
	})
}

func intField(r Record, key string) int {
	v, ok := r.Fields[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	default:
		return 0
	}
}

func strField(r Record, key string) string {
	v, ok := r.Fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
