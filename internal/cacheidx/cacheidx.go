// Package cacheidx builds the derived bbolt query-acceleration cache
// described by spec §4.8: a rebuildable mirror of the authoritative
// files.index.jsonl and outputs.index.jsonl files, never itself a source of
// truth. Grounded on original_source/src/codebatch/cache.py,
// cache_meta.py, and index_build.py for the bucket layout and the
// fingerprint formula; the storage engine is substituted per the
// LMDB->bbolt entry in SPEC_FULL.md's DOMAIN STACK (no example repo vendors an LMDB
// binding, and other_examples/mvp-scale-aOa__storage.go establishes bbolt
// as the pack's key/value store of choice for this kind of index).
package cacheidx

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mcp-tool-shop-org/code-batch/internal/batch"
	"github.com/mcp-tool-shop-org/code-batch/internal/output"
	"github.com/mcp-tool-shop-org/code-batch/internal/pathkey"
	"github.com/mcp-tool-shop-org/code-batch/internal/plan"
	"github.com/mcp-tool-shop-org/code-batch/internal/snapshot"
)

// Sep is the unit-separator delimiter (U+001F) used between key components,
// per spec §4.8.
const Sep = "\x1f"

// Bucket names, mirroring the LMDB sub-databases named in §4.8.
const (
	BucketMeta            = "meta"
	BucketFilesByPath     = "files_by_path"
	BucketOutputsByKind   = "outputs_by_kind"
	BucketDiagsBySeverity = "diags_by_sev"
	BucketDiagsByCode     = "diags_by_code"
	BucketStats           = "stats"
)

const (
	MetaSchemaName    = "codebatch.cache_meta"
	MetaSchemaVersion = 1
)

var allBuckets = []string{
	BucketMeta, BucketFilesByPath, BucketOutputsByKind,
	BucketDiagsBySeverity, BucketDiagsByCode, BucketStats,
}

// Meta is the persisted cache_meta.json sidecar: the fingerprint a router
// checks before trusting the cache, plus enough inventory to explain a
// mismatch.
type Meta struct {
	SchemaName    string   `json:"schema_name"`
	SchemaVersion int      `json:"schema_version"`
	BatchID       string   `json:"batch_id"`
	SnapshotID    string   `json:"snapshot_id"`
	Fingerprint   string   `json:"fingerprint"`
	SourceFiles   []string `json:"source_files"`
	CreatedAt     string   `json:"created_at"`
}

// Fingerprint computes fp = SHA-256( SHA-256(files.index.jsonl) ‖
// Σ SHA-256(shard.outputs.index.jsonl) ), concatenating shard hashes in
// canonical (task order, then shard id) order, per §4.8 step 5. A shard
// with no outputs.index.jsonl yet (never run) hashes as the empty string.
func Fingerprint(filesIndexPath string, batches *batch.Manager, batchID string, p *plan.Plan) (string, error) {
	filesBytes, err := os.ReadFile(filesIndexPath)
	if err != nil {
		return "", fmt.Errorf("reading files index: %w", err)
	}
	h := sha256.New()
	filesSum := sha256.Sum256(filesBytes)
	h.Write(filesSum[:])

	for _, t := range p.Tasks {
		for _, shardID := range batch.ShardIDs() {
			path := batches.OutputsIndexPath(batchID, t.TaskID, shardID)
			b, err := os.ReadFile(path)
			if err != nil {
				if !os.IsNotExist(err) {
					return "", fmt.Errorf("reading %s: %w", path, err)
				}
				b = nil
			}
			sum := sha256.Sum256(b)
			h.Write(sum[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteMeta atomically writes cache_meta.json.
func WriteMeta(path string, meta Meta) error {
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadMeta reads cache_meta.json. A missing file is not an error; the
// caller (the router) treats a nil Meta as "no cache".
func ReadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Build rebuilds the bbolt env at dbPath and the cache_meta.json at
// metaPath from the authoritative files index and every task's shard
// outputs, per §4.8. It is always a full rebuild: dbPath is recreated from
// scratch so a half-written previous cache never lingers.
func Build(dbPath, metaPath, filesIndexPath string, fileRecords []snapshot.FileRecord, batches *batch.Manager, batchID, snapshotID string, p *plan.Plan, now func() time.Time) (string, error) {
	if now == nil {
		now = time.Now
	}
	fp, err := Fingerprint(filesIndexPath, batches, batchID, p)
	if err != nil {
		return "", err
	}

	_ = os.Remove(dbPath)
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return "", fmt.Errorf("opening cache env: %w", err)
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := make(map[string]*bolt.Bucket, len(allBuckets))
		for _, name := range allBuckets {
			b, err := tx.CreateBucketIfNotExists([]byte(name))
			if err != nil {
				return err
			}
			buckets[name] = b
		}

		if err := buckets[BucketMeta].Put([]byte("fingerprint"), []byte(fp)); err != nil {
			return err
		}
		if err := putFiles(buckets[BucketFilesByPath], fileRecords); err != nil {
			return err
		}

		kindCounts := map[string]int{}
		sevCodeCounts := map[string]int{}
		seq := 0
		for _, t := range p.Tasks {
			for _, shardID := range batch.ShardIDs() {
				records, err := output.ReadIndex(batches.OutputsIndexPath(batchID, t.TaskID, shardID))
				if err != nil {
					return err
				}
				for _, r := range records {
					seq++
					if err := putRecord(buckets, t.TaskID, shardID, seq, r); err != nil {
						return err
					}
					kindCounts[t.TaskID+Sep+r.Kind]++
					if r.Kind == "diagnostic" {
						sevCodeCounts[t.TaskID+Sep+strField(r, "severity")+Sep+strField(r, "code")]++
					}
				}
			}
		}
		return putStats(buckets[BucketStats], kindCounts, sevCodeCounts)
	})
	if err != nil {
		return "", fmt.Errorf("building cache: %w", err)
	}

	meta := Meta{
		SchemaName: MetaSchemaName, SchemaVersion: MetaSchemaVersion,
		BatchID: batchID, SnapshotID: snapshotID, Fingerprint: fp,
		SourceFiles: []string{filesIndexPath},
		CreatedAt:   now().UTC().Format(time.RFC3339),
	}
	if err := WriteMeta(metaPath, meta); err != nil {
		return "", fmt.Errorf("writing cache_meta.json: %w", err)
	}
	return fp, nil
}

func putFiles(b *bolt.Bucket, records []snapshot.FileRecord) error {
	for _, r := range records {
		v, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(pathkey.Key(r.Path)), v); err != nil {
			return err
		}
	}
	return nil
}

func putRecord(buckets map[string]*bolt.Bucket, taskID, shardID string, seq int, r output.Record) error {
	v, err := json.Marshal(r)
	if err != nil {
		return err
	}
	pk := pathkey.Key(r.Path)
	seqKey := fmt.Sprintf("%08d", seq)

	key := taskID + Sep + r.Kind + Sep + pk + Sep + shardID + Sep + seqKey
	if err := buckets[BucketOutputsByKind].Put([]byte(key), v); err != nil {
		return err
	}
	if r.Kind != "diagnostic" {
		return nil
	}
	sev, code := strField(r, "severity"), strField(r, "code")
	sevKey := taskID + Sep + sev + Sep + pk + Sep + seqKey
	if err := buckets[BucketDiagsBySeverity].Put([]byte(sevKey), v); err != nil {
		return err
	}
	codeKey := taskID + Sep + code + Sep + pk + Sep + seqKey
	return buckets[BucketDiagsByCode].Put([]byte(codeKey), v)
}

func putStats(b *bolt.Bucket, kindCounts, sevCodeCounts map[string]int) error {
	for key, n := range kindCounts {
		if err := b.Put([]byte("kind"+Sep+key), []byte(fmt.Sprintf("%d", n))); err != nil {
			return err
		}
	}
	for key, n := range sevCodeCounts {
		if err := b.Put([]byte("severity_code"+Sep+key), []byte(fmt.Sprintf("%d", n))); err != nil {
			return err
		}
	}
	return nil
}

func strField(r output.Record, key string) string {
	v, ok := r.Fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
