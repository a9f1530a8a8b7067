// Package store resolves and lays out a store root: the single directory
// that holds every object, snapshot, batch, and derived cache the substrate
// ever writes. Nothing the substrate does reaches outside this tree.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/mcp-tool-shop-org/code-batch/internal/cberrors"
)

const (
	SchemaName    = "codebatch.store"
	SchemaVersion = 1

	metaFileName    = "store.json"
	batchesDirName  = "batches"
	indexesDirName  = "indexes"
	lmdbDirName     = "lmdb"
)

// Meta is the persisted store.json document.
type Meta struct {
	SchemaName    string `json:"schema_name"`
	SchemaVersion int    `json:"schema_version"`
	CreatedAt     string `json:"created_at"`
}

// Root is an opened, validated store root.
type Root struct {
	Path string
	Meta Meta
}

// Init creates a new store root at path, writing store.json. Fails with
// STORE_EXISTS if a store is already initialized there.
func Init(path string, now func() time.Time) (*Root, error) {
	metaPath := filepath.Join(path, metaFileName)
	if _, err := os.Stat(metaPath); err == nil {
		return nil, cberrors.StoreExistsErr(path)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, cberrors.Internal(err.Error(), nil)
	}
	if now == nil {
		now = time.Now
	}
	meta := Meta{SchemaName: SchemaName, SchemaVersion: SchemaVersion, CreatedAt: now().UTC().Format(time.RFC3339)}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, cberrors.Internal(err.Error(), nil)
	}
	tmp := metaPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return nil, cberrors.Internal(err.Error(), nil)
	}
	if err := os.Rename(tmp, metaPath); err != nil {
		return nil, cberrors.Internal(err.Error(), nil)
	}
	for _, dir := range []string{batchesDirName, filepath.Join(indexesDirName, lmdbDirName)} {
		if err := os.MkdirAll(filepath.Join(path, dir), 0o755); err != nil {
			return nil, cberrors.Internal(err.Error(), nil)
		}
	}
	return &Root{Path: path, Meta: meta}, nil
}

// Open validates and returns an existing store root.
func Open(path string) (*Root, error) {
	metaPath := filepath.Join(path, metaFileName)
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cberrors.StoreNotFoundErr(path)
		}
		return nil, cberrors.StoreInvalidErr(path, err.Error())
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, cberrors.StoreInvalidErr(path, "store.json is not valid JSON")
	}
	if meta.SchemaName != SchemaName {
		return nil, cberrors.StoreInvalidErr(path, "unexpected schema_name in store.json")
	}
	return &Root{Path: path, Meta: meta}, nil
}

// Resolve picks the store root from an explicit flag value, falling back to
// CODEBATCH_STORE, per §6.
func Resolve(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("CODEBATCH_STORE")
}

// BatchesDir returns the root's batches/ directory.
func (r *Root) BatchesDir() string {
	return filepath.Join(r.Path, batchesDirName)
}

// IndexesDir returns the root's indexes/lmdb/ directory.
func (r *Root) IndexesDir() string {
	return filepath.Join(r.Path, indexesDirName, lmdbDirName)
}

// CacheMetaPath returns the path of the cache's fingerprint sidecar file.
func (r *Root) CacheMetaPath() string {
	return filepath.Join(r.Path, indexesDirName, "cache_meta.json")
}

// LockPath returns the advisory single-writer lock file path named by §5.
func (r *Root) LockPath() string {
	return filepath.Join(r.Path, ".lock")
}
