// Package snapshot builds and loads immutable snapshots of a source tree:
// a canonically ordered file index plus a content-hashed snapshot_id.
package snapshot

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mcp-tool-shop-org/code-batch/internal/cberrors"
	"github.com/mcp-tool-shop-org/code-batch/internal/objstore"
	"github.com/mcp-tool-shop-org/code-batch/internal/pathkey"
	"github.com/mcp-tool-shop-org/code-batch/internal/sortutil"
)

const (
	SchemaName    = "codebatch.snapshot"
	SchemaVersion = 1
	Producer      = "codebatch"

	indexFileName    = "files.index.jsonl"
	metaFileName     = "snapshot.json"
	snapshotsDirName = "snapshots"
)

// langHints maps file extensions to a coarse language label; the reference
// executors treat a file as analyzable Python when its label is "python".
var langHints = map[string]string{
	".py": "python", ".js": "javascript", ".ts": "typescript", ".tsx": "typescript",
	".jsx": "javascript", ".cs": "csharp", ".java": "java", ".go": "go", ".rs": "rust",
	".c": "c", ".cpp": "cpp", ".cc": "cpp", ".h": "c", ".hpp": "cpp", ".rb": "ruby",
	".php": "php", ".swift": "swift", ".kt": "kotlin", ".scala": "scala", ".r": "r",
	".sql": "sql", ".sh": "shell", ".bash": "shell", ".zsh": "shell", ".ps1": "powershell",
	".md": "markdown", ".json": "json", ".yaml": "yaml", ".yml": "yaml", ".xml": "xml",
	".html": "html", ".css": "css", ".scss": "scss", ".sass": "sass", ".less": "less",
}

func detectLangHint(path string) string {
	return langHints[strings.ToLower(filepath.Ext(path))]
}

// FileRecord is one row of a snapshot's file index.
type FileRecord struct {
	SchemaVersion int    `json:"schema_version"`
	Path          string `json:"path"`
	PathKey       string `json:"path_key"`
	Object        string `json:"object"`
	Size          int64  `json:"size"`
	LangHint      string `json:"lang_hint,omitempty"`
	Mode          uint32 `json:"mode,omitempty"`
	Mtime         int64  `json:"mtime,omitempty"`
	TextHash      string `json:"text_hash,omitempty"`
}

// Warning records a file skipped during the walk. Case collisions across
// the final path set are not warnings: they fail the build with
// PATH_COLLISION.
type Warning struct {
	Paths   []string `json:"paths,omitempty"`
	Path    string   `json:"path,omitempty"`
	Reason  string   `json:"reason"`
	Message string   `json:"message"`
}

// Meta is the persisted snapshot.json document.
type Meta struct {
	SchemaName    string         `json:"schema_name"`
	SchemaVersion int            `json:"schema_version"`
	Producer      string         `json:"producer"`
	SnapshotID    string         `json:"snapshot_id"`
	CreatedAt     string         `json:"created_at"`
	Source        SourceMeta     `json:"source"`
	FileCount     int            `json:"file_count"`
	TotalBytes    int64          `json:"total_bytes"`
	Warnings      []Warning      `json:"warnings,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// SourceMeta records where the snapshot's bytes came from.
type SourceMeta struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// Options controls the walk that produces a snapshot.
type Options struct {
	IncludeHidden  bool
	FollowSymlinks bool
	Metadata       map[string]any
	Now            func() time.Time
}

// Builder builds and loads snapshots rooted at a store's snapshots/ directory.
type Builder struct {
	store *objstore.Store
	dir   string
}

// NewBuilder returns a Builder that stores objects via store and snapshots
// under <storeRoot>/snapshots.
func NewBuilder(storeRoot string, store *objstore.Store) *Builder {
	return &Builder{store: store, dir: filepath.Join(storeRoot, snapshotsDirName)}
}

// ErrSnapshotExists is returned by Build when the target snapshot directory
// already exists, enforcing immutability of a previously written snapshot.
type ErrSnapshotExists struct{ ID string }

func (e *ErrSnapshotExists) Error() string {
	return fmt.Sprintf("snapshot already exists: %s", e.ID)
}

// Build walks sourceDir, stores every regular file's bytes in the object
// store, and writes files.index.jsonl + snapshot.json under a
// content-hashed snapshot_id. Returns the snapshot id.
func (b *Builder) Build(sourceDir string, opt Options) (string, error) {
	absSource, err := filepath.Abs(sourceDir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(absSource)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("source is not a directory: %s", absSource)
	}

	records, warnings, totalBytes, err := b.walk(absSource, opt)
	if err != nil {
		return "", err
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].PathKey < records[j].PathKey })

	id, err := computeSnapshotID(records)
	if err != nil {
		return "", err
	}

	snapDir := filepath.Join(b.dir, id)
	if _, err := os.Stat(snapDir); err == nil {
		return "", &ErrSnapshotExists{ID: id}
	}
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return "", err
	}

	if err := writeFileIndex(filepath.Join(snapDir, indexFileName), records); err != nil {
		return "", err
	}

	now := time.Now
	if opt.Now != nil {
		now = opt.Now
	}

	meta := Meta{
		SchemaName:    SchemaName,
		SchemaVersion: SchemaVersion,
		Producer:      Producer,
		SnapshotID:    id,
		CreatedAt:     now().UTC().Format(time.RFC3339),
		Source:        SourceMeta{Type: "directory", Path: absSource},
		FileCount:     len(records),
		TotalBytes:    totalBytes,
		Metadata:      opt.Metadata,
		Warnings:      warnings,
	}
	if err := writeMeta(filepath.Join(snapDir, metaFileName), &meta); err != nil {
		return "", err
	}
	return id, nil
}

// computeSnapshotID hashes the canonically ordered file index exactly as
// written to files.index.jsonl, including each file's mtime, so the same
// files with the same bytes and mtimes always produce identical ids.
func computeSnapshotID(records []FileRecord) (string, error) {
	var buf strings.Builder
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return "", err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(buf.String()))
	return hex.EncodeToString(sum[:]), nil
}

func (b *Builder) walk(root string, opt Options) ([]FileRecord, []Warning, int64, error) {
	var records []FileRecord
	var warnings []Warning
	var total int64
	loopGuard := map[string]bool{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if !opt.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if isSymlinkEntry(d) {
				if !opt.FollowSymlinks {
					return filepath.SkipDir
				}
				resolved, err := filepath.EvalSymlinks(path)
				if err != nil || loopGuard[resolved] {
					return filepath.SkipDir
				}
				loopGuard[resolved] = true
			}
			return nil
		}

		if !opt.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if isSymlinkEntry(d) && !opt.FollowSymlinks {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if isSymlinkEntry(d) {
			if info, err = os.Stat(path); err != nil {
				return nil
			}
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		canonical, key, err := pathkey.CanonicalizeWithKey(rel)
		if err != nil {
			warnings = append(warnings, Warning{Path: rel, Reason: "invalid_path", Message: err.Error()})
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			warnings = append(warnings, Warning{Path: rel, Reason: "unreadable", Message: err.Error()})
			return nil
		}
		hash, err := b.store.Put(data)
		if err != nil {
			return err
		}

		rec := FileRecord{
			SchemaVersion: SchemaVersion,
			Path:          canonical,
			PathKey:       key,
			Object:        hash,
			Size:          int64(len(data)),
			LangHint:      detectLangHint(canonical),
			Mode:          uint32(info.Mode().Perm()),
			Mtime:         info.ModTime().Unix(),
			TextHash:      hash,
		}
		records = append(records, rec)
		total += rec.Size
		return nil
	})
	if err != nil {
		return nil, nil, 0, err
	}

	paths := make([]string, len(records))
	for i, r := range records {
		paths[i] = r.Path
	}
	if collisions := pathkey.DetectCaseCollisions(paths); len(collisions) > 0 {
		sort.Slice(collisions, func(i, j int) bool { return collisions[i].Key < collisions[j].Key })
		c := collisions[0]
		return nil, nil, 0, cberrors.PathCollisionErr(c.Key, c.PathA, c.PathB)
	}

	return records, warnings, total, nil
}

func isSymlinkEntry(d fs.DirEntry) bool {
	return d.Type()&fs.ModeSymlink != 0
}

func writeFileIndex(path string, records []FileRecord) error {
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

func writeMeta(path string, meta *Meta) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
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

// Load reads a snapshot's metadata.
func (b *Builder) Load(id string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, id, metaFileName))
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadFileIndex reads the full file index for a snapshot into memory,
// already in canonical (path_key ASC) order as written.
func (b *Builder) LoadFileIndex(id string) ([]FileRecord, error) {
	f, err := os.Open(filepath.Join(b.dir, id, indexFileName))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []FileRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r FileRecord
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

// List returns every snapshot id that has a written snapshot.json.
func (b *Builder) List() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
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
		if _, err := os.Stat(filepath.Join(b.dir, e.Name(), metaFileName)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	return sortutil.StablePathSort(ids), nil
}

// IndexPath returns the on-disk path of a snapshot's file index, used by the
// cache builder to fingerprint authoritative sources.
func (b *Builder) IndexPath(id string) string {
	return filepath.Join(b.dir, id, indexFileName)
}
