// Package router implements the cache validator and transparent
// scan/cache dispatch described by spec §4.9: every query checks the
// cache's fingerprint against the batch's current authoritative sources
// and silently falls back to a scan on any mismatch, missing cache, or
// corrupt cache. No query ever mixes sources.
package router

import (
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcp-tool-shop-org/code-batch/internal/batch"
	"github.com/mcp-tool-shop-org/code-batch/internal/cacheidx"
	"github.com/mcp-tool-shop-org/code-batch/internal/output"
	"github.com/mcp-tool-shop-org/code-batch/internal/query"
	"github.com/mcp-tool-shop-org/code-batch/internal/snapshot"
	"github.com/mcp-tool-shop-org/code-batch/internal/store"
)

// DBFileName is the bbolt environment file under a store's indexes/lmdb
// directory. Named plainly rather than data.mdb/lock.mdb since the engine
// underneath is bbolt, not LMDB — see SPEC_FULL.md's DOMAIN STACK (C8/C9).
const DBFileName = "cache.db"

// Router dispatches a query to the cache when it is valid for the
// requested batch, or to a direct JSONL scan otherwise.
type Router struct {
	Store     *store.Root
	Batches   *batch.Manager
	Snapshots *snapshot.Builder
	Logger    zerolog.Logger
}

// New builds a Router over an opened store root.
func New(root *store.Root, batches *batch.Manager, snapshots *snapshot.Builder, logger zerolog.Logger) *Router {
	return &Router{Store: root, Batches: batches, Snapshots: snapshots, Logger: logger}
}

// Source names which path answered a query, useful for CLI --json envelopes
// and the test suite's equivalence assertions.
type Source string

const (
	SourceCache Source = "cache"
	SourceScan  Source = "scan"
)

func (r *Router) dbPath() string {
	return filepath.Join(r.Store.IndexesDir(), DBFileName)
}

// resolve decides whether the on-disk cache is valid for batchID: its
// cache_meta.json must name this exact batch and its fingerprint must
// match a fresh recomputation over the batch's current authoritative
// sources. Any failure along the way (missing meta, missing db, stale
// fingerprint, corrupt env) resolves to SourceScan with no error returned
// to the caller — per §4.9, a bad cache is never fatal.
func (r *Router) resolve(batchID string) (Source, *cacheidx.Reader, error) {
	meta, err := cacheidx.ReadMeta(r.Store.CacheMetaPath())
	if err != nil || meta == nil || meta.BatchID != batchID {
		return SourceScan, nil, nil
	}

	plan, err := r.Batches.LoadPlan(batchID)
	if err != nil {
		return SourceScan, nil, nil
	}
	filesIndexPath := r.Snapshots.IndexPath(meta.SnapshotID)
	currentFP, err := cacheidx.Fingerprint(filesIndexPath, r.Batches, batchID, plan)
	if err != nil || currentFP != meta.Fingerprint {
		r.Logger.Warn().Str("batch_id", batchID).Msg("cache fingerprint stale, falling back to scan")
		return SourceScan, nil, nil
	}

	reader, err := cacheidx.Open(r.dbPath())
	if err != nil {
		r.Logger.Warn().Err(err).Str("batch_id", batchID).Msg("cache env unreadable, falling back to scan")
		return SourceScan, nil, nil
	}
	if reader.Fingerprint() != meta.Fingerprint {
		reader.Close()
		return SourceScan, nil, nil
	}
	return SourceCache, reader, nil
}

// Outputs answers query_outputs, from the cache when valid, otherwise a
// direct scan. The caller never sees which source answered beyond the
// returned Source value.
func (r *Router) Outputs(batchID, taskID string, filter query.Filter) ([]output.Record, Source, error) {
	src, reader, err := r.resolve(batchID)
	if err != nil {
		return nil, "", err
	}
	if src == SourceCache {
		defer reader.Close()
		records, err := reader.Outputs(taskID, filter.Kind, filter.PathSubstr)
		if err != nil {
			return nil, "", err
		}
		return filterCacheResult(records, filter), SourceCache, nil
	}
	records, err := query.Scan(r.Batches, batchID, taskID, filter)
	return records, SourceScan, err
}

// filterCacheResult applies severity/code, which Reader.Outputs does not,
// so the cache path matches query.Scan's full Filter semantics exactly.
func filterCacheResult(records []output.Record, filter query.Filter) []output.Record {
	if filter.Severity == "" && filter.Code == "" {
		return records
	}
	var out []output.Record
	for _, r := range records {
		if filter.Severity != "" && strField(r, "severity") != filter.Severity {
			continue
		}
		if filter.Code != "" && strField(r, "code") != filter.Code {
			continue
		}
		out = append(out, r)
	}
	return out
}

func strField(r output.Record, key string) string {
	v, ok := r.Fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Diagnostics answers query_diagnostics, sugar over Outputs with
// kind=diagnostic.
func (r *Router) Diagnostics(batchID, taskID, severity, code, pathSubstr string) ([]output.Record, Source, error) {
	return r.Outputs(batchID, taskID, query.Filter{Kind: "diagnostic", Severity: severity, Code: code, PathSubstr: pathSubstr})
}

// StatsByKind answers query_stats grouped by kind.
func (r *Router) StatsByKind(batchID, taskID string) (query.Stats, Source, error) {
	src, reader, err := r.resolve(batchID)
	if err != nil {
		return query.Stats{}, "", err
	}
	if src == SourceCache {
		defer reader.Close()
		counts, err := reader.StatsByKind(taskID)
		if err != nil {
			return query.Stats{}, "", err
		}
		return query.Stats{GroupBy: "kind", Counts: counts}, SourceCache, nil
	}
	stats, err := query.StatsByKind(r.Batches, batchID, taskID)
	return stats, SourceScan, err
}

// StatsBySeverityCode answers query_stats grouped by (severity, code).
func (r *Router) StatsBySeverityCode(batchID, taskID string) (query.Stats, Source, error) {
	src, reader, err := r.resolve(batchID)
	if err != nil {
		return query.Stats{}, "", err
	}
	if src == SourceCache {
		defer reader.Close()
		counts, err := reader.StatsBySeverityCode(taskID)
		if err != nil {
			return query.Stats{}, "", err
		}
		return query.Stats{GroupBy: "severity_code", Counts: counts}, SourceCache, nil
	}
	stats, err := query.StatsBySeverityCode(r.Batches, batchID, taskID)
	return stats, SourceScan, err
}

// Build rebuilds the store's single cache env for batchID, per the
// `index-build` command (§6). Overwrites whatever cache previously
// existed, regardless of which batch it served.
func (r *Router) Build(batchID string, now func() time.Time) (string, error) {
	meta, err := r.Batches.LoadMeta(batchID)
	if err != nil {
		return "", err
	}
	plan, err := r.Batches.LoadPlan(batchID)
	if err != nil {
		return "", err
	}
	fileRecords, err := r.Snapshots.LoadFileIndex(meta.SnapshotID)
	if err != nil {
		return "", err
	}
	filesIndexPath := r.Snapshots.IndexPath(meta.SnapshotID)
	return cacheidx.Build(r.dbPath(), r.Store.CacheMetaPath(), filesIndexPath, fileRecords, r.Batches, batchID, meta.SnapshotID, plan, now)
}
