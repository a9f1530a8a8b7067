// Package query implements the authoritative scan query path (C7): answers
// query_outputs/query_diagnostics/query_stats by reading a task's shard
// outputs.index.jsonl files directly, with no cache and no global locks.
// Grounded on original_source/src/codebatch/query.py's scan fallback
// (_query_diagnostics_scan / _iter_shard_outputs).
package query

import (
	"sort"
	"strings"

	"github.com/mcp-tool-shop-org/code-batch/internal/batch"
	"github.com/mcp-tool-shop-org/code-batch/internal/output"
	"github.com/mcp-tool-shop-org/code-batch/internal/pathkey"
)

// Filter narrows a scan to a subset of a task's output records. Zero values
// mean "no filter on this field".
type Filter struct {
	Kind       string
	PathSubstr string
	Severity   string
	Code       string
}

func (f Filter) matches(r output.Record) bool {
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.PathSubstr != "" && !strings.Contains(strings.ToLower(r.Path), strings.ToLower(f.PathSubstr)) {
		return false
	}
	if f.Severity != "" && strField(r, "severity") != f.Severity {
		return false
	}
	if f.Code != "" && strField(r, "code") != f.Code {
		return false
	}
	return true
}

func strField(r output.Record, key string) string {
	v, ok := r.Fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Scan reads every shard's outputs.index.jsonl for a task, applies filter,
// and returns records in canonical order (path_key ASC, kind ASC, line ASC,
// column ASC, code ASC) per spec §4.7.
func Scan(batches *batch.Manager, batchID, taskID string, filter Filter) ([]output.Record, error) {
	var out []output.Record
	for _, shardID := range batch.ShardIDs() {
		path := batches.OutputsIndexPath(batchID, taskID, shardID)
		records, err := output.ReadIndex(path)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if filter.matches(r) {
				out = append(out, r)
			}
		}
	}
	output.CanonicalOrder(out, pathKeyOf)
	return out, nil
}

// Diagnostics is sugar for Scan with Kind="diagnostic", per §4.7.
func Diagnostics(batches *batch.Manager, batchID, taskID string, severity, code, pathSubstr string) ([]output.Record, error) {
	return Scan(batches, batchID, taskID, Filter{Kind: "diagnostic", Severity: severity, Code: code, PathSubstr: pathSubstr})
}

// Stats is a single count bucket, keyed either by kind (GroupBy="kind") or
// by severity+code (GroupBy="severity_code").
type Stats struct {
	GroupBy string
	Counts  map[string]int
}

// StatsByKind counts a task's output records grouped by kind.
func StatsByKind(batches *batch.Manager, batchID, taskID string) (Stats, error) {
	records, err := Scan(batches, batchID, taskID, Filter{})
	if err != nil {
		return Stats{}, err
	}
	counts := map[string]int{}
	for _, r := range records {
		counts[r.Kind]++
	}
	return Stats{GroupBy: "kind", Counts: counts}, nil
}

// StatsBySeverityCode counts a task's diagnostic records grouped by
// "<severity>\x1f<code>", matching the cache builder's composite-key style
// (§4.8) so scan and cache stats use comparable keys.
func StatsBySeverityCode(batches *batch.Manager, batchID, taskID string) (Stats, error) {
	records, err := Scan(batches, batchID, taskID, Filter{Kind: "diagnostic"})
	if err != nil {
		return Stats{}, err
	}
	counts := map[string]int{}
	for _, r := range records {
		key := strField(r, "severity") + "\x1f" + strField(r, "code")
		counts[key]++
	}
	return Stats{GroupBy: "severity_code", Counts: counts}, nil
}

// SortedKeys returns a Stats's keys in deterministic order, for rendering.
func SortedKeys(s Stats) []string {
	keys := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func pathKeyOf(path string) string {
	return pathkey.Key(path)
}
