// Package diffengine compares two batches' output records by canonical
// key (C10): added/removed/changed sets, regressions/improvements on the
// diagnostic severity scale, and a human-readable unified rendering via
// the teacher's internal/diff package. Grounded on spec §4.10, which is
// fully specified.
package diffengine

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/mcp-tool-shop-org/code-batch/internal/diff"
	"github.com/mcp-tool-shop-org/code-batch/internal/output"
)

// ephemeralFields are dropped before comparing two records' remaining
// fields, per §4.10.
var ephemeralFields = map[string]bool{
	"ts": true, "run_id": true, "shard_id": true, "batch_id": true,
}

// severityRank orders diagnostic severities for regression/improvement
// detection: info < warning < error.
var severityRank = map[string]int{"info": 0, "hint": 0, "warning": 1, "error": 2}

// Key is a record's canonical comparison key per the kind table in §4.10.
type Key string

// CanonicalKey computes a record's canonical key. Kinds outside the named
// table ("other") key on (kind, path) alone.
func CanonicalKey(r output.Record) Key {
	switch r.Kind {
	case "diagnostic":
		return Key(join(r.Kind, r.Path, intStr(r, "line"), intStr(r, "column"), strField(r, "code")))
	case "metric":
		return Key(join(r.Kind, r.Path, strField(r, "metric")))
	case "symbol":
		return Key(join(r.Kind, r.Path, strField(r, "name"), intStr(r, "line")))
	case "ast":
		return Key(join(r.Kind, r.Path, r.Object))
	case "edge":
		return Key(join(r.Kind, r.Path, strField(r, "edge_type"), strField(r, "target")))
	default:
		return Key(join(r.Kind, r.Path))
	}
}

func join(parts ...string) string { return strings.Join(parts, "\x1f") }

func strField(r output.Record, key string) string {
	v, ok := r.Fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func intStr(r output.Record, key string) string {
	v, ok := r.Fields[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case float64:
		return strconv.Itoa(int(t))
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

// Changed is a canonical-key match whose non-ephemeral fields differ
// between the two sides.
type Changed struct {
	Key    Key
	Before output.Record
	After  output.Record
}

// Result is the full comparison output, per §4.10.
type Result struct {
	Added        []output.Record
	Removed      []output.Record
	Changed      []Changed
	Regressions  []output.Record // added diagnostics + changed-worse diagnostics
	Improvements []output.Record // removed diagnostics + changed-better diagnostics
}

// Compare diffs two record sets (typically the outputs of the same task_id
// across two batches), sorted by canonical key.
func Compare(before, after []output.Record) Result {
	beforeByKey := indexByKey(before)
	afterByKey := indexByKey(after)

	var res Result
	for key, b := range beforeByKey {
		a, ok := afterByKey[key]
		if !ok {
			res.Removed = append(res.Removed, b)
			if b.Kind == "diagnostic" {
				res.Improvements = append(res.Improvements, b)
			}
			continue
		}
		if !fieldsEqual(b, a) {
			res.Changed = append(res.Changed, Changed{Key: key, Before: b, After: a})
			if b.Kind == "diagnostic" {
				classifySeverityChange(b, a, &res)
			}
		}
	}
	for key, a := range afterByKey {
		if _, ok := beforeByKey[key]; !ok {
			res.Added = append(res.Added, a)
			if a.Kind == "diagnostic" {
				res.Regressions = append(res.Regressions, a)
			}
		}
	}

	sortByKey(res.Added)
	sortByKey(res.Removed)
	sort.Slice(res.Changed, func(i, j int) bool { return res.Changed[i].Key < res.Changed[j].Key })
	sortByKey(res.Regressions)
	sortByKey(res.Improvements)
	return res
}

func classifySeverityChange(before, after output.Record, res *Result) {
	bRank, aRank := severityRank[strField(before, "severity")], severityRank[strField(after, "severity")]
	switch {
	case aRank > bRank:
		res.Regressions = append(res.Regressions, after)
	case aRank < bRank:
		res.Improvements = append(res.Improvements, after)
	}
}

func indexByKey(records []output.Record) map[Key]output.Record {
	m := make(map[Key]output.Record, len(records))
	for _, r := range records {
		m[CanonicalKey(r)] = r
	}
	return m
}

func sortByKey(records []output.Record) {
	sort.Slice(records, func(i, j int) bool { return CanonicalKey(records[i]) < CanonicalKey(records[j]) })
}

// fieldsEqual compares two records' path, kind, object and format plus
// their non-ephemeral Fields for equality; the remaining header fields
// (schema_version, snapshot_id, batch_id, task_id, shard_id, ts) are not
// compared.
func fieldsEqual(a, b output.Record) bool {
	return stableJSON(stripEphemeral(a)) == stableJSON(stripEphemeral(b))
}

func stripEphemeral(r output.Record) map[string]any {
	m := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		if !ephemeralFields[k] {
			m[k] = v
		}
	}
	m["path"] = r.Path
	m["kind"] = r.Kind
	if r.Object != "" {
		m["object"] = r.Object
	}
	if r.Format != "" {
		m["format"] = r.Format
	}
	return m
}

func stableJSON(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, m[k])
	}
	b, _ := json.Marshal(ordered)
	return string(b)
}

// UnifiedPayload renders two records' raw JSON as a unified diff via
// internal/diff. The `codebatch diff` command has no format option and
// does not call it.
func UnifiedPayload(aLabel, bLabel string, before, after output.Record) (string, bool) {
	a, _ := json.MarshalIndent(before, "", "  ")
	b, _ := json.MarshalIndent(after, "", "  ")
	return diff.Unified(aLabel, bLabel, a, b)
}
