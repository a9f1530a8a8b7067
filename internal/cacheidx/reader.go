package cacheidx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/mcp-tool-shop-org/code-batch/internal/output"
	"github.com/mcp-tool-shop-org/code-batch/internal/pathkey"
)

// Reader opens a built cache read-only for querying, satisfying the
// equivalence contract with internal/query's scan path (§4.7/§4.9
// testable property 3): every record returned is decoded from the same
// output.Record JSON the builder stored, then filtered and ordered
// identically to a scan.
type Reader struct {
	db *bolt.DB
	fp string
}

// Open opens the bbolt env at dbPath read-only and reads its stored
// fingerprint from the meta bucket.
func Open(dbPath string) (*Reader, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	r := &Reader{db: db}
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketMeta))
		if b == nil {
			return nil
		}
		r.fp = string(b.Get([]byte("fingerprint")))
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the underlying bbolt env.
func (r *Reader) Close() error { return r.db.Close() }

// Fingerprint returns the fingerprint recorded in the meta bucket (empty
// if Build never wrote one, which Open tolerates so callers can still
// decide to treat the cache as stale).
func (r *Reader) Fingerprint() string { return r.fp }

// Outputs scans outputs_by_kind for taskID, optionally narrowed to kind,
// decodes every record, and returns them in canonical order.
func (r *Reader) Outputs(taskID, kind, pathSubstr string) ([]output.Record, error) {
	prefix := []byte(taskID + Sep + kind)
	if kind == "" {
		prefix = []byte(taskID + Sep)
	}
	var out []output.Record
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketOutputsByKind))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec output.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if pathSubstr != "" && !strings.Contains(strings.ToLower(rec.Path), strings.ToLower(pathSubstr)) {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	output.CanonicalOrder(out, pathkey.Key)
	return out, nil
}

// Diagnostics is sugar for Outputs with kind="diagnostic", additionally
// filtered by severity/code, matching internal/query.Diagnostics's
// contract so cache and scan paths are interchangeable.
func (r *Reader) Diagnostics(taskID, severity, code, pathSubstr string) ([]output.Record, error) {
	records, err := r.Outputs(taskID, "diagnostic", pathSubstr)
	if err != nil {
		return nil, err
	}
	if severity == "" && code == "" {
		return records, nil
	}
	var out []output.Record
	for _, rec := range records {
		if severity != "" && strField(rec, "severity") != severity {
			continue
		}
		if code != "" && strField(rec, "code") != code {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// StatsByKind returns the stats bucket's kind-grouped counts for a task.
func (r *Reader) StatsByKind(taskID string) (map[string]int, error) {
	return r.statsByPrefix("kind" + Sep + taskID + Sep)
}

// StatsBySeverityCode returns the "<severity>\x1f<code>"-keyed counts for
// a task's diagnostics, matching internal/query.StatsBySeverityCode's key
// shape.
func (r *Reader) StatsBySeverityCode(taskID string) (map[string]int, error) {
	raw, err := r.statsByPrefix("severity_code" + Sep + taskID + Sep)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out, nil
}

func (r *Reader) statsByPrefix(prefix string) (map[string]int, error) {
	out := map[string]int{}
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketStats))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			n, err := strconv.Atoi(string(v))
			if err != nil {
				return fmt.Errorf("decoding stats value for %q: %w", k, err)
			}
			out[strings.TrimPrefix(string(k), prefix)] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
