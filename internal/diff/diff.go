// Package diff renders a unified diff between two output records' raw JSON
// payloads, reached through diffengine.UnifiedPayload (the `codebatch diff`
// command prints counts and per-record lines and does not call it). It uses
// github.com/pmezard/go-difflib to produce classic unified patches
// (---/+++ headers, @@ hunks, lines prefixed with ' ', '-', '+').
package diff

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// MaxPayloadBytes guards against diffing a pathological payload; output
// records are small flattened JSON objects, so this is generous rather than
// tight.
const MaxPayloadBytes = 1 << 20

// contextLines is the number of unchanged lines difflib shows around each
// hunk.
const contextLines = 4

// Unified renders a↦b as a classic unified patch labeled aLabel/bLabel.
// Returns the patch body and a flag indicating it was omitted because a or
// b exceeded MaxPayloadBytes.
func Unified(aLabel, bLabel string, a, b []byte) (body string, oversize bool) {
	if len(a) > MaxPayloadBytes || len(b) > MaxPayloadBytes {
		return omitted(aLabel, bLabel), true
	}
	u := difflib.UnifiedDiff{
		A:        splitLinesKeepNL(string(a)),
		B:        splitLinesKeepNL(string(b)),
		FromFile: aLabel,
		ToFile:   bLabel,
		Context:  contextLines,
	}
	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil || s == "" {
		return omitted(aLabel, bLabel), false
	}
	return s, false
}

// splitLinesKeepNL splits s into lines, keeping each line's trailing
// newline so difflib's hunks read naturally against JSON payloads.
func splitLinesKeepNL(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.SplitAfter(s, "\n")
}

// omitted returns a compact placeholder when a or b exceeds MaxPayloadBytes.
func omitted(aLabel, bLabel string) string {
	return fmt.Sprintf("--- %s\n+++ %s\n@@\n# diff omitted (oversize)\n", aLabel, bLabel)
}
