package cberrors

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestStoreNotFoundErr(t *testing.T) {
	err := StoreNotFoundErr("/tmp/store")
	if err.Code != StoreNotFound {
		t.Fatalf("code got %q", err.Code)
	}
	if err.Details["path"] != "/tmp/store" {
		t.Fatalf("details.path got %v", err.Details["path"])
	}
	if len(err.Hints) == 0 {
		t.Fatalf("expected hints")
	}
}

func TestBatchNotFoundErrHintUsesStore(t *testing.T) {
	err := BatchNotFoundErr("batch-1", "/tmp/store")
	if !strings.Contains(err.Hints[0], "/tmp/store") {
		t.Fatalf("hint should reference store path, got %q", err.Hints[0])
	}
	if err.Details["store"] != "/tmp/store" {
		t.Fatalf("details should include store")
	}
}

func TestBatchNotFoundErrNoStore(t *testing.T) {
	err := BatchNotFoundErr("batch-1", "")
	if _, ok := err.Details["store"]; ok {
		t.Fatalf("details should omit store when unset")
	}
}

func TestErrorJSONEnvelope(t *testing.T) {
	err := InvalidArgumentErr("pipeline", "bogus", "not registered")
	b, jerr := err.JSON()
	if jerr != nil {
		t.Fatalf("JSON error: %v", jerr)
	}
	var decoded envelope
	if jerr := json.Unmarshal(b, &decoded); jerr != nil {
		t.Fatalf("unmarshal error: %v", jerr)
	}
	if decoded.Error.Code != InvalidArgument {
		t.Fatalf("decoded code got %q", decoded.Error.Code)
	}
}

func TestPrintTextIncludesHints(t *testing.T) {
	err := StoreExistsErr("/tmp/store")
	var buf bytes.Buffer
	err.PrintText(&buf)
	out := buf.String()
	if !strings.HasPrefix(out, "Error: Store already exists") {
		t.Fatalf("unexpected text output: %q", out)
	}
	if !strings.Contains(out, "Hint:") {
		t.Fatalf("expected Hint: lines, got %q", out)
	}
}

func TestPrintWrapsPlainError(t *testing.T) {
	var buf bytes.Buffer
	Print(errors.New("boom"), false, &buf)
	if !strings.Contains(buf.String(), "Internal error: boom") {
		t.Fatalf("expected wrapped internal error, got %q", buf.String())
	}
}
