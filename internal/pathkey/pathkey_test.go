package pathkey

import "testing"

func TestCanonicalizeNormalizesSeparators(t *testing.T) {
	got, err := Canonicalize(`src\main\foo.go`)
	if err != nil {
		t.Fatalf("Canonicalize error: %v", err)
	}
	if got != "src/main/foo.go" {
		t.Fatalf("got %q", got)
	}
}

func TestCanonicalizeDropsDotSegments(t *testing.T) {
	got, err := Canonicalize("./a/./b/c")
	if err != nil {
		t.Fatalf("Canonicalize error: %v", err)
	}
	if got != "a/b/c" {
		t.Fatalf("got %q", got)
	}
}

func TestCanonicalizeResolvesDotDotWithinPath(t *testing.T) {
	got, err := Canonicalize("a/b/../c")
	if err != nil {
		t.Fatalf("Canonicalize error: %v", err)
	}
	if got != "a/c" {
		t.Fatalf("got %q", got)
	}
}

func TestCanonicalizeRejectsEscapeAboveRoot(t *testing.T) {
	if _, err := Canonicalize("../etc/passwd"); err == nil {
		t.Fatalf("expected escape error")
	} else if _, ok := err.(*EscapeError); !ok {
		t.Fatalf("expected *EscapeError, got %T", err)
	}
}

func TestCanonicalizeRejectsReservedName(t *testing.T) {
	if _, err := Canonicalize("src/CON.go"); err == nil {
		t.Fatalf("expected invalid error for reserved name")
	}
}

func TestCanonicalizeRejectsControlChars(t *testing.T) {
	if _, err := Canonicalize("src/foo\x01bar"); err == nil {
		t.Fatalf("expected invalid error for control char")
	}
}

func TestKeyIsCaseInsensitive(t *testing.T) {
	if Key("Src/Foo.Go") != "src/foo.go" {
		t.Fatalf("got %q", Key("Src/Foo.Go"))
	}
}

func TestDetectCaseCollisions(t *testing.T) {
	paths := []string{"Foo.go", "foo.go", "bar.go"}
	collisions := DetectCaseCollisions(paths)
	if len(collisions) != 1 {
		t.Fatalf("expected 1 collision, got %d: %v", len(collisions), collisions)
	}
	if collisions[0].Key != "foo.go" {
		t.Fatalf("collision key got %q", collisions[0].Key)
	}
}

func TestDetectCaseCollisionsNoneWhenDistinct(t *testing.T) {
	paths := []string{"a.go", "b.go", "c.go"}
	if got := DetectCaseCollisions(paths); len(got) != 0 {
		t.Fatalf("expected no collisions, got %v", got)
	}
}

func TestIsSafe(t *testing.T) {
	if !IsSafe("a/b.go") {
		t.Fatalf("expected a/b.go to be safe")
	}
	if IsSafe("../escape") {
		t.Fatalf("expected ../escape to be unsafe")
	}
}
