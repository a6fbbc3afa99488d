package version

import (
	"os"
	"path/filepath"
	"testing"
)

func mustParse(t *testing.T, s string) Version {
	t.Helper()
	v, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", s, err)
	}
	return v
}

func TestParseStripsBuildMetadata(t *testing.T) {
	v := mustParse(t, "5.0.0+instrumented")
	if v.String() != "5.0.0" {
		t.Errorf("got %q, want build metadata stripped", v.String())
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("not-a-version"); err == nil {
		t.Fatal("expected an error for a non-semver string")
	}
}

// Numeric pre-release precedence, not lexicographic: spec §8 boundary case.
func TestPreReleaseNumericOrdering(t *testing.T) {
	a := mustParse(t, "5.0.0-alpha.10")
	b := mustParse(t, "5.0.0-alpha.2")
	if !b.LessThan(a) {
		t.Fatalf("expected 5.0.0-alpha.2 < 5.0.0-alpha.10, got Compare=%d", Compare(b, a))
	}
}

func TestPreReleaseLessThanRelease(t *testing.T) {
	pre := mustParse(t, "5.0.0-alpha.3")
	rel := mustParse(t, "5.0.0")
	if !pre.LessThan(rel) {
		t.Fatal("expected pre-release to be less than the corresponding release")
	}
}

func TestEqualIsStructural(t *testing.T) {
	a := mustParse(t, "5.0.0-alpha.1")
	b := mustParse(t, "5.0.0-alpha.1")
	if !a.Equal(b) {
		t.Fatal("expected structurally identical versions to be equal")
	}
}

func TestCurrentReadsVersionID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "os-release")
	content := "NAME=\"CLIP OS\"\nVERSION_ID=\"5.0.0-alpha.1\"\nID=clipos\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := Current(path)
	if err != nil {
		t.Fatalf("Current() failed: %v", err)
	}
	if v.String() != "5.0.0-alpha.1" {
		t.Errorf("got %q, want 5.0.0-alpha.1", v.String())
	}
}

func TestCurrentMissingVersionID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "os-release")
	if err := os.WriteFile(path, []byte("NAME=\"CLIP OS\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Current(path); err == nil {
		t.Fatal("expected an error when VERSION_ID is absent")
	}
}
