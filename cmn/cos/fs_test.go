package cos

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenTieReturnsDistinctNonEmptyValues(t *testing.T) {
	a := GenTie()
	b := GenTie()
	if a == "" || b == "" {
		t.Fatal("GenTie returned an empty tie-breaker")
	}
	if a == b {
		t.Errorf("two successive GenTie calls returned the same value %q", a)
	}
}

func TestCreateNewFailsWhenFileAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "file")

	f, err := CreateNew(path)
	if err != nil {
		t.Fatalf("first CreateNew: %v", err)
	}
	f.Close()

	if !Exists(path) {
		t.Fatal("expected Exists to report true after CreateNew")
	}

	if _, err := CreateNew(path); !os.IsExist(err) {
		t.Errorf("second CreateNew err = %v, want os.IsExist", err)
	}
}

func TestExistsFalseForDirectoryAndMissingPath(t *testing.T) {
	dir := t.TempDir()
	if Exists(filepath.Join(dir, "nope")) {
		t.Error("Exists true for a path that was never created")
	}
	if Exists(dir) {
		t.Error("Exists true for a directory, want false (regular files only)")
	}
}

func TestCopyFileDuplicatesContentAndCreatesParents(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	dst := filepath.Join(dir, "nested", "dst")

	if err := CopyFile(dst, src); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("dst content = %q, want hello", got)
	}
}

func TestRemoveFileToleratesMissingPath(t *testing.T) {
	dir := t.TempDir()
	if err := RemoveFile(filepath.Join(dir, "missing")); err != nil {
		t.Errorf("RemoveFile on a missing path returned %v, want nil", err)
	}
}
