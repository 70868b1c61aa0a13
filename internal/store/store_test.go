package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fenilsonani/snapstore/internal/objstore"
)

func newTestBuilder(t *testing.T, root string) *Builder {
	t.Helper()
	objDir := filepath.Join(root, ".objects")
	store := objstore.New(objDir)
	if err := store.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return New(root, store)
}

func TestBuild_HashesRegularFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	b := newTestBuilder(t, root)

	entries, err := b.Build([]string{"a.txt"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Path != "a.txt" {
		t.Fatalf("Path = %q, want a.txt", entries[0].Path)
	}
	if entries[0].Hash != objstore.Sum([]byte("hello")) {
		t.Fatalf("Hash mismatch")
	}

	data, err := b.Objects.ReadAll(entries[0].Hash)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("stored content = %q, want hello", data)
	}
}

func TestBuild_RecordsSymlinkWithoutHashingTarget(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "target.txt"), []byte("target"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Symlink("target.txt", filepath.Join(root, "link")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	b := newTestBuilder(t, root)

	entries, err := b.Build([]string{"link"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if !entries[0].Meta.IsSymlink {
		t.Fatal("Meta.IsSymlink = false, want true")
	}
	if entries[0].Meta.SymlinkTarget != "target.txt" {
		t.Fatalf("SymlinkTarget = %q, want target.txt", entries[0].Meta.SymlinkTarget)
	}
}

func TestBuild_RejectsDuplicatePath(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	b := newTestBuilder(t, root)

	_, err := b.Build([]string{"a.txt", "./a.txt"})
	if err == nil {
		t.Fatal("Build: want ErrDuplicatePath for normalized-equal paths, got nil")
	}
	if _, ok := err.(*ErrDuplicatePath); !ok {
		t.Fatalf("err = %v (%T), want *ErrDuplicatePath", err, err)
	}
}

func TestBuild_VanishedFileErrors(t *testing.T) {
	root := t.TempDir()
	b := newTestBuilder(t, root)

	_, err := b.Build([]string{"missing.txt"})
	if err == nil {
		t.Fatal("Build: want ErrFileVanished, got nil")
	}
	if _, ok := err.(*ErrFileVanished); !ok {
		t.Fatalf("err = %v (%T), want *ErrFileVanished", err, err)
	}
}

func TestDiscoverAllFiles_SkipsManagedDataDir(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "nested"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "nested", "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "managed", "inner"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "managed", "inner", "c.txt"), []byte("c"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	paths, err := DiscoverAllFiles(root, "managed")
	if err != nil {
		t.Fatalf("DiscoverAllFiles: %v", err)
	}
	want := map[string]bool{"a.txt": true, "nested/b.txt": true}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want exactly %v", paths, want)
	}
	for _, p := range paths {
		if !want[p] {
			t.Fatalf("unexpected discovered path %q", p)
		}
	}
}
