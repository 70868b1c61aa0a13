package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteBytes_CreatesFileWithContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	if err := WriteBytes(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("content = %q, want hello", data)
	}
}

func TestWriteBytes_OverwritesExistingFileAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	if err := WriteBytes(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := WriteBytes(path, []byte("second, and longer"), 0o644); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "second, and longer" {
		t.Fatalf("content = %q, want %q", data, "second, and longer")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("leftover temp file %q after successful write", e.Name())
		}
	}
}

func TestWriteWith_RollsBackOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	boom := errors.New("boom")

	err := WriteWith(path, 0o644, func(w io.Writer) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("path should not exist after a failed write, stat err = %v", statErr)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("directory should be empty after rollback, got %v", entries)
	}
}

func TestReplaceDir_MovesDirectoryIntoPlace(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "staged")
	dst := filepath.Join(root, "final")

	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "f.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := ReplaceDir(src, dst); err != nil {
		t.Fatalf("ReplaceDir: %v", err)
	}

	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("dst should exist: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("src should no longer exist, stat err = %v", err)
	}
}
