// Package objstore implements the loose object store: a
// directory of content-addressed blobs keyed by a 20-byte SHA-1, with
// a two-level fan-out directory layout and atomic writes. Grounded on
// internal/core/objects/storage.go's directory-init and write-then-
// rename shape, generalized from git's "type size\0data" blobs to
// snapstore's raw-byte objects.
package objstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fenilsonani/snapstore/internal/atomicfile"
)

// ErrNotFound is returned by Open and ReadAll when no object with the
// given ID exists in the store.
var ErrNotFound = errors.New("objstore: object not found")

// Store is a directory of loose, content-addressed objects.
type Store struct {
	root string
}

// New returns a Store rooted at dir. Init must be called once before
// first use on a fresh directory; it is safe to call again.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Init creates the fan-out directory structure (00-ff) under root.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("objstore: init: %w", err)
	}
	for i := 0; i < 256; i++ {
		dir := filepath.Join(s.root, fmt.Sprintf("%02x", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("objstore: init: %w", err)
		}
	}
	return nil
}

// path returns the on-disk location of id: <root>/xx/yyyy...
func (s *Store) path(id ID) string {
	hex := id.String()
	return filepath.Join(s.root, hex[:2], hex[2:])
}

// Has reports whether id is present in the store.
func (s *Store) Has(id ID) bool {
	_, err := os.Stat(s.path(id))
	return err == nil
}

// Open returns a reader for the raw bytes of id. The caller must
// Close it. Returns ErrNotFound if the object is absent.
func (s *Store) Open(id ID) (io.ReadCloser, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objstore: open %s: %w", id, err)
	}
	return f, nil
}

// ReadAll reads the full contents of id into memory.
func (s *Store) ReadAll(id ID) ([]byte, error) {
	r, err := s.Open(id)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Write stores data under its content hash if not already present.
// Returns the computed ID. Writing is atomic: a partially-written
// object is never observable under its final name.
func (s *Store) Write(data []byte) (ID, error) {
	id := Sum(data)
	if s.Has(id) {
		return id, nil
	}
	if err := atomicfile.WriteBytes(s.path(id), data, 0o644); err != nil {
		return id, fmt.Errorf("objstore: write %s: %w", id, err)
	}
	return id, nil
}

// WriteReader is like Write but streams from r and computes the hash
// in a single 4 KiB-chunked pass, matching the store builder's path
// for large files: the content is spooled to a temp file while being
// hashed, then moved into place under the final name (or discarded if
// it already exists).
func (s *Store) WriteReader(r io.Reader) (ID, error) {
	tmp, err := os.CreateTemp(s.root, "stage-*")
	if err != nil {
		return ID{}, fmt.Errorf("objstore: stage: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	id, err := HashReader(io.TeeReader(r, tmp))
	if err != nil {
		return ID{}, fmt.Errorf("objstore: hash: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return ID{}, fmt.Errorf("objstore: stage sync: %w", err)
	}

	if s.Has(id) {
		return id, nil
	}

	dst := s.path(id)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ID{}, fmt.Errorf("objstore: write %s: %w", id, err)
	}
	tmp.Close()
	if err := os.Rename(tmpPath, dst); err != nil {
		return ID{}, fmt.Errorf("objstore: write %s: %w", id, err)
	}
	return id, nil
}
