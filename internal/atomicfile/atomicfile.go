// Package atomicfile writes files via a temp-file-then-rename dance so
// readers never observe a partially-written file. Sealed packs, HEAD,
// the loose index and objects written with objstore.Store.Write go
// through here; objstore.Store.WriteReader stages and renames its own
// temp file.
package atomicfile

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteReader streams r into path atomically: the data lands in a
// temp file in the same directory as path (so the final rename stays
// on one filesystem) and is only renamed into place once fully
// written and synced.
func WriteReader(path string, r io.Reader, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := tempName(dir)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// WriteWith stages a new file in the same directory as path, lets fn
// write to it, and renames it into place only if fn succeeds. Used
// for multi-step writes (a pack file's header followed by its
// frames) where holding the whole payload in one []byte first would
// be wasteful.
func WriteWith(path string, perm os.FileMode, fn func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := tempName(dir)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}

	if err := fn(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// WriteBytes is a convenience wrapper around WriteReader for in-memory
// payloads (the HEAD file, serialized indexes).
func WriteBytes(path string, data []byte, perm os.FileMode) error {
	return WriteReader(path, &byteReader{b: data}, perm)
}

// byteReader avoids pulling in bytes.Reader just to satisfy io.Reader
// for a one-shot write; kept trivial on purpose.
type byteReader struct {
	b   []byte
	off int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.off:])
	r.off += n
	return n, nil
}

// tempName returns a temp file path inside dir with a UUID suffix so
// concurrent writers (or retries) never collide.
func tempName(dir string) string {
	return filepath.Join(dir, ".tmp-"+uuid.New().String())
}

// ReplaceDir renames src (a fully-populated temp directory) to dst
// atomically, removing src on failure, so a reader never observes a
// half-built directory at dst.
func ReplaceDir(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		os.RemoveAll(src)
		return err
	}
	return nil
}
