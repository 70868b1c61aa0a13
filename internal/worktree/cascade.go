// Package worktree holds the stat-then-hash cascade shared by the
// extractor's pre-overwrite drift check and the status engine's
// per-entry scan, so the two operations never disagree about what
// "changed" means.
package worktree

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fenilsonani/snapstore/internal/objstore"
	"github.com/fenilsonani/snapstore/internal/packfmt"
)

// Matches reports whether the file at root/entry.Path on disk still
// has the content and metadata recorded in entry. A missing path is a
// non-error "false". Symlinks are compared by target text; regular
// files take the trusted-mtime fast path before falling back to a
// full content hash.
func Matches(root string, entry packfmt.Entry) (bool, error) {
	full := filepath.Join(root, entry.Path)

	info, err := os.Lstat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	isSymlink := info.Mode()&fs.ModeSymlink != 0
	if isSymlink != entry.Meta.IsSymlink {
		return false, nil
	}

	if isSymlink {
		target, err := os.Readlink(full)
		if err != nil {
			return false, err
		}
		return target == entry.Meta.SymlinkTarget, nil
	}

	mtime := info.ModTime()
	if mtime.Unix() == entry.Meta.ModSeconds && int32(mtime.Nanosecond()) == entry.Meta.ModNanos {
		return true, nil
	}

	f, err := os.Open(full)
	if err != nil {
		return false, err
	}
	defer f.Close()
	hash, err := objstore.HashReader(f)
	if err != nil {
		return false, err
	}
	return hash == entry.Hash, nil
}

// WriteRegular writes data to root/path, creating parent directories
// as needed, then restores the recorded mtime. Used by the extractor
// for objects; never called for symlink entries.
func WriteRegular(root, path string, data []byte, meta packfmt.Metadata) error {
	full := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	if info, err := os.Lstat(full); err == nil && (info.Mode()&fs.ModeSymlink != 0 || !info.Mode().IsRegular()) {
		if err := os.Remove(full); err != nil {
			return err
		}
	}
	mode := os.FileMode(0o644)
	if meta.Mode != 0 {
		mode = os.FileMode(meta.Mode) & 0o777
	}
	if err := os.WriteFile(full, data, mode); err != nil {
		return err
	}
	return restoreMtime(full, meta)
}

// WriteSymlink creates a symlink at root/path pointing at target,
// replacing whatever was there before.
func WriteSymlink(root, path, target string) error {
	full := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	os.Remove(full)
	return os.Symlink(target, full)
}

// Remove deletes root/path if present. A missing file is not an error.
func Remove(root, path string) error {
	err := os.Remove(filepath.Join(root, path))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// restoreMtime sets full's modification time to the one recorded in
// meta; access time is set the same since no entry records one.
func restoreMtime(full string, meta packfmt.Metadata) error {
	t := time.Unix(meta.ModSeconds, int64(meta.ModNanos))
	return os.Chtimes(full, t, t)
}

// PruneEmptyDirs walks upward from root/dir, removing directories left
// empty by a removal, stopping at root or the first non-empty parent.
func PruneEmptyDirs(root, dir string) {
	full := filepath.Join(root, dir)
	for full != root && full != "." && full != string(filepath.Separator) {
		entries, err := os.ReadDir(full)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(full); err != nil {
			return
		}
		full = filepath.Dir(full)
	}
}
