// Package store implements the snapshot builder: hashing a
// worktree's files into the loose object store and recording them as
// a new, immutable snapshot in the loose pack index. Grounded on
// cmd/vcs/hash_object.go and add.go's stat-then-hash-then-write
// sequence.
package store

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/fenilsonani/snapstore/internal/objstore"
	"github.com/fenilsonani/snapstore/internal/packfmt"
)

// ErrFileVanished is returned when a path named for storing no longer
// exists by the time it is visited.
type ErrFileVanished struct{ Path string }

func (e *ErrFileVanished) Error() string { return fmt.Sprintf("store: file vanished: %s", e.Path) }

// ErrDuplicatePath is returned when the input path list names the
// same normalized path twice.
type ErrDuplicatePath struct{ Path string }

func (e *ErrDuplicatePath) Error() string { return fmt.Sprintf("store: duplicate path: %s", e.Path) }

// Builder hashes worktree files into objects and new snapshot entries.
type Builder struct {
	WorktreeRoot string
	Objects      *objstore.Store
}

// New returns a Builder rooted at worktreeRoot, writing objects into
// objects.
func New(worktreeRoot string, objects *objstore.Store) *Builder {
	return &Builder{WorktreeRoot: worktreeRoot, Objects: objects}
}

// Build hashes each of paths (relative to WorktreeRoot, forward-slash
// normalized) and returns the resulting ordered entry list. Objects
// are written to the store as each file is processed; the caller is
// responsible for only registering the new snapshot in the index
// after Build returns successfully, so a new snapshot only ever
// becomes visible to readers atomically.
func (b *Builder) Build(paths []string) ([]packfmt.Entry, error) {
	seen := make(map[string]bool, len(paths))
	entries := make([]packfmt.Entry, 0, len(paths))

	for _, raw := range paths {
		norm := filepath.ToSlash(filepath.Clean(raw))
		if seen[norm] {
			return nil, &ErrDuplicatePath{Path: norm}
		}
		seen[norm] = true

		entry, err := b.buildEntry(norm)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// buildEntry stats and, if needed, hashes one file.
func (b *Builder) buildEntry(relPath string) (packfmt.Entry, error) {
	abs := filepath.Join(b.WorktreeRoot, filepath.FromSlash(relPath))

	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return packfmt.Entry{}, &ErrFileVanished{Path: relPath}
		}
		return packfmt.Entry{}, fmt.Errorf("store: stat %s: %w", relPath, err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(abs)
		if err != nil {
			return packfmt.Entry{}, fmt.Errorf("store: readlink %s: %w", relPath, err)
		}
		return packfmt.Entry{
			Path: relPath,
			Meta: packfmt.Metadata{
				IsSymlink:     true,
				SymlinkTarget: filepath.ToSlash(target),
			},
		}, nil
	}

	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return packfmt.Entry{}, &ErrFileVanished{Path: relPath}
		}
		return packfmt.Entry{}, fmt.Errorf("store: open %s: %w", relPath, err)
	}
	defer f.Close()

	id, err := b.Objects.WriteReader(f)
	if err != nil {
		return packfmt.Entry{}, fmt.Errorf("store: write object %s: %w", relPath, err)
	}

	mtime := info.ModTime()
	return packfmt.Entry{
		Path: relPath,
		Hash: id,
		Meta: packfmt.Metadata{
			ModSeconds: mtime.Unix(),
			ModNanos:   int32(mtime.Nanosecond()),
			Mode:       uint32(info.Mode().Perm()),
		},
	}, nil
}

// DiscoverAllFiles walks root and returns every regular file and
// symlink path, relative and forward-slash-normalized, skipping the
// managed data directory dataDirName. Used when the caller asks to
// store "all tracked files in worktree" rather than an explicit list.
func DiscoverAllFiles(root, dataDirName string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if d.Name() == dataDirName {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: walk %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}
