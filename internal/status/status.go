// Package status implements the status engine: comparing a
// worktree against a stored snapshot via the stat→mtime→hash cascade,
// concurrently with a worktree walk that enumerates untracked files.
// Grounded on original_source/status.rs's probe_snapshot_files (the
// channel-handoff between a walking worker and the entry-scan loop)
// and its add_untracked_files set arithmetic.
package status

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fenilsonani/snapstore/internal/packfmt"
	"github.com/fenilsonani/snapstore/internal/worktree"
)

// Compare returns the sorted list of paths that differ between the
// worktree rooted at worktreeRoot and entries: paths whose recorded
// state no longer matches on disk, plus paths present in the worktree
// but absent from entries (untracked). dataDirName is skipped during
// the walk so the engine's own bookkeeping never shows up as
// untracked content.
func Compare(ctx context.Context, worktreeRoot, dataDirName string, entries []packfmt.Entry) ([]string, error) {
	type walkOutcome struct {
		paths map[string]struct{}
		err   error
	}
	walkCh := make(chan walkOutcome, 1)
	go func() {
		paths, err := walkWorktreeFiles(worktreeRoot, dataDirName)
		walkCh <- walkOutcome{paths, err}
	}()

	changed := make(map[string]struct{})
	unchanged := make(map[string]struct{})
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		ok, err := worktree.Matches(worktreeRoot, e)
		if err != nil {
			return nil, err
		}
		if ok {
			unchanged[e.Path] = struct{}{}
		} else {
			changed[e.Path] = struct{}{}
		}
	}

	outcome := <-walkCh
	if outcome.err != nil {
		return nil, outcome.err
	}

	return addUntrackedFiles(changed, unchanged, outcome.paths), nil
}

// addUntrackedFiles computes changed ∪ (workspace ∖ unchanged), sorted.
// A path present in both changed and the workspace set is not
// double-counted since the result is a set.
func addUntrackedFiles(changed, unchanged, workspace map[string]struct{}) []string {
	result := make(map[string]struct{}, len(changed))
	for p := range changed {
		result[p] = struct{}{}
	}
	for p := range workspace {
		if _, ok := unchanged[p]; !ok {
			result[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(result))
	for p := range result {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// walkWorktreeFiles enumerates every non-directory path (regular files
// and symlinks) under root, normalized to forward-slash-relative form,
// skipping the managed
// data directory and any path that is itself the target of an
// in-tree symlink (so a symlink and the file it points at count once).
func walkWorktreeFiles(root, dataDirName string) (map[string]struct{}, error) {
	paths := make(map[string]struct{})
	symlinkTargets := make(map[string]struct{})

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == dataDirName || strings.HasPrefix(rel, dataDirName+"/") {
			return nil
		}
		paths[rel] = struct{}{}

		info, err := d.Info()
		if err == nil && info.Mode()&fs.ModeSymlink != 0 {
			if target, err := os.Readlink(path); err == nil {
				if rel, ok := relativizeSymlinkTarget(root, path, target); ok {
					symlinkTargets[rel] = struct{}{}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for t := range symlinkTargets {
		delete(paths, t)
	}
	return paths, nil
}

// relativizeSymlinkTarget resolves target (as recorded by a symlink at
// linkPath) to a root-relative, forward-slash path. Targets that
// resolve outside root are reported as not-ok and left uncounted.
func relativizeSymlinkTarget(root, linkPath, target string) (string, bool) {
	abs := target
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(filepath.Dir(linkPath), target)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
