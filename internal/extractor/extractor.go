// Package extractor plans and applies the minimum worktree mutation
// needed to go from the HEAD snapshot
// to a target snapshot. Grounded on cmd/vcs/checkout.go's
// resolve-then-mutate-worktree shape and original_source/extract.rs's
// plan/apply split, diff semantics, and reset/force/verify flags.
package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fenilsonani/snapstore/internal/objsource"
	"github.com/fenilsonani/snapstore/internal/objstore"
	"github.com/fenilsonani/snapstore/internal/packfmt"
	"github.com/fenilsonani/snapstore/internal/worktree"
)

// DirtyWorktreeError is returned when a path about to be overwritten
// or removed no longer matches what HEAD recorded, and Force was not
// requested.
type DirtyWorktreeError struct {
	Path string
}

func (e *DirtyWorktreeError) Error() string {
	return fmt.Sprintf("extractor: %s has drifted from HEAD", e.Path)
}

// ChecksumMismatchError is returned when Verify is set and a
// just-written file's recomputed hash does not match its entry.
type ChecksumMismatchError struct {
	Path string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("extractor: %s failed post-extract verification", e.Path)
}

// Options configures an extraction.
type Options struct {
	// Reset, when true, treats HEAD as empty: every path in the target
	// is (re)written, except ones that already match by content on
	// disk when Force is false.
	Reset bool
	// Force skips the pre-overwrite drift check against HEAD.
	Force bool
	// Verify recomputes each written regular file's hash and fails
	// with ChecksumMismatchError on any mismatch.
	Verify     bool
	NumWorkers int
	Progress   func(phase string, done, total int)
}

// Result summarizes a completed extraction.
type Result struct {
	Added, Modified, Removed int
}

// Plan is the set of worktree mutations needed to move from one
// snapshot to another.
type Plan struct {
	Add    []packfmt.Entry
	Remove []packfmt.Entry
	Modify []ModifyOp
}

// ModifyOp pairs the old and new entry for a path present in both
// snapshots whose content or metadata differs.
type ModifyOp struct {
	Old, New packfmt.Entry
}

// ComputePlan diffs head against target by path: paths only in
// head are removals, paths only in target are additions, paths in
// both with a differing hash or metadata are modifications, and
// everything else is left untouched.
func ComputePlan(head, target []packfmt.Entry) Plan {
	headByPath := make(map[string]packfmt.Entry, len(head))
	for _, e := range head {
		headByPath[e.Path] = e
	}
	targetByPath := make(map[string]packfmt.Entry, len(target))
	for _, e := range target {
		targetByPath[e.Path] = e
	}

	var plan Plan
	for path, oldEntry := range headByPath {
		newEntry, ok := targetByPath[path]
		if !ok {
			plan.Remove = append(plan.Remove, oldEntry)
			continue
		}
		if !entriesEqual(oldEntry, newEntry) {
			plan.Modify = append(plan.Modify, ModifyOp{Old: oldEntry, New: newEntry})
		}
	}
	for path, newEntry := range targetByPath {
		if _, ok := headByPath[path]; !ok {
			plan.Add = append(plan.Add, newEntry)
		}
	}

	sort.Slice(plan.Add, func(i, j int) bool { return plan.Add[i].Path < plan.Add[j].Path })
	sort.Slice(plan.Remove, func(i, j int) bool { return plan.Remove[i].Path < plan.Remove[j].Path })
	sort.Slice(plan.Modify, func(i, j int) bool { return plan.Modify[i].New.Path < plan.Modify[j].New.Path })
	return plan
}

func entriesEqual(a, b packfmt.Entry) bool {
	if a.Meta.IsSymlink != b.Meta.IsSymlink {
		return false
	}
	if a.Meta.IsSymlink {
		return a.Meta.SymlinkTarget == b.Meta.SymlinkTarget
	}
	return a.Hash == b.Hash && a.Meta.ModSeconds == b.Meta.ModSeconds && a.Meta.ModNanos == b.Meta.ModNanos
}

// Apply carries out plan against the worktree rooted at worktreeRoot,
// reading object bytes for Add/Modify targets from src. The drift
// check covers only plan's own Remove and Modify.Old entries, so a
// plan built with head=nil (as for a reset) has nothing to check;
// with opts.Reset and without opts.Force, Add entries whose path
// already holds the same content are skipped.
func Apply(ctx context.Context, plan Plan, worktreeRoot string, src objsource.Source, opts Options) (Result, error) {
	if !opts.Force {
		if err := checkDrift(worktreeRoot, plan); err != nil {
			return Result{}, err
		}
	}

	needed := make([]objstore.ID, 0, len(plan.Add)+len(plan.Modify))
	destinations := make(map[objstore.ID][]packfmt.Entry)
	addEntry := func(e packfmt.Entry) {
		if e.Meta.IsSymlink {
			return
		}
		if _, seen := destinations[e.Hash]; !seen {
			needed = append(needed, e.Hash)
		}
		destinations[e.Hash] = append(destinations[e.Hash], e)
	}
	for _, e := range plan.Add {
		if opts.Reset && !opts.Force && !e.Meta.IsSymlink {
			matched, err := matchesByHashOnDisk(worktreeRoot, e.Path, e.Hash)
			if err != nil {
				return Result{}, fmt.Errorf("extractor: check %s: %w", e.Path, err)
			}
			if matched {
				continue
			}
		}
		addEntry(e)
	}
	for _, op := range plan.Modify {
		addEntry(op.New)
	}

	total := len(plan.Add) + len(plan.Modify) + len(plan.Remove)
	done := 0
	report := func() {
		if opts.Progress != nil {
			opts.Progress("extract", done, total)
		}
	}
	report()

	var writeErr error
	if len(needed) > 0 {
		writeErr = src.ReadObjects(ctx, needed, opts.NumWorkers, func(id objstore.ID, data []byte) error {
			for _, e := range destinations[id] {
				if err := worktree.WriteRegular(worktreeRoot, e.Path, data, e.Meta); err != nil {
					return fmt.Errorf("extractor: write %s: %w", e.Path, err)
				}
				if opts.Verify {
					if objstore.Sum(data) != e.Hash {
						return &ChecksumMismatchError{Path: e.Path}
					}
				}
			}
			return nil
		})
	}
	if writeErr != nil {
		return Result{}, writeErr
	}

	for _, e := range plan.Add {
		if e.Meta.IsSymlink {
			if err := worktree.WriteSymlink(worktreeRoot, e.Path, e.Meta.SymlinkTarget); err != nil {
				return Result{}, fmt.Errorf("extractor: symlink %s: %w", e.Path, err)
			}
		}
	}
	for _, op := range plan.Modify {
		if op.New.Meta.IsSymlink {
			if err := worktree.WriteSymlink(worktreeRoot, op.New.Path, op.New.Meta.SymlinkTarget); err != nil {
				return Result{}, fmt.Errorf("extractor: symlink %s: %w", op.New.Path, err)
			}
		}
	}

	for _, e := range plan.Remove {
		if err := worktree.Remove(worktreeRoot, e.Path); err != nil {
			return Result{}, fmt.Errorf("extractor: remove %s: %w", e.Path, err)
		}
		worktree.PruneEmptyDirs(worktreeRoot, parentDir(e.Path))
	}

	done = total
	report()

	return Result{Added: len(plan.Add), Modified: len(plan.Modify), Removed: len(plan.Remove)}, nil
}

// checkDrift verifies every path about to be overwritten or removed
// still matches its "old" entry on disk, skipped entirely when force
// is requested.
func checkDrift(worktreeRoot string, plan Plan) error {
	for _, e := range plan.Remove {
		ok, err := worktree.Matches(worktreeRoot, e)
		if err != nil {
			return fmt.Errorf("extractor: check %s: %w", e.Path, err)
		}
		if !ok {
			return &DirtyWorktreeError{Path: e.Path}
		}
	}
	for _, op := range plan.Modify {
		ok, err := worktree.Matches(worktreeRoot, op.Old)
		if err != nil {
			return fmt.Errorf("extractor: check %s: %w", op.Old.Path, err)
		}
		if !ok {
			return &DirtyWorktreeError{Path: op.Old.Path}
		}
	}
	return nil
}

// matchesByHashOnDisk reports whether the regular file at
// worktreeRoot/path already has the given content hash. Unlike
// worktree.Matches, it never trusts the mtime fast path: Reset entries
// are Add-shaped, so there is no prior metadata recording what mtime
// the file is supposed to have. A missing path, or one that is not a
// regular file, is a non-error "false".
func matchesByHashOnDisk(worktreeRoot, path string, want objstore.ID) (bool, error) {
	full := filepath.Join(worktreeRoot, path)
	info, err := os.Lstat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, nil
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
	return hash == want, nil
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}
