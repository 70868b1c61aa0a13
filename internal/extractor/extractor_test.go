package extractor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fenilsonani/snapstore/internal/objsource"
	"github.com/fenilsonani/snapstore/internal/objstore"
	"github.com/fenilsonani/snapstore/internal/packfmt"
)

func entryFor(t *testing.T, store *objstore.Store, path string, content []byte, mtime time.Time) packfmt.Entry {
	t.Helper()
	id, err := store.Write(content)
	if err != nil {
		t.Fatalf("store.Write: %v", err)
	}
	return packfmt.Entry{
		Path: path,
		Hash: id,
		Meta: packfmt.Metadata{ModSeconds: mtime.Unix(), ModNanos: int32(mtime.Nanosecond()), Mode: 0o644},
	}
}

func TestComputePlan_AddRemoveModifyUnchanged(t *testing.T) {
	dir := t.TempDir()
	store := objstore.New(filepath.Join(dir, "objects"))
	if err := store.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	now := time.Now()

	unchanged := entryFor(t, store, "keep.txt", []byte("same"), now)
	removed := entryFor(t, store, "gone.txt", []byte("bye"), now)
	oldModified := entryFor(t, store, "changed.txt", []byte("before"), now)
	newModified := entryFor(t, store, "changed.txt", []byte("after"), now)
	added := entryFor(t, store, "new.txt", []byte("fresh"), now)

	head := []packfmt.Entry{unchanged, removed, oldModified}
	target := []packfmt.Entry{unchanged, newModified, added}

	plan := ComputePlan(head, target)

	if len(plan.Add) != 1 || plan.Add[0].Path != "new.txt" {
		t.Fatalf("Add = %+v, want [new.txt]", plan.Add)
	}
	if len(plan.Remove) != 1 || plan.Remove[0].Path != "gone.txt" {
		t.Fatalf("Remove = %+v, want [gone.txt]", plan.Remove)
	}
	if len(plan.Modify) != 1 || plan.Modify[0].New.Path != "changed.txt" {
		t.Fatalf("Modify = %+v, want [changed.txt]", plan.Modify)
	}
	_ = added
}

func TestApply_WritesAddsAndRemoves(t *testing.T) {
	dir := t.TempDir()
	objDir := filepath.Join(dir, "objects")
	worktreeRoot := filepath.Join(dir, "wt")
	if err := os.MkdirAll(worktreeRoot, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	store := objstore.New(objDir)
	if err := store.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	now := time.Now()

	stale := entryFor(t, store, "stale.txt", []byte("old"), now)
	if err := os.WriteFile(filepath.Join(worktreeRoot, "stale.txt"), []byte("old"), 0o644); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}
	if err := os.Chtimes(filepath.Join(worktreeRoot, "stale.txt"), now, now); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	fresh := entryFor(t, store, "fresh.txt", []byte("hello world"), now)

	plan := Plan{
		Add:    []packfmt.Entry{fresh},
		Remove: []packfmt.Entry{stale},
	}

	src := objsource.Loose{Store: store}
	result, err := Apply(context.Background(), plan, worktreeRoot, src, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Added != 1 || result.Removed != 1 || result.Modified != 0 {
		t.Fatalf("result = %+v", result)
	}

	got, err := os.ReadFile(filepath.Join(worktreeRoot, "fresh.txt"))
	if err != nil {
		t.Fatalf("read fresh.txt: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("fresh.txt = %q", got)
	}
	if _, err := os.Stat(filepath.Join(worktreeRoot, "stale.txt")); !os.IsNotExist(err) {
		t.Fatalf("stale.txt should have been removed, stat err = %v", err)
	}
}

func TestApply_DirtyWorktreeBlocksWithoutForce(t *testing.T) {
	dir := t.TempDir()
	objDir := filepath.Join(dir, "objects")
	worktreeRoot := filepath.Join(dir, "wt")
	if err := os.MkdirAll(worktreeRoot, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	store := objstore.New(objDir)
	if err := store.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	now := time.Now()

	recorded := entryFor(t, store, "drift.txt", []byte("recorded"), now)
	if err := os.WriteFile(filepath.Join(worktreeRoot, "drift.txt"), []byte("locally edited"), 0o644); err != nil {
		t.Fatalf("seed drifted file: %v", err)
	}
	// Give the on-disk mtime a value distinct from recorded so the
	// trusted-mtime fast path cannot mask the content difference.
	older := now.Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(worktreeRoot, "drift.txt"), older, older); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	plan := Plan{Remove: []packfmt.Entry{recorded}}
	src := objsource.Loose{Store: store}

	_, err := Apply(context.Background(), plan, worktreeRoot, src, Options{})
	if err == nil {
		t.Fatal("expected DirtyWorktreeError, got nil")
	}
	var dirtyErr *DirtyWorktreeError
	if !asDirty(err, &dirtyErr) {
		t.Fatalf("expected *DirtyWorktreeError, got %T: %v", err, err)
	}
	if dirtyErr.Path != "drift.txt" {
		t.Fatalf("Path = %q, want drift.txt", dirtyErr.Path)
	}
}

func TestApply_ForceSkipsDriftCheck(t *testing.T) {
	dir := t.TempDir()
	objDir := filepath.Join(dir, "objects")
	worktreeRoot := filepath.Join(dir, "wt")
	if err := os.MkdirAll(worktreeRoot, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	store := objstore.New(objDir)
	if err := store.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	now := time.Now()

	recorded := entryFor(t, store, "drift.txt", []byte("recorded"), now)
	if err := os.WriteFile(filepath.Join(worktreeRoot, "drift.txt"), []byte("locally edited"), 0o644); err != nil {
		t.Fatalf("seed drifted file: %v", err)
	}
	older := now.Add(-time.Hour)
	os.Chtimes(filepath.Join(worktreeRoot, "drift.txt"), older, older)

	plan := Plan{Remove: []packfmt.Entry{recorded}}
	src := objsource.Loose{Store: store}

	result, err := Apply(context.Background(), plan, worktreeRoot, src, Options{Force: true})
	if err != nil {
		t.Fatalf("Apply with force: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("result = %+v", result)
	}
}

// recordingSource wraps another Source and records which hashes were
// actually requested, so a test can assert an object was never read.
type recordingSource struct {
	objsource.Source
	requested []objstore.ID
}

func (r *recordingSource) ReadObjects(ctx context.Context, hashes []objstore.ID, numWorkers int, emit func(objstore.ID, []byte) error) error {
	r.requested = append(r.requested, hashes...)
	return r.Source.ReadObjects(ctx, hashes, numWorkers, emit)
}

func TestApply_ResetSkipsAddEntryAlreadyMatchingByHash(t *testing.T) {
	dir := t.TempDir()
	objDir := filepath.Join(dir, "objects")
	worktreeRoot := filepath.Join(dir, "wt")
	if err := os.MkdirAll(worktreeRoot, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	store := objstore.New(objDir)
	if err := store.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	now := time.Now()

	matching := entryFor(t, store, "already-there.txt", []byte("same content"), now)
	if err := os.WriteFile(filepath.Join(worktreeRoot, "already-there.txt"), []byte("same content"), 0o644); err != nil {
		t.Fatalf("seed matching file: %v", err)
	}
	// Give the on-disk file a stale mtime and a recognizable marker via
	// Chtimes, so a restored mtime (meaning WriteRegular ran) is
	// distinguishable from "left untouched".
	stale := now.Add(-24 * time.Hour)
	if err := os.Chtimes(filepath.Join(worktreeRoot, "already-there.txt"), stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	needsWrite := entryFor(t, store, "missing.txt", []byte("brand new"), now)

	plan := Plan{Add: []packfmt.Entry{matching, needsWrite}}
	src := &recordingSource{Source: objsource.Loose{Store: store}}

	result, err := Apply(context.Background(), plan, worktreeRoot, src, Options{Reset: true})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Added != 2 {
		t.Fatalf("Added = %d, want 2 (both paths are logically present in target)", result.Added)
	}

	for _, id := range src.requested {
		if id == matching.Hash {
			t.Fatalf("already-matching entry's content was read from the object source, want skipped")
		}
	}

	info, err := os.Lstat(filepath.Join(worktreeRoot, "already-there.txt"))
	if err != nil {
		t.Fatalf("Lstat: %v", err)
	}
	if !info.ModTime().Equal(stale) {
		t.Fatalf("mtime = %v, want untouched stale mtime %v (file should not have been rewritten)", info.ModTime(), stale)
	}

	got, err := os.ReadFile(filepath.Join(worktreeRoot, "missing.txt"))
	if err != nil {
		t.Fatalf("read missing.txt: %v", err)
	}
	if string(got) != "brand new" {
		t.Fatalf("missing.txt = %q, want %q", got, "brand new")
	}
}

func TestApply_ResetWithForceAlwaysRewrites(t *testing.T) {
	dir := t.TempDir()
	objDir := filepath.Join(dir, "objects")
	worktreeRoot := filepath.Join(dir, "wt")
	if err := os.MkdirAll(worktreeRoot, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	store := objstore.New(objDir)
	if err := store.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	now := time.Now()

	matching := entryFor(t, store, "already-there.txt", []byte("same content"), now)
	if err := os.WriteFile(filepath.Join(worktreeRoot, "already-there.txt"), []byte("same content"), 0o644); err != nil {
		t.Fatalf("seed matching file: %v", err)
	}
	stale := now.Add(-24 * time.Hour)
	if err := os.Chtimes(filepath.Join(worktreeRoot, "already-there.txt"), stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	plan := Plan{Add: []packfmt.Entry{matching}}
	src := &recordingSource{Source: objsource.Loose{Store: store}}

	if _, err := Apply(context.Background(), plan, worktreeRoot, src, Options{Reset: true, Force: true}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(src.requested) != 1 || src.requested[0] != matching.Hash {
		t.Fatalf("requested = %v, want the matching entry's hash read (Force disables the skip)", src.requested)
	}
}

func asDirty(err error, target **DirtyWorktreeError) bool {
	if e, ok := err.(*DirtyWorktreeError); ok {
		*target = e
		return true
	}
	return false
}
