// Package snapstore is the public API: a content-addressed snapshot
// store with a pack/extract/status workflow, wrapping the internal
// engine packages behind the six operations named in the host
// interface (store, pack, extract, status, loosen, list). Grounded on
// pkg/vcs/repository.go's Open/Init shape, generalized from a git
// working copy to snapstore's worktree+elfshaker_data layout.
package snapstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fenilsonani/snapstore/internal/extractor"
	"github.com/fenilsonani/snapstore/internal/objsource"
	"github.com/fenilsonani/snapstore/internal/objstore"
	"github.com/fenilsonani/snapstore/internal/packer"
	"github.com/fenilsonani/snapstore/internal/packfmt"
	"github.com/fenilsonani/snapstore/internal/remote"
	"github.com/fenilsonani/snapstore/internal/reposync"
	"github.com/fenilsonani/snapstore/internal/status"
	"github.com/fenilsonani/snapstore/internal/store"
)

// Repository is a handle on one snapstore-managed worktree. It is
// safe for concurrent read operations; concurrent writers coordinate
// through the advisory repository lock.
type Repository struct {
	layout  *reposync.Layout
	lock    *reposync.Lock
	objects *objstore.Store
}

// Open initializes (if needed) and opens the repository rooted at
// worktreeRoot, creating the elfshaker_data layout on first use.
func Open(worktreeRoot string) (*Repository, error) {
	layout := reposync.NewLayout(worktreeRoot)
	if err := layout.Init(); err != nil {
		return nil, NewError("snapstore.Open", KindIO, err)
	}
	objects := objstore.New(layout.LooseObjectsDir())
	if err := objects.Init(); err != nil {
		return nil, NewError("snapstore.Open", KindIO, err)
	}
	return &Repository{
		layout:  layout,
		lock:    reposync.NewLock(layout.LockPath()),
		objects: objects,
	}, nil
}

// Root returns the repository's worktree root.
func (r *Repository) Root() string { return r.layout.Root }

func (r *Repository) withWriteLock(ctx context.Context, timeout time.Duration, fn func() error) error {
	unlock, err := r.lock.AcquireWrite(ctx, timeout)
	if err != nil {
		if errors.Is(err, reposync.ErrBusy) {
			return NewError("snapstore", KindBusy, err)
		}
		return NewError("snapstore", KindIO, err)
	}
	defer unlock()
	return fn()
}

func (r *Repository) withReadLock(ctx context.Context, timeout time.Duration, fn func() error) error {
	unlock, err := r.lock.AcquireRead(ctx, timeout)
	if err != nil {
		if errors.Is(err, reposync.ErrBusy) {
			return NewError("snapstore", KindBusy, err)
		}
		return NewError("snapstore", KindIO, err)
	}
	defer unlock()
	return fn()
}

// StoreResult summarizes a completed store operation.
type StoreResult struct {
	FileCount int
}

// Store hashes paths (or, if paths is empty, every file under the
// worktree) into the loose object store and records them as a new,
// immutable snapshot tagged tag.
func (r *Repository) Store(ctx context.Context, tag string, paths []string, opts ...Option) (StoreResult, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return StoreResult{}, err
	}

	var result StoreResult
	err = r.withWriteLock(ctx, cfg.LockTimeout, func() error {
		if len(paths) == 0 {
			discovered, err := store.DiscoverAllFiles(r.layout.Root, reposync.DataDirName)
			if err != nil {
				return NewError("snapstore.Store", KindIO, err)
			}
			paths = discovered
		}

		if err := validateTag(tag); err != nil {
			return NewPathError("snapstore.Store", KindInvalidArgument, tag, err)
		}

		idx, err := packfmt.LoadLooseIndex(r.layout.LooseIndexPath())
		if err != nil {
			return NewError("snapstore.Store", KindCorrupt, err)
		}
		if idx.HasSnapshot(tag) {
			return NewPathError("snapstore.Store", KindInvalidArgument, tag, fmt.Errorf("snapshot already exists"))
		}

		builder := store.New(r.layout.Root, r.objects)
		entries, err := builder.Build(paths)
		if err != nil {
			return translateStoreErr(err)
		}

		if err := idx.AddSnapshot(tag, entries); err != nil {
			return NewError("snapstore.Store", KindInvalidArgument, err)
		}
		if err := packfmt.SaveLooseIndex(r.layout.LooseIndexPath(), idx); err != nil {
			return NewError("snapstore.Store", KindIO, err)
		}

		result = StoreResult{FileCount: len(entries)}
		return nil
	})
	return result, err
}

func translateStoreErr(err error) error {
	var vanished *store.ErrFileVanished
	if errors.As(err, &vanished) {
		return NewPathError("snapstore.Store", KindIO, vanished.Path, err)
	}
	var dup *store.ErrDuplicatePath
	if errors.As(err, &dup) {
		return NewPathError("snapstore.Store", KindInvalidArgument, dup.Path, err)
	}
	return NewError("snapstore.Store", KindIO, err)
}

// Pack consolidates the loose pack (and any additional sealed packs
// named in inputs) into a single sealed pack named packName.
func (r *Repository) Pack(ctx context.Context, packName string, inputs []string, opts ...Option) (packer.Result, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return packer.Result{}, err
	}

	var result packer.Result
	err = r.withWriteLock(ctx, cfg.LockTimeout, func() error {
		looseIdx, err := packfmt.LoadLooseIndex(r.layout.LooseIndexPath())
		if err != nil {
			return NewError("snapstore.Pack", KindCorrupt, err)
		}
		sources := []*packfmt.Index{looseIdx}

		for _, name := range inputs {
			sealedIdx, _, closeFn, err := r.openSealedIndex(name)
			if err != nil {
				return err
			}
			defer closeFn()
			sources = append(sources, sealedIdx)
		}

		result, err = packer.Pack(ctx, r.layout.SealedPackPath(packName), sources, r.objects, packer.Options{
			CompressionLevel: cfg.CompressionLevel,
			NumWorkers:       cfg.NumWorkers,
			NumFrames:        cfg.NumFrames,
			Progress:         cfg.Progress,
		})
		if err != nil {
			if errors.Is(err, packer.ErrNoInputs) {
				return NewError("snapstore.Pack", KindInvalidArgument, err)
			}
			if errors.Is(err, packer.ErrInvalidCompressionLevel) {
				return NewError("snapstore.Pack", KindInvalidArgument, err)
			}
			return NewError("snapstore.Pack", KindIO, err)
		}

		head, err := reposync.ReadHead(r.layout.HeadPath())
		if err == nil && !head.IsZero() {
			for _, name := range inputs {
				if head.Pack == name && sourceHasTag(sources, head.Tag) {
					if err := reposync.WriteHead(r.layout.HeadPath(), reposync.Ref{Pack: packName, Tag: head.Tag}); err != nil {
						return NewError("snapstore.Pack", KindIO, err)
					}
				}
			}
		}
		return nil
	})
	return result, err
}

// validateTag rejects snapshot tags that are empty or carry one of the
// reserved "pack:tag" ref separators.
func validateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("snapshot tag must not be empty")
	}
	if strings.ContainsAny(tag, ":/") {
		return fmt.Errorf("snapshot tag %q must not contain ':' or '/'", tag)
	}
	return nil
}

func sourceHasTag(sources []*packfmt.Index, tag string) bool {
	for _, s := range sources {
		if s.HasSnapshot(tag) {
			return true
		}
	}
	return false
}

// ExtractResult summarizes a completed extraction.
type ExtractResult struct {
	Added, Modified, Removed int
}

// Extract moves the worktree from its current HEAD to ref, writing
// only the paths that changed.
func (r *Repository) Extract(ctx context.Context, ref string, opts ...Option) (ExtractResult, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return ExtractResult{}, err
	}

	var result ExtractResult
	err = r.withWriteLock(ctx, cfg.LockTimeout, func() error {
		runExtract := func() error {
			pack, tag, err := r.resolveRef(ref)
			if err != nil {
				return err
			}

			targetIdx, src, closeFn, err := r.openIndexAndSource(pack)
			if err != nil {
				return err
			}
			defer closeFn()

			targetEntries, err := targetIdx.Entries(tag)
			if err != nil {
				return NewPathError("snapstore.Extract", KindSnapshotNotFound, tag, err)
			}

			var headEntries []packfmt.Entry
			head, err := reposync.ReadHead(r.layout.HeadPath())
			if err != nil {
				return NewError("snapstore.Extract", KindIO, err)
			}
			if !cfg.Reset && !head.IsZero() {
				headIdx, headSrc, headClose, err := r.openIndexAndSource(head.Pack)
				if err == nil {
					headEntries, _ = headIdx.Entries(head.Tag)
					headClose()
					_ = headSrc
				}
			}

			plan := extractor.ComputePlan(headEntries, targetEntries)
			res, err := extractor.Apply(ctx, plan, r.layout.Root, src, extractor.Options{
				Reset:      cfg.Reset,
				Force:      cfg.Force,
				Verify:     cfg.Verify,
				NumWorkers: cfg.NumWorkers,
				Progress:   cfg.Progress,
			})
			if err != nil {
				return translateExtractErr(err)
			}

			if err := reposync.WriteHead(r.layout.HeadPath(), reposync.Ref{Pack: pack, Tag: tag}); err != nil {
				return NewError("snapstore.Extract", KindIO, err)
			}

			result = ExtractResult{Added: res.Added, Modified: res.Modified, Removed: res.Removed}
			return nil
		}

		isRetryable := func(err error) bool { return KindOf(err) == KindSnapshotNotFound }
		return remote.RetryOnce(ctx, cfg.Refresher, isRetryable, runExtract)
	})
	return result, err
}

func translateExtractErr(err error) error {
	var dirty *extractor.DirtyWorktreeError
	if errors.As(err, &dirty) {
		return NewPathError("snapstore.Extract", KindDirtyWorkdir, dirty.Path, err)
	}
	var mismatch *extractor.ChecksumMismatchError
	if errors.As(err, &mismatch) {
		return NewPathError("snapstore.Extract", KindChecksumMismatch, mismatch.Path, err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError("snapstore.Extract", KindCancelled, err)
	}
	return NewError("snapstore.Extract", KindIO, err)
}

// Status compares the worktree against ref and returns the sorted
// list of paths that differ (including untracked files).
func (r *Repository) Status(ctx context.Context, ref string, opts ...Option) ([]string, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = r.withReadLock(ctx, cfg.LockTimeout, func() error {
		pack, tag, err := r.resolveRef(ref)
		if err != nil {
			return err
		}
		idx, _, closeFn, err := r.openIndexAndSource(pack)
		if err != nil {
			return err
		}
		defer closeFn()

		entries, err := idx.Entries(tag)
		if err != nil {
			return NewPathError("snapstore.Status", KindSnapshotNotFound, tag, err)
		}

		paths, err = status.Compare(ctx, r.layout.Root, reposync.DataDirName, entries)
		if err != nil {
			return NewError("snapstore.Status", KindIO, err)
		}
		return nil
	})
	return paths, err
}

// Loosen explodes the sealed pack packName back into loose objects
// and a loose snapshot index.
func (r *Repository) Loosen(ctx context.Context, packName string, opts ...Option) error {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}

	return r.withWriteLock(ctx, cfg.LockTimeout, func() error {
		sealedIdx, header, closeFn, err := r.openSealedIndex(packName)
		if err != nil {
			return err
		}
		defer closeFn()

		_, open, closeFile, err := objsource.OpenSealedPack(r.layout.SealedPackPath(packName))
		if err != nil {
			return NewPathError("snapstore.Loosen", KindPackNotFound, packName, err)
		}
		defer closeFile()

		looseIdx, err := packfmt.LoadLooseIndex(r.layout.LooseIndexPath())
		if err != nil {
			return NewError("snapstore.Loosen", KindCorrupt, err)
		}

		if err := packer.Loosen(ctx, sealedIdx, open, header.Frames, r.objects, looseIdx, cfg.NumWorkers); err != nil {
			return NewError("snapstore.Loosen", KindIO, err)
		}
		if err := packfmt.SaveLooseIndex(r.layout.LooseIndexPath(), looseIdx); err != nil {
			return NewError("snapstore.Loosen", KindIO, err)
		}
		return nil
	})
}

// SnapshotRef names one (pack, tag) pair, as returned by List.
type SnapshotRef struct {
	Pack string
	Tag  string
}

// List returns every (pack, tag) pair known to the repository, sorted
// by pack then tag. If packFilter is non-empty, only that pack's
// snapshots are returned.
func (r *Repository) List(ctx context.Context, packFilter string, opts ...Option) ([]SnapshotRef, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}

	var out []SnapshotRef
	err = r.withReadLock(ctx, cfg.LockTimeout, func() error {
		if packFilter == "" || packFilter == reposync.LoosePackName {
			looseIdx, err := packfmt.LoadLooseIndex(r.layout.LooseIndexPath())
			if err != nil {
				return NewError("snapstore.List", KindCorrupt, err)
			}
			for _, tag := range looseIdx.SortedSnapshotTags() {
				out = append(out, SnapshotRef{Pack: reposync.LoosePackName, Tag: tag})
			}
		}

		names, err := r.sealedPackNames()
		if err != nil {
			return NewError("snapstore.List", KindIO, err)
		}
		for _, name := range names {
			if packFilter != "" && packFilter != name {
				continue
			}
			idx, _, closeFn, err := r.openSealedIndex(name)
			if err != nil {
				return err
			}
			for _, tag := range idx.SortedSnapshotTags() {
				out = append(out, SnapshotRef{Pack: name, Tag: tag})
			}
			closeFn()
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pack != out[j].Pack {
			return out[i].Pack < out[j].Pack
		}
		return out[i].Tag < out[j].Tag
	})
	return out, err
}

// resolveRef splits ref into (pack, tag), resolving a bare tag against
// the loose pack and every sealed pack.
func (r *Repository) resolveRef(ref string) (pack, tag string, err error) {
	if p, t, ok := strings.Cut(ref, ":"); ok {
		return p, t, nil
	}

	looseIdx, err := packfmt.LoadLooseIndex(r.layout.LooseIndexPath())
	if err != nil {
		return "", "", NewError("snapstore.resolveRef", KindCorrupt, err)
	}

	names, err := r.sealedPackNames()
	if err != nil {
		return "", "", NewError("snapstore.resolveRef", KindIO, err)
	}
	var sealed []reposync.PackSource
	var closers []func() error
	defer func() {
		for _, c := range closers {
			c()
		}
	}()
	for _, name := range names {
		idx, _, closeFn, err := r.openSealedIndex(name)
		if err != nil {
			continue
		}
		closers = append(closers, closeFn)
		sealed = append(sealed, reposync.PackSource{Name: name, Index: idx})
	}

	resolved, err := reposync.ResolveRef(looseIdx, sealed, ref)
	if err != nil {
		if errors.Is(err, reposync.ErrAmbiguousRef) {
			return "", "", NewPathError("snapstore.resolveRef", KindAmbiguousRef, ref, err)
		}
		return "", "", NewPathError("snapstore.resolveRef", KindSnapshotNotFound, ref, err)
	}
	return resolved.Pack, resolved.Tag, nil
}

// openIndexAndSource opens the index and an objsource.Source for
// pack (the loose pack or a named sealed pack), returning a closer
// that must be called when done.
func (r *Repository) openIndexAndSource(pack string) (*packfmt.Index, objsource.Source, func() error, error) {
	if pack == reposync.LoosePackName {
		idx, err := packfmt.LoadLooseIndex(r.layout.LooseIndexPath())
		if err != nil {
			return nil, nil, nil, NewError("snapstore", KindCorrupt, err)
		}
		return idx, objsource.Loose{Store: r.objects}, func() error { return nil }, nil
	}

	header, open, closeFile, err := objsource.OpenSealedPack(r.layout.SealedPackPath(pack))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil, NewPathError("snapstore", KindPackNotFound, pack, err)
		}
		return nil, nil, nil, NewPathError("snapstore", KindCorrupt, pack, err)
	}
	src := objsource.Sealed{Index: header.Index, Open: open, FrameTable: header.Frames}
	return header.Index, src, closeFile, nil
}

// openSealedIndex decodes a sealed pack's header, which embeds its
// index. The returned closer must be called when the caller is done;
// it releases the still-open underlying file.
func (r *Repository) openSealedIndex(name string) (*packfmt.Index, *packfmt.Header, func() error, error) {
	header, _, closeFn, err := objsource.OpenSealedPack(r.layout.SealedPackPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil, NewPathError("snapstore", KindPackNotFound, name, err)
		}
		return nil, nil, nil, NewPathError("snapstore", KindCorrupt, name, err)
	}
	return header.Index, header, closeFn, nil
}

func (r *Repository) sealedPackNames() ([]string, error) {
	entries, err := os.ReadDir(r.layout.PacksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".pack") {
			names = append(names, strings.TrimSuffix(e.Name(), ".pack"))
		}
	}
	sort.Strings(names)
	return names, nil
}
