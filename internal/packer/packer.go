// Package packer consolidates one or more loose packs into a single
// sealed pack, and performs the inverse operation, loosening a sealed
// pack back to loose objects. Grounded on pack.rs's consolidation loop
// and loosen.rs's explode loop, with compression handled by
// internal/packfmt, itself grounded on internal/pack/hyperpack.go.
package packer

import (
	"context"
	"fmt"
	"io"

	"github.com/fenilsonani/snapstore/internal/atomicfile"
	"github.com/fenilsonani/snapstore/internal/objstore"
	"github.com/fenilsonani/snapstore/internal/packfmt"
)

// ErrNoInputs is returned when Pack is asked to consolidate zero
// indexes.
var ErrNoInputs = fmt.Errorf("packer: no input indexes")

// ErrInvalidCompressionLevel is returned when Options.CompressionLevel
// is outside zstd's supported range.
var ErrInvalidCompressionLevel = fmt.Errorf("packer: invalid compression level")

// Options configures a pack build.
type Options struct {
	CompressionLevel int // 1..22
	NumWorkers       int // 0 = use PlanFrames' group count
	NumFrames        int // 0 = auto-detect via packfmt.DefaultFrameCount
	Progress         func(phase string, done, total int)
}

const (
	minCompressionLevel = 1
	maxCompressionLevel = 22
)

// Result summarizes a completed pack build.
type Result struct {
	SnapshotCount int
	ObjectCount   int
	FrameCount    int
}

// Pack merges the snapshots of sources (in the given order) into a
// single sealed pack written atomically to destPath, reading object
// bytes from objects.
func Pack(ctx context.Context, destPath string, sources []*packfmt.Index, objects *objstore.Store, opts Options) (Result, error) {
	if len(sources) == 0 {
		return Result{}, ErrNoInputs
	}
	if opts.CompressionLevel == 0 {
		opts.CompressionLevel = 19
	}
	if opts.CompressionLevel < minCompressionLevel || opts.CompressionLevel > maxCompressionLevel {
		return Result{}, ErrInvalidCompressionLevel
	}

	sealed, order, err := mergeIndexes(sources)
	if err != nil {
		return Result{}, err
	}

	objSources := make([]packfmt.ObjectSource, len(order))
	for i, hash := range order {
		hash := hash
		rec := &sealed.Objects()[i]
		if rec.UncompressedSize == 0 {
			// Loose indexes record size 0; measure the object itself.
			rc, err := objects.Open(hash)
			if err != nil {
				return Result{}, fmt.Errorf("packer: open object %s: %w", hash, err)
			}
			n, err := io.Copy(io.Discard, rc)
			rc.Close()
			if err != nil {
				return Result{}, fmt.Errorf("packer: measure object %s: %w", hash, err)
			}
			rec.UncompressedSize = uint64(n)
		}
		objSources[i] = packfmt.ObjectSource{
			Size: rec.UncompressedSize,
			Open: func() (io.ReadCloser, error) { return objects.Open(hash) },
		}
	}

	groups := packfmt.PlanFrames(objSources, opts.NumFrames)
	if opts.Progress != nil {
		opts.Progress("compress", 0, len(groups))
	}

	frameBytes, frameTable, placements, err := packfmt.CompressFrames(ctx, objSources, groups, opts.CompressionLevel, opts.NumWorkers)
	if err != nil {
		return Result{}, fmt.Errorf("packer: compress: %w", err)
	}
	if opts.Progress != nil {
		opts.Progress("compress", len(groups), len(groups))
	}

	for i, p := range placements {
		sealed.SetFrameLocation(uint32(i), p.FrameID, p.Offset)
	}

	if err := writePackFile(destPath, sealed, frameTable, frameBytes); err != nil {
		return Result{}, err
	}

	return Result{
		SnapshotCount: len(sealed.SnapshotTags()),
		ObjectCount:   sealed.NumObjects(),
		FrameCount:    len(groups),
	}, nil
}

func writePackFile(destPath string, idx *packfmt.Index, frameTable []packfmt.FrameTableEntry, frameBytes [][]byte) error {
	return atomicfile.WriteWith(destPath, 0o644, func(w io.Writer) error {
		if _, err := packfmt.WriteHeader(w, idx, frameTable, packfmt.FlagFrameChecksums); err != nil {
			return fmt.Errorf("packer: write header: %w", err)
		}
		for i, fb := range frameBytes {
			if _, err := w.Write(fb); err != nil {
				return fmt.Errorf("packer: write frame %d: %w", i, err)
			}
		}
		return nil
	})
}

// mergeIndexes builds the sealed index: every snapshot from every
// source, objects deduplicated by content hash and ordered by first
// appearance in concatenated snapshot order — a pure function of
// input order, which is what makes pack output reproducible given the
// same inputs. It returns the sealed index and the object hash at
// each object-table position (parallel to sealed.Objects()).
func mergeIndexes(sources []*packfmt.Index) (*packfmt.Index, []objstore.ID, error) {
	sealed := packfmt.New()
	var order []objstore.ID
	sizeByHash := make(map[objstore.ID]uint64)

	// First pass: learn every object's size from wherever it first
	// appears. Loose indexes record size 0; Pack measures those objects
	// before planning frames.
	for _, src := range sources {
		for _, rec := range src.Objects() {
			if _, ok := sizeByHash[rec.Hash]; !ok {
				sizeByHash[rec.Hash] = rec.UncompressedSize
			}
		}
	}

	for _, src := range sources {
		err := src.ForEachSnapshot(func(tag string, entries []packfmt.Entry) error {
			handles := make([]packfmt.Handle, len(entries))
			for i, e := range entries {
				pathID := sealed.InternPathPublic(e.Path)
				var objID uint32
				if !e.Meta.IsSymlink {
					if _, exists := sealed.ObjectByHash(e.Hash); !exists {
						order = append(order, e.Hash)
					}
					objID = sealed.InternObject(e.Hash, sizeByHash[e.Hash])
				}
				handles[i] = packfmt.Handle{PathID: pathID, ObjectID: objID, Meta: e.Meta}
			}
			return sealed.AddSnapshotHandles(tag, handles)
		})
		if err != nil {
			return nil, nil, fmt.Errorf("packer: merge snapshot: %w", err)
		}
	}

	return sealed, order, nil
}

// Loosen explodes a sealed pack back into loose objects and a loose
// index: every object referenced by any of its snapshots is
// decompressed and written into objects, and sealedIdx's snapshots are
// re-added (with fresh, loose-style handles) to looseIdx. Grounded on
// loosen.rs's rewrite-loose-object loop.
func Loosen(ctx context.Context, sealedIdx *packfmt.Index, open packfmt.FrameOpener, frameTable []packfmt.FrameTableEntry, objects *objstore.Store, looseIdx *packfmt.Index, numWorkers int) error {
	recs := sealedIdx.Objects()
	needed := make([]packfmt.NeededObject, len(recs))
	for i, r := range recs {
		needed[i] = packfmt.NeededObject{Key: r.Hash, FrameID: r.FrameID, Offset: r.FrameOffset, Size: r.UncompressedSize}
	}

	err := packfmt.DecompressObjects(ctx, open, frameTable, needed, numWorkers, func(n packfmt.NeededObject, data []byte) error {
		if _, err := objects.Write(data); err != nil {
			return fmt.Errorf("packer: loosen write object: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("packer: loosen: %w", err)
	}

	return sealedIdx.ForEachSnapshot(func(tag string, entries []packfmt.Entry) error {
		handles := make([]packfmt.Handle, len(entries))
		for i, e := range entries {
			pathID := looseIdx.InternPathPublic(e.Path)
			var objID uint32
			if !e.Meta.IsSymlink {
				objID = looseIdx.InternObject(e.Hash, 0)
			}
			handles[i] = packfmt.Handle{PathID: pathID, ObjectID: objID, Meta: e.Meta}
		}
		return looseIdx.AddSnapshotHandles(tag, handles)
	})
}
