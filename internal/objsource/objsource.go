// Package objsource adapts the two places object bytes can live —
// the loose object store and a sealed pack's compressed frames — to
// one interface the extractor (and anything else reading snapshot
// content) can use without caring which kind of pack it opened.
package objsource

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fenilsonani/snapstore/internal/objstore"
	"github.com/fenilsonani/snapstore/internal/packfmt"
	"golang.org/x/sync/errgroup"
)

// Source reads a set of objects, emitting each exactly once. emit may
// be invoked concurrently from multiple goroutines and must be safe
// for that.
type Source interface {
	ReadObjects(ctx context.Context, hashes []objstore.ID, numWorkers int, emit func(objstore.ID, []byte) error) error
}

// Loose reads objects directly out of the loose object store.
type Loose struct {
	Store *objstore.Store
}

func (l Loose) ReadObjects(ctx context.Context, hashes []objstore.ID, numWorkers int, emit func(objstore.ID, []byte) error) error {
	if numWorkers <= 0 || numWorkers > len(hashes) {
		numWorkers = len(hashes)
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, numWorkers)
	for _, h := range hashes {
		h := h
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			data, err := l.Store.ReadAll(h)
			if err != nil {
				return fmt.Errorf("objsource: read %s: %w", h, err)
			}
			return emit(h, data)
		})
	}
	return g.Wait()
}

// Sealed reads objects out of a sealed pack's compressed frames.
type Sealed struct {
	Index      *packfmt.Index
	Open       packfmt.FrameOpener
	FrameTable []packfmt.FrameTableEntry
}

func (s Sealed) ReadObjects(ctx context.Context, hashes []objstore.ID, numWorkers int, emit func(objstore.ID, []byte) error) error {
	needed := make([]packfmt.NeededObject, 0, len(hashes))
	for _, h := range hashes {
		objID, ok := s.Index.ObjectByHash(h)
		if !ok {
			return fmt.Errorf("objsource: object %s not present in sealed pack: %w", h, packfmt.ErrCorrupt)
		}
		rec := s.Index.Object(objID)
		needed = append(needed, packfmt.NeededObject{Key: h, FrameID: rec.FrameID, Offset: rec.FrameOffset, Size: rec.UncompressedSize})
	}
	return packfmt.DecompressObjects(ctx, s.Open, s.FrameTable, needed, numWorkers, func(n packfmt.NeededObject, data []byte) error {
		return emit(n.Key.(objstore.ID), data)
	})
}

// OpenSealedPack opens a sealed pack's file on disk and decodes its
// header eagerly, returning a FrameOpener that seeks to and reads one
// frame's compressed bytes at a time, so frame data itself is only
// decoded lazily as the caller asks for it.
func OpenSealedPack(path string) (*packfmt.Header, packfmt.FrameOpener, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}

	cr := &packfmt.CountingReader{R: f}
	header, err := packfmt.ReadHeader(cr)
	if err != nil {
		f.Close()
		return nil, nil, nil, err
	}

	offsets := packfmt.FrameOffsets(header.Frames, header.FrameStart)
	open := func(frameID uint32) (io.Reader, error) {
		entry := header.Frames[frameID]
		return io.NewSectionReader(f, offsets[frameID], int64(entry.CompressedSize)), nil
	}

	return header, open, f.Close, nil
}
