package packfmt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

// BytesPerFrame is the default target frame size used when the caller
// asks for the auto-detected frame count (frames=0): one frame per
// 512 MiB of uncompressed object data, floored at 1.
const BytesPerFrame uint64 = 512 * 1024 * 1024

// DefaultWindowLog is the zstd window log recorded in every sealed
// pack unless overridden: 2^28 bytes = 256 MiB, matching the format's
// documented default.
const DefaultWindowLog = 28

// DefaultFrameCount picks the frame count for totalUncompressedSize
// bytes of objects: ceil(totalSize / BytesPerFrame), floored at 1.
func DefaultFrameCount(totalUncompressedSize uint64) int {
	if totalUncompressedSize == 0 {
		return 1
	}
	n := (totalUncompressedSize + BytesPerFrame - 1) / BytesPerFrame
	if n < 1 {
		n = 1
	}
	return int(n)
}

// ObjectSource describes one object to be placed into a frame: its
// size (known up front, so frame boundaries can be planned without
// reading data) and a lazy opener for its raw bytes.
type ObjectSource struct {
	Size uint64
	Open func() (io.ReadCloser, error)
}

// PlanFrames groups object indices (preserving input order) into at
// most numFrames groups of roughly equal uncompressed size, never
// splitting an object across a group boundary. If numFrames <= 0 it is
// computed from the total size via DefaultFrameCount. The returned
// slice always has at least one group when objects is non-empty.
func PlanFrames(objects []ObjectSource, numFrames int) [][]int {
	if len(objects) == 0 {
		return nil
	}

	var total uint64
	for _, o := range objects {
		total += o.Size
	}
	if numFrames <= 0 {
		numFrames = DefaultFrameCount(total)
	}
	if numFrames > len(objects) {
		numFrames = len(objects)
	}
	target := total / uint64(numFrames)
	if target == 0 {
		target = 1
	}

	groups := make([][]int, 0, numFrames)
	current := []int{}
	var currentSize uint64
	for i, o := range objects {
		current = append(current, i)
		currentSize += o.Size
		isLast := i == len(objects)-1
		// Close out the current frame once it reaches the target size,
		// unless doing so would leave no frames left for the remaining
		// objects (so we never emit more than numFrames groups).
		if !isLast && currentSize >= target && len(groups) < numFrames-1 {
			groups = append(groups, current)
			current = []int{}
			currentSize = 0
		}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// ObjectPlacement records which frame an object landed in and its
// byte offset within that frame's decoded output.
type ObjectPlacement struct {
	FrameID uint32
	Offset  uint64
}

// CompressFrames compresses each group from PlanFrames independently
// using a worker pool of size numWorkers (0 means unbounded, capped by
// the number of groups). It returns the compressed bytes of each
// frame in frame-id order, the frame table, and the placement of every
// object that appeared in objects.
func CompressFrames(ctx context.Context, objects []ObjectSource, groups [][]int, level int, numWorkers int) ([][]byte, []FrameTableEntry, []ObjectPlacement, error) {
	if numWorkers <= 0 || numWorkers > len(groups) {
		numWorkers = len(groups)
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	frameBytes := make([][]byte, len(groups))
	table := make([]FrameTableEntry, len(groups))
	placements := make([]ObjectPlacement, len(objects))

	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, numWorkers)

	for frameID, group := range groups {
		frameID, group := frameID, group
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var raw bytes.Buffer
			var offset uint64
			for _, objIdx := range group {
				rc, err := objects[objIdx].Open()
				if err != nil {
					return fmt.Errorf("packfmt: open object for frame %d: %w", frameID, err)
				}
				n, err := io.Copy(&raw, rc)
				rc.Close()
				if err != nil {
					return fmt.Errorf("packfmt: read object for frame %d: %w", frameID, err)
				}
				placements[objIdx] = ObjectPlacement{FrameID: uint32(frameID), Offset: offset}
				offset += uint64(n)
			}

			enc, err := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
				zstd.WithWindowSize(1<<DefaultWindowLog))
			if err != nil {
				return fmt.Errorf("packfmt: new encoder: %w", err)
			}
			defer enc.Close()
			compressed := enc.EncodeAll(raw.Bytes(), nil)

			frameBytes[frameID] = compressed
			table[frameID] = FrameTableEntry{
				CompressedSize:   uint64(len(compressed)),
				UncompressedSize: uint64(raw.Len()),
				Checksum:         xxhash.Sum64(compressed),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return frameBytes, table, placements, nil
}

// NeededObject describes one object a reader wants to extract from a
// sealed pack's frames. Key is opaque to this package; it is handed
// back to Emit so the caller can route decoded bytes to the right
// destination(s).
type NeededObject struct {
	Key     any
	FrameID uint32
	Offset  uint64
	Size    uint64
}

// FrameOpener returns a reader over the compressed bytes of frameID.
type FrameOpener func(frameID uint32) (io.Reader, error)

// DecompressObjects decompresses exactly the frames containing
// needed objects, one decode task per frame, across a worker pool of
// size numWorkers. Within each frame the needed objects are emitted in
// ascending offset order via a single forward pass (never seeking
// back), and the decoded frame buffer is dropped as soon as its
// objects are drained — peak memory is numWorkers uncompressed frames.
// emit is called once per NeededObject and must be safe for
// concurrent use, since multiple frames decode in parallel.
func DecompressObjects(ctx context.Context, open FrameOpener, table []FrameTableEntry, needed []NeededObject, numWorkers int, emit func(NeededObject, []byte) error) error {
	byFrame := make(map[uint32][]NeededObject)
	for _, n := range needed {
		byFrame[n.FrameID] = append(byFrame[n.FrameID], n)
	}
	for frameID := range byFrame {
		sort.Slice(byFrame[frameID], func(i, j int) bool {
			return byFrame[frameID][i].Offset < byFrame[frameID][j].Offset
		})
	}

	frameIDs := make([]uint32, 0, len(byFrame))
	for id := range byFrame {
		frameIDs = append(frameIDs, id)
	}

	if numWorkers <= 0 || numWorkers > len(frameIDs) {
		numWorkers = len(frameIDs)
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, numWorkers)

	for _, frameID := range frameIDs {
		frameID := frameID
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			compressed, err := open(frameID)
			if err != nil {
				return fmt.Errorf("packfmt: open frame %d: %w", frameID, err)
			}
			compressedBytes, err := io.ReadAll(compressed)
			if err != nil {
				return fmt.Errorf("packfmt: read frame %d: %w", frameID, err)
			}
			if int(frameID) < len(table) && table[frameID].Checksum != 0 {
				if xxhash.Sum64(compressedBytes) != table[frameID].Checksum {
					return fmt.Errorf("packfmt: frame %d: %w", frameID, ErrCorrupt)
				}
			}

			dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxWindow((1<<DefaultWindowLog)+1))
			if err != nil {
				return fmt.Errorf("packfmt: new decoder: %w", err)
			}
			defer dec.Close()
			decoded, err := dec.DecodeAll(compressedBytes, nil)
			if err != nil {
				return fmt.Errorf("packfmt: decode frame %d: %w", frameID, err)
			}

			for _, n := range byFrame[frameID] {
				if n.Offset+n.Size > uint64(len(decoded)) {
					return fmt.Errorf("packfmt: object offset out of frame %d bounds: %w", frameID, ErrCorrupt)
				}
				data := decoded[n.Offset : n.Offset+n.Size]
				if err := emit(n, data); err != nil {
					return err
				}
			}
			// decoded becomes eligible for GC once this goroutine returns.
			return nil
		})
	}

	return g.Wait()
}
