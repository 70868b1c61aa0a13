package packfmt

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fenilsonani/snapstore/internal/objstore"
)

// Magic is the fixed 4-byte literal at the start of every sealed pack
// file: the ASCII bytes "SNPS" read as a little-endian uint32.
const Magic uint32 = 0x53504e53

// Version is the current pack format version. A reader accepts any
// version <= Version.
const Version uint16 = 1

// FlagFrameChecksums, when set, means each frame-table entry carries a
// trailing xxhash64 of the frame's compressed bytes, letting a reader
// detect corruption before decompressing. Any flag bit a reader does
// not recognize must fail closed with ErrUnsupportedFormat rather than
// be silently skipped.
const FlagFrameChecksums uint16 = 1 << 0

// knownFlags is the set of flag bits this codec understands.
const knownFlags = FlagFrameChecksums

// ErrUnsupportedFormat is returned when a pack's version is newer than
// this codec, or it sets flag bits this codec does not recognize.
var ErrUnsupportedFormat = fmt.Errorf("packfmt: unsupported pack format")

// ErrCorrupt is returned when pack bytes fail a structural or
// checksum integrity check.
var ErrCorrupt = fmt.Errorf("packfmt: corrupt pack")

// FrameTableEntry describes one compressed frame within a sealed pack.
type FrameTableEntry struct {
	CompressedSize   uint64
	UncompressedSize uint64
	Checksum         uint64 // xxhash64 of the compressed bytes, valid iff FlagFrameChecksums is set
}

// Header is the decoded fixed-size preamble of a sealed pack, plus the
// frame table. Frame payload bytes are read lazily by the caller using
// FrameOffsets.
type Header struct {
	Version    uint16
	Flags      uint16
	Index      *Index
	Frames     []FrameTableEntry
	FrameStart int64 // absolute byte offset in the file where frame 0 begins
}

// writeUint32 / writeUint64 write fixed-width little-endian integers,
// the byte order used throughout the pack format.
func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeIndex serializes idx deterministically: stable field order,
// no unordered sets, so identical inputs always produce identical
// bytes.
func EncodeIndex(idx *Index) ([]byte, error) {
	var buf bytes.Buffer

	if err := writeUint32(&buf, uint32(len(idx.paths))); err != nil {
		return nil, err
	}
	for _, p := range idx.paths {
		if err := writeLenPrefixed(&buf, []byte(p)); err != nil {
			return nil, err
		}
	}

	if err := writeUint32(&buf, uint32(len(idx.objects))); err != nil {
		return nil, err
	}
	for _, o := range idx.objects {
		buf.Write(o.Hash[:])
		if err := writeUint64(&buf, o.UncompressedSize); err != nil {
			return nil, err
		}
		if err := writeUint32(&buf, o.FrameID); err != nil {
			return nil, err
		}
		if err := writeUint64(&buf, o.FrameOffset); err != nil {
			return nil, err
		}
	}

	if err := writeUint32(&buf, uint32(len(idx.tags))); err != nil {
		return nil, err
	}
	for _, tag := range idx.tags {
		if err := writeLenPrefixed(&buf, []byte(tag)); err != nil {
			return nil, err
		}
		handles := idx.snapshot[tag]
		if err := writeUint32(&buf, uint32(len(handles))); err != nil {
			return nil, err
		}
		for _, h := range handles {
			if err := encodeHandle(&buf, h); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

func encodeHandle(w io.Writer, h Handle) error {
	if err := writeUint32(w, h.PathID); err != nil {
		return err
	}
	if err := writeUint32(w, h.ObjectID); err != nil {
		return err
	}
	return encodeMetadata(w, h.Meta)
}

func encodeMetadata(w io.Writer, m Metadata) error {
	flag := byte(0)
	if m.IsSymlink {
		flag = 1
	}
	if _, err := w.Write([]byte{flag}); err != nil {
		return err
	}
	if m.IsSymlink {
		return writeLenPrefixed(w, []byte(m.SymlinkTarget))
	}
	if err := writeUint64(w, uint64(m.ModSeconds)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(m.ModNanos)); err != nil {
		return err
	}
	return writeUint32(w, m.Mode)
}

// DecodeIndex parses the output of EncodeIndex.
func DecodeIndex(data []byte) (*Index, error) {
	r := bytes.NewReader(data)
	idx := New()

	numPaths, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("packfmt: decode paths: %w", ErrCorrupt)
	}
	idx.paths = make([]string, numPaths)
	for i := range idx.paths {
		b, err := readLenPrefixed(r)
		if err != nil {
			return nil, fmt.Errorf("packfmt: decode path %d: %w", i, ErrCorrupt)
		}
		idx.paths[i] = string(b)
		idx.pathID[idx.paths[i]] = uint32(i)
	}

	numObjects, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("packfmt: decode objects: %w", ErrCorrupt)
	}
	idx.objects = make([]ObjectRecord, numObjects)
	for i := range idx.objects {
		var hash objstore.ID
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return nil, fmt.Errorf("packfmt: decode object %d hash: %w", i, ErrCorrupt)
		}
		size, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("packfmt: decode object %d size: %w", i, ErrCorrupt)
		}
		frameID, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("packfmt: decode object %d frame: %w", i, ErrCorrupt)
		}
		frameOffset, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("packfmt: decode object %d offset: %w", i, ErrCorrupt)
		}
		idx.objects[i] = ObjectRecord{Hash: hash, UncompressedSize: size, FrameID: frameID, FrameOffset: frameOffset}
		idx.objectID[hash] = uint32(i)
	}

	numSnapshots, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("packfmt: decode snapshots: %w", ErrCorrupt)
	}
	for i := uint32(0); i < numSnapshots; i++ {
		tagBytes, err := readLenPrefixed(r)
		if err != nil {
			return nil, fmt.Errorf("packfmt: decode snapshot %d tag: %w", i, ErrCorrupt)
		}
		tag := string(tagBytes)
		numHandles, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("packfmt: decode snapshot %q handle count: %w", tag, ErrCorrupt)
		}
		handles := make([]Handle, numHandles)
		for j := range handles {
			h, err := decodeHandle(r)
			if err != nil {
				return nil, fmt.Errorf("packfmt: decode snapshot %q handle %d: %w", tag, j, ErrCorrupt)
			}
			handles[j] = h
		}
		idx.tags = append(idx.tags, tag)
		idx.snapshot[tag] = handles
	}

	return idx, nil
}

func decodeHandle(r io.Reader) (Handle, error) {
	pathID, err := readUint32(r)
	if err != nil {
		return Handle{}, err
	}
	objectID, err := readUint32(r)
	if err != nil {
		return Handle{}, err
	}
	meta, err := decodeMetadata(r)
	if err != nil {
		return Handle{}, err
	}
	return Handle{PathID: pathID, ObjectID: objectID, Meta: meta}, nil
}

func decodeMetadata(r io.Reader) (Metadata, error) {
	var flagBuf [1]byte
	if _, err := io.ReadFull(r, flagBuf[:]); err != nil {
		return Metadata{}, err
	}
	if flagBuf[0]&1 != 0 {
		target, err := readLenPrefixed(r)
		if err != nil {
			return Metadata{}, err
		}
		return Metadata{IsSymlink: true, SymlinkTarget: string(target)}, nil
	}
	sec, err := readUint64(r)
	if err != nil {
		return Metadata{}, err
	}
	nanos, err := readUint32(r)
	if err != nil {
		return Metadata{}, err
	}
	mode, err := readUint32(r)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{ModSeconds: int64(sec), ModNanos: int32(nanos), Mode: mode}, nil
}

// WriteHeader writes the sealed pack preamble (magic/version/flags,
// index bytes, frame table) to w. It returns the number of bytes
// written, so the caller can append frame payloads immediately after.
func WriteHeader(w io.Writer, idx *Index, frames []FrameTableEntry, flags uint16) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64

	n, err := writeCounted(bw, func(w io.Writer) error { return writeUint32(w, Magic) })
	written += n
	if err != nil {
		return written, err
	}
	n, err = writeCounted(bw, func(w io.Writer) error {
		var b [4]byte
		binary.LittleEndian.PutUint16(b[0:2], Version)
		binary.LittleEndian.PutUint16(b[2:4], flags)
		_, err := w.Write(b[:])
		return err
	})
	written += n
	if err != nil {
		return written, err
	}

	indexBytes, err := EncodeIndex(idx)
	if err != nil {
		return written, err
	}
	n, err = writeCounted(bw, func(w io.Writer) error { return writeUint64(w, uint64(len(indexBytes))) })
	written += n
	if err != nil {
		return written, err
	}
	nn, err := bw.Write(indexBytes)
	written += int64(nn)
	if err != nil {
		return written, err
	}

	n, err = writeCounted(bw, func(w io.Writer) error { return writeUint64(w, uint64(len(frames))) })
	written += n
	if err != nil {
		return written, err
	}
	for _, f := range frames {
		n, err = writeCounted(bw, func(w io.Writer) error {
			if err := writeUint64(w, f.CompressedSize); err != nil {
				return err
			}
			if err := writeUint64(w, f.UncompressedSize); err != nil {
				return err
			}
			if flags&FlagFrameChecksums != 0 {
				return writeUint64(w, f.Checksum)
			}
			return nil
		})
		written += n
		if err != nil {
			return written, err
		}
	}

	return written, bw.Flush()
}

func writeCounted(w io.Writer, fn func(io.Writer) error) (int64, error) {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return 0, err
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// CountingReader wraps an io.Reader and tracks how many bytes have
// been read through it, so ReadHeader's caller can learn the absolute
// offset where frame 0 begins without requiring a seekable source.
type CountingReader struct {
	R io.Reader
	N int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.N += int64(n)
	return n, err
}

// ReadHeader decodes the preamble from a reader positioned at the
// start of a sealed pack. It does not read frame payloads. If r is a
// *CountingReader, the returned Header's FrameStart is set to the
// reader's count immediately after the header, which is exactly where
// frame 0 begins.
func ReadHeader(r io.Reader) (*Header, error) {
	magic, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("packfmt: read magic: %w", ErrCorrupt)
	}
	if magic != Magic {
		return nil, fmt.Errorf("packfmt: bad magic %x: %w", magic, ErrCorrupt)
	}

	var vf [4]byte
	if _, err := io.ReadFull(r, vf[:]); err != nil {
		return nil, fmt.Errorf("packfmt: read version/flags: %w", ErrCorrupt)
	}
	version := binary.LittleEndian.Uint16(vf[0:2])
	flags := binary.LittleEndian.Uint16(vf[2:4])

	if version > Version {
		return nil, fmt.Errorf("packfmt: pack version %d newer than supported %d: %w", version, Version, ErrUnsupportedFormat)
	}
	if flags&^knownFlags != 0 {
		return nil, fmt.Errorf("packfmt: unknown flag bits %x: %w", flags&^knownFlags, ErrUnsupportedFormat)
	}

	indexLen, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("packfmt: read index length: %w", ErrCorrupt)
	}
	indexBytes := make([]byte, indexLen)
	if _, err := io.ReadFull(r, indexBytes); err != nil {
		return nil, fmt.Errorf("packfmt: read index: %w", ErrCorrupt)
	}
	idx, err := DecodeIndex(indexBytes)
	if err != nil {
		return nil, err
	}

	numFrames, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("packfmt: read frame table length: %w", ErrCorrupt)
	}
	frames := make([]FrameTableEntry, numFrames)
	for i := range frames {
		cSize, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("packfmt: read frame %d compressed size: %w", i, ErrCorrupt)
		}
		uSize, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("packfmt: read frame %d uncompressed size: %w", i, ErrCorrupt)
		}
		var checksum uint64
		if flags&FlagFrameChecksums != 0 {
			checksum, err = readUint64(r)
			if err != nil {
				return nil, fmt.Errorf("packfmt: read frame %d checksum: %w", i, ErrCorrupt)
			}
		}
		frames[i] = FrameTableEntry{CompressedSize: cSize, UncompressedSize: uSize, Checksum: checksum}
	}

	h := &Header{Version: version, Flags: flags, Index: idx, Frames: frames}
	if cr, ok := r.(*CountingReader); ok {
		h.FrameStart = cr.N
	}
	return h, nil
}

// FrameOffsets returns the absolute byte offset of each frame's
// compressed data within the pack file, given the offset of frame 0.
func FrameOffsets(frames []FrameTableEntry, frameStart int64) []int64 {
	offsets := make([]int64, len(frames))
	cur := frameStart
	for i, f := range frames {
		offsets[i] = cur
		cur += int64(f.CompressedSize)
	}
	return offsets
}
