package packfmt

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fenilsonani/snapstore/internal/objstore"
)

func sampleIndex(t *testing.T) *Index {
	t.Helper()
	idx := New()
	h1 := objstore.Sum([]byte("object one"))
	h2 := objstore.Sum([]byte("object two"))
	if err := idx.AddSnapshot("v1", []Entry{
		{Path: "a.txt", Hash: h1, Meta: Metadata{ModSeconds: 100, ModNanos: 1, Mode: 0o644}},
		{Path: "b.txt", Hash: h2, Meta: Metadata{ModSeconds: 200, ModNanos: 2, Mode: 0o644}},
	}); err != nil {
		t.Fatalf("AddSnapshot: %v", err)
	}
	if err := idx.AddSnapshot("v2", []Entry{
		{Path: "link", Meta: Metadata{IsSymlink: true, SymlinkTarget: "a.txt"}},
	}); err != nil {
		t.Fatalf("AddSnapshot: %v", err)
	}
	return idx
}

func TestEncodeDecodeIndex_RoundTrips(t *testing.T) {
	idx := sampleIndex(t)

	data, err := EncodeIndex(idx)
	if err != nil {
		t.Fatalf("EncodeIndex: %v", err)
	}
	decoded, err := DecodeIndex(data)
	if err != nil {
		t.Fatalf("DecodeIndex: %v", err)
	}

	for _, tag := range []string{"v1", "v2"} {
		want, err := idx.Entries(tag)
		if err != nil {
			t.Fatalf("Entries(%q) on original: %v", tag, err)
		}
		got, err := decoded.Entries(tag)
		if err != nil {
			t.Fatalf("Entries(%q) on decoded: %v", tag, err)
		}
		if len(got) != len(want) {
			t.Fatalf("%q entry count = %d, want %d", tag, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%q entry %d = %+v, want %+v", tag, i, got[i], want[i])
			}
		}
	}
}

func TestEncodeIndex_IsDeterministic(t *testing.T) {
	idx := sampleIndex(t)

	a, err := EncodeIndex(idx)
	if err != nil {
		t.Fatalf("EncodeIndex: %v", err)
	}
	b, err := EncodeIndex(idx)
	if err != nil {
		t.Fatalf("EncodeIndex: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("EncodeIndex produced different bytes for the same index")
	}
}

func TestWriteReadHeader_RoundTripsIndexAndFrameTable(t *testing.T) {
	idx := sampleIndex(t)
	frames := []FrameTableEntry{
		{CompressedSize: 10, UncompressedSize: 20, Checksum: 0xdeadbeef},
		{CompressedSize: 5, UncompressedSize: 8, Checksum: 0xfeedface},
	}

	var buf bytes.Buffer
	n, err := WriteHeader(&buf, idx, frames, FlagFrameChecksums)
	if err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Fatalf("WriteHeader returned %d, buffer has %d bytes", n, buf.Len())
	}

	cr := &CountingReader{R: &buf}
	header, err := ReadHeader(cr)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if header.Version != Version {
		t.Fatalf("Version = %d, want %d", header.Version, Version)
	}
	if header.Flags != FlagFrameChecksums {
		t.Fatalf("Flags = %d, want %d", header.Flags, FlagFrameChecksums)
	}
	if len(header.Frames) != len(frames) {
		t.Fatalf("Frames = %d, want %d", len(header.Frames), len(frames))
	}
	for i, f := range frames {
		if header.Frames[i] != f {
			t.Fatalf("Frames[%d] = %+v, want %+v", i, header.Frames[i], f)
		}
	}
	if header.FrameStart != n {
		t.Fatalf("FrameStart = %d, want %d (header length)", header.FrameStart, n)
	}
	if !header.Index.HasSnapshot("v1") || !header.Index.HasSnapshot("v2") {
		t.Fatal("decoded header index is missing snapshots")
	}
}

func TestReadHeader_RejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	_, err := ReadHeader(&buf)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestReadHeader_RejectsUnknownFlagBits(t *testing.T) {
	idx := New()
	var buf bytes.Buffer
	if _, err := WriteHeader(&buf, idx, nil, 0); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	raw := buf.Bytes()
	// Flip an unknown flag bit (bit 1) in the version/flags word, which
	// sits right after the 4-byte magic.
	raw[6] |= 0x02

	_, err := ReadHeader(bytes.NewReader(raw))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestReadHeader_RejectsNewerVersion(t *testing.T) {
	idx := New()
	var buf bytes.Buffer
	if _, err := WriteHeader(&buf, idx, nil, 0); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	raw := buf.Bytes()
	raw[4] = 0xff // low byte of the version field, right after the magic
	raw[5] = 0xff

	_, err := ReadHeader(bytes.NewReader(raw))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestFrameOffsets_AccumulatesCompressedSizes(t *testing.T) {
	frames := []FrameTableEntry{
		{CompressedSize: 100},
		{CompressedSize: 50},
		{CompressedSize: 25},
	}
	offsets := FrameOffsets(frames, 1000)
	want := []int64{1000, 1100, 1150}
	for i, o := range offsets {
		if o != want[i] {
			t.Fatalf("offsets[%d] = %d, want %d", i, o, want[i])
		}
	}
}
