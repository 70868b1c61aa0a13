// Package packfmt implements the shared pack format: the in-memory
// pack index and its binary codec. Both loose and sealed
// packs share this representation; a loose pack's objects live under
// objstore, a sealed pack's objects live in compressed frames within
// the pack file itself.
package packfmt

import "github.com/fenilsonani/snapstore/internal/objstore"

// Metadata carries everything about a file entry besides its path and
// content hash.
type Metadata struct {
	IsSymlink       bool
	SymlinkTarget   string // empty unless IsSymlink
	ModSeconds      int64
	ModNanos        int32
	Mode            uint32 // 0 if not recorded
}

// Equal reports whether m and other describe the same file state for
// the purposes of the status and extract comparison cascades. Mode is
// deliberately excluded: it is informational and never drives a
// changed/unchanged decision.
func (m Metadata) Equal(other Metadata) bool {
	if m.IsSymlink != other.IsSymlink {
		return false
	}
	if m.IsSymlink {
		return m.SymlinkTarget == other.SymlinkTarget
	}
	return m.ModSeconds == other.ModSeconds && m.ModNanos == other.ModNanos
}

// Entry is one fully-resolved (path, content-hash, metadata) tuple, as
// returned by Index.EntriesFromHandles.
type Entry struct {
	Path string
	Hash objstore.ID
	Meta Metadata
}

// Handle is the dense, interned representation of an Entry inside a
// snapshot's entry list: an index into the path table, an index into
// the object table, and the metadata inline (metadata is small and
// per-entry, so it is not worth a third interning table).
type Handle struct {
	PathID   uint32
	ObjectID uint32
	Meta     Metadata
}

// ObjectRecord is one row of the object table: a deduplicated content
// hash plus its size and, once placed by the packer, its frame
// location.
type ObjectRecord struct {
	Hash             objstore.ID
	UncompressedSize uint64
	FrameID          uint32 // valid only once placed in a sealed pack
	FrameOffset      uint64 // byte offset of this object within its decoded frame
}
