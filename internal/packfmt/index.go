package packfmt

import (
	"fmt"
	"sort"

	"github.com/fenilsonani/snapstore/internal/objstore"
)

// Index is the in-memory pack index: a deduplicated object
// table, an interned path table, and a snapshot table mapping each
// tag to an ordered handle list. It is built once (by the store
// builder or the packer) and is immutable thereafter — safe to share
// by reference across a worker pool without locking.
type Index struct {
	paths    []string
	pathID   map[string]uint32
	objects  []ObjectRecord
	objectID map[objstore.ID]uint32

	tags     []string // insertion order, for deterministic enumeration
	snapshot map[string][]Handle
}

// New returns an empty, mutable Index. Use the Add* methods to build
// it up, then treat it as read-only.
func New() *Index {
	return &Index{
		pathID:   make(map[string]uint32),
		objectID: make(map[objstore.ID]uint32),
		snapshot: make(map[string][]Handle),
	}
}

// internPath returns the id for p, adding it to the path table if new.
func (idx *Index) internPath(p string) uint32 {
	if id, ok := idx.pathID[p]; ok {
		return id
	}
	id := uint32(len(idx.paths))
	idx.paths = append(idx.paths, p)
	idx.pathID[p] = id
	return id
}

// InternPathPublic interns p into the path table, returning its id.
// Exported for the packer, which builds a merged index's path table
// directly rather than going through AddSnapshot.
func (idx *Index) InternPathPublic(p string) uint32 {
	return idx.internPath(p)
}

// InternObject returns the id for hash, adding a new ObjectRecord of
// size if the hash has not been seen before. It never overwrites an
// existing record (size is assumed to match).
func (idx *Index) InternObject(hash objstore.ID, size uint64) uint32 {
	if id, ok := idx.objectID[hash]; ok {
		return id
	}
	id := uint32(len(idx.objects))
	idx.objects = append(idx.objects, ObjectRecord{Hash: hash, UncompressedSize: size})
	idx.objectID[hash] = id
	return id
}

// ObjectByHash returns the object id for hash and whether it exists.
func (idx *Index) ObjectByHash(hash objstore.ID) (uint32, bool) {
	id, ok := idx.objectID[hash]
	return id, ok
}

// Object returns the record for object id.
func (idx *Index) Object(id uint32) ObjectRecord {
	return idx.objects[id]
}

// SetFrameLocation records where object id was placed by the packer.
func (idx *Index) SetFrameLocation(id uint32, frameID uint32, offset uint64) {
	idx.objects[id].FrameID = frameID
	idx.objects[id].FrameOffset = offset
}

// NumObjects returns the number of distinct objects in the table.
func (idx *Index) NumObjects() int { return len(idx.objects) }

// Objects returns the object table in table order (the order packer
// placement assigned them, or insertion order for a loose index).
func (idx *Index) Objects() []ObjectRecord { return idx.objects }

// AddSnapshot registers tag with the given ordered entries. It fails
// with a duplicate-tag error if tag is already present (I2). Objects
// are recorded with size 0.
func (idx *Index) AddSnapshot(tag string, entries []Entry) error {
	if _, exists := idx.snapshot[tag]; exists {
		return fmt.Errorf("packfmt: duplicate snapshot tag %q", tag)
	}
	handles := make([]Handle, len(entries))
	for i, e := range entries {
		pathID := idx.internPath(e.Path)
		var objID uint32
		if !e.Meta.IsSymlink {
			objID = idx.InternObject(e.Hash, 0)
		}
		handles[i] = Handle{PathID: pathID, ObjectID: objID, Meta: e.Meta}
	}
	idx.tags = append(idx.tags, tag)
	idx.snapshot[tag] = handles
	return nil
}

// AddSnapshotHandles registers tag using handles already resolved
// against this index's tables (used by the packer, which builds the
// merged object/path tables itself before re-pointing each snapshot's
// handles at them).
func (idx *Index) AddSnapshotHandles(tag string, handles []Handle) error {
	if _, exists := idx.snapshot[tag]; exists {
		return fmt.Errorf("packfmt: duplicate snapshot tag %q", tag)
	}
	idx.tags = append(idx.tags, tag)
	idx.snapshot[tag] = handles
	return nil
}

// SnapshotTags returns all tags in this index, in insertion order.
func (idx *Index) SnapshotTags() []string {
	out := make([]string, len(idx.tags))
	copy(out, idx.tags)
	return out
}

// SortedSnapshotTags returns all tags sorted alphabetically, used when
// listing a pack's snapshots.
func (idx *Index) SortedSnapshotTags() []string {
	out := idx.SnapshotTags()
	sort.Strings(out)
	return out
}

// ResolveSnapshot returns the handle list for tag.
func (idx *Index) ResolveSnapshot(tag string) ([]Handle, error) {
	h, ok := idx.snapshot[tag]
	if !ok {
		return nil, fmt.Errorf("packfmt: snapshot %q not found", tag)
	}
	return h, nil
}

// HasSnapshot reports whether tag exists in this index.
func (idx *Index) HasSnapshot(tag string) bool {
	_, ok := idx.snapshot[tag]
	return ok
}

// Path returns the interned path for id.
func (idx *Index) Path(id uint32) string { return idx.paths[id] }

// EntriesFromHandles expands handles into full Entry values. It fails
// if any handle references a path or object id out of range.
func (idx *Index) EntriesFromHandles(handles []Handle) ([]Entry, error) {
	out := make([]Entry, len(handles))
	for i, h := range handles {
		if int(h.PathID) >= len(idx.paths) {
			return nil, fmt.Errorf("packfmt: handle %d: path id %d out of range", i, h.PathID)
		}
		e := Entry{Path: idx.paths[h.PathID], Meta: h.Meta}
		if !h.Meta.IsSymlink {
			if int(h.ObjectID) >= len(idx.objects) {
				return nil, fmt.Errorf("packfmt: handle %d: object id %d out of range", i, h.ObjectID)
			}
			e.Hash = idx.objects[h.ObjectID].Hash
		}
		out[i] = e
	}
	return out, nil
}

// Entries is a convenience wrapper combining ResolveSnapshot and
// EntriesFromHandles.
func (idx *Index) Entries(tag string) ([]Entry, error) {
	handles, err := idx.ResolveSnapshot(tag)
	if err != nil {
		return nil, err
	}
	return idx.EntriesFromHandles(handles)
}

// ObjectSizeTotal sums the uncompressed size of every distinct object
// as recorded in the object table.
func (idx *Index) ObjectSizeTotal() uint64 {
	var total uint64
	for _, o := range idx.objects {
		total += o.UncompressedSize
	}
	return total
}

// ForEachSnapshot iterates snapshots in insertion order, yielding the
// tag and its resolved entries. Used by the packer to merge multiple
// loose indexes into one sealed index (mirrors pack.rs's
// for_each_snapshot consolidation loop).
func (idx *Index) ForEachSnapshot(fn func(tag string, entries []Entry) error) error {
	for _, tag := range idx.tags {
		entries, err := idx.Entries(tag)
		if err != nil {
			return err
		}
		if err := fn(tag, entries); err != nil {
			return err
		}
	}
	return nil
}
