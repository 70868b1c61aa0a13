package objstore

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
)

// chunkSize is the read buffer used when streaming a file into the
// hasher, per spec: "compute its content hash by streaming the file
// in 4 KiB chunks".
const chunkSize = 4096

// ID is a content hash: SHA-1 of the raw, unmodified bytes of a file.
// Unlike a git object id, no type/size header is mixed into the
// digest — two files with identical bytes always hash identically
// regardless of how they're referenced.
type ID [20]byte

// String returns the lowercase hex encoding of id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// ParseID decodes a 40-character hex string into an ID.
func ParseID(s string) (ID, error) {
	var id ID
	if len(s) != 40 {
		return id, fmt.Errorf("objstore: invalid id length %d, want 40", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("objstore: invalid id: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// Sum computes the ID of data in memory.
func Sum(data []byte) ID {
	return ID(sha1.Sum(data))
}

// HashReader streams r in chunkSize pieces and returns its ID,
// without buffering the whole file in memory.
func HashReader(r io.Reader) (ID, error) {
	h := sha1.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return ID{}, err
	}
	var id ID
	copy(id[:], h.Sum(nil))
	return id, nil
}
