package reposync

import (
	"fmt"
	"os"
	"strings"

	"github.com/fenilsonani/snapstore/internal/atomicfile"
)

// Ref identifies a snapshot unambiguously: a pack name and a tag
// within it.
type Ref struct {
	Pack string
	Tag  string
}

func (r Ref) String() string { return r.Pack + ":" + r.Tag }

// IsZero reports whether r is the unset HEAD value.
func (r Ref) IsZero() bool { return r.Pack == "" && r.Tag == "" }

// ReadHead reads the HEAD file at path. A missing file is not an
// error: it means HEAD is unset.
func ReadHead(path string) (Ref, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Ref{}, nil
		}
		return Ref{}, fmt.Errorf("reposync: read HEAD: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return Ref{}, nil
	}
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) != 2 {
		return Ref{}, fmt.Errorf("reposync: malformed HEAD contents")
	}
	return Ref{Pack: lines[0], Tag: lines[1]}, nil
}

// WriteHead atomically replaces the HEAD file at path with ref,
// stored as "<pack-name> LF <snapshot-tag>".
func WriteHead(path string, ref Ref) error {
	content := ref.Pack + "\n" + ref.Tag
	return atomicfile.WriteBytes(path, []byte(content), 0o644)
}
