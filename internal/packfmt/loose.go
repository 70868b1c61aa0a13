package packfmt

import (
	"fmt"
	"os"

	"github.com/fenilsonani/snapstore/internal/atomicfile"
)

// LoadLooseIndex reads and decodes a standalone loose-pack index file
// (no pack header, no frame table — just the same deterministic index
// encoding used inside a sealed pack's header).
func LoadLooseIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("packfmt: read loose index: %w", err)
	}
	if len(data) == 0 {
		return New(), nil
	}
	idx, err := DecodeIndex(data)
	if err != nil {
		return nil, fmt.Errorf("packfmt: decode loose index: %w", err)
	}
	return idx, nil
}

// SaveLooseIndex encodes idx and writes it atomically to path.
func SaveLooseIndex(path string, idx *Index) error {
	data, err := EncodeIndex(idx)
	if err != nil {
		return fmt.Errorf("packfmt: encode loose index: %w", err)
	}
	if err := atomicfile.WriteBytes(path, data, 0o644); err != nil {
		return fmt.Errorf("packfmt: write loose index: %w", err)
	}
	return nil
}
