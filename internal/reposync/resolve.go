package reposync

import (
	"fmt"
	"sort"

	"github.com/fenilsonani/snapstore/internal/packfmt"
)

// ErrSnapshotNotFound means a bare tag matched no pack.
var ErrSnapshotNotFound = fmt.Errorf("reposync: snapshot not found")

// ErrAmbiguousRef means a bare tag matched more than one sealed pack.
var ErrAmbiguousRef = fmt.Errorf("reposync: ambiguous snapshot reference")

// PackSource names one sealed pack's already-loaded index, for
// ambiguity resolution.
type PackSource struct {
	Name  string
	Index *packfmt.Index
}

// ResolveRef resolves a bare tag to an unambiguous Ref: the loose pack
// is checked first and wins outright if it holds tag. Otherwise sealed
// packs are checked alphabetically by name and exactly one must match;
// zero is ErrSnapshotNotFound and more than one is ErrAmbiguousRef
// naming the candidates.
func ResolveRef(loose *packfmt.Index, sealed []PackSource, tag string) (Ref, error) {
	if loose != nil && loose.HasSnapshot(tag) {
		return Ref{Pack: LoosePackName, Tag: tag}, nil
	}

	sortedSealed := make([]PackSource, len(sealed))
	copy(sortedSealed, sealed)
	sort.Slice(sortedSealed, func(i, j int) bool { return sortedSealed[i].Name < sortedSealed[j].Name })

	var matches []string
	for _, s := range sortedSealed {
		if s.Index.HasSnapshot(tag) {
			matches = append(matches, s.Name)
		}
	}

	switch len(matches) {
	case 0:
		return Ref{}, fmt.Errorf("%s: %w", tag, ErrSnapshotNotFound)
	case 1:
		return Ref{Pack: matches[0], Tag: tag}, nil
	default:
		return Ref{}, fmt.Errorf("%s matches packs %v: %w", tag, matches, ErrAmbiguousRef)
	}
}
