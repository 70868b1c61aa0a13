// Package reposync implements HEAD tracking and the advisory
// repository lock, plus the filesystem layout and bare-tag
// resolution glue the rest of the engine shares. Grounded on
// internal/core/refs/refs.go's atomic-ref-write style, generalized
// from git refs to a single HEAD pointer. Locking is new: writers
// from different processes are serialized through one advisory lock
// (one writer at a time), using gofrs/flock the way the rest of the
// pack's retrieved examples do.
package reposync

import (
	"os"
	"path/filepath"
)

// DataDirName is the managed data directory inside a repository root.
const DataDirName = "elfshaker_data"

// LoosePackName is the reserved name of the always-present loose pack.
const LoosePackName = "loose"

// Layout resolves the well-known paths inside a repository root.
type Layout struct {
	Root string // repository root (contains DataDirName)
}

func NewLayout(root string) *Layout { return &Layout{Root: root} }

func (l *Layout) DataDir() string     { return filepath.Join(l.Root, DataDirName) }
func (l *Layout) HeadPath() string    { return filepath.Join(l.DataDir(), "HEAD") }
func (l *Layout) LockPath() string    { return filepath.Join(l.DataDir(), "lock") }
func (l *Layout) PacksDir() string    { return filepath.Join(l.DataDir(), "packs") }
func (l *Layout) RemotesDir() string  { return filepath.Join(l.DataDir(), "remotes") }
func (l *Layout) LooseDir() string    { return filepath.Join(l.PacksDir(), LoosePackName) }
func (l *Layout) LooseIndexPath() string {
	return filepath.Join(l.LooseDir(), "index")
}
func (l *Layout) LooseObjectsDir() string {
	return filepath.Join(l.LooseDir(), "objects")
}
func (l *Layout) SealedPackPath(name string) string {
	return filepath.Join(l.PacksDir(), name+".pack")
}
func (l *Layout) SealedIndexPath(name string) string {
	return filepath.Join(l.PacksDir(), name+".pack.idx")
}

// Init creates the directory skeleton under Root. It is safe to call
// on an already-initialized repository.
func (l *Layout) Init() error {
	dirs := []string{
		l.DataDir(),
		l.PacksDir(),
		l.RemotesDir(),
		l.LooseDir(),
		l.LooseObjectsDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
