package reposync

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// ErrBusy is returned when the repository lock cannot be acquired
// before the configured timeout.
var ErrBusy = fmt.Errorf("reposync: repository is locked by another process")

// Lock is the advisory, whole-repository lock taken for the duration
// of any write operation (store, pack, extract, loosen). Read-only
// operations take a shared lock; any number of readers may hold it
// concurrently, but it excludes writers.
type Lock struct {
	fl *flock.Flock
}

// NewLock returns a Lock backed by the file at path. The file is
// created on first use if absent; its contents are never read.
func NewLock(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// AcquireWrite blocks until the exclusive lock is obtained or timeout
// elapses, whichever comes first. timeout <= 0 means try once and
// fail immediately if contended.
func (l *Lock) AcquireWrite(ctx context.Context, timeout time.Duration) (func(), error) {
	return l.acquire(ctx, timeout, true)
}

// AcquireRead is like AcquireWrite but takes the shared (reader) lock.
func (l *Lock) AcquireRead(ctx context.Context, timeout time.Duration) (func(), error) {
	return l.acquire(ctx, timeout, false)
}

func (l *Lock) acquire(ctx context.Context, timeout time.Duration, exclusive bool) (func(), error) {
	tryLock := l.fl.TryLock
	if !exclusive {
		tryLock = l.fl.TryRLock
	}

	if timeout <= 0 {
		ok, err := tryLock()
		if err != nil {
			return nil, fmt.Errorf("reposync: lock: %w", err)
		}
		if !ok {
			return nil, ErrBusy
		}
		return l.fl.Unlock, nil
	}

	deadline := time.Now().Add(timeout)
	const pollInterval = 25 * time.Millisecond
	for {
		ok, err := tryLock()
		if err != nil {
			return nil, fmt.Errorf("reposync: lock: %w", err)
		}
		if ok {
			return l.fl.Unlock, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
