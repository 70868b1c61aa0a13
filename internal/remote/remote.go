// Package remote specifies, but does not implement, the network
// collaborator used to refresh a repository's remote indexes. The
// actual transport is out of scope; this package exists so the
// extract-retry control flow (grounded on original_source/update.rs's
// update_remotes hook and its "retry once after refresh" use from
// extract.rs) has something concrete to depend on.
package remote

import (
	"context"
	"io"
)

// BlobFetcher fetches a single remote object's raw bytes by URL. A
// real implementation would live outside this module; snapstore only
// needs the shape of the collaborator to wire the retry-once flow.
type BlobFetcher interface {
	FetchBlob(ctx context.Context, url string) (io.ReadCloser, error)
}

// Refresher re-synchronizes a repository's local view of its
// remotes' indexes (e.g. which snapshot tags they currently hold).
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RetryOnce runs op once. If it fails with an error isRetryable
// accepts, refresher.Refresh is invoked exactly once and, if that
// succeeds, op is retried exactly once more. Any other failure, or a
// nil refresher, is returned unchanged — there is no unbounded retry
// loop.
func RetryOnce(ctx context.Context, refresher Refresher, isRetryable func(error) bool, op func() error) error {
	err := op()
	if err == nil || refresher == nil || !isRetryable(err) {
		return err
	}
	if refreshErr := refresher.Refresh(ctx); refreshErr != nil {
		return err
	}
	return op()
}
