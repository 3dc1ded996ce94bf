package txn

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// GetMultiResult is one document's outcome within a GetMulti call.
type GetMultiResult struct {
	Ref DocumentRef
	Doc *Document
	Err error
}

// GetMulti reads refs concurrently — the one documented exception to an
// attempt otherwise executing its operations in strict program order
// (spec.md §5) — and flags a best-effort "skew" warning if a later
// document appears to have been staged by an attempt that only started
// after the first document in refs was read. Skew is advisory: the
// engine does not fail the read on it, matching the documented
// best-effort nature of the check.
func (a *Attempt) GetMulti(ctx context.Context, refs []DocumentRef) ([]GetMultiResult, bool, error) {
	if err := a.checkExpiry(); err != nil {
		return nil, false, err
	}

	results := make([]GetMultiResult, len(refs))
	readAt := make([]time.Time, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			doc, err := a.Get(gctx, ref)
			readAt[i] = time.Now()
			results[i] = GetMultiResult{Ref: ref, Doc: doc, Err: err}
			return nil // per-document errors are reported in the result, not fatal to the group
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	skewed := detectSkew(ctx, results, readAt, a.atr)
	return results, skewed, nil
}

// detectSkew looks, for every document after the first, at whether its
// staging attempt (if any) started after the first document's read
// timestamp — evidence the two reads may not reflect one consistent
// point in time.
func detectSkew(ctx context.Context, results []GetMultiResult, readAt []time.Time, store ATRStore) bool {
	if len(results) < 2 || results[0].Doc == nil {
		return false
	}
	baseline := readAt[0]

	for i := 1; i < len(results); i++ {
		doc := results[i].Doc
		if doc == nil || doc.Xattr == nil {
			continue
		}
		entries, _, err := store.Lookup(ctx, doc.Xattr.ATR)
		if err != nil {
			continue
		}
		entry, ok := entries[doc.Xattr.AttemptID]
		if ok && entry.StartedAt.After(baseline) {
			return true
		}
	}
	return false
}
