package txn

import "context"

// resolveConflict is called when Get or a staging call finds a document
// already carrying another attempt's transactional xattr. Per spec.md
// §4.I: if the other attempt's ATR entry shows its outcome is already
// decided (anything but PENDING, or the entry is gone entirely), this
// attempt finishes that document's half of the other's cleanup — rolling
// its one staged mutation forward or back — and proceeds. If the other
// attempt is still PENDING (genuinely in flight), this attempt must not
// guess; it fails retriably so the whole transaction is retried.
func (a *Attempt) resolveConflict(ctx context.Context, doc *Document) error {
	xattr := doc.Xattr
	entries, _, err := a.atr.Lookup(ctx, xattr.ATR)
	if err != nil {
		return conflictFailure(err)
	}

	other, found := entries[xattr.AttemptID]
	if !found {
		// No record of the other attempt at all: its owning process
		// never got far enough to matter, or already finished and was
		// cleaned up. Treat as rolled back.
		return a.cleanupOther(ctx, doc, xattr, false)
	}

	switch other.State {
	case ATRPending:
		return conflictFailure(errConflictInProgress(doc.Ref, xattr.AttemptID))
	case ATRCommitted, ATRCompleted:
		return a.cleanupOther(ctx, doc, xattr, true)
	case ATRAborted, ATRRolledBack:
		return a.cleanupOther(ctx, doc, xattr, false)
	default:
		return conflictFailure(errConflictInProgress(doc.Ref, xattr.AttemptID))
	}
}

// cleanupOther finishes one document's half of another (decided) attempt:
// rollForward applies its staged content (mirroring the commit path);
// otherwise it reverts the document to its pre-staging state (mirroring
// rollback).
func (a *Attempt) cleanupOther(ctx context.Context, doc *Document, xattr *TxnXattr, rollForward bool) error {
	if rollForward {
		mutation := StagedMutation{Doc: doc.Ref, Type: xattr.Operation, Content: xattr.StagedContent}
		if err := a.store.Unstage(ctx, mutation, doc.CAS); err != nil {
			return conflictFailure(err)
		}
		return nil
	}

	var err error
	if xattr.Operation == OpInsert {
		err = a.store.RemoveStagedInsert(ctx, doc.Ref, doc.CAS)
	} else {
		err = a.store.ClearXattr(ctx, doc.Ref, doc.CAS)
	}
	if err != nil {
		return conflictFailure(err)
	}
	return nil
}

type conflictInProgressError struct {
	ref       DocumentRef
	attemptID string
}

func (e conflictInProgressError) Error() string {
	return "txn: " + e.ref.String() + " is staged by in-progress attempt " + e.attemptID
}

func errConflictInProgress(ref DocumentRef, attemptID string) error {
	return conflictInProgressError{ref: ref, attemptID: attemptID}
}
