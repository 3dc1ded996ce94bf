package txn

import (
	"context"
	"fmt"
	"time"
)

// Commit drives this attempt from STARTED through COMMITTING/UNSTAGING to
// COMPLETED: flip the ATR to COMMITTED, unstage every document, then flip
// the ATR to COMPLETED. Once this method has flipped the ATR to
// COMMITTED, any subsequent failure is reported as commit-ambiguous
// rather than a plain failure, since the transaction's outcome is no
// longer reversible by rolling back.
func (a *Attempt) Commit(ctx context.Context) error {
	if !a.hasStaged() {
		if err := a.ensureStarted(); err != nil {
			return err
		}
		for _, next := range []AttemptState{AttemptCommitting, AttemptUnstaging, AttemptCompleted} {
			if err := a.transition(next); err != nil {
				return err
			}
		}
		return nil
	}

	if a.expired(time.Now()) {
		// Expiry discovered exactly at the commit boundary: nothing has
		// been durably committed yet, so this is a plain expiry, not an
		// ambiguous outcome.
		return expiredFailure(fmt.Errorf("txn: attempt %s expired before commit", a.id))
	}

	if err := a.transition(AttemptCommitting); err != nil {
		return err
	}

	a.mu.Lock()
	atrRef := a.atrRef
	a.mu.Unlock()

	if err := a.atr.UpdateState(ctx, atrRef, a.id, ATRCommitted); err != nil {
		return newOperationFailed(err, false, false, FinalFailed)
	}

	if err := a.transition(AttemptUnstaging); err != nil {
		return err
	}

	for _, mutation := range a.allStaged() {
		cas, ok := a.casFor(mutation.Doc)
		if !ok {
			return newOperationFailed(fmt.Errorf("txn: no cas recorded for %s", mutation.Doc), false, false, FinalCommitAmbiguous)
		}
		if err := a.store.Unstage(ctx, mutation, cas); err != nil {
			// The ATR is already COMMITTED: the transaction's fate is
			// decided even if this document's unstage failed. Lost-
			// transactions cleanup will finish the job by rolling this
			// attempt forward.
			return newOperationFailed(err, false, false, FinalCommitAmbiguous)
		}
	}

	if err := a.atr.UpdateState(ctx, atrRef, a.id, ATRCompleted); err != nil {
		return newOperationFailed(err, false, false, FinalCommitAmbiguous)
	}

	if err := a.atr.Remove(ctx, atrRef, a.id); err != nil {
		a.logger.Warn().Err(err).Msg("failed to remove completed ATR entry; cleanup will retire it")
	}

	return a.transition(AttemptCompleted)
}

// Rollback drives this attempt from STARTED/ABORTED through ROLLING_BACK
// to ROLLED_BACK: flip the ATR to ABORTED, revert every staged mutation,
// then flip the ATR to ROLLED_BACK.
func (a *Attempt) Rollback(ctx context.Context) error {
	if a.State() == AttemptNotStarted || !a.hasStaged() {
		if err := a.ensureStarted(); err != nil {
			return err
		}
		if a.State() != AttemptAborted {
			if err := a.transition(AttemptAborted); err != nil {
				return err
			}
		}
		if err := a.transition(AttemptRollingBack); err != nil {
			return err
		}
		return a.transition(AttemptRolledBack)
	}

	if a.State() != AttemptAborted {
		if err := a.transition(AttemptAborted); err != nil {
			return err
		}
	}

	a.mu.Lock()
	atrRef := a.atrRef
	a.mu.Unlock()

	if err := a.atr.UpdateState(ctx, atrRef, a.id, ATRAborted); err != nil {
		return newOperationFailed(err, false, false, FinalFailed)
	}

	if err := a.transition(AttemptRollingBack); err != nil {
		return err
	}

	for _, mutation := range a.allStaged() {
		cas, ok := a.casFor(mutation.Doc)
		if !ok {
			continue
		}
		var err error
		switch mutation.Type {
		case OpInsert:
			err = a.store.RemoveStagedInsert(ctx, mutation.Doc, cas)
		default:
			err = a.store.ClearXattr(ctx, mutation.Doc, cas)
		}
		if err != nil {
			return newOperationFailed(err, false, false, FinalFailed)
		}
	}

	if err := a.atr.UpdateState(ctx, atrRef, a.id, ATRRolledBack); err != nil {
		return newOperationFailed(err, false, false, FinalFailed)
	}
	if err := a.atr.Remove(ctx, atrRef, a.id); err != nil {
		a.logger.Warn().Err(err).Msg("failed to remove rolled-back ATR entry; cleanup will retire it")
	}

	return a.transition(AttemptRolledBack)
}

func (a *Attempt) casFor(ref DocumentRef) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cas, ok := a.readSet[ref]
	return cas, ok
}
