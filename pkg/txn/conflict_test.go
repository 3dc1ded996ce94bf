package txn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConflictRollsForwardADecidedCommit simulates finding a document
// staged by an attempt whose ATR entry says COMMITTED but whose own
// process died before it could unstage: a fresh attempt reading the
// document must finish that unstage itself and see the staged content.
func TestConflictRollsForwardADecidedCommit(t *testing.T) {
	store := newFakeStore()
	atrStore := newFakeATRStore()
	ref := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: "order-4"}
	atrRef := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: atrKeyFromIndex(7)}

	otherAttemptID := "other-attempt"
	store.seed(ref, []byte(`{"total":1}`))
	cas := store.docs[ref].CAS
	_, err := store.StageMutate(t.Context(), ref, cas, TxnXattr{
		TransactionID: "other-txn", AttemptID: otherAttemptID, ATR: atrRef,
		Operation: OpReplace, StagedContent: []byte(`{"total":99}`),
	})
	require.NoError(t, err)
	atrStore.setEntry(atrRef, ATREntry{AttemptID: otherAttemptID, State: ATRCommitted, StartedAt: time.Now()})

	a := newTestAttempt(store, atrStore)
	doc, err := a.Get(t.Context(), ref)
	require.NoError(t, err)
	assert.Equal(t, `{"total":99}`, string(doc.Content))
	assert.Nil(t, doc.Xattr)
}

// TestConflictRollsBackADecidedAbort mirrors the commit case for an
// aborted other attempt: the document must revert to its pre-staging body.
func TestConflictRollsBackADecidedAbort(t *testing.T) {
	store := newFakeStore()
	atrStore := newFakeATRStore()
	ref := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: "order-5"}
	atrRef := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: atrKeyFromIndex(8)}

	otherAttemptID := "other-attempt-2"
	store.seed(ref, []byte(`{"total":1}`))
	cas := store.docs[ref].CAS
	_, err := store.StageMutate(t.Context(), ref, cas, TxnXattr{
		TransactionID: "other-txn", AttemptID: otherAttemptID, ATR: atrRef,
		Operation: OpReplace, StagedContent: []byte(`{"total":99}`),
	})
	require.NoError(t, err)
	atrStore.setEntry(atrRef, ATREntry{AttemptID: otherAttemptID, State: ATRAborted, StartedAt: time.Now()})

	a := newTestAttempt(store, atrStore)
	doc, err := a.Get(t.Context(), ref)
	require.NoError(t, err)
	assert.Equal(t, `{"total":1}`, string(doc.Content))
	assert.Nil(t, doc.Xattr)
}

// TestConflictFailsRetriablyWhenOtherStillPending is the one case the
// engine cannot resolve unilaterally: it must surface a retriable failure
// rather than guess at an in-flight attempt's eventual outcome.
func TestConflictFailsRetriablyWhenOtherStillPending(t *testing.T) {
	store := newFakeStore()
	atrStore := newFakeATRStore()
	ref := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: "order-6"}
	atrRef := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: atrKeyFromIndex(9)}

	otherAttemptID := "other-attempt-3"
	store.seed(ref, []byte(`{"total":1}`))
	cas := store.docs[ref].CAS
	_, err := store.StageMutate(t.Context(), ref, cas, TxnXattr{
		TransactionID: "other-txn", AttemptID: otherAttemptID, ATR: atrRef,
		Operation: OpReplace, StagedContent: []byte(`{"total":99}`),
	})
	require.NoError(t, err)
	atrStore.setEntry(atrRef, ATREntry{AttemptID: otherAttemptID, State: ATRPending, StartedAt: time.Now()})

	a := newTestAttempt(store, atrStore)
	_, err = a.Get(t.Context(), ref)
	require.Error(t, err)
	var opFailed *OperationFailed
	require.ErrorAs(t, err, &opFailed)
	assert.True(t, opFailed.Retry)
	assert.True(t, opFailed.Rollback)
}
