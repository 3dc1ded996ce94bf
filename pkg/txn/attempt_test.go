package txn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAttempt(store Store, atr ATRStore) *Attempt {
	return newAttempt("txn-1", time.Now().Add(time.Minute), Config{}.withDefaults(), store, atr)
}

func TestAttemptTransitionValidSequence(t *testing.T) {
	a := newTestAttempt(newFakeStore(), newFakeATRStore())
	require.NoError(t, a.transition(AttemptStarted))
	require.NoError(t, a.transition(AttemptCommitting))
	require.NoError(t, a.transition(AttemptUnstaging))
	require.NoError(t, a.transition(AttemptCompleted))
	assert.True(t, a.State().Terminal())
}

func TestAttemptTransitionRejectsInvalidJump(t *testing.T) {
	a := newTestAttempt(newFakeStore(), newFakeATRStore())
	err := a.transition(AttemptCompleted)
	assert.Error(t, err)
	assert.Equal(t, AttemptNotStarted, a.State())
}

func TestAttemptExpiredUsesSharedDeadline(t *testing.T) {
	past := time.Now().Add(-time.Second)
	a := newAttempt("txn-1", past, Config{}.withDefaults(), newFakeStore(), newFakeATRStore())
	assert.True(t, a.expired(time.Now()))
	err := a.checkExpiry()
	require.Error(t, err)
	var opFailed *OperationFailed
	require.ErrorAs(t, err, &opFailed)
	assert.Equal(t, FinalExpired, opFailed.Final)
	assert.True(t, opFailed.Rollback)
}

func TestInsertThenCommitMakesDocumentVisible(t *testing.T) {
	store := newFakeStore()
	atrStore := newFakeATRStore()
	ref := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: "order-1"}

	a := newTestAttempt(store, atrStore)
	require.NoError(t, a.Insert(t.Context(), ref, []byte(`{"total":10}`)))
	require.NoError(t, a.Commit(t.Context()))

	doc, err := store.Get(t.Context(), ref)
	require.NoError(t, err)
	assert.Equal(t, `{"total":10}`, string(doc.Content))
	assert.False(t, doc.Deleted)
	assert.Nil(t, doc.Xattr)
	assert.Equal(t, AttemptCompleted, a.State())
}

func TestReplaceThenRollbackRestoresOriginal(t *testing.T) {
	store := newFakeStore()
	atrStore := newFakeATRStore()
	ref := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: "order-2"}
	store.seed(ref, []byte(`{"total":1}`))

	a := newTestAttempt(store, atrStore)
	doc, err := a.Get(t.Context(), ref)
	require.NoError(t, err)
	require.NoError(t, a.Replace(t.Context(), doc, []byte(`{"total":2}`)))
	require.NoError(t, a.Rollback(t.Context()))

	after, err := store.Get(t.Context(), ref)
	require.NoError(t, err)
	assert.Equal(t, `{"total":1}`, string(after.Content), "rollback must leave the pre-staging body untouched")
	assert.Nil(t, after.Xattr)
	assert.Equal(t, AttemptRolledBack, a.State())
}

func TestRemoveThenCommitDeletesDocument(t *testing.T) {
	store := newFakeStore()
	atrStore := newFakeATRStore()
	ref := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: "order-3"}
	store.seed(ref, []byte(`{}`))

	a := newTestAttempt(store, atrStore)
	doc, err := a.Get(t.Context(), ref)
	require.NoError(t, err)
	require.NoError(t, a.Remove(t.Context(), doc))
	require.NoError(t, a.Commit(t.Context()))

	_, err = store.Get(t.Context(), ref)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}
