package txn

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nimbusdb.io/nimbus/pkg/localstore"
)

func TestCleanerFinishesExpiredCommittedAttempt(t *testing.T) {
	store := newFakeStore()
	atrStore := newFakeATRStore()
	ref := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: "lost-order"}
	atrRef := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: atrKeyFromIndex(3)}

	store.seed(ref, []byte(`{"total":1}`))
	cas := store.docs[ref].CAS
	attemptID := "dead-attempt"
	_, err := store.StageMutate(t.Context(), ref, cas, TxnXattr{
		TransactionID: "dead-txn", AttemptID: attemptID, ATR: atrRef,
		Operation: OpReplace, StagedContent: []byte(`{"total":9}`),
	})
	require.NoError(t, err)

	atrStore.setEntry(atrRef, ATREntry{
		AttemptID:       attemptID,
		State:           ATRCommitted,
		StartedAt:       time.Now().Add(-time.Hour),
		ExpiresAfter:    time.Second,
		StagedMutations: []StagedMutation{{Doc: ref, Type: OpReplace, Content: []byte(`{"total":9}`)}},
	})

	checkpoints, err := localstore.Open(filepath.Join(t.TempDir(), "cleanup.db"))
	require.NoError(t, err)
	defer checkpoints.Close()

	cleaner := NewCleaner(store, atrStore, checkpoints, Config{NumATRs: 16}, 1000)
	require.NoError(t, cleaner.SweepBucket(t.Context(), "b", "s", "c"))

	doc, err := store.Get(t.Context(), ref)
	require.NoError(t, err)
	assert.Equal(t, `{"total":9}`, string(doc.Content))

	entries, _, err := atrStore.Lookup(t.Context(), atrRef)
	if err == nil {
		_, stillThere := entries[attemptID]
		assert.False(t, stillThere, "cleanup must retire the ATR entry once finished")
	}
}

func TestCleanerIgnoresNonExpiredAttempts(t *testing.T) {
	store := newFakeStore()
	atrStore := newFakeATRStore()
	ref := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: "fresh-order"}
	atrRef := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: atrKeyFromIndex(5)}

	store.seed(ref, []byte(`{"total":1}`))
	attemptID := "live-attempt"
	atrStore.setEntry(atrRef, ATREntry{
		AttemptID:    attemptID,
		State:        ATRPending,
		StartedAt:    time.Now(),
		ExpiresAfter: time.Hour,
	})

	checkpoints, err := localstore.Open(filepath.Join(t.TempDir(), "cleanup.db"))
	require.NoError(t, err)
	defer checkpoints.Close()

	cleaner := NewCleaner(store, atrStore, checkpoints, Config{NumATRs: 16}, 1000)
	require.NoError(t, cleaner.SweepBucket(t.Context(), "b", "s", "c"))

	entries, _, err := atrStore.Lookup(t.Context(), atrRef)
	require.NoError(t, err)
	_, stillThere := entries[attemptID]
	assert.True(t, stillThere, "a non-expired attempt must be left alone")
}
