package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMultiReturnsEveryDocument(t *testing.T) {
	store := newFakeStore()
	atrStore := newFakeATRStore()
	refA := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: "a"}
	refB := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: "b"}
	store.seed(refA, []byte(`{"v":1}`))
	store.seed(refB, []byte(`{"v":2}`))

	a := newTestAttempt(store, atrStore)
	results, skewed, err := a.GetMulti(t.Context(), []DocumentRef{refA, refB})
	require.NoError(t, err)
	assert.False(t, skewed)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.NotNil(t, r.Doc)
	}
}

func TestGetMultiReportsPerDocumentError(t *testing.T) {
	store := newFakeStore()
	atrStore := newFakeATRStore()
	refA := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: "exists"}
	refMissing := DocumentRef{Bucket: "b", Scope: "s", Collection: "c", Key: "missing"}
	store.seed(refA, []byte(`{"v":1}`))

	a := newTestAttempt(store, atrStore)
	results, _, err := a.GetMulti(t.Context(), []DocumentRef{refA, refMissing})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrDocumentNotFound)
}
