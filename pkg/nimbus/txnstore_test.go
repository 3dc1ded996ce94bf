package nimbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nimbusdb.io/nimbus/pkg/txn"
)

func TestEncodeDecodeXattrRoundTrip(t *testing.T) {
	in := txn.TxnXattr{
		TransactionID: "txn-1",
		AttemptID:     "attempt-1",
		ATR:           txn.DocumentRef{Bucket: "default", Scope: "_default", Collection: "_default", Key: "atr-0042"},
		Operation:     txn.OpReplace,
		StagedContent: []byte(`{"x":2}`),
	}

	raw, err := encodeXattr(in)
	require.NoError(t, err)

	out, err := decodeXattr(raw)
	require.NoError(t, err)
	assert.Equal(t, in.TransactionID, out.TransactionID)
	assert.Equal(t, in.AttemptID, out.AttemptID)
	assert.Equal(t, in.ATR, out.ATR)
	assert.Equal(t, in.Operation, out.Operation)
	assert.Equal(t, in.StagedContent, out.StagedContent)
}

func TestDecodeXattrRejectsMalformedJSON(t *testing.T) {
	_, err := decodeXattr([]byte("not json"))
	assert.Error(t, err)
}

func TestToWireEntryFromWireEntryRoundTrip(t *testing.T) {
	entry := txn.ATREntry{
		AttemptID:    "attempt-1",
		State:        txn.ATRPending,
		ExpiresAfter: 15 * time.Second,
		Durability:   1,
		StagedMutations: []txn.StagedMutation{
			{Doc: txn.DocumentRef{Bucket: "default", Scope: "_default", Collection: "_default", Key: "k1"}, Type: txn.OpInsert, Content: []byte("1")},
		},
	}

	w := toWireEntry(entry)
	back := fromWireEntry(w)

	assert.Equal(t, entry.AttemptID, back.AttemptID)
	assert.Equal(t, entry.State, back.State)
	assert.Equal(t, entry.Durability, back.Durability)
	require.Len(t, back.StagedMutations, 1)
	assert.Equal(t, entry.StagedMutations[0].Doc, back.StagedMutations[0].Doc)
	assert.Equal(t, entry.StagedMutations[0].Type, back.StagedMutations[0].Type)
}
