package nimbus

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubdocSpecEncodeLayout(t *testing.T) {
	spec := UpsertXattrSpec("txn", []byte(`{"a":1}`))
	encoded := spec.encode()

	require.GreaterOrEqual(t, len(encoded), 8)
	assert.Equal(t, byte(subdocOpDictUpsert), encoded[0])
	assert.Equal(t, byte(subdocPathFlagXattr), encoded[1])
	pathLen := binary.BigEndian.Uint16(encoded[2:4])
	valLen := binary.BigEndian.Uint32(encoded[4:8])
	assert.Equal(t, uint16(len("txn")), pathLen)
	assert.Equal(t, uint32(len(`{"a":1}`)), valLen)
	assert.Equal(t, "txn", string(encoded[8:8+pathLen]))
	assert.Equal(t, `{"a":1}`, string(encoded[8+pathLen:]))
}

func TestGetSpecAndExistsSpecCarryNoXattrFlag(t *testing.T) {
	g := GetSpec("x.y")
	assert.False(t, g.Xattr)
	e := ExistsSpec("$document")
	assert.False(t, e.Xattr)
}

func TestEncodeMultiLookupConcatenatesSpecs(t *testing.T) {
	specs := []SubdocSpec{GetSpec(""), GetXattrSpec("txn")}
	body := encodeMultiLookup(specs)
	assert.Equal(t, append(specs[0].encode(), specs[1].encode()...), body)
}

func buildLookupField(status uint16, value []byte) []byte {
	out := make([]byte, 6, 6+len(value))
	binary.BigEndian.PutUint16(out[0:2], status)
	binary.BigEndian.PutUint32(out[2:6], uint32(len(value)))
	return append(out, value...)
}

func TestDecodeMultiLookupResponse(t *testing.T) {
	body := append(buildLookupField(0, []byte(`{"a":1}`)), buildLookupField(1, nil)...)

	fields, err := decodeMultiLookupResponse(body)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, uint16(0), fields[0].status)
	assert.Equal(t, `{"a":1}`, string(fields[0].value))
	assert.Equal(t, uint16(1), fields[1].status)
	assert.Empty(t, fields[1].value)
}

func TestDecodeMultiLookupResponseTruncated(t *testing.T) {
	_, err := decodeMultiLookupResponse([]byte{0x00, 0x00, 0x00})
	assert.Error(t, err)
}

func buildMutateResult(index uint8, status uint16, value []byte) []byte {
	out := make([]byte, 7, 7+len(value))
	out[0] = index
	binary.BigEndian.PutUint16(out[1:3], status)
	binary.BigEndian.PutUint32(out[3:7], uint32(len(value)))
	return append(out, value...)
}

func TestDecodeMultiMutateResponse(t *testing.T) {
	body := buildMutateResult(2, 0, []byte("7"))

	results, err := decodeMultiMutateResponse(body)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint8(2), results[0].index)
	assert.Equal(t, "7", string(results[0].value))
}

func TestSubdocStatusKindMapsSuccessToEmpty(t *testing.T) {
	assert.Equal(t, Kind(""), subdocStatusKind(0x00))
}
