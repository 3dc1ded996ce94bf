package nimbus

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(KindDocumentNotFound, "get failed")
	assert.Equal(t, "nimbus: document_not_found: get failed", plain.Error())

	wrapped := Wrap(KindDecodingFailure, "decode cluster config", fmt.Errorf("unexpected end of JSON input"))
	assert.Contains(t, wrapped.Error(), "decoding_failure")
	assert.Contains(t, wrapped.Error(), "unexpected end of JSON input")
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(KindInternalServerFailure, "op", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestIsKind(t *testing.T) {
	err := New(KindCASMismatch, "cas mismatch")
	assert.True(t, IsKind(err, KindCASMismatch))
	assert.False(t, IsKind(err, KindDocumentNotFound))
	assert.False(t, IsKind(fmt.Errorf("plain error"), KindCASMismatch))
}

func TestWithContextCopiesWithoutMutatingOriginal(t *testing.T) {
	base := New(KindDocumentNotFound, "get failed")
	withCtx := base.WithContext(KVContext{Key: "doc-1", Bucket: "default"})

	assert.Nil(t, base.Context)
	require.NotNil(t, withCtx.Context)
	kv, ok := withCtx.Context.(KVContext)
	require.True(t, ok)
	assert.Equal(t, "doc-1", kv.Key)
}
