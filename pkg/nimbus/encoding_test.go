package nimbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewJSONValueSetsCommonFlag(t *testing.T) {
	v := NewJSONValue([]byte(`{"a":1}`))
	assert.Equal(t, CommonFlagJSON, v.CommonFlag())
	assert.Equal(t, uint32(0x02000000), v.Flags)
}

func TestCommonFlagMasksLegacyBits(t *testing.T) {
	v := EncodedValue{Flags: uint32(CommonFlagBinary) | 0x00ff}
	assert.Equal(t, CommonFlagBinary, v.CommonFlag())
}

func TestCommonFlagPrivateIsZero(t *testing.T) {
	v := EncodedValue{}
	assert.Equal(t, CommonFlagPrivate, v.CommonFlag())
}
