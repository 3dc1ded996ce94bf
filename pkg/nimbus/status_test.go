package nimbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nimbusdb.io/nimbus/pkg/wire"
)

func TestKindForStatusDirectTable(t *testing.T) {
	assert.Equal(t, KindDocumentNotFound, kindForStatus(wire.StatusKeyNotFound, nil))
	assert.Equal(t, KindDocumentExists, kindForStatus(wire.StatusKeyExists, nil))
	assert.Equal(t, KindCollectionNotFound, kindForStatus(wire.StatusUnknownCollection, nil))
	assert.Equal(t, KindDocumentLocked, kindForStatus(wire.StatusLocked, nil))
}

func TestKindForStatusFallsBackToInternalWithoutErrorMap(t *testing.T) {
	assert.Equal(t, KindInternalServerFailure, kindForStatus(wire.Status(0x1234), nil))
}

func TestKindForStatusConsultsErrorMap(t *testing.T) {
	m := &wire.ErrorMap{
		Errors: map[string]wire.ErrorMapEntry{
			"1234": {Name: "made_up", Attributes: []string{"retry-now"}},
			"5678": {Name: "needs-reauth", Attributes: []string{"conn-state-invalidated"}},
		},
	}
	assert.Equal(t, KindTemporaryFailure, kindForStatus(wire.Status(0x1234), m))
	assert.Equal(t, KindAuthenticationFailure, kindForStatus(wire.Status(0x5678), m))
	// Status codes the direct table already knows never consult the map.
	assert.Equal(t, KindDocumentNotFound, kindForStatus(wire.StatusKeyNotFound, m))
}
