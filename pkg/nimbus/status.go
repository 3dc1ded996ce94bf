package nimbus

import "nimbusdb.io/nimbus/pkg/wire"

// statusKinds maps the subset of KV status codes the core interprets
// without the error map (spec.md §6) onto a caller-facing Kind. For any
// status not listed here, kindForStatus falls back to the error map.
var statusKinds = map[wire.Status]Kind{
	wire.StatusKeyNotFound:                  KindDocumentNotFound,
	wire.StatusKeyExists:                    KindDocumentExists,
	wire.StatusValueTooLarge:                KindValueTooLarge,
	wire.StatusInvalidArgs:                  KindInvalidArgument,
	wire.StatusNotStored:                    KindDocumentNotFound,
	wire.StatusNotMyVbucket:                 KindServiceNotAvailable,
	wire.StatusNoBucket:                     KindBucketNotFound,
	wire.StatusLocked:                       KindDocumentLocked,
	wire.StatusAuthError:                    KindAuthenticationFailure,
	wire.StatusAuthContinue:                 KindAuthenticationFailure,
	wire.StatusOutOfMemory:                  KindTemporaryFailure,
	wire.StatusBusy:                         KindTemporaryFailure,
	wire.StatusTemporaryFailure:             KindTemporaryFailure,
	wire.StatusInternalError:                KindInternalServerFailure,
	wire.StatusUnknownCollection:            KindCollectionNotFound,
	wire.StatusDurabilityInvalidLevel:       KindDurabilityLevelNotAvailable,
	wire.StatusDurabilityImpossible:         KindDurabilityImpossible,
	wire.StatusSyncWriteInProgress:          KindDurableWriteInProgress,
	wire.StatusSyncWriteAmbiguous:           KindDurabilityAmbiguous,
	wire.StatusSyncWriteReCommitInProgress:  KindDurableWriteReCommitInProgress,
	wire.StatusSubdocPathNotFound:           KindPathNotFound,
	wire.StatusSubdocPathMismatch:           KindPathMismatch,
	wire.StatusSubdocPathInvalid:            KindPathInvalid,
	wire.StatusSubdocPathTooBig:             KindPathTooBig,
	wire.StatusSubdocDocTooDeep:             KindPathTooDeep,
	wire.StatusSubdocDocNotJSON:             KindDocumentNotJSON,
	wire.StatusSubdocNumRange:               KindNumberTooBig,
	wire.StatusSubdocDeltaRange:             KindDeltaInvalid,
	wire.StatusSubdocPathExists:             KindPathExists,
	wire.StatusSubdocValueTooDeep:           KindValueTooDeep,
	wire.StatusSubdocValueCantInsert:        KindValueInvalid,
}

// kindForStatus classifies status into a Kind, consulting errMap (which
// may be nil) for anything this table doesn't cover directly, and
// defaulting to KindInternalServerFailure as a last resort.
func kindForStatus(status wire.Status, errMap *wire.ErrorMap) Kind {
	if k, ok := statusKinds[status]; ok {
		return k
	}
	if entry, ok := errMap.Lookup(status); ok {
		if entry.ConnStateInvalidated() {
			return KindAuthenticationFailure
		}
		if entry.RetryNow() {
			return KindTemporaryFailure
		}
	}
	return KindInternalServerFailure
}
