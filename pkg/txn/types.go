package txn

import (
	"fmt"
	"time"

	"nimbusdb.io/nimbus/pkg/wire"
)

// DocumentRef identifies one document a transaction attempt operates on.
type DocumentRef struct {
	Bucket     string
	Scope      string
	Collection string
	Key        string
}

func (r DocumentRef) String() string {
	return fmt.Sprintf("%s.%s.%s/%s", r.Bucket, r.Scope, r.Collection, r.Key)
}

// OperationType is what a staged mutation will do to a document on
// commit.
type OperationType string

const (
	OpInsert  OperationType = "insert"
	OpReplace OperationType = "replace"
	OpRemove  OperationType = "remove"
)

// ATRState is the lifecycle state of one attempt as recorded in its ATR
// entry — the authority every participant (including a cleanup process
// on another client) consults to decide what an attempt's outcome was.
type ATRState string

const (
	ATRPending    ATRState = "PENDING"
	ATRCommitted  ATRState = "COMMITTED"
	ATRCompleted  ATRState = "COMPLETED"
	ATRAborted    ATRState = "ABORTED"
	ATRRolledBack ATRState = "ROLLED_BACK"
)

// Terminal reports whether state is one an attempt never leaves once
// reached.
func (s ATRState) Terminal() bool {
	return s == ATRCompleted || s == ATRRolledBack
}

// AttemptState is the client-local state machine driving one attempt,
// distinct from (but kept consistent with) the ATR's own state field.
type AttemptState string

const (
	AttemptNotStarted AttemptState = "NOT_STARTED"
	AttemptStarted    AttemptState = "STARTED"
	AttemptCommitting AttemptState = "COMMITTING"
	AttemptUnstaging  AttemptState = "UNSTAGING"
	AttemptCompleted  AttemptState = "COMPLETED"
	AttemptAborted    AttemptState = "ABORTED"
	AttemptRollingBack AttemptState = "ROLLING_BACK"
	AttemptRolledBack AttemptState = "ROLLED_BACK"
)

// terminal attempt states never transition back to a non-terminal one.
func (s AttemptState) Terminal() bool {
	return s == AttemptCompleted || s == AttemptRolledBack
}

var validAttemptTransitions = map[AttemptState][]AttemptState{
	AttemptNotStarted:  {AttemptStarted},
	AttemptStarted:     {AttemptCommitting, AttemptAborted},
	AttemptCommitting:  {AttemptUnstaging},
	AttemptUnstaging:   {AttemptCompleted},
	AttemptAborted:     {AttemptRollingBack},
	AttemptRollingBack: {AttemptRolledBack},
	AttemptCompleted:   {},
	AttemptRolledBack:  {},
}

func canTransitionAttempt(from, to AttemptState) bool {
	for _, allowed := range validAttemptTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ForwardCompat is an opaque, order-preserving passthrough for the ATR's
// forward-compatibility list. Its schema is server-version-dependent;
// this engine stores and round-trips it without interpreting it.
type ForwardCompat []map[string]any

// StagedMutation records what one attempt did, or intends to do, to one
// document, as it appears inside the ATR's staged_mutations list.
type StagedMutation struct {
	Doc     DocumentRef
	Type    OperationType
	Content []byte // nil for remove
}

// ATREntry is one attempt's record inside an ATR document.
type ATREntry struct {
	AttemptID       string
	State           ATRState
	StartedAt       time.Time
	ExpiresAfter    time.Duration
	Durability      wire.DurabilityLevel
	StagedMutations []StagedMutation
	ForwardCompat   ForwardCompat
}

// Expired reports whether entry's attempt has run past its expiry,
// relative to now.
func (e ATREntry) Expired(now time.Time) bool {
	return now.Sub(e.StartedAt) > e.ExpiresAfter
}

// TxnXattr is the transactional extended attribute staged onto (or
// alongside) a live document, the single top-level field that marks it
// as participating in an in-flight attempt.
type TxnXattr struct {
	TransactionID string
	AttemptID     string
	ATR           DocumentRef
	Operation     OperationType
	StagedContent []byte // nil for remove; for insert this *is* the doc body
	ForwardCompat ForwardCompat
}

// Document is a live document as read by the engine: its body, CAS, and
// the transactional xattr staged on it by some attempt, if any.
type Document struct {
	Ref     DocumentRef
	CAS     uint64
	Content []byte
	Deleted bool // true for a staged-insert tombstone created_as_deleted
	Xattr   *TxnXattr
}
