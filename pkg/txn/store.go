package txn

import (
	"context"
	"time"
)

// Store is the per-document KV surface the engine stages and commits
// through. Implementations drive the ordinary wire/retry/session stack;
// this package never touches a socket.
type Store interface {
	// Get fetches the live document, including its transactional xattr
	// if one is staged, or ErrDocumentNotFound.
	Get(ctx context.Context, ref DocumentRef) (*Document, error)

	// StageInsert creates an invisible staged-insert document (the
	// server-side equivalent of create_as_deleted + access_deleted) for
	// a key with no live document, or one already removed by a
	// completed transaction. Fails with ErrDocumentExists if a live,
	// unstaged document is already present.
	StageInsert(ctx context.Context, ref DocumentRef, xattr TxnXattr) (cas uint64, err error)

	// StageMutate CAS-guards a subdoc mutate-in that writes xattr over
	// an existing live document without altering its visible body.
	// expectedCAS must match the document's current CAS or the call
	// fails with ErrCASMismatch, the race-free guard between a
	// conflict-check read and the stage.
	StageMutate(ctx context.Context, ref DocumentRef, expectedCAS uint64, xattr TxnXattr) (newCAS uint64, err error)

	// Unstage applies mutation's effect to the live document — write
	// the staged content (insert/replace) or delete it (remove) — and
	// clears the transactional xattr, in one durability-guarded call.
	Unstage(ctx context.Context, mutation StagedMutation, cas uint64) error

	// RemoveStagedInsert deletes a staged-insert document outright, the
	// rollback counterpart of StageInsert.
	RemoveStagedInsert(ctx context.Context, ref DocumentRef, cas uint64) error

	// ClearXattr restores a document staged for replace/remove to its
	// pre-staging visible state, the rollback counterpart of
	// StageMutate.
	ClearXattr(ctx context.Context, ref DocumentRef, cas uint64) error
}

// ATRStore is the metadata-collection surface for active transaction
// records: one document per ATR key, each holding a map of
// attempt_id -> ATREntry.
type ATRStore interface {
	// Lookup returns the ATR document at ref and its CAS, or
	// ErrDocumentNotFound if no attempt has ever used this ATR key.
	Lookup(ctx context.Context, ref DocumentRef) (map[string]ATREntry, uint64, error)

	// InsertAttempt adds a new attempt entry to the ATR document at ref,
	// creating the document if this is its first attempt.
	InsertAttempt(ctx context.Context, ref DocumentRef, entry ATREntry) error

	// AppendStagedMutation appends one staged mutation record to an
	// existing attempt entry.
	AppendStagedMutation(ctx context.Context, ref DocumentRef, attemptID string, mutation StagedMutation) error

	// UpdateState sets an attempt entry's state field.
	UpdateState(ctx context.Context, ref DocumentRef, attemptID string, state ATRState) error

	// Remove deletes one attempt's entry entirely, called after a
	// successful commit or rollback once its ATR bookkeeping is no
	// longer needed.
	Remove(ctx context.Context, ref DocumentRef, attemptID string) error

	// ScanExpired returns every non-terminal attempt entry at ref whose
	// expiry has passed relative to now, for the lost-transactions
	// cleanup loop.
	ScanExpired(ctx context.Context, ref DocumentRef, now time.Time) ([]ATREntry, error)
}

// QueryStore is the query-service surface the engine drives when
// Logic calls AttemptContext.Query: it tags the request with the
// attempt's transactional context so the query service stages its own
// mutations under the same ATR.
type QueryStore interface {
	Query(ctx context.Context, statement string, opts QueryOptions) (RowIterator, error)
}

// QueryOptions carries the transactional tags (§4.I "query integration")
// alongside whatever scan-consistency knobs the caller set.
type QueryOptions struct {
	TxID            string
	TxTimeoutMS     int64
	ScanConsistency string
	Positional      []any
	Named           map[string]any
}

// RowIterator is the minimal surface the engine needs from a query
// result; the full row/streaming contract lives in pkg/httppool.
type RowIterator interface {
	Next() ([]byte, bool)
	Err() error
	Close() error
}
