package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nimbusdb.io/nimbus/pkg/log"
)

// Attempt is one try at a transaction: it owns the staged mutations made
// so far, the documents it has read (the read set), and the ATR entry
// that is the authoritative record of its outcome. A TransactionContext
// owns a sequence of Attempts; Attempts never outlive the Run call that
// created their TransactionContext.
type Attempt struct {
	id     string
	txnID  string
	cfg    Config
	store  Store
	atr    ATRStore
	logger zerolog.Logger

	startedAt time.Time
	deadline  time.Time // shared across every attempt of the owning transaction

	mu              sync.Mutex
	state           AttemptState
	atrRef          DocumentRef
	atrChosen       bool
	stagedInserts   map[DocumentRef]StagedMutation
	stagedReplaces  map[DocumentRef]StagedMutation
	stagedRemoves   map[DocumentRef]StagedMutation
	readSet         map[DocumentRef]uint64
}

// newAttempt builds a fresh Attempt in NOT_STARTED state for txnID.
// deadline is the transaction's overall expiry boundary, shared and fixed
// across every attempt the transaction makes.
func newAttempt(txnID string, deadline time.Time, cfg Config, store Store, atr ATRStore) *Attempt {
	id := uuid.NewString()
	return &Attempt{
		id:             id,
		txnID:          txnID,
		cfg:            cfg,
		store:          store,
		atr:            atr,
		logger:         log.WithComponent("txn").With().Str("txn_id", txnID).Str("attempt_id", id).Logger(),
		startedAt:      time.Now(),
		deadline:       deadline,
		state:          AttemptNotStarted,
		stagedInserts:  make(map[DocumentRef]StagedMutation),
		stagedReplaces: make(map[DocumentRef]StagedMutation),
		stagedRemoves:  make(map[DocumentRef]StagedMutation),
		readSet:        make(map[DocumentRef]uint64),
	}
}

// ID returns this attempt's UUID.
func (a *Attempt) ID() string { return a.id }

// State returns the attempt's current client-local state.
func (a *Attempt) State() AttemptState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Attempt) transition(next AttemptState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !canTransitionAttempt(a.state, next) {
		return fmt.Errorf("txn: attempt %s: invalid transition %s -> %s", a.id, a.state, next)
	}
	a.logger.Debug().Str("from", string(a.state)).Str("to", string(next)).Msg("attempt state transition")
	a.state = next
	return nil
}

func (a *Attempt) expired(now time.Time) bool {
	return now.After(a.deadline)
}

// checkExpiry returns an OperationFailed forcing rollback if the
// transaction has run past its overall expiry; every op that can reach
// the wire calls this first.
func (a *Attempt) checkExpiry() error {
	if a.expired(time.Now()) {
		return expiredFailure(fmt.Errorf("txn: attempt %s past transaction deadline %s", a.id, a.deadline))
	}
	return nil
}

// ensureStarted transitions NOT_STARTED -> STARTED on the first staged
// operation, a no-op once already STARTED.
func (a *Attempt) ensureStarted() error {
	if a.State() == AttemptNotStarted {
		return a.transition(AttemptStarted)
	}
	return nil
}

// chooseATR picks this attempt's ATR by hashing firstDocKey, the first
// time any document is staged; every subsequent staged mutation and the
// eventual commit/rollback use the same ATR.
func (a *Attempt) chooseATR(bucket, scope, collection, firstDocKey string) DocumentRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.atrChosen {
		return a.atrRef
	}
	ref := a.cfg.MetadataCollection
	if ref == (DocumentRef{}) {
		ref = DocumentRef{Bucket: bucket, Scope: scope, Collection: collection}
	}
	ref.Key = ATRKeyFor(firstDocKey, a.cfg.NumATRs)
	a.atrRef = ref
	a.atrChosen = true
	return ref
}

// Get reads a document, resolving any in-progress conflict it finds
// staged by another attempt, and records it in the read set.
func (a *Attempt) Get(ctx context.Context, ref DocumentRef) (*Document, error) {
	if err := a.checkExpiry(); err != nil {
		return nil, err
	}

	doc, err := a.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}

	if doc.Xattr != nil && doc.Xattr.AttemptID != a.id {
		if err := a.resolveConflict(ctx, doc); err != nil {
			return nil, err
		}
		// re-read: resolveConflict rolled the other attempt forward or
		// back, so the document's visible state has changed.
		doc, err = a.store.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
	}

	a.mu.Lock()
	a.readSet[ref] = doc.CAS
	a.mu.Unlock()

	return doc, nil
}

// Insert stages a new document. The server-side staged form is an
// invisible document created with create_as_deleted + access_deleted; the
// live body stays absent until commit.
func (a *Attempt) Insert(ctx context.Context, ref DocumentRef, content []byte) error {
	if err := a.checkExpiry(); err != nil {
		return err
	}
	if err := a.ensureStarted(); err != nil {
		return err
	}

	atrRef := a.chooseATR(ref.Bucket, ref.Scope, ref.Collection, ref.Key)
	mutation := StagedMutation{Doc: ref, Type: OpInsert, Content: content}

	if err := a.recordStagedMutationATR(ctx, atrRef, mutation); err != nil {
		return err
	}

	xattr := TxnXattr{TransactionID: a.txnID, AttemptID: a.id, ATR: atrRef, Operation: OpInsert, StagedContent: content}
	cas, err := a.store.StageInsert(ctx, ref, xattr)
	if err != nil {
		return newOperationFailed(err, true, true, FinalFailed)
	}

	a.mu.Lock()
	a.stagedInserts[ref] = mutation
	a.readSet[ref] = cas
	a.mu.Unlock()
	return nil
}

// Replace stages new content over doc, which must have been read by this
// attempt (so its CAS is known) via Get.
func (a *Attempt) Replace(ctx context.Context, doc *Document, content []byte) error {
	if err := a.checkExpiry(); err != nil {
		return err
	}
	if err := a.ensureStarted(); err != nil {
		return err
	}

	atrRef := a.chooseATR(doc.Ref.Bucket, doc.Ref.Scope, doc.Ref.Collection, doc.Ref.Key)
	mutation := StagedMutation{Doc: doc.Ref, Type: OpReplace, Content: content}

	if err := a.recordStagedMutationATR(ctx, atrRef, mutation); err != nil {
		return err
	}

	xattr := TxnXattr{TransactionID: a.txnID, AttemptID: a.id, ATR: atrRef, Operation: OpReplace, StagedContent: content}
	newCAS, err := a.store.StageMutate(ctx, doc.Ref, doc.CAS, xattr)
	if err != nil {
		return newOperationFailed(err, true, true, FinalFailed)
	}

	a.mu.Lock()
	a.stagedReplaces[doc.Ref] = mutation
	a.readSet[doc.Ref] = newCAS
	a.mu.Unlock()
	return nil
}

// Remove stages the deletion of doc.
func (a *Attempt) Remove(ctx context.Context, doc *Document) error {
	if err := a.checkExpiry(); err != nil {
		return err
	}
	if err := a.ensureStarted(); err != nil {
		return err
	}

	atrRef := a.chooseATR(doc.Ref.Bucket, doc.Ref.Scope, doc.Ref.Collection, doc.Ref.Key)
	mutation := StagedMutation{Doc: doc.Ref, Type: OpRemove}

	if err := a.recordStagedMutationATR(ctx, atrRef, mutation); err != nil {
		return err
	}

	xattr := TxnXattr{TransactionID: a.txnID, AttemptID: a.id, ATR: atrRef, Operation: OpRemove}
	newCAS, err := a.store.StageMutate(ctx, doc.Ref, doc.CAS, xattr)
	if err != nil {
		return newOperationFailed(err, true, true, FinalFailed)
	}

	a.mu.Lock()
	a.stagedRemoves[doc.Ref] = mutation
	a.readSet[doc.Ref] = newCAS
	a.mu.Unlock()
	return nil
}

// recordStagedMutationATR writes this mutation into the ATR document,
// creating the attempt's entry first if this is its first staged
// mutation.
func (a *Attempt) recordStagedMutationATR(ctx context.Context, atrRef DocumentRef, mutation StagedMutation) error {
	a.mu.Lock()
	isFirst := len(a.stagedInserts)+len(a.stagedReplaces)+len(a.stagedRemoves) == 0
	a.mu.Unlock()

	if isFirst {
		entry := ATREntry{
			AttemptID:    a.id,
			State:        ATRPending,
			StartedAt:    a.startedAt,
			ExpiresAfter: a.deadline.Sub(a.startedAt),
			Durability:   a.cfg.Durability,
		}
		if err := a.atr.InsertAttempt(ctx, atrRef, entry); err != nil {
			return newOperationFailed(err, true, true, FinalFailed)
		}
	}
	if err := a.atr.AppendStagedMutation(ctx, atrRef, a.id, mutation); err != nil {
		return newOperationFailed(err, true, true, FinalFailed)
	}
	return nil
}

// allStaged returns every staged mutation across insert/replace/remove,
// in a stable order (insert, replace, remove; within each, map iteration
// order — commit/rollback never depend on cross-document ordering per
// spec.md §4.I "in any order").
func (a *Attempt) allStaged() []StagedMutation {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]StagedMutation, 0, len(a.stagedInserts)+len(a.stagedReplaces)+len(a.stagedRemoves))
	for _, m := range a.stagedInserts {
		out = append(out, m)
	}
	for _, m := range a.stagedReplaces {
		out = append(out, m)
	}
	for _, m := range a.stagedRemoves {
		out = append(out, m)
	}
	return out
}

func (a *Attempt) hasStaged() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stagedInserts)+len(a.stagedReplaces)+len(a.stagedRemoves) > 0
}
