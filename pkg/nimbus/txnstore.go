package nimbus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"nimbusdb.io/nimbus/pkg/txn"
	"nimbusdb.io/nimbus/pkg/wire"
)

func wireDurability(b byte) wire.DurabilityLevel { return wire.DurabilityLevel(b) }

const txnXattrPath = "txn"

// collectionFor resolves the Collection a txn.DocumentRef points at.
func (b *Bucket) collectionFor(ref txn.DocumentRef) *Collection {
	return b.Scope(ref.Scope).Collection(ref.Collection)
}

func encodeXattr(x txn.TxnXattr) ([]byte, error) {
	type xattrWire struct {
		TransactionID string            `json:"txn_id"`
		AttemptID     string            `json:"attempt_id"`
		ATRBucket     string            `json:"atr_bucket"`
		ATRScope      string            `json:"atr_scope"`
		ATRCollection string            `json:"atr_collection"`
		ATRKey        string            `json:"atr_key"`
		Operation     txn.OperationType `json:"op"`
		StagedContent []byte            `json:"staged_content,omitempty"`
		ForwardCompat txn.ForwardCompat `json:"fc,omitempty"`
	}
	return json.Marshal(xattrWire{
		TransactionID: x.TransactionID,
		AttemptID:     x.AttemptID,
		ATRBucket:     x.ATR.Bucket,
		ATRScope:      x.ATR.Scope,
		ATRCollection: x.ATR.Collection,
		ATRKey:        x.ATR.Key,
		Operation:     x.Operation,
		StagedContent: x.StagedContent,
		ForwardCompat: x.ForwardCompat,
	})
}

func decodeXattr(raw []byte) (*txn.TxnXattr, error) {
	var w struct {
		TransactionID string            `json:"txn_id"`
		AttemptID     string            `json:"attempt_id"`
		ATRBucket     string            `json:"atr_bucket"`
		ATRScope      string            `json:"atr_scope"`
		ATRCollection string            `json:"atr_collection"`
		ATRKey        string            `json:"atr_key"`
		Operation     txn.OperationType `json:"op"`
		StagedContent []byte            `json:"staged_content,omitempty"`
		ForwardCompat txn.ForwardCompat `json:"fc,omitempty"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &txn.TxnXattr{
		TransactionID: w.TransactionID,
		AttemptID:     w.AttemptID,
		ATR:           txn.DocumentRef{Bucket: w.ATRBucket, Scope: w.ATRScope, Collection: w.ATRCollection, Key: w.ATRKey},
		Operation:     w.Operation,
		StagedContent: w.StagedContent,
		ForwardCompat: w.ForwardCompat,
	}, nil
}

// txnKVStore adapts a Bucket's Collection KV/subdoc surface to
// txn.Store, the engine's per-document staging interface.
type txnKVStore struct {
	bucket *Bucket
}

func (s *txnKVStore) Get(ctx context.Context, ref txn.DocumentRef) (*txn.Document, error) {
	coll := s.bucket.collectionFor(ref)

	res, err := coll.LookupInWithFlags(ctx, ref.Key, []SubdocSpec{
		GetSpec(""),
		GetXattrSpec(txnXattrPath),
	}, byte(subdocDocFlagAccessDeleted))
	if err != nil {
		if IsKind(err, KindDocumentNotFound) {
			return nil, txn.ErrDocumentNotFound
		}
		return nil, err
	}

	doc := &txn.Document{Ref: ref, CAS: res.CAS}
	if len(res.Fields) > 0 && res.Fields[0].Status == "" {
		doc.Content = res.Fields[0].Value
	} else {
		doc.Deleted = true
	}
	if len(res.Fields) > 1 && res.Fields[1].Status == "" && len(res.Fields[1].Value) > 0 {
		xattr, err := decodeXattr(res.Fields[1].Value)
		if err != nil {
			return nil, err
		}
		doc.Xattr = xattr
		if doc.Deleted {
			doc.Content = xattr.StagedContent
		}
	}
	return doc, nil
}

func (s *txnKVStore) StageInsert(ctx context.Context, ref txn.DocumentRef, xattr txn.TxnXattr) (uint64, error) {
	coll := s.bucket.collectionFor(ref)
	raw, err := encodeXattr(xattr)
	if err != nil {
		return 0, err
	}
	flags := byte(subdocDocFlagMkDoc) | byte(subdocDocFlagCreateAsDeleted) | byte(subdocDocFlagAccessDeleted)
	res, err := coll.MutateInWithFlags(ctx, ref.Key, []SubdocSpec{UpsertXattrSpec(txnXattrPath, raw)}, 0, 0, flags)
	if err != nil {
		if IsKind(err, KindDocumentExists) {
			return 0, txn.ErrDocumentExists
		}
		return 0, err
	}
	return res.CAS, nil
}

func (s *txnKVStore) StageMutate(ctx context.Context, ref txn.DocumentRef, expectedCAS uint64, xattr txn.TxnXattr) (uint64, error) {
	coll := s.bucket.collectionFor(ref)
	raw, err := encodeXattr(xattr)
	if err != nil {
		return 0, err
	}
	res, err := coll.MutateIn(ctx, ref.Key, []SubdocSpec{UpsertXattrSpec(txnXattrPath, raw)}, expectedCAS)
	if err != nil {
		if IsKind(err, KindCASMismatch) {
			return 0, txn.ErrCASMismatch
		}
		return 0, err
	}
	return res.CAS, nil
}

func (s *txnKVStore) Unstage(ctx context.Context, mutation txn.StagedMutation, cas uint64) error {
	coll := s.bucket.collectionFor(mutation.Doc)
	switch mutation.Type {
	case txn.OpRemove:
		_, err := coll.Remove(ctx, mutation.Doc.Key, cas)
		return err
	default:
		value := NewJSONValue(mutation.Content)
		_, err := coll.Replace(ctx, mutation.Doc.Key, value, cas, 0)
		if err != nil && IsKind(err, KindDocumentNotFound) && mutation.Type == txn.OpInsert {
			// the staged insert was still a tombstone: make it live.
			_, err = coll.Insert(ctx, mutation.Doc.Key, value, 0)
		}
		return err
	}
}

func (s *txnKVStore) RemoveStagedInsert(ctx context.Context, ref txn.DocumentRef, cas uint64) error {
	coll := s.bucket.collectionFor(ref)
	_, err := coll.Remove(ctx, ref.Key, cas)
	return err
}

func (s *txnKVStore) ClearXattr(ctx context.Context, ref txn.DocumentRef, cas uint64) error {
	coll := s.bucket.collectionFor(ref)
	_, err := coll.MutateIn(ctx, ref.Key, []SubdocSpec{RemoveXattrSpec(txnXattrPath)}, cas)
	return err
}

// txnATRStore adapts a Bucket's Collection KV surface to txn.ATRStore:
// one document per ATR key, with a JSON map of attempt_id -> ATREntry as
// its body, read whole and written back with a CAS-guarded insert or
// replace.
type txnATRStore struct {
	bucket *Bucket
}

type atrDocument struct {
	Attempts map[string]atrEntryWire `json:"attempts"`
}

type atrEntryWire struct {
	AttemptID       string               `json:"attempt_id"`
	State           txn.ATRState         `json:"state"`
	StartedAtUnixNS int64                `json:"started_at"`
	ExpiresAfterMS  int64                `json:"expires_after_ms"`
	Durability      byte                 `json:"durability"`
	StagedMutations []stagedMutationWire `json:"staged_mutations"`
}

type stagedMutationWire struct {
	Bucket     string            `json:"bucket"`
	Scope      string            `json:"scope"`
	Collection string            `json:"collection"`
	Key        string            `json:"key"`
	Type       txn.OperationType `json:"type"`
	Content    []byte            `json:"content,omitempty"`
}

func (s *txnATRStore) atrCollection(ref txn.DocumentRef) *Collection {
	return s.bucket.collectionFor(ref)
}

func (s *txnATRStore) load(ctx context.Context, ref txn.DocumentRef) (*atrDocument, uint64, error) {
	res, err := s.atrCollection(ref).Get(ctx, ref.Key)
	if err != nil {
		if IsKind(err, KindDocumentNotFound) {
			return nil, 0, txn.ErrDocumentNotFound
		}
		return nil, 0, err
	}
	var doc atrDocument
	if err := json.Unmarshal(res.Value.Bytes, &doc); err != nil {
		return nil, 0, err
	}
	if doc.Attempts == nil {
		doc.Attempts = make(map[string]atrEntryWire)
	}
	return &doc, res.CAS, nil
}

func (s *txnATRStore) save(ctx context.Context, ref txn.DocumentRef, doc *atrDocument, cas uint64) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	coll := s.atrCollection(ref)
	value := NewJSONValue(raw)
	if cas == 0 {
		_, err = coll.Insert(ctx, ref.Key, value, 0)
		if err != nil && IsKind(err, KindDocumentExists) {
			// lost the race to create the ATR document; fall through to a
			// CAS-guarded replace against whatever's there now.
			existing, err := coll.Get(ctx, ref.Key)
			if err != nil {
				return err
			}
			_, err = coll.Replace(ctx, ref.Key, value, existing.CAS, 0)
			return err
		}
		return err
	}
	_, err = coll.Replace(ctx, ref.Key, value, cas, 0)
	return err
}

func (s *txnATRStore) Lookup(ctx context.Context, ref txn.DocumentRef) (map[string]txn.ATREntry, uint64, error) {
	doc, cas, err := s.load(ctx, ref)
	if err != nil {
		return nil, 0, err
	}
	out := make(map[string]txn.ATREntry, len(doc.Attempts))
	for id, e := range doc.Attempts {
		out[id] = fromWireEntry(e)
	}
	return out, cas, nil
}

func (s *txnATRStore) InsertAttempt(ctx context.Context, ref txn.DocumentRef, entry txn.ATREntry) error {
	doc, cas, err := s.load(ctx, ref)
	if err != nil {
		if !errors.Is(err, txn.ErrDocumentNotFound) {
			return err
		}
		doc = &atrDocument{Attempts: make(map[string]atrEntryWire)}
		cas = 0
	}
	doc.Attempts[entry.AttemptID] = toWireEntry(entry)
	return s.save(ctx, ref, doc, cas)
}

func (s *txnATRStore) AppendStagedMutation(ctx context.Context, ref txn.DocumentRef, attemptID string, mutation txn.StagedMutation) error {
	doc, cas, err := s.load(ctx, ref)
	if err != nil {
		return err
	}
	e, ok := doc.Attempts[attemptID]
	if !ok {
		return txn.ErrDocumentNotFound
	}
	e.StagedMutations = append(e.StagedMutations, stagedMutationWire{
		Bucket: mutation.Doc.Bucket, Scope: mutation.Doc.Scope, Collection: mutation.Doc.Collection, Key: mutation.Doc.Key,
		Type: mutation.Type, Content: mutation.Content,
	})
	doc.Attempts[attemptID] = e
	return s.save(ctx, ref, doc, cas)
}

func (s *txnATRStore) UpdateState(ctx context.Context, ref txn.DocumentRef, attemptID string, state txn.ATRState) error {
	doc, cas, err := s.load(ctx, ref)
	if err != nil {
		return err
	}
	e, ok := doc.Attempts[attemptID]
	if !ok {
		return txn.ErrDocumentNotFound
	}
	e.State = state
	doc.Attempts[attemptID] = e
	return s.save(ctx, ref, doc, cas)
}

func (s *txnATRStore) Remove(ctx context.Context, ref txn.DocumentRef, attemptID string) error {
	doc, cas, err := s.load(ctx, ref)
	if err != nil {
		if errors.Is(err, txn.ErrDocumentNotFound) {
			return nil
		}
		return err
	}
	delete(doc.Attempts, attemptID)
	return s.save(ctx, ref, doc, cas)
}

func (s *txnATRStore) ScanExpired(ctx context.Context, ref txn.DocumentRef, now time.Time) ([]txn.ATREntry, error) {
	doc, _, err := s.load(ctx, ref)
	if err != nil {
		if errors.Is(err, txn.ErrDocumentNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var out []txn.ATREntry
	for _, e := range doc.Attempts {
		entry := fromWireEntry(e)
		if !entry.State.Terminal() && entry.Expired(now) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func toWireEntry(e txn.ATREntry) atrEntryWire {
	w := atrEntryWire{
		AttemptID:       e.AttemptID,
		State:           e.State,
		StartedAtUnixNS: e.StartedAt.UnixNano(),
		ExpiresAfterMS:  e.ExpiresAfter.Milliseconds(),
		Durability:      byte(e.Durability),
	}
	for _, m := range e.StagedMutations {
		w.StagedMutations = append(w.StagedMutations, stagedMutationWire{
			Bucket: m.Doc.Bucket, Scope: m.Doc.Scope, Collection: m.Doc.Collection, Key: m.Doc.Key,
			Type: m.Type, Content: m.Content,
		})
	}
	return w
}

func fromWireEntry(w atrEntryWire) txn.ATREntry {
	e := txn.ATREntry{
		AttemptID:    w.AttemptID,
		State:        w.State,
		StartedAt:    time.Unix(0, w.StartedAtUnixNS),
		ExpiresAfter: time.Duration(w.ExpiresAfterMS) * time.Millisecond,
		Durability:   wireDurability(w.Durability),
	}
	for _, m := range w.StagedMutations {
		e.StagedMutations = append(e.StagedMutations, txn.StagedMutation{
			Doc:     txn.DocumentRef{Bucket: m.Bucket, Scope: m.Scope, Collection: m.Collection, Key: m.Key},
			Type:    m.Type,
			Content: m.Content,
		})
	}
	return e
}
