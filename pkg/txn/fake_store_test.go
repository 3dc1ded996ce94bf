package txn

import (
	"context"
	"sync"
	"time"
)

// fakeStore is a minimal in-memory Store used to exercise the engine's
// staging/commit/rollback/conflict logic without a real KV connection.
type fakeStore struct {
	mu   sync.Mutex
	docs map[DocumentRef]*Document
	cas  uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[DocumentRef]*Document)}
}

func (s *fakeStore) nextCAS() uint64 {
	s.cas++
	return s.cas
}

// seed inserts a live, unstaged document directly, bypassing the
// transactional staging path, for tests that need a pre-existing document.
func (s *fakeStore) seed(ref DocumentRef, content []byte) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	cas := s.nextCAS()
	s.docs[ref] = &Document{Ref: ref, CAS: cas, Content: content}
	return cas
}

func (s *fakeStore) Get(ctx context.Context, ref DocumentRef) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[ref]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	if doc.Deleted && doc.Xattr == nil {
		return nil, ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *fakeStore) StageInsert(ctx context.Context, ref DocumentRef, xattr TxnXattr) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.docs[ref]; ok && (!existing.Deleted || existing.Xattr != nil) {
		return 0, ErrDocumentExists
	}
	cas := s.nextCAS()
	xattrCopy := xattr
	s.docs[ref] = &Document{Ref: ref, CAS: cas, Content: xattr.StagedContent, Deleted: true, Xattr: &xattrCopy}
	return cas, nil
}

func (s *fakeStore) StageMutate(ctx context.Context, ref DocumentRef, expectedCAS uint64, xattr TxnXattr) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[ref]
	if !ok {
		return 0, ErrDocumentNotFound
	}
	if doc.CAS != expectedCAS {
		return 0, ErrCASMismatch
	}
	xattrCopy := xattr
	doc.Xattr = &xattrCopy
	doc.CAS = s.nextCAS()
	return doc.CAS, nil
}

func (s *fakeStore) Unstage(ctx context.Context, mutation StagedMutation, cas uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mutation.Type == OpRemove {
		delete(s.docs, mutation.Doc)
		return nil
	}
	doc, ok := s.docs[mutation.Doc]
	if !ok {
		doc = &Document{Ref: mutation.Doc}
		s.docs[mutation.Doc] = doc
	}
	doc.Content = mutation.Content
	doc.Deleted = false
	doc.Xattr = nil
	doc.CAS = s.nextCAS()
	return nil
}

func (s *fakeStore) RemoveStagedInsert(ctx context.Context, ref DocumentRef, cas uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, ref)
	return nil
}

func (s *fakeStore) ClearXattr(ctx context.Context, ref DocumentRef, cas uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[ref]
	if !ok {
		return nil
	}
	doc.Xattr = nil
	doc.CAS = s.nextCAS()
	return nil
}

// fakeATRStore is a minimal in-memory ATRStore.
type fakeATRStore struct {
	mu   sync.Mutex
	atrs map[DocumentRef]map[string]ATREntry
}

func newFakeATRStore() *fakeATRStore {
	return &fakeATRStore{atrs: make(map[DocumentRef]map[string]ATREntry)}
}

func (s *fakeATRStore) Lookup(ctx context.Context, ref DocumentRef) (map[string]ATREntry, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.atrs[ref]
	if !ok {
		return nil, 0, ErrDocumentNotFound
	}
	out := make(map[string]ATREntry, len(entries))
	for k, v := range entries {
		out[k] = v
	}
	return out, 1, nil
}

func (s *fakeATRStore) InsertAttempt(ctx context.Context, ref DocumentRef, entry ATREntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.atrs[ref] == nil {
		s.atrs[ref] = make(map[string]ATREntry)
	}
	s.atrs[ref][entry.AttemptID] = entry
	return nil
}

func (s *fakeATRStore) AppendStagedMutation(ctx context.Context, ref DocumentRef, attemptID string, mutation StagedMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.atrs[ref]
	if entries == nil {
		return ErrDocumentNotFound
	}
	entry := entries[attemptID]
	entry.StagedMutations = append(entry.StagedMutations, mutation)
	entries[attemptID] = entry
	return nil
}

func (s *fakeATRStore) UpdateState(ctx context.Context, ref DocumentRef, attemptID string, state ATRState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.atrs[ref]
	if entries == nil {
		return ErrDocumentNotFound
	}
	entry := entries[attemptID]
	entry.State = state
	entries[attemptID] = entry
	return nil
}

func (s *fakeATRStore) Remove(ctx context.Context, ref DocumentRef, attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.atrs[ref], attemptID)
	return nil
}

func (s *fakeATRStore) ScanExpired(ctx context.Context, ref DocumentRef, now time.Time) ([]ATREntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.atrs[ref]
	if !ok {
		return nil, nil
	}
	var out []ATREntry
	for _, e := range entries {
		if !e.State.Terminal() && e.Expired(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

// setEntry is a test-only shortcut for seeding an ATR entry directly,
// bypassing InsertAttempt, to simulate another attempt's recorded outcome.
func (s *fakeATRStore) setEntry(ref DocumentRef, entry ATREntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.atrs[ref] == nil {
		s.atrs[ref] = make(map[string]ATREntry)
	}
	s.atrs[ref][entry.AttemptID] = entry
}
