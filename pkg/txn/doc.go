// Package txn implements the client-coordinated multi-document ACID
// transaction protocol layered on top of the ordinary KV surface
// (components A-H): per-document staging via a transactional extended
// attribute, a central active transaction record (ATR) that is the
// single source of truth for an attempt's outcome, deterministic
// write-write conflict resolution, commit/rollback, and a background
// lost-transactions cleanup loop that finishes whatever an attempt whose
// owning process died could not.
//
// The engine never talks to a socket directly. It drives two small
// interfaces, Store and ATRStore, that the nimbus facade implements on
// top of pkg/retry, pkg/session and pkg/collections — the same
// separation the rest of this module keeps between protocol mechanics
// and transport.
package txn
