package nimbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"nimbusdb.io/nimbus/pkg/collections"
	"nimbusdb.io/nimbus/pkg/observability"
	"nimbusdb.io/nimbus/pkg/retry"
	"nimbusdb.io/nimbus/pkg/session"
	"nimbusdb.io/nimbus/pkg/topology"
	"nimbusdb.io/nimbus/pkg/wire"
)

// Collection is a handle to one (bucket, scope, collection) triple,
// exposing the binary KV surface (§4.D/E).
type Collection struct {
	bucket     *Bucket
	scope      string
	collection string
}

func newCollection(b *Bucket, scope, collection string) *Collection {
	return &Collection{bucket: b, scope: scope, collection: collection}
}

// Name returns the collection's unqualified name.
func (c *Collection) Name() string { return c.collection }

// ScopeName returns the owning scope's name.
func (c *Collection) ScopeName() string { return c.scope }

func (c *Collection) collKey() collections.Key {
	return collections.Key{Bucket: c.bucket.name, Scope: c.scope, Collection: c.collection}
}

// resolveID returns the wire collection id to prefix onto a key, 0 for
// the default collection on a bucket that hasn't negotiated collections.
func (c *Collection) resolveID(ctx context.Context) (uint32, error) {
	cfg := c.bucket.topo.Current()
	if cfg == nil || !cfg.CollectionsEnabled {
		return 0, nil
	}
	if c.scope == "_default" && c.collection == "_default" {
		return 0, nil
	}
	return c.bucket.resolver.Resolve(ctx, c.collKey())
}

// attempt is the per-wire-round-trip unit every KV op dispatches through
// retry.Dispatcher: resolve routing, acquire a session, honor the node's
// breaker, send, classify the outcome.
func (c *Collection) attempt(ctx context.Context, op string, rawKey []byte, idempotent bool, build func(vbucket uint16, collID uint32) *wire.Frame, onResponse func(*wire.Frame) error) error {
	d := retry.NewDispatcher(c.bucket.strategy())
	d.Service = string(topology.ServiceKV)
	d.Operation = op
	return d.Run(ctx, idempotent, func(ctx context.Context, attemptNum int) (retry.Reason, error) {
		if err := c.bucket.topo.WaitReady(ctx); err != nil {
			return retry.ReasonConfigNotAvailable, err
		}
		cfg := c.bucket.topo.Current()

		collID, err := c.resolveID(ctx)
		if err != nil {
			return retry.ReasonUnknownCollection, err
		}

		prefixedKey := wire.EncodeCollectionID(collID, rawKey)
		node, vb, err := cfg.NodeForKey(prefixedKey)
		if err != nil {
			return retry.ReasonServiceNotAvailable, err
		}
		addr, ok := node.Addr(topology.ServiceKV)
		if !ok {
			return retry.ReasonNodeNotAvailable, fmt.Errorf("nimbus: node %s exposes no kv service", node.Hostname)
		}

		br := c.bucket.sessions.breakerFor(addr)
		if !br.Allow() {
			return retry.ReasonCircuitBreakerOpen, fmt.Errorf("nimbus: circuit breaker open for %s", addr)
		}

		sess, err := c.bucket.sessions.acquire(ctx, addr)
		if err != nil {
			br.Failure()
			return retry.ReasonSocketNotAvailable, err
		}

		frame := build(uint16(vb), collID)
		frame.Key = prefixedKey

		callCtx := ctx
		cancel := func() {}
		if c.bucket.opts.KVTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.bucket.opts.KVTimeout)
		}
		resp, err := sess.Call(callCtx, frame)
		cancel()
		if err != nil {
			br.Failure()
			if callCtx.Err() != nil {
				return retry.ReasonTimeoutUnambiguous, err
			}
			c.bucket.sessions.drop(addr)
			return retry.ReasonSocketClosedInFlight, err
		}

		if reason, ok := c.classify(resp.Status); ok {
			br.Failure()
			kind := kindForStatus(resp.Status, sess.ErrorMap())
			if resp.Status == wire.StatusKeyExists && frame.CAS != 0 {
				// KEY_EXISTS on a CAS-guarded request means the CAS did not match.
				kind = KindCASMismatch
			}
			return reason, New(kind, fmt.Sprintf("kv status %s", resp.Status))
		}

		br.Success()
		return retry.ReasonUnknown, onResponse(resp)
	})
}

// classify maps a non-success status to a retry Reason, returning ok=false
// only for success. A terminal status (one with no retry rule here) maps
// to retry.ReasonDoNotRetry, so the dispatcher returns it at once.
func (c *Collection) classify(status wire.Status) (retry.Reason, bool) {
	switch status {
	case wire.StatusSuccess, wire.StatusSubdocSuccessDeleted:
		return retry.ReasonUnknown, false
	case wire.StatusNotMyVbucket:
		return retry.ReasonNotMyVbucket, true
	case wire.StatusUnknownCollection:
		c.bucket.resolver.Invalidate(c.collKey())
		return retry.ReasonUnknownCollection, true
	case wire.StatusLocked:
		return retry.ReasonKVLocked, true
	case wire.StatusTemporaryFailure, wire.StatusBusy, wire.StatusOutOfMemory:
		return retry.ReasonKVTemporaryFailure, true
	case wire.StatusSyncWriteInProgress:
		return retry.ReasonKVSyncWriteInProgress, true
	case wire.StatusSyncWriteReCommitInProgress:
		return retry.ReasonKVSyncWriteReCommitInProgress, true
	case wire.StatusSyncWriteAmbiguous:
		return retry.ReasonTimeoutAmbiguous, true
	default:
		return retry.ReasonDoNotRetry, true
	}
}

func expirySeconds(ttl time.Duration) uint32 {
	if ttl <= 0 {
		return 0
	}
	return uint32(ttl / time.Second)
}

// Get retrieves a document's current value, flags and CAS.
func (c *Collection) Get(ctx context.Context, key string) (GetResult, error) {
	timer := observability.NewTimer(string(topology.ServiceKV), "get")
	defer timer.ObserveDuration()

	var out GetResult
	err := c.attempt(ctx, "get", []byte(key), true,
		func(vb uint16, collID uint32) *wire.Frame {
			return &wire.Frame{Magic: wire.MagicReq, OpCode: wire.OpGet, VbucketID: vb}
		},
		func(resp *wire.Frame) error {
			flags, err := wire.DecodeGetExtras(resp.Extras)
			if err != nil {
				return err
			}
			value := resp.Value
			if resp.DataType&wire.DataTypeSnappy != 0 {
				value, err = wire.Decompress(value)
				if err != nil {
					return fmt.Errorf("nimbus: decompress get response: %w", err)
				}
			}
			out = GetResult{Value: EncodedValue{Bytes: value, Flags: flags}, CAS: resp.CAS}
			return nil
		})
	return out, err
}

// mutate drives Set/Add/Replace through the shared attempt path, applying
// optional compression to value.
func (c *Collection) mutate(ctx context.Context, op string, opcode wire.OpCode, key string, value EncodedValue, expectedCAS uint64, ttl time.Duration, idempotent bool) (MutationResult, error) {
	timer := observability.NewTimer(string(topology.ServiceKV), op)
	defer timer.ObserveDuration()

	body := value.Bytes
	dataType := wire.DataTypeRaw
	if value.CommonFlag() == CommonFlagJSON {
		dataType = wire.DataTypeJSON
	}
	if c.bucket.opts.Compression {
		if compressed, ok := wire.MaybeCompress(body); ok {
			body = compressed
			dataType |= wire.DataTypeSnappy
		}
	}

	var out MutationResult
	err := c.attempt(ctx, op, []byte(key), idempotent,
		func(vb uint16, collID uint32) *wire.Frame {
			return &wire.Frame{
				Magic:     wire.MagicReq,
				OpCode:    opcode,
				VbucketID: vb,
				CAS:       expectedCAS,
				DataType:  dataType,
				Extras:    wire.EncodeMutationExtras(value.Flags, expirySeconds(ttl)),
				Value:     body,
			}
		},
		func(resp *wire.Frame) error {
			out.CAS = resp.CAS
			if seqno, ok, err := wire.DecodeMutationSeqno(resp.Extras); err == nil && ok {
				out.MutationToken = MutationToken{VbucketUUID: seqno.VbucketUUID, SeqNo: seqno.SeqNo, BucketName: c.bucket.name}
			}
			return nil
		})
	return out, err
}

// Upsert stores value at key unconditionally, creating or overwriting it.
func (c *Collection) Upsert(ctx context.Context, key string, value EncodedValue, ttl time.Duration) (MutationResult, error) {
	return c.mutate(ctx, "upsert", wire.OpSet, key, value, 0, ttl, true)
}

// Insert stores value at key, failing with KindDocumentExists if it
// already exists.
func (c *Collection) Insert(ctx context.Context, key string, value EncodedValue, ttl time.Duration) (MutationResult, error) {
	return c.mutate(ctx, "insert", wire.OpAdd, key, value, 0, ttl, false)
}

// Replace stores value at key, failing with KindDocumentNotFound if it
// doesn't exist, or KindCasMismatch if expectedCAS doesn't match.
func (c *Collection) Replace(ctx context.Context, key string, value EncodedValue, expectedCAS uint64, ttl time.Duration) (MutationResult, error) {
	return c.mutate(ctx, "replace", wire.OpReplace, key, value, expectedCAS, ttl, expectedCAS != 0)
}

// Remove deletes key, optionally CAS-guarded.
func (c *Collection) Remove(ctx context.Context, key string, expectedCAS uint64) (MutationResult, error) {
	timer := observability.NewTimer(string(topology.ServiceKV), "remove")
	defer timer.ObserveDuration()

	var out MutationResult
	err := c.attempt(ctx, "remove", []byte(key), expectedCAS != 0,
		func(vb uint16, collID uint32) *wire.Frame {
			return &wire.Frame{Magic: wire.MagicReq, OpCode: wire.OpDelete, VbucketID: vb, CAS: expectedCAS}
		},
		func(resp *wire.Frame) error {
			out.CAS = resp.CAS
			if seqno, ok, err := wire.DecodeMutationSeqno(resp.Extras); err == nil && ok {
				out.MutationToken = MutationToken{VbucketUUID: seqno.VbucketUUID, SeqNo: seqno.SeqNo, BucketName: c.bucket.name}
			}
			return nil
		})
	return out, err
}

// Exists checks for key's presence without fetching its value, via a
// subdoc exists on the document's virtual root path.
func (c *Collection) Exists(ctx context.Context, key string) (ExistsResult, error) {
	timer := observability.NewTimer(string(topology.ServiceKV), "exists")
	defer timer.ObserveDuration()

	res, err := c.LookupIn(ctx, key, []SubdocSpec{ExistsSpec("$document")})
	if err != nil {
		if IsKind(err, KindDocumentNotFound) {
			return ExistsResult{Exists: false}, nil
		}
		return ExistsResult{}, err
	}
	return ExistsResult{Exists: true, CAS: res.CAS}, nil
}

// GetAndTouch fetches key's value while resetting its expiry to ttl.
func (c *Collection) GetAndTouch(ctx context.Context, key string, ttl time.Duration) (GetResult, error) {
	timer := observability.NewTimer(string(topology.ServiceKV), "get_and_touch")
	defer timer.ObserveDuration()

	var out GetResult
	err := c.attempt(ctx, "get_and_touch", []byte(key), false,
		func(vb uint16, collID uint32) *wire.Frame {
			return &wire.Frame{Magic: wire.MagicReq, OpCode: wire.OpGetAndTouch, VbucketID: vb, Extras: wire.EncodeTouchExtras(expirySeconds(ttl))}
		},
		func(resp *wire.Frame) error {
			flags, err := wire.DecodeGetExtras(resp.Extras)
			if err != nil {
				return err
			}
			out = GetResult{Value: EncodedValue{Bytes: resp.Value, Flags: flags}, CAS: resp.CAS}
			return nil
		})
	return out, err
}

// Touch resets key's expiry to ttl without returning its value.
func (c *Collection) Touch(ctx context.Context, key string, ttl time.Duration) (MutationResult, error) {
	timer := observability.NewTimer(string(topology.ServiceKV), "touch")
	defer timer.ObserveDuration()

	var out MutationResult
	err := c.attempt(ctx, "touch", []byte(key), false,
		func(vb uint16, collID uint32) *wire.Frame {
			return &wire.Frame{Magic: wire.MagicReq, OpCode: wire.OpTouch, VbucketID: vb, Extras: wire.EncodeTouchExtras(expirySeconds(ttl))}
		},
		func(resp *wire.Frame) error {
			out.CAS = resp.CAS
			return nil
		})
	return out, err
}

// GetAndLock fetches key's value and acquires a pessimistic lock for
// lockTime, preventing any other mutation until Unlock or the lock
// expires.
func (c *Collection) GetAndLock(ctx context.Context, key string, lockTime time.Duration) (GetResult, error) {
	timer := observability.NewTimer(string(topology.ServiceKV), "get_and_lock")
	defer timer.ObserveDuration()

	var out GetResult
	err := c.attempt(ctx, "get_and_lock", []byte(key), false,
		func(vb uint16, collID uint32) *wire.Frame {
			return &wire.Frame{Magic: wire.MagicReq, OpCode: wire.OpGetAndLock, VbucketID: vb, Extras: wire.EncodeTouchExtras(expirySeconds(lockTime))}
		},
		func(resp *wire.Frame) error {
			flags, err := wire.DecodeGetExtras(resp.Extras)
			if err != nil {
				return err
			}
			out = GetResult{Value: EncodedValue{Bytes: resp.Value, Flags: flags}, CAS: resp.CAS}
			return nil
		})
	return out, err
}

// Unlock releases a lock previously acquired by GetAndLock, CAS-guarded
// by the value GetAndLock returned.
func (c *Collection) Unlock(ctx context.Context, key string, cas uint64) error {
	timer := observability.NewTimer(string(topology.ServiceKV), "unlock")
	defer timer.ObserveDuration()

	return c.attempt(ctx, "unlock", []byte(key), true,
		func(vb uint16, collID uint32) *wire.Frame {
			return &wire.Frame{Magic: wire.MagicReq, OpCode: wire.OpUnlock, VbucketID: vb, CAS: cas}
		},
		func(resp *wire.Frame) error { return nil })
}

// LookupIn performs a multi-path subdoc read.
func (c *Collection) LookupIn(ctx context.Context, key string, specs []SubdocSpec) (LookupInResult, error) {
	return c.LookupInWithFlags(ctx, key, specs, 0)
}

// LookupInWithFlags is LookupIn with explicit document-level flags (e.g.
// subdocDocFlagAccessDeleted, needed to read a transaction's invisible
// staged-insert tombstone).
func (c *Collection) LookupInWithFlags(ctx context.Context, key string, specs []SubdocSpec, docFlags byte) (LookupInResult, error) {
	timer := observability.NewTimer(string(topology.ServiceKV), "lookup_in")
	defer timer.ObserveDuration()

	var out LookupInResult
	err := c.attempt(ctx, "lookup_in", []byte(key), true,
		func(vb uint16, collID uint32) *wire.Frame {
			f := &wire.Frame{Magic: wire.MagicReq, OpCode: wire.OpSubdocMultiLookup, VbucketID: vb, Value: encodeMultiLookup(specs)}
			if docFlags != 0 {
				f.Extras = []byte{docFlags}
			}
			return f
		},
		func(resp *wire.Frame) error {
			fields, err := decodeMultiLookupResponse(resp.Value)
			if err != nil {
				return err
			}
			out.CAS = resp.CAS
			out.Fields = make([]SubdocFieldResult, len(fields))
			for i, f := range fields {
				path := ""
				if i < len(specs) {
					path = specs[i].Path
				}
				out.Fields[i] = SubdocFieldResult{Path: path, Value: f.value, Status: subdocStatusKind(wire.Status(f.status))}
			}
			return nil
		})
	return out, err
}

// MutateIn performs a multi-path subdoc write.
func (c *Collection) MutateIn(ctx context.Context, key string, specs []SubdocSpec, expectedCAS uint64) (MutateInResult, error) {
	return c.MutateInWithFlags(ctx, key, specs, expectedCAS, 0, 0)
}

// MutateInWithFlags is MutateIn with an explicit TTL and document-level
// flags (mkdoc/access-deleted/create-as-deleted), the primitives a
// transaction attempt's staging writes are built from.
func (c *Collection) MutateInWithFlags(ctx context.Context, key string, specs []SubdocSpec, expectedCAS uint64, ttl time.Duration, docFlags byte) (MutateInResult, error) {
	timer := observability.NewTimer(string(topology.ServiceKV), "mutate_in")
	defer timer.ObserveDuration()

	var out MutateInResult
	err := c.attempt(ctx, "mutate_in", []byte(key), expectedCAS != 0,
		func(vb uint16, collID uint32) *wire.Frame {
			extras := make([]byte, 0, 5)
			if ttl > 0 {
				extras = binary.BigEndian.AppendUint32(extras, expirySeconds(ttl))
			}
			if docFlags != 0 {
				extras = append(extras, docFlags)
			}
			return &wire.Frame{Magic: wire.MagicReq, OpCode: wire.OpSubdocMultiMutate, VbucketID: vb, CAS: expectedCAS, Extras: extras, Value: encodeMultiMutate(specs)}
		},
		func(resp *wire.Frame) error {
			out.CAS = resp.CAS
			if seqno, ok, err := wire.DecodeMutationSeqno(resp.Extras); err == nil && ok {
				out.MutationToken = MutationToken{VbucketUUID: seqno.VbucketUUID, SeqNo: seqno.SeqNo, BucketName: c.bucket.name}
			}
			if len(resp.Value) > 0 {
				results, err := decodeMultiMutateResponse(resp.Value)
				if err != nil {
					return err
				}
				out.Fields = make([]SubdocFieldResult, len(results))
				for i, r := range results {
					path := ""
					if int(r.index) < len(specs) {
						path = specs[r.index].Path
					}
					out.Fields[i] = SubdocFieldResult{Path: path, Value: r.value, Status: subdocStatusKind(wire.Status(r.status))}
				}
			}
			return nil
		})
	return out, err
}

// subdocStatusKind maps a per-path subdoc status to a Kind the way
// kindForStatus maps a whole-request status.
func subdocStatusKind(s wire.Status) Kind {
	if s == wire.StatusSuccess || s == wire.StatusSubdocSuccessDeleted {
		return ""
	}
	return kindForStatus(s, nil)
}
