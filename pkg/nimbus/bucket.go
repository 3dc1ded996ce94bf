package nimbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"nimbusdb.io/nimbus/pkg/collections"
	"nimbusdb.io/nimbus/pkg/diagnostics"
	"nimbusdb.io/nimbus/pkg/log"
	"nimbusdb.io/nimbus/pkg/retry"
	"nimbusdb.io/nimbus/pkg/session"
	"nimbusdb.io/nimbus/pkg/topology"
	"nimbusdb.io/nimbus/pkg/txn"
	"nimbusdb.io/nimbus/pkg/wire"
)

// cleanupSweepInterval paces how often the lost-transactions cleanup loop
// scans a bucket's ATR keyspace; the Cleaner's own rate limiter already
// paces individual ATR reads within one sweep.
const cleanupSweepInterval = 60 * time.Second

// Bucket is a handle to one bucket's data: its topology, session pool,
// collections resolver and transaction plumbing. Obtained from Cluster.Bucket.
type Bucket struct {
	name    string
	cluster *Cluster
	opts    ClusterOptions

	topo     *topology.Topology
	sessions *sessionPool
	resolver *collections.Resolver

	txnManager  *txn.Manager
	txnCleaner  *txn.Cleaner
	stopCleanup chan struct{}
}

func newBucket(cluster *Cluster, name string, opts ClusterOptions) *Bucket {
	b := &Bucket{
		name:    name,
		cluster: cluster,
		opts:    opts,
		topo:    topology.New(name),
	}
	b.sessions = newSessionPool(name, opts.Username, opts.Password, opts.TLS, opts.KVTimeout, opts.BreakerConfig)
	b.resolver = collections.New(b.fetchCollectionID)

	store := &txnKVStore{bucket: b}
	atrStore := &txnATRStore{bucket: b}
	b.txnManager = txn.NewManager(store, atrStore, txn.Config{})
	if cluster.checkpoints != nil {
		b.txnCleaner = txn.NewCleaner(store, atrStore, cluster.checkpoints, txn.Config{}, 1)
		b.stopCleanup = make(chan struct{})
	}
	return b
}

// Name returns the bucket's name.
func (b *Bucket) Name() string { return b.name }

// runCleanupLoop periodically sweeps the default collection's ATR
// keyspace for lost transactions until stopCleanup is closed. Started by
// Cluster.Bucket once topology bootstrap succeeds; stopped from Close.
func (b *Bucket) runCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCleanup:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.txnCleaner.SweepBucket(ctx, b.name, "_default", "_default"); err != nil {
				log.WithComponent("nimbus").Warn().Err(err).Str("bucket", b.name).Msg("lost-transactions cleanup sweep failed")
			}
		}
	}
}

func (b *Bucket) strategy() retry.Strategy {
	return retry.BestEffort{}
}

// Scope returns a handle to one named scope.
func (b *Bucket) Scope(name string) *Scope {
	return &Scope{bucket: b, name: name}
}

// DefaultCollection returns the bucket's default collection, in its
// default scope.
func (b *Bucket) DefaultCollection() *Collection {
	return newCollection(b, "_default", "_default")
}

// Collection returns a handle to collection inside the bucket's default
// scope.
func (b *Bucket) Collection(name string) *Collection {
	return newCollection(b, "_default", name)
}

// Transactions returns the transaction engine operating over this bucket.
func (b *Bucket) Transactions() *Transactions {
	return &Transactions{bucket: b}
}

// Diagnostics returns a point-in-time snapshot of every session this
// bucket currently has open, performing no I/O.
func (b *Bucket) Diagnostics(reportID string) diagnostics.DiagnosticsReport {
	snaps := b.sessions.snapshots()
	out := make([]diagnostics.SessionSnapshot, len(snaps))
	for i, s := range snaps {
		out[i] = diagnostics.SessionSnapshot{
			Service:   topology.ServiceKV,
			ID:        s.addr,
			Remote:    s.addr,
			Namespace: b.name,
			State:     sessionState(s.session),
		}
	}
	return diagnostics.Diagnostics(reportID, out)
}

// Ping actively probes every session currently open against this bucket.
func (b *Bucket) Ping(ctx context.Context, reportID string) diagnostics.PingReport {
	snaps := b.sessions.snapshots()
	targets := make([]diagnostics.PingTarget, len(snaps))
	for i, s := range snaps {
		targets[i] = &kvPingTarget{bucket: b.name, addr: s.addr, session: s.session}
	}
	return diagnostics.Ping(ctx, reportID, targets)
}

func sessionState(s *session.Session) diagnostics.EndpointState {
	switch s.State() {
	case session.Ready:
		return diagnostics.StateOK
	case session.Closed, session.Closing:
		return diagnostics.StateDisconnected
	default:
		return diagnostics.StateConnecting
	}
}

// fetchCollectionID performs the GET_COLLECTION_ID binary round trip
// against any currently known KV node, used as the collections.Resolver's
// FetchFunc.
func (b *Bucket) fetchCollectionID(ctx context.Context, key collections.Key) (uint32, uint64, error) {
	cfg := b.topo.Current()
	if cfg == nil {
		return 0, 0, fmt.Errorf("nimbus: no topology for bucket %s yet", b.name)
	}
	nodes := cfg.ServiceNodes(topology.ServiceKV)
	if len(nodes) == 0 {
		return 0, 0, topology.ErrServiceUnavailable
	}
	addr, ok := nodes[0].Addr(topology.ServiceKV)
	if !ok {
		return 0, 0, topology.ErrServiceUnavailable
	}
	sess, err := b.sessions.acquire(ctx, addr)
	if err != nil {
		return 0, 0, err
	}

	path := key.Scope + "." + key.Collection
	resp, err := sess.Call(ctx, &wire.Frame{
		Magic:  wire.MagicReq,
		OpCode: wire.OpCollectionsGetID,
		Key:    []byte(path),
	})
	if err != nil {
		return 0, 0, err
	}
	if resp.Status != wire.StatusSuccess {
		return 0, 0, New(kindForStatus(resp.Status, sess.ErrorMap()), fmt.Sprintf("get collection id %s", path))
	}
	if len(resp.Extras) < 12 {
		return 0, 0, fmt.Errorf("nimbus: short get-collection-id response extras")
	}
	manifestUID := binary.BigEndian.Uint64(resp.Extras[0:8])
	collID := binary.BigEndian.Uint32(resp.Extras[8:12])
	return collID, manifestUID, nil
}

// Scope is a handle to one named scope within a bucket.
type Scope struct {
	bucket *Bucket
	name   string
}

// Name returns the scope's name.
func (s *Scope) Name() string { return s.name }

// Collection returns a handle to one named collection inside this scope.
func (s *Scope) Collection(name string) *Collection {
	return newCollection(s.bucket, s.name, name)
}

// kvPingTarget adapts a pooled binary session to diagnostics.PingTarget,
// probing liveness with NOOP: no key, no vbucket ownership or collection
// resolution, no side effect.
type kvPingTarget struct {
	bucket  string
	addr    string
	session *session.Session
}

func (t *kvPingTarget) Service() topology.Service { return topology.ServiceKV }
func (t *kvPingTarget) ID() string                { return t.addr }
func (t *kvPingTarget) Namespace() string         { return t.bucket }

func (t *kvPingTarget) Ping(ctx context.Context) error {
	resp, err := t.session.Call(ctx, &wire.Frame{
		Magic:  wire.MagicReq,
		OpCode: wire.OpNoop,
	})
	if err != nil {
		return err
	}
	if resp.Status != wire.StatusSuccess {
		return fmt.Errorf("nimbus: ping probe against %s: %s", t.addr, resp.Status)
	}
	return nil
}
