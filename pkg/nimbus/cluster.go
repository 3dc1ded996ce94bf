package nimbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"nimbusdb.io/nimbus/pkg/breaker"
	"nimbusdb.io/nimbus/pkg/diagnostics"
	"nimbusdb.io/nimbus/pkg/httppool"
	"nimbusdb.io/nimbus/pkg/localstore"
	"nimbusdb.io/nimbus/pkg/log"
	"nimbusdb.io/nimbus/pkg/topology"
	"nimbusdb.io/nimbus/pkg/wire"
)

// Cluster is the top-level handle obtained from Connect: it owns the
// shared HTTP pool, the lost-transactions checkpoint store, and every
// Bucket opened against it.
type Cluster struct {
	connStr *ConnectionString
	opts    ClusterOptions

	httpPool    *httppool.Pool
	checkpoints *localstore.Store

	mu           sync.Mutex
	buckets      map[string]*Bucket
	httpBreakers map[string]*breaker.Breaker
	closed       bool
}

// Connect parses connStr, resolves DNS SRV if applicable, and returns a
// Cluster ready to open buckets against. It performs no network I/O of
// its own beyond the SRV lookup; each Bucket bootstraps its own topology
// on first use.
func Connect(ctx context.Context, connStr string, opts ClusterOptions) (*Cluster, error) {
	cs, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}
	if err := cs.ResolveSRV(ctx); err != nil {
		return nil, Wrap(KindResolveFailure, "resolve connection string", err)
	}
	opts = opts.withDefaults().ApplyConnectionString(cs)

	checkpoints, err := localstore.Open(cs.StringOption("checkpoint_path", "nimbus-checkpoints.db"))
	if err != nil {
		log.WithComponent("nimbus").Warn().Err(err).Msg("lost-transactions checkpoint store unavailable; cleanup will not persist across restarts")
		checkpoints = nil
	}

	c := &Cluster{
		connStr: cs,
		opts:    opts,
		httpPool: httppool.New(httppool.Config{
			TLSConfig: opts.TLS,
			Username:  opts.Username,
			Password:  opts.Password,
			UserAgent: "nimbus-go" + opts.UserAgentExtra,
		}),
		checkpoints:  checkpoints,
		buckets:      make(map[string]*Bucket),
		httpBreakers: make(map[string]*breaker.Breaker),
	}
	return c, nil
}

// breakerForHTTP returns (creating if needed) the circuit breaker tracking
// addr's recent HTTP outcomes, keyed separately from KV session breakers
// since one node's query/analytics/search/views endpoints fail
// independently of its KV port.
func (c *Cluster) breakerForHTTP(addr string) *breaker.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.httpBreakers[addr]
	if !ok {
		b = breaker.New(addr, c.opts.BreakerConfig)
		c.httpBreakers[addr] = b
	}
	return b
}

// Bucket opens (or returns the cached handle to) name, bootstrapping its
// topology from the first reachable seed node.
func (c *Cluster) Bucket(ctx context.Context, name string) (*Bucket, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, New(KindClusterClosed, "cluster is closed")
	}
	if b, ok := c.buckets[name]; ok {
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	b := newBucket(c, name, c.opts)
	if err := c.bootstrapTopology(ctx, b); err != nil {
		return nil, err
	}
	if b.txnCleaner != nil {
		go b.runCleanupLoop(context.Background())
	}

	c.mu.Lock()
	c.buckets[name] = b
	c.mu.Unlock()
	return b, nil
}

// bootstrapTopology dials each seed host in turn until one answers
// GET_CLUSTER_CONFIG; fetchClusterConfig installs a clustermap-change
// handler on the session that answered so its later pushes keep the
// topology current.
func (c *Cluster) bootstrapTopology(ctx context.Context, b *Bucket) error {
	var lastErr error
	for _, host := range c.connStr.Hosts {
		cfg, err := c.fetchClusterConfig(ctx, b, host)
		if err != nil {
			lastErr = err
			continue
		}
		b.topo.Update(cfg)
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("nimbus: no seed hosts configured")
	}
	return Wrap(KindConfigurationNotAvailable, "bootstrap topology", lastErr)
}

func (c *Cluster) fetchClusterConfig(ctx context.Context, b *Bucket, addr string) (*topology.Config, error) {
	sess, err := b.sessions.acquire(ctx, addr)
	if err != nil {
		return nil, err
	}

	resp, err := sess.Call(ctx, &wire.Frame{
		Magic:  wire.MagicReq,
		OpCode: wire.OpGetClusterConfig,
		Key:    []byte(b.name),
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != wire.StatusSuccess {
		return nil, New(kindForStatus(resp.Status, sess.ErrorMap()), fmt.Sprintf("get cluster config: %s", resp.Status))
	}

	cfg, err := decodeClusterConfig(b.name, resp.Value)
	if err != nil {
		return nil, err
	}

	sess.OnClustermapChange(func(body []byte) {
		if next, err := decodeClusterConfig(b.name, body); err == nil {
			b.topo.Update(next)
		}
	})
	return cfg, nil
}

// wireClusterConfig is the JSON cluster map document the server pushes in
// a GET_CLUSTER_CONFIG response and in clustermap-change notifications.
type wireClusterConfig struct {
	Epoch              uint64 `json:"rev_epoch"`
	Rev                uint64 `json:"rev"`
	UUID               string `json:"uuid"`
	CollectionsEnabled bool   `json:"collections_enabled"`
	Nodes              []struct {
		Hostname string         `json:"hostname"`
		Ports    map[string]int `json:"services"`
	} `json:"nodes"`
	Vbuckets struct {
		Active   []int32   `json:"active"`
		Replicas [][]int32 `json:"replicas"`
	} `json:"vbucket_map"`
}

func decodeClusterConfig(bucket string, raw []byte) (*topology.Config, error) {
	var w wireClusterConfig
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, Wrap(KindDecodingFailure, "decode cluster config", err)
	}

	nodes := make([]topology.Node, len(w.Nodes))
	for i, n := range w.Nodes {
		ports := make(map[topology.Service]int, len(n.Ports))
		for svc, port := range n.Ports {
			ports[topology.Service(svc)] = port
		}
		nodes[i] = topology.Node{Hostname: n.Hostname, Ports: ports}
	}

	return &topology.Config{
		Revision:           topology.Revision{Epoch: w.Epoch, Rev: w.Rev},
		Bucket:             bucket,
		UUID:               w.UUID,
		Nodes:              nodes,
		Vbuckets:           topology.VbucketMap{Active: w.Vbuckets.Active, Replicas: w.Vbuckets.Replicas},
		CollectionsEnabled: w.CollectionsEnabled,
	}, nil
}

// Diagnostics aggregates a point-in-time snapshot across every bucket
// currently open on this cluster.
func (c *Cluster) Diagnostics(reportID string) diagnostics.DiagnosticsReport {
	c.mu.Lock()
	buckets := make([]*Bucket, 0, len(c.buckets))
	for _, b := range c.buckets {
		buckets = append(buckets, b)
	}
	c.mu.Unlock()

	var snaps []diagnostics.SessionSnapshot
	for _, b := range buckets {
		for _, s := range b.sessions.snapshots() {
			snaps = append(snaps, diagnostics.SessionSnapshot{
				Service: topology.ServiceKV, ID: s.addr, Remote: s.addr,
				Namespace: b.name, State: sessionState(s.session),
			})
		}
	}
	return diagnostics.Diagnostics(reportID, snaps)
}

// Ping actively probes every session open across every bucket on this
// cluster.
func (c *Cluster) Ping(ctx context.Context, reportID string) diagnostics.PingReport {
	c.mu.Lock()
	buckets := make([]*Bucket, 0, len(c.buckets))
	for _, b := range c.buckets {
		buckets = append(buckets, b)
	}
	c.mu.Unlock()

	var targets []diagnostics.PingTarget
	for _, b := range buckets {
		for _, s := range b.sessions.snapshots() {
			targets = append(targets, &kvPingTarget{bucket: b.name, addr: s.addr, session: s.session})
		}
	}
	return diagnostics.Ping(ctx, reportID, targets)
}

// Close tears down every bucket's session pool and the shared HTTP pool
// and checkpoint store. Safe to call once; a Cluster is not usable
// afterward.
func (c *Cluster) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	buckets := c.buckets
	c.buckets = nil
	c.mu.Unlock()

	for _, b := range buckets {
		b.sessions.closeAll()
		if b.stopCleanup != nil {
			close(b.stopCleanup)
		}
	}
	c.httpPool.Close()
	if c.checkpoints != nil {
		return c.checkpoints.Close()
	}
	return nil
}
