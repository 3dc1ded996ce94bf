package topology

import (
	"context"
	"sync"
	"sync/atomic"

	"nimbusdb.io/nimbus/pkg/log"
)

// subscriber is a change-notification channel, buffered so a slow reader
// never blocks Update.
type subscriber chan *Config

// Topology holds the current configuration for one bucket and fans out
// change notifications, the way the teacher's event broker fans out
// cluster events: a buffered channel per subscriber, dropped rather than
// blocked when a subscriber falls behind.
type Topology struct {
	bucket string

	current atomic.Pointer[Config]
	ready   chan struct{}
	once    sync.Once

	mu          sync.RWMutex
	subscribers map[subscriber]bool

	roundRobin sync.Map // Service -> *atomic.Uint64
}

// New creates an empty Topology for bucket. Current returns nil until the
// first Update.
func New(bucket string) *Topology {
	return &Topology{
		bucket:      bucket,
		ready:       make(chan struct{}),
		subscribers: make(map[subscriber]bool),
	}
}

// Update installs cfg if it is newer than the current configuration,
// returning whether it was applied. A rejected update is logged at debug
// level, not treated as an error: stale or duplicate pushes are routine.
func (t *Topology) Update(cfg *Config) bool {
	logger := log.WithComponent("topology").With().Str("bucket", t.bucket).Logger()

	for {
		old := t.current.Load()
		if old != nil && !cfg.Revision.Newer(old.Revision) {
			logger.Debug().
				Uint64("current_epoch", old.Revision.Epoch).
				Uint64("current_rev", old.Revision.Rev).
				Uint64("pushed_epoch", cfg.Revision.Epoch).
				Uint64("pushed_rev", cfg.Revision.Rev).
				Msg("ignoring stale or duplicate configuration push")
			return false
		}
		if !t.current.CompareAndSwap(old, cfg) {
			continue // lost the race to a concurrent Update; re-check against the winner
		}
		break
	}

	t.once.Do(func() { close(t.ready) })

	logger.Info().
		Uint64("epoch", cfg.Revision.Epoch).
		Uint64("rev", cfg.Revision.Rev).
		Int("nodes", len(cfg.Nodes)).
		Msg("applied new cluster configuration")

	t.broadcast(cfg)
	return true
}

// Current returns the most recently applied configuration, or nil if none
// has arrived yet.
func (t *Topology) Current() *Config {
	return t.current.Load()
}

// WaitReady blocks until the first configuration arrives or ctx is done.
// This is the "configuration not available" gate: no request can be
// routed before at least one configuration has been seen.
func (t *Topology) WaitReady(ctx context.Context) error {
	if t.current.Load() != nil {
		return nil
	}
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel receiving every applied configuration from
// this point on. The channel is buffered; a push that finds a
// subscriber's buffer full is dropped for that subscriber, even if it is
// the latest one. Current always returns the latest applied
// configuration.
func (t *Topology) Subscribe() <-chan *Config {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub := make(subscriber, 4)
	t.subscribers[sub] = true
	return sub
}

// Unsubscribe stops delivery to a channel returned by Subscribe.
func (t *Topology) Unsubscribe(ch <-chan *Config) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for sub := range t.subscribers {
		if subscriber(sub) == ch {
			delete(t.subscribers, sub)
			close(sub)
			return
		}
	}
}

func (t *Topology) broadcast(cfg *Config) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for sub := range t.subscribers {
		select {
		case sub <- cfg:
		default:
			// subscriber behind, drop; it will see the next push or can
			// call Current() to resync.
		}
	}
}

// SelectEndpoint round-robins across every node exposing svc in the
// current configuration.
func (t *Topology) SelectEndpoint(svc Service) (Node, error) {
	cfg := t.current.Load()
	if cfg == nil {
		return Node{}, ErrServiceUnavailable
	}

	nodes := cfg.ServiceNodes(svc)
	if len(nodes) == 0 {
		return Node{}, ErrServiceUnavailable
	}

	counterAny, _ := t.roundRobin.LoadOrStore(svc, new(atomic.Uint64))
	counter := counterAny.(*atomic.Uint64)
	idx := counter.Add(1) - 1

	return nodes[idx%uint64(len(nodes))], nil
}
