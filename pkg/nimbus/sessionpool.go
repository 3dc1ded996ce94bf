package nimbus

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"nimbusdb.io/nimbus/pkg/breaker"
	"nimbusdb.io/nimbus/pkg/log"
	"nimbusdb.io/nimbus/pkg/session"
)

// sessionPool owns one binary Session per KV node address for a single
// bucket, lazily connecting on first use and dialing a replacement once
// the cached session reports a non-Ready state; drop closes and discards
// a session after a socket-level failure.
type sessionPool struct {
	bucket   string
	username string
	password string
	tlsCfg   *tls.Config
	timeout  time.Duration

	mu       sync.Mutex
	sessions map[string]*session.Session
	breakers map[string]*breaker.Breaker
	breakerCfg breaker.Config
}

func newSessionPool(bucket, username, password string, tlsCfg *tls.Config, timeout time.Duration, breakerCfg breaker.Config) *sessionPool {
	return &sessionPool{
		bucket:     bucket,
		username:   username,
		password:   password,
		tlsCfg:     tlsCfg,
		timeout:    timeout,
		sessions:   make(map[string]*session.Session),
		breakers:   make(map[string]*breaker.Breaker),
		breakerCfg: breakerCfg,
	}
}

// acquire returns a Ready session for addr, dialing a new one if none
// exists yet or the cached one is no longer usable.
func (p *sessionPool) acquire(ctx context.Context, addr string) (*session.Session, error) {
	p.mu.Lock()
	sess, ok := p.sessions[addr]
	p.mu.Unlock()

	if ok && sess.State() == session.Ready {
		return sess, nil
	}

	cfg := session.Config{
		Address:     addr,
		TLSConfig:   p.tlsCfg,
		Username:    p.username,
		Password:    p.password,
		Bucket:      p.bucket,
		DialTimeout: p.timeout,
		ClientName:  "nimbus-go",
	}
	sess = session.New(cfg)
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := sess.Connect(dialCtx); err != nil {
		return nil, fmt.Errorf("nimbus: connect %s: %w", addr, err)
	}

	p.mu.Lock()
	p.sessions[addr] = sess
	p.mu.Unlock()
	return sess, nil
}

// breakerFor returns (creating if needed) the circuit breaker tracking
// addr's recent outcomes.
func (p *sessionPool) breakerFor(addr string) *breaker.Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.breakers[addr]
	if !ok {
		b = breaker.New(addr, p.breakerCfg)
		p.breakers[addr] = b
	}
	return b
}

// drop removes addr's cached session (closing it) so the next acquire
// dials fresh; called after a socket-level failure.
func (p *sessionPool) drop(addr string) {
	p.mu.Lock()
	sess, ok := p.sessions[addr]
	delete(p.sessions, addr)
	p.mu.Unlock()
	if ok {
		if err := sess.Close(); err != nil {
			log.WithComponent("nimbus").Debug().Str("node", addr).Err(err).Msg("error closing dropped session")
		}
	}
}

// snapshots returns a diagnostics-ready view of every currently pooled
// session.
func (p *sessionPool) snapshots() []sessionSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]sessionSnapshot, 0, len(p.sessions))
	for addr, sess := range p.sessions {
		out = append(out, sessionSnapshot{addr: addr, session: sess})
	}
	return out
}

func (p *sessionPool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, sess := range p.sessions {
		sess.Close()
		delete(p.sessions, addr)
	}
}

type sessionSnapshot struct {
	addr    string
	session *session.Session
}
