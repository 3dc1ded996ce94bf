package httppool

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"nimbusdb.io/nimbus/pkg/log"
)

// Config tunes one Pool's transport and credentials. A Pool is shared by
// every request to one service on one node.
type Config struct {
	TLSConfig           *tls.Config
	Username, Password  string // basic auth; empty disables it
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	UserAgent           string
}

func (c Config) withDefaults() Config {
	if c.MaxIdleConnsPerHost == 0 {
		c.MaxIdleConnsPerHost = 8
	}
	if c.IdleConnTimeout == 0 {
		c.IdleConnTimeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "nimbus-go-client"
	}
	return c
}

// Request is one HTTP round trip a caller wants dispatched through the
// pool for service/node.
type Request struct {
	Method          string
	Path            string
	Headers         http.Header
	Body            []byte
	ClientContextID string // generated if empty
}

// Response is the pool's answer to a non-streaming Send.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// entry is the keep-alive client for one (service, node) pair.
type entry struct {
	client *http.Client
}

// Pool holds one *http.Client per (service, node), each tuned with a
// bounded number of idle keep-alive connections and a configurable idle
// recycle timeout, so a long-lived cluster handle never leaks sockets
// across topology churn.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
}

// New builds a Pool. Individual (service, node) clients are created
// lazily on first use.
func New(cfg Config) *Pool {
	return &Pool{
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*entry),
	}
}

func (p *Pool) entryFor(key string) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[key]; ok {
		return e
	}

	transport := &http.Transport{
		TLSClientConfig:     p.cfg.TLSConfig,
		MaxIdleConnsPerHost: p.cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     p.cfg.IdleConnTimeout,
	}
	e := &entry{client: &http.Client{Transport: transport}}
	p.entries[key] = e
	return e
}

// Close releases every pooled client's idle connections. In-flight
// requests are not interrupted; cancel their context instead.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		e.client.CloseIdleConnections()
		delete(p.entries, key)
	}
}

func (p *Pool) buildRequest(ctx context.Context, baseURL string, req Request) (*http.Request, error) {
	ccid := req.ClientContextID
	if ccid == "" {
		ccid = uuid.NewString()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("httppool: build request: %w", err)
	}

	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Connection", "keep-alive")
	httpReq.Header.Set("User-Agent", p.cfg.UserAgent)
	if httpReq.Header.Get("Client-Context-ID") == "" {
		httpReq.Header.Set("Client-Context-ID", ccid)
	}
	if p.cfg.Username != "" {
		httpReq.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}
	return httpReq, nil
}

// Send performs one non-streaming HTTP round trip against node for
// service, using (and lazily creating) that pair's pooled client. A
// response carrying "Connection: close", or any transport-level error,
// tears the pooled connection's keep-alive state down before the next
// use — net/http's own transport already does this per RFC, so no extra
// bookkeeping is required here beyond not caching the *http.Response.
func (p *Pool) Send(ctx context.Context, service, node, baseURL string, req Request) (*Response, error) {
	key := service + "|" + node
	e := p.entryFor(key)

	httpReq, err := p.buildRequest(ctx, baseURL, req)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("httppool")
	start := time.Now()
	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		logger.Debug().Str("service", service).Str("node", node).Err(err).Msg("http round trip failed")
		return nil, fmt.Errorf("httppool: %s %s: %w", req.Method, req.Path, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("httppool: read response body: %w", err)
	}

	logger.Debug().
		Str("service", service).
		Str("node", node).
		Int("status", httpResp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("http round trip complete")

	return &Response{StatusCode: httpResp.StatusCode, Headers: httpResp.Header, Body: body}, nil
}

// Stream performs an HTTP round trip whose response body is a large JSON
// document with a top-level array field (results/hits); it returns a
// RowStream instead of buffering the whole body.
func (p *Pool) Stream(ctx context.Context, service, node, baseURL, arrayField string, req Request) (*RowStream, error) {
	key := service + "|" + node
	e := p.entryFor(key)

	httpReq, err := p.buildRequest(ctx, baseURL, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httppool: %s %s: %w", req.Method, req.Path, err)
	}

	if httpResp.StatusCode >= 400 {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: body, Method: req.Method, Path: req.Path}
	}

	return newRowStream(httpResp.Body, arrayField)
}

// StatusError is returned by Stream when the HTTP response status
// indicates failure; callers classify StatusCode (and Body, for services
// that embed a machine-readable error code in it) into a retry reason.
type StatusError struct {
	StatusCode   int
	Body         []byte
	Method, Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httppool: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}
