package nimbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"nimbusdb.io/nimbus/pkg/httppool"
	"nimbusdb.io/nimbus/pkg/retry"
	"nimbusdb.io/nimbus/pkg/topology"
	"nimbusdb.io/nimbus/pkg/txn"
)

// Transactions is the multi-document ACID transaction engine operating
// over one bucket (§4.I). It composes the engine's Manager with a
// QueryStore so transaction logic can mix KV operations and N1QL-style
// statements under the same attempt.
type Transactions struct {
	bucket *Bucket
}

// Logic is the caller's transaction body, receiving one AttemptContext
// per try.
type Logic func(ctx context.Context, attempt *AttemptContext) error

// QueryOptions and RowIterator are re-exported from pkg/txn so a caller
// issuing a plain (non-transactional) query via Bucket.Query never needs
// to import that package itself.
type QueryOptions = txn.QueryOptions
type RowIterator = txn.RowIterator

// Query runs statement against this bucket's query service outside any
// transaction. Use AttemptContext.Query instead for a statement that
// must stage its mutations under an in-flight transaction's ATR.
func (b *Bucket) Query(ctx context.Context, statement string, opts QueryOptions) (RowIterator, error) {
	qs := &bucketQueryStore{bucket: b}
	return qs.Query(ctx, statement, opts)
}

// Run executes logic inside a transaction, retrying the whole
// transaction until it commits or a terminal failure or expiry occurs.
func (t *Transactions) Run(ctx context.Context, logic Logic) error {
	qs := &bucketQueryStore{bucket: t.bucket}
	return t.bucket.txnManager.Run(ctx, func(ctx context.Context, a *txn.Attempt) error {
		return logic(ctx, &AttemptContext{attempt: a, bucket: t.bucket, query: qs})
	})
}

// AttemptContext is the per-attempt handle Logic operates against: the
// engine's document operations, addressed by Collection rather than a
// raw DocumentRef, plus Query for statements that must be staged under
// this attempt's transactional context.
type AttemptContext struct {
	attempt *txn.Attempt
	bucket  *Bucket
	query   *bucketQueryStore
}

func ref(c *Collection, key string) txn.DocumentRef {
	return txn.DocumentRef{Bucket: c.bucket.name, Scope: c.scope, Collection: c.collection, Key: key}
}

// Get fetches a document inside this attempt's read set.
func (a *AttemptContext) Get(ctx context.Context, c *Collection, key string) (*txn.Document, error) {
	return a.attempt.Get(ctx, ref(c, key))
}

// Insert stages a new document for creation on commit.
func (a *AttemptContext) Insert(ctx context.Context, c *Collection, key string, content []byte) error {
	return a.attempt.Insert(ctx, ref(c, key), content)
}

// Replace stages a mutation to doc, previously returned by Get, for
// commit.
func (a *AttemptContext) Replace(ctx context.Context, doc *txn.Document, content []byte) error {
	return a.attempt.Replace(ctx, doc, content)
}

// Remove stages doc's removal for commit.
func (a *AttemptContext) Remove(ctx context.Context, doc *txn.Document) error {
	return a.attempt.Remove(ctx, doc)
}

// Query runs statement through the query service, tagged with this
// attempt's transactional context so its own staged mutations land under
// the same ATR (§4.I "query integration").
func (a *AttemptContext) Query(ctx context.Context, statement string, opts txn.QueryOptions) (txn.RowIterator, error) {
	opts.TxID = a.attempt.ID()
	return a.query.Query(ctx, statement, opts)
}

// bucketQueryStore implements txn.QueryStore over the query HTTP
// service, the same transport regular Bucket.Query calls use.
type bucketQueryStore struct {
	bucket *Bucket
}

type queryRequestBody struct {
	Statement       string         `json:"statement"`
	Args            []any          `json:"args,omitempty"`
	NamedArgs       map[string]any `json:"named_args,omitempty"`
	ScanConsistency string         `json:"scan_consistency,omitempty"`
	TxID            string         `json:"txid,omitempty"`
	TxTimeoutMS     int64          `json:"tximplicit_timeout,omitempty"`
}

// Query dispatches statement through retry.Dispatcher the way
// Collection.attempt dispatches KV requests: resolve an endpoint, honor its
// circuit breaker, send, classify the outcome. A query statement may be
// DML, so it is treated as non-idempotent; only the connectivity-class
// reasons (routing, breaker, node unavailability) are retried automatically.
func (s *bucketQueryStore) Query(ctx context.Context, statement string, opts txn.QueryOptions) (txn.RowIterator, error) {
	body, err := json.Marshal(queryRequestBody{
		Statement:       statement,
		Args:            opts.Positional,
		NamedArgs:       opts.Named,
		ScanConsistency: opts.ScanConsistency,
		TxID:            opts.TxID,
		TxTimeoutMS:     opts.TxTimeoutMS,
	})
	if err != nil {
		return nil, Wrap(KindEncodingFailure, "marshal query request", err)
	}

	scheme := "http"
	if s.bucket.opts.TLS != nil {
		scheme = "https"
	}

	var rs *httppool.RowStream
	d := retry.NewDispatcher(s.bucket.strategy())
	d.Service = string(topology.ServiceQuery)
	d.Operation = "query"
	err = d.Run(ctx, false, func(ctx context.Context, attemptNum int) (retry.Reason, error) {
		node, err := s.bucket.topo.SelectEndpoint(topology.ServiceQuery)
		if err != nil {
			return retry.ReasonServiceNotAvailable, err
		}
		addr, ok := node.Addr(topology.ServiceQuery)
		if !ok {
			return retry.ReasonNodeNotAvailable, fmt.Errorf("nimbus: node %s exposes no query service", node.Hostname)
		}

		br := s.bucket.cluster.breakerForHTTP(addr)
		if !br.Allow() {
			return retry.ReasonCircuitBreakerOpen, fmt.Errorf("nimbus: circuit breaker open for %s", addr)
		}

		stream, err := s.bucket.cluster.httpPool.Stream(ctx, string(topology.ServiceQuery), addr,
			fmt.Sprintf("%s://%s", scheme, addr), "results",
			httppool.Request{Method: "POST", Path: "/query/service", Body: body})
		if err != nil {
			var statusErr *httppool.StatusError
			if errors.As(err, &statusErr) {
				br.Failure()
				return classifyHTTPStatus(topology.ServiceQuery, statusErr.StatusCode, statusErr.Body), err
			}
			br.Failure()
			return retry.ReasonSocketNotAvailable, err
		}

		br.Success()
		rs = stream
		return retry.ReasonUnknown, nil
	})
	if err != nil {
		return nil, Wrap(KindPlanningFailure, "query request", err)
	}
	return &queryRowIterator{rs: rs}, nil
}

// queryErrorBody is the N1QL-style {"errors":[{"code":...}]} shape the
// query service uses to report a specific failure alongside its HTTP
// status.
type queryErrorBody struct {
	Errors []struct {
		Code int `json:"code"`
	} `json:"errors"`
}

const (
	queryErrCodePreparedStatementFailure = 4050
	queryErrCodeIndexNotFound            = 12004
)

// classifyHTTPStatus maps an HTTP service failure response to a retry
// Reason. It is shared shape across query, analytics, search and views:
// only query's prepared-statement/index-not-found body codes are parsed
// today since Query is the only HTTP-dispatched operation this package
// currently exposes, but the service-keyed branches below classify the
// other HTTP services' status codes the same way once they grow a caller.
func classifyHTTPStatus(service topology.Service, statusCode int, body []byte) retry.Reason {
	if service == topology.ServiceQuery && (statusCode == http.StatusBadRequest || statusCode == http.StatusInternalServerError) {
		var qe queryErrorBody
		if err := json.Unmarshal(body, &qe); err == nil {
			for _, e := range qe.Errors {
				switch e.Code {
				case queryErrCodePreparedStatementFailure:
					return retry.ReasonQueryPreparedStatementFailure
				case queryErrCodeIndexNotFound:
					return retry.ReasonQueryIndexNotFound
				}
			}
		}
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		if service == topology.ServiceSearch {
			return retry.ReasonSearchTooManyRequests
		}
		return retry.ReasonServiceResponseCodeIndicated
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		switch service {
		case topology.ServiceAnalytics:
			return retry.ReasonAnalyticsTemporaryFailure
		case topology.ServiceViews:
			return retry.ReasonViewsTemporaryFailure
		default:
			return retry.ReasonServiceResponseCodeIndicated
		}
	case http.StatusNotFound:
		if service == topology.ServiceViews {
			return retry.ReasonViewsNoActivePartition
		}
	}

	if statusCode >= 400 && statusCode < 500 {
		return retry.ReasonDoNotRetry
	}
	return retry.ReasonServiceResponseCodeIndicated
}

// queryRowIterator adapts httppool.RowStream to txn.RowIterator.
type queryRowIterator struct {
	rs  *httppool.RowStream
	err error
}

func (it *queryRowIterator) Next() ([]byte, bool) {
	row, err := it.rs.NextRow()
	if err != nil {
		if err != httppool.ErrStreamEnd {
			it.err = err
		}
		return nil, false
	}
	return row, true
}

func (it *queryRowIterator) Err() error   { return it.err }
func (it *queryRowIterator) Close() error { return it.rs.Close() }
