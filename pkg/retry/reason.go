package retry

// Reason classifies why one attempt failed, driving both whether a retry
// is allowed and how it should be paced.
type Reason int

const (
	ReasonUnknown Reason = iota
	// ReasonNotMyVbucket means the node answered but doesn't own this
	// vbucket any more; retrying (after a topology refresh) is always
	// correct regardless of strategy.
	ReasonNotMyVbucket
	// ReasonConfigNotAvailable means no cluster configuration has been
	// received yet; the caller should wait for one and retry.
	ReasonConfigNotAvailable
	// ReasonSocketNotAvailable means no session could be established to
	// the target node at all.
	ReasonSocketNotAvailable
	// ReasonSocketClosedInFlight means the session died while a request
	// was outstanding; the outcome is ambiguous for non-idempotent ops.
	ReasonSocketClosedInFlight
	// ReasonServiceNotAvailable means no node in the current topology
	// exposes the needed service.
	ReasonServiceNotAvailable
	// ReasonCircuitBreakerOpen means the endpoint's breaker is rejecting
	// requests outright.
	ReasonCircuitBreakerOpen
	// ReasonUnknownCollection means the resolved collection id was
	// rejected; the collections cache has already been invalidated by
	// the caller and a retry should re-resolve it.
	ReasonUnknownCollection
	// ReasonKVTemporaryFailure, ReasonKVLocked, ReasonKVSyncWriteInProgress
	// are application-level transient KV errors subject to the retry
	// strategy, not always retried.
	ReasonKVTemporaryFailure
	ReasonKVLocked
	ReasonKVSyncWriteInProgress
	// ReasonKVSyncWriteReCommitInProgress means a previous durable write is
	// being re-committed after ambiguity; distinct from
	// ReasonKVSyncWriteInProgress because it follows a failed sync write
	// rather than a fresh one.
	ReasonKVSyncWriteReCommitInProgress
	// ReasonErrorMapRetryNow means the server's error map flagged this
	// status code retry-now for this exact request.
	ReasonErrorMapRetryNow
	// ReasonTimeoutUnambiguous means the request definitely did not reach
	// or was definitely not actable by the server.
	ReasonTimeoutUnambiguous
	// ReasonTimeoutAmbiguous means the request may have taken effect;
	// retrying a non-idempotent op under this reason risks double
	// application.
	ReasonTimeoutAmbiguous
	// ReasonDoNotRetry means the failure is terminal by definition (e.g. a
	// plain HTTP 4xx with no specific retryable code) and must never be
	// retried under any strategy.
	ReasonDoNotRetry
	// ReasonNodeNotAvailable means the topology resolved a node for this
	// key, but that specific node exposes none of the required service's
	// endpoints, distinct from ReasonServiceNotAvailable where no node in
	// the topology exposes the service at all.
	ReasonNodeNotAvailable
	// ReasonServiceResponseCodeIndicated means an HTTP service (query,
	// analytics, search, views) returned a status code its own convention
	// marks retryable, without a more specific classification applying.
	ReasonServiceResponseCodeIndicated
	// ReasonQueryPreparedStatementFailure means the query service rejected
	// a prepared statement, usually because the underlying plan went
	// stale; re-preparing and retrying is expected to succeed.
	ReasonQueryPreparedStatementFailure
	// ReasonQueryIndexNotFound means the query service couldn't find an
	// index it needs, often transient during index build or rebalance.
	ReasonQueryIndexNotFound
	// ReasonAnalyticsTemporaryFailure means the analytics service reported
	// a transient failure, typically resource exhaustion.
	ReasonAnalyticsTemporaryFailure
	// ReasonSearchTooManyRequests means the search service is throttling
	// this client (HTTP 429).
	ReasonSearchTooManyRequests
	// ReasonViewsTemporaryFailure means the views service reported a
	// transient failure.
	ReasonViewsTemporaryFailure
	// ReasonViewsNoActivePartition means the views service has no active
	// partition for this request yet, a routing condition analogous to
	// ReasonNotMyVbucket that resolves once the view index catches up.
	ReasonViewsNoActivePartition
)

// alwaysRetried are routing/connectivity reasons retried regardless of
// the configured strategy: they are about finding the right place to ask,
// not about whether asking again is a good idea.
var alwaysRetried = map[Reason]bool{
	ReasonNotMyVbucket:           true,
	ReasonConfigNotAvailable:     true,
	ReasonSocketNotAvailable:     true,
	ReasonServiceNotAvailable:    true,
	ReasonUnknownCollection:      true,
	ReasonNodeNotAvailable:       true,
	ReasonViewsNoActivePartition: true,
}

// AlwaysRetried reports whether this reason is retried under every
// strategy, including FailFast.
func (r Reason) AlwaysRetried() bool { return alwaysRetried[r] }

// safeForNonIdempotent reports whether retrying a non-idempotent
// operation under this reason cannot cause double application, because
// the original request is known not to have reached the server (or not
// to have been actioned).
var safeForNonIdempotent = map[Reason]bool{
	ReasonNotMyVbucket:           true,
	ReasonConfigNotAvailable:     true,
	ReasonSocketNotAvailable:     true,
	ReasonServiceNotAvailable:    true,
	ReasonCircuitBreakerOpen:     true,
	ReasonUnknownCollection:      true,
	ReasonTimeoutUnambiguous:     true,
	ReasonNodeNotAvailable:       true,
	ReasonViewsNoActivePartition: true,
}

// SafeForNonIdempotent reports whether this reason is safe to retry even
// when the operation is not idempotent.
func (r Reason) SafeForNonIdempotent() bool { return safeForNonIdempotent[r] }

func (r Reason) String() string {
	switch r {
	case ReasonNotMyVbucket:
		return "not_my_vbucket"
	case ReasonConfigNotAvailable:
		return "config_not_available"
	case ReasonSocketNotAvailable:
		return "socket_not_available"
	case ReasonSocketClosedInFlight:
		return "socket_closed_in_flight"
	case ReasonServiceNotAvailable:
		return "service_not_available"
	case ReasonCircuitBreakerOpen:
		return "circuit_breaker_open"
	case ReasonUnknownCollection:
		return "unknown_collection"
	case ReasonKVTemporaryFailure:
		return "kv_temporary_failure"
	case ReasonKVLocked:
		return "kv_locked"
	case ReasonKVSyncWriteInProgress:
		return "kv_sync_write_in_progress"
	case ReasonKVSyncWriteReCommitInProgress:
		return "key_value_sync_write_re_commit_in_progress"
	case ReasonErrorMapRetryNow:
		return "error_map_retry_now"
	case ReasonTimeoutUnambiguous:
		return "timeout_unambiguous"
	case ReasonTimeoutAmbiguous:
		return "timeout_ambiguous"
	case ReasonDoNotRetry:
		return "do_not_retry"
	case ReasonNodeNotAvailable:
		return "node_not_available"
	case ReasonServiceResponseCodeIndicated:
		return "service_response_code_indicated"
	case ReasonQueryPreparedStatementFailure:
		return "query_prepared_statement_failure"
	case ReasonQueryIndexNotFound:
		return "query_index_not_found"
	case ReasonAnalyticsTemporaryFailure:
		return "analytics_temporary_failure"
	case ReasonSearchTooManyRequests:
		return "search_too_many_requests"
	case ReasonViewsTemporaryFailure:
		return "views_temporary_failure"
	case ReasonViewsNoActivePartition:
		return "views_no_active_partition"
	default:
		return "unknown"
	}
}
