package nimbus

import (
	"time"

	"nimbusdb.io/nimbus/pkg/diagnostics"
)

// MutationToken identifies a point in a bucket's change stream produced
// by a successful mutation (§3); a zero-value token (VbucketUUID == 0)
// means the server didn't return one (mutation tokens disabled, or the
// operation doesn't produce one).
type MutationToken struct {
	VbucketUUID uint64
	SeqNo       uint64
	VbucketID   uint16
	BucketName  string
}

// IsZero reports whether t carries no real token.
func (t MutationToken) IsZero() bool { return t.VbucketUUID == 0 && t.SeqNo == 0 }

// GetResult is the outcome of a successful document retrieval.
type GetResult struct {
	Value EncodedValue
	CAS   uint64
	Expiry time.Time // zero if the document has no TTL or the server didn't report one
}

// MutationResult is the outcome of a successful insert/upsert/replace/
// remove/touch.
type MutationResult struct {
	CAS           uint64
	MutationToken MutationToken
}

// ExistsResult is the outcome of an existence check without fetching the
// document body.
type ExistsResult struct {
	Exists bool
	CAS    uint64
}

// SubdocFieldResult is one path's outcome inside a multi-path subdoc
// call. Status carries that path's own error kind (§7 "fields[i].ec");
// the overall call can still succeed with some paths failed.
type SubdocFieldResult struct {
	Path   string
	Value  []byte // lookup only; nil for mutate-in or a failed lookup
	Status Kind
}

// LookupInResult is the outcome of a multi-path subdoc lookup_in.
type LookupInResult struct {
	CAS    uint64
	Fields []SubdocFieldResult
}

// MutateInResult is the outcome of a multi-path subdoc mutate_in.
type MutateInResult struct {
	MutationResult
	Fields []SubdocFieldResult
}

// QueryMetrics is the subset of a query/analytics/search service's
// response metadata this package surfaces without interpreting the
// query language itself.
type QueryMetrics struct {
	ElapsedTime   time.Duration
	ExecutionTime time.Duration
	ResultCount   int
	ErrorCount    int
}

// QueryResult wraps an httppool.RowStream with decoded metadata, once
// the stream has been fully drained.
type QueryResult struct {
	ClientContextID string
	Metrics         QueryMetrics
	Warnings        []string
}

// DiagnosticsReport and PingReport (§4.J) are owned by pkg/diagnostics,
// which has no socket of its own; they're aliased here so a caller that
// only imports this package never needs the diagnostics import itself.
type DiagnosticsReport = diagnostics.DiagnosticsReport
type PingReport = diagnostics.PingReport

