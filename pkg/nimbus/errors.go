package nimbus

import (
	"errors"
	"fmt"
)

// Kind is the caller-facing error classification (§7). It groups into
// common, key-value, query, analytics, search, transaction and network
// families; exactly one Kind is attached to every Error this package
// returns.
type Kind string

const (
	// Common
	KindInvalidArgument       Kind = "invalid_argument"
	KindUnambiguousTimeout    Kind = "unambiguous_timeout"
	KindAmbiguousTimeout      Kind = "ambiguous_timeout"
	KindRequestCanceled       Kind = "request_canceled"
	KindServiceNotAvailable   Kind = "service_not_available"
	KindInternalServerFailure Kind = "internal_server_failure"
	KindAuthenticationFailure Kind = "authentication_failure"
	KindTemporaryFailure      Kind = "temporary_failure"
	KindParsingFailure        Kind = "parsing_failure"
	KindCASMismatch           Kind = "cas_mismatch"
	KindBucketNotFound        Kind = "bucket_not_found"
	KindCollectionNotFound    Kind = "collection_not_found"
	KindScopeNotFound         Kind = "scope_not_found"
	KindIndexNotFound         Kind = "index_not_found"
	KindIndexExists           Kind = "index_exists"
	KindEncodingFailure       Kind = "encoding_failure"
	KindDecodingFailure       Kind = "decoding_failure"
	KindUnsupportedOperation  Kind = "unsupported_operation"
	KindRateLimited           Kind = "rate_limited"
	KindQuotaLimited          Kind = "quota_limited"
	KindFeatureNotAvailable   Kind = "feature_not_available"

	// Key-value
	KindDocumentNotFound           Kind = "document_not_found"
	KindDocumentUnretrievable      Kind = "document_unretrievable"
	KindDocumentLocked             Kind = "document_locked"
	KindValueTooLarge              Kind = "value_too_large"
	KindDocumentExists             Kind = "document_exists"
	KindDurabilityLevelNotAvailable Kind = "durability_level_not_available"
	KindDurabilityImpossible       Kind = "durability_impossible"
	KindDurabilityAmbiguous        Kind = "durability_ambiguous"
	KindDurableWriteInProgress     Kind = "durable_write_in_progress"
	KindDurableWriteReCommitInProgress Kind = "durable_write_re_commit_in_progress"
	KindPathNotFound               Kind = "path_not_found"
	KindPathMismatch               Kind = "path_mismatch"
	KindPathInvalid                Kind = "path_invalid"
	KindPathTooBig                 Kind = "path_too_big"
	KindPathTooDeep                Kind = "path_too_deep"
	KindValueTooDeep               Kind = "value_too_deep"
	KindValueInvalid               Kind = "value_invalid"
	KindDocumentNotJSON             Kind = "document_not_json"
	KindNumberTooBig                Kind = "number_too_big"
	KindDeltaInvalid                Kind = "delta_invalid"
	KindPathExists                  Kind = "path_exists"

	// Query / analytics / search
	KindPlanningFailure          Kind = "planning_failure"
	KindIndexFailure             Kind = "index_failure"
	KindPreparedStatementFailure Kind = "prepared_statement_failure"
	KindDMLFailure               Kind = "dml_failure"
	KindCompilationFailure       Kind = "compilation_failure"
	KindJobQueueFull             Kind = "job_queue_full"
	KindIndexNotReady            Kind = "index_not_ready"
	KindConsistencyMismatch      Kind = "consistency_mismatch"

	// Transaction
	KindTransactionFailed           Kind = "transaction_failed"
	KindTransactionExpired          Kind = "transaction_expired"
	KindTransactionCommitAmbiguous  Kind = "transaction_commit_ambiguous"
	KindTransactionFailedPostCommit Kind = "transaction_failed_post_commit"

	// Network
	KindResolveFailure           Kind = "resolve_failure"
	KindNoEndpointsLeft          Kind = "no_endpoints_left"
	KindHandshakeFailure         Kind = "handshake_failure"
	KindProtocolError            Kind = "protocol_error"
	KindConfigurationNotAvailable Kind = "configuration_not_available"
	KindClusterClosed            Kind = "cluster_closed"
	KindEndOfStream              Kind = "end_of_stream"
	KindNeedMoreData             Kind = "need_more_data"
	KindOperationQueueClosed     Kind = "operation_queue_closed"
	KindOperationQueueFull       Kind = "operation_queue_full"
	KindRequestAlreadyQueued     Kind = "request_already_queued"
	KindRequestCancelled         Kind = "request_cancelled"
	KindBucketClosed             Kind = "bucket_closed"

	// Field-level encryption (surface only; no implementation in the core)
	KindGenericCryptographyFailure Kind = "generic_cryptography_failure"
	KindEncryptionFailure          Kind = "encryption_failure"
	KindDecryptionFailure          Kind = "decryption_failure"
	KindCryptoKeyNotFound          Kind = "crypto_key_not_found"
	KindInvalidCryptoKey           Kind = "invalid_crypto_key"
	KindEncrypterNotFound          Kind = "encrypter_not_found"
	KindDecrypterNotFound          Kind = "decrypter_not_found"
	KindInvalidCiphertext          Kind = "invalid_ciphertext"
)

// Context is a structured, operation-appropriate error context. KVContext
// and HTTPContext are the two concrete shapes this package produces;
// callers type-switch on the interface when they need the detail.
type Context interface {
	isErrorContext()
}

// KVContext is attached to errors from a binary-protocol operation.
type KVContext struct {
	Bucket        string
	Scope         string
	Collection    string
	Key           string
	Opaque        uint32
	CAS           uint64
	Status        string
	ServerErrorRef string
	RetryAttempts int
	RetryReasons  []string
	DispatchedFrom string
	DispatchedTo   string
}

func (KVContext) isErrorContext() {}

// HTTPContext is attached to errors from a query/search/analytics/views/
// management HTTP operation.
type HTTPContext struct {
	Method          string
	Path            string
	StatusCode      int
	Body            string
	ClientContextID string
	DispatchedFrom  string
	DispatchedTo    string
	RetryAttempts   int
	RetryReasons    []string
}

func (HTTPContext) isErrorContext() {}

// Error is the error type this package returns for classified failures:
// a Kind, a human message, an optional wrapped cause, and an optional
// structured Context. Unclassified failures are returned as plain errors.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context Context
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("nimbus: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("nimbus: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no cause or context.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error from kind, message and an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithContext returns a copy of e with ctx attached.
func (e *Error) WithContext(ctx Context) *Error {
	cp := *e
	cp.Context = ctx
	return &cp
}

// IsKind reports whether err is (or wraps) an *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
