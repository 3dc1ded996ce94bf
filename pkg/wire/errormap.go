package wire

import (
	"encoding/json"
	"strconv"
)

// RetryStrategy is how the server recommends spacing out retries of an
// error, as carried in the error map's retry specification.
type RetryStrategy string

const (
	RetryConstant    RetryStrategy = "constant"
	RetryLinear      RetryStrategy = "linear"
	RetryExponential RetryStrategy = "exponential"
)

// RetrySpec is the error map's per-error backoff recommendation.
type RetrySpec struct {
	Strategy    RetryStrategy `json:"strategy"`
	IntervalMS  int           `json:"interval"`
	AfterMS     int           `json:"after"`
	CeilMS      int           `json:"ceil"`
	MaxDurationMS int         `json:"max-duration"`
}

// ErrorMapEntry describes one server error code: its name, attributes
// (e.g. "retry-now", "item-only", "conn-state-invalidated") and optional
// retry spec.
type ErrorMapEntry struct {
	Name       string     `json:"name"`
	Desc       string     `json:"desc"`
	Attributes []string   `json:"attrs"`
	Retry      *RetrySpec `json:"retry,omitempty"`
}

func (e ErrorMapEntry) hasAttr(a string) bool {
	for _, x := range e.Attributes {
		if x == a {
			return true
		}
	}
	return false
}

// RetryNow reports whether the server flagged this error safe to retry
// immediately without backing off.
func (e ErrorMapEntry) RetryNow() bool { return e.hasAttr("retry-now") }

// ConnStateInvalidated reports whether this error means the session is no
// longer usable and must be torn down.
func (e ErrorMapEntry) ConnStateInvalidated() bool { return e.hasAttr("conn-state-invalidated") }

// ErrorMap is the decoded GET_ERROR_MAP response body: server-code ->
// error metadata, keyed by the error code as a lower-case hex string
// without 0x prefix or padding (the wire format's own key encoding).
type ErrorMap struct {
	Version  int                      `json:"version"`
	Revision int                      `json:"revision"`
	Errors   map[string]ErrorMapEntry `json:"errors"`
}

// DecodeErrorMap parses the JSON body returned by a GET_ERROR_MAP request.
func DecodeErrorMap(body []byte) (*ErrorMap, error) {
	var m ErrorMap
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Lookup finds the entry for a raw server status code, if the map has
// separate error-code semantics beyond the Status byte (newer protocol
// revisions report errors via the error map keyed by the same numeric
// status).
func (m *ErrorMap) Lookup(status Status) (ErrorMapEntry, bool) {
	if m == nil {
		return ErrorMapEntry{}, false
	}
	// The error map keys its entries by the hex-encoded status code,
	// without a "0x" prefix and without zero-padding.
	e, ok := m.Errors[strconv.FormatUint(uint64(status), 16)]
	return e, ok
}
