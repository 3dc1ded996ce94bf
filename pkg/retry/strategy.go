package retry

// Strategy decides, given why an attempt failed, whether the dispatch
// loop may try again.
type Strategy interface {
	Allow(reason Reason, idempotent bool, attemptNum int) bool
}

// BestEffort retries anything the reason table permits, up to
// MaxAttempts (0 means unlimited; the caller's context deadline is the
// real backstop). Always-retried reasons are allowed regardless of
// MaxAttempts.
type BestEffort struct {
	MaxAttempts int
}

func (s BestEffort) Allow(reason Reason, idempotent bool, attemptNum int) bool {
	if reason == ReasonDoNotRetry {
		return false
	}
	if reason.AlwaysRetried() {
		return true
	}
	if !idempotent && !reason.SafeForNonIdempotent() {
		return false
	}
	if s.MaxAttempts > 0 && attemptNum+1 >= s.MaxAttempts {
		return false
	}
	return true
}

// FailFast only retries the routing/connectivity reasons that are always
// retried; every application-level failure is surfaced on the first
// attempt.
type FailFast struct{}

func (FailFast) Allow(reason Reason, idempotent bool, attemptNum int) bool {
	return reason.AlwaysRetried()
}
