package retry

import (
	"context"
	"fmt"
	"time"

	"nimbusdb.io/nimbus/pkg/log"
	"nimbusdb.io/nimbus/pkg/observability"
)

// AttemptFunc performs one attempt. A nil error means success. A non-nil
// error must be accompanied by the Reason that explains it so the
// dispatcher can decide whether to retry.
type AttemptFunc func(ctx context.Context, attemptNum int) (Reason, error)

// Dispatcher drives repeated attempts of an operation under a Strategy,
// pacing retries with jittered backoff and honoring ctx's deadline. The
// (service, operation) label an operation span and the attempt/retry
// metrics; callers that don't set them just get unlabeled ones.
type Dispatcher struct {
	Strategy    Strategy
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Service     string
	Operation   string
}

// NewDispatcher builds a Dispatcher with sane default backoff bounds.
func NewDispatcher(strategy Strategy) *Dispatcher {
	return &Dispatcher{
		Strategy:    strategy,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  500 * time.Millisecond,
	}
}

// ErrDeadlineExceeded wraps the last attempt's error when ctx expires
// between attempts rather than during one, so callers can distinguish
// "we gave up waiting" from "the server said no".
type ErrDeadlineExceeded struct {
	Attempts int
	LastErr  error
}

func (e *ErrDeadlineExceeded) Error() string {
	return fmt.Sprintf("retry: deadline exceeded after %d attempt(s): %v", e.Attempts, e.LastErr)
}

func (e *ErrDeadlineExceeded) Unwrap() error { return e.LastErr }

// Run executes fn, retrying per d.Strategy and idempotent until success,
// a non-retryable failure, or ctx's deadline. It wraps the whole call in
// an operation span, each attempt in its own child span, and records
// per-attempt outcome and per-retry reason counters plus a threshold-log
// check against the total elapsed time (§4.H).
func (d *Dispatcher) Run(ctx context.Context, idempotent bool, fn AttemptFunc) (err error) {
	logger := log.WithComponent("retry")
	start := time.Now()

	ctx, span := observability.StartOperationSpan(ctx, d.Service, d.Operation)
	defer func() {
		observability.EndWithError(span, err)
		observability.ObserveThreshold(d.Service, d.Operation, time.Since(start))
	}()

	var lastErr error
	for attemptNum := 0; ; attemptNum++ {
		if cErr := ctx.Err(); cErr != nil {
			err = &ErrDeadlineExceeded{Attempts: attemptNum, LastErr: lastErr}
			return err
		}

		attemptCtx, attemptSpan := observability.StartAttemptSpan(ctx, attemptNum, d.Service)
		reason, aerr := fn(attemptCtx, attemptNum)
		observability.EndWithError(attemptSpan, aerr)

		outcome := "success"
		if aerr != nil {
			outcome = "error"
		}
		observability.AttemptsTotal.WithLabelValues(d.Service, d.Operation, outcome).Inc()

		if aerr == nil {
			return nil
		}
		lastErr = aerr

		if !d.Strategy.Allow(reason, idempotent, attemptNum) {
			logger.Debug().
				Str("reason", reason.String()).
				Int("attempt", attemptNum).
				Err(aerr).
				Msg("retry strategy declined further attempts")
			err = lastErr
			return err
		}

		observability.RetriesTotal.WithLabelValues(reason.String()).Inc()

		delay := Backoff(attemptNum, d.BaseBackoff, d.MaxBackoff)
		logger.Debug().
			Str("reason", reason.String()).
			Int("attempt", attemptNum).
			Dur("backoff", delay).
			Msg("retrying after backoff")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			err = &ErrDeadlineExceeded{Attempts: attemptNum + 1, LastErr: lastErr}
			return err
		}
	}
}
