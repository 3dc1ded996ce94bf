package txn

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"nimbusdb.io/nimbus/pkg/log"
)

// Logic is the caller's transaction body: it receives one Attempt per
// try and returns nil for success or an error to abort this attempt.
// Logic-returned errors that are not already an *OperationFailed are
// wrapped as a non-retriable failure — the engine cannot tell whether an
// arbitrary error means "retry" or "give up", so it defaults to giving up
// rather than looping forever on a bug in the caller's closure.
type Logic func(ctx context.Context, attempt *Attempt) error

// Manager runs transactions against one Store/ATRStore pair, the
// transactional counterpart of a bucket handle: it has no per-call state
// of its own beyond the defaults new attempts are built with.
type Manager struct {
	store Store
	atr   ATRStore
	cfg   Config
}

// NewManager builds a Manager using cfg as the default for every Run call
// that doesn't override it.
func NewManager(store Store, atr ATRStore, cfg Config) *Manager {
	return &Manager{store: store, atr: atr, cfg: cfg.withDefaults()}
}

// Run executes logic inside a transaction, retrying the whole
// transaction (a fresh attempt each time) until it commits, a terminal
// failure occurs, or the transaction's overall expiry passes.
func (m *Manager) Run(ctx context.Context, logic Logic) error {
	return m.RunWithConfig(ctx, m.cfg, logic)
}

// RunWithConfig is Run with a per-call Config override.
func (m *Manager) RunWithConfig(ctx context.Context, cfg Config, logic Logic) error {
	cfg = cfg.withDefaults()
	txnID := uuid.NewString()
	deadline := time.Now().Add(cfg.Expiry)
	logger := log.WithComponent("txn").With().Str("txn_id", txnID).Logger()

	for attemptNum := 0; ; attemptNum++ {
		if time.Now().After(deadline) {
			return &TransactionError{Final: FinalExpired, Cause: context.DeadlineExceeded}
		}

		attempt := newAttempt(txnID, deadline, cfg, m.store, m.atr)
		logger.Debug().Int("attempt_num", attemptNum).Str("attempt_id", attempt.ID()).Msg("starting transaction attempt")

		final, err := m.runOneAttempt(ctx, attempt, logic)
		if err == nil {
			logger.Info().Int("attempts", attemptNum+1).Msg("transaction committed")
			return nil
		}

		var opFailed *OperationFailed
		if errors.As(err, &opFailed) && opFailed.Retry && !time.Now().After(deadline) {
			logger.Debug().Err(err).Msg("transaction attempt failed; retrying")
			continue
		}

		return &TransactionError{Final: final, Cause: err}
	}
}

// runOneAttempt drives logic against attempt, rolling back on any
// failure and classifying the result's FinalKind.
func (m *Manager) runOneAttempt(ctx context.Context, attempt *Attempt, logic Logic) (FinalKind, error) {
	logicErr := logic(ctx, attempt)

	if logicErr == nil {
		if err := attempt.Commit(ctx); err != nil {
			var opFailed *OperationFailed
			final := FinalFailed
			if errors.As(err, &opFailed) {
				final = opFailed.Final
			}
			if final != FinalCommitAmbiguous {
				m.rollbackBestEffort(ctx, attempt)
			}
			return final, err
		}
		return 0, nil
	}

	var opFailed *OperationFailed
	final := FinalFailed
	if errors.As(logicErr, &opFailed) {
		final = opFailed.Final
		if opFailed.Rollback {
			m.rollbackBestEffort(ctx, attempt)
		}
		return final, opFailed
	}

	// Logic returned a plain error: treat as a non-retriable failure,
	// still rolling back whatever this attempt staged.
	m.rollbackBestEffort(ctx, attempt)
	return FinalFailed, newOperationFailed(logicErr, false, false, FinalFailed)
}

func (m *Manager) rollbackBestEffort(ctx context.Context, attempt *Attempt) {
	if attempt.State().Terminal() {
		return
	}
	if err := attempt.Rollback(ctx); err != nil {
		log.WithComponent("txn").Warn().
			Str("attempt_id", attempt.ID()).
			Err(err).
			Msg("rollback after failed attempt did not complete; lost-transactions cleanup will finish it")
	}
}
