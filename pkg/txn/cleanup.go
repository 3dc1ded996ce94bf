package txn

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"nimbusdb.io/nimbus/pkg/localstore"
	"nimbusdb.io/nimbus/pkg/log"
)

// Cleaner is the lost-transactions cleanup loop: a background sweep over
// one bucket's ATR keyspace that finishes whatever an attempt's owning
// process never got to finish itself, the same roll-forward/roll-back
// logic an online attempt applies when it meets another attempt's staged
// document in resolveConflict, just driven by a scan instead of a read.
type Cleaner struct {
	store       Store
	atr         ATRStore
	checkpoints *localstore.Store
	cfg         Config
	limiter     *rate.Limiter
	logger      zerolog.Logger
}

// NewCleaner builds a Cleaner that paces its ATR scans to at most
// scansPerSecond per second, gentle enough to run continuously alongside
// live traffic.
func NewCleaner(store Store, atr ATRStore, checkpoints *localstore.Store, cfg Config, scansPerSecond float64) *Cleaner {
	if scansPerSecond <= 0 {
		scansPerSecond = 1
	}
	return &Cleaner{
		store:       store,
		atr:         atr,
		checkpoints: checkpoints,
		cfg:         cfg.withDefaults(),
		limiter:     rate.NewLimiter(rate.Limit(scansPerSecond), 1),
		logger:      log.WithComponent("txn-cleanup"),
	}
}

// SweepBucket scans every ATR index for bucket/scope/collection once,
// resuming from the last saved checkpoint, and cleans up every expired
// attempt entry it finds. It is safe to run concurrently from multiple
// client processes: ATR updates are CAS-guarded by the underlying store,
// so two cleaners racing on the same entry simply have one of them lose
// with a CAS-mismatch-flavored error that SweepBucket logs and moves past.
func (c *Cleaner) SweepBucket(ctx context.Context, bucket, scope, collection string) error {
	start := 0
	if cp, ok, err := c.checkpoints.Load(bucket); err == nil && ok {
		start = (cp.ATRIndex + 1) % c.numATRs()
	}

	for i := 0; i < c.numATRs(); i++ {
		idx := (start + i) % c.numATRs()
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		ref := DocumentRef{Bucket: bucket, Scope: scope, Collection: collection, Key: atrKeyFromIndex(idx)}
		if err := c.sweepATR(ctx, ref); err != nil {
			c.logger.Warn().Err(err).Str("atr", ref.String()).Msg("cleanup sweep of ATR failed; will retry next pass")
		}

		if err := c.checkpoints.Save(localstore.Checkpoint{Bucket: bucket, ATRIndex: idx, ScannedAt: time.Now()}); err != nil {
			c.logger.Warn().Err(err).Msg("failed to persist cleanup checkpoint")
		}
	}
	return nil
}

func (c *Cleaner) numATRs() int {
	if c.cfg.NumATRs <= 0 {
		return NumATRs
	}
	return c.cfg.NumATRs
}

// sweepATR finishes every expired, non-terminal attempt entry recorded
// against one ATR document.
func (c *Cleaner) sweepATR(ctx context.Context, ref DocumentRef) error {
	entries, err := c.atr.ScanExpired(ctx, ref, time.Now())
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		rollForward := entry.State == ATRCommitted || entry.State == ATRCompleted
		if err := c.finishAttempt(ctx, ref, entry, rollForward); err != nil {
			c.logger.Warn().Err(err).Str("attempt_id", entry.AttemptID).Msg("failed to finish expired attempt")
			continue
		}
	}
	return nil
}

// finishAttempt replays entry's staged mutations to completion, exactly
// as the owning attempt would have in Commit/Rollback, then retires its
// ATR entry.
func (c *Cleaner) finishAttempt(ctx context.Context, atrRef DocumentRef, entry ATREntry, rollForward bool) error {
	for _, mutation := range entry.StagedMutations {
		doc, err := c.store.Get(ctx, mutation.Doc)
		if err != nil {
			if errors.Is(err, ErrDocumentNotFound) {
				continue // already cleaned up by another cleaner or the original attempt
			}
			return err
		}
		if doc.Xattr == nil || doc.Xattr.AttemptID != entry.AttemptID {
			continue // someone else already finished this document
		}

		if rollForward {
			err = c.store.Unstage(ctx, mutation, doc.CAS)
		} else if mutation.Type == OpInsert {
			err = c.store.RemoveStagedInsert(ctx, mutation.Doc, doc.CAS)
		} else {
			err = c.store.ClearXattr(ctx, mutation.Doc, doc.CAS)
		}
		if err != nil && !errors.Is(err, ErrCASMismatch) {
			return err
		}
	}

	finalState := ATRRolledBack
	if rollForward {
		finalState = ATRCompleted
	}
	if err := c.atr.UpdateState(ctx, atrRef, entry.AttemptID, finalState); err != nil {
		return err
	}
	return c.atr.Remove(ctx, atrRef, entry.AttemptID)
}
