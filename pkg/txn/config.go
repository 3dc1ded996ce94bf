package txn

import (
	"time"

	"nimbusdb.io/nimbus/pkg/wire"
)

// Config tunes one transaction attempt: durability, expiry, and where its
// ATR documents live.
type Config struct {
	Durability wire.DurabilityLevel
	// Expiry bounds the whole transaction (all attempts); default 15s,
	// max 2 minutes per spec.md §4.I.
	Expiry time.Duration
	// MetadataCollection is where ATR documents are written. Empty means
	// the default collection of the bucket the first staged mutation
	// targets.
	MetadataCollection DocumentRef
	// ScanConsistency applies to any Query call made inside the
	// transaction; default request_plus.
	ScanConsistency string
	// NumATRs overrides the default ATR key fan-out (NumATRs).
	NumATRs int
}

const (
	DefaultExpiry = 15 * time.Second
	MaxExpiry     = 2 * time.Minute
)

// withDefaults fills unset fields and clamps Expiry to MaxExpiry.
func (c Config) withDefaults() Config {
	if c.Expiry == 0 {
		c.Expiry = DefaultExpiry
	}
	if c.Expiry > MaxExpiry {
		c.Expiry = MaxExpiry
	}
	if c.ScanConsistency == "" {
		c.ScanConsistency = "request_plus"
	}
	if c.NumATRs == 0 {
		c.NumATRs = NumATRs
	}
	return c
}
