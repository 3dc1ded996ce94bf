package breaker

import (
	"sync"
	"time"

	"nimbusdb.io/nimbus/pkg/log"
	"nimbusdb.io/nimbus/pkg/observability"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes a Breaker's trip and recovery behavior.
type Config struct {
	// VolumeThreshold is the minimum number of outcomes in the rolling
	// window before the error rate is even considered.
	VolumeThreshold int
	// ErrorThresholdPercent trips the breaker once the window's error
	// rate meets or exceeds this percentage.
	ErrorThresholdPercent float64
	// Window is how far back outcomes are counted.
	Window time.Duration
	// BucketCount divides Window into this many rolling buckets.
	BucketCount int
	// SleepWindow is how long the breaker stays Open before allowing a
	// single half-open probe.
	SleepWindow time.Duration
	// HalfOpenMaxProbes bounds concurrent probes while half-open.
	HalfOpenMaxProbes int
}

// DefaultConfig matches the conservative defaults used across the rest of
// the client: don't trip on a handful of requests, recover cautiously.
func DefaultConfig() Config {
	return Config{
		VolumeThreshold:       20,
		ErrorThresholdPercent: 50,
		Window:                10 * time.Second,
		BucketCount:           10,
		SleepWindow:           5 * time.Second,
		HalfOpenMaxProbes:     1,
	}
}

type bucket struct {
	total, failures int
	startedAt       time.Time
}

// Breaker tracks one endpoint's recent outcomes and gates whether new
// requests are allowed through.
type Breaker struct {
	cfg  Config
	name string

	mu       sync.Mutex
	state    State
	buckets  []bucket
	openedAt time.Time

	halfOpenInFlight int
}

// New creates a Breaker named name (used only in log lines) with cfg.
func New(name string, cfg Config) *Breaker {
	if cfg.BucketCount <= 0 {
		cfg.BucketCount = 1
	}
	b := &Breaker{
		cfg:     cfg,
		name:    name,
		state:   Closed,
		buckets: make([]bucket, cfg.BucketCount),
	}
	b.reportState()
	return b
}

// reportState publishes b.state to the circuit_breaker_state gauge using
// the metric's own 0=closed/1=half_open/2=open encoding, which does not
// match State's iota order.
func (b *Breaker) reportState() {
	var v float64
	switch b.state {
	case Closed:
		v = 0
	case HalfOpen:
		v = 1
	case Open:
		v = 2
	}
	observability.CircuitBreakerState.WithLabelValues(b.name).Set(v)
}

func (b *Breaker) bucketDuration() time.Duration {
	return b.cfg.Window / time.Duration(b.cfg.BucketCount)
}

// currentBucket returns the bucket for "now", rotating out (zeroing) any
// buckets that have aged out of the window since the last call.
func (b *Breaker) currentBucket(now time.Time) *bucket {
	bd := b.bucketDuration()
	idx := int(now.UnixNano()/int64(bd)) % len(b.buckets)
	bk := &b.buckets[idx]
	if now.Sub(bk.startedAt) >= bd {
		bk.total = 0
		bk.failures = 0
		bk.startedAt = now
	}
	return bk
}

func (b *Breaker) windowTotals(now time.Time) (total, failures int) {
	for i := range b.buckets {
		bk := &b.buckets[i]
		if !bk.startedAt.IsZero() && now.Sub(bk.startedAt) < b.cfg.Window {
			total += bk.total
			failures += bk.failures
		}
	}
	return
}

// Allow reports whether a new request may proceed. It also performs the
// Open -> HalfOpen transition once the sleep window has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case Closed:
		return true
	case Open:
		if now.Sub(b.openedAt) < b.cfg.SleepWindow {
			return false
		}
		b.state = HalfOpen
		b.halfOpenInFlight = 0
		b.reportState()
		log.WithComponent("breaker").Info().Str("endpoint", b.name).Msg("circuit breaker entering half-open probe")
		fallthrough
	case HalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxProbes {
			return false
		}
		b.halfOpenInFlight++
		return true
	}
	return true
}

// Success records a successful outcome. In HalfOpen, a success closes the
// breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	bk := b.currentBucket(now)
	bk.total++

	if b.state == HalfOpen {
		b.state = Closed
		b.resetLocked()
		b.reportState()
		log.WithComponent("breaker").Info().Str("endpoint", b.name).Msg("circuit breaker closed after successful probe")
	}
}

// Failure records a failed outcome, tripping the breaker to Open if the
// rolling error rate crosses the configured threshold, or immediately if
// a HalfOpen probe failed.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	bk := b.currentBucket(now)
	bk.total++
	bk.failures++

	if b.state == HalfOpen {
		b.trip(now)
		return
	}

	total, failures := b.windowTotals(now)
	if total < b.cfg.VolumeThreshold {
		return
	}
	errorRate := 100 * float64(failures) / float64(total)
	if errorRate >= b.cfg.ErrorThresholdPercent {
		b.trip(now)
	}
}

func (b *Breaker) trip(now time.Time) {
	if b.state == Open {
		return
	}
	b.state = Open
	b.openedAt = now
	b.reportState()
	log.WithComponent("breaker").Warn().Str("endpoint", b.name).Msg("circuit breaker tripped open")
}

func (b *Breaker) resetLocked() {
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
