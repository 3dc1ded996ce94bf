package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func tripQuickConfig() Config {
	return Config{
		VolumeThreshold:       5,
		ErrorThresholdPercent: 50,
		Window:                time.Second,
		BucketCount:           10,
		SleepWindow:           30 * time.Millisecond,
		HalfOpenMaxProbes:     1,
	}
}

func TestBreakerStartsClosedAndAllows(t *testing.T) {
	b := New("node1", tripQuickConfig())
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerTripsOnErrorRate(t *testing.T) {
	b := New("node1", tripQuickConfig())

	for i := 0; i < 3; i++ {
		b.Success()
	}
	for i := 0; i < 4; i++ {
		b.Failure()
	}

	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow(), "open breaker must reject requests before the sleep window elapses")
}

func TestBreakerStaysClosedBelowVolumeThreshold(t *testing.T) {
	b := New("node1", tripQuickConfig())

	b.Failure()
	b.Failure()

	assert.Equal(t, Closed, b.State(), "too few samples must not trip the breaker regardless of error rate")
}

func TestBreakerHalfOpensAfterSleepWindowAndCloses(t *testing.T) {
	cfg := tripQuickConfig()
	b := New("node1", cfg)

	for i := 0; i < 5; i++ {
		b.Failure()
	}
	require := assert.New(t)
	require.Equal(Open, b.State())

	time.Sleep(cfg.SleepWindow + 10*time.Millisecond)

	assert.True(t, b.Allow(), "sleep window elapsed, one probe should be allowed")
	assert.Equal(t, HalfOpen, b.State())

	b.Success()
	assert.Equal(t, Closed, b.State(), "a successful probe must close the breaker")
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := tripQuickConfig()
	b := New("node1", cfg)

	for i := 0; i < 5; i++ {
		b.Failure()
	}
	time.Sleep(cfg.SleepWindow + 10*time.Millisecond)

	assert.True(t, b.Allow())
	b.Failure()

	assert.Equal(t, Open, b.State(), "a failed probe must reopen the breaker immediately")
}

func TestBreakerLimitsHalfOpenConcurrentProbes(t *testing.T) {
	cfg := tripQuickConfig()
	cfg.HalfOpenMaxProbes = 1
	b := New("node1", cfg)

	for i := 0; i < 5; i++ {
		b.Failure()
	}
	time.Sleep(cfg.SleepWindow + 10*time.Millisecond)

	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "a second concurrent probe beyond HalfOpenMaxProbes must be rejected")
}
