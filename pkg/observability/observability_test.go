package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTimerRecordsDuration(t *testing.T) {
	timer := NewTimer("kv", "get")
	time.Sleep(time.Millisecond)
	d := timer.ObserveDuration()
	assert.Greater(t, d, time.Duration(0))
}

func TestOrphanReporterEvictsOldestBeyondCapacity(t *testing.T) {
	r := NewOrphanReporter(2)

	before := testutil.ToFloat64(OrphanedResponsesTotal.WithLabelValues("node-test-evict"))

	r.Report("node-test-evict", 1)
	r.Report("node-test-evict", 2)
	r.Report("node-test-evict", 3)

	after := testutil.ToFloat64(OrphanedResponsesTotal.WithLabelValues("node-test-evict"))
	assert.Equal(t, before+3, after)

	recent := r.Recent()
	assert.Len(t, recent, 2, "capacity of 2 must evict the oldest record")

	var opaques []uint32
	for _, rec := range recent {
		opaques = append(opaques, rec.Opaque)
	}
	assert.Contains(t, opaques, uint32(2))
	assert.Contains(t, opaques, uint32(3))
	assert.NotContains(t, opaques, uint32(1), "the oldest orphan record should have been evicted")
}

func TestThresholdLoggerPerServiceOverride(t *testing.T) {
	tl := NewThresholdLogger(100 * time.Millisecond)
	tl.SetThreshold("query", 10*time.Millisecond)

	// No assertions beyond "does not panic": this exercises both the
	// default and overridden threshold paths since the logger only has a
	// side effect (a log line), not a return value to assert on.
	tl.Observe("kv", "get", 5*time.Millisecond)
	tl.Observe("kv", "get", 200*time.Millisecond)
	tl.Observe("query", "select", 15*time.Millisecond)
}
