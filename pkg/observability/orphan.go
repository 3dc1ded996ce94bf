package observability

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"nimbusdb.io/nimbus/pkg/log"
)

// OrphanRecord is one response received for an opaque no caller was
// waiting on — typically because the caller already gave up (deadline,
// cancellation) before the server's answer arrived.
type OrphanRecord struct {
	Node       string
	Opaque     uint32
	ReceivedAt time.Time
}

// orphanHeap is a min-heap on ReceivedAt so the oldest record is evicted
// first once the reporter is at capacity.
type orphanHeap []OrphanRecord

func (h orphanHeap) Len() int            { return len(h) }
func (h orphanHeap) Less(i, j int) bool  { return h[i].ReceivedAt.Before(h[j].ReceivedAt) }
func (h orphanHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *orphanHeap) Push(x any)         { *h = append(*h, x.(OrphanRecord)) }
func (h *orphanHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// OrphanReporter tracks a bounded window of recent orphaned responses,
// useful for diagnosing deadlines set too aggressively relative to actual
// server latency.
type OrphanReporter struct {
	mu       sync.Mutex
	capacity int
	records  orphanHeap
}

// NewOrphanReporter creates a reporter retaining at most capacity recent
// records.
func NewOrphanReporter(capacity int) *OrphanReporter {
	return &OrphanReporter{capacity: capacity}
}

// Report records one orphaned response and increments its metric. If the
// reporter is at capacity, the oldest record is evicted.
func (r *OrphanReporter) Report(node string, opaque uint32) {
	OrphanedResponsesTotal.WithLabelValues(node).Inc()

	log.WithComponent("observability").Warn().
		Str("node", node).
		Uint32("opaque", opaque).
		Msg("orphaned response: no caller was awaiting this opaque")

	r.mu.Lock()
	defer r.mu.Unlock()

	heap.Push(&r.records, OrphanRecord{Node: node, Opaque: opaque, ReceivedAt: time.Now()})
	for r.records.Len() > r.capacity {
		heap.Pop(&r.records)
	}
}

// Recent returns a snapshot of currently retained orphan records, oldest
// first.
func (r *OrphanReporter) Recent() []OrphanRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]OrphanRecord, len(r.records))
	copy(out, r.records)
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

// defaultOrphanReporter backs the package-level ReportOrphan/RecentOrphans
// helpers so every session shares one bounded window, mirroring the
// package's global metric vars.
var defaultOrphanReporter = NewOrphanReporter(256)

// ReportOrphan records an orphaned response against the shared reporter.
func ReportOrphan(node string, opaque uint32) {
	defaultOrphanReporter.Report(node, opaque)
}

// RecentOrphans returns a snapshot of the shared reporter's retained
// records, oldest first.
func RecentOrphans() []OrphanRecord {
	return defaultOrphanReporter.Recent()
}
