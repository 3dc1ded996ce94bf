package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nimbus",
			Subsystem: "client",
			Name:      "operation_duration_seconds",
			Help:      "Duration of one logical client operation, from the caller's call to its final result.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		},
		[]string{"service", "operation"},
	)

	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nimbus",
			Subsystem: "client",
			Name:      "operation_attempts_total",
			Help:      "Number of wire attempts made per operation, labeled by outcome.",
		},
		[]string{"service", "operation", "outcome"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nimbus",
			Subsystem: "client",
			Name:      "retries_total",
			Help:      "Number of retries issued, labeled by reason.",
		},
		[]string{"reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nimbus",
			Subsystem: "client",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state per endpoint: 0=closed, 1=half_open, 2=open.",
		},
		[]string{"endpoint"},
	)

	OrphanedResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nimbus",
			Subsystem: "client",
			Name:      "orphaned_responses_total",
			Help:      "Responses received for an opaque no caller was waiting on, labeled by node.",
		},
		[]string{"node"},
	)
)

func init() {
	prometheus.MustRegister(
		OperationDuration,
		AttemptsTotal,
		RetriesTotal,
		CircuitBreakerState,
		OrphanedResponsesTotal,
	)
}

// Handler exposes the registered metrics for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures one operation's duration and records it into
// OperationDuration on ObserveDuration.
type Timer struct {
	start   time.Time
	service string
	op      string
}

// NewTimer starts timing a (service, operation) pair.
func NewTimer(service, op string) *Timer {
	return &Timer{start: time.Now(), service: service, op: op}
}

// ObserveDuration records the elapsed time since NewTimer.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	OperationDuration.WithLabelValues(t.service, t.op).Observe(d.Seconds())
	return d
}
