package observability

import (
	"time"

	"nimbusdb.io/nimbus/pkg/log"
)

// ThresholdLogger logs any operation whose duration exceeds a
// per-service threshold, the way a slow-query log flags outliers without
// drowning normal traffic in per-request logging.
type ThresholdLogger struct {
	defaultThreshold time.Duration
	perService       map[string]time.Duration
}

// NewThresholdLogger builds a logger using defaultThreshold for any
// service without an override.
func NewThresholdLogger(defaultThreshold time.Duration) *ThresholdLogger {
	return &ThresholdLogger{
		defaultThreshold: defaultThreshold,
		perService:       make(map[string]time.Duration),
	}
}

// SetThreshold overrides the threshold for one service.
func (t *ThresholdLogger) SetThreshold(service string, threshold time.Duration) {
	t.perService[service] = threshold
}

// Observe logs a warning if elapsed exceeds the threshold configured for
// service.
func (t *ThresholdLogger) Observe(service, operation string, elapsed time.Duration) {
	threshold := t.defaultThreshold
	if override, ok := t.perService[service]; ok {
		threshold = override
	}
	if threshold <= 0 || elapsed < threshold {
		return
	}

	log.WithComponent("observability").Warn().
		Str("service", service).
		Str("operation", operation).
		Dur("elapsed", elapsed).
		Dur("threshold", threshold).
		Msg("operation exceeded latency threshold")
}

// defaultThresholdLogger backs ObserveThreshold/SetThreshold so every
// caller shares one slow-operation log, mirroring the package's global
// metric vars.
var defaultThresholdLogger = NewThresholdLogger(500 * time.Millisecond)

// ObserveThreshold checks elapsed against the shared threshold logger's
// configured threshold for service; operation is only logged.
func ObserveThreshold(service, operation string, elapsed time.Duration) {
	defaultThresholdLogger.Observe(service, operation, elapsed)
}

// SetThreshold overrides the shared threshold logger's threshold for one
// service, e.g. a longer bound for analytics than for kv.
func SetThreshold(service string, threshold time.Duration) {
	defaultThresholdLogger.SetThreshold(service, threshold)
}
