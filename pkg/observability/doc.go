// Package observability centralizes the client's outward-facing signals:
// per-(service,operation) latency histograms and retry/breaker counters
// exported to Prometheus, tracing spans around each logical request and
// attempt, an orphaned-response reporter, and a slow-operation threshold
// logger.
package observability
