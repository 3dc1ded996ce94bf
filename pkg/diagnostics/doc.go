// Package diagnostics synthesizes two kinds of cluster-wide reports from
// live session state: Diagnostics, a point-in-time snapshot of every
// session's connection state, and Ping, an active health probe that
// issues a no-op to each KV session and an HTTP health-check path to each
// HTTP service endpoint, measuring latency.
package diagnostics
