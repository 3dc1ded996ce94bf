// Package breaker implements a per-endpoint circuit breaker: closed,
// open, and half-open states over a rolling window of recent outcomes,
// protecting a failing node from being hammered with requests it cannot
// serve while still periodically probing for recovery.
package breaker
