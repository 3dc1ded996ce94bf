// Package retry owns the request dispatch loop: it classifies why an
// attempt failed, decides whether the configured strategy permits another
// attempt, paces retries with jittered backoff, and enforces the caller's
// overall deadline. It never talks to a socket itself; it drives an
// injected Attempt function and reasons about the error it returns.
package retry
