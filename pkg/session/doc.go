// Package session owns one binary-protocol connection to one cluster
// node: its connect/auth/negotiate state machine, the SCRAM and PLAIN
// SASL mechanisms, HELLO feature negotiation, and the opaque-keyed table
// that matches a response frame back to the goroutine awaiting it. Higher
// layers (retry, topology, txn) never touch a socket directly; they go
// through a Session.
package session
