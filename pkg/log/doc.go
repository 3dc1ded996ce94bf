// Package log provides the structured logger shared by every client
// component (wire, session, topology, retry, txn, ...). It is a thin
// wrapper over zerolog: a global Logger plus a handful of WithX helpers
// that tag a child logger with the entity the surrounding code is acting
// on (component, bucket, node, attempt id), so attempt/cleanup/session
// logs can be correlated without each package inventing its own fields.
package log
