// Package localstore is a small embedded BoltDB store the transaction
// engine uses to remember, per bucket, how far the lost-transactions
// cleanup loop has scanned. Without it every client restart would rescan
// every active transaction record from the beginning.
package localstore
