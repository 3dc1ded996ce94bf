// Package collections resolves a (bucket, scope, collection) name triple
// to the numeric collection id the wire protocol keys are prefixed with.
// Resolutions are cached and tagged with the manifest revision they were
// read under; a server unknown_collection response invalidates just that
// entry, and concurrent resolves for the same triple collapse into a
// single round trip.
package collections
