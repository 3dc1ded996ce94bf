// Package httppool keeps a pooled keep-alive HTTP client per (service,
// node), used by every service reached over HTTP: query, search,
// analytics, views, management and eventing. It exposes a row-by-row
// reader for the query/search/analytics services' large top-level
// results/hits JSON array, so a caller never has to buffer an entire
// response in memory.
package httppool
