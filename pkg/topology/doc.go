// Package topology owns the cluster configuration a bucket hands back on
// connect and on every subsequent push: the vbucket map, the per-service
// node list, and the revision that orders one configuration against the
// next. Routing (which node owns a key, which node answers a service
// request) is a pure function of the current configuration snapshot.
package topology
