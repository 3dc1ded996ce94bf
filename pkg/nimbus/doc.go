// Package nimbus is the native Go client for NimbusDB: a binary KV
// protocol over pooled sessions, collection-aware routing against a
// live cluster topology, subdocument operations, and multi-document
// ACID transactions, with HTTP-backed query integration.
//
// A typical program calls Connect to obtain a Cluster, opens a Bucket,
// and operates on a Collection:
//
//	cluster, err := nimbus.Connect(ctx, "couchbase://localhost", nimbus.ClusterOptions{
//		Username: "user", Password: "pass",
//	})
//	bucket, err := cluster.Bucket(ctx, "default")
//	coll := bucket.DefaultCollection()
//	_, err = coll.Upsert(ctx, "doc-1", nimbus.NewJSONValue(body), 0)
//
// Classified failures are *Error, carrying a caller-facing Kind and an
// operation-appropriate Context; use IsKind to classify them. Some
// failures (for example a malformed connection string or a transport
// error) are returned as plain errors that carry no Kind.
package nimbus
