package main

import (
	"context"

	"github.com/spf13/cobra"

	"nimbusdb.io/nimbus/pkg/nimbus"
)

// connectArgs resolves the persistent connection flags common to every
// subcommand into a ready-to-use Cluster and Collection, the shape every
// nimbusc-* tool in the original repository shared.
func connectArgs(cmd *cobra.Command) (ctx context.Context, cluster *nimbus.Cluster, coll *nimbus.Collection, err error) {
	connStr, _ := cmd.Flags().GetString("connstr")
	bucket, _ := cmd.Flags().GetString("bucket")
	scope, _ := cmd.Flags().GetString("scope")
	collection, _ := cmd.Flags().GetString("collection")
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")

	ctx = context.Background()
	opts := nimbus.ClusterOptions{Username: username, Password: password}

	cluster, err = nimbus.Connect(ctx, connStr, opts)
	if err != nil {
		return nil, nil, nil, err
	}

	b, err := cluster.Bucket(ctx, bucket)
	if err != nil {
		return nil, nil, nil, err
	}

	coll = b.Scope(scope).Collection(collection)
	return ctx, cluster, coll, nil
}
