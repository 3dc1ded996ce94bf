package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"nimbusdb.io/nimbus/pkg/nimbus"
)

var queryCmd = &cobra.Command{
	Use:   "query <statement>",
	Short: "Run a N1QL-style statement against the query service and print each result row",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connStr, _ := cmd.Flags().GetString("connstr")
		bucket, _ := cmd.Flags().GetString("bucket")
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")

		ctx := context.Background()
		cluster, err := nimbus.Connect(ctx, connStr, nimbus.ClusterOptions{Username: username, Password: password})
		if err != nil {
			return err
		}
		defer cluster.Close()

		b, err := cluster.Bucket(ctx, bucket)
		if err != nil {
			return err
		}

		rows, err := b.Query(ctx, args[0], nimbus.QueryOptions{ScanConsistency: "request_plus"})
		if err != nil {
			return err
		}
		defer rows.Close()

		n := 0
		for {
			row, ok := rows.Next()
			if !ok {
				break
			}
			fmt.Println(string(row))
			n++
		}
		if err := rows.Err(); err != nil {
			return err
		}
		fmt.Printf("%d row(s)\n", n)
		return nil
	},
}
