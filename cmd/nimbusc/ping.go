package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"nimbusdb.io/nimbus/pkg/nimbus"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Probe every session open against the bucket and report latency",
	Args:  cobra.NoArgs,
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

		if _, err := cluster.Bucket(ctx, bucket); err != nil {
			return err
		}

		report := cluster.Ping(ctx, uuid.NewString())
		for _, r := range report.Endpoints {
			fmt.Printf("%-10s %-10s %-20s state=%-8s latency=%s\n", bucket, r.Service, r.ID, r.State, r.Latency)
		}
		return nil
	},
}
